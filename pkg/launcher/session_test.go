package launcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s := NewSession()

	_, err := uuid.Parse(s.ID)
	assert.NoError(t, err, "session id must be a uuid")
	assert.Equal(t, os.Getpid(), s.PID)
	assert.False(t, s.StartedAt.IsZero())
	assert.NotEqual(t, s.ID, NewSession().ID)
}

func TestWriteReadSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")

	s := NewSession()
	s.BackendPID = 4242
	s.RPCPort = 20001
	s.UIPort = 20000
	s.Root = "/opt/trace"
	s.URL = "http://localhost:20000/?rpc_port=20001"

	require.NoError(t, WriteSession(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session_id: "+s.ID)
	assert.Contains(t, string(data), "rpc_port: 20001")

	got, err := ReadSession(path)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.BackendPID, got.BackendPID)
	assert.Equal(t, s.URL, got.URL)
	assert.True(t, s.StartedAt.Equal(got.StartedAt))
}

func TestReadSession_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc_port: [not a port"), 0o644))

	_, err := ReadSession(path)
	assert.Error(t, err)
}

func TestRemoveSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	s := NewSession()
	require.NoError(t, WriteSession(path, s))

	t.Run("other owner is left alone", func(t *testing.T) {
		require.NoError(t, RemoveSession(path, "someone-else"))
		_, err := os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("owner removes", func(t *testing.T) {
		require.NoError(t, RemoveSession(path, s.ID))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing file is fine", func(t *testing.T) {
		assert.NoError(t, RemoveSession(path, s.ID))
	})
}
