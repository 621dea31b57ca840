package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Session is the on-disk record of a running launcher.
type Session struct {
	ID         string    `yaml:"session_id"`
	PID        int       `yaml:"pid"`
	BackendPID int       `yaml:"backend_pid"`
	RPCPort    uint16    `yaml:"rpc_port"`
	UIPort     uint16    `yaml:"ui_port"`
	Root       string    `yaml:"root"`
	URL        string    `yaml:"url"`
	StartedAt  time.Time `yaml:"started_at"`
}

// NewSession creates a Session with a fresh id for the current process.
func NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// WriteSession stores s at path, replacing any previous record.
func WriteSession(path string, s *Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// ReadSession loads the record at path.
func ReadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return &s, nil
}

// RemoveSession deletes the record at path if it still belongs to id, so a
// newer launcher's record is left alone.
func RemoveSession(path, id string) error {
	s, err := ReadSession(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if s.ID != id {
		return nil
	}
	return os.Remove(path)
}
