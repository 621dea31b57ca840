package static

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	statuses []int
}

func (r *recordingObserver) StaticRequest(status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingObserver) all() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.statuses...)
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRespond_ServesFileBytes(t *testing.T) {
	root, _ := layout(t)
	h := NewHandler(root)

	resp := h.Respond("/app.js")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/javascript; charset=utf-8", resp.ContentType)
	assert.Equal(t, []byte("console.log(1)"), resp.Body)
}

func TestRespond_ErrorMapping(t *testing.T) {
	root, _ := layout(t)
	h := NewHandler(root)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/missing.js", http.StatusNotFound, BodyNotFound},
		{"/../secret.txt", http.StatusForbidden, BodyForbidden},
		{"/../dist-evil/secret.txt", http.StatusForbidden, BodyForbidden},
		// A directory resolves inside the root but cannot be read as a file.
		{"/assets", http.StatusNotFound, BodyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := h.Respond(tt.path)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, textPlain, resp.ContentType)
			assert.Equal(t, tt.body, string(resp.Body))
		})
	}
}

func TestRespond_CustomEntry(t *testing.T) {
	root, _ := layout(t)
	writeFile(t, filepath.Join(root, "ui.html"), "<html>custom</html>")

	resp := NewHandler(root, WithEntry("ui.html")).Respond("/")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "<html>custom</html>", string(resp.Body))
}

func TestRouter_ServesFileWithCORS(t *testing.T) {
	root, _ := layout(t)
	router := NewRouter(NewHandler(root))

	rec := serve(t, router, http.MethodGet, "/assets/style.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RootEqualsIndex(t *testing.T) {
	root, _ := layout(t)
	router := NewRouter(NewHandler(root))

	slash := serve(t, router, http.MethodGet, "/")
	index := serve(t, router, http.MethodGet, "/index.html")

	require.Equal(t, http.StatusOK, slash.Code)
	assert.Equal(t, index.Code, slash.Code)
	assert.Equal(t, index.Body.Bytes(), slash.Body.Bytes())
	assert.Equal(t, index.Header().Get("Content-Type"), slash.Header().Get("Content-Type"))
}

func TestRouter_QueryStringIgnored(t *testing.T) {
	root, _ := layout(t)
	router := NewRouter(NewHandler(root))

	plain := serve(t, router, http.MethodGet, "/app.js")
	withQuery := serve(t, router, http.MethodGet, "/app.js?v=42&x=y")

	require.Equal(t, http.StatusOK, withQuery.Code)
	assert.Equal(t, plain.Body.Bytes(), withQuery.Body.Bytes())
}

func TestRouter_EncodedQuestionMarkIsPartOfPath(t *testing.T) {
	root, _ := layout(t)
	router := NewRouter(NewHandler(root))

	rec := serve(t, router, http.MethodGet, "/app.js%3Fv=2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	if runtime.GOOS == "windows" {
		return
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "odd?name.js"), []byte("odd()"), 0o644))

	rec = serve(t, router, http.MethodGet, "/odd%3Fname.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "odd()", rec.Body.String())
}

func TestRespond_StripsQueryFromTarget(t *testing.T) {
	root, _ := layout(t)
	h := NewHandler(root)

	assert.Equal(t, http.StatusOK, h.Respond("/app.js?v=2").Status)
	assert.Equal(t, h.Respond("/").Body, h.Respond("/?rpc_port=10001").Body)
}

func TestRouter_TraversalIsForbidden(t *testing.T) {
	root, _ := layout(t)
	router := NewRouter(NewHandler(root))

	rec := serve(t, router, http.MethodGet, "/../secret.txt")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, BodyForbidden, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotContains(t, rec.Body.String(), "top secret")
}

func TestRouter_UnknownExtensionIsOctetStream(t *testing.T) {
	root, _ := layout(t)
	writeFile(t, filepath.Join(root, "engine.bin"), "\x00\x01\x02")
	router := NewRouter(NewHandler(root))

	rec := serve(t, router, http.MethodGet, "/engine.bin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0, 1, 2}, rec.Body.Bytes())
}

func TestRouter_HeadIsRouted(t *testing.T) {
	root, _ := layout(t)
	router := NewRouter(NewHandler(root))

	rec := serve(t, router, http.MethodHead, "/index.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestRouter_OtherMethodsNotAllowed(t *testing.T) {
	root, _ := layout(t)
	router := NewRouter(NewHandler(root))

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			rec := serve(t, router, method, "/index.html")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, BodyMethodNotAllowed, rec.Body.String())
		})
	}
}

func TestRouter_PanicBecomesInternalError(t *testing.T) {
	root, _ := layout(t)
	obs := &recordingObserver{}
	h := NewHandler(root, WithObserver(obs))
	h.readFile = func(string) ([]byte, error) { panic("disk on fire") }
	router := NewRouter(h)

	rec := serve(t, router, http.MethodGet, "/app.js")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, BodyInternalError, rec.Body.String())

	// The router keeps serving after a panic.
	h.readFile = os.ReadFile
	rec = serve(t, router, http.MethodGet, "/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []int{http.StatusInternalServerError, http.StatusOK}, obs.all())
}

func TestRouter_ConcurrentRequests(t *testing.T) {
	root, _ := layout(t)
	obs := &recordingObserver{}
	router := NewRouter(NewHandler(root, WithObserver(obs)))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	assert.Len(t, obs.all(), 16)
}

func TestRouter_RealServer(t *testing.T) {
	root, _ := layout(t)
	srv := httptest.NewServer(NewRouter(NewHandler(root)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?rpc_port=10001")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
