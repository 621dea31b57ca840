package static

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const textPlain = "text/plain; charset=utf-8"

// Response bodies for failed requests.
const (
	BodyNotFound         = "Not Found"
	BodyForbidden        = "Forbidden"
	BodyInternalError    = "Internal Error"
	BodyMethodNotAllowed = "Method Not Allowed"
)

// Observer receives one call per served request.
type Observer interface {
	StaticRequest(status int, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) StaticRequest(int, time.Duration) {}

// Response is the outcome of serving a single request path.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Handler serves files below a fixed root directory.
type Handler struct {
	root     string
	entry    string
	observer Observer
	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEntry sets the file served for "/".
func WithEntry(name string) HandlerOption {
	return func(h *Handler) {
		if name != "" {
			h.entry = name
		}
	}
}

// WithObserver sets the request observer.
func WithObserver(o Observer) HandlerOption {
	return func(h *Handler) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a Handler serving root.
func NewHandler(root string, opts ...HandlerOption) *Handler {
	h := &Handler{
		root:     root,
		entry:    IndexFile,
		observer: noopObserver{},
		logger:   slog.Default(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "static")
	return h
}

// Root returns the directory being served.
func (h *Handler) Root() string {
	return h.root
}

// Respond resolves a raw request target and loads the file it names. Any
// query string is ignored.
func (h *Handler) Respond(requestTarget string) Response {
	if i := strings.IndexByte(requestTarget, '?'); i >= 0 {
		requestTarget = requestTarget[:i]
	}
	return h.respond(requestTarget)
}

// respond serves a decoded URL path, which net/http has already separated
// from the query.
func (h *Handler) respond(requestPath string) Response {
	path, err := resolvePath(h.root, requestPath, h.entry)
	if err != nil {
		switch {
		case errors.Is(err, ErrForbidden):
			h.logger.Warn("rejected request outside root", "path", requestPath, "error", err)
			return textResponse(http.StatusForbidden, BodyForbidden)
		case errors.Is(err, ErrInternal):
			h.logger.Error("cannot resolve root", "root", h.root, "error", err)
			return textResponse(http.StatusInternalServerError, BodyInternalError)
		default:
			h.logger.Debug("file not found", "path", requestPath, "error", err)
			return textResponse(http.StatusNotFound, BodyNotFound)
		}
	}

	body, err := h.readFile(path)
	if err != nil {
		h.logger.Debug("cannot read file", "path", path, "error", err)
		return textResponse(http.StatusNotFound, BodyNotFound)
	}

	return Response{
		Status:      http.StatusOK,
		ContentType: ContentType(path),
		Body:        body,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.respond(r.URL.Path))
}

func writeResponse(w http.ResponseWriter, resp Response) {
	header := w.Header()
	header.Set("Content-Type", resp.ContentType)
	if resp.Status == http.StatusOK {
		header.Set("Access-Control-Allow-Origin", "*")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func textResponse(status int, body string) Response {
	return Response{
		Status:      status,
		ContentType: textPlain,
		Body:        []byte(body),
	}
}
