package static

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter wraps h in a gin engine that routes GET and HEAD for every path,
// answers other methods with 405 and turns handler panics into a 500.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(h.observe())
	router.Use(gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		h.logger.Error("panic while serving request",
			"path", c.Request.URL.Path,
			"panic", recovered)
		c.Data(http.StatusInternalServerError, textPlain, []byte(BodyInternalError))
		c.Abort()
	}))

	serve := gin.WrapH(h)
	router.GET("/*filepath", serve)
	router.HEAD("/*filepath", serve)

	router.NoMethod(func(c *gin.Context) {
		c.Data(http.StatusMethodNotAllowed, textPlain, []byte(BodyMethodNotAllowed))
	})
	router.NoRoute(func(c *gin.Context) {
		c.Data(http.StatusNotFound, textPlain, []byte(BodyNotFound))
	})

	return router
}

// observe logs each request and reports it to the observer.
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		h.observer.StaticRequest(status, elapsed)
		h.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", elapsed)
	}
}
