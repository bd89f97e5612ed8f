package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/wallethub/auth"
	"github.com/layer-3/wallethub/core"
)

// RequestAuth creates middleware that runs the full request authenticator:
// shared secret, body size, rate limit and wallet signature. The raw body is
// read once here and restored for the route handler.
func RequestAuth(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		req := &auth.Request{
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Header:     c.Request.Header,
			Body:       body,
			RemoteAddr: c.Request.RemoteAddr,
		}

		if err := authenticator.Authenticate(c.Request.Context(), req); err != nil {
			c.AbortWithStatusJSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.Next()
	}
}

// statusForError maps the error taxonomy onto HTTP statuses
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrPolicyViolation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrFeatureDisabled):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
