package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/wallethub/service"
)

// SessionKeyHandlers contains HTTP handlers for the session key endpoints
type SessionKeyHandlers struct {
	sessionKeys *service.SessionKeyService
}

// NewSessionKeyHandlers creates new session key handlers
func NewSessionKeyHandlers(sessionKeys *service.SessionKeyService) *SessionKeyHandlers {
	return &SessionKeyHandlers{
		sessionKeys: sessionKeys,
	}
}

// Issue handles session key issuance
func (h *SessionKeyHandlers) Issue(c *gin.Context) {
	var req service.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	key, err := h.sessionKeys.Issue(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"sessionKey": key})
}

// Revoke handles session key revocation. The reason in the body is optional.
func (h *SessionKeyHandlers) Revoke(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// body is optional on revoke
	_ = c.ShouldBindJSON(&req)

	key, err := h.sessionKeys.Revoke(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionKey": key})
}

// List returns all session keys
func (h *SessionKeyHandlers) List(c *gin.Context) {
	keys, err := h.sessionKeys.ListSessionKeys(c.Request.Context())
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionKeys": keys})
}

// ListPolicies returns all wallet policies
func (h *SessionKeyHandlers) ListPolicies(c *gin.Context) {
	policies, err := h.sessionKeys.ListPolicies(c.Request.Context())
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// Settings reports whether session key issuance is enabled
func (h *SessionKeyHandlers) Settings(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionKeys.GetSettings())
}

// Verify checks a session key against the requested transaction permissions.
// A negative outcome is a 200 with valid=false, not an error.
func (h *SessionKeyHandlers) Verify(c *gin.Context) {
	var req service.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.sessionKeys.VerifyWithPermissions(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
