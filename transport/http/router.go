package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/wallethub/auth"
	"github.com/layer-3/wallethub/service"
)

// SetupRouter sets up the Gin router. Every route runs behind the request
// authenticator.
func SetupRouter(sessionKeys *service.SessionKeyService, authenticator *auth.Authenticator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestAuth(authenticator))

	handlers := NewSessionKeyHandlers(sessionKeys)

	router.POST("/session-keys", handlers.Issue)
	router.GET("/session-keys", handlers.List)
	router.DELETE("/session-keys/:id", handlers.Revoke)
	router.POST("/session-keys/:id/verify", handlers.Verify)
	router.GET("/policies", handlers.ListPolicies)
	router.GET("/settings", handlers.Settings)

	return router
}
