package routes

import (
	"coachapp/api/handlers"
	"coachapp/api/middleware"

	"github.com/gin-gonic/gin"
)

func PublicApi(router *gin.Engine, api *handlers.API, resolver middleware.TokenResolver) *gin.RouterGroup {
	publicEndpoints := router.Group("/api/v1/")
	{
		publicEndpoints.POST("auth/register", api.Register)
		publicEndpoints.POST("auth/login", api.Login)
	}

	private := publicEndpoints.Group("", middleware.AuthMiddleware(resolver))
	{
		private.POST("auth/logout", api.Logout)
		private.GET("profiles/:id", api.GetProfile)

		// Диалоги
		private.GET("conversations", api.ListConversations)
		private.GET("conversations/:partner_id/messages", api.GetMessages)
		private.POST("conversations/:partner_id/messages", api.SendMessage)
		private.POST("conversations/:partner_id/read", api.MarkRead)

		// WebSocket
		private.GET("ws/conversations", api.WSConversations)
		private.GET("ws/conversations/:partner_id", api.WSConversation)
	}
	return publicEndpoints
}
