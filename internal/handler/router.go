package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册会话相关的全部路由。
func RegisterRoutes(r gin.IRouter, chat *ChatHandler, watch *SessionWatchHandler) {
	r.GET("/", chat.Root)
	r.POST("/human-input", chat.HumanInput)

	chatGroup := r.Group("/chat")
	{
		chatGroup.POST("", chat.Chat)
		chatGroup.GET("", chat.ListSessions)
		chatGroup.GET("/:session_id", chat.GetSession)
		chatGroup.DELETE("/:session_id", chat.DeleteSession)
		chatGroup.GET("/:session_id/ws", watch.Watch)
	}
}
