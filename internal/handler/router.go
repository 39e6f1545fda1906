package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部 HTTP 与 WebSocket 路由。
func RegisterRoutes(r *gin.Engine, conns *ConnectionHandler, chats *ChatHandler, catalog *CatalogHandler) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "agstack is running", "data": nil})
	})

	apiV1 := r.Group("/api/v1")
	{
		connections := apiV1.Group("/connections")
		{
			connections.POST("", conns.Create)
			connections.GET("", conns.List)
			connections.DELETE("/:id", conns.Delete)
			connections.GET("/:id/tables", conns.ListTables)
			connections.GET("/:id/tables/:table/columns", conns.ListColumns)
		}

		chatGroup := apiV1.Group("/chats")
		{
			chatGroup.POST("", chats.Create)
			chatGroup.GET("", chats.List)
			chatGroup.GET("/:id", chats.Get)
			chatGroup.DELETE("/:id", chats.Delete)
			chatGroup.GET("/:id/messages", chats.ListMessages)
			chatGroup.POST("/:id/messages", chats.SendMessage)
			chatGroup.GET("/:id/ws-ticket", chats.IssueTicket)
		}

		apiV1.GET("/messages/:id", chats.GetMessage)
		apiV1.GET("/catalog/search", catalog.Search)
	}

	// 状态推送 (WebSocket)
	r.GET("/ws/chats/:ticket", chats.Stream)
}
