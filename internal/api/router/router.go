package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/opsdeskhq/opsdesk/internal/api/handlers/notification"
	"github.com/opsdeskhq/opsdesk/internal/api/handlers/scheduledmessage"
	"github.com/opsdeskhq/opsdesk/internal/api/ws"
	"github.com/opsdeskhq/opsdesk/internal/middlewares"
)

func New(messages *scheduledmessage.Handler, notifications *notification.Handler, socket *ws.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")

	sm := api.Group("/scheduled-messages")
	{
		sm.POST("", messages.Create)
		sm.GET("", messages.GetAll)
		sm.GET("/:id", messages.GetStatus)
		sm.DELETE("/:id", messages.Delete)
		sm.POST("/:id/cancel", messages.Cancel)
	}

	nf := api.Group("/notifications")
	{
		nf.POST("", notifications.Create)
		nf.GET("", notifications.GetAll)
		nf.GET("/unread-count", notifications.UnreadCount)
		nf.PUT("/read-all", notifications.MarkAllRead)
		nf.PUT("/:id/read", notifications.MarkRead)
		nf.DELETE("/:id", notifications.Delete)
	}

	api.GET("/ws/notifications", socket.ServeWS)

	return e
}
