package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/notifygw/notify-gateway/internal/api/handlers/message"
	"github.com/notifygw/notify-gateway/internal/metrics"
	"github.com/notifygw/notify-gateway/internal/middlewares"
)

func New(handler *message.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(middlewares.CorrelationID())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")
	{
		api.POST("/sms", handler.SendSMS)
		api.POST("/sms/bulk", handler.SendBulkSMS)
		api.GET("/sms/health", handler.Health)
		api.POST("/email", handler.SendEmail)
		api.GET("/messages", handler.List)
		api.GET("/messages/:id", handler.GetStatus)
		api.GET("/tasks/:id", handler.TaskStatus)
		api.POST("/tasks/:id/cancel", handler.CancelTask)
	}

	e.GET("/metrics", func(c *ginext.Context) {
		metrics.Handler().ServeHTTP(c.Writer, c.Request)
	})

	return e
}
