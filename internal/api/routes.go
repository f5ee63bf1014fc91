package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RegisterRoutes 注册命令面路由
func RegisterRoutes(r *gin.Engine, h *Handlers, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}

	r.GET("/", h.Info)
	r.POST("/boards/:board/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions/:id/start", h.StartSession)
	r.POST("/sessions/:id/finish", h.FinishSession)
	r.GET("/data", h.Data)
	r.GET("/live", h.Live)
	r.POST("/server/stop", h.Stop)

	if logger != nil {
		logger.Info("routes registered", zap.Int("endpoints", 8))
	}
}
