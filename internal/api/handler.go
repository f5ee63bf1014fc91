package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/hub"
)

// Version 构建版本，发布时经 -ldflags "-X .../internal/api.Version=..." 注入
var Version = "dev"

// Handlers 命令面处理器
type Handlers struct {
	svc    *hub.Service
	stop   func(clean bool)
	logger *zap.Logger
}

// NewHandlers 创建处理器。stop 触发进程停机（clean 为真时
// 停机前清除任务与数据）。
func NewHandlers(svc *hub.Service, stop func(clean bool), logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{svc: svc, stop: stop, logger: logger}
}

// statusFor 错误分类到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, coremodel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coremodel.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, coremodel.ErrSchedulerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, coremodel.ErrStorageUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, coremodel.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// Info 服务信息文档
func (h *Handlers) Info(c *gin.Context) {
	host, _ := os.Hostname()
	installed, err := h.svc.JobsInstalled(c.Request.Context())
	if err != nil {
		h.logger.Warn("job table probe failed", zap.Error(err))
	}

	boards := make([]gin.H, 0)
	for _, b := range h.svc.Registry().Boards() {
		sensors := make([]coremodel.SensorRecord, 0)
		for _, s := range b.Sensors() {
			sensors = append(sensors, s.Record())
		}
		boards = append(boards, gin.H{
			"id":        b.ID,
			"addr":      b.Addr,
			"connected": b.Connected(),
			"sensors":   sensors,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"name":           "tchub",
		"version":        Version,
		"host":           host,
		"jobs_installed": installed,
		"boards":         boards,
	})
}

// createRequest 会话创建请求体
type createRequest struct {
	Sensor        string  `json:"sensor" binding:"required"`
	Description   string  `json:"description" binding:"required"`
	Kind          string  `json:"kind" binding:"required"`
	IntervalUnit  string  `json:"interval_unit"`
	IntervalCount int     `json:"interval_count"`
	StartDate     string  `json:"start_date"`
	FinishDate    string  `json:"finish_date"`
	AlertEnabled  bool    `json:"alert_enabled"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
}

// CreateSession POST /boards/:board/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.svc.CreateSession(c.Request.Context(), hub.CreateParams{
		Board:         coremodel.BoardID(c.Param("board")),
		Sensor:        coremodel.SensorID(req.Sensor),
		Description:   coremodel.Description(req.Description),
		Kind:          coremodel.Kind(req.Kind),
		IntervalUnit:  coremodel.IntervalUnit(req.IntervalUnit),
		IntervalCount: req.IntervalCount,
		StartDate:     req.StartDate,
		FinishDate:    req.FinishDate,
		AlertEnabled:  req.AlertEnabled,
		Min:           req.Min,
		Max:           req.Max,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

// StartSession POST /sessions/:id/start
func (h *Handlers) StartSession(c *gin.Context) {
	id := coremodel.SessionID(c.Param("id"))
	if err := h.svc.StartSession(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "state": coremodel.StateActive})
}

// FinishSession POST /sessions/:id/finish?clean=
func (h *Handlers) FinishSession(c *gin.Context) {
	id := coremodel.SessionID(c.Param("id"))
	clean := c.Query("clean") == "true"
	if err := h.svc.FinishSession(c.Request.Context(), id, clean); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "state": coremodel.StateFinished, "clean": clean})
}

// ListSessions GET /sessions?board=&sensor=
func (h *Handlers) ListSessions(c *gin.Context) {
	records := h.svc.ListSessions(
		coremodel.BoardID(c.Query("board")),
		coremodel.SensorID(c.Query("sensor")),
	)
	if records == nil {
		records = []coremodel.SessionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records})
}

// Data GET /data?board=&sensor=&session=
// 周期任务回调：拉取板卡当前值并记入会话
func (h *Handlers) Data(c *gin.Context) {
	board := coremodel.BoardID(c.Query("board"))
	sensor := coremodel.SensorID(c.Query("sensor"))
	session := coremodel.SessionID(c.Query("session"))

	value, err := h.svc.PullAndRecord(c.Request.Context(), board, sensor, session)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "sensor": sensor, "value": value})
}

// Stop POST /server/stop?opt=clean
func (h *Handlers) Stop(c *gin.Context) {
	clean := c.Query("opt") == "clean"
	c.JSON(http.StatusOK, gin.H{"stopping": true, "clean": clean})
	if h.stop != nil {
		h.stop(clean)
	}
}
