package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/hub"
)

// sseSubscriber 实时转发的 SSE 订阅端。发送非阻塞，
// 队列满即报错丢弃。
type sseSubscriber struct {
	id string
	ch chan hub.Update
}

func (s *sseSubscriber) ID() string { return s.id }

func (s *sseSubscriber) Send(u hub.Update) error {
	select {
	case s.ch <- u:
		return nil
	default:
		return errors.New("subscriber queue full")
	}
}

// Live GET /live — 实时取值流。单槽位：新连接顶替旧连接，
// 旧连接随后收不到事件并自然结束。
func (h *Handlers) Live(c *gin.Context) {
	relay := h.svc.Relay()
	if relay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live view disabled"})
		return
	}

	sub := &sseSubscriber{id: uuid.NewString(), ch: make(chan hub.Update, 16)}
	relay.Subscribe(sub)
	defer relay.Unsubscribe(sub.id)

	h.logger.Info("live subscriber attached", zap.String("subscriber", sub.id))
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case u := <-sub.ch:
			c.SSEvent("value", u)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	h.logger.Info("live subscriber detached", zap.String("subscriber", sub.id))
}
