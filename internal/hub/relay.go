package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/metrics"
)

// Update 推送给实时订阅端的取值通知
type Update struct {
	Type   string             `json:"type"`
	Board  coremodel.BoardID  `json:"board"`
	Sensor coremodel.SensorID `json:"sensor"`
	Value  float64            `json:"value"`
}

// Subscriber 实时订阅端。同一时刻最多一个。
type Subscriber interface {
	ID() string
	Send(Update) error
}

// Relay 单槽位实时转发。新订阅替换旧订阅；被替换的连接不会被
// 主动关闭，只是收不到后续通知。无订阅时通知直接丢弃。
type Relay struct {
	mu      sync.Mutex
	sub     Subscriber
	logger  *zap.Logger
	metrics *metrics.AppMetrics
}

// NewRelay 创建转发器
func NewRelay(logger *zap.Logger, appm *metrics.AppMetrics) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{logger: logger, metrics: appm}
}

// Subscribe 登记订阅端，返回被替换的旧订阅（可能为 nil）
func (r *Relay) Subscribe(s Subscriber) Subscriber {
	r.mu.Lock()
	prev := r.sub
	r.sub = s
	r.mu.Unlock()
	if prev != nil {
		r.logger.Info("live subscriber replaced", zap.String("old", prev.ID()), zap.String("new", s.ID()))
	}
	return prev
}

// Unsubscribe 注销订阅端。仅当 id 仍是当前订阅时生效，
// 避免被替换的旧连接在关闭时误清新订阅。
func (r *Relay) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil && r.sub.ID() == id {
		r.sub = nil
	}
}

// Publish 投递通知。无订阅或发送失败均不回传错误。
func (r *Relay) Publish(u Update) {
	r.mu.Lock()
	sub := r.sub
	r.mu.Unlock()
	if sub == nil {
		if r.metrics != nil {
			r.metrics.LiveDroppedTotal.Inc()
		}
		return
	}
	if err := sub.Send(u); err != nil {
		r.logger.Warn("live subscriber send failed", zap.String("subscriber", sub.ID()), zap.Error(err))
	}
}
