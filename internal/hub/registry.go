package hub

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/metrics"
	"github.com/sandergv/tchub/internal/storage"
)

// Registry 已知板卡的进程内注册表。板卡一经接入即长期保留，
// 断开只影响可达性。所有访问经由本对象，不设包级全局。
type Registry struct {
	mu      sync.RWMutex
	boards  map[coremodel.BoardID]*Board
	devices *storage.DeviceStore
	events  *storage.EventLog
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	now     func() time.Time
}

// RegistryOption 注册表可选配置
type RegistryOption func(*Registry)

// WithRegistryClock 注入时钟，测试用
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry 创建注册表。devices 为板卡持久化文档，可为 nil（测试）。
func NewRegistry(devices *storage.DeviceStore, events *storage.EventLog, logger *zap.Logger, appm *metrics.AppMetrics, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		boards:  make(map[coremodel.BoardID]*Board),
		devices: devices,
		events:  events,
		logger:  logger,
		metrics: appm,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect 板卡握手接入。未知板卡建档并持久化；已知板卡仅重绑连接，
// 传感器清单以首次接入为准。返回板卡与是否新建。
func (r *Registry) Connect(id coremodel.BoardID, addr string, specs []SensorSpec, conn Conn) (*Board, bool, error) {
	r.mu.Lock()
	b, known := r.boards[id]
	created := false
	if !known {
		b = newBoard(id, addr, r.now(), specs)
		r.boards[id] = b
		created = true
	}
	total := len(r.boards)
	r.mu.Unlock()

	b.SetConn(conn)
	if !created {
		r.logger.Info("board reconnected", zap.String("board", string(id)), zap.String("addr", addr))
		r.appendEvent("info", "Device "+string(id)+" is Connected")
		// 推送标志在断线期间可能被打开，重连后补发
		if b.Broadcasting() {
			if err := conn.Send("sendon"); err != nil {
				r.logger.Warn("broadcast resume failed", zap.String("board", string(id)), zap.Error(err))
			}
		}
		return b, false, nil
	}

	r.logger.Info("board registered", zap.String("board", string(id)),
		zap.String("addr", addr), zap.Int("sensors", len(specs)))
	r.appendEvent("info", "Device "+string(id)+" is Connected")
	if r.metrics != nil {
		r.metrics.BoardsKnown.Set(float64(total))
	}
	if r.devices != nil {
		if err := r.devices.Upsert(b.Record()); err != nil {
			return b, true, err
		}
	}
	return b, true, nil
}

// Board 按ID查找板卡
func (r *Registry) Board(id coremodel.BoardID) (*Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[id]
	return b, ok
}

// Boards 返回全部板卡，按ID排序
func (r *Registry) Boards() []*Board {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Board, 0, len(r.boards))
	for _, b := range r.boards {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnDisconnect 板卡断开，仅解绑连接并记日志
func (r *Registry) OnDisconnect(id coremodel.BoardID) {
	r.mu.RLock()
	b, ok := r.boards[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	b.ClearConn()
	r.logger.Info("board disconnected", zap.String("board", string(id)))
	r.appendEvent("info", "Device "+string(id)+" is Disconnected")
}

// Restore 从持久化记录重建板卡（启动恢复）。重建的板卡不可达，
// 等待实际重连。
func (r *Registry) Restore(recs []coremodel.DeviceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if _, exists := r.boards[rec.ID]; exists {
			continue
		}
		at, err := coremodel.ParseTime(rec.ConnectedAt)
		if err != nil {
			at = r.now()
		}
		specs := make([]SensorSpec, 0, len(rec.Sensors))
		for _, s := range rec.Sensors {
			specs = append(specs, SensorSpec{ID: s.ID, Model: s.Model, Measure: s.Measure})
		}
		r.boards[rec.ID] = newBoard(rec.ID, rec.Addr, at, specs)
	}
	if r.metrics != nil {
		r.metrics.BoardsKnown.Set(float64(len(r.boards)))
	}
	r.logger.Info("registry restored", zap.Int("boards", len(r.boards)))
}

func (r *Registry) appendEvent(kind, msg string) {
	if r.events == nil {
		return
	}
	if err := r.events.Append(r.now(), kind, msg); err != nil {
		r.logger.Warn("event log append failed", zap.Error(err))
	}
}
