package hub

import (
	"sort"
	"sync"

	"github.com/sandergv/tchub/internal/coremodel"
)

// SensorSpec 连接握手中携带的传感器描述
type SensorSpec struct {
	ID      coremodel.SensorID
	Model   string
	Measure string
}

// Sensor 板卡上的一个测量通道。最多持有一个 onchange 会话，
// interval 会话可并存多个。
type Sensor struct {
	ID      coremodel.SensorID
	Model   string
	Measure string

	mu       sync.Mutex
	onChange *Session
	interval map[coremodel.SessionID]*Session
}

func newSensor(spec SensorSpec) *Sensor {
	return &Sensor{
		ID:       spec.ID,
		Model:    spec.Model,
		Measure:  spec.Measure,
		interval: make(map[coremodel.SessionID]*Session),
	}
}

// SetOnChange 绑定新的 onchange 会话，返回被顶替的旧会话。
// 旧会话对象不被改动：它可能仍处于 Active，需要调用方显式结束。
func (s *Sensor) SetOnChange(sess *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.onChange
	s.onChange = sess
	return prev
}

// OnChange 返回当前绑定的 onchange 会话，可能为 nil
func (s *Sensor) OnChange() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onChange
}

// AddInterval 登记一个 interval 会话
func (s *Sensor) AddInterval(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval[sess.ID()] = sess
}

// Unlink 解除会话与传感器的关联（interval 表项或 onchange 槽位）
func (s *Sensor) Unlink(id coremodel.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.interval, id)
	if s.onChange != nil && s.onChange.ID() == id {
		s.onChange = nil
	}
}

// IntervalSessions 返回登记中的 interval 会话，按ID排序
func (s *Sensor) IntervalSessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.interval))
	for _, sess := range s.interval {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Record 转为持久化记录
func (s *Sensor) Record() coremodel.SensorRecord {
	return coremodel.SensorRecord{ID: s.ID, Model: s.Model, Measure: s.Measure}
}
