package hub

import (
	"sync"
	"time"

	"github.com/sandergv/tchub/internal/coremodel"
)

// Conn 板卡连接的下行通道。由网关实现，断开后 Send 返回错误。
type Conn interface {
	Send(line string) error
	Close() error
}

// Board 一块已知板卡。断开连接只清空 conn，不从注册表移除。
type Board struct {
	ID          coremodel.BoardID
	Addr        string
	ConnectedAt time.Time

	mu        sync.Mutex
	sensors   map[coremodel.SensorID]*Sensor
	order     []coremodel.SensorID
	sessions  []*Session
	broadcast bool
	conn      Conn
}

func newBoard(id coremodel.BoardID, addr string, at time.Time, specs []SensorSpec) *Board {
	b := &Board{
		ID:          id,
		Addr:        addr,
		ConnectedAt: at,
		sensors:     make(map[coremodel.SensorID]*Sensor),
	}
	for _, spec := range specs {
		if _, dup := b.sensors[spec.ID]; dup {
			continue
		}
		b.sensors[spec.ID] = newSensor(spec)
		b.order = append(b.order, spec.ID)
	}
	return b
}

// Sensor 按ID查找传感器，未知返回 nil
func (b *Board) Sensor(id coremodel.SensorID) *Sensor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sensors[id]
}

// Sensors 按握手顺序返回全部传感器
func (b *Board) Sensors() []*Sensor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Sensor, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.sensors[id])
	}
	return out
}

// SetConn 绑定当前连接（重连覆盖旧值）
func (b *Board) SetConn(c Conn) {
	b.mu.Lock()
	b.conn = c
	b.mu.Unlock()
}

// ClearConn 断开时清空连接，板卡转为不可达
func (b *Board) ClearConn() {
	b.mu.Lock()
	b.conn = nil
	b.mu.Unlock()
}

// Connected 是否有在线连接
func (b *Board) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// EnableBroadcast 要求板卡主动推送读数。已开启时为幂等。
// 板卡离线时只置标志，等待重连后生效。
func (b *Board) EnableBroadcast() error {
	b.mu.Lock()
	already := b.broadcast
	b.broadcast = true
	conn := b.conn
	b.mu.Unlock()
	if already || conn == nil {
		return nil
	}
	return conn.Send("sendon")
}

// DisableBroadcast 停止板卡主动推送
func (b *Board) DisableBroadcast() error {
	b.mu.Lock()
	b.broadcast = false
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Send("sendoff")
}

// Broadcasting 返回推送标志
func (b *Board) Broadcasting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broadcast
}

func (b *Board) addSession(sess *Session) {
	b.mu.Lock()
	b.sessions = append(b.sessions, sess)
	b.mu.Unlock()
}

func (b *Board) removeSession(id coremodel.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sess := range b.sessions {
		if sess.ID() == id {
			b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
			return
		}
	}
}

// Sessions 返回该板卡创建过的会话
func (b *Board) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, len(b.sessions))
	copy(out, b.sessions)
	return out
}

// Record 转为持久化记录
func (b *Board) Record() coremodel.DeviceRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := coremodel.DeviceRecord{
		ID:          b.ID,
		Addr:        b.Addr,
		ConnectedAt: coremodel.FormatTime(b.ConnectedAt),
	}
	for _, id := range b.order {
		rec.Sensors = append(rec.Sensors, b.sensors[id].Record())
	}
	return rec
}
