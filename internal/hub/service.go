package hub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/cron"
	"github.com/sandergv/tchub/internal/metrics"
	"github.com/sandergv/tchub/internal/notify"
	"github.com/sandergv/tchub/internal/storage"
)

// Fetcher 从板卡自身端点拉取当前读数
type Fetcher interface {
	Fetch(ctx context.Context, addr string, sensor coremodel.SensorID) (float64, error)
}

// Deps Service 的协作对象
type Deps struct {
	Registry    *Registry
	Relay       *Relay
	Sessions    *storage.SessionStore
	Cron        *cron.Store
	Notifier    notify.Notifier
	Events      *storage.EventLog
	Fetcher     Fetcher
	DataDir     string
	CallbackURL string
	Logger      *zap.Logger
	Metrics     *metrics.AppMetrics
}

// Option Service 可选配置
type Option func(*Service)

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 采集会话的命令面：创建/启动/结束/查询会话，
// 接收推送读数与调度器回调拉取。
type Service struct {
	reg      *Registry
	relay    *Relay
	store    *storage.SessionStore
	cron     *cron.Store
	notifier notify.Notifier
	events   *storage.EventLog
	fetch    Fetcher
	dataDir  string
	callback string
	logger   *zap.Logger
	metrics  *metrics.AppMetrics
	now      func() time.Time

	mu       sync.Mutex
	sessions map[coremodel.SessionID]*Session
	issued   map[coremodel.SessionID]bool
}

// NewService 创建服务
func NewService(d Deps, opts ...Option) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	s := &Service{
		reg:      d.Registry,
		relay:    d.Relay,
		store:    d.Sessions,
		cron:     d.Cron,
		notifier: d.Notifier,
		events:   d.Events,
		fetch:    d.Fetcher,
		dataDir:  d.DataDir,
		callback: d.CallbackURL,
		logger:   d.Logger,
		metrics:  d.Metrics,
		now:      time.Now,
		sessions: make(map[coremodel.SessionID]*Session),
		issued:   make(map[coremodel.SessionID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) deps() *sessionDeps {
	return &sessionDeps{
		store:    s.store,
		cron:     s.cron,
		notifier: s.notifier,
		events:   s.events,
		metrics:  s.metrics,
		logger:   s.logger,
		callback: s.callback,
		now:      s.now,
	}
}

// CreateParams 会话创建参数
type CreateParams struct {
	Board         coremodel.BoardID
	Sensor        coremodel.SensorID
	Description   coremodel.Description
	Kind          coremodel.Kind
	IntervalUnit  coremodel.IntervalUnit
	IntervalCount int
	StartDate     string
	FinishDate    string
	AlertEnabled  bool
	Min           float64
	Max           float64
}

func (p CreateParams) validate() error {
	switch p.Description {
	case coremodel.DescriptionOnChange, coremodel.DescriptionInterval:
	default:
		return fmt.Errorf("unknown description %q", p.Description)
	}
	switch p.Kind {
	case coremodel.KindOpen, coremodel.KindScheduled:
	default:
		return fmt.Errorf("unknown kind %q", p.Kind)
	}
	if p.Description == coremodel.DescriptionInterval {
		switch p.IntervalUnit {
		case coremodel.UnitMinute, coremodel.UnitHour, coremodel.UnitDay:
		default:
			return fmt.Errorf("unknown interval unit %q", p.IntervalUnit)
		}
		if p.IntervalCount <= 0 {
			return fmt.Errorf("interval count must be positive, got %d", p.IntervalCount)
		}
	}
	if p.StartDate != "" {
		if _, err := coremodel.ParseTime(p.StartDate); err != nil {
			return fmt.Errorf("start date: %w", err)
		}
	}
	if p.FinishDate != "" {
		if _, err := coremodel.ParseTime(p.FinishDate); err != nil {
			return fmt.Errorf("finish date: %w", err)
		}
	}
	if p.AlertEnabled && p.Min >= p.Max {
		return fmt.Errorf("alert range min=%v max=%v is empty", p.Min, p.Max)
	}
	return nil
}

// allocID 由创建时刻派生会话ID，同秒冲突时追加序号。
// 发过的ID进程存续期内不复用，clean 结束腾出的槽位也不回收。
func (s *Service) allocID(at time.Time) coremodel.SessionID {
	base := at.Format("060102150405")
	id := coremodel.SessionID(base)
	for n := 2; ; n++ {
		if !s.issued[id] {
			s.issued[id] = true
			return id
		}
		id = coremodel.SessionID(fmt.Sprintf("%s-%d", base, n))
	}
}

// CreateSession 创建会话。open 会话立即转 Active 并装载任务；
// scheduled 且启动时刻未到的会话保持 Pending 并装载日历启动任务。
// onchange 会话顶替传感器上原有的 onchange 会话（旧会话保持原状，
// 需调用方显式结束）。
func (s *Service) CreateSession(ctx context.Context, p CreateParams) (*Session, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	board, ok := s.reg.Board(p.Board)
	if !ok {
		return nil, fmt.Errorf("%w: board %s", coremodel.ErrNotFound, p.Board)
	}
	sensor := board.Sensor(p.Sensor)
	if sensor == nil {
		return nil, fmt.Errorf("%w: sensor %s on board %s", coremodel.ErrNotFound, p.Sensor, p.Board)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	id := s.allocID(at)
	logPath := filepath.Join(s.dataDir,
		fmt.Sprintf("%s_%s", p.Board, at.Format("2006-01-02")),
		fmt.Sprintf("%s_%s_%s.csv", id, p.Sensor, p.Description))

	rec := coremodel.SessionRecord{
		ID:            id,
		Board:         p.Board,
		Sensor:        p.Sensor,
		Description:   p.Description,
		Kind:          p.Kind,
		IntervalUnit:  p.IntervalUnit,
		IntervalCount: p.IntervalCount,
		StartDate:     p.StartDate,
		FinishDate:    p.FinishDate,
		Alert:         coremodel.AlertConfig{Enabled: p.AlertEnabled, Min: p.Min, Max: p.Max},
		LogPath:       logPath,
		CreatedAt:     coremodel.FormatTime(at),
	}

	vlog := storage.NewValueLog(logPath)
	if err := vlog.Create(); err != nil {
		return nil, err
	}
	sess := &Session{rec: rec, board: board, sensor: sensor, log: vlog, deps: s.deps()}

	pendingStart := false
	if p.Kind == coremodel.KindScheduled && p.StartDate != "" {
		st, _ := coremodel.ParseTime(p.StartDate)
		pendingStart = st.After(at)
	}

	if pendingStart {
		st, _ := coremodel.ParseTime(p.StartDate)
		if err := sess.armStartTriggerLocked(ctx, st); err != nil {
			s.discardLog(vlog)
			return nil, err
		}
		if err := s.store.Put(rec); err != nil {
			if _, rerr := s.cron.RemoveOwner(ctx, sess.ownerStart()); rerr != nil {
				s.logger.Error("start trigger rollback failed", zap.String("session", string(id)), zap.Error(rerr))
			}
			s.discardLog(vlog)
			return nil, err
		}
	} else {
		if err := sess.activateLocked(ctx); err != nil {
			s.discardLog(vlog)
			return nil, err
		}
	}

	s.link(board, sensor, sess)
	s.sessions[id] = sess
	s.logger.Info("session created",
		zap.String("session", string(id)),
		zap.String("board", string(p.Board)),
		zap.String("sensor", string(p.Sensor)),
		zap.String("kind", string(p.Kind)),
		zap.String("state", string(sess.State())))
	return sess, nil
}

// link 把会话挂到板卡与传感器上。onchange 的顶替在此发生。
func (s *Service) link(board *Board, sensor *Sensor, sess *Session) {
	board.addSession(sess)
	if sess.rec.Description == coremodel.DescriptionOnChange {
		if prev := sensor.SetOnChange(sess); prev != nil {
			s.logger.Warn("on-change session superseded",
				zap.String("sensor", string(sensor.ID)),
				zap.String("old", string(prev.ID())),
				zap.String("new", string(sess.ID())),
				zap.String("old_state", string(prev.State())))
		}
		return
	}
	sensor.AddInterval(sess)
}

func (s *Service) discardLog(vlog *storage.ValueLog) {
	if err := vlog.Remove(); err != nil {
		s.logger.Warn("value log cleanup failed", zap.String("path", vlog.Path()), zap.Error(err))
	}
}

// Session 按ID查找会话
func (s *Service) Session(id coremodel.SessionID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// StartSession 启动 Pending 会话（日历触发回调或人工提前启动）
func (s *Service) StartSession(ctx context.Context, id coremodel.SessionID) error {
	sess, ok := s.Session(id)
	if !ok {
		return fmt.Errorf("%w: session %s", coremodel.ErrNotFound, id)
	}
	return sess.Start(ctx)
}

// FinishSession 结束会话。clean 为真时删除记录与取值日志并解除
// 全部关联；否则保留记录供查询。
func (s *Service) FinishSession(ctx context.Context, id coremodel.SessionID, clean bool) error {
	sess, ok := s.Session(id)
	if !ok {
		return fmt.Errorf("%w: session %s", coremodel.ErrNotFound, id)
	}
	if err := sess.Finish(ctx, clean); err != nil {
		return err
	}
	if sess.sensor != nil {
		sess.sensor.Unlink(id)
	}
	if clean {
		if sess.board != nil {
			sess.board.removeSession(id)
		}
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}
	return nil
}

// ListSessions 按板卡/传感器过滤返回会话记录快照，按ID排序
func (s *Service) ListSessions(board coremodel.BoardID, sensor coremodel.SensorID) []coremodel.SessionRecord {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	var out []coremodel.SessionRecord
	for _, sess := range all {
		rec := sess.Snapshot()
		if board != "" && rec.Board != board {
			continue
		}
		if sensor != "" && rec.Sensor != sensor {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordReading 调度器回调：校验板卡/传感器/会话归属后记值
func (s *Service) RecordReading(board coremodel.BoardID, sensor coremodel.SensorID, id coremodel.SessionID, value float64) error {
	sess, ok := s.Session(id)
	if !ok {
		return fmt.Errorf("%w: session %s", coremodel.ErrNotFound, id)
	}
	rec := sess.Snapshot()
	if rec.Board != board || rec.Sensor != sensor {
		return fmt.Errorf("%w: session %s does not belong to %s/%s", coremodel.ErrNotFound, id, board, sensor)
	}
	return sess.Record(value)
}

// PullAndRecord 调度器回调的完整路径：向板卡端点拉取当前值并记入会话
func (s *Service) PullAndRecord(ctx context.Context, board coremodel.BoardID, sensor coremodel.SensorID, id coremodel.SessionID) (float64, error) {
	b, ok := s.reg.Board(board)
	if !ok {
		return 0, fmt.Errorf("%w: board %s", coremodel.ErrNotFound, board)
	}
	if b.Sensor(sensor) == nil {
		return 0, fmt.Errorf("%w: sensor %s on board %s", coremodel.ErrNotFound, sensor, board)
	}
	value, err := s.fetch.Fetch(ctx, b.Addr, sensor)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.ReadingsTotal.WithLabelValues("pull").Inc()
	}
	if err := s.RecordReading(board, sensor, id, value); err != nil {
		return 0, err
	}
	return value, nil
}

// OnReading 板卡推送读数：喂给传感器的 onchange 会话（若有），
// 并无条件转发实时订阅端。记值失败不阻断转发。
func (s *Service) OnReading(board coremodel.BoardID, sensor coremodel.SensorID, value float64) error {
	b, ok := s.reg.Board(board)
	if !ok {
		return fmt.Errorf("%w: board %s", coremodel.ErrNotFound, board)
	}
	sn := b.Sensor(sensor)
	if sn == nil {
		return fmt.Errorf("%w: sensor %s on board %s", coremodel.ErrNotFound, sensor, board)
	}
	if s.metrics != nil {
		s.metrics.ReadingsTotal.WithLabelValues("push").Inc()
	}
	if oc := sn.OnChange(); oc != nil {
		if err := oc.Record(value); err != nil {
			s.logger.Warn("pushed reading rejected",
				zap.String("board", string(board)),
				zap.String("sensor", string(sensor)),
				zap.Error(err))
		}
	}
	if s.relay != nil {
		s.relay.Publish(Update{Type: "value", Board: board, Sensor: sensor, Value: value})
	}
	return nil
}

// Restore 从会话文档重建会话对象并重新挂接（启动恢复）。
// 板卡缺档的会话保留为孤儿：可查询可结束，但收不到读数。
func (s *Service) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, rec := range s.store.All() {
		sess := &Session{rec: rec, log: storage.NewValueLog(rec.LogPath), deps: s.deps()}
		if board, ok := s.reg.Board(rec.Board); ok {
			sess.board = board
			if sensor := board.Sensor(rec.Sensor); sensor != nil {
				sess.sensor = sensor
				if !rec.Finished {
					s.link(board, sensor, sess)
				}
			} else {
				s.logger.Warn("restored session sensor unknown",
					zap.String("session", string(rec.ID)), zap.String("sensor", string(rec.Sensor)))
			}
		} else {
			s.logger.Warn("restored session board unknown",
				zap.String("session", string(rec.ID)), zap.String("board", string(rec.Board)))
		}
		s.sessions[rec.ID] = sess
		s.issued[rec.ID] = true
		if rec.State() == coremodel.StateActive {
			active++
		}
	}
	if s.metrics != nil {
		s.metrics.SessionsActive.Set(float64(active))
	}
	s.logger.Info("sessions restored", zap.Int("total", len(s.sessions)), zap.Int("active", active))
}

// RearmJobs 重新登记全部未结束会话的计划任务并对账外部表。
// 启动恢复时调用：Write 幂等，宕机期间丢失的行会补回。
func (s *Service) RearmJobs(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.rearm()
	}
	return s.cron.Write(ctx)
}

// JobsInstalled 外部任务表中是否存在本进程拥有的行
func (s *Service) JobsInstalled(ctx context.Context) (bool, error) {
	return s.cron.Installed(ctx)
}

// Registry 返回板卡注册表（查询面使用）
func (s *Service) Registry() *Registry { return s.reg }

// Relay 返回实时转发器
func (s *Service) Relay() *Relay { return s.relay }

// Shutdown 停机收尾。clean 为真时清除本进程全部计划任务并
// 清空数据目录（取值日志、文档、事件日志一并移除）。
func (s *Service) Shutdown(ctx context.Context, clean bool) error {
	s.notifier.Notify("tchub: server stopped")
	if s.events != nil {
		if err := s.events.Append(s.now(), "info", "Server stopped"); err != nil {
			s.logger.Warn("event log append failed", zap.Error(err))
		}
	}
	if !clean {
		return nil
	}
	if err := s.cron.ClearAll(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dataDir); err != nil {
		return fmt.Errorf("%w: wipe data dir: %v", coremodel.ErrStorageUnavailable, err)
	}
	s.logger.Info("data dir wiped", zap.String("dir", s.dataDir))
	return nil
}
