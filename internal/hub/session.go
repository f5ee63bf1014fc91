package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/cron"
	"github.com/sandergv/tchub/internal/metrics"
	"github.com/sandergv/tchub/internal/notify"
	"github.com/sandergv/tchub/internal/storage"
)

// sessionDeps 会话共享的协作对象，由 Service 注入
type sessionDeps struct {
	store    *storage.SessionStore
	cron     *cron.Store
	notifier notify.Notifier
	events   *storage.EventLog
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	callback string
	now      func() time.Time
}

// Session 一次采集会话。状态由记录中的 active/finished 标志派生，
// 迁移与记值都在会话锁内完成。
//
// 状态迁移坚持不留半截：周期任务装载与记录落盘要么都成功，
// 要么都回退。
type Session struct {
	mu     sync.Mutex
	rec    coremodel.SessionRecord
	board  *Board
	sensor *Sensor
	log    *storage.ValueLog
	deps   *sessionDeps
}

// ID 会话ID
func (s *Session) ID() coremodel.SessionID {
	return s.rec.ID
}

// Snapshot 返回持久化记录的副本
func (s *Session) Snapshot() coremodel.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// State 当前派生状态
func (s *Session) State() coremodel.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.State()
}

// 同一会话最多持有三条计划任务：采样、定时启动、定时结束。
// 归属标签按角色区分，结束时一并移除。
func (s *Session) ownerSample() string { return string(s.rec.ID) }
func (s *Session) ownerStart() string  { return string(s.rec.ID) + "/start" }
func (s *Session) ownerFinish() string { return string(s.rec.ID) + "/finish" }

func (s *Session) sampleCommand() string {
	return fmt.Sprintf("curl -s '%s/data?board=%s&sensor=%s&session=%s'",
		s.deps.callback, s.rec.Board, s.rec.Sensor, s.rec.ID)
}

func (s *Session) startCommand() string {
	return fmt.Sprintf("curl -s -X POST '%s/sessions/%s/start'", s.deps.callback, s.rec.ID)
}

func (s *Session) finishCommand() string {
	return fmt.Sprintf("curl -s -X POST '%s/sessions/%s/finish'", s.deps.callback, s.rec.ID)
}

// Record 写入一条取值。告警判定先于落盘；非 Active 状态拒绝记值，
// 取值日志保持不变。
func (s *Session) Record(value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state := s.rec.State(); state != coremodel.StateActive {
		return fmt.Errorf("%w: session %s is %s", coremodel.ErrInvalidState, s.rec.ID, state)
	}

	at := s.deps.now()
	if s.rec.Alert.Enabled && (value >= s.rec.Alert.Max || value <= s.rec.Alert.Min) {
		msg := fmt.Sprintf("ALERT: board=%s sensor=%s value=%v (min=%v,max=%v) at %s",
			s.rec.Board, s.rec.Sensor, value, s.rec.Alert.Min, s.rec.Alert.Max, coremodel.FormatTime(at))
		s.deps.notifier.Notify(msg)
		s.appendEvent(at, "alert", msg)
		if s.deps.metrics != nil {
			s.deps.metrics.AlertsTotal.Inc()
		}
	}
	return s.log.Append(at, value)
}

// Start 将 Pending 会话转为 Active：装载采样/结束任务并落盘。
// 已 Active 或已 Finished 时拒绝。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state := s.rec.State(); state != coremodel.StatePending {
		return fmt.Errorf("%w: cannot start session %s in state %s", coremodel.ErrInvalidState, s.rec.ID, state)
	}
	if err := s.activateLocked(ctx); err != nil {
		return err
	}

	// 日历启动任务按年重复，激活后必须摘除；失败只记日志，
	// 下一次 Finish 的整组移除仍会覆盖它。
	if _, err := s.deps.cron.RemoveOwner(ctx, s.ownerStart()); err != nil {
		s.deps.logger.Warn("start trigger removal failed", zap.String("session", string(s.rec.ID)), zap.Error(err))
	}
	return nil
}

// activateLocked 执行 Pending/创建 → Active 的共同路径。
// 调用方持有会话锁。
func (s *Session) activateLocked(ctx context.Context) error {
	armed := false
	if s.rec.Description == coremodel.DescriptionInterval {
		j := cron.NewJob(s.ownerSample(), s.sampleCommand()).Every(s.rec.IntervalUnit, s.rec.IntervalCount)
		if s.deps.cron.Arm(j) {
			armed = true
		}
	}
	if s.rec.FinishDate != "" {
		if ft, err := coremodel.ParseTime(s.rec.FinishDate); err == nil && ft.After(s.deps.now()) {
			j := cron.NewJob(s.ownerFinish(), s.finishCommand()).AtCalendar(ft.Day(), int(ft.Month()))
			if s.deps.cron.Arm(j) {
				armed = true
			}
		}
	}
	if armed {
		if err := s.deps.cron.Write(ctx); err != nil {
			s.deps.cron.Untrack(s.ownerSample(), s.ownerFinish())
			return err
		}
	}

	updated := s.rec
	updated.Active = true
	updated.Finished = false
	if err := s.deps.store.Put(updated); err != nil {
		if armed {
			if _, rerr := s.deps.cron.RemoveOwner(ctx, s.ownerSample(), s.ownerFinish()); rerr != nil {
				s.deps.logger.Error("rollback of armed jobs failed",
					zap.String("session", string(s.rec.ID)), zap.Error(rerr))
			}
		}
		return err
	}
	s.rec = updated

	if s.rec.Description == coremodel.DescriptionOnChange && s.board != nil {
		if err := s.board.EnableBroadcast(); err != nil {
			s.deps.logger.Warn("broadcast enable failed", zap.String("board", string(s.rec.Board)), zap.Error(err))
		}
	}
	if s.deps.metrics != nil {
		s.deps.metrics.SessionsActive.Inc()
	}
	at := s.deps.now()
	s.appendEvent(at, "info", fmt.Sprintf("Session %s started (%s/%s)", s.rec.ID, s.rec.Board, s.rec.Sensor))
	s.deps.logger.Info("session active",
		zap.String("session", string(s.rec.ID)),
		zap.String("board", string(s.rec.Board)),
		zap.String("sensor", string(s.rec.Sensor)),
		zap.String("description", string(s.rec.Description)))
	return nil
}

// armStartTriggerLocked 为未来启动的 scheduled 会话装载日历启动任务。
// 失败时注销未安装的任务并回报调度器不可用。
func (s *Session) armStartTriggerLocked(ctx context.Context, at time.Time) error {
	s.deps.cron.Arm(cron.NewJob(s.ownerStart(), s.startCommand()).AtCalendar(at.Day(), int(at.Month())))
	if err := s.deps.cron.Write(ctx); err != nil {
		s.deps.cron.Untrack(s.ownerStart())
		return err
	}
	return nil
}

// rearm 按当前状态重新登记应存在的计划任务，不触碰外部表。
// Arm 去重，随后的 Write 幂等，重复调用安全。
func (s *Session) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.rec.State() {
	case coremodel.StateActive:
		if s.rec.Description == coremodel.DescriptionInterval {
			s.deps.cron.Arm(cron.NewJob(s.ownerSample(), s.sampleCommand()).Every(s.rec.IntervalUnit, s.rec.IntervalCount))
		}
		if s.rec.FinishDate != "" {
			if ft, err := coremodel.ParseTime(s.rec.FinishDate); err == nil && ft.After(s.deps.now()) {
				s.deps.cron.Arm(cron.NewJob(s.ownerFinish(), s.finishCommand()).AtCalendar(ft.Day(), int(ft.Month())))
			}
		}
	case coremodel.StatePending:
		if s.rec.StartDate != "" {
			if st, err := coremodel.ParseTime(s.rec.StartDate); err == nil && st.After(s.deps.now()) {
				s.deps.cron.Arm(cron.NewJob(s.ownerStart(), s.startCommand()).AtCalendar(st.Day(), int(st.Month())))
			}
		}
	}
}

// Finish 结束会话。先摘除全部归属任务（失败则中止，状态不变），
// 再按 clean 决定删除记录与取值日志，或保留并标记 finished。
// 落盘失败时重装任务回滚。
func (s *Session) Finish(ctx context.Context, clean bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Finished {
		return fmt.Errorf("%w: session %s already finished", coremodel.ErrInvalidState, s.rec.ID)
	}
	wasActive := s.rec.Active

	removed, err := s.deps.cron.RemoveOwner(ctx, s.ownerSample(), s.ownerStart(), s.ownerFinish())
	if err != nil {
		return err
	}

	if clean {
		if err := s.deps.store.Delete(s.rec.ID); err != nil {
			s.rollbackJobs(ctx, removed)
			return err
		}
		if err := s.log.Remove(); err != nil {
			s.deps.logger.Warn("value log removal failed",
				zap.String("session", string(s.rec.ID)), zap.Error(err))
		}
		// 记录已删除；内存对象仍标记结束，拦截悬挂引用的后续记值
		s.rec.Active = false
		s.rec.Finished = true
	} else {
		updated := s.rec
		updated.Active = false
		updated.Finished = true
		if err := s.deps.store.Put(updated); err != nil {
			s.rollbackJobs(ctx, removed)
			return err
		}
		s.rec = updated
	}

	if wasActive && s.deps.metrics != nil {
		s.deps.metrics.SessionsActive.Dec()
	}
	at := s.deps.now()
	s.appendEvent(at, "info", fmt.Sprintf("Session %s finished (clean=%v)", s.rec.ID, clean))
	s.deps.logger.Info("session finished",
		zap.String("session", string(s.rec.ID)), zap.Bool("clean", clean))
	return nil
}

func (s *Session) rollbackJobs(ctx context.Context, jobs []*cron.Job) {
	if len(jobs) == 0 {
		return
	}
	s.deps.cron.Readd(jobs)
	if err := s.deps.cron.Write(ctx); err != nil {
		s.deps.logger.Error("job re-arm failed",
			zap.String("session", string(s.rec.ID)), zap.Error(err))
	}
}

func (s *Session) appendEvent(at time.Time, kind, msg string) {
	if s.deps.events == nil {
		return
	}
	if err := s.deps.events.Append(at, kind, msg); err != nil {
		s.deps.logger.Warn("event log append failed", zap.Error(err))
	}
}
