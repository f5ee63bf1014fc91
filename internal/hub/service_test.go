package hub

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/cron"
	"github.com/sandergv/tchub/internal/notify"
	"github.com/sandergv/tchub/internal/storage"
)

type fakeConn struct {
	sent   []string
	closed bool
}

func (c *fakeConn) Send(line string) error {
	c.sent = append(c.sent, line)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeFetcher struct {
	value float64
	err   error
}

func (f *fakeFetcher) Fetch(context.Context, string, coremodel.SensorID) (float64, error) {
	return f.value, f.err
}

type harness struct {
	svc     *Service
	reg     *Registry
	runner  *cron.MemoryRunner
	store   *storage.SessionStore
	fetcher *fakeFetcher
	conn    *fakeConn
	alerts  []string
	dir     string
	clock   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.OpenSessionStore(filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}

	h := &harness{
		runner:  &cron.MemoryRunner{},
		store:   store,
		fetcher: &fakeFetcher{value: 21.5},
		conn:    &fakeConn{},
		dir:     dir,
		clock:   time.Date(2020, 1, 7, 22, 10, 6, 0, time.Local),
	}
	now := func() time.Time { return h.clock }

	h.reg = NewRegistry(nil, nil, nil, nil, WithRegistryClock(now))
	h.svc = NewService(Deps{
		Registry: h.reg,
		Relay:    NewRelay(nil, nil),
		Sessions: store,
		Cron:     cron.NewStore(h.runner, "tchub", time.Second),
		Notifier: notify.Func(func(msg string) { h.alerts = append(h.alerts, msg) }),
		Fetcher:  h.fetcher,
		DataDir:  dir,
		CallbackURL: "http://localhost:8080",
	}, WithClock(now))

	specs := []SensorSpec{{ID: "s1", Model: "dht11", Measure: "C"}, {ID: "s2", Model: "ldr", Measure: "lux"}}
	if _, _, err := h.reg.Connect("B1", "192.168.1.20", specs, h.conn); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return h
}

func (h *harness) create(t *testing.T, p CreateParams) *Session {
	t.Helper()
	sess, err := h.svc.CreateSession(context.Background(), p)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestOpenOnChangeSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen,
	})

	if sess.State() != coremodel.StateActive {
		t.Fatalf("open session should be active, got %s", sess.State())
	}
	rec := sess.Snapshot()
	if rec.Active && rec.Finished {
		t.Fatalf("active and finished must never both be set")
	}
	if len(h.conn.sent) == 0 || h.conn.sent[len(h.conn.sent)-1] != "sendon" {
		t.Fatalf("board should have been told to broadcast, sent=%v", h.conn.sent)
	}

	if err := h.svc.FinishSession(context.Background(), sess.ID(), false); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, ok := h.store.Get(sess.ID())
	if !ok {
		t.Fatalf("keep finish must retain the record")
	}
	if got.Active || !got.Finished {
		t.Fatalf("finished record flags wrong: active=%v finished=%v", got.Active, got.Finished)
	}
	if _, err := os.Stat(got.LogPath); err != nil {
		t.Fatalf("keep finish must retain the value log: %v", err)
	}
}

func TestCleanFinishRemovesRecordAndLog(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen,
	})
	logPath := sess.Snapshot().LogPath

	if err := h.svc.FinishSession(context.Background(), sess.ID(), true); err != nil {
		t.Fatalf("clean finish: %v", err)
	}
	if _, ok := h.store.Get(sess.ID()); ok {
		t.Fatalf("clean finish must delete the record")
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatalf("clean finish must delete the value log")
	}
	if _, ok := h.svc.Session(sess.ID()); ok {
		t.Fatalf("clean finish must drop the session from the index")
	}
}

func TestFinishTwiceRejected(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen,
	})
	if err := h.svc.FinishSession(context.Background(), sess.ID(), false); err != nil {
		t.Fatalf("finish: %v", err)
	}
	err := h.svc.FinishSession(context.Background(), sess.ID(), false)
	if !errors.Is(err, coremodel.ErrInvalidState) {
		t.Fatalf("second finish should be invalid state, got %v", err)
	}
}

func TestRecordRejectedOutsideActive(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionInterval, Kind: coremodel.KindScheduled,
		IntervalUnit: coremodel.UnitMinute, IntervalCount: 5,
		StartDate: "2020-02-01 08:00:00",
	})
	if sess.State() != coremodel.StatePending {
		t.Fatalf("future start date should leave session pending, got %s", sess.State())
	}

	if err := sess.Record(21.5); !errors.Is(err, coremodel.ErrInvalidState) {
		t.Fatalf("record on pending should be invalid state, got %v", err)
	}

	data, err := os.ReadFile(sess.Snapshot().LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.TrimSpace(string(data)) != "TimeStamp,Value" {
		t.Fatalf("rejected record must not touch the log, got %q", data)
	}
}

func TestAlertThresholds(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen,
		AlertEnabled: true, Min: 10, Max: 30,
	})

	for _, v := range []float64{5, 20, 35} {
		if err := h.svc.OnReading("B1", "s1", v); err != nil {
			t.Fatalf("reading %v: %v", v, err)
		}
		h.clock = h.clock.Add(time.Minute)
	}

	if len(h.alerts) != 2 {
		t.Fatalf("expected alerts for 5 and 35 only, got %d: %v", len(h.alerts), h.alerts)
	}
	data, err := os.ReadFile(sess.Snapshot().LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 values, got %v", lines)
	}
	if !strings.HasSuffix(lines[1], ",5") || !strings.HasSuffix(lines[2], ",20") || !strings.HasSuffix(lines[3], ",35") {
		t.Fatalf("values out of order: %v", lines[1:])
	}
}

func TestIntervalSessionArmsAndDisarmsJob(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionInterval, Kind: coremodel.KindOpen,
		IntervalUnit: coremodel.UnitMinute, IntervalCount: 10,
	})

	if sess.State() != coremodel.StateActive {
		t.Fatalf("open interval session should be active immediately")
	}
	if len(h.runner.Lines) != 1 {
		t.Fatalf("expected 1 installed job, got %v", h.runner.Lines)
	}
	if !strings.HasPrefix(h.runner.Lines[0], "*/10 * * * * curl -s ") {
		t.Fatalf("unexpected job line %q", h.runner.Lines[0])
	}

	if err := h.svc.FinishSession(context.Background(), sess.ID(), false); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(h.runner.Lines) != 0 {
		t.Fatalf("finish must remove the sampling job, got %v", h.runner.Lines)
	}
}

func TestNoPartialTransitionOnSchedulerFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.FailInstall = errors.New("crontab unavailable")

	_, err := h.svc.CreateSession(context.Background(), CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionInterval, Kind: coremodel.KindOpen,
		IntervalUnit: coremodel.UnitMinute, IntervalCount: 10,
	})
	if err == nil {
		t.Fatalf("create must fail when the scheduler does")
	}
	if len(h.store.All()) != 0 {
		t.Fatalf("no record may be persisted on a failed transition")
	}
	if len(h.runner.Lines) != 0 {
		t.Fatalf("no job may be installed on a failed transition")
	}
	if len(h.svc.ListSessions("", "")) != 0 {
		t.Fatalf("failed creation must not register a session")
	}
}

func TestScheduledSessionStartTrigger(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionInterval, Kind: coremodel.KindScheduled,
		IntervalUnit: coremodel.UnitHour, IntervalCount: 1,
		StartDate: "2020-02-01 08:00:00",
	})

	if sess.State() != coremodel.StatePending {
		t.Fatalf("expected pending, got %s", sess.State())
	}
	if len(h.runner.Lines) != 1 || !strings.HasPrefix(h.runner.Lines[0], "0 0 1 2 * curl -s -X POST ") {
		t.Fatalf("expected calendar start trigger, got %v", h.runner.Lines)
	}
	rec, ok := h.store.Get(sess.ID())
	if !ok || rec.State() != coremodel.StatePending {
		t.Fatalf("pending session must be persisted as pending")
	}

	// 日历触发到点，回调启动
	h.clock = time.Date(2020, 2, 1, 8, 0, 0, 0, time.Local)
	if err := h.svc.StartSession(context.Background(), sess.ID()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.State() != coremodel.StateActive {
		t.Fatalf("expected active after start, got %s", sess.State())
	}
	if len(h.runner.Lines) != 1 || !strings.HasPrefix(h.runner.Lines[0], "0 */1 * * * curl -s ") {
		t.Fatalf("start trigger must be swapped for the sampling job, got %v", h.runner.Lines)
	}

	if err := h.svc.StartSession(context.Background(), sess.ID()); !errors.Is(err, coremodel.ErrInvalidState) {
		t.Fatalf("double start should be invalid state, got %v", err)
	}
}

func TestOnChangeSupersession(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen,
	})
	h.clock = h.clock.Add(time.Second)
	second := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen,
	})

	if first.State() != coremodel.StateActive {
		t.Fatalf("superseded session must stay active, got %s", first.State())
	}
	board, _ := h.reg.Board("B1")
	if oc := board.Sensor("s1").OnChange(); oc == nil || oc.ID() != second.ID() {
		t.Fatalf("sensor must point at the new on-change session")
	}

	// 推送只进新会话
	if err := h.svc.OnReading("B1", "s1", 19); err != nil {
		t.Fatalf("reading: %v", err)
	}
	data, _ := os.ReadFile(first.Snapshot().LogPath)
	if strings.TrimSpace(string(data)) != "TimeStamp,Value" {
		t.Fatalf("superseded session must stop receiving readings")
	}
	data, _ = os.ReadFile(second.Snapshot().LogPath)
	if !strings.Contains(string(data), ",19") {
		t.Fatalf("new session must receive the reading, got %q", data)
	}
}

func TestSessionIDCollisionSuffix(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, CreateParams{Board: "B1", Sensor: "s1", Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen})
	b := h.create(t, CreateParams{Board: "B1", Sensor: "s2", Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen})

	if a.ID() != "200107221006" {
		t.Fatalf("id derived from clock, got %s", a.ID())
	}
	if b.ID() != "200107221006-2" {
		t.Fatalf("same-second creation needs a suffix, got %s", b.ID())
	}
}

func TestSessionIDNotReusedAfterCleanFinish(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, CreateParams{Board: "B1", Sensor: "s1", Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen})
	if err := h.svc.FinishSession(context.Background(), a.ID(), true); err != nil {
		t.Fatalf("clean finish: %v", err)
	}

	// 同一秒内重建：clean 结束腾出的槽位不得复用
	b := h.create(t, CreateParams{Board: "B1", Sensor: "s1", Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen})
	if b.ID() == a.ID() {
		t.Fatalf("id %s reused after clean finish", a.ID())
	}
	if b.ID() != "200107221006-2" {
		t.Fatalf("expected suffixed id, got %s", b.ID())
	}
}

func TestStateFlagsInvariantUnderRandomTransitions(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(7))

	var all []*Session
	checkInvariant := func(step int) {
		t.Helper()
		for _, sess := range all {
			if rec := sess.Snapshot(); rec.Active && rec.Finished {
				t.Fatalf("step %d: session %s has both state flags set", step, rec.ID)
			}
		}
		for _, rec := range h.store.All() {
			if rec.Active && rec.Finished {
				t.Fatalf("step %d: persisted record %s has both state flags set", step, rec.ID)
			}
		}
	}

	tolerated := func(err error) bool {
		return err == nil || errors.Is(err, coremodel.ErrInvalidState) || errors.Is(err, coremodel.ErrNotFound)
	}

	for step := 0; step < 200; step++ {
		switch rng.Intn(4) {
		case 0:
			p := CreateParams{Board: "B1", Sensor: "s1", Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen}
			if rng.Intn(2) == 0 {
				p.Sensor = "s2"
			}
			if rng.Intn(2) == 0 {
				p.Description = coremodel.DescriptionInterval
				p.IntervalUnit = coremodel.UnitMinute
				p.IntervalCount = rng.Intn(10) + 1
			}
			if rng.Intn(3) == 0 {
				p.Kind = coremodel.KindScheduled
				p.StartDate = coremodel.FormatTime(h.clock.Add(time.Hour))
			}
			sess, err := h.svc.CreateSession(context.Background(), p)
			if err != nil {
				t.Fatalf("step %d: create: %v", step, err)
			}
			all = append(all, sess)
		case 1:
			if len(all) == 0 {
				continue
			}
			sess := all[rng.Intn(len(all))]
			if err := h.svc.StartSession(context.Background(), sess.ID()); !tolerated(err) {
				t.Fatalf("step %d: start %s: %v", step, sess.ID(), err)
			}
		case 2:
			if len(all) == 0 {
				continue
			}
			sess := all[rng.Intn(len(all))]
			if err := h.svc.FinishSession(context.Background(), sess.ID(), rng.Intn(2) == 0); !tolerated(err) {
				t.Fatalf("step %d: finish %s: %v", step, sess.ID(), err)
			}
		case 3:
			if err := h.svc.OnReading("B1", "s1", rng.Float64()*50); err != nil {
				t.Fatalf("step %d: reading: %v", step, err)
			}
		}
		h.clock = h.clock.Add(time.Second)
		checkInvariant(step)
	}
}

func TestPullAndRecord(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionInterval, Kind: coremodel.KindOpen,
		IntervalUnit: coremodel.UnitMinute, IntervalCount: 5,
	})

	h.fetcher.value = 23.4
	got, err := h.svc.PullAndRecord(context.Background(), "B1", "s1", sess.ID())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got != 23.4 {
		t.Fatalf("got %v", got)
	}
	data, _ := os.ReadFile(sess.Snapshot().LogPath)
	if !strings.Contains(string(data), ",23.4") {
		t.Fatalf("pulled value must be logged, got %q", data)
	}

	if _, err := h.svc.PullAndRecord(context.Background(), "B1", "s2", sess.ID()); !errors.Is(err, coremodel.ErrNotFound) {
		t.Fatalf("session/sensor mismatch should be not found, got %v", err)
	}
}

func TestRestoreRelinksSessions(t *testing.T) {
	h := newHarness(t)
	sess := h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionOnChange, Kind: coremodel.KindOpen,
		AlertEnabled: true, Min: 10, Max: 30,
	})
	id := sess.ID()

	// 重启：同一文档、新的服务实例
	reg := NewRegistry(nil, nil, nil, nil, WithRegistryClock(func() time.Time { return h.clock }))
	reg.Restore([]coremodel.DeviceRecord{{
		ID: "B1", Addr: "192.168.1.20", ConnectedAt: "2020-01-07 22:00:00",
		Sensors: []coremodel.SensorRecord{{ID: "s1", Model: "dht11", Measure: "C"}},
	}})
	svc := NewService(Deps{
		Registry: reg,
		Sessions: h.store,
		Cron:     cron.NewStore(h.runner, "tchub", time.Second),
		Fetcher:  h.fetcher,
		DataDir:  h.dir,
		CallbackURL: "http://localhost:8080",
	}, WithClock(func() time.Time { return h.clock }))
	svc.Restore()

	restored, ok := svc.Session(id)
	if !ok {
		t.Fatalf("restore must reload persisted sessions")
	}
	if restored.State() != coremodel.StateActive {
		t.Fatalf("restored session should still be active, got %s", restored.State())
	}
	if err := svc.OnReading("B1", "s1", 20); err != nil {
		t.Fatalf("reading after restore: %v", err)
	}
	data, _ := os.ReadFile(restored.Snapshot().LogPath)
	if !strings.Contains(string(data), ",20") {
		t.Fatalf("restored on-change session must receive readings")
	}
}

func TestShutdownClean(t *testing.T) {
	h := newHarness(t)
	h.create(t, CreateParams{
		Board: "B1", Sensor: "s1",
		Description: coremodel.DescriptionInterval, Kind: coremodel.KindOpen,
		IntervalUnit: coremodel.UnitMinute, IntervalCount: 1,
	})

	if err := h.svc.Shutdown(context.Background(), true); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(h.runner.Lines) != 0 {
		t.Fatalf("clean shutdown must clear owned jobs, got %v", h.runner.Lines)
	}
	if _, err := os.Stat(h.dir); !os.IsNotExist(err) {
		t.Fatalf("clean shutdown must wipe the data dir")
	}
}
