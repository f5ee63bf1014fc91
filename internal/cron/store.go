package cron

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Observer 接收任务表操作结果，用于指标上报
type Observer func(op, result string)

// Store 计划任务表的期望状态缓存与对账逻辑。外部表是事实来源：
// 每次变更前都重新读取，只追加缺失行、只移除自己标签的行。
// 读改写不具原子性，因此全部变更走同一把互斥锁。
type Store struct {
	mu      sync.Mutex
	runner  Runner
	tag     string
	timeout time.Duration
	jobs    []*Job
	observe Observer
}

// NewStore 创建任务表。tag 标识本进程拥有的行，timeout 约束每次
// 外部调用（超时视为调度器不可用）。
func NewStore(runner Runner, tag string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{runner: runner, tag: tag, timeout: timeout}
}

// SetObserver 安装操作结果回调
func (s *Store) SetObserver(o Observer) { s.observe = o }

func (s *Store) record(op, result string) {
	if s.observe != nil {
		s.observe(op, result)
	}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ownerOf 解析行尾标签，返回归属。非本进程的行返回 false。
func (s *Store) ownerOf(line string) (string, bool) {
	marker := "# " + s.tag + " job="
	i := strings.Index(line, marker)
	if i < 0 {
		return "", false
	}
	owner := line[i+len(marker):]
	if j := strings.IndexAny(owner, " \t"); j >= 0 {
		owner = owner[:j]
	}
	return owner, owner != ""
}

// Arm 登记一条构建完成的任务。触发器必须在登记前装好，
// 期望列表里不会出现并发 Write 渲染不了的半成品行。
// 同归属同命令的任务已登记时返回 false，保证期望列表无重复。
func (s *Store) Arm(j *Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if e.Owner == j.Owner && e.Command == j.Command {
			return false
		}
	}
	s.jobs = append(s.jobs, j)
	return true
}

// Tracked 返回当前登记的任务数
func (s *Store) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// ListExternal 返回外部表当前安装的原始行
func (s *Store) ListExternal(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.runner.Read(ctx)
}

// Write 将期望列表与外部表按渲染行精确比对，只追加缺失行。
// 幂等：重复调用不会产生重复行。失败时外部表与期望列表均不变。
func (s *Store) Write(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	external, err := s.runner.Read(ctx)
	if err != nil {
		s.record("write", "read_error")
		return err
	}

	present := make(map[string]bool, len(external))
	for _, l := range external {
		present[l] = true
	}

	lines := append([]string(nil), external...)
	added := 0
	for _, j := range s.jobs {
		line, err := j.Line(s.tag)
		if err != nil {
			s.record("write", "render_error")
			return err
		}
		if !present[line] {
			lines = append(lines, line)
			present[line] = true
			added++
		}
	}
	if added == 0 {
		s.record("write", "noop")
		return nil
	}
	if err := s.runner.Install(ctx, lines); err != nil {
		s.record("write", "install_error")
		return err
	}
	s.record("write", "ok")
	return nil
}

// RemoveOwner 移除外部表中归属于任一 owner 的全部行并注销对应任务。
// 返回被注销的任务，便于失败回滚时重新登记。
func (s *Store) RemoveOwner(ctx context.Context, owners ...string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	target := make(map[string]bool, len(owners))
	for _, o := range owners {
		target[o] = true
	}

	external, err := s.runner.Read(ctx)
	if err != nil {
		s.record("remove", "read_error")
		return nil, err
	}

	var kept []string
	removedLines := 0
	for _, l := range external {
		if o, ok := s.ownerOf(l); ok && target[o] {
			removedLines++
			continue
		}
		kept = append(kept, l)
	}
	if removedLines > 0 {
		if err := s.runner.Install(ctx, kept); err != nil {
			s.record("remove", "install_error")
			return nil, err
		}
	}

	var removed []*Job
	var rest []*Job
	for _, j := range s.jobs {
		if target[j.Owner] {
			removed = append(removed, j)
			continue
		}
		rest = append(rest, j)
	}
	s.jobs = rest
	s.record("remove", "ok")
	return removed, nil
}

// Untrack 仅从期望列表注销任务，不触碰外部表。用于 Write 失败后
// 放弃尚未安装的行。
func (s *Store) Untrack(owners ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := make(map[string]bool, len(owners))
	for _, o := range owners {
		target[o] = true
	}
	var rest []*Job
	for _, j := range s.jobs {
		if target[j.Owner] {
			continue
		}
		rest = append(rest, j)
	}
	s.jobs = rest
}

// Readd 重新登记一组任务（回滚路径），随后需调用 Write 恢复外部行
func (s *Store) Readd(jobs []*Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, jobs...)
}

// ClearAll 移除外部表中携带本进程标签的全部行并清空登记列表
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	external, err := s.runner.Read(ctx)
	if err != nil {
		s.record("clear", "read_error")
		return err
	}
	var kept []string
	removed := 0
	for _, l := range external {
		if _, ok := s.ownerOf(l); ok {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if removed > 0 {
		if err := s.runner.Install(ctx, kept); err != nil {
			s.record("clear", "install_error")
			return err
		}
	}
	s.jobs = nil
	s.record("clear", "ok")
	return nil
}

// Installed 判断外部表中是否存在本进程拥有的行
func (s *Store) Installed(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	external, err := s.runner.Read(ctx)
	if err != nil {
		return false, err
	}
	for _, l := range external {
		if _, ok := s.ownerOf(l); ok {
			return true, nil
		}
	}
	return false, nil
}
