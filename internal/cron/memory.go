package cron

import "context"

// MemoryRunner 内存计划任务表，测试用。FailRead/FailInstall
// 非空时对应操作返回该错误，用于验证调度器不可用路径。
type MemoryRunner struct {
	Lines       []string
	FailRead    error
	FailInstall error

	Installs int
}

func (r *MemoryRunner) Read(ctx context.Context) ([]string, error) {
	if r.FailRead != nil {
		return nil, r.FailRead
	}
	out := make([]string, len(r.Lines))
	copy(out, r.Lines)
	return out, nil
}

func (r *MemoryRunner) Install(ctx context.Context, lines []string) error {
	if r.FailInstall != nil {
		return r.FailInstall
	}
	r.Lines = make([]string, len(lines))
	copy(r.Lines, lines)
	r.Installs++
	return nil
}
