package health

import (
	"context"
	"time"

	"github.com/sandergv/tchub/internal/cron"
)

// SchedulerChecker 外部任务表可达性检查。调度器故障只影响
// 周期采样，推送链路仍可服务，因此降级而非不健康。
type SchedulerChecker struct {
	runner cron.Runner
}

// NewSchedulerChecker 创建调度器检查器
func NewSchedulerChecker(runner cron.Runner) *SchedulerChecker {
	return &SchedulerChecker{runner: runner}
}

func (c *SchedulerChecker) Name() string { return "scheduler" }

// Check 读取外部任务表
func (c *SchedulerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if _, err := c.runner.Read(ctx); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "crontab unreachable: " + err.Error(),
			Latency: time.Since(start),
		}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start)}
}
