package health

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// StorageChecker 数据目录可写性检查
type StorageChecker struct {
	dir string
}

// NewStorageChecker 创建存储检查器
func NewStorageChecker(dir string) *StorageChecker {
	return &StorageChecker{dir: dir}
}

func (c *StorageChecker) Name() string { return "storage" }

// Check 在数据目录写入并删除一个探测文件
func (c *StorageChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	probe := filepath.Join(c.dir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "data dir not writable: " + err.Error(),
			Latency: time.Since(start),
		}
	}
	_ = os.Remove(probe)
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start)}
}
