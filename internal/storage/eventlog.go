package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sandergv/tchub/internal/coremodel"
)

const eventLogHeader = "TimeStamp,Type,Message\n"

// EventLog 枢纽事件日志 logs.csv：连接、断开、会话启停与告警各记一行。
// 与 zap 并存，面向离线查看。
type EventLog struct {
	mu   sync.Mutex
	path string
}

// OpenEventLog 打开事件日志，不存在则创建并写入表头
func OpenEventLog(path string) (*EventLog, error) {
	l := &EventLog{path: path}
	if _, err := os.Stat(path); err == nil {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir for %s: %v", coremodel.ErrStorageUnavailable, path, err)
	}
	if err := os.WriteFile(path, []byte(eventLogHeader), 0o644); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", coremodel.ErrStorageUnavailable, path, err)
	}
	return l, nil
}

// Append 追加一条事件。失败只返回错误，调用方通常记日志后忽略。
func (l *EventLog) Append(at time.Time, kind, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", coremodel.ErrStorageUnavailable, l.path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s,%s,%s\n", coremodel.FormatTime(at), kind, msg); err != nil {
		return fmt.Errorf("%w: append %s: %v", coremodel.ErrStorageUnavailable, l.path, err)
	}
	return nil
}
