package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sandergv/tchub/internal/coremodel"
)

const valueLogHeader = "TimeStamp,Value\n"

// ValueLog 会话取值日志：CSV，只追加。创建后除显式删除外不截断、不改写。
type ValueLog struct {
	mu   sync.Mutex
	path string
}

// NewValueLog 绑定日志路径（不创建文件）
func NewValueLog(path string) *ValueLog { return &ValueLog{path: path} }

// Path 返回日志文件路径
func (l *ValueLog) Path() string { return l.path }

// Create 确保目录与带表头的日志文件存在。已存在时不动原文件。
func (l *ValueLog) Create() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := os.Stat(l.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", coremodel.ErrStorageUnavailable, l.path, err)
	}
	if err := os.WriteFile(l.path, []byte(valueLogHeader), 0o644); err != nil {
		return fmt.Errorf("%w: create %s: %v", coremodel.ErrStorageUnavailable, l.path, err)
	}
	return nil
}

// Append 追加一行取值。并发调用串行化，避免交错行。
func (l *ValueLog) Append(at time.Time, value float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", coremodel.ErrStorageUnavailable, l.path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s,%v\n", coremodel.FormatTime(at), value); err != nil {
		return fmt.Errorf("%w: append %s: %v", coremodel.ErrStorageUnavailable, l.path, err)
	}
	return nil
}

// Remove 删除日志文件（仅 clean 结束路径调用）
func (l *ValueLog) Remove() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", coremodel.ErrStorageUnavailable, l.path, err)
	}
	return nil
}
