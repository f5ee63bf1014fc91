package cron

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sandergv/tchub/internal/coremodel"
)

// Runner 计划任务表后端。Read 返回当前安装的全部行，
// Install 用给定行整体替换。生产实现走系统 crontab，测试用内存实现。
type Runner interface {
	Read(ctx context.Context) ([]string, error)
	Install(ctx context.Context, lines []string) error
}

// CrontabRunner 通过 crontab(1) 读写系统计划任务表
type CrontabRunner struct {
	// User 目标用户，空则为当前用户
	User string
}

func (r *CrontabRunner) args(extra ...string) []string {
	var a []string
	if r.User != "" {
		a = append(a, "-u", r.User)
	}
	return append(a, extra...)
}

// Read 读取已安装的行。空 crontab 返回空列表而非错误。
func (r *CrontabRunner) Read(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "crontab", r.args("-l")...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: crontab -l: %v: %s", coremodel.ErrSchedulerUnavailable, err, strings.TrimSpace(stderr.String()))
	}
	var lines []string
	for _, l := range strings.Split(stdout.String(), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Install 将行写入临时文件后整体替换 crontab
func (r *CrontabRunner) Install(ctx context.Context, lines []string) error {
	tmp, err := os.CreateTemp("", "tchub-crontab-*")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", coremodel.ErrSchedulerUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	for _, l := range lines {
		if _, err := fmt.Fprintln(tmp, l); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: write temp file: %v", coremodel.ErrSchedulerUnavailable, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", coremodel.ErrSchedulerUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, "crontab", r.args(tmp.Name())...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: crontab install: %v: %s", coremodel.ErrSchedulerUnavailable, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
