package cron

import (
	"fmt"
	"time"

	"github.com/sandergv/tchub/internal/coremodel"
)

// TriggerKind 任务触发方式
type TriggerKind string

const (
	TriggerNone     TriggerKind = ""
	TriggerRepeat   TriggerKind = "repeat"
	TriggerCalendar TriggerKind = "calendar"
	TriggerWeekly   TriggerKind = "weekly"
	TriggerDaily    TriggerKind = "daily"
)

// Job 一条待安装的计划任务。Owner 标识归属（会话ID或进程自身），
// 渲染行尾携带归属标签，删除时按标签精确匹配而非命令子串。
type Job struct {
	Owner   string
	Command string

	kind  TriggerKind
	unit  coremodel.IntervalUnit
	count int

	day, month   int
	weekday      time.Weekday
	hour, minute int
}

// NewJob 构建一条计划任务。装好触发器后交给 Store.Arm 登记。
func NewJob(owner, command string) *Job {
	return &Job{Owner: owner, Command: command}
}

// Every 设置重复触发周期。day 周期渲染为“日号是 N 的倍数”，
// 跨月边界行为与 crontab 语义一致地不准确，是既有约定的保留。
func (j *Job) Every(unit coremodel.IntervalUnit, count int) *Job {
	j.kind = TriggerRepeat
	j.unit = unit
	j.count = count
	return j
}

// AtCalendar 设置一次性日历触发（每年该日该月的 00:00）
func (j *Job) AtCalendar(day, month int) *Job {
	j.kind = TriggerCalendar
	j.day, j.month = day, month
	return j
}

// AtWeekly 设置每周触发
func (j *Job) AtWeekly(dow time.Weekday, hour, minute int) *Job {
	j.kind = TriggerWeekly
	j.weekday, j.hour, j.minute = dow, hour, minute
	return j
}

// AtDaily 设置每日触发
func (j *Job) AtDaily(hour, minute int) *Job {
	j.kind = TriggerDaily
	j.hour, j.minute = hour, minute
	return j
}

// Schedule 渲染 5 字段计划表达式
func (j *Job) Schedule() (string, error) {
	switch j.kind {
	case TriggerRepeat:
		if j.count <= 0 {
			return "", fmt.Errorf("repeat trigger needs positive count, got %d", j.count)
		}
		switch j.unit {
		case coremodel.UnitMinute:
			return fmt.Sprintf("*/%d * * * *", j.count), nil
		case coremodel.UnitHour:
			return fmt.Sprintf("0 */%d * * *", j.count), nil
		case coremodel.UnitDay:
			return fmt.Sprintf("0 0 */%d * *", j.count), nil
		default:
			return "", fmt.Errorf("unknown interval unit %q", j.unit)
		}
	case TriggerCalendar:
		return fmt.Sprintf("0 0 %d %d *", j.day, j.month), nil
	case TriggerWeekly:
		return fmt.Sprintf("%d %d * * %d", j.minute, j.hour, int(j.weekday)), nil
	case TriggerDaily:
		return fmt.Sprintf("%d %d * * *", j.minute, j.hour), nil
	default:
		return "", fmt.Errorf("job %q has no trigger", j.Owner)
	}
}

// Line 渲染完整 crontab 行：表达式、命令与归属标签注释
func (j *Job) Line(tag string) (string, error) {
	sched, err := j.Schedule()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s # %s job=%s", sched, j.Command, tag, j.Owner), nil
}
