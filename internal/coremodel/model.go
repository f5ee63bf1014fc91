package coremodel

import (
	"fmt"
	"time"
)

// BoardID 板卡标识（设备首次接入时自报）
type BoardID string

// SensorID 传感器标识，板卡内唯一
type SensorID string

// SessionID 采集会话ID，由创建时刻派生
type SessionID string

// Description 会话采集方式
type Description string

const (
	// DescriptionOnChange 设备主动推送时记录
	DescriptionOnChange Description = "onchange"
	// DescriptionInterval 周期任务定时拉取
	DescriptionInterval Description = "interval"
)

// Kind 会话启动方式
type Kind string

const (
	// KindOpen 创建即启动
	KindOpen Kind = "open"
	// KindScheduled 依赖日历触发
	KindScheduled Kind = "scheduled"
)

// IntervalUnit 采样周期单位
type IntervalUnit string

const (
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
)

// SessionState 会话状态，由 active/finished 标志派生
type SessionState string

const (
	StatePending  SessionState = "pending"
	StateActive   SessionState = "active"
	StateFinished SessionState = "finished"
)

// TimeLayout 所有持久化记录统一的时间格式（秒级）
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime 按持久化格式输出时间戳
func FormatTime(t time.Time) string { return t.Format(TimeLayout) }

// ParseTime 解析持久化格式的时间戳
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// AlertConfig 阈值告警配置
type AlertConfig struct {
	Enabled bool    `json:"enabled"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// SessionRecord 会话持久化记录（sessions 文档中的条目）
type SessionRecord struct {
	ID            SessionID    `json:"id"`
	Board         BoardID      `json:"board"`
	Sensor        SensorID     `json:"sensor"`
	Description   Description  `json:"description"`
	Kind          Kind         `json:"kind"`
	IntervalUnit  IntervalUnit `json:"interval_unit,omitempty"`
	IntervalCount int          `json:"interval_count,omitempty"`
	StartDate     string       `json:"start_date,omitempty"`
	FinishDate    string       `json:"finish_date,omitempty"`
	Alert         AlertConfig  `json:"alert"`
	Active        bool         `json:"active"`
	Finished      bool         `json:"finished"`
	LogPath       string       `json:"log_path"`
	CreatedAt     string       `json:"created_at"`
}

// State 由标志位派生会话状态。active 与 finished 互斥。
func (r *SessionRecord) State() SessionState {
	switch {
	case r.Finished:
		return StateFinished
	case r.Active:
		return StateActive
	default:
		return StatePending
	}
}

// SensorRecord 传感器持久化记录
type SensorRecord struct {
	ID      SensorID `json:"id"`
	Model   string   `json:"model"`
	Measure string   `json:"measure"`
}

// DeviceRecord 板卡持久化记录（devices 文档中的条目，按板卡ID去重覆盖）
type DeviceRecord struct {
	ID          BoardID        `json:"id"`
	Addr        string         `json:"addr"`
	ConnectedAt string         `json:"connected_at"`
	Sensors     []SensorRecord `json:"sensors"`
}

// Reading 一次传感器读数
type Reading struct {
	Board  BoardID
	Sensor SensorID
	Value  float64
	At     time.Time
}
