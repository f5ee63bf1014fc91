package coremodel

import "errors"

// 核心错误分类。上层通过 errors.Is 判别并映射为对外状态。
var (
	// ErrNotFound 板卡/传感器/会话ID无法解析
	ErrNotFound = errors.New("not found")
	// ErrInvalidState 当前会话状态下不允许该操作
	ErrInvalidState = errors.New("invalid session state")
	// ErrSchedulerUnavailable 外部计划任务表读写失败
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	// ErrStorageUnavailable 持久化文档读写失败
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrTransport 连接收发失败
	ErrTransport = errors.New("transport error")
)
