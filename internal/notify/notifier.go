package notify

// Notifier 尽力而为的告警出口。实现不得阻塞调用方，
// 发送失败只记日志，永不向触发方传播。
type Notifier interface {
	Notify(msg string)
}

// Nop 空实现，未配置通知渠道或测试时使用
type Nop struct{}

func (Nop) Notify(string) {}

// Func 以函数适配 Notifier，测试捕获告警用
type Func func(msg string)

func (f Func) Notify(msg string) {
	if f != nil {
		f(msg)
	}
}
