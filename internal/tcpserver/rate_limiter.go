package tcpserver

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter 接入速率限制（令牌桶）。板卡断电重启风暴时
// 保护注册表与持久化层。
type RateLimiter struct {
	limiter  *rate.Limiter
	rejected atomic.Int64
}

// NewRateLimiter 创建限流器。ratePerSec 为稳定接入速率，burst 为桶容量。
func NewRateLimiter(ratePerSec, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 50
	}
	if burst <= 0 {
		burst = ratePerSec * 2
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow 非阻塞判定是否接受本次接入
func (l *RateLimiter) Allow() bool {
	if l.limiter.Allow() {
		return true
	}
	l.rejected.Add(1)
	return false
}

// RejectedCount 被拒绝的接入数（累计）
func (l *RateLimiter) RejectedCount() int64 { return l.rejected.Load() }
