package tcpserver

import (
	"context"
	"testing"
	"time"
)

func TestConnectionLimiterCap(t *testing.T) {
	l := NewConnectionLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("third acquire should hit the cap")
	}
	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if l.Current() != 2 {
		t.Fatalf("current = %d, want 2", l.Current())
	}
}

func TestRateLimiterRejects(t *testing.T) {
	l := NewRateLimiter(1, 1)
	if !l.Allow() {
		t.Fatalf("first connection should pass")
	}
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed > 1 {
		t.Fatalf("burst of 1 must reject the flood, allowed=%d", allowed)
	}
	if l.RejectedCount() == 0 {
		t.Fatalf("rejections must be counted")
	}
}
