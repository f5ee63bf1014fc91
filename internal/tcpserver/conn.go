package tcpserver

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// ConnContext 一条板卡连接：按行读取的读循环 + 带队列的写循环。
// 读数按行到达，单连接内保持到达顺序。
type ConnContext struct {
	s      *Server
	c      net.Conn
	id     uint64
	writeC chan string
	closed int32
	onLine func(string)
	doneC  chan struct{}
}

func newConnContext(s *Server, c net.Conn) *ConnContext {
	return &ConnContext{
		s:      s,
		c:      c,
		id:     atomic.AddUint64(&s.nextConnID, 1),
		writeC: make(chan string, 64),
		doneC:  make(chan struct{}),
	}
}

// ID 返回连接ID（单进程唯一递增）
func (cc *ConnContext) ID() uint64 { return cc.id }

// RemoteAddr 返回远端地址
func (cc *ConnContext) RemoteAddr() net.Addr { return cc.c.RemoteAddr() }

// SetOnLine 安装行回调（收到一行上行文本时触发）
func (cc *ConnContext) SetOnLine(h func(string)) { cc.onLine = h }

// WriteLine 异步下发一行，受写队列与写超时影响
func (cc *ConnContext) WriteLine(line string) error {
	if atomic.LoadInt32(&cc.closed) == 1 {
		return errors.New("connection closed")
	}
	to := cc.s.cfg.WriteTimeout
	if to <= 0 {
		to = 5 * time.Second
	}
	select {
	case cc.writeC <- line:
		return nil
	case <-time.After(to):
		return errors.New("write queue timeout")
	}
}

// Close 关闭连接与写队列
func (cc *ConnContext) Close() error {
	if !atomic.CompareAndSwapInt32(&cc.closed, 0, 1) {
		return nil
	}
	close(cc.writeC)
	return cc.c.Close()
}

// run 启动读/写循环，阻塞直至连接结束
func (cc *ConnContext) run() {
	defer cc.Close()

	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		for line := range cc.writeC {
			if cc.s.cfg.WriteTimeout > 0 {
				_ = cc.c.SetWriteDeadline(time.Now().Add(cc.s.cfg.WriteTimeout))
			}
			_, _ = cc.c.Write([]byte(line + "\n"))
		}
	}()

	scanner := bufio.NewScanner(cc.c)
	scanner.Buffer(make([]byte, 0, 1024), 4096)
	for {
		if cc.s.cfg.IdleTimeout > 0 {
			_ = cc.c.SetReadDeadline(time.Now().Add(cc.s.cfg.IdleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if cc.s.onRecvBytes != nil {
			cc.s.onRecvBytes(len(line))
		}
		if cc.onLine != nil {
			cc.onLine(line)
		}
	}

	<-doneW
	select {
	case <-cc.doneC:
	default:
		close(cc.doneC)
	}
}

// Done 返回连接关闭通知通道
func (cc *ConnContext) Done() <-chan struct{} { return cc.doneC }
