package tcpserver

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/sandergv/tchub/internal/config"
)

// Server 板卡网关监听器。每个连接一个读循环 goroutine，
// 接入速率与并发连接数分别受限。
type Server struct {
	cfg        cfgpkg.TCPConfig
	ln         net.Listener
	wg         sync.WaitGroup
	stopC      chan struct{}
	logger     *zap.Logger
	handler    func(*ConnContext)
	rate       *RateLimiter
	conns      *ConnectionLimiter
	nextConnID uint64
	// 可选指标回调
	onAccept    func()
	onRecvBytes func(n int)
}

// New 创建网关
func New(cfg cfgpkg.TCPConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		stopC:  make(chan struct{}),
		logger: logger,
		rate:   NewRateLimiter(cfg.RatePerSec, cfg.Burst),
		conns:  NewConnectionLimiter(cfg.MaxConns, 0),
	}
}

// SetHandler 设置连接处理回调（每个接入的连接触发一次）
func (s *Server) SetHandler(h func(*ConnContext)) { s.handler = h }

// SetMetricsCallbacks 设置指标回调
func (s *Server) SetMetricsCallbacks(onAccept func(), onRecvBytes func(int)) {
	s.onAccept, s.onRecvBytes = onAccept, onRecvBytes
}

// Logger 返回网关日志器
func (s *Server) Logger() *zap.Logger { return s.logger }

// Start 监听并接受连接（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("board gateway listening", zap.String("addr", s.cfg.Addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				select {
				case <-s.stopC:
					return
				default:
				}
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if !s.rate.Allow() {
				s.logger.Warn("connection rejected by rate limit",
					zap.String("remote", conn.RemoteAddr().String()))
				_ = conn.Close()
				continue
			}
			if err := s.conns.Acquire(context.Background()); err != nil {
				s.logger.Warn("connection rejected by connection cap",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				_ = conn.Close()
				continue
			}
			if s.onAccept != nil {
				s.onAccept()
			}

			cc := newConnContext(s, conn)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.conns.Release()
				if s.handler != nil {
					s.handler(cc)
				}
				cc.run()
			}()
		}
	}()
	return nil
}

// Shutdown 优雅关闭监听并等待连接退出
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopC)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
