package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/api"
	"github.com/sandergv/tchub/internal/boardclient"
	cfgpkg "github.com/sandergv/tchub/internal/config"
	"github.com/sandergv/tchub/internal/cron"
	"github.com/sandergv/tchub/internal/gateway"
	"github.com/sandergv/tchub/internal/health"
	"github.com/sandergv/tchub/internal/httpserver"
	"github.com/sandergv/tchub/internal/hub"
	"github.com/sandergv/tchub/internal/metrics"
	"github.com/sandergv/tchub/internal/notify"
	"github.com/sandergv/tchub/internal/storage"
	"github.com/sandergv/tchub/internal/tcpserver"
)

// 自更新任务的归属标签，ClearAll 连同会话任务一并清除
const updateJobOwner = "hub-update"

// Run 统一启动流程
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting telemetry hub", zap.String("env", cfg.App.Env))

	// ========== 阶段1: 指标与数据目录 ==========
	reg := metrics.NewRegistry()
	appm := metrics.NewAppMetrics(reg)
	metricsHandler := metrics.Handler(reg)

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		log.Error("data dir unavailable", zap.Error(err))
		return err
	}
	log.Info("data dir ready", zap.String("dir", cfg.Data.Dir))

	// ========== 阶段2: 持久化文档与事件日志 ==========
	sessionStore, err := storage.OpenSessionStore(filepath.Join(cfg.Data.Dir, "sessions.json"))
	if err != nil {
		log.Error("session store open failed", zap.Error(err))
		return err
	}
	deviceStore, err := storage.OpenDeviceStore(filepath.Join(cfg.Data.Dir, "devices.json"))
	if err != nil {
		log.Error("device store open failed", zap.Error(err))
		return err
	}
	eventLog, err := storage.OpenEventLog(filepath.Join(cfg.Data.Dir, "logs.csv"))
	if err != nil {
		log.Error("event log open failed", zap.Error(err))
		return err
	}

	// ========== 阶段3: 任务表与通知 ==========
	runner := &cron.CrontabRunner{User: cfg.Scheduler.User}
	cronStore := cron.NewStore(runner, cfg.Scheduler.Tag, cfg.Scheduler.Timeout)
	cronStore.SetObserver(func(op, result string) {
		appm.CronOpsTotal.WithLabelValues(op, result).Inc()
	})

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegram(nil, cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		log.Info("telegram notifier enabled")
	}

	// ========== 阶段4: 注册表与服务核心，启动恢复 ==========
	registry := hub.NewRegistry(deviceStore, eventLog, log, appm)
	registry.Restore(deviceStore.All())

	relay := hub.NewRelay(log, appm)
	svc := hub.NewService(hub.Deps{
		Registry:    registry,
		Relay:       relay,
		Sessions:    sessionStore,
		Cron:        cronStore,
		Notifier:    notifier,
		Events:      eventLog,
		Fetcher:     boardclient.New(nil),
		DataDir:     cfg.Data.Dir,
		CallbackURL: cfg.Scheduler.CallbackURL,
		Logger:      log,
		Metrics:     appm,
	})
	svc.Restore()

	// 重装会话任务：Write 幂等，宕机期间丢失的行补回来
	if cfg.Scheduler.Enable {
		if err := svc.RearmJobs(context.Background()); err != nil {
			log.Warn("job re-arm on startup failed", zap.Error(err))
		}
		if cfg.Scheduler.SelfUpdate && cfg.Scheduler.UpdateCommand != "" {
			cronStore.Arm(cron.NewJob(updateJobOwner, cfg.Scheduler.UpdateCommand).AtDaily(0, 1))
			if err := cronStore.Write(context.Background()); err != nil {
				log.Warn("self-update job arming failed", zap.Error(err))
			} else {
				log.Info("self-update job armed", zap.String("owner", updateJobOwner))
			}
		}
	}

	// ========== 阶段5: 健康检查与HTTP服务 ==========
	healthAgg := health.NewAggregator(
		health.NewStorageChecker(cfg.Data.Dir),
	)
	if cfg.Scheduler.Enable {
		healthAgg.AddChecker(health.NewSchedulerChecker(runner))
	}
	readyFn := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return healthAgg.Ready(ctx)
	}

	var mh = metricsHandler
	if !cfg.Metrics.Enable {
		mh = nil
	}
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, mh, readyFn)

	stopC := make(chan bool, 1)
	handlers := api.NewHandlers(svc, func(clean bool) {
		select {
		case stopC <- clean:
		default:
		}
	}, log)
	httpSrv.Register(func(r *gin.Engine) {
		api.RegisterRoutes(r, handlers, log)
	})

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	// ========== 阶段6: 板卡网关 ==========
	tcpSrv := tcpserver.New(cfg.TCP, log)
	tcpSrv.SetMetricsCallbacks(
		func() { appm.TCPAccepted.Inc() },
		func(n int) { appm.TCPBytesReceived.Add(float64(n)) },
	)
	tcpSrv.SetHandler(gateway.NewConnHandler(registry, svc, log))
	if err := tcpSrv.Start(); err != nil {
		log.Error("board gateway start failed", zap.Error(err))
		return err
	}
	log.Info("board gateway started", zap.String("addr", cfg.TCP.Addr))

	if err := eventLog.Append(time.Now(), "info", "Server started"); err != nil {
		log.Warn("event log append failed", zap.Error(err))
	}
	notifier.Notify("tchub: server started")

	// ========== 阶段7: 等待关闭 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	clean := false
	select {
	case <-sigCh:
		log.Info("received shutdown signal")
	case clean = <-stopC:
		log.Info("stop requested over http", zap.Bool("clean", clean))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctx)
	log.Info("http server stopped")
	_ = tcpSrv.Shutdown(ctx)
	log.Info("board gateway stopped")

	if err := svc.Shutdown(ctx, clean); err != nil {
		log.Error("shutdown cleanup failed", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}
