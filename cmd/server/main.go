package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/sandergv/tchub/internal/app/bootstrap"
	cfgpkg "github.com/sandergv/tchub/internal/config"
	"github.com/sandergv/tchub/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "config file path (defaults to TCHUB_CONFIG or ./configs)")
	flag.Parse()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
