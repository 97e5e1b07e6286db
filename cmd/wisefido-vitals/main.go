package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/service"
	"wisefido-vitals/pkg/logger"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化Logger
	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-vitals")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("Starting wisefido-vitals service",
		zap.String("environment", cfg.Environment),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Strings("enabled_plugins", cfg.Plugins.Enabled),
		zap.String("raw_stream", cfg.Streams.Raw),
		zap.String("output_stream", cfg.Streams.Output),
		zap.Bool("db_enabled", cfg.DBEnabled),
		zap.Bool("mqtt_enabled", cfg.MQTTEnabled),
	)

	// 创建服务
	vitalsService, err := service.NewVitalsService(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to create vitals service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 在 goroutine 中启动服务
	go func() {
		if err := vitalsService.Start(ctx); err != nil {
			zl.Fatal("Failed to start vitals service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zl.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := vitalsService.Stop(shutdownCtx); err != nil {
		zl.Error("Error during shutdown", zap.Error(err))
	}

	zl.Info("Service stopped")
}
