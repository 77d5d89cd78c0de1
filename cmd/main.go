package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-QA-system/api"
	"github.com/fyerfyer/pdf-QA-system/api/handler"
	"github.com/fyerfyer/pdf-QA-system/api/middleware"
	"github.com/fyerfyer/pdf-QA-system/config"
	"github.com/fyerfyer/pdf-QA-system/internal/app"
)

// 命令行参数，非零值覆盖配置文件
type flags struct {
	ConfigFile  string
	InitConfig  bool
	Port        int
	Mode        string
	LogLevel    string
	QueueEnable bool
}

func main() {
	f := parseFlags()

	if f.InitConfig {
		if err := config.WriteDefault(f.ConfigFile); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default config written to %s\n", f.ConfigFile)
		return
	}

	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, f)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 初始化日志
	logger, err := setupLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Starting PDF QA System...")

	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatalf("Failed to initialize application: %v", err)
	}
	defer application.Close()

	if err := application.StartWorker(); err != nil {
		logger.Fatalf("Failed to start task worker: %v", err)
	}

	// 初始化API处理器
	handlers := api.Handlers{
		UI:  handler.NewUIHandler(application.Components()),
		PDF: handler.NewPDFHandler(application.Ingest, application.Queue, application.Files, cfg.Queue.UploadDir),
		QA:  handler.NewQAHandler(application.QA),
		Tag: handler.NewTagHandler(application.Tags),
	}
	if application.Queue != nil {
		handlers.Task = handler.NewTaskHandler(application.Queue)
	}

	// 设置路由
	r := api.SetupRouter(handlers, api.Options{
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		CORSOrigins: cfg.Server.CORSOrigins,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	f := flags{}
	flag.StringVar(&f.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.BoolVar(&f.InitConfig, "init-config", false, "Write the default config file and exit")
	flag.IntVar(&f.Port, "port", 0, "Server port (overrides config)")
	flag.StringVar(&f.Mode, "mode", "", "Run mode (debug/release)")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	flag.BoolVar(&f.QueueEnable, "queue", false, "Enable async ingestion queue")
	flag.Parse()
	return f
}

// applyFlags 命令行上明确给出的参数优先于配置文件
func applyFlags(cfg *config.Config, f flags) {
	if f.Port != 0 {
		cfg.Server.Port = f.Port
	}
	if f.Mode != "" {
		cfg.Server.Mode = f.Mode
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.QueueEnable {
		cfg.Queue.Enable = true
	}
}

// setupLogger 设置日志系统
func setupLogger(cfg *config.Config) (*logrus.Logger, error) {
	return middleware.ConfigureLogger(middleware.LogOptions{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
}
