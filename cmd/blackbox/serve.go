package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dushixiang/blackbox/internal/database"
	"github.com/dushixiang/blackbox/internal/handler"
	"github.com/dushixiang/blackbox/internal/scheduler"
	"github.com/dushixiang/blackbox/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 上报服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			logger := newLogger(conf.Log)
			defer logger.Sync()

			db, err := database.Open(conf.Database.Path)
			if err != nil {
				return err
			}

			ingestService := service.NewIngestService(logger, db)
			archiveService := service.NewArchiveService(logger, db)
			statsService := service.NewStatsService(logger, db)

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.Recover())
			handler.Register(e,
				handler.NewIngestHandler(logger, ingestService, conf.Ingest.ContinueOnError),
				handler.NewStatsHandler(logger, statsService, archiveService))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var retention *scheduler.RetentionScheduler
			if conf.Retention.Enabled {
				retention = scheduler.NewRetentionScheduler(
					archiveService, conf.Retention.Spec, conf.Retention.Days, logger)
				if err := retention.Start(ctx); err != nil {
					return err
				}
			}

			go func() {
				logger.Info("HTTP 服务启动", zap.String("addr", conf.Server.Addr))
				if err := e.Start(conf.Server.Addr); err != nil && err != http.ErrServerClosed {
					logger.Fatal("HTTP 服务启动失败", zap.Error(err))
				}
			}()

			<-ctx.Done()
			logger.Info("收到退出信号，开始关闭")

			if retention != nil {
				retention.Stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP 服务关闭失败", zap.Error(err))
			}

			logger.Info("已退出")
			return nil
		},
	}
}
