package scheduler

import (
	"context"

	"github.com/dushixiang/blackbox/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RetentionScheduler 数据保留调度器，定时清理保留期之外的系统指标
type RetentionScheduler struct {
	cron           *cron.Cron
	archiveService *service.ArchiveService
	retentionDays  int
	spec           string
	logger         *zap.Logger
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewRetentionScheduler 创建数据保留调度器
// spec 为 cron 表达式，retentionDays 为指标保留天数
func NewRetentionScheduler(archiveService *service.ArchiveService, spec string, retentionDays int, logger *zap.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		cron:           cron.New(),
		archiveService: archiveService,
		retentionDays:  retentionDays,
		spec:           spec,
		logger:         logger,
	}
}

// Start 启动调度器
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.spec, s.runOnce); err != nil {
		return err
	}

	s.logger.Info("启动数据保留调度器",
		zap.String("spec", s.spec),
		zap.Int("retentionDays", s.retentionDays))
	s.cron.Start()
	return nil
}

// Stop 停止调度器
func (s *RetentionScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info("数据保留调度器已停止")
}

// runOnce 执行一次清理
func (s *RetentionScheduler) runOnce() {
	deleted, err := s.archiveService.CleanOldMetrics(s.ctx, s.retentionDays)
	if err != nil {
		s.logger.Error("定时清理过期指标失败", zap.Error(err))
		return
	}
	s.logger.Debug("定时清理过期指标完成", zap.Int64("deleted", deleted))
}
