package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

// CrashLogRepo 崩溃日志及 AI 建议数据访问层
type CrashLogRepo struct {
	base orz.Repository[models.CrashLog, uint]
}

func NewCrashLogRepo(db *gorm.DB) *CrashLogRepo {
	return &CrashLogRepo{base: orz.NewRepository[models.CrashLog, uint](db)}
}

// dbFrom 事务内取上下文携带的事务连接，否则回退到仓库自身的连接
func (r *CrashLogRepo) dbFrom(ctx context.Context) *gorm.DB {
	return r.base.GetDB(ctx).WithContext(ctx)
}

// FindByServerAndTimestamp 按 (server_id, timestamp) 查找崩溃日志，不存在时返回 (nil, nil)
func (r *CrashLogRepo) FindByServerAndTimestamp(ctx context.Context, serverID string, timestamp int64) (*models.CrashLog, error) {
	var log models.CrashLog
	err := r.dbFrom(ctx).
		Where("server_id = ? AND timestamp = ?", serverID, timestamp).
		First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// Create 创建崩溃日志
func (r *CrashLogRepo) Create(ctx context.Context, log *models.CrashLog) error {
	return r.dbFrom(ctx).Create(log).Error
}

// Overwrite 覆盖除 AI 建议之外的所有字段（智能更新路径）
func (r *CrashLogRepo) Overwrite(ctx context.Context, id uint, log *models.CrashLog) error {
	return r.dbFrom(ctx).Model(&models.CrashLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"crash_type":  log.CrashType,
			"severity":    log.Severity,
			"title":       log.Title,
			"message":     log.Message,
			"stack_trace": log.StackTrace,
			"resolved":    log.Resolved,
			"ai_summary":  log.AISummary,
			"ai_analysis": log.AIAnalysis,
		}).Error
}

// ListByServer 按时间倒序列出某服务器的崩溃日志
func (r *CrashLogRepo) ListByServer(ctx context.Context, serverID string) ([]models.CrashLog, error) {
	var logs []models.CrashLog
	err := r.dbFrom(ctx).
		Where("server_id = ?", serverID).
		Order("timestamp DESC").
		Find(&logs).Error
	return logs, err
}

// ExistsThreadExceptionMarker 判断某服务器是否已存在带指定进程标记的线程异常日志
// （异常合成路径的去重依据：stack_trace 中的 PROCESS_INFO 标记，忽略 resolved 状态）
func (r *CrashLogRepo) ExistsThreadExceptionMarker(ctx context.Context, serverID, marker string) (bool, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.CrashLog{}).
		Where("server_id = ? AND crash_type = ? AND stack_trace LIKE ?",
			serverID, "thread_exception", "%"+marker+"%").
		Count(&count).Error
	return count > 0, err
}

// CountByServer 统计某服务器的崩溃日志数
func (r *CrashLogRepo) CountByServer(ctx context.Context, serverID string) (int64, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.CrashLog{}).
		Where("server_id = ?", serverID).Count(&count).Error
	return count, err
}

// CountUnresolved 统计未解决的崩溃日志数
func (r *CrashLogRepo) CountUnresolved(ctx context.Context) (int64, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.CrashLog{}).
		Where("resolved = ?", false).Count(&count).Error
	return count, err
}

// ListUnresolved 按时间倒序列出未解决的崩溃日志
func (r *CrashLogRepo) ListUnresolved(ctx context.Context) ([]models.CrashLog, error) {
	var logs []models.CrashLog
	err := r.dbFrom(ctx).
		Where("resolved = ?", false).
		Order("timestamp DESC").
		Find(&logs).Error
	return logs, err
}

// === AI 建议 ===

// CreateRecommendations 批量写入 AI 建议（只在崩溃日志创建时调用）
func (r *CrashLogRepo) CreateRecommendations(ctx context.Context, recommendations []models.AiRecommendation) error {
	if len(recommendations) == 0 {
		return nil
	}
	return r.dbFrom(ctx).Create(&recommendations).Error
}

// ListRecommendations 按优先级升序列出某崩溃日志的 AI 建议（越小越紧急）
func (r *CrashLogRepo) ListRecommendations(ctx context.Context, crashLogID uint) ([]models.AiRecommendation, error) {
	var recommendations []models.AiRecommendation
	err := r.dbFrom(ctx).
		Where("crash_log_id = ?", crashLogID).
		Order("priority ASC").
		Find(&recommendations).Error
	return recommendations, err
}

// DeleteAll 清空崩溃日志和 AI 建议表（数据库清理用）
func (r *CrashLogRepo) DeleteAll(ctx context.Context) error {
	if err := r.dbFrom(ctx).Where("1 = 1").Delete(&models.AiRecommendation{}).Error; err != nil {
		return err
	}
	return r.dbFrom(ctx).Where("1 = 1").Delete(&models.CrashLog{}).Error
}
