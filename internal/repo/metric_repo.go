package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

// MetricRepo 系统指标数据访问层
type MetricRepo struct {
	base orz.Repository[models.SystemMetric, uint]
}

func NewMetricRepo(db *gorm.DB) *MetricRepo {
	return &MetricRepo{base: orz.NewRepository[models.SystemMetric, uint](db)}
}

// dbFrom 事务内取上下文携带的事务连接，否则回退到仓库自身的连接
func (r *MetricRepo) dbFrom(ctx context.Context) *gorm.DB {
	return r.base.GetDB(ctx).WithContext(ctx)
}

// FindByServerAndTimestamp 按 (server_id, timestamp) 查找指标，不存在时返回 (nil, nil)
func (r *MetricRepo) FindByServerAndTimestamp(ctx context.Context, serverID string, timestamp int64) (*models.SystemMetric, error) {
	var metric models.SystemMetric
	err := r.dbFrom(ctx).
		Where("server_id = ? AND timestamp = ?", serverID, timestamp).
		First(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

// Create 创建指标记录
func (r *MetricRepo) Create(ctx context.Context, metric *models.SystemMetric) error {
	return r.dbFrom(ctx).Create(metric).Error
}

// Overwrite 整行覆盖数值字段（指标不做部分合并）
func (r *MetricRepo) Overwrite(ctx context.Context, serverID string, timestamp int64, metric *models.SystemMetric) error {
	return r.dbFrom(ctx).Model(&models.SystemMetric{}).
		Where("server_id = ? AND timestamp = ?", serverID, timestamp).
		Updates(map[string]interface{}{
			"cpu_usage":    metric.CPUUsage,
			"memory_usage": metric.MemoryUsage,
			"disk_usage":   metric.DiskUsage,
			"io_read":      metric.IORead,
			"io_write":     metric.IOWrite,
			"network_in":   metric.NetworkIn,
			"network_out":  metric.NetworkOut,
		}).Error
}

// ListByServer 按时间倒序列出指标，limit<=0 表示不限制
func (r *MetricRepo) ListByServer(ctx context.Context, serverID string, limit int) ([]models.SystemMetric, error) {
	var metrics []models.SystemMetric
	query := r.dbFrom(ctx).
		Where("server_id = ?", serverID).
		Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&metrics).Error
	return metrics, err
}

// ListByTimeRange 按时间范围列出指标（升序）
func (r *MetricRepo) ListByTimeRange(ctx context.Context, serverID string, start, end int64) ([]models.SystemMetric, error) {
	var metrics []models.SystemMetric
	err := r.dbFrom(ctx).
		Where("server_id = ? AND timestamp BETWEEN ? AND ?", serverID, start, end).
		Order("timestamp ASC").
		Find(&metrics).Error
	return metrics, err
}

// CountByServer 统计某服务器的指标条数
func (r *MetricRepo) CountByServer(ctx context.Context, serverID string) (int64, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.SystemMetric{}).
		Where("server_id = ?", serverID).Count(&count).Error
	return count, err
}

// DeleteBefore 删除指定时间之前的指标（数据保留策略），返回删除条数
func (r *MetricRepo) DeleteBefore(ctx context.Context, timestamp int64) (int64, error) {
	result := r.dbFrom(ctx).
		Where("timestamp < ?", timestamp).
		Delete(&models.SystemMetric{})
	return result.RowsAffected, result.Error
}

// DeleteAll 清空指标表（数据库清理用）
func (r *MetricRepo) DeleteAll(ctx context.Context) error {
	return r.dbFrom(ctx).Where("1 = 1").Delete(&models.SystemMetric{}).Error
}
