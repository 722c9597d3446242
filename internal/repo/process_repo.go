package repo

import (
	"context"
	"errors"
	"time"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

// ProcessRepo 进程及其子数据（趋势、线程）访问层
type ProcessRepo struct {
	base orz.Repository[models.Process, uint]
}

func NewProcessRepo(db *gorm.DB) *ProcessRepo {
	return &ProcessRepo{base: orz.NewRepository[models.Process, uint](db)}
}

// dbFrom 事务内取上下文携带的事务连接，否则回退到仓库自身的连接
func (r *ProcessRepo) dbFrom(ctx context.Context) *gorm.DB {
	return r.base.GetDB(ctx).WithContext(ctx)
}

// FindByIdentity 按业务身份 (server_id, name, user_name) 查找进程，不存在时返回 (nil, nil)
// 注意不按 pid 查找：pid 在进程重启后会变化。
func (r *ProcessRepo) FindByIdentity(ctx context.Context, serverID, name, userName string) (*models.Process, error) {
	var process models.Process
	err := r.dbFrom(ctx).
		Where("server_id = ? AND name = ? AND user_name = ?", serverID, name, userName).
		First(&process).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &process, nil
}

// Create 创建进程记录
func (r *ProcessRepo) Create(ctx context.Context, process *models.Process) error {
	return r.dbFrom(ctx).Create(process).Error
}

// UpdateStatus 只覆盖状态字段（pid 创建后不再更新）
func (r *ProcessRepo) UpdateStatus(ctx context.Context, id uint, status string) error {
	return r.dbFrom(ctx).Model(&models.Process{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

// ListByServer 列出某服务器的所有进程
func (r *ProcessRepo) ListByServer(ctx context.Context, serverID string) ([]models.Process, error) {
	var processes []models.Process
	err := r.dbFrom(ctx).Where("server_id = ?", serverID).Find(&processes).Error
	return processes, err
}

// Count 进程总数
func (r *ProcessRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.Process{}).Count(&count).Error
	return count, err
}

// CountByServer 统计某服务器的进程数
func (r *ProcessRepo) CountByServer(ctx context.Context, serverID string) (int64, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.Process{}).
		Where("server_id = ?", serverID).Count(&count).Error
	return count, err
}

// === 进程趋势 ===

// CreateTrend 追加一条趋势记录（趋势是追加式的，从不去重）
func (r *ProcessRepo) CreateTrend(ctx context.Context, trend *models.ProcessTrend) error {
	return r.dbFrom(ctx).Create(trend).Error
}

// ListTrends 按时间倒序列出某进程的趋势
func (r *ProcessRepo) ListTrends(ctx context.Context, serverID string, pid int) ([]models.ProcessTrend, error) {
	var trends []models.ProcessTrend
	err := r.dbFrom(ctx).
		Where("server_id = ? AND pid = ?", serverID, pid).
		Order("timestamp DESC").
		Find(&trends).Error
	return trends, err
}

// === 线程 ===

// ReplaceThreads 整组替换某 (server_id, pid) 的线程集合：先删后插，不做增量比对
func (r *ProcessRepo) ReplaceThreads(ctx context.Context, serverID string, pid int, threads []models.Thread) error {
	if err := r.DeleteThreads(ctx, serverID, pid); err != nil {
		return err
	}
	if len(threads) == 0 {
		return nil
	}
	return r.dbFrom(ctx).CreateInBatches(threads, 200).Error
}

// DeleteThreads 删除某 (server_id, pid) 的全部线程
func (r *ProcessRepo) DeleteThreads(ctx context.Context, serverID string, pid int) error {
	return r.dbFrom(ctx).
		Where("server_id = ? AND pid = ?", serverID, pid).
		Delete(&models.Thread{}).Error
}

// ListThreads 列出某 (server_id, pid) 的线程
func (r *ProcessRepo) ListThreads(ctx context.Context, serverID string, pid int) ([]models.Thread, error) {
	var threads []models.Thread
	err := r.dbFrom(ctx).
		Where("server_id = ? AND pid = ?", serverID, pid).
		Find(&threads).Error
	return threads, err
}

// CountThreads 统计某 (server_id, pid) 的线程数
func (r *ProcessRepo) CountThreads(ctx context.Context, serverID string, pid int) (int64, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.Thread{}).
		Where("server_id = ? AND pid = ?", serverID, pid).Count(&count).Error
	return count, err
}

// DeleteAll 清空进程、趋势、线程表（数据库清理用）
func (r *ProcessRepo) DeleteAll(ctx context.Context) error {
	if err := r.dbFrom(ctx).Where("1 = 1").Delete(&models.Thread{}).Error; err != nil {
		return err
	}
	if err := r.dbFrom(ctx).Where("1 = 1").Delete(&models.ProcessTrend{}).Error; err != nil {
		return err
	}
	return r.dbFrom(ctx).Where("1 = 1").Delete(&models.Process{}).Error
}
