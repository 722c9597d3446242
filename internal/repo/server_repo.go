package repo

import (
	"context"
	"errors"
	"time"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

// ServerRepo 服务器数据访问层
type ServerRepo struct {
	base orz.Repository[models.Server, uint]
}

func NewServerRepo(db *gorm.DB) *ServerRepo {
	return &ServerRepo{base: orz.NewRepository[models.Server, uint](db)}
}

// dbFrom 解析当前调用的数据库会话：在 orz.Service.Transaction 内时取
// 上下文携带的事务连接，否则回退到仓库自身持有的连接
func (r *ServerRepo) dbFrom(ctx context.Context) *gorm.DB {
	return r.base.GetDB(ctx).WithContext(ctx)
}

// FindByServerID 按业务主键查找服务器，不存在时返回 (nil, nil)
func (r *ServerRepo) FindByServerID(ctx context.Context, serverID string) (*models.Server, error) {
	var server models.Server
	err := r.dbFrom(ctx).Where("server_id = ?", serverID).First(&server).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// Create 创建服务器
func (r *ServerRepo) Create(ctx context.Context, server *models.Server) error {
	return r.dbFrom(ctx).Create(server).Error
}

// UpdateStatus 只覆盖状态字段
func (r *ServerRepo) UpdateStatus(ctx context.Context, serverID, status string) error {
	return r.dbFrom(ctx).Model(&models.Server{}).
		Where("server_id = ?", serverID).
		Updates(map[string]interface{}{
			"server_status": status,
			"updated_at":    time.Now().UnixMilli(),
		}).Error
}

// FindAll 列出所有服务器
func (r *ServerRepo) FindAll(ctx context.Context) ([]models.Server, error) {
	var servers []models.Server
	err := r.dbFrom(ctx).Order("server_id ASC").Find(&servers).Error
	return servers, err
}

// Count 服务器总数
func (r *ServerRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.dbFrom(ctx).Model(&models.Server{}).Count(&count).Error
	return count, err
}

// DeleteAll 清空服务器表（数据库清理用）
func (r *ServerRepo) DeleteAll(ctx context.Context) error {
	return r.dbFrom(ctx).Where("1 = 1").Delete(&models.Server{}).Error
}
