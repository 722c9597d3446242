package database

import (
	"fmt"
	"os"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 打开 SQLite 数据库并执行表结构迁移
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 迁移所有业务表
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Server{},
		&models.SystemMetric{},
		&models.Process{},
		&models.ProcessTrend{},
		&models.Thread{},
		&models.CrashLog{},
		&models.AiRecommendation{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// Init 初始化数据库文件，force 为 true 时先删除已有文件
func Init(path string, force bool) (*gorm.DB, error) {
	if force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("删除旧数据库失败: %w", err)
		}
	}
	return Open(path)
}
