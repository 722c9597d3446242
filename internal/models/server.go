package models

import (
	"time"

	"gorm.io/gorm"
)

// Server 服务器信息（server_id 为外部分配的业务主键，唯一）
type Server struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID     string `gorm:"uniqueIndex:ux_servers_server_id;not null" json:"serverId"` // 服务器ID（业务主键）
	ServerName   string `json:"serverName"`                                                // 显示名称
	ServerIP     string `json:"serverIp"`                                                  // IP地址
	ServerOS     string `json:"serverOs"`                                                  // 操作系统
	ServerStatus string `json:"serverStatus"`                                              // 状态（自由文本，更新时只覆盖该字段）
	CreatedAt    int64  `json:"createdAt"`                                                 // 创建时间（毫秒）
	UpdatedAt    int64  `gorm:"autoUpdateTime:milli" json:"updatedAt"`                     // 更新时间（毫秒）
}

func (Server) TableName() string {
	return "servers"
}

// BeforeCreate GORM钩子：设置创建时间
func (s *Server) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}

// SystemMetric 系统指标。(server_id, timestamp) 的唯一性由调和引擎的
// 先查后写维护，表上只建普通索引，归档导入路径允许直插重复行
type SystemMetric struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID    string  `gorm:"index:idx_metrics_server_ts;not null" json:"serverId"` // 服务器ID
	Timestamp   int64   `gorm:"index:idx_metrics_server_ts" json:"timestamp"`         // 采集时间（毫秒时间戳）
	CPUUsage    float64 `json:"cpuUsage"`                                             // CPU使用率(%)
	MemoryUsage float64 `json:"memoryUsage"`                                          // 内存使用率(%)
	DiskUsage   float64 `json:"diskUsage"`                                            // 磁盘使用率(%)
	IORead      float64 `json:"ioRead"`                                               // IO读取速率
	IOWrite     float64 `json:"ioWrite"`                                              // IO写入速率
	NetworkIn   float64 `json:"networkIn"`                                            // 网络入流量
	NetworkOut  float64 `json:"networkOut"`                                           // 网络出流量
	CreatedAt   int64   `json:"createdAt"`                                            // 创建时间（毫秒）
}

func (SystemMetric) TableName() string {
	return "system_metrics"
}

// BeforeCreate GORM钩子：设置创建时间
func (m *SystemMetric) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}
