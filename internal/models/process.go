package models

import (
	"time"

	"gorm.io/gorm"
)

// Process 进程信息
// 业务身份是 (server_id, name, user_name) 而不包含 pid：
// 同一个服务在重启后 pid 会变化，但仍然是同一条记录，更新时只覆盖 status。
// 身份唯一性由调和引擎的先查后写维护，表上只建普通索引，
// 归档导入路径允许直插重复行。
type Process struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID  string `gorm:"index:idx_processes_identity;not null" json:"serverId"` // 服务器ID
	Pid       int    `json:"pid"`                                                   // 最近一次上报的进程号（创建后不再更新）
	Name      string `gorm:"index:idx_processes_identity" json:"name"`              // 进程名
	UserName  string `gorm:"index:idx_processes_identity" json:"userName"`          // 运行用户
	Status    string `json:"status"`                                                // 进程状态
	CreatedAt int64  `json:"createdAt"`                                             // 创建时间（毫秒）
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updatedAt"`                 // 更新时间（毫秒）
}

func (Process) TableName() string {
	return "processes"
}

// BeforeCreate GORM钩子：设置创建时间
func (p *Process) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}

// ProcessTrend 进程趋势，追加式写入，从不去重
type ProcessTrend struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID    string  `gorm:"index:idx_trends_server_pid;not null" json:"serverId"` // 服务器ID
	Pid         int     `gorm:"index:idx_trends_server_pid" json:"pid"`               // 进程号
	Timestamp   int64   `json:"timestamp"`                                            // 上报时间（毫秒时间戳）
	CPUUsage    float64 `json:"cpuUsage"`                                             // CPU使用率(%)
	MemoryUsage float64 `json:"memoryUsage"`                                          // 内存使用率(%)
	ThreadCount int     `json:"threadCount"`                                          // 线程数
	CreatedAt   int64   `json:"createdAt"`                                            // 创建时间（毫秒）
}

func (ProcessTrend) TableName() string {
	return "process_trends"
}

// BeforeCreate GORM钩子：设置创建时间
func (t *ProcessTrend) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}

// Thread 线程信息，以 (server_id, pid) 为组整体先删后插
type Thread struct {
	ID             uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID       string `gorm:"index:idx_threads_server_pid;not null" json:"serverId"` // 服务器ID
	Pid            int    `gorm:"index:idx_threads_server_pid" json:"pid"`               // 进程号
	ThreadID       int    `json:"threadId"`                                              // 线程号
	UserName       string `json:"userName"`                                              // 运行用户
	Priority       int    `json:"priority"`                                              // 优先级
	NiceValue      int    `json:"niceValue"`                                             // nice值
	VirtualMemory  string `json:"virtualMemory"`                                         // 虚拟内存
	ResidentMemory string `json:"residentMemory"`                                        // 常驻内存
	SharedMemory   string `json:"sharedMemory"`                                          // 共享内存
	Status         string `json:"status"`                                                // 线程状态
	CPUUsage       string `json:"cpuUsage"`                                              // CPU使用率
	MemoryUsage    string `json:"memoryUsage"`                                           // 内存使用率
	Runtime        string `json:"runtime"`                                               // 运行时长
	Command        string `json:"command"`                                               // 命令行
	CreatedAt      int64  `json:"createdAt"`                                             // 创建时间（毫秒）
}

func (Thread) TableName() string {
	return "threads"
}

// BeforeCreate GORM钩子：设置创建时间
func (t *Thread) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}
