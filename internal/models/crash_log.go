package models

import (
	"time"

	"gorm.io/gorm"
)

// CrashLog 崩溃日志
// 外部提供的日志以 (server_id, log_id) 识别；智能更新路径按 (server_id, timestamp)
// 判定是否已存在，更新时覆盖除 AI 建议之外的所有字段。
type CrashLog struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID   string `gorm:"index:idx_crash_logs_server_ts;not null" json:"serverId"` // 服务器ID
	LogID      int64  `json:"logId"`                                                   // 外部日志ID（异常合成路径使用检测时刻时间戳）
	Timestamp  int64  `gorm:"index:idx_crash_logs_server_ts" json:"timestamp"`         // 崩溃时间（毫秒时间戳）
	CrashType  string `json:"crashType"`                                               // 崩溃类型: thread_exception/segmentation_fault/...
	Severity   string `json:"severity"`                                                // 严重程度: low/medium/high
	Title      string `json:"title"`                                                   // 标题
	Message    string `json:"message"`                                                 // 描述
	StackTrace string `json:"stackTrace,omitempty"`                                    // 堆栈/诊断文本（可为空）
	Resolved   bool   `json:"resolved"`                                                // 是否已解决
	AISummary  string `json:"aiSummary,omitempty"`                                     // AI摘要（可为空）
	AIAnalysis string `json:"aiAnalysis,omitempty"`                                    // AI分析（可为空）
	CreatedAt  int64  `json:"createdAt"`                                               // 创建时间（毫秒）
}

func (CrashLog) TableName() string {
	return "crash_logs"
}

// BeforeCreate GORM钩子：设置创建时间
func (c *CrashLog) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}

// AiRecommendation AI建议，属于某条崩溃日志，priority 越小越紧急
// 只在崩溃日志创建时一并写入，父记录已存在时不追加、不更新。
type AiRecommendation struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CrashLogID uint   `gorm:"index:idx_ai_recommendations_crash_log;not null" json:"crashLogId"` // 崩溃日志ID
	Priority   int    `json:"priority"`                                                          // 优先级（越小越紧急）
	Action     string `json:"action"`                                                            // 建议操作
	Command    string `json:"command"`                                                           // 建议命令
	CreatedAt  int64  `json:"createdAt"`                                                         // 创建时间（毫秒）
}

func (AiRecommendation) TableName() string {
	return "ai_recommendations"
}

// BeforeCreate GORM钩子：设置创建时间
func (r *AiRecommendation) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}
