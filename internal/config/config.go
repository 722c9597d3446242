package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `yaml:"addr"` // 监听地址，如 :8080
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite 数据库文件路径
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // debug/info/warn/error
	Filename   string `yaml:"filename"`   // 为空时只输出到标准输出
	MaxSize    int    `yaml:"maxSize"`    // 单文件最大 MB
	MaxBackups int    `yaml:"maxBackups"` // 保留文件个数
	MaxAge     int    `yaml:"maxAge"`     // 保留天数
}

// IngestConfig 数据调和配置
type IngestConfig struct {
	ContinueOnError bool `yaml:"continueOnError"` // 单条失败后是否继续处理后续记录
}

// RetentionConfig 数据保留配置
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Spec    string `yaml:"spec"` // cron 表达式
	Days    int    `yaml:"days"` // 指标保留天数
}

// Default 默认配置
func Default() *AppConfig {
	return &AppConfig{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Path: "blackbox.db"},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     30,
		},
		Ingest: IngestConfig{ContinueOnError: true},
		Retention: RetentionConfig{
			Enabled: false,
			Spec:    "0 3 * * *",
			Days:    30,
		},
	}
}

// Load 从文件加载配置，文件不存在时返回默认配置
func Load(path string) (*AppConfig, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return conf, nil
}
