package main

import (
	"os"
	"strings"

	"github.com/dushixiang/blackbox/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger 初始化日志系统
func newLogger(conf config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch strings.ToLower(conf.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")

	var writer zapcore.WriteSyncer
	// 配置了日志文件时使用 lumberjack 滚动，否则输出到标准输出
	if conf.Filename != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   conf.Filename,
			MaxSize:    conf.MaxSize,    // MB
			MaxBackups: conf.MaxBackups, // 保留的旧日志文件数
			MaxAge:     conf.MaxAge,     // 天数
		})
	} else {
		writer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), writer, level)
	return zap.New(core, zap.AddCaller())
}
