package main

import (
	"fmt"
	"os"

	"github.com/dushixiang/blackbox/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
)

func main() {
	root := &cobra.Command{
		Use:          "blackbox",
		Short:        "服务器监控数据管理系统",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "指定数据库文件路径（覆盖配置文件）")

	root.AddCommand(
		newServeCommand(),
		newInitCommand(),
		newImportCommand(),
		newExportCommand(),
		newInsertCommand(),
		newQueryCommand(),
		newStatsCommand(),
		newCleanCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 加载配置并应用命令行覆盖
func loadConfig() (*config.AppConfig, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if dbPath != "" {
		conf.Database.Path = dbPath
	}
	return conf, nil
}
