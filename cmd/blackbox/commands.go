package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dushixiang/blackbox/internal/config"
	"github.com/dushixiang/blackbox/internal/database"
	"github.com/dushixiang/blackbox/internal/protocol"
	"github.com/dushixiang/blackbox/internal/repo"
	"github.com/dushixiang/blackbox/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// setup 加载配置并打开数据库，CLI 子命令共用
func setup() (*config.AppConfig, *zap.Logger, *gorm.DB, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(conf.Log)
	db, err := database.Open(conf.Database.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	return conf, logger, db, nil
}

func newInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "初始化数据库文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := database.Init(conf.Database.Path, force); err != nil {
				return err
			}
			fmt.Printf("✅ 数据库初始化完成: %s\n", conf.Database.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "强制重新创建数据库 (会删除现有数据)")
	return cmd
}

func newImportCommand() *cobra.Command {
	var (
		file  string
		clean bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "导入 JSON 数据到数据库",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			fmt.Printf("正在读取 %s 文件...\n", file)
			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("读取文件失败: %w", err)
			}
			var data protocol.ArchiveData
			if err := json.Unmarshal(content, &data); err != nil {
				return fmt.Errorf("解析 JSON 失败: %w", err)
			}

			ctx := context.Background()
			archiveService := service.NewArchiveService(logger, db)
			if clean {
				fmt.Println("🗑️  清空现有数据...")
				if err := archiveService.CleanDatabase(ctx); err != nil {
					return err
				}
			}

			result, err := archiveService.ImportArchive(ctx, &data)
			if err != nil {
				return err
			}
			fmt.Printf("✅ 导入完成: 新建 %d 条, 更新 %d 条, 失败 %d 条\n",
				result.CreatedCount, result.UpdatedCount, result.FailedCount)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "data.json", "输入文件路径")
	cmd.Flags().BoolVar(&clean, "clean", false, "是否清空现有数据")
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		file   string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "从数据库导出数据到 JSON 文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			archiveService := service.NewArchiveService(logger, db)
			data, err := archiveService.ExportArchive(context.Background())
			if err != nil {
				return err
			}

			var content []byte
			if pretty {
				content, err = json.MarshalIndent(data, "", "  ")
			} else {
				content, err = json.Marshal(data)
			}
			if err != nil {
				return fmt.Errorf("序列化失败: %w", err)
			}
			if err := os.WriteFile(file, content, 0o644); err != nil {
				return fmt.Errorf("写入文件失败: %w", err)
			}
			fmt.Printf("✅ 已导出 %d 台服务器的数据到 %s\n", len(data.Servers), file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "export.json", "输出文件路径")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "是否格式化输出")
	return cmd
}

func newInsertCommand() *cobra.Command {
	var (
		file            string
		continueOnError bool
	)
	cmd := &cobra.Command{
		Use:   "insert <servers|system-metrics|processes|crash-logs|combined>",
		Short: "智能插入数据记录 (支持复杂业务逻辑)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("读取文件失败: %w", err)
			}

			ctx := context.Background()
			ingestService := service.NewIngestService(logger, db)

			var result *service.IngestResult
			var ingestErr error
			switch args[0] {
			case "servers":
				var records []protocol.ServerRecord
				if err := json.Unmarshal(content, &records); err != nil {
					return fmt.Errorf("解析 JSON 失败: %w", err)
				}
				result, ingestErr = ingestService.IngestServers(ctx, records, continueOnError)
			case "system-metrics":
				var records []protocol.MetricRecord
				if err := json.Unmarshal(content, &records); err != nil {
					return fmt.Errorf("解析 JSON 失败: %w", err)
				}
				result, ingestErr = ingestService.IngestMetrics(ctx, records, continueOnError)
			case "processes":
				var records []protocol.ProcessRecord
				if err := json.Unmarshal(content, &records); err != nil {
					return fmt.Errorf("解析 JSON 失败: %w", err)
				}
				result, ingestErr = ingestService.IngestProcesses(ctx, records, continueOnError)
			case "crash-logs":
				var records []protocol.CrashLogRecord
				if err := json.Unmarshal(content, &records); err != nil {
					return fmt.Errorf("解析 JSON 失败: %w", err)
				}
				result, ingestErr = ingestService.IngestCrashLogs(ctx, records, continueOnError)
			case "combined":
				var payload protocol.CombinedPayload
				if err := json.Unmarshal(content, &payload); err != nil {
					return fmt.Errorf("解析 JSON 失败: %w", err)
				}
				result, ingestErr = ingestService.IngestCombined(ctx, &payload, continueOnError)
			default:
				return fmt.Errorf("未知的数据类型: %s", args[0])
			}

			if result != nil {
				fmt.Printf("📊 处理结果: 新建 %d 条, 更新 %d 条, 失败 %d 条\n",
					result.CreatedCount, result.UpdatedCount, result.FailedCount)
			}
			return ingestErr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON 文件路径")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "遇到错误时是否继续处理")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "数据库统计信息",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			statsService := service.NewStatsService(logger, db)
			stats, err := statsService.Overview(context.Background())
			if err != nil {
				return err
			}

			fmt.Println("\n📊 数据库统计信息")
			fmt.Println("═══════════════════")

			if stats.ServerCount == 0 {
				fmt.Println("📭 数据库为空，请先导入数据")
				return nil
			}

			fmt.Printf("🖥️  服务器总数: %d\n", stats.ServerCount)
			for _, server := range stats.Servers {
				fmt.Printf("\n🔸 %s (%s)\n", server.ServerName, server.ServerStatus)
				fmt.Printf("   📈 系统指标: %d 条\n", server.MetricCount)
				fmt.Printf("   ⚙️  进程数量: %d 个\n", server.ProcessCount)
				fmt.Printf("   🚨 崩溃日志: %d 条\n", server.CrashLogCount)
				if server.LatestMetricAt > 0 {
					fmt.Printf("   🕒 最新数据: %s\n",
						time.UnixMilli(server.LatestMetricAt).Format("2006-01-02 15:04:05"))
				}
			}

			fmt.Println("\n📋 总计统计")
			fmt.Printf("   📊 系统指标: %d 条\n", stats.MetricCount)
			fmt.Printf("   🔄 进程记录: %d 个\n", stats.ProcessCount)
			fmt.Printf("   ⚠️  崩溃日志: %d 条\n", stats.CrashLogCount)
			if stats.UnresolvedCount > 0 {
				fmt.Printf("   🔴 未解决问题: %d 个\n", stats.UnresolvedCount)
			}
			return nil
		},
	}
}

func newQueryCommand() *cobra.Command {
	var (
		server string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "查询并显示数据库内容",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runQuery(db, server, limit)
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", "", "指定服务器 ID")
	cmd.Flags().IntVarP(&limit, "limit", "l", 5, "限制显示的记录数")
	return cmd
}

func runQuery(db *gorm.DB, filter string, limit int) error {
	ctx := context.Background()
	serverRepo := repo.NewServerRepo(db)
	metricRepo := repo.NewMetricRepo(db)
	processRepo := repo.NewProcessRepo(db)
	crashLogRepo := repo.NewCrashLogRepo(db)

	fmt.Println("\n🔍 数据查询结果")
	fmt.Println("═══════════════")

	servers, err := serverRepo.FindAll(ctx)
	if err != nil {
		return err
	}

	var targets []int
	for i := range servers {
		if filter == "" || servers[i].ServerID == filter || strings.Contains(servers[i].ServerName, filter) {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		fmt.Println("❌ 未找到匹配的服务器")
		return nil
	}

	fmt.Printf("\n🖥️  匹配的服务器 (%d 个):\n", len(targets))
	for _, i := range targets {
		s := &servers[i]
		fmt.Printf("  🔸 %s (%s) - 状态: %s\n", s.ServerName, s.ServerIP, s.ServerStatus)
	}

	for _, i := range targets {
		s := &servers[i]
		fmt.Printf("\n═══ %s 详细信息 ═══\n", s.ServerName)

		fmt.Printf("\n📊 最新 %d 条系统指标:\n", limit)
		metrics, err := metricRepo.ListByServer(ctx, s.ServerID, limit)
		if err != nil {
			return err
		}
		for _, m := range metrics {
			fmt.Printf("  时间: %s | CPU: %.1f%% | 内存: %.1f%% | 磁盘: %.1f%%\n",
				time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05"),
				m.CPUUsage, m.MemoryUsage, m.DiskUsage)
		}

		processes, err := processRepo.ListByServer(ctx, s.ServerID)
		if err != nil {
			return err
		}
		if len(processes) > 0 {
			fmt.Printf("\n🔄 运行中的进程 (%d 个):\n", len(processes))
			for _, p := range processes {
				fmt.Printf("  PID: %d | 名称: %s | 用户: %s | 状态: %s\n",
					p.Pid, p.Name, p.UserName, p.Status)

				threads, err := processRepo.ListThreads(ctx, s.ServerID, p.Pid)
				if err != nil {
					return err
				}
				if len(threads) > 0 {
					fmt.Printf("    └─ 线程数: %d\n", len(threads))
					for j, t := range threads {
						if j >= 2 {
							break
						}
						command := []rune(t.Command)
						if len(command) > 50 {
							command = command[:50]
						}
						fmt.Printf("      └─ TID: %d | CPU: %s%% | 内存: %s%% | 命令: %s\n",
							t.ThreadID, t.CPUUsage, t.MemoryUsage, string(command))
					}
					if len(threads) > 2 {
						fmt.Printf("      └─ ... 还有 %d 个线程\n", len(threads)-2)
					}
				}
			}
		}

		logs, err := crashLogRepo.ListByServer(ctx, s.ServerID)
		if err != nil {
			return err
		}
		if len(logs) > 0 {
			fmt.Printf("\n🚨 崩溃日志 (%d 条):\n", len(logs))
			for _, c := range logs {
				status := "未解决"
				if c.Resolved {
					status = "已解决"
				}
				fmt.Printf("  [%s] %s - %s (%s)\n",
					time.UnixMilli(c.Timestamp).Format("2006-01-02 15:04:05"),
					c.Title, c.Severity, status)
			}
		}
	}
	return nil
}

func newCleanCommand() *cobra.Command {
	var (
		days    int
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "清理旧数据",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, db, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !confirm {
				fmt.Printf("⚠️  此操作将删除 %d 天前的数据\n", days)
				fmt.Println("   请使用 --confirm 参数确认执行")
				return nil
			}

			archiveService := service.NewArchiveService(logger, db)
			deleted, err := archiveService.CleanOldMetrics(context.Background(), days)
			if err != nil {
				return err
			}
			fmt.Printf("🗑️  已删除 %d 条旧的系统指标数据\n", deleted)
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 30, "保留最近 N 天的数据")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "确认执行清理")
	return cmd
}
