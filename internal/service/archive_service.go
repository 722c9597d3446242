package service

import (
	"context"
	"time"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/dushixiang/blackbox/internal/protocol"
	"github.com/dushixiang/blackbox/internal/repo"
	"github.com/go-orz/orz"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ArchiveService 归档导入导出和数据库维护
type ArchiveService struct {
	logger *zap.Logger
	*orz.Service
	serverRepo   *repo.ServerRepo
	metricRepo   *repo.MetricRepo
	processRepo  *repo.ProcessRepo
	crashLogRepo *repo.CrashLogRepo

	now func() time.Time
}

func NewArchiveService(logger *zap.Logger, db *gorm.DB) *ArchiveService {
	return &ArchiveService{
		logger:       logger,
		Service:      orz.NewService(db),
		serverRepo:   repo.NewServerRepo(db),
		metricRepo:   repo.NewMetricRepo(db),
		processRepo:  repo.NewProcessRepo(db),
		crashLogRepo: repo.NewCrashLogRepo(db),
		now:          time.Now,
	}
}

// ImportArchive 导入归档数据。
// 每台服务器在独立事务内导入：服务器本身做 upsert（已存在只覆盖状态），
// 其下的指标、进程、趋势、线程、崩溃日志全部直插，不与已有数据判重。
// AI 建议只在崩溃日志创建时一并写入。
func (s *ArchiveService) ImportArchive(ctx context.Context, data *protocol.ArchiveData) (*IngestResult, error) {
	result := &IngestResult{}
	for i := range data.Servers {
		archive := &data.Servers[i]
		if archive.ServerID == "" {
			result.addFailed()
			s.logger.Error("归档服务器缺少 serverId", zap.Int("index", i))
			continue
		}

		serverResult := &IngestResult{}
		err := s.Transaction(ctx, func(ctx context.Context) error {
			return s.importServer(ctx, archive, serverResult)
		})
		if err != nil {
			// 事务已整体回滚，该服务器的局部统计作废，只计一次失败
			result.addFailed()
			s.logger.Error("导入服务器归档失败",
				zap.String("serverId", archive.ServerID),
				zap.Error(err))
			continue
		}
		result.Merge(serverResult)
	}

	s.logger.Info("归档导入完成",
		zap.Int("servers", len(data.Servers)),
		zap.Int("created", result.CreatedCount),
		zap.Int("updated", result.UpdatedCount),
		zap.Int("failed", result.FailedCount))
	return result, nil
}

func (s *ArchiveService) importServer(ctx context.Context, archive *protocol.ArchiveServer, result *IngestResult) error {
	existing, err := s.serverRepo.FindByServerID(ctx, archive.ServerID)
	if err != nil {
		return storageErr("查询服务器", err)
	}
	if existing != nil {
		if err := s.serverRepo.UpdateStatus(ctx, archive.ServerID, archive.ServerStatus); err != nil {
			return storageErr("更新服务器状态", err)
		}
		result.addUpdated()
	} else {
		server := &models.Server{
			ServerID:     archive.ServerID,
			ServerName:   archive.ServerName,
			ServerIP:     archive.ServerIP,
			ServerOS:     archive.ServerOS,
			ServerStatus: archive.ServerStatus,
		}
		if err := s.serverRepo.Create(ctx, server); err != nil {
			return storageErr("创建服务器", err)
		}
		result.addCreated()
	}

	for j := range archive.SystemMetrics {
		m := &archive.SystemMetrics[j]
		metric := &models.SystemMetric{
			ServerID:    archive.ServerID,
			Timestamp:   m.Timestamp,
			CPUUsage:    m.CPUUsage,
			MemoryUsage: m.MemoryUsage,
			DiskUsage:   m.DiskUsage,
			IORead:      m.IORead,
			IOWrite:     m.IOWrite,
			NetworkIn:   m.NetworkIn,
			NetworkOut:  m.NetworkOut,
		}
		if err := s.metricRepo.Create(ctx, metric); err != nil {
			return storageErr("导入指标", err)
		}
		result.addCreated()
	}

	for j := range archive.Processes {
		p := &archive.Processes[j]
		process := &models.Process{
			ServerID: archive.ServerID,
			Pid:      p.Pid,
			Name:     p.Name,
			UserName: p.UserName,
			Status:   p.Status,
		}
		if err := s.processRepo.Create(ctx, process); err != nil {
			return storageErr("导入进程", err)
		}
		result.addCreated()

		for k := range p.Trend {
			t := &p.Trend[k]
			trend := &models.ProcessTrend{
				ServerID:    archive.ServerID,
				Pid:         p.Pid,
				Timestamp:   t.Timestamp,
				CPUUsage:    t.CPUUsage,
				MemoryUsage: t.MemoryUsage,
				ThreadCount: t.ThreadCount,
			}
			if err := s.processRepo.CreateTrend(ctx, trend); err != nil {
				return storageErr("导入进程趋势", err)
			}
		}

		if len(p.Threads) > 0 {
			threads := make([]models.Thread, 0, len(p.Threads))
			for _, t := range p.Threads {
				threads = append(threads, models.Thread{
					ServerID:       archive.ServerID,
					Pid:            p.Pid,
					ThreadID:       t.ThreadID,
					UserName:       t.UserName,
					Priority:       t.Priority,
					NiceValue:      t.NiceValue,
					VirtualMemory:  t.VirtualMemory,
					ResidentMemory: t.ResidentMemory,
					SharedMemory:   t.SharedMemory,
					Status:         t.Status,
					CPUUsage:       t.CPUUsage,
					MemoryUsage:    t.MemoryUsage,
					Runtime:        t.Runtime,
					Command:        t.Command,
				})
			}
			if err := s.processRepo.ReplaceThreads(ctx, archive.ServerID, p.Pid, threads); err != nil {
				return storageErr("导入线程", err)
			}
		}
	}

	for j := range archive.CrashLogs {
		c := &archive.CrashLogs[j]
		log := &models.CrashLog{
			ServerID:   archive.ServerID,
			LogID:      c.ID,
			Timestamp:  c.Timestamp,
			CrashType:  c.CrashType,
			Severity:   c.Severity,
			Title:      c.Title,
			Message:    c.Message,
			StackTrace: c.StackTrace,
			Resolved:   c.Resolved,
		}
		if c.AISuggestion != nil {
			log.AISummary = c.AISuggestion.Summary
			log.AIAnalysis = c.AISuggestion.Analysis
		}
		if err := s.crashLogRepo.Create(ctx, log); err != nil {
			return storageErr("导入崩溃日志", err)
		}
		result.addCreated()

		if c.AISuggestion != nil && len(c.AISuggestion.Recommendations) > 0 {
			recommendations := make([]models.AiRecommendation, 0, len(c.AISuggestion.Recommendations))
			for _, rec := range c.AISuggestion.Recommendations {
				recommendations = append(recommendations, models.AiRecommendation{
					CrashLogID: log.ID,
					Priority:   rec.Priority,
					Action:     rec.Action,
					Command:    rec.Command,
				})
			}
			if err := s.crashLogRepo.CreateRecommendations(ctx, recommendations); err != nil {
				return storageErr("导入AI建议", err)
			}
		}
	}

	return nil
}

// ExportArchive 导出全库为归档结构，指标按时间倒序，AI 建议按优先级升序
func (s *ArchiveService) ExportArchive(ctx context.Context) (*protocol.ArchiveData, error) {
	servers, err := s.serverRepo.FindAll(ctx)
	if err != nil {
		return nil, storageErr("查询服务器列表", err)
	}

	data := &protocol.ArchiveData{Servers: make([]protocol.ArchiveServer, 0, len(servers))}
	for i := range servers {
		server := &servers[i]
		archive := protocol.ArchiveServer{
			ServerID:     server.ServerID,
			ServerName:   server.ServerName,
			ServerIP:     server.ServerIP,
			ServerOS:     server.ServerOS,
			ServerStatus: server.ServerStatus,
		}

		metrics, err := s.metricRepo.ListByServer(ctx, server.ServerID, 0)
		if err != nil {
			return nil, storageErr("查询指标", err)
		}
		archive.SystemMetrics = make([]protocol.ArchiveMetric, 0, len(metrics))
		for _, m := range metrics {
			archive.SystemMetrics = append(archive.SystemMetrics, protocol.ArchiveMetric{
				Timestamp:   m.Timestamp,
				CPUUsage:    m.CPUUsage,
				MemoryUsage: m.MemoryUsage,
				DiskUsage:   m.DiskUsage,
				IORead:      m.IORead,
				IOWrite:     m.IOWrite,
				NetworkIn:   m.NetworkIn,
				NetworkOut:  m.NetworkOut,
			})
		}

		processes, err := s.processRepo.ListByServer(ctx, server.ServerID)
		if err != nil {
			return nil, storageErr("查询进程", err)
		}
		for _, p := range processes {
			archiveProcess := protocol.ArchiveProcess{
				Pid:      p.Pid,
				Name:     p.Name,
				UserName: p.UserName,
				Status:   p.Status,
			}

			trends, err := s.processRepo.ListTrends(ctx, server.ServerID, p.Pid)
			if err != nil {
				return nil, storageErr("查询进程趋势", err)
			}
			for _, t := range trends {
				archiveProcess.Trend = append(archiveProcess.Trend, protocol.ArchiveTrendEntry{
					Timestamp:   t.Timestamp,
					CPUUsage:    t.CPUUsage,
					MemoryUsage: t.MemoryUsage,
					ThreadCount: t.ThreadCount,
				})
			}

			threads, err := s.processRepo.ListThreads(ctx, server.ServerID, p.Pid)
			if err != nil {
				return nil, storageErr("查询线程", err)
			}
			for _, t := range threads {
				archiveProcess.Threads = append(archiveProcess.Threads, protocol.ThreadEntry{
					ThreadID:       t.ThreadID,
					UserName:       t.UserName,
					Priority:       t.Priority,
					NiceValue:      t.NiceValue,
					VirtualMemory:  t.VirtualMemory,
					ResidentMemory: t.ResidentMemory,
					SharedMemory:   t.SharedMemory,
					Status:         t.Status,
					CPUUsage:       t.CPUUsage,
					MemoryUsage:    t.MemoryUsage,
					Runtime:        t.Runtime,
					Command:        t.Command,
				})
			}

			archive.Processes = append(archive.Processes, archiveProcess)
		}

		logs, err := s.crashLogRepo.ListByServer(ctx, server.ServerID)
		if err != nil {
			return nil, storageErr("查询崩溃日志", err)
		}
		for _, c := range logs {
			archiveLog := protocol.ArchiveCrashLog{
				ID:         c.LogID,
				Timestamp:  c.Timestamp,
				CrashType:  c.CrashType,
				Severity:   c.Severity,
				Title:      c.Title,
				Message:    c.Message,
				StackTrace: c.StackTrace,
				Resolved:   c.Resolved,
			}

			recommendations, err := s.crashLogRepo.ListRecommendations(ctx, c.ID)
			if err != nil {
				return nil, storageErr("查询AI建议", err)
			}
			if c.AISummary != "" || c.AIAnalysis != "" || len(recommendations) > 0 {
				suggestion := &protocol.ArchiveAiSuggestion{
					Summary:         c.AISummary,
					Analysis:        c.AIAnalysis,
					Recommendations: make([]protocol.ArchiveRecommendation, 0, len(recommendations)),
				}
				for _, rec := range recommendations {
					suggestion.Recommendations = append(suggestion.Recommendations, protocol.ArchiveRecommendation{
						Priority: rec.Priority,
						Action:   rec.Action,
						Command:  rec.Command,
					})
				}
				archiveLog.AISuggestion = suggestion
			}

			archive.CrashLogs = append(archive.CrashLogs, archiveLog)
		}

		data.Servers = append(data.Servers, archive)
	}
	return data, nil
}

// CleanDatabase 清空全部业务数据，按子表到父表的顺序删除
func (s *ArchiveService) CleanDatabase(ctx context.Context) error {
	err := s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.crashLogRepo.DeleteAll(ctx); err != nil {
			return err
		}
		if err := s.processRepo.DeleteAll(ctx); err != nil {
			return err
		}
		if err := s.metricRepo.DeleteAll(ctx); err != nil {
			return err
		}
		return s.serverRepo.DeleteAll(ctx)
	})
	if err != nil {
		return storageErr("清空数据库", err)
	}
	s.logger.Info("数据库已清空")
	return nil
}

// CleanOldMetrics 删除保留期之外的系统指标，返回删除条数
func (s *ArchiveService) CleanOldMetrics(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -retentionDays).UnixMilli()
	deleted, err := s.metricRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, storageErr("清理过期指标", err)
	}
	s.logger.Info("过期指标清理完成",
		zap.Int("retentionDays", retentionDays),
		zap.Int64("deleted", deleted))
	return deleted, nil
}
