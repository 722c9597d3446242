package service

import (
	"context"
	"time"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/dushixiang/blackbox/internal/repo"
	"github.com/go-orz/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServerStats 单台服务器的统计信息
type ServerStats struct {
	ServerID       string `json:"serverId"`
	ServerName     string `json:"serverName"`
	ServerStatus   string `json:"serverStatus"`
	MetricCount    int64  `json:"metricCount"`
	ProcessCount   int64  `json:"processCount"`
	CrashLogCount  int64  `json:"crashLogCount"`
	LatestMetricAt int64  `json:"latestMetricAt"` // 毫秒时间戳，无数据时为 0
}

// OverviewStats 全库统计概览
type OverviewStats struct {
	ServerCount     int64         `json:"serverCount"`
	ProcessCount    int64         `json:"processCount"`
	MetricCount     int64         `json:"metricCount"`
	CrashLogCount   int64         `json:"crashLogCount"`
	UnresolvedCount int64         `json:"unresolvedCount"`
	Servers         []ServerStats `json:"servers"`
}

// StatsService 统计概览，概览结果做短时缓存
type StatsService struct {
	logger       *zap.Logger
	serverRepo   *repo.ServerRepo
	metricRepo   *repo.MetricRepo
	processRepo  *repo.ProcessRepo
	crashLogRepo *repo.CrashLogRepo

	overviewCache cache.Cache[string, *OverviewStats]
}

func NewStatsService(logger *zap.Logger, db *gorm.DB) *StatsService {
	return &StatsService{
		logger:        logger,
		serverRepo:    repo.NewServerRepo(db),
		metricRepo:    repo.NewMetricRepo(db),
		processRepo:   repo.NewProcessRepo(db),
		crashLogRepo:  repo.NewCrashLogRepo(db),
		overviewCache: cache.New[string, *OverviewStats](time.Minute),
	}
}

const overviewCacheKey = "overview"

// Overview 返回全库统计概览，结果缓存五分钟
func (s *StatsService) Overview(ctx context.Context) (*OverviewStats, error) {
	if cached, ok := s.overviewCache.Get(overviewCacheKey); ok {
		return cached, nil
	}

	stats, err := s.buildOverview(ctx)
	if err != nil {
		return nil, err
	}
	s.overviewCache.Set(overviewCacheKey, stats, 5*time.Minute)
	return stats, nil
}

// ServerMetrics 按时间范围查询某台服务器的指标，start/end 为毫秒时间戳，end 为 0 表示不限
func (s *StatsService) ServerMetrics(ctx context.Context, serverID string, start, end int64) ([]models.SystemMetric, error) {
	if serverID == "" {
		return nil, &ValidationError{Reason: "serverId 不能为空"}
	}
	server, err := s.serverRepo.FindByServerID(ctx, serverID)
	if err != nil {
		return nil, storageErr("查询服务器", err)
	}
	if server == nil {
		return nil, &MissingReferenceError{ServerID: serverID}
	}
	if end <= 0 {
		end = time.Now().UnixMilli()
	}
	metrics, err := s.metricRepo.ListByTimeRange(ctx, serverID, start, end)
	if err != nil {
		return nil, storageErr("查询指标", err)
	}
	return metrics, nil
}

// UnresolvedCrashLogs 按时间倒序列出所有未解决的崩溃日志
func (s *StatsService) UnresolvedCrashLogs(ctx context.Context) ([]models.CrashLog, error) {
	logs, err := s.crashLogRepo.ListUnresolved(ctx)
	if err != nil {
		return nil, storageErr("查询未解决崩溃", err)
	}
	return logs, nil
}

func (s *StatsService) buildOverview(ctx context.Context) (*OverviewStats, error) {
	stats := &OverviewStats{}

	servers, err := s.serverRepo.FindAll(ctx)
	if err != nil {
		return nil, storageErr("查询服务器列表", err)
	}
	stats.ServerCount = int64(len(servers))

	if stats.UnresolvedCount, err = s.crashLogRepo.CountUnresolved(ctx); err != nil {
		return nil, storageErr("统计未解决崩溃", err)
	}

	stats.Servers = make([]ServerStats, 0, len(servers))
	for i := range servers {
		server := &servers[i]
		item := ServerStats{
			ServerID:     server.ServerID,
			ServerName:   server.ServerName,
			ServerStatus: server.ServerStatus,
		}

		if item.MetricCount, err = s.metricRepo.CountByServer(ctx, server.ServerID); err != nil {
			return nil, storageErr("统计指标", err)
		}
		if item.ProcessCount, err = s.processRepo.CountByServer(ctx, server.ServerID); err != nil {
			return nil, storageErr("统计进程", err)
		}
		if item.CrashLogCount, err = s.crashLogRepo.CountByServer(ctx, server.ServerID); err != nil {
			return nil, storageErr("统计崩溃日志", err)
		}

		latest, err := s.metricRepo.ListByServer(ctx, server.ServerID, 1)
		if err != nil {
			return nil, storageErr("查询最新指标", err)
		}
		if len(latest) > 0 {
			item.LatestMetricAt = latest[0].Timestamp
		}

		stats.MetricCount += item.MetricCount
		stats.ProcessCount += item.ProcessCount
		stats.CrashLogCount += item.CrashLogCount
		stats.Servers = append(stats.Servers, item)
	}

	return stats, nil
}
