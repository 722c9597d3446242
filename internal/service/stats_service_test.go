package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestStatsOverview(t *testing.T) {
	db := newTestDB(t)
	archiveService := NewArchiveService(zap.NewNop(), db)
	statsService := NewStatsService(zap.NewNop(), db)
	ctx := context.Background()

	if _, err := archiveService.ImportArchive(ctx, testArchiveData()); err != nil {
		t.Fatalf("导入失败: %v", err)
	}

	stats, err := statsService.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview() 失败: %v", err)
	}
	if stats.ServerCount != 1 {
		t.Errorf("服务器总数 = %d, want 1", stats.ServerCount)
	}
	if stats.MetricCount != 2 {
		t.Errorf("指标总数 = %d, want 2", stats.MetricCount)
	}
	if stats.ProcessCount != 1 {
		t.Errorf("进程总数 = %d, want 1", stats.ProcessCount)
	}
	if stats.CrashLogCount != 1 {
		t.Errorf("崩溃日志总数 = %d, want 1", stats.CrashLogCount)
	}
	if stats.UnresolvedCount != 1 {
		t.Errorf("未解决数 = %d, want 1", stats.UnresolvedCount)
	}
	if len(stats.Servers) != 1 {
		t.Fatalf("服务器明细应该有 1 条, got %d", len(stats.Servers))
	}
	server := stats.Servers[0]
	if server.LatestMetricAt != 2000 {
		t.Errorf("最新指标时间 = %d, want 2000", server.LatestMetricAt)
	}

	// 概览结果有缓存：导入新数据后短期内仍返回旧值
	if _, err := archiveService.ImportArchive(ctx, testArchiveData()); err != nil {
		t.Fatalf("二次导入失败: %v", err)
	}
	cached, err := statsService.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview() 失败: %v", err)
	}
	if cached.MetricCount != stats.MetricCount {
		t.Errorf("缓存期内应该返回相同的统计结果, got %d", cached.MetricCount)
	}
}

func TestStatsServerMetricsRange(t *testing.T) {
	db := newTestDB(t)
	archiveService := NewArchiveService(zap.NewNop(), db)
	statsService := NewStatsService(zap.NewNop(), db)
	ctx := context.Background()

	if _, err := archiveService.ImportArchive(ctx, testArchiveData()); err != nil {
		t.Fatalf("导入失败: %v", err)
	}

	t.Run("时间范围过滤", func(t *testing.T) {
		metrics, err := statsService.ServerMetrics(ctx, "srv-001", 1500, 2500)
		if err != nil {
			t.Fatalf("ServerMetrics() 失败: %v", err)
		}
		if len(metrics) != 1 {
			t.Fatalf("指标数量 = %d, want 1", len(metrics))
		}
		if metrics[0].Timestamp != 2000 {
			t.Errorf("指标时间戳 = %d, want 2000", metrics[0].Timestamp)
		}
	})

	t.Run("end 为 0 表示不限", func(t *testing.T) {
		metrics, err := statsService.ServerMetrics(ctx, "srv-001", 0, 0)
		if err != nil {
			t.Fatalf("ServerMetrics() 失败: %v", err)
		}
		if len(metrics) != 2 {
			t.Errorf("指标数量 = %d, want 2", len(metrics))
		}
	})

	t.Run("服务器不存在", func(t *testing.T) {
		_, err := statsService.ServerMetrics(ctx, "srv-unknown", 0, 0)
		var missing *MissingReferenceError
		if !errors.As(err, &missing) {
			t.Fatalf("期望 MissingReferenceError, got %v", err)
		}
	})
}

func TestStatsUnresolvedCrashLogs(t *testing.T) {
	db := newTestDB(t)
	archiveService := NewArchiveService(zap.NewNop(), db)
	statsService := NewStatsService(zap.NewNop(), db)
	ctx := context.Background()

	if _, err := archiveService.ImportArchive(ctx, testArchiveData()); err != nil {
		t.Fatalf("导入失败: %v", err)
	}

	logs, err := statsService.UnresolvedCrashLogs(ctx)
	if err != nil {
		t.Fatalf("UnresolvedCrashLogs() 失败: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("未解决崩溃数量 = %d, want 1", len(logs))
	}

	if err := db.Model(&logs[0]).Update("resolved", true).Error; err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	logs, err = statsService.UnresolvedCrashLogs(ctx)
	if err != nil {
		t.Fatalf("UnresolvedCrashLogs() 失败: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("标记已解决后数量 = %d, want 0", len(logs))
	}
}
