package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dushixiang/blackbox/internal/database"
	"github.com/dushixiang/blackbox/internal/protocol"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// newTestDB 创建临时数据库并迁移表结构
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	return db
}

func newTestIngestService(t *testing.T) (*IngestService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewIngestService(zap.NewNop(), db), db
}

func testServerRecord(serverID string) protocol.ServerRecord {
	return protocol.ServerRecord{
		ServerID:     serverID,
		ServerName:   "web-01",
		ServerIP:     "10.0.0.1",
		ServerOS:     "Ubuntu 22.04",
		ServerStatus: "online",
	}
}

func TestIngestServersIdempotent(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	// 首次上报：创建
	result, err := s.IngestServers(ctx, []protocol.ServerRecord{testServerRecord("srv-001")}, true)
	if err != nil {
		t.Fatalf("IngestServers() 失败: %v", err)
	}
	if result.CreatedCount != 1 || result.UpdatedCount != 0 {
		t.Errorf("首次上报应该创建 1 条, got created=%d updated=%d", result.CreatedCount, result.UpdatedCount)
	}

	// 再次上报：只覆盖状态，名称等属性保持首次的值
	record := testServerRecord("srv-001")
	record.ServerName = "renamed"
	record.ServerStatus = "offline"
	result, err = s.IngestServers(ctx, []protocol.ServerRecord{record}, true)
	if err != nil {
		t.Fatalf("IngestServers() 失败: %v", err)
	}
	if result.UpdatedCount != 1 || result.CreatedCount != 0 {
		t.Errorf("重复上报应该更新 1 条, got created=%d updated=%d", result.CreatedCount, result.UpdatedCount)
	}

	server, err := s.serverRepo.FindByServerID(ctx, "srv-001")
	if err != nil {
		t.Fatalf("查询服务器失败: %v", err)
	}
	if server == nil {
		t.Fatal("服务器应该存在")
	}
	if server.ServerStatus != "offline" {
		t.Errorf("状态应该被覆盖为 offline, got %s", server.ServerStatus)
	}
	if server.ServerName != "web-01" {
		t.Errorf("更新时不应该覆盖名称, got %s", server.ServerName)
	}

	count, _ := s.serverRepo.Count(ctx)
	if count != 1 {
		t.Errorf("服务器只应该有 1 条记录, got %d", count)
	}
}

func TestIngestServersValidation(t *testing.T) {
	s, _ := newTestIngestService(t)

	result, err := s.IngestServers(context.Background(), []protocol.ServerRecord{{ServerID: ""}}, false)
	if err == nil {
		t.Fatal("缺少 serverId 应该返回错误")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("错误类型应该是 ValidationError, got %T", err)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed = %d, want 1", result.FailedCount)
	}
}

func TestIngestMetricsOverwrite(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	if _, err := s.IngestServers(ctx, []protocol.ServerRecord{testServerRecord("srv-001")}, true); err != nil {
		t.Fatalf("准备服务器失败: %v", err)
	}

	metric := protocol.MetricRecord{ServerID: "srv-001", Timestamp: 1000, CPUUsage: 10, MemoryUsage: 20}
	result, err := s.IngestMetrics(ctx, []protocol.MetricRecord{metric}, true)
	if err != nil {
		t.Fatalf("IngestMetrics() 失败: %v", err)
	}
	if result.CreatedCount != 1 {
		t.Errorf("created = %d, want 1", result.CreatedCount)
	}

	// 同一时间戳重复上报：整行覆盖
	metric.CPUUsage = 55
	result, err = s.IngestMetrics(ctx, []protocol.MetricRecord{metric}, true)
	if err != nil {
		t.Fatalf("IngestMetrics() 失败: %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Errorf("updated = %d, want 1", result.UpdatedCount)
	}

	stored, err := s.metricRepo.FindByServerAndTimestamp(ctx, "srv-001", 1000)
	if err != nil || stored == nil {
		t.Fatalf("查询指标失败: %v", err)
	}
	if stored.CPUUsage != 55 {
		t.Errorf("CPU 使用率应该被覆盖为 55, got %v", stored.CPUUsage)
	}

	count, _ := s.metricRepo.CountByServer(ctx, "srv-001")
	if count != 1 {
		t.Errorf("同一时间戳不应该产生新行, count = %d", count)
	}
}

func TestIngestMetricsMissingReference(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	if _, err := s.IngestServers(ctx, []protocol.ServerRecord{testServerRecord("srv-001")}, true); err != nil {
		t.Fatalf("准备服务器失败: %v", err)
	}

	records := []protocol.MetricRecord{
		{ServerID: "srv-001", Timestamp: 1000},
		{ServerID: "srv-unknown", Timestamp: 2000},
		{ServerID: "srv-001", Timestamp: 3000},
	}

	t.Run("遇错中止", func(t *testing.T) {
		result, err := s.IngestMetrics(ctx, records, false)
		if err == nil {
			t.Fatal("引用不存在的服务器应该返回错误")
		}
		var missingErr *MissingReferenceError
		if !errors.As(err, &missingErr) {
			t.Fatalf("错误类型应该是 MissingReferenceError, got %T", err)
		}
		if missingErr.ServerID != "srv-unknown" {
			t.Errorf("错误中的 serverId = %s, want srv-unknown", missingErr.ServerID)
		}
		// 第一条已成功，第三条未处理
		if result.CreatedCount != 1 || result.FailedCount != 1 {
			t.Errorf("部分统计 created=%d failed=%d, want 1/1", result.CreatedCount, result.FailedCount)
		}
	})

	t.Run("遇错继续", func(t *testing.T) {
		result, err := s.IngestMetrics(ctx, records, true)
		if err != nil {
			t.Fatalf("continueOnError 模式不应该返回错误: %v", err)
		}
		// 第一条已存在变为更新，第三条本次创建
		if result.FailedCount != 1 {
			t.Errorf("failed = %d, want 1", result.FailedCount)
		}
		if result.UpdatedCount != 1 || result.CreatedCount != 1 {
			t.Errorf("created=%d updated=%d, want 1/1", result.CreatedCount, result.UpdatedCount)
		}
	})
}

func TestIngestProcessesIdentity(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	record := protocol.ProcessRecord{
		ServerID:     "srv-001",
		ServerName:   "web-01",
		ServerIP:     "10.0.0.1",
		ServerOS:     "Ubuntu 22.04",
		ServerStatus: "online",
		Pid:          100,
		Name:         "nginx",
		UserName:     "root",
		Status:       "running",
		Timestamp:    1700000000000,
		Trend:        []protocol.TrendEntry{{CPUUsage: 10, MemoryUsage: 5, ThreadCount: 4}},
		Threads: []protocol.ThreadEntry{
			{ThreadID: 101, Command: "nginx: worker"},
			{ThreadID: 102, Command: "nginx: worker"},
			{ThreadID: 103, Command: "nginx: cache"},
		},
	}

	// 首次上报：服务器自动创建，进程创建
	result, err := s.IngestProcesses(ctx, []protocol.ProcessRecord{record}, true)
	if err != nil {
		t.Fatalf("IngestProcesses() 失败: %v", err)
	}
	if result.CreatedCount != 1 {
		t.Errorf("created = %d, want 1", result.CreatedCount)
	}
	if server, _ := s.serverRepo.FindByServerID(ctx, "srv-001"); server == nil {
		t.Fatal("上报携带服务器描述字段时应该自动创建服务器")
	}

	// 进程重启后 pid 变化，但名称+用户不变：按同一进程更新
	record.Pid = 101
	record.Status = "sleeping"
	record.Timestamp = 1700000060000
	record.Threads = record.Threads[:2]
	result, err = s.IngestProcesses(ctx, []protocol.ProcessRecord{record}, true)
	if err != nil {
		t.Fatalf("IngestProcesses() 失败: %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Errorf("updated = %d, want 1", result.UpdatedCount)
	}

	process, err := s.processRepo.FindByIdentity(ctx, "srv-001", "nginx", "root")
	if err != nil || process == nil {
		t.Fatalf("查询进程失败: %v", err)
	}
	if process.Pid != 100 {
		t.Errorf("进程 pid 不应该跟随更新, got %d", process.Pid)
	}
	if process.Status != "sleeping" {
		t.Errorf("进程状态应该被覆盖, got %s", process.Status)
	}

	count, _ := s.processRepo.Count(ctx)
	if count != 1 {
		t.Errorf("同一身份的进程只应该有 1 条记录, got %d", count)
	}

	// 趋势是追加式的：两次上报各追加一条
	trends, err := s.processRepo.ListTrends(ctx, "srv-001", 100)
	if err != nil {
		t.Fatalf("查询趋势失败: %v", err)
	}
	if len(trends) != 1 {
		t.Errorf("pid 100 的趋势应该有 1 条, got %d", len(trends))
	}
	trends, _ = s.processRepo.ListTrends(ctx, "srv-001", 101)
	if len(trends) != 1 {
		t.Errorf("pid 101 的趋势应该有 1 条, got %d", len(trends))
	}

	// 线程整组替换：第二次上报后只剩第二次的集合
	threadCount, _ := s.processRepo.CountThreads(ctx, "srv-001", 101)
	if threadCount != 2 {
		t.Errorf("线程应该被整组替换为 2 条, got %d", threadCount)
	}
}

func TestIngestProcessesMissingServerInfo(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	// 服务器不存在且记录未携带描述字段
	record := protocol.ProcessRecord{
		ServerID: "srv-absent",
		Pid:      1,
		Name:     "bash",
		UserName: "root",
		Status:   "running",
	}
	result, err := s.IngestProcesses(ctx, []protocol.ProcessRecord{record}, false)
	if err == nil {
		t.Fatal("服务器不存在且无法自动创建时应该返回错误")
	}
	var missingErr *MissingReferenceError
	if !errors.As(err, &missingErr) {
		t.Errorf("错误类型应该是 MissingReferenceError, got %T", err)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed = %d, want 1", result.FailedCount)
	}
}

func TestIngestCrashLogsUpsert(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	if _, err := s.IngestServers(ctx, []protocol.ServerRecord{testServerRecord("srv-001")}, true); err != nil {
		t.Fatalf("准备服务器失败: %v", err)
	}

	record := protocol.CrashLogRecord{
		ServerID:  "srv-001",
		LogID:     1,
		Timestamp: 1700000000000,
		CrashType: "segmentation_fault",
		Severity:  "high",
		Title:     "进程崩溃",
		Message:   "core dumped",
	}
	result, err := s.IngestCrashLogs(ctx, []protocol.CrashLogRecord{record}, true)
	if err != nil {
		t.Fatalf("IngestCrashLogs() 失败: %v", err)
	}
	if result.CreatedCount != 1 {
		t.Errorf("created = %d, want 1", result.CreatedCount)
	}

	// 同一时间戳再次上报：覆盖
	record.Title = "更新后的标题"
	record.Resolved = true
	result, err = s.IngestCrashLogs(ctx, []protocol.CrashLogRecord{record}, true)
	if err != nil {
		t.Fatalf("IngestCrashLogs() 失败: %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Errorf("updated = %d, want 1", result.UpdatedCount)
	}

	stored, err := s.crashLogRepo.FindByServerAndTimestamp(ctx, "srv-001", 1700000000000)
	if err != nil || stored == nil {
		t.Fatalf("查询崩溃日志失败: %v", err)
	}
	if stored.Title != "更新后的标题" {
		t.Errorf("标题应该被覆盖, got %s", stored.Title)
	}
	if !stored.Resolved {
		t.Error("resolved 应该被覆盖为 true")
	}

	count, _ := s.crashLogRepo.CountByServer(ctx, "srv-001")
	if count != 1 {
		t.Errorf("同一时间戳不应该产生新行, count = %d", count)
	}
}

func TestIngestCombined(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	payload := &protocol.CombinedPayload{
		Process: []protocol.ProcessRecord{{
			ServerID:     "srv-001",
			ServerName:   "web-01",
			ServerIP:     "10.0.0.1",
			ServerOS:     "Ubuntu 22.04",
			ServerStatus: "online",
			Pid:          100,
			Name:         "nginx",
			UserName:     "root",
			Status:       "running",
			Timestamp:    1700000000000,
			Trend:        []protocol.TrendEntry{{CPUUsage: 10, MemoryUsage: 5, ThreadCount: 4}},
		}},
		Metrics: []protocol.MetricRecord{
			{ServerID: "srv-001", Timestamp: 1700000000000, CPUUsage: 30},
		},
	}

	result, err := s.IngestCombined(ctx, payload, true)
	if err != nil {
		t.Fatalf("IngestCombined() 失败: %v", err)
	}
	// 进程 + 指标各创建一条；服务器确保不计入统计
	if result.CreatedCount != 2 {
		t.Errorf("created = %d, want 2", result.CreatedCount)
	}
	if result.FailedCount != 0 {
		t.Errorf("failed = %d, want 0", result.FailedCount)
	}

	if server, _ := s.serverRepo.FindByServerID(ctx, "srv-001"); server == nil {
		t.Fatal("组合上报应该自动创建服务器")
	}

	// 再次上报：进程和指标都变为更新
	result, err = s.IngestCombined(ctx, payload, true)
	if err != nil {
		t.Fatalf("IngestCombined() 失败: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Errorf("updated = %d, want 2", result.UpdatedCount)
	}
}

func TestIngestCombinedMissingServerCountsOnce(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	// 服务器不存在且记录未携带描述字段：确保阶段失败后该记录不再进入进程调和
	payload := &protocol.CombinedPayload{
		Process: []protocol.ProcessRecord{{
			ServerID: "srv-unknown",
			Pid:      1,
			Name:     "nginx",
			UserName: "root",
			Status:   "running",
		}},
	}

	t.Run("遇错继续", func(t *testing.T) {
		result, err := s.IngestCombined(ctx, payload, true)
		if err != nil {
			t.Fatalf("IngestCombined() 失败: %v", err)
		}
		if result.FailedCount != 1 {
			t.Errorf("失败条数 = %d, want 1", result.FailedCount)
		}
		if result.CreatedCount != 0 || result.UpdatedCount != 0 {
			t.Errorf("新建/更新条数 = %d/%d, want 0/0", result.CreatedCount, result.UpdatedCount)
		}
	})

	t.Run("遇错中止", func(t *testing.T) {
		result, err := s.IngestCombined(ctx, payload, false)
		var missingErr *MissingReferenceError
		if !errors.As(err, &missingErr) {
			t.Fatalf("错误类型应该是 MissingReferenceError, got %v", err)
		}
		if result.FailedCount != 1 {
			t.Errorf("失败条数 = %d, want 1", result.FailedCount)
		}
	})
}
