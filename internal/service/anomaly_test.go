package service

import (
	"context"
	"strings"
	"testing"

	"github.com/dushixiang/blackbox/internal/protocol"
)

func TestHasThreadException(t *testing.T) {
	t.Run("阈值整数不触发", func(t *testing.T) {
		record := &protocol.ProcessRecord{
			Trend: []protocol.TrendEntry{{ThreadCount: ThreadExceptionThreshold}},
		}
		if hasThreadException(record) {
			t.Errorf("线程数等于 %d 不应该触发异常", ThreadExceptionThreshold)
		}
	})

	t.Run("超过阈值触发", func(t *testing.T) {
		record := &protocol.ProcessRecord{
			Trend: []protocol.TrendEntry{{ThreadCount: ThreadExceptionThreshold + 1}},
		}
		if !hasThreadException(record) {
			t.Errorf("线程数 %d 应该触发异常", ThreadExceptionThreshold+1)
		}
	})

	t.Run("任一趋势条目超过阈值即触发", func(t *testing.T) {
		record := &protocol.ProcessRecord{
			Trend: []protocol.TrendEntry{
				{ThreadCount: 10},
				{ThreadCount: ThreadExceptionThreshold + 500},
				{ThreadCount: 20},
			},
		}
		if !hasThreadException(record) {
			t.Error("存在超过阈值的趋势条目时应该触发异常")
		}
	})

	t.Run("线程条目数量超过阈值触发", func(t *testing.T) {
		record := &protocol.ProcessRecord{
			Threads: make([]protocol.ThreadEntry, ThreadExceptionThreshold+1),
		}
		if !hasThreadException(record) {
			t.Error("线程条目数量超过阈值时应该触发异常")
		}
	})
}

func TestIsKernelCrash(t *testing.T) {
	crashes := []string{
		"[12345.678] kernel BUG at mm/slab.c:123",
		"Internal error: Oops: 96000004",
		"myapp[1234]: segmentation fault at 0x0",
		"kernel panic - not syncing",
		"Call trace:",
		"---[ end trace 0123456789abcdef ]---",
		"BUG: unable to handle page fault",
		"WARNING: CPU: 2 PID: 100",
	}
	for _, text := range crashes {
		if !isKernelCrash(text) {
			t.Errorf("文本应该被识别为内核崩溃: %q", text)
		}
	}

	normals := []string{
		"",
		"eth0: link up, 1000Mbps",
		"systemd[1]: Started Daily apt download activities.",
		"warning: 小写的 warning 不应匹配",
	}
	for _, text := range normals {
		if isKernelCrash(text) {
			t.Errorf("正常文本不应该被识别为内核崩溃: %q", text)
		}
	}
}

func TestBuildThreadExceptionStackTrace(t *testing.T) {
	record := &protocol.ProcessRecord{
		ServerID:   "srv-001",
		ServerName: "web-01",
		Pid:        4321,
		Name:       "java",
		UserName:   "app",
		Timestamp:  1700000000000,
		Trend:      []protocol.TrendEntry{{ThreadCount: 2500}},
	}
	for i := 0; i < 12; i++ {
		record.Threads = append(record.Threads, protocol.ThreadEntry{
			ThreadID:    9000 + i,
			CPUUsage:    "1.5",
			MemoryUsage: "0.8",
			Command:     strings.Repeat("x", 80),
		})
	}

	trace := buildThreadExceptionStackTrace(record)

	if !strings.HasPrefix(trace, "THREAD_EXCEPTION_DETECTED\n") {
		t.Error("诊断文本应该以 THREAD_EXCEPTION_DETECTED 开头")
	}
	if !strings.Contains(trace, "PROCESS_INFO: PID=4321, NAME=java, USER=app") {
		t.Error("诊断文本缺少 PROCESS_INFO 标记行")
	}
	if !strings.Contains(trace, "SERVER_INFO: ID=srv-001, NAME=web-01") {
		t.Error("诊断文本缺少 SERVER_INFO 行")
	}
	if !strings.Contains(trace, "TIMESTAMP: 1700000000000") {
		t.Error("诊断文本缺少 TIMESTAMP 行")
	}
	if !strings.Contains(trace, "Trend[0] thread_count: 2500") {
		t.Error("诊断文本缺少趋势分析行")
	}
	if !strings.Contains(trace, "... and 2 more threads") {
		t.Error("超过 10 个线程时应该输出省略行")
	}
	if strings.Contains(trace, "Thread[10]") {
		t.Error("线程详情最多输出 10 条")
	}
	// 命令被截断到 50 个字符
	if strings.Contains(trace, strings.Repeat("x", 51)) {
		t.Error("线程命令应该被截断到 50 个字符")
	}
	if !strings.Contains(trace, strings.Repeat("x", 50)) {
		t.Error("截断后的命令应该保留前 50 个字符")
	}
	if !strings.HasSuffix(trace, "RECOMMENDATION: Check for thread leaks or infinite thread creation") {
		t.Error("诊断文本应该以 RECOMMENDATION 行结尾")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("abc", 50); got != "abc" {
		t.Errorf("短字符串不应该被截断, got %q", got)
	}
	// 中文按字符截断，不能截断出半个字符
	if got := truncateRunes(strings.Repeat("进", 60), 50); got != strings.Repeat("进", 50) {
		t.Errorf("多字节字符应该按字符截断, got %d 字节", len(got))
	}
}

// explodedProcessPayload 构造一个触发线程异常的组合 payload
func explodedProcessPayload(serverID string, pid int) *protocol.CombinedPayload {
	return &protocol.CombinedPayload{
		Process: []protocol.ProcessRecord{{
			ServerID:     serverID,
			ServerName:   "web-01",
			ServerIP:     "10.0.0.1",
			ServerOS:     "Ubuntu 22.04",
			ServerStatus: "online",
			Pid:          pid,
			Name:         "java",
			UserName:     "app",
			Status:       "running",
			Timestamp:    1700000000000,
			Trend:        []protocol.TrendEntry{{CPUUsage: 50, MemoryUsage: 30, ThreadCount: ThreadExceptionThreshold + 1}},
		}},
	}
}

func TestThreadExceptionDedup(t *testing.T) {
	s, db := newTestIngestService(t)
	ctx := context.Background()

	// 第一次上报：合成一条线程异常日志
	result, err := s.IngestCombined(ctx, explodedProcessPayload("srv-001", 4321), true)
	if err != nil {
		t.Fatalf("IngestCombined() 失败: %v", err)
	}
	if result.FailedCount != 0 {
		t.Fatalf("不应该有失败记录, failed = %d", result.FailedCount)
	}

	logs, err := s.crashLogRepo.ListByServer(ctx, "srv-001")
	if err != nil {
		t.Fatalf("查询崩溃日志失败: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("应该合成 1 条崩溃日志, 实际 %d 条", len(logs))
	}
	if logs[0].CrashType != "thread_exception" {
		t.Errorf("崩溃类型 = %s, want thread_exception", logs[0].CrashType)
	}
	if logs[0].Severity != "high" {
		t.Errorf("严重级别 = %s, want high", logs[0].Severity)
	}
	if logs[0].Title != "正在等待 AI 生成" {
		t.Errorf("标题应该是占位文本, got %s", logs[0].Title)
	}
	if logs[0].LogID != logs[0].Timestamp {
		t.Error("合成日志的 log_id 应该等于检测时间戳")
	}

	// 第二次上报同一进程：被去重，不产生新日志
	if _, err := s.IngestCombined(ctx, explodedProcessPayload("srv-001", 4321), true); err != nil {
		t.Fatalf("IngestCombined() 失败: %v", err)
	}
	count, err := s.crashLogRepo.CountByServer(ctx, "srv-001")
	if err != nil {
		t.Fatalf("统计崩溃日志失败: %v", err)
	}
	if count != 1 {
		t.Errorf("同一进程重复上报不应该产生新日志, 实际 %d 条", count)
	}

	// 标记为已解决后再次上报：判重不看 resolved 状态，仍然不产生新日志
	if err := db.Model(&logs[0]).Update("resolved", true).Error; err != nil {
		t.Fatalf("更新 resolved 失败: %v", err)
	}
	if _, err := s.IngestCombined(ctx, explodedProcessPayload("srv-001", 4321), true); err != nil {
		t.Fatalf("IngestCombined() 失败: %v", err)
	}
	count, _ = s.crashLogRepo.CountByServer(ctx, "srv-001")
	if count != 1 {
		t.Errorf("已解决的日志也参与判重, 不应该产生新日志, 实际 %d 条", count)
	}

	// 不同 PID 的进程爆炸：标记不同，产生新日志
	if _, err := s.IngestCombined(ctx, explodedProcessPayload("srv-001", 9999), true); err != nil {
		t.Fatalf("IngestCombined() 失败: %v", err)
	}
	count, _ = s.crashLogRepo.CountByServer(ctx, "srv-001")
	if count != 2 {
		t.Errorf("不同进程的线程异常应该产生新日志, 实际 %d 条", count)
	}
}

func TestKernelCrashNoDedup(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	dmesg := "[100.0] kernel BUG at mm/slab.c:123\nCall trace:\n..."
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
		}},
		Dmesg: dmesg,
	}

	// 同样的 dmesg 上报两次：内核崩溃路径不去重，产生两条日志
	for i := 0; i < 2; i++ {
		if _, err := s.IngestCombined(ctx, payload, true); err != nil {
			t.Fatalf("第 %d 次 IngestCombined() 失败: %v", i+1, err)
		}
	}

	logs, err := s.crashLogRepo.ListByServer(ctx, "srv-001")
	if err != nil {
		t.Fatalf("查询崩溃日志失败: %v", err)
	}
	var kernelLogs int
	for _, log := range logs {
		if log.CrashType == "segmentation_fault" {
			kernelLogs++
			if log.StackTrace != dmesg {
				t.Error("内核崩溃日志的 stack_trace 应该是原始 dmesg 文本")
			}
		}
	}
	if kernelLogs != 2 {
		t.Errorf("内核崩溃不去重, 应该有 2 条日志, 实际 %d 条", kernelLogs)
	}
}

func TestKernelCrashNeedsServer(t *testing.T) {
	s, _ := newTestIngestService(t)
	ctx := context.Background()

	// 没有进程记录时无法确定归属服务器，dmesg 被跳过
	payload := &protocol.CombinedPayload{
		Dmesg: "kernel panic - not syncing",
	}
	result, err := s.IngestCombined(ctx, payload, true)
	if err != nil {
		t.Fatalf("IngestCombined() 失败: %v", err)
	}
	if result.CreatedCount != 0 {
		t.Errorf("没有归属服务器时不应该合成日志, created = %d", result.CreatedCount)
	}
}
