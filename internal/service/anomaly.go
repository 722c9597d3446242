package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/dushixiang/blackbox/internal/protocol"
	"go.uber.org/zap"
)

// ThreadExceptionThreshold 线程数异常阈值：严格大于该值才算异常
const ThreadExceptionThreshold = 2000

const (
	crashTypeThreadException    = "thread_exception"
	crashTypeSegmentationFault  = "segmentation_fault"
	severityHigh                = "high"
	pendingAIText               = "正在等待 AI 生成"
	threadExceptionMarkerPrefix = "PROCESS_INFO: PID="
)

// kernelCrashIndicators dmesg 文本中的内核崩溃特征（区分大小写的子串匹配）
var kernelCrashIndicators = []string{
	"kernel BUG at",
	"Internal error: Oops",
	"segmentation fault",
	"kernel panic",
	"Call trace:",
	"---[ end trace",
	"BUG:",
	"WARNING:",
}

// hasThreadException 判断进程是否出现线程数异常：
// 任一趋势条目的线程数超过阈值，或实际上报的线程条目数超过阈值。
func hasThreadException(record *protocol.ProcessRecord) bool {
	for _, trend := range record.Trend {
		if trend.ThreadCount > ThreadExceptionThreshold {
			return true
		}
	}
	return len(record.Threads) > ThreadExceptionThreshold
}

// isKernelCrash 判断 dmesg 文本是否包含内核崩溃特征
func isKernelCrash(dmesg string) bool {
	for _, indicator := range kernelCrashIndicators {
		if strings.Contains(dmesg, indicator) {
			return true
		}
	}
	return false
}

// buildThreadExceptionStackTrace 构建线程异常诊断文本
// PROCESS_INFO 标记行同时是去重依据，格式不能改动。
func buildThreadExceptionStackTrace(record *protocol.ProcessRecord) string {
	var sb strings.Builder

	sb.WriteString("THREAD_EXCEPTION_DETECTED\n")
	sb.WriteString(fmt.Sprintf("PROCESS_INFO: PID=%d, NAME=%s, USER=%s\n",
		record.Pid, record.Name, record.UserName))
	sb.WriteString(fmt.Sprintf("SERVER_INFO: ID=%s, NAME=%s\n",
		record.ServerID, record.ServerName))
	sb.WriteString(fmt.Sprintf("TIMESTAMP: %d\n\n", record.Timestamp))

	sb.WriteString("THREAD_COUNT_ANALYSIS:\n")
	sb.WriteString(fmt.Sprintf("  Actual threads count: %d\n", len(record.Threads)))
	for i, trend := range record.Trend {
		sb.WriteString(fmt.Sprintf("  Trend[%d] thread_count: %d\n", i, trend.ThreadCount))
	}

	sb.WriteString("\nTHREAD_DETAILS:\n")
	for i, thread := range record.Threads {
		if i >= 10 {
			break
		}
		sb.WriteString(fmt.Sprintf("  Thread[%d]: TID=%d, CPU=%s, MEM=%s, CMD=%s\n",
			i, thread.ThreadID, thread.CPUUsage, thread.MemoryUsage, truncateRunes(thread.Command, 50)))
	}
	if len(record.Threads) > 10 {
		sb.WriteString(fmt.Sprintf("  ... and %d more threads\n", len(record.Threads)-10))
	}

	sb.WriteString("\nRECOMMENDATION: Check for thread leaks or infinite thread creation")

	return sb.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// detectThreadException 线程异常检测：在进程数据落库之前执行。
// 返回是否新合成了一条崩溃日志；同一进程已存在线程异常日志时静默跳过
// （按 stack_trace 中的 PROCESS_INFO 标记判重，不看 resolved 状态）。
func (s *IngestService) detectThreadException(ctx context.Context, record *protocol.ProcessRecord) (bool, error) {
	if !hasThreadException(record) {
		return false, nil
	}

	marker := fmt.Sprintf("%s%d", threadExceptionMarkerPrefix, record.Pid)
	exists, err := s.crashLogRepo.ExistsThreadExceptionMarker(ctx, record.ServerID, marker)
	if err != nil {
		return false, storageErr("查询线程异常日志", err)
	}
	if exists {
		// 已存在，不重复添加
		return false, nil
	}

	now := s.now().UnixMilli()
	log := &models.CrashLog{
		ServerID:   record.ServerID,
		LogID:      now, // 使用检测时刻时间戳作为 log_id
		Timestamp:  now,
		CrashType:  crashTypeThreadException,
		Severity:   severityHigh,
		Title:      pendingAIText,
		Message:    pendingAIText,
		StackTrace: buildThreadExceptionStackTrace(record),
		Resolved:   false,
		AISummary:  pendingAIText,
		AIAnalysis: pendingAIText,
	}
	if err := s.crashLogRepo.Create(ctx, log); err != nil {
		return false, storageErr("写入线程异常日志", err)
	}

	s.logger.Warn("检测到线程数异常，已合成崩溃日志",
		zap.String("serverId", record.ServerID),
		zap.Int("pid", record.Pid),
		zap.String("process", record.Name),
		zap.Int("threads", len(record.Threads)))
	return true, nil
}

// synthesizeKernelCrashLog 从 dmesg 文本合成内核崩溃日志。
// 该路径不做去重：每个携带崩溃特征的 batch 都会产生一条新记录。
func (s *IngestService) synthesizeKernelCrashLog(ctx context.Context, serverID, dmesg string) error {
	now := s.now().UnixMilli()
	log := &models.CrashLog{
		ServerID:   serverID,
		LogID:      now,
		Timestamp:  now,
		CrashType:  crashTypeSegmentationFault,
		Severity:   severityHigh,
		Title:      pendingAIText,
		Message:    pendingAIText,
		StackTrace: dmesg,
		Resolved:   false,
		AISummary:  pendingAIText,
		AIAnalysis: pendingAIText,
	}
	if err := s.crashLogRepo.Create(ctx, log); err != nil {
		return storageErr("写入内核崩溃日志", err)
	}

	s.logger.Warn("检测到内核崩溃特征，已合成崩溃日志",
		zap.String("serverId", serverID),
		zap.Int("dmesgLen", len(dmesg)))
	return nil
}
