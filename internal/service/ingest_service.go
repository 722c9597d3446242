package service

import (
	"context"
	"time"

	"github.com/dushixiang/blackbox/internal/models"
	"github.com/dushixiang/blackbox/internal/protocol"
	"github.com/dushixiang/blackbox/internal/repo"
	"github.com/go-orz/orz"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IngestResult 单次批量调和的结果统计（不落库）
type IngestResult struct {
	CreatedCount int `json:"createdCount"` // 新建条数
	UpdatedCount int `json:"updatedCount"` // 更新条数
	FailedCount  int `json:"failedCount"`  // 失败条数
}

func (r *IngestResult) addCreated() { r.CreatedCount++ }
func (r *IngestResult) addUpdated() { r.UpdatedCount++ }
func (r *IngestResult) addFailed()  { r.FailedCount++ }

// Merge 合并另一个统计结果
func (r *IngestResult) Merge(other *IngestResult) {
	r.CreatedCount += other.CreatedCount
	r.UpdatedCount += other.UpdatedCount
	r.FailedCount += other.FailedCount
}

// IngestService 数据调和引擎：
// 对每条上报记录做身份解析和幂等 upsert，级联子数据（趋势、线程、AI建议），
// 并在原始遥测上独立运行两类异常检测（线程数爆炸、内核崩溃文本特征）。
//
// 整个调和过程是同步、单连接、按记录顺序执行的，不做跨记录事务：
// 失败时已落库的记录保持不变，这是刻意选择的简单策略。
type IngestService struct {
	logger *zap.Logger
	*orz.Service
	serverRepo   *repo.ServerRepo
	metricRepo   *repo.MetricRepo
	processRepo  *repo.ProcessRepo
	crashLogRepo *repo.CrashLogRepo

	// now 可注入，测试里用固定时钟
	now func() time.Time
}

func NewIngestService(logger *zap.Logger, db *gorm.DB) *IngestService {
	return &IngestService{
		logger:       logger,
		Service:      orz.NewService(db),
		serverRepo:   repo.NewServerRepo(db),
		metricRepo:   repo.NewMetricRepo(db),
		processRepo:  repo.NewProcessRepo(db),
		crashLogRepo: repo.NewCrashLogRepo(db),
		now:          time.Now,
	}
}

// IngestCombined 调和一个组合 batch：
// 服务器确保 → 线程异常扫描 → 进程调和 → 指标调和 → 内核崩溃扫描。
// continueOnError 为 false 时首个失败立即中止，返回部分统计和触发错误。
func (s *IngestService) IngestCombined(ctx context.Context, payload *protocol.CombinedPayload, continueOnError bool) (*IngestResult, error) {
	result := &IngestResult{}
	batchID := uuid.NewString()

	// 内核崩溃日志归属于 batch 中第一个出现的服务器（batch 级关联，不是按服务器关联）
	firstServerID := ""
	if len(payload.Process) > 0 {
		firstServerID = payload.Process[0].ServerID
	}

	s.logger.Info("开始调和组合数据",
		zap.String("batchId", batchID),
		zap.Int("processes", len(payload.Process)),
		zap.Int("metrics", len(payload.Metrics)),
		zap.Bool("hasDmesg", payload.Dmesg != ""))

	// 阶段一：确保服务器存在，并在进程数据落库前做线程异常扫描。
	// 这里失败的记录计一次失败并跳过阶段二，每条记录只产生一个统计结果
	skip := make(map[int]bool)
	for i := range payload.Process {
		record := &payload.Process[i]
		if err := s.ensureServer(ctx, record); err != nil {
			result.addFailed()
			skip[i] = true
			s.logger.Error("确保服务器存在失败",
				zap.String("batchId", batchID),
				zap.String("serverId", record.ServerID),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}

		created, err := s.detectThreadException(ctx, record)
		if err != nil {
			result.addFailed()
			skip[i] = true
			s.logger.Error("线程异常检测失败",
				zap.String("batchId", batchID),
				zap.String("serverId", record.ServerID),
				zap.Int("pid", record.Pid),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}
		if created {
			result.addCreated()
		}
	}

	// 阶段二：进程调和（含趋势追加和线程整组替换），阶段一已计失败的记录不再处理
	for i := range payload.Process {
		if skip[i] {
			continue
		}
		record := &payload.Process[i]
		updated, err := s.reconcileProcess(ctx, record)
		if err != nil {
			result.addFailed()
			s.logger.Error("进程调和失败",
				zap.String("batchId", batchID),
				zap.String("serverId", record.ServerID),
				zap.String("process", record.Name),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}
		if updated {
			result.addUpdated()
		} else {
			result.addCreated()
		}
	}

	// 阶段三：系统指标调和
	for i := range payload.Metrics {
		record := &payload.Metrics[i]
		updated, err := s.reconcileMetricChecked(ctx, record)
		if err != nil {
			result.addFailed()
			s.logger.Error("指标调和失败",
				zap.String("batchId", batchID),
				zap.String("serverId", record.ServerID),
				zap.Int64("timestamp", record.Timestamp),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}
		if updated {
			result.addUpdated()
		} else {
			result.addCreated()
		}
	}

	// 阶段四：内核崩溃扫描（不去重，每个携带特征的 batch 都产生新记录）
	if payload.Dmesg != "" && isKernelCrash(payload.Dmesg) && firstServerID != "" {
		if err := s.synthesizeKernelCrashLog(ctx, firstServerID, payload.Dmesg); err != nil {
			result.addFailed()
			s.logger.Error("内核崩溃日志写入失败",
				zap.String("batchId", batchID),
				zap.String("serverId", firstServerID),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
		} else {
			result.addCreated()
		}
	}

	s.logger.Info("组合数据调和完成",
		zap.String("batchId", batchID),
		zap.Int("created", result.CreatedCount),
		zap.Int("updated", result.UpdatedCount),
		zap.Int("failed", result.FailedCount))
	return result, nil
}

// IngestServers 调和服务器记录批次：已存在只覆盖状态，否则整行插入
func (s *IngestService) IngestServers(ctx context.Context, records []protocol.ServerRecord, continueOnError bool) (*IngestResult, error) {
	result := &IngestResult{}
	for i := range records {
		record := &records[i]
		updated, err := s.reconcileServer(ctx, record)
		if err != nil {
			result.addFailed()
			s.logger.Error("服务器调和失败", zap.String("serverId", record.ServerID), zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}
		if updated {
			result.addUpdated()
		} else {
			result.addCreated()
		}
	}
	return result, nil
}

// IngestMetrics 调和系统指标批次：服务器必须已存在，指标按 (serverId, timestamp) 整行覆盖
func (s *IngestService) IngestMetrics(ctx context.Context, records []protocol.MetricRecord, continueOnError bool) (*IngestResult, error) {
	result := &IngestResult{}
	for i := range records {
		record := &records[i]
		updated, err := s.reconcileMetricChecked(ctx, record)
		if err != nil {
			result.addFailed()
			s.logger.Error("指标调和失败",
				zap.String("serverId", record.ServerID),
				zap.Int64("timestamp", record.Timestamp),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}
		if updated {
			result.addUpdated()
		} else {
			result.addCreated()
		}
	}
	return result, nil
}

// IngestProcesses 调和独立进程批次（不含指标和 dmesg 的智能插入路径）
func (s *IngestService) IngestProcesses(ctx context.Context, records []protocol.ProcessRecord, continueOnError bool) (*IngestResult, error) {
	result := &IngestResult{}
	for i := range records {
		record := &records[i]
		updated, err := s.reconcileProcess(ctx, record)
		if err != nil {
			result.addFailed()
			s.logger.Error("进程调和失败",
				zap.String("serverId", record.ServerID),
				zap.String("process", record.Name),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}
		if updated {
			result.addUpdated()
		} else {
			result.addCreated()
		}
	}
	return result, nil
}

// IngestCrashLogs 调和崩溃日志批次：按 (serverId, timestamp) 判重，
// 更新时覆盖除 AI 建议之外的所有字段
func (s *IngestService) IngestCrashLogs(ctx context.Context, records []protocol.CrashLogRecord, continueOnError bool) (*IngestResult, error) {
	result := &IngestResult{}
	for i := range records {
		record := &records[i]
		updated, err := s.reconcileCrashLog(ctx, record)
		if err != nil {
			result.addFailed()
			s.logger.Error("崩溃日志调和失败",
				zap.String("serverId", record.ServerID),
				zap.Int64("timestamp", record.Timestamp),
				zap.Error(err))
			if !continueOnError {
				return result, err
			}
			continue
		}
		if updated {
			result.addUpdated()
		} else {
			result.addCreated()
		}
	}
	return result, nil
}

// === 单记录调和 ===

// reconcileServer 服务器 upsert：匹配时只覆盖状态字段
func (s *IngestService) reconcileServer(ctx context.Context, record *protocol.ServerRecord) (bool, error) {
	if record.ServerID == "" {
		return false, &ValidationError{Reason: "serverId 不能为空"}
	}

	existing, err := s.serverRepo.FindByServerID(ctx, record.ServerID)
	if err != nil {
		return false, storageErr("查询服务器", err)
	}
	if existing != nil {
		if err := s.serverRepo.UpdateStatus(ctx, record.ServerID, record.ServerStatus); err != nil {
			return false, storageErr("更新服务器状态", err)
		}
		return true, nil
	}

	server := &models.Server{
		ServerID:     record.ServerID,
		ServerName:   record.ServerName,
		ServerIP:     record.ServerIP,
		ServerOS:     record.ServerOS,
		ServerStatus: record.ServerStatus,
	}
	if err := s.serverRepo.Create(ctx, server); err != nil {
		return false, storageErr("创建服务器", err)
	}
	return false, nil
}

// reconcileMetricChecked 指标 upsert，要求服务器已存在（指标记录不携带服务器描述信息）
func (s *IngestService) reconcileMetricChecked(ctx context.Context, record *protocol.MetricRecord) (bool, error) {
	if record.ServerID == "" {
		return false, &ValidationError{Reason: "serverId 不能为空"}
	}

	server, err := s.serverRepo.FindByServerID(ctx, record.ServerID)
	if err != nil {
		return false, storageErr("查询服务器", err)
	}
	if server == nil {
		return false, &MissingReferenceError{ServerID: record.ServerID}
	}

	metric := &models.SystemMetric{
		ServerID:    record.ServerID,
		Timestamp:   record.Timestamp,
		CPUUsage:    record.CPUUsage,
		MemoryUsage: record.MemoryUsage,
		DiskUsage:   record.DiskUsage,
		IORead:      record.IORead,
		IOWrite:     record.IOWrite,
		NetworkIn:   record.NetworkIn,
		NetworkOut:  record.NetworkOut,
	}

	existing, err := s.metricRepo.FindByServerAndTimestamp(ctx, record.ServerID, record.Timestamp)
	if err != nil {
		return false, storageErr("查询指标", err)
	}
	if existing != nil {
		if err := s.metricRepo.Overwrite(ctx, record.ServerID, record.Timestamp, metric); err != nil {
			return false, storageErr("覆盖指标", err)
		}
		return true, nil
	}
	if err := s.metricRepo.Create(ctx, metric); err != nil {
		return false, storageErr("创建指标", err)
	}
	return false, nil
}

// reconcileProcess 进程 upsert 及其无条件级联：
// 无论新建还是更新，都会追加一条本次上报的趋势记录，并整组替换线程集合。
func (s *IngestService) reconcileProcess(ctx context.Context, record *protocol.ProcessRecord) (bool, error) {
	if record.ServerID == "" {
		return false, &ValidationError{Reason: "serverId 不能为空"}
	}
	if record.Name == "" {
		return false, &ValidationError{Reason: "进程名不能为空"}
	}

	if err := s.ensureServer(ctx, record); err != nil {
		return false, err
	}

	existing, err := s.processRepo.FindByIdentity(ctx, record.ServerID, record.Name, record.UserName)
	if err != nil {
		return false, storageErr("查询进程", err)
	}

	updated := false
	if existing != nil {
		// 同一服务位（名称+用户）重启后 pid 会变化，记录上的 pid 不跟随更新
		if err := s.processRepo.UpdateStatus(ctx, existing.ID, record.Status); err != nil {
			return false, storageErr("更新进程状态", err)
		}
		updated = true
	} else {
		process := &models.Process{
			ServerID: record.ServerID,
			Pid:      record.Pid,
			Name:     record.Name,
			UserName: record.UserName,
			Status:   record.Status,
		}
		if err := s.processRepo.Create(ctx, process); err != nil {
			return false, storageErr("创建进程", err)
		}
	}

	// 趋势追加：使用本次上报的时间戳，按提交顺序严格时间有序
	for _, trend := range record.Trend {
		entry := &models.ProcessTrend{
			ServerID:    record.ServerID,
			Pid:         record.Pid,
			Timestamp:   record.Timestamp,
			CPUUsage:    trend.CPUUsage,
			MemoryUsage: trend.MemoryUsage,
			ThreadCount: trend.ThreadCount,
		}
		if err := s.processRepo.CreateTrend(ctx, entry); err != nil {
			return false, storageErr("追加进程趋势", err)
		}
	}

	// 线程整组替换：先删后插，不做增量比对
	threads := make([]models.Thread, 0, len(record.Threads))
	for _, t := range record.Threads {
		threads = append(threads, models.Thread{
			ServerID:       record.ServerID,
			Pid:            record.Pid,
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
	if err := s.processRepo.ReplaceThreads(ctx, record.ServerID, record.Pid, threads); err != nil {
		return false, storageErr("替换线程集合", err)
	}

	return updated, nil
}

// reconcileCrashLog 崩溃日志 upsert（智能更新路径，按 serverId+timestamp 判重）
func (s *IngestService) reconcileCrashLog(ctx context.Context, record *protocol.CrashLogRecord) (bool, error) {
	if record.ServerID == "" {
		return false, &ValidationError{Reason: "serverId 不能为空"}
	}

	server, err := s.serverRepo.FindByServerID(ctx, record.ServerID)
	if err != nil {
		return false, storageErr("查询服务器", err)
	}
	if server == nil {
		return false, &MissingReferenceError{ServerID: record.ServerID}
	}

	log := &models.CrashLog{
		ServerID:   record.ServerID,
		LogID:      record.LogID,
		Timestamp:  record.Timestamp,
		CrashType:  record.CrashType,
		Severity:   record.Severity,
		Title:      record.Title,
		Message:    record.Message,
		StackTrace: record.StackTrace,
		Resolved:   record.Resolved,
		AISummary:  record.AISummary,
		AIAnalysis: record.AIAnalysis,
	}

	existing, err := s.crashLogRepo.FindByServerAndTimestamp(ctx, record.ServerID, record.Timestamp)
	if err != nil {
		return false, storageErr("查询崩溃日志", err)
	}
	if existing != nil {
		// 覆盖除 AI 建议之外的所有字段；已有日志的建议列表不追加、不更新
		if err := s.crashLogRepo.Overwrite(ctx, existing.ID, log); err != nil {
			return false, storageErr("覆盖崩溃日志", err)
		}
		return true, nil
	}
	if err := s.crashLogRepo.Create(ctx, log); err != nil {
		return false, storageErr("创建崩溃日志", err)
	}
	return false, nil
}

// ensureServer 确保进程记录引用的服务器存在：
// 已存在时只覆盖状态（记录携带了描述字段的话）；不存在时若携带完整描述字段则
// 自动创建，否则按 MissingReferenceError 处理。
func (s *IngestService) ensureServer(ctx context.Context, record *protocol.ProcessRecord) error {
	existing, err := s.serverRepo.FindByServerID(ctx, record.ServerID)
	if err != nil {
		return storageErr("查询服务器", err)
	}
	if existing != nil {
		if record.ServerStatus != "" {
			if err := s.serverRepo.UpdateStatus(ctx, record.ServerID, record.ServerStatus); err != nil {
				return storageErr("更新服务器状态", err)
			}
		}
		return nil
	}

	if !record.HasServerInfo() {
		return &MissingReferenceError{ServerID: record.ServerID}
	}

	server := &models.Server{
		ServerID:     record.ServerID,
		ServerName:   record.ServerName,
		ServerIP:     record.ServerIP,
		ServerOS:     record.ServerOS,
		ServerStatus: record.ServerStatus,
	}
	if err := s.serverRepo.Create(ctx, server); err != nil {
		return storageErr("创建服务器", err)
	}

	s.logger.Info("自动创建服务器",
		zap.String("serverId", server.ServerID),
		zap.String("name", server.ServerName))
	return nil
}
