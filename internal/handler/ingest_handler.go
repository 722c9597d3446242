package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dushixiang/blackbox/internal/protocol"
	"github.com/dushixiang/blackbox/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// IngestHandler 数据上报处理器
type IngestHandler struct {
	logger        *zap.Logger
	ingestService *service.IngestService

	// continueOnError 查询参数缺省时的默认策略（来自配置）
	defaultContinueOnError bool
}

// NewIngestHandler 创建处理器
func NewIngestHandler(logger *zap.Logger, ingestService *service.IngestService, defaultContinueOnError bool) *IngestHandler {
	return &IngestHandler{
		logger:                 logger,
		ingestService:          ingestService,
		defaultContinueOnError: defaultContinueOnError,
	}
}

// continueOnError 解析 continueOnError 查询参数
func (h *IngestHandler) continueOnError(c echo.Context) bool {
	raw := c.QueryParam("continueOnError")
	if raw == "" {
		return h.defaultContinueOnError
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return h.defaultContinueOnError
	}
	return value
}

// ingestStatus 根据错误类型决定响应码
func ingestStatus(err error) int {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	var missingErr *service.MissingReferenceError
	if errors.As(err, &missingErr) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Combined 组合上报（进程 + 指标 + dmesg）
// POST /api/ingest
func (h *IngestHandler) Combined(c echo.Context) error {
	var payload protocol.CombinedPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	result, err := h.ingestService.IngestCombined(c.Request().Context(), &payload, h.continueOnError(c))
	if err != nil {
		h.logger.Error("组合上报处理失败", zap.Error(err))
		return c.JSON(ingestStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
	}
	return c.JSON(http.StatusOK, result)
}

// Servers 服务器批次上报
// POST /api/ingest/servers
func (h *IngestHandler) Servers(c echo.Context) error {
	var records []protocol.ServerRecord
	if err := c.Bind(&records); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	result, err := h.ingestService.IngestServers(c.Request().Context(), records, h.continueOnError(c))
	if err != nil {
		h.logger.Error("服务器批次处理失败", zap.Error(err))
		return c.JSON(ingestStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
	}
	return c.JSON(http.StatusOK, result)
}

// Metrics 系统指标批次上报
// POST /api/ingest/metrics
func (h *IngestHandler) Metrics(c echo.Context) error {
	var records []protocol.MetricRecord
	if err := c.Bind(&records); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	result, err := h.ingestService.IngestMetrics(c.Request().Context(), records, h.continueOnError(c))
	if err != nil {
		h.logger.Error("指标批次处理失败", zap.Error(err))
		return c.JSON(ingestStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
	}
	return c.JSON(http.StatusOK, result)
}

// Processes 进程批次上报
// POST /api/ingest/processes
func (h *IngestHandler) Processes(c echo.Context) error {
	var records []protocol.ProcessRecord
	if err := c.Bind(&records); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	result, err := h.ingestService.IngestProcesses(c.Request().Context(), records, h.continueOnError(c))
	if err != nil {
		h.logger.Error("进程批次处理失败", zap.Error(err))
		return c.JSON(ingestStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
	}
	return c.JSON(http.StatusOK, result)
}

// CrashLogs 崩溃日志批次上报
// POST /api/ingest/crash-logs
func (h *IngestHandler) CrashLogs(c echo.Context) error {
	var records []protocol.CrashLogRecord
	if err := c.Bind(&records); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	result, err := h.ingestService.IngestCrashLogs(c.Request().Context(), records, h.continueOnError(c))
	if err != nil {
		h.logger.Error("崩溃日志批次处理失败", zap.Error(err))
		return c.JSON(ingestStatus(err), map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
	}
	return c.JSON(http.StatusOK, result)
}
