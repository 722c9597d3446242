package handler

import (
	"net/http"
	"strconv"

	"github.com/dushixiang/blackbox/internal/protocol"
	"github.com/dushixiang/blackbox/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// StatsHandler 统计与归档处理器
type StatsHandler struct {
	logger         *zap.Logger
	statsService   *service.StatsService
	archiveService *service.ArchiveService
}

// NewStatsHandler 创建处理器
func NewStatsHandler(logger *zap.Logger, statsService *service.StatsService, archiveService *service.ArchiveService) *StatsHandler {
	return &StatsHandler{
		logger:         logger,
		statsService:   statsService,
		archiveService: archiveService,
	}
}

// Overview 获取全库统计概览
// GET /api/stats
func (h *StatsHandler) Overview(c echo.Context) error {
	stats, err := h.statsService.Overview(c.Request().Context())
	if err != nil {
		h.logger.Error("获取统计概览失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "获取统计失败",
		})
	}
	return c.JSON(http.StatusOK, stats)
}

// ServerMetrics 按时间范围查询某台服务器的指标
// GET /api/servers/:id/metrics?start=<ms>&end=<ms>
func (h *StatsHandler) ServerMetrics(c echo.Context) error {
	start, _ := strconv.ParseInt(c.QueryParam("start"), 10, 64)
	end, _ := strconv.ParseInt(c.QueryParam("end"), 10, 64)

	metrics, err := h.statsService.ServerMetrics(c.Request().Context(), c.Param("id"), start, end)
	if err != nil {
		h.logger.Error("查询服务器指标失败", zap.Error(err))
		return c.JSON(ingestStatus(err), map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, metrics)
}

// UnresolvedCrashLogs 列出未解决的崩溃日志
// GET /api/crash-logs/unresolved
func (h *StatsHandler) UnresolvedCrashLogs(c echo.Context) error {
	logs, err := h.statsService.UnresolvedCrashLogs(c.Request().Context())
	if err != nil {
		h.logger.Error("查询未解决崩溃失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}
	return c.JSON(http.StatusOK, logs)
}

// Export 导出全库为归档 JSON
// GET /api/archive
func (h *StatsHandler) Export(c echo.Context) error {
	data, err := h.archiveService.ExportArchive(c.Request().Context())
	if err != nil {
		h.logger.Error("导出归档失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "导出失败",
		})
	}
	return c.JSON(http.StatusOK, data)
}

// Import 导入归档 JSON
// POST /api/archive
func (h *StatsHandler) Import(c echo.Context) error {
	var data protocol.ArchiveData
	if err := c.Bind(&data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求参数错误",
		})
	}

	result, err := h.archiveService.ImportArchive(c.Request().Context(), &data)
	if err != nil {
		h.logger.Error("导入归档失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "导入失败",
		})
	}
	return c.JSON(http.StatusOK, result)
}
