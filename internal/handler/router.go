package handler

import (
	"github.com/labstack/echo/v4"
)

// Register 注册所有 API 路由
func Register(e *echo.Echo, ingest *IngestHandler, stats *StatsHandler) {
	api := e.Group("/api")

	api.POST("/ingest", ingest.Combined)
	api.POST("/ingest/servers", ingest.Servers)
	api.POST("/ingest/metrics", ingest.Metrics)
	api.POST("/ingest/processes", ingest.Processes)
	api.POST("/ingest/crash-logs", ingest.CrashLogs)

	api.GET("/stats", stats.Overview)
	api.GET("/servers/:id/metrics", stats.ServerMetrics)
	api.GET("/crash-logs/unresolved", stats.UnresolvedCrashLogs)
	api.GET("/archive", stats.Export)
	api.POST("/archive", stats.Import)
}
