package protocol

// ArchiveData 归档文件顶层结构（导入/导出共用）
type ArchiveData struct {
	Servers []ArchiveServer `json:"servers"`
}

// ArchiveServer 单台服务器及其全部关联数据
type ArchiveServer struct {
	ServerID      string            `json:"serverId"`
	ServerName    string            `json:"serverName"`
	ServerIP      string            `json:"serverIp"`
	ServerOS      string            `json:"serverOs"`
	ServerStatus  string            `json:"serverStatus"`
	SystemMetrics []ArchiveMetric   `json:"systemMetrics"`
	Processes     []ArchiveProcess  `json:"processes,omitempty"`
	CrashLogs     []ArchiveCrashLog `json:"crashLogs,omitempty"`
}

// ArchiveMetric 系统指标（不含 serverId，归属由外层决定）
type ArchiveMetric struct {
	Timestamp   int64   `json:"timestamp"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	DiskUsage   float64 `json:"diskUsage"`
	IORead      float64 `json:"ioRead"`
	IOWrite     float64 `json:"ioWrite"`
	NetworkIn   float64 `json:"networkIn"`
	NetworkOut  float64 `json:"networkOut"`
}

// ArchiveProcess 进程及其趋势、线程
type ArchiveProcess struct {
	Pid      int                 `json:"pid"`
	Name     string              `json:"name"`
	UserName string              `json:"userName"`
	Status   string              `json:"status"`
	Trend    []ArchiveTrendEntry `json:"trend,omitempty"`
	Threads  []ThreadEntry       `json:"threads,omitempty"`
}

// ArchiveTrendEntry 进程趋势条目（归档格式自带时间戳）
type ArchiveTrendEntry struct {
	Timestamp   int64   `json:"timestamp"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	ThreadCount int     `json:"threadCount"`
}

// ArchiveCrashLog 崩溃日志及 AI 建议
type ArchiveCrashLog struct {
	ID           int64               `json:"id"`
	Timestamp    int64               `json:"timestamp"`
	CrashType    string              `json:"crashType"`
	Severity     string              `json:"severity"`
	Title        string              `json:"title"`
	Message      string              `json:"message"`
	StackTrace   string              `json:"stackTrace"`
	Resolved     bool                `json:"resolved"`
	AISuggestion *ArchiveAiSuggestion `json:"aiSuggestion,omitempty"`
}

// ArchiveAiSuggestion AI 建议（摘要 + 分析 + 推荐操作列表）
type ArchiveAiSuggestion struct {
	Summary         string                  `json:"summary"`
	Analysis        string                  `json:"analysis"`
	Recommendations []ArchiveRecommendation `json:"recommendations"`
}

// ArchiveRecommendation 推荐操作
type ArchiveRecommendation struct {
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Command  string `json:"command"`
}
