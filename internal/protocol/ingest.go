package protocol

// CombinedPayload 组合上报 payload：一次携带进程、系统指标和可选的 dmesg 原始文本
type CombinedPayload struct {
	Process []ProcessRecord `json:"process"`
	Metrics []MetricRecord  `json:"metrics"`
	Dmesg   string          `json:"dmesg,omitempty"` // 原始内核诊断文本（整个 batch 最多一份）
}

// ServerRecord 服务器记录
type ServerRecord struct {
	ServerID     string `json:"serverId"`
	ServerName   string `json:"serverName"`
	ServerIP     string `json:"serverIp"`
	ServerOS     string `json:"serverOs"`
	ServerStatus string `json:"serverStatus"`
}

// MetricRecord 系统指标记录
type MetricRecord struct {
	ServerID    string  `json:"serverId"`
	Timestamp   int64   `json:"timestamp"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	DiskUsage   float64 `json:"diskUsage"`
	IORead      float64 `json:"ioRead"`
	IOWrite     float64 `json:"ioWrite"`
	NetworkIn   float64 `json:"networkIn"`
	NetworkOut  float64 `json:"networkOut"`
}

// ProcessRecord 进程记录，随趋势和线程一起上报
// 服务器描述字段（serverName/serverIp/serverOs/serverStatus）用于在服务器
// 不存在时自动创建；独立进程批次中这些字段可以缺省。
type ProcessRecord struct {
	ServerID     string        `json:"serverId"`
	ServerName   string        `json:"serverName,omitempty"`
	ServerIP     string        `json:"serverIp,omitempty"`
	ServerOS     string        `json:"serverOs,omitempty"`
	ServerStatus string        `json:"serverStatus,omitempty"`
	Pid          int           `json:"pid"`
	Name         string        `json:"name"`
	UserName     string        `json:"userName"`
	Status       string        `json:"status"`
	Timestamp    int64         `json:"timestamp"`
	Trend        []TrendEntry  `json:"trend"`
	Threads      []ThreadEntry `json:"threads"`
}

// HasServerInfo 是否携带了完整的服务器描述字段（用于自动创建服务器）
func (r *ProcessRecord) HasServerInfo() bool {
	return r.ServerName != "" && r.ServerIP != "" && r.ServerOS != "" && r.ServerStatus != ""
}

// TrendEntry 进程趋势条目
type TrendEntry struct {
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	ThreadCount int     `json:"threadCount"`
}

// ThreadEntry 线程条目
type ThreadEntry struct {
	ThreadID       int    `json:"threadId"`
	UserName       string `json:"userName"`
	Priority       int    `json:"priority"`
	NiceValue      int    `json:"niceValue"`
	VirtualMemory  string `json:"virtualMemory"`
	ResidentMemory string `json:"residentMemory"`
	SharedMemory   string `json:"sharedMemory"`
	Status         string `json:"status"`
	CPUUsage       string `json:"cpuUsage"`
	MemoryUsage    string `json:"memoryUsage"`
	Runtime        string `json:"runtime"`
	Command        string `json:"command"`
}

// CrashLogRecord 崩溃日志记录（智能更新路径，按 serverId+timestamp 判重）
type CrashLogRecord struct {
	ServerID   string `json:"serverId"`
	LogID      int64  `json:"logId"`
	Timestamp  int64  `json:"timestamp"`
	CrashType  string `json:"crashType"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
	Resolved   bool   `json:"resolved"`
	AISummary  string `json:"aiSummary,omitempty"`
	AIAnalysis string `json:"aiAnalysis,omitempty"`
}
