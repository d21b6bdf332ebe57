package daemon

// HealthResponse is the GET /health body: process-level state, not printer
// liveness (that lives under /health/printers).
type HealthResponse struct {
	Status   string       `json:"status"`
	Queue    QueueStatus  `json:"queue"`
	Worker   WorkerStatus `json:"worker"`
	Pool     PoolStatus   `json:"pool"`
	Clients  int          `json:"ws_clients"`
	Printers int          `json:"printers"`
	Build    BuildInfo    `json:"build"`
	Uptime   int          `json:"uptime_seconds"`
}

// QueueStatus describes the WebSocket job queue.
type QueueStatus struct {
	Current     int     `json:"current"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// WorkerStatus describes the print worker.
type WorkerStatus struct {
	Running       bool  `json:"running"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
}

// PoolStatus describes the per-printer connection pools.
type PoolStatus struct {
	Printers  int `json:"printers"`
	IdleConns int `json:"idle_conns"`
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Env  string `json:"env"`
	Date string `json:"date"`
	Time string `json:"time"`
}
