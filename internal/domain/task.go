package domain

import "time"

// Deployment task statuses, in strict forward order. Failed is reachable
// from any non-terminal status.
const (
	TaskPending   = "pending"
	TaskPulling   = "pulling"
	TaskBuilding  = "building"
	TaskDeploying = "deploying"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Progress maps a task status to its externally visible percentage. The
// mapping is a compatibility contract and must not change.
func Progress(status string) int {
	switch status {
	case TaskPending:
		return 0
	case TaskPulling:
		return 20
	case TaskBuilding:
		return 50
	case TaskDeploying:
		return 80
	case TaskCompleted, TaskFailed:
		return 100
	default:
		return 0
	}
}

// TerminalStatus reports whether a task can no longer change state.
func TerminalStatus(status string) bool {
	return status == TaskCompleted || status == TaskFailed
}

// TaskLogLine is one timestamped entry in a task's append-only log.
type TaskLogLine struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// DeployTask captures one deployment attempt for a site. Tasks live only in
// memory; they do not survive a process restart.
type DeployTask struct {
	ID          string        `json:"id"`
	SiteID      string        `json:"site_id"`
	Status      string        `json:"status"`
	TriggeredBy string        `json:"triggered_by"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Logs        []TaskLogLine `json:"logs"`
}

// TaskPatch carries a partial mutation applied through the registry.
type TaskPatch struct {
	Status      string
	StartedAt   *time.Time
	CompletedAt *time.Time
	LogLine     string
}
