package domain

import "time"

// GitResult is the synchronous outcome of a repository operation. Git
// failures are reported here, never propagated as errors past the
// synchronizer boundary.
type GitResult struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CommitInfo describes one commit for diagnostic display.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// RepositoryStatus is a read-only snapshot of a site's working tree.
type RepositoryStatus struct {
	Clean     bool         `json:"clean"`
	Ahead     int          `json:"ahead"`
	Behind    int          `json:"behind"`
	Modified  []string     `json:"modified"`
	Added     []string     `json:"added"`
	Deleted   []string     `json:"deleted"`
	Untracked []string     `json:"untracked"`
	Commits   []CommitInfo `json:"commits"`
}

// CommandResult captures the output of one external command execution.
type CommandResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"execution_time_ms"`
	Success    bool   `json:"success"`
}
