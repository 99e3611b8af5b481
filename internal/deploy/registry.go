package deploy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gitpress/gitpress/internal/domain"
)

// Registry errors.
var (
	ErrTaskNotFound      = errors.New("deploy: task not found")
	ErrInvalidTransition = errors.New("deploy: invalid status transition")
)

// statusRank orders the phase state machine. Failed shares the terminal rank
// with completed but is reachable from any non-terminal status.
var statusRank = map[string]int{
	domain.TaskPending:   0,
	domain.TaskPulling:   1,
	domain.TaskBuilding:  2,
	domain.TaskDeploying: 3,
	domain.TaskCompleted: 4,
	domain.TaskFailed:    4,
}

// Registry is an in-memory store of deployment tasks, indexed by task id and
// by site id. Tasks do not survive a process restart. Update is the only
// mutation path and enforces forward-only status transitions.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*domain.DeployTask
	bySite map[string][]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:  make(map[string]*domain.DeployTask),
		bySite: make(map[string][]string),
	}
}

// Create registers a new pending task and returns its id.
func (r *Registry) Create(siteID, triggeredBy string) string {
	task := &domain.DeployTask{
		ID:          uuid.NewString(),
		SiteID:      siteID,
		Status:      domain.TaskPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now().UTC(),
		Logs:        []domain.TaskLogLine{},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	r.bySite[siteID] = append(r.bySite[siteID], task.ID)
	return task.ID
}

// CreateIfIdle registers a new pending task unless the site already has a
// non-terminal one. The check and the insert happen under one lock so two
// concurrent triggers cannot both pass.
func (r *Registry) CreateIfIdle(siteID, triggeredBy string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.bySite[siteID] {
		if task, ok := r.tasks[id]; ok && !domain.TerminalStatus(task.Status) {
			return "", ErrDeploymentInFlight
		}
	}
	task := &domain.DeployTask{
		ID:          uuid.NewString(),
		SiteID:      siteID,
		Status:      domain.TaskPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now().UTC(),
		Logs:        []domain.TaskLogLine{},
	}
	r.tasks[task.ID] = task
	r.bySite[siteID] = append(r.bySite[siteID], task.ID)
	return task.ID, nil
}

// Get returns a copy of the task, or ErrTaskNotFound.
func (r *Registry) Get(taskID string) (domain.DeployTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return domain.DeployTask{}, ErrTaskNotFound
	}
	return copyTask(task), nil
}

// List returns all tasks, optionally filtered by site, newest first.
func (r *Registry) List(siteID string) []domain.DeployTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.DeployTask
	if siteID != "" {
		for _, id := range r.bySite[siteID] {
			if task, ok := r.tasks[id]; ok {
				out = append(out, copyTask(task))
			}
		}
	} else {
		for _, task := range r.tasks {
			out = append(out, copyTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActiveForSite reports whether the site has a non-terminal task and returns
// its id when so.
func (r *Registry) ActiveForSite(siteID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.bySite[siteID] {
		if task, ok := r.tasks[id]; ok && !domain.TerminalStatus(task.Status) {
			return id, true
		}
	}
	return "", false
}

// Update applies a partial mutation to a task. Status changes must move
// forward through the phase order; failed is reachable from any non-terminal
// status, and terminal tasks reject further status changes.
func (r *Registry) Update(taskID string, patch domain.TaskPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	if patch.Status != "" && patch.Status != task.Status {
		next, known := statusRank[patch.Status]
		if !known {
			return ErrInvalidTransition
		}
		if domain.TerminalStatus(task.Status) {
			return ErrInvalidTransition
		}
		current := statusRank[task.Status]
		switch {
		case patch.Status == domain.TaskFailed:
			// allowed from any non-terminal status
		case next != current+1:
			return ErrInvalidTransition
		}
		task.Status = patch.Status
	}
	if patch.StartedAt != nil {
		task.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		task.CompletedAt = patch.CompletedAt
	}
	if patch.LogLine != "" {
		task.Logs = append(task.Logs, domain.TaskLogLine{
			At:      time.Now().UTC(),
			Message: patch.LogLine,
		})
	}
	return nil
}

// Sweep evicts terminal tasks whose completion is older than retention,
// bounding memory growth over the process lifetime.
func (r *Registry) Sweep(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, task := range r.tasks {
		if !domain.TerminalStatus(task.Status) {
			continue
		}
		if task.CompletedAt == nil || task.CompletedAt.After(cutoff) {
			continue
		}
		delete(r.tasks, id)
		r.bySite[task.SiteID] = removeID(r.bySite[task.SiteID], id)
		if len(r.bySite[task.SiteID]) == 0 {
			delete(r.bySite, task.SiteID)
		}
		evicted++
	}
	return evicted
}

// RunSweeper periodically evicts expired tasks until the context is done.
func (r *Registry) RunSweeper(ctx context.Context, every, retention time.Duration) {
	if every <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(retention)
		}
	}
}

func copyTask(task *domain.DeployTask) domain.DeployTask {
	out := *task
	out.Logs = append([]domain.TaskLogLine(nil), task.Logs...)
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}
