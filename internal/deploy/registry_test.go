package deploy

import (
	"errors"
	"testing"
	"time"

	"github.com/gitpress/gitpress/internal/domain"
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()

	id := r.Create("site-1", "alice")
	task, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if task.Status != domain.TaskPending {
		t.Fatalf("new task status %q, want pending", task.Status)
	}
	if task.SiteID != "site-1" || task.TriggeredBy != "alice" {
		t.Fatalf("unexpected task %+v", task)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRegistryCreateIfIdleRejectsConcurrent(t *testing.T) {
	r := NewRegistry()

	first, err := r.CreateIfIdle("site-1", "alice")
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := r.CreateIfIdle("site-1", "bob"); !errors.Is(err, ErrDeploymentInFlight) {
		t.Fatalf("expected ErrDeploymentInFlight, got %v", err)
	}
	// A different site is unaffected.
	if _, err := r.CreateIfIdle("site-2", "bob"); err != nil {
		t.Fatalf("other site blocked: %v", err)
	}

	// Finishing the task frees the site.
	mustUpdate(t, r, first, domain.TaskPulling)
	mustUpdate(t, r, first, domain.TaskBuilding)
	mustUpdate(t, r, first, domain.TaskDeploying)
	mustUpdate(t, r, first, domain.TaskCompleted)
	if _, err := r.CreateIfIdle("site-1", "carol"); err != nil {
		t.Fatalf("completed task must not block new deployments: %v", err)
	}
}

func TestRegistryTransitionsAreForwardOnly(t *testing.T) {
	r := NewRegistry()
	id := r.Create("site-1", "alice")

	// Skipping a phase is rejected.
	if err := r.Update(id, domain.TaskPatch{Status: domain.TaskBuilding}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending->building should be rejected, got %v", err)
	}
	mustUpdate(t, r, id, domain.TaskPulling)
	// Moving backwards is rejected.
	if err := r.Update(id, domain.TaskPatch{Status: domain.TaskPending}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pulling->pending should be rejected, got %v", err)
	}
	// Unknown status is rejected.
	if err := r.Update(id, domain.TaskPatch{Status: "paused"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unknown status should be rejected, got %v", err)
	}

	// Failed is reachable from any non-terminal status.
	mustUpdate(t, r, id, domain.TaskFailed)

	// Terminal tasks reject further status changes.
	if err := r.Update(id, domain.TaskPatch{Status: domain.TaskPulling}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal task accepted transition: %v", err)
	}
	// Log appends without a status change still work on non-terminal tasks
	// only via the patch; the terminal task's log stays intact.
	task, err := r.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.TaskFailed {
		t.Fatalf("status mutated after rejection: %q", task.Status)
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	r := NewRegistry()
	a := r.Create("site-1", "alice")
	time.Sleep(2 * time.Millisecond)
	b := r.Create("site-1", "alice")

	tasks := r.List("site-1")
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != b || tasks[1].ID != a {
		t.Fatalf("tasks not newest first: %v", []string{tasks[0].ID, tasks[1].ID})
	}
	if got := r.List("other"); len(got) != 0 {
		t.Fatalf("expected no tasks for unknown site, got %d", len(got))
	}
}

func TestRegistrySweepEvictsExpiredTerminalTasks(t *testing.T) {
	r := NewRegistry()
	id := r.Create("site-1", "alice")
	mustUpdate(t, r, id, domain.TaskPulling)
	mustUpdate(t, r, id, domain.TaskFailed)

	old := time.Now().UTC().Add(-2 * time.Hour)
	if err := r.Update(id, domain.TaskPatch{CompletedAt: &old}); err != nil {
		t.Fatal(err)
	}

	active := r.Create("site-2", "bob")

	if evicted := r.Sweep(time.Hour); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, err := r.Get(id); !errors.Is(err, ErrTaskNotFound) {
		t.Fatal("expired task should be gone")
	}
	if _, err := r.Get(active); err != nil {
		t.Fatalf("active task must survive sweep: %v", err)
	}
}

func mustUpdate(t *testing.T, r *Registry, id, status string) {
	t.Helper()
	if err := r.Update(id, domain.TaskPatch{Status: status}); err != nil {
		t.Fatalf("transition to %s failed: %v", status, err)
	}
}
