package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gitpress/gitpress/internal/command"
	"github.com/gitpress/gitpress/internal/domain"
)

// ErrDeploymentInFlight is returned when a site already has a non-terminal
// task; two deployments must never run against the same working tree.
var ErrDeploymentInFlight = errors.New("deploy: deployment already in flight for site")

// Synchronizer is the repository dependency of the orchestrator.
type Synchronizer interface {
	Initialize(ctx context.Context, site domain.Site) domain.GitResult
}

// CommandRunner executes build and validate commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd, dir string, timeout time.Duration) (domain.CommandResult, error)
}

// LogStream receives live task updates for streaming clients.
type LogStream interface {
	Broadcast(taskID string, payload []byte)
}

// Service drives deployment tasks through their phases: pull, build, deploy.
// Task state lives in the registry; phase work runs on a bounded pool of
// goroutines, one task per site at a time.
type Service struct {
	registry        *Registry
	sync            Synchronizer
	runner          CommandRunner
	publisher       Publisher
	stream          LogStream
	logger          *slog.Logger
	buildTimeout    time.Duration
	validateTimeout time.Duration
	workers         *semaphore.Weighted
}

// New constructs the deployment service.
func New(registry *Registry, sync Synchronizer, runner CommandRunner, publisher Publisher, stream LogStream, logger *slog.Logger, buildTimeout, validateTimeout time.Duration, maxConcurrent int) *Service {
	if buildTimeout <= 0 {
		buildTimeout = 30 * time.Minute
	}
	if validateTimeout <= 0 {
		validateTimeout = 10 * time.Minute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Service{
		registry:        registry,
		sync:            sync,
		runner:          runner,
		publisher:       publisher,
		stream:          stream,
		logger:          logger,
		buildTimeout:    buildTimeout,
		validateTimeout: validateTimeout,
		workers:         semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Trigger starts a deployment for the site and returns the task id without
// waiting for any phase to run. A site with a non-terminal task rejects the
// trigger with ErrDeploymentInFlight.
func (s *Service) Trigger(site domain.Site, triggeredBy string) (string, error) {
	taskID, err := s.registry.CreateIfIdle(site.ID, triggeredBy)
	if err != nil {
		return "", err
	}
	s.logger.Info("deployment triggered", "task_id", taskID, "site_id", site.ID, "triggered_by", triggeredBy)
	go s.execute(context.Background(), taskID, site)
	return taskID, nil
}

// TaskStatus is the externally visible snapshot of a task.
type TaskStatus struct {
	ID          string               `json:"id"`
	SiteID      string               `json:"site_id"`
	Status      string               `json:"status"`
	Progress    int                  `json:"progress"`
	TriggeredBy string               `json:"triggered_by"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Logs        []domain.TaskLogLine `json:"logs"`
}

// Status returns the task's current phase, progress, and accumulated log.
func (s *Service) Status(taskID string) (TaskStatus, error) {
	task, err := s.registry.Get(taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	return taskStatus(task), nil
}

// List returns task history, optionally filtered by site, newest first.
func (s *Service) List(siteID string) []TaskStatus {
	tasks := s.registry.List(siteID)
	out := make([]TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskStatus(task))
	}
	return out
}

func taskStatus(task domain.DeployTask) TaskStatus {
	return TaskStatus{
		ID:          task.ID,
		SiteID:      task.SiteID,
		Status:      task.Status,
		Progress:    domain.Progress(task.Status),
		TriggeredBy: task.TriggeredBy,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		Logs:        task.Logs,
	}
}

func (s *Service) execute(ctx context.Context, taskID string, site domain.Site) {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		s.fail(taskID, site, fmt.Sprintf("worker pool unavailable: %v", err))
		return
	}
	defer s.workers.Release(1)

	// Pull phase.
	now := time.Now().UTC()
	s.transition(taskID, site, domain.TaskPulling, domain.TaskPatch{
		Status:    domain.TaskPulling,
		StartedAt: &now,
		LogLine:   "pulling repository",
	})
	pull := s.sync.Initialize(ctx, site)
	if !pull.Success {
		s.fail(taskID, site, "pull failed: "+pull.Error)
		return
	}
	s.append(taskID, site, pull.Message)

	// Build phase.
	s.transition(taskID, site, domain.TaskBuilding, domain.TaskPatch{
		Status:  domain.TaskBuilding,
		LogLine: "building site",
	})
	if strings.TrimSpace(site.BuildCommand) == "" {
		s.append(taskID, site, "no build command configured")
	} else {
		result, err := s.runner.Run(ctx, site.BuildCommand, site.LocalPath, s.buildTimeout)
		if err != nil {
			s.fail(taskID, site, fmt.Sprintf("build command failed to start: %v", err))
			return
		}
		s.appendCommandOutput(taskID, site, result)
		if !result.Success {
			s.fail(taskID, site, fmt.Sprintf("build failed with exit code %d", result.ExitCode))
			return
		}
		s.append(taskID, site, fmt.Sprintf("build completed in %dms", result.DurationMS))
	}

	// Deploy phase.
	s.transition(taskID, site, domain.TaskDeploying, domain.TaskPatch{
		Status:  domain.TaskDeploying,
		LogLine: "publishing site",
	})
	if err := s.publisher.Publish(ctx, site); err != nil {
		s.fail(taskID, site, "publish failed: "+err.Error())
		return
	}

	done := time.Now().UTC()
	s.transition(taskID, site, domain.TaskCompleted, domain.TaskPatch{
		Status:      domain.TaskCompleted,
		CompletedAt: &done,
		LogLine:     "deployment completed",
	})
	s.logger.Info("deployment completed", "task_id", taskID, "site_id", site.ID)
}

// ValidationResult is the outcome of an on-demand validate run.
type ValidationResult struct {
	Success            bool   `json:"success"`
	Status             string `json:"status"`
	HasValidateCommand bool   `json:"hasValidateCommand"`
	ReturnCode         int    `json:"returnCode"`
	Stdout             string `json:"stdout"`
	Stderr             string `json:"stderr"`
	ExecutionTimeMS    int64  `json:"executionTimeMs"`
}

// Validate runs the site's validate command when one is configured. Exit
// code 0 maps to success, 1 to error, and any other code to warning.
func (s *Service) Validate(ctx context.Context, site domain.Site) (ValidationResult, error) {
	if strings.TrimSpace(site.ValidateCommand) == "" {
		return ValidationResult{Success: true, Status: command.StatusSuccess, HasValidateCommand: false}, nil
	}
	result, err := s.runner.Run(ctx, site.ValidateCommand, site.LocalPath, s.validateTimeout)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidationResult{
		Success:            result.Success,
		Status:             command.Classify(result.ExitCode),
		HasValidateCommand: true,
		ReturnCode:         result.ExitCode,
		Stdout:             result.Stdout,
		Stderr:             result.Stderr,
		ExecutionTimeMS:    result.DurationMS,
	}, nil
}

func (s *Service) transition(taskID string, site domain.Site, status string, patch domain.TaskPatch) {
	if err := s.registry.Update(taskID, patch); err != nil {
		s.logger.Warn("task update failed", "task_id", taskID, "status", status, "error", err)
		return
	}
	s.broadcast(taskID, site, status, patch.LogLine)
}

func (s *Service) append(taskID string, site domain.Site, line string) {
	if line == "" {
		return
	}
	if err := s.registry.Update(taskID, domain.TaskPatch{LogLine: line}); err != nil {
		s.logger.Warn("task log append failed", "task_id", taskID, "error", err)
		return
	}
	s.broadcast(taskID, site, "", line)
}

func (s *Service) appendCommandOutput(taskID string, site domain.Site, result domain.CommandResult) {
	if out := strings.TrimSpace(result.Stdout); out != "" {
		s.append(taskID, site, "stdout: "+out)
	}
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		s.append(taskID, site, "stderr: "+errOut)
	}
}

func (s *Service) fail(taskID string, site domain.Site, reason string) {
	done := time.Now().UTC()
	s.transition(taskID, site, domain.TaskFailed, domain.TaskPatch{
		Status:      domain.TaskFailed,
		CompletedAt: &done,
		LogLine:     reason,
	})
	s.logger.Error("deployment failed", "task_id", taskID, "site_id", site.ID, "reason", reason)
}

func (s *Service) broadcast(taskID string, site domain.Site, status, line string) {
	if s.stream == nil {
		return
	}
	payload := map[string]any{
		"task_id": taskID,
		"site_id": site.ID,
		"at":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if status != "" {
		payload["status"] = status
		payload["progress"] = domain.Progress(status)
	}
	if line != "" {
		payload["message"] = line
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.stream.Broadcast(taskID, data)
}
