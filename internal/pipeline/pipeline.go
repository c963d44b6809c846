package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/audiostory/orchestrator/internal/domain"
)

// Registry is the narrow contract Pipeline depends on for task mutation.
// internal/registry.Registry satisfies it.
type Registry interface {
	Get(taskID string) (*domain.Task, error)
	Mutate(taskID string, fn func(t *domain.Task)) error
}

// Notifier publishes a best-effort lifecycle event. Failures must never be
// surfaced to the pipeline — see internal/events.
type Notifier interface {
	Notify(event string, task *domain.Task)
}

// Archiver replicates the final mix to an object-storage archive,
// best-effort and asynchronous — see internal/archive.
type Archiver interface {
	Enqueue(taskID, localPath string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, *domain.Task) {}

type noopArchiver struct{}

func (noopArchiver) Enqueue(string, string) {}

// StepTimeouts holds the per-step wall-clock timeout (spec §5: 30/5/2/10 min).
type StepTimeouts [domain.TotalSteps]time.Duration

var DefaultStepTimeouts = StepTimeouts{
	30 * time.Minute,
	5 * time.Minute,
	2 * time.Minute,
	10 * time.Minute,
}

// Pipeline executes the four ordered steps against a task's working
// directory, transactionally updating the registry at every boundary.
// Grounded on the original source's generate_audio_pipeline (per-step
// try/except -> step record) and the teacher's distributor.process
// (status transition ordering around a collaborator call).
type Pipeline struct {
	registry Registry
	taskDir  func(taskID string) string
	steps    [domain.TotalSteps]StepExecutor
	timeouts StepTimeouts
	notifier Notifier
	archiver Archiver
	log      *slog.Logger
}

// New builds a Pipeline. taskDir resolves a task id to its exclusive
// working directory (internal/store.Store.TaskDir satisfies this).
// notifier/archiver may be nil, in which case they are no-ops (both are
// optional side channels per spec §9).
func New(registry Registry, taskDir func(taskID string) string, steps [domain.TotalSteps]StepExecutor, timeouts StepTimeouts, notifier Notifier, archiver Archiver, log *slog.Logger) *Pipeline {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if archiver == nil {
		archiver = noopArchiver{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		registry: registry,
		taskDir:  taskDir,
		steps:    steps,
		timeouts: timeouts,
		notifier: notifier,
		archiver: archiver,
		log:      log,
	}
}

// Run executes all four steps for taskID in order, implementing the
// Scheduler.Runner contract. It never returns an error to the caller —
// failures are recorded on the task itself, since the scheduler has
// nowhere else to route them.
func (p *Pipeline) Run(ctx context.Context, taskID string) {
	if _, err := p.registry.Get(taskID); err != nil {
		p.log.Error("pipeline: task vanished before run", "task_id", taskID, "error", err)
		return
	}

	now := time.Now().UTC()
	if err := p.registry.Mutate(taskID, func(t *domain.Task) {
		t.Status = domain.StatusProcessing
		t.StartedAt = &now
		t.ProgressMessage = "starting step 1"
	}); err != nil {
		p.log.Error("pipeline: failed to mark processing", "task_id", taskID, "error", err)
		return
	}
	if processing, err := p.registry.Get(taskID); err == nil {
		p.notifier.Notify("task.processing", processing)
	}

	dirs := NewTaskDirs(p.taskDir(taskID))

	if err := os.MkdirAll(dirs.Root, 0o755); err != nil {
		p.failTask(taskID, 1, fmt.Errorf("create task directory: %w", err))
		return
	}

	for i, step := range p.steps {
		stepNumber := i + 1

		startedAt := time.Now().UTC()
		if err := p.registry.Mutate(taskID, func(t *domain.Task) {
			t.Steps[i].Status = domain.StepRunning
			t.Steps[i].StartedAt = &startedAt
			t.ProgressMessage = fmt.Sprintf("running step %d: %s", stepNumber, step.Name())
		}); err != nil {
			p.log.Error("pipeline: failed to mark step running", "task_id", taskID, "step", stepNumber, "error", err)
			return
		}

		stepCtx, cancel := context.WithTimeout(ctx, p.timeouts[i])
		currentTask, getErr := p.registry.Get(taskID)
		if getErr != nil {
			cancel()
			p.log.Error("pipeline: task vanished mid-run", "task_id", taskID, "error", getErr)
			return
		}

		result, execErr := step.Execute(stepCtx, currentTask, dirs)
		cancel()

		finishedAt := time.Now().UTC()
		if execErr != nil {
			p.failTask(taskID, stepNumber, execErr)
			return
		}

		if err := p.registry.Mutate(taskID, func(t *domain.Task) {
			t.Steps[i].Status = domain.StepCompleted
			t.Steps[i].Result = result
			t.Steps[i].FinishedAt = &finishedAt
			t.CurrentStep = stepNumber
		}); err != nil {
			p.log.Error("pipeline: failed to mark step completed", "task_id", taskID, "step", stepNumber, "error", err)
			return
		}
	}

	finishedAt := time.Now().UTC()
	if err := p.registry.Mutate(taskID, func(t *domain.Task) {
		t.Status = domain.StatusCompleted
		t.OutputPath = dirs.FinalOutput()
		t.ProgressMessage = "completed"
		t.FinishedAt = &finishedAt
	}); err != nil {
		p.log.Error("pipeline: failed to mark completed", "task_id", taskID, "error", err)
		return
	}

	if completed, err := p.registry.Get(taskID); err == nil {
		p.notifier.Notify("task.completed", completed)
	}
	p.archiver.Enqueue(taskID, dirs.FinalOutput())
}

// failTask records a step and task failure. The task directory is never
// deleted on failure, preserving it for debugging (spec §4.4).
func (p *Pipeline) failTask(taskID string, stepNumber int, cause error) {
	finishedAt := time.Now().UTC()

	if err := p.registry.Mutate(taskID, func(t *domain.Task) {
		idx := stepNumber - 1
		if idx >= 0 && idx < len(t.Steps) {
			t.Steps[idx].Status = domain.StepFailed
			t.Steps[idx].Error = cause.Error()
			t.Steps[idx].FinishedAt = &finishedAt
		}
		t.Status = domain.StatusFailed
		t.Error = cause.Error()
		t.ProgressMessage = fmt.Sprintf("failed at step %d", stepNumber)
		t.FinishedAt = &finishedAt
	}); err != nil {
		p.log.Error("pipeline: failed to mark task failed", "task_id", taskID, "error", err)
		return
	}

	if failed, err := p.registry.Get(taskID); err == nil {
		p.notifier.Notify("task.failed", failed)
	}
}
