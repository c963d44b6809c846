package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/audiostory/orchestrator/internal/domain"
)

// fakeRegistry is an in-memory Registry double.
type fakeRegistry struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func newFakeRegistry(task *domain.Task) *fakeRegistry {
	return &fakeRegistry{tasks: map[string]*domain.Task{task.TaskID: task}}
}

func (r *fakeRegistry) Get(taskID string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (r *fakeRegistry) Mutate(taskID string, fn func(t *domain.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// fakeStep is a StepExecutor double that records invocation and can be
// scripted to fail.
type fakeStep struct {
	name    string
	err     error
	calls   int
	mu      sync.Mutex
	block   chan struct{}
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) Execute(ctx context.Context, task *domain.Task, dirs TaskDirs) (map[string]any, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"ok": true}, nil
}

func newTask(id string) *domain.Task {
	return domain.NewTask(id, "demo", domain.Inputs{}, time.Now().UTC())
}

func testTaskDir(root string) func(string) string {
	return func(taskID string) string { return filepath.Join(root, "tasks", taskID) }
}

func TestRunCompletesAllFourStepsInOrder(t *testing.T) {
	task := newTask("t1")
	reg := newFakeRegistry(task)

	var order []string
	var mu sync.Mutex
	makeStep := func(name string) *fakeStep {
		return &fakeStep{name: name}
	}
	steps := [domain.TotalSteps]StepExecutor{
		recordingStep(makeStep("clone"), &order, &mu),
		recordingStep(makeStep("trim"), &order, &mu),
		recordingStep(makeStep("sequence"), &order, &mu),
		recordingStep(makeStep("align"), &order, &mu),
	}

	dir := t.TempDir()
	p := New(reg, testTaskDir(dir), steps, DefaultStepTimeouts, nil, nil, nil)
	p.Run(context.Background(), "t1")

	got, err := reg.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
	for i, step := range got.Steps {
		if step.Status != domain.StepCompleted {
			t.Fatalf("expected step %d completed, got %s", i+1, step.Status)
		}
	}
	want := []string{"clone", "trim", "sequence", "align"}
	if len(order) != len(want) {
		t.Fatalf("expected %d step invocations, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected step order %v, got %v", want, order)
		}
	}
	if got.OutputPath == "" {
		t.Fatal("expected OutputPath to be set on completion")
	}
}

func recordingStep(s *fakeStep, order *[]string, mu *sync.Mutex) StepExecutor {
	return &orderingStep{fakeStep: s, order: order, mu: mu}
}

type orderingStep struct {
	*fakeStep
	order *[]string
	mu    *sync.Mutex
}

func (s *orderingStep) Execute(ctx context.Context, task *domain.Task, dirs TaskDirs) (map[string]any, error) {
	s.mu.Lock()
	*s.order = append(*s.order, s.name)
	s.mu.Unlock()
	return s.fakeStep.Execute(ctx, task, dirs)
}

func TestRunStopsAtFirstFailingStep(t *testing.T) {
	task := newTask("t1")
	reg := newFakeRegistry(task)

	failure := errors.New("clone helper crashed")
	steps := [domain.TotalSteps]StepExecutor{
		&fakeStep{name: "clone", err: failure},
		&fakeStep{name: "trim"},
		&fakeStep{name: "sequence"},
		&fakeStep{name: "align"},
	}

	dir := t.TempDir()
	p := New(reg, testTaskDir(dir), steps, DefaultStepTimeouts, nil, nil, nil)
	p.Run(context.Background(), "t1")

	got, err := reg.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected status failed, got %s", got.Status)
	}
	if got.Steps[0].Status != domain.StepFailed {
		t.Fatalf("expected step 1 failed, got %s", got.Steps[0].Status)
	}
	if got.Steps[0].Error != failure.Error() {
		t.Fatalf("expected step error %q, got %q", failure.Error(), got.Steps[0].Error)
	}
	for i := 1; i < domain.TotalSteps; i++ {
		if got.Steps[i].Status != domain.StepPending {
			t.Fatalf("expected step %d untouched (pending), got %s", i+1, got.Steps[i].Status)
		}
	}
}

func TestRunNeverDeletesTaskDirectoryOnFailure(t *testing.T) {
	task := newTask("t1")
	reg := newFakeRegistry(task)

	steps := [domain.TotalSteps]StepExecutor{
		&fakeStep{name: "clone", err: errors.New("boom")},
		&fakeStep{name: "trim"},
		&fakeStep{name: "sequence"},
		&fakeStep{name: "align"},
	}

	dir := t.TempDir()
	taskDir := testTaskDir(dir)
	p := New(reg, taskDir, steps, DefaultStepTimeouts, nil, nil, nil)
	p.Run(context.Background(), "t1")

	info, err := os.Stat(taskDir("t1"))
	if err != nil {
		t.Fatalf("expected task directory to still exist after failure: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected task directory path to be a directory")
	}
}

func TestRunRespectsPerStepTimeout(t *testing.T) {
	task := newTask("t1")
	reg := newFakeRegistry(task)

	blocking := &fakeStep{name: "clone", block: make(chan struct{})}
	steps := [domain.TotalSteps]StepExecutor{
		blocking,
		&fakeStep{name: "trim"},
		&fakeStep{name: "sequence"},
		&fakeStep{name: "align"},
	}

	timeouts := StepTimeouts{5 * time.Millisecond, time.Minute, time.Minute, time.Minute}

	dir := t.TempDir()
	p := New(reg, testTaskDir(dir), steps, timeouts, nil, nil, nil)
	p.Run(context.Background(), "t1")

	got, err := reg.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected timeout to fail the task, got status %s", got.Status)
	}
}

// recordingNotifier and recordingArchiver observe pipeline side effects
// without depending on the real NATS/MinIO-backed implementations.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, task *domain.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type recordingArchiver struct {
	mu    sync.Mutex
	calls []string
}

func (a *recordingArchiver) Enqueue(taskID, localPath string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, fmt.Sprintf("%s:%s", taskID, localPath))
}

func TestRunNotifiesAndArchivesOnSuccess(t *testing.T) {
	task := newTask("t1")
	reg := newFakeRegistry(task)

	steps := [domain.TotalSteps]StepExecutor{
		&fakeStep{name: "clone"},
		&fakeStep{name: "trim"},
		&fakeStep{name: "sequence"},
		&fakeStep{name: "align"},
	}

	notifier := &recordingNotifier{}
	archiver := &recordingArchiver{}

	dir := t.TempDir()
	p := New(reg, testTaskDir(dir), steps, DefaultStepTimeouts, notifier, archiver, nil)
	p.Run(context.Background(), "t1")

	notifier.mu.Lock()
	events := append([]string{}, notifier.events...)
	notifier.mu.Unlock()
	if len(events) < 2 || events[0] != "task.processing" || events[len(events)-1] != "task.completed" {
		t.Fatalf("expected processing then completed notifications, got %v", events)
	}

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.calls) != 1 {
		t.Fatalf("expected exactly one archive enqueue call, got %d", len(archiver.calls))
	}
}

func TestRunNotifiesOnFailureWithoutArchiving(t *testing.T) {
	task := newTask("t1")
	reg := newFakeRegistry(task)

	steps := [domain.TotalSteps]StepExecutor{
		&fakeStep{name: "clone", err: errors.New("boom")},
		&fakeStep{name: "trim"},
		&fakeStep{name: "sequence"},
		&fakeStep{name: "align"},
	}

	notifier := &recordingNotifier{}
	archiver := &recordingArchiver{}

	dir := t.TempDir()
	p := New(reg, testTaskDir(dir), steps, DefaultStepTimeouts, notifier, archiver, nil)
	p.Run(context.Background(), "t1")

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.calls) != 0 {
		t.Fatal("expected no archive enqueue call on a failed run")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) == 0 || notifier.events[len(notifier.events)-1] != "task.failed" {
		t.Fatalf("expected a final task.failed notification, got %v", notifier.events)
	}
}
