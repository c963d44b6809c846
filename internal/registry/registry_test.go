package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiostory/orchestrator/internal/domain"
)

// fakeStore is an in-memory TaskStore double, so registry tests exercise
// mutation/persistence ordering without touching the filesystem.
type fakeStore struct {
	loadTasks map[string]*domain.Task
	loadErr   error
	saveErr   error
	saveCount int
	lastSaved map[string]*domain.Task
}

func (f *fakeStore) Load() (map[string]*domain.Task, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.loadTasks == nil {
		return map[string]*domain.Task{}, nil
	}
	return f.loadTasks, nil
}

func (f *fakeStore) SaveAll(tasks map[string]*domain.Task) error {
	f.saveCount++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.lastSaved = tasks
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeStore) {
	t.Helper()
	fs := &fakeStore{}
	r, err := New(fs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, fs
}

func newTestRegistryWithTaskDir(t *testing.T, root string) (*Registry, *fakeStore) {
	t.Helper()
	fs := &fakeStore{}
	r, err := New(fs, func(taskID string) string { return filepath.Join(root, taskID) }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, fs
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.Create("t1", "demo", domain.Inputs{}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := r.Create("t1", "demo", domain.Inputs{}); err == nil {
		t.Fatal("expected error creating duplicate task id")
	}
}

func TestCreateRollsBackOnPersistFailure(t *testing.T) {
	r, fs := newTestRegistry(t)
	fs.saveErr = errors.New("disk full")

	if _, err := r.Create("t1", "demo", domain.Inputs{}); err == nil {
		t.Fatal("expected Create to fail when persist fails")
	}

	fs.saveErr = nil
	if _, err := r.Create("t1", "demo", domain.Inputs{}); err != nil {
		t.Fatalf("expected task id to be free again after rollback: %v", err)
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestGetReturnsIndependentClone(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create("t1", "demo", domain.Inputs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := r.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.Status = domain.StatusCompleted

	second, err := r.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Status == domain.StatusCompleted {
		t.Fatal("mutating a returned clone leaked into the registry")
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create("older", "a", domain.Inputs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("newer", "b", domain.Inputs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// force distinguishable timestamps since NewTask uses time.Now()
	if err := r.Mutate("older", func(t *domain.Task) {
		t.CreatedAt = t.CreatedAt.Add(-time.Hour)
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}
	if list[0].TaskID != "newer" {
		t.Fatalf("expected newest task first, got %s", list[0].TaskID)
	}
}

func TestDeleteRejectsProcessingTask(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create("t1", "demo", domain.Inputs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Mutate("t1", func(t *domain.Task) { t.Status = domain.StatusProcessing }); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if err := r.Delete("t1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict deleting a processing task, got %v", err)
	}
}

func TestDeleteRemovesPendingTask(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.Create("t1", "demo", domain.Inputs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Delete("t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get("t1"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatal("expected task to be gone after Delete")
	}
}

func TestDeleteRemovesTaskWorkingDirectory(t *testing.T) {
	root := t.TempDir()
	r, _ := newTestRegistryWithTaskDir(t, root)
	if _, err := r.Create("t1", "demo", domain.Inputs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dir := filepath.Join(root, "t1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "4_final_output.wav"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := r.Delete("t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected task working directory removed after Delete, stat err = %v", err)
	}
}

func TestMutateBumpsUpdatedAt(t *testing.T) {
	r, _ := newTestRegistry(t)
	task, err := r.Create("t1", "demo", domain.Inputs{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := task.UpdatedAt

	if err := r.Mutate("t1", func(t *domain.Task) { t.ProgressMessage = "working" }); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	after, err := r.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !after.UpdatedAt.After(before) && after.UpdatedAt != before {
		t.Fatal("expected UpdatedAt to advance on Mutate")
	}
	if after.ProgressMessage != "working" {
		t.Fatalf("expected progress message to stick, got %q", after.ProgressMessage)
	}
}

func TestNewSurfacesInterruptedTasksFromStore(t *testing.T) {
	fs := &fakeStore{
		loadTasks: map[string]*domain.Task{
			"t1": {TaskID: "t1", Status: domain.StatusFailed, Error: "interrupted"},
		},
	}

	r, err := New(fs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Error != "interrupted" {
		t.Fatalf("expected interrupted task to surface as-is from store, got %q", got.Error)
	}
}
