// Package registry holds the in-memory, authoritative map of tasks and
// writes it through to the backing Store on every mutation. All status
// transitions the pipeline makes pass through here so the in-memory view
// and the on-disk journal never drift apart.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/audiostory/orchestrator/internal/domain"
)

// TaskStore is the narrow persistence contract the registry depends on.
// internal/store.Store satisfies it; tests substitute an in-memory fake.
type TaskStore interface {
	Load() (map[string]*domain.Task, error)
	SaveAll(map[string]*domain.Task) error
}

// Registry is the process-wide, lock-protected task table.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]*domain.Task
	store   TaskStore
	taskDir func(taskID string) string
	log     *slog.Logger
}

// New constructs a Registry and loads its initial state (including crash
// recovery reclassification) from store. taskDir resolves a task id to its
// working directory (internal/store.Store.TaskDir satisfies this); Delete
// removes that directory alongside the task's registry entry. A nil taskDir
// disables directory cleanup, which tests substituting an in-memory store
// rely on.
func New(store TaskStore, taskDir func(taskID string) string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}

	tasks, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("registry: initial load: %w", err)
	}

	r := &Registry{
		tasks:   tasks,
		store:   store,
		taskDir: taskDir,
		log:     log,
	}

	var recovered int
	for _, t := range tasks {
		if t.Error == "interrupted" {
			recovered++
		}
	}
	if recovered > 0 {
		log.Warn("reclassified interrupted tasks on startup", "count", recovered)
	}

	return r, nil
}

// Create allocates and persists a new pending task.
func (r *Registry) Create(taskID, name string, inputs domain.Inputs) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[taskID]; exists {
		return nil, fmt.Errorf("registry: task %s already exists", taskID)
	}

	t := domain.NewTask(taskID, name, inputs, time.Now().UTC())
	r.tasks[taskID] = t

	if err := r.persistLocked(); err != nil {
		delete(r.tasks, taskID)
		return nil, err
	}

	return t.Clone(), nil
}

// Get returns a snapshot of the task, or domain.ErrTaskNotFound.
func (r *Registry) Get(taskID string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// List returns snapshots of every task, newest first.
func (r *Registry) List() []*domain.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes a task and its working directory, rejecting deletion
// while the task is actively processing.
func (r *Registry) Delete(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if t.Status == domain.StatusProcessing {
		return domain.ErrConflict
	}

	delete(r.tasks, taskID)
	if err := r.persistLocked(); err != nil {
		return err
	}

	if r.taskDir != nil {
		if err := os.RemoveAll(r.taskDir(taskID)); err != nil {
			return fmt.Errorf("registry: remove task directory: %w", err)
		}
	}
	return nil
}

// Mutate applies fn to the task under the write lock and persists the
// result. fn mutates in place; the registry takes care of bumping
// UpdatedAt and writing through to the store.
func (r *Registry) Mutate(taskID string, fn func(t *domain.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}

	fn(t)
	t.UpdatedAt = time.Now().UTC()

	return r.persistLocked()
}

// persistLocked snapshots the current map and writes it through the store.
// Callers must already hold r.mu.
func (r *Registry) persistLocked() error {
	snapshot := make(map[string]*domain.Task, len(r.tasks))
	for id, t := range r.tasks {
		snapshot[id] = t
	}
	if err := r.store.SaveAll(snapshot); err != nil {
		return fmt.Errorf("registry: persist: %w", err)
	}
	return nil
}
