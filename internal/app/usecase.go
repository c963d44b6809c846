package app

import (
	"github.com/google/uuid"

	"github.com/audiostory/orchestrator/internal/domain"
)

// Registry is the narrow task-registry contract the usecase depends on.
type Registry interface {
	Create(taskID, name string, inputs domain.Inputs) (*domain.Task, error)
	Get(taskID string) (*domain.Task, error)
	List() []*domain.Task
	Delete(taskID string) error
}

// Scheduler is the narrow submission contract the usecase depends on.
type Scheduler interface {
	Submit(taskID string) error
}

// usecase implements transport.Usecase: it creates a task in the registry
// and, if that succeeds, hands it to the scheduler for asynchronous
// execution. A scheduler rejection (e.g. domain.ErrQueueFull) removes the
// just-created task again, so a rejected submission leaves the registry
// as it was.
type usecase struct {
	registry  Registry
	scheduler Scheduler
}

func NewUsecase(registry Registry, scheduler Scheduler) *usecase {
	return &usecase{registry: registry, scheduler: scheduler}
}

func (u *usecase) CreateTask(name string, inputs domain.Inputs) (*domain.Task, error) {
	taskID := uuid.NewString()

	task, err := u.registry.Create(taskID, name, inputs)
	if err != nil {
		return nil, err
	}

	if err := u.scheduler.Submit(taskID); err != nil {
		_ = u.registry.Delete(taskID)
		return nil, err
	}

	return task, nil
}

func (u *usecase) GetTask(taskID string) (*domain.Task, error) {
	return u.registry.Get(taskID)
}

func (u *usecase) ListTasks() []*domain.Task {
	return u.registry.List()
}

func (u *usecase) DeleteTask(taskID string) error {
	return u.registry.Delete(taskID)
}
