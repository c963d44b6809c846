// Package events publishes task lifecycle transitions to NATS, fire and
// forget. Grounded on the teacher's core/libs/nats connect helper and
// api/internal/infra/queue publisher shape — a plain NATS publish (no
// JetStream, since these are ephemeral status pings, not work items that
// must survive a restart).
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/audiostory/orchestrator/internal/domain"
)

const DefaultSubject = "audiostory.task.events"

// Message is the wire shape published for every lifecycle transition.
type Message struct {
	Event      string    `json:"event"`
	TaskID     string    `json:"task_id"`
	Status     string    `json:"status"`
	StepNumber int       `json:"current_step"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher implements pipeline.Notifier over a NATS connection.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

// Notify publishes the task's current state. Publish failures are logged
// and otherwise ignored — a dropped status ping never fails the pipeline.
func (p *Publisher) Notify(event string, task *domain.Task) {
	msg := Message{
		Event:      event,
		TaskID:     task.TaskID,
		Status:     string(task.Status),
		StepNumber: task.CurrentStep,
		Error:      task.Error,
		At:         time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("events: marshal failed", slog.String("task_id", task.TaskID), slog.String("error", err.Error()))
		return
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		slog.Warn("events: publish failed",
			slog.String("task_id", task.TaskID), slog.String("event", event), slog.String("error", err.Error()))
	}
}
