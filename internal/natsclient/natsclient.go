// Package natsclient connects to NATS for the lifecycle-notification
// publisher. Grounded on the teacher's core/libs/nats package; unlike
// the teacher's queue-consuming services, the orchestrator only ever
// publishes plain (non-JetStream) messages, since lifecycle events are
// ephemeral status pings, not work items that must survive a restart.
package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Name          string
	MaxReconnects int
}

func Connect(url string, cfg Config) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}
