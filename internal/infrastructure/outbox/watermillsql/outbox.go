// Package watermillsql adapts the teacher's watermill-backed event
// repository (internal/infrastructure/db/watermill/event_repo.go in the
// original arkd) into a durable outbox for the gateway's terminal session
// outcomes: round-lifecycle event sourcing and its by-id subscriber replay
// have no gateway equivalent, so only the marshal/publish half of that file
// survives, now pointed at a flat SessionOutcome stream instead of
// domain.Event aggregates.
package watermillsql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	watermillsqlpkg "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ark-relay/gateway/internal/core/application"
	log "github.com/sirupsen/logrus"
)

// DefaultTopic is the watermill-sql topic (and backing table, prefixed
// watermill_) session outcomes are published to.
const DefaultTopic = "session_outcomes"

// Outbox durably republishes every terminal SessionOutcome the application
// service emits, so a downstream consumer (admin tooling, reconciliation
// jobs) can replay them across a gateway restart instead of relying solely
// on the in-memory channel application.Service.SessionEventsChannel exposes.
type Outbox struct {
	publisher message.Publisher
	topic     string
}

// NewOutbox opens a watermill-sql publisher against db, creating its
// backing table on first use.
func NewOutbox(db *sql.DB, topic string) (*Outbox, error) {
	if topic == "" {
		topic = DefaultTopic
	}

	publisher, err := watermillsqlpkg.NewPublisher(db, watermillsqlpkg.PublisherConfig{
		SchemaAdapter:        watermillsqlpkg.DefaultPostgreSQLSchema{},
		AutoInitializeSchema: true,
	}, watermill.NewStdLogger(false, false))
	if err != nil {
		return nil, fmt.Errorf("construct watermill-sql publisher: %w", err)
	}

	return &Outbox{publisher: publisher, topic: topic}, nil
}

// Run forwards every outcome read from outcomes to the outbox topic until
// ctx is canceled or the channel closes. It never returns an error: a single
// failed publish is logged and the loop continues with the next outcome.
func (o *Outbox) Run(ctx context.Context, outcomes <-chan application.SessionOutcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-outcomes:
			if !ok {
				return
			}
			o.publishOne(outcome)
		}
	}
}

func (o *Outbox) publishOne(outcome application.SessionOutcome) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		log.WithError(err).WithField("session_id", outcome.SessionID).Error("failed to marshal session outcome for outbox")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := o.publisher.Publish(o.topic, msg); err != nil {
		log.WithError(err).WithField("session_id", outcome.SessionID).Warn("failed to publish session outcome to outbox")
	}
}

func (o *Outbox) Close() error {
	return o.publisher.Close()
}
