package watermillsql_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/ark-relay/gateway/internal/core/application"
	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/infrastructure/outbox/watermillsql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// requirePostgres skips the test unless OUTBOX_PG_DSN points at a reachable
// postgres; watermill-sql has no in-process fake in this module's dependency set.
func requirePostgres(t *testing.T) string {
	dsn := os.Getenv("OUTBOX_PG_DSN")
	if dsn == "" {
		t.Skip("OUTBOX_PG_DSN not set, skipping watermill-sql outbox test")
	}
	return dsn
}

func TestOutboxPublishesSessionOutcomes(t *testing.T) {
	dsn := requirePostgres(t)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	outbox, err := watermillsql.NewOutbox(db, "test_session_outcomes")
	require.NoError(t, err)
	defer outbox.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	outcomes := make(chan application.SessionOutcome, 1)
	outcomes <- application.SessionOutcome{
		SessionID: "sess-1",
		Status:    domain.SessionStatusCompleted,
		Txid:      "deadbeef",
	}
	close(outcomes)

	outbox.Run(ctx, outcomes)
}
