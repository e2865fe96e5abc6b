package application

import (
	"context"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/pkg/errors"
)

// Service is the core gateway application: it owns the session lifecycle,
// drives the signing ceremony, and exposes the operations the event
// dispatcher (C4) and the admin surface call into.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)

	// RegisterIntent creates (or returns the existing, by idempotency)
	// session for an inbound intent event.
	RegisterIntent(ctx context.Context, in IntentInput) (*domain.SigningSession, errors.Error)

	// SubmitSigningResponse binds a wallet's signature to an outstanding
	// challenge and advances the session state machine.
	SubmitSigningResponse(ctx context.Context, in SigningResponseInput) errors.Error

	// CancelSession requests cooperative cancellation of a non-terminal
	// session.
	CancelSession(ctx context.Context, sessionID string) errors.Error

	GetSession(ctx context.Context, sessionID string) (*domain.SigningSession, errors.Error)

	// CreateAsset, Mint, Transfer, GetBalance expose C11 to admin callers.
	CreateAsset(ctx context.Context, asset domain.Asset) errors.Error
	Mint(ctx context.Context, userPubkey, assetID string, amount uint64) errors.Error
	Transfer(ctx context.Context, sender, recipient, assetID string, amount uint64) errors.Error
	GetBalance(ctx context.Context, userPubkey, assetID string) (*domain.AssetBalance, errors.Error)

	// CreateLightningLift exposes the C10 lift operation, which doesn't fit
	// the generic intent/session flow.
	CreateLightningLift(ctx context.Context, in LightningLiftInput) (*domain.LightningInvoice, errors.Error)

	// SessionEventsChannel streams terminal session outcomes for anything
	// that needs to react to completion/failure outside the ceremony
	// itself (metrics, admin dashboards).
	SessionEventsChannel(ctx context.Context) <-chan SessionOutcome
}

// IntentInput is the normalized shape of a relay "intent" event (§6) after
// C4 has verified the author signature and freshness.
type IntentInput struct {
	AuthorPubkey string
	ActionID     string
	Type         string // "p2p_transfer", "lightning:lift", "lightning:land", or forwarded solver type
	Params       map[string]any
	ExpiresAt    int64
}

// SigningResponseInput is the normalized shape of a relay "signing_response"
// event (§6).
type SigningResponseInput struct {
	SessionID   string
	ChallengeID string
	Signature   []byte
	PayloadRef  string
}

type LightningLiftInput struct {
	UserPubkey string
	AssetID    string
	AmountSats uint64
}

// SessionOutcome is published once a session reaches a terminal state.
type SessionOutcome struct {
	SessionID string
	Status    domain.SessionStatus
	Kind      domain.FailureKind
	Txid      string
}
