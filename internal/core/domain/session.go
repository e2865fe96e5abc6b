package domain

import (
	"context"
	"fmt"
)

// SessionStatus names the canonical states of the signing-session state
// machine. Aliases accepted on input ("pending", "response_received") are
// normalized to these canonical values before the state machine is ever
// consulted; nothing downstream of CanonicalSessionStatus sees an alias.
type SessionStatus string

const (
	SessionStatusInitiated        SessionStatus = "initiated"
	SessionStatusChallengeSent    SessionStatus = "challenge_sent"
	SessionStatusAwaitingSignature SessionStatus = "awaiting_signature"
	SessionStatusSigning          SessionStatus = "signing"
	SessionStatusCompleted        SessionStatus = "completed"
	SessionStatusFailed           SessionStatus = "failed"
	SessionStatusExpired          SessionStatus = "expired"
)

var sessionStatusAliases = map[string]SessionStatus{
	"pending":           SessionStatusInitiated,
	"response_received": SessionStatusAwaitingSignature,
}

// CanonicalSessionStatus resolves an alias (or a value already canonical) to
// its canonical SessionStatus. Unknown values pass through unchanged so that
// validation can reject them explicitly rather than silently.
func CanonicalSessionStatus(s string) SessionStatus {
	if canon, ok := sessionStatusAliases[s]; ok {
		return canon
	}
	return SessionStatus(s)
}

func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusExpired
}

// validTransitions is the state machine graph from the component design: the
// session manager is the sole place this table is consulted, and the sole
// mutator of session rows.
var validTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionStatusInitiated: {
		SessionStatusChallengeSent: true,
		SessionStatusFailed:        true,
		SessionStatusExpired:       true,
	},
	SessionStatusChallengeSent: {
		SessionStatusAwaitingSignature: true,
		SessionStatusFailed:            true,
		SessionStatusExpired:           true,
	},
	SessionStatusAwaitingSignature: {
		SessionStatusSigning: true,
		SessionStatusFailed:  true,
		SessionStatusExpired: true,
	},
	SessionStatusSigning: {
		SessionStatusCompleted: true,
		SessionStatusFailed:    true,
		SessionStatusExpired:   true,
	},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the §4.5 graph.
func CanTransition(from, to SessionStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// SessionType selects which ceremony handler the orchestrator dispatches to.
type SessionType string

const (
	SessionTypeP2PTransfer   SessionType = "p2p_transfer"
	SessionTypeLightningLift SessionType = "lightning_lift"
	SessionTypeLightningLand SessionType = "lightning_land"
	SessionTypeProtocolOp    SessionType = "protocol_op"
)

// FailureKind classifies why a session moved to failed; it is what the
// orchestrator's failure event carries in addition to the stable numeric
// error code (see pkg/errors).
type FailureKind string

const (
	FailureKindValidation          FailureKind = "validation"
	FailureKindBackendUnavailable  FailureKind = "backend_unavailable"
	FailureKindSignatureMissing    FailureKind = "signature_missing"
	FailureKindSignatureInvalid    FailureKind = "signature_invalid"
	FailureKindConflict            FailureKind = "conflict"
	FailureKindTimeout             FailureKind = "timeout"
	FailureKindCancelled           FailureKind = "cancelled"
	FailureKindExpired             FailureKind = "expired"
	FailureKindInternal            FailureKind = "internal"
)

// CeremonyState is the six-step ceremony's persisted progress marker. It
// lives inside SigningSession.Result so a restarted worker can resume any
// ceremony by re-reading the session row.
type CeremonyState struct {
	CurrentStep        int               `json:"current_step"`
	StartedAt          int64             `json:"start_time"`
	StepStartedAt       int64             `json:"step_start_time"`
	CompletedSteps      []int             `json:"completed_steps"`
	SignaturesCollected map[string]string `json:"signatures_collected"` // payload_ref -> signature
	ArkTxID             string            `json:"ark_tx_id"`
	CheckpointTxID      string            `json:"checkpoint_tx_id"`
	InputVtxoIDs        []string          `json:"input_vtxo_ids"`
	SigningPayloads     []SigningPayload  `json:"signing_payloads"`
	FailureKind         FailureKind       `json:"failure_kind,omitempty"`
	FailureMessage      string            `json:"failure_message,omitempty"`
}

// SigningPayload is an opaque blob bound to a digest the wallet can
// re-derive (payload_ref). The gateway never interprets its structure, only
// hashes, stores, and forwards it to/from the Ark daemon.
type SigningPayload struct {
	PayloadRef string `json:"payload_ref"`
	Blob       []byte `json:"blob"`
	StepIndex  int    `json:"step_index"`
	StepTotal  int    `json:"step_total"`
}

// SigningSession is one intent's execution context.
type SigningSession struct {
	SessionID   string
	UserPubkey  string
	SessionType SessionType
	Status      SessionStatus
	ActionID    string // folds into the deterministic session id derivation
	IntentData  map[string]any
	Context     string
	ChallengeID string // FK to the currently outstanding challenge, if any
	ExpiresAt   int64
	CreatedAt   int64
	Cancelled   bool
	Result      CeremonyState
	SignedTx    string
}

func (s SigningSession) Validate() error {
	if len(s.SessionID) == 0 {
		return fmt.Errorf("missing session id")
	}
	if len(s.UserPubkey) == 0 {
		return fmt.Errorf("missing user pubkey")
	}
	switch s.SessionType {
	case SessionTypeP2PTransfer, SessionTypeLightningLift, SessionTypeLightningLand, SessionTypeProtocolOp:
	default:
		return fmt.Errorf("invalid session type %q", s.SessionType)
	}
	return nil
}

type SessionRepository interface {
	Create(ctx context.Context, session SigningSession) error
	Get(ctx context.Context, sessionID string) (*SigningSession, error)
	// GetByActionID looks up an existing session for (userPubkey, actionID)
	// to satisfy the idempotency invariant: at most one session per action.
	GetByActionID(ctx context.Context, userPubkey, actionID string) (*SigningSession, error)

	// TransitionStatus performs a CAS from expectedCurrent to next; it must
	// fail (without side effects) if the session is not currently at
	// expectedCurrent, making it safe to race two callers.
	TransitionStatus(ctx context.Context, sessionID string, expectedCurrent, next SessionStatus) error
	SetChallenge(ctx context.Context, sessionID, challengeID string) error
	SetCancelled(ctx context.Context, sessionID string) error
	SaveResult(ctx context.Context, sessionID string, result CeremonyState) error
	SetSignedTx(ctx context.Context, sessionID, signedTx string) error

	// ListExpirable returns non-terminal sessions with expires_at < now.
	ListExpirable(ctx context.Context, now int64, limit int) ([]SigningSession, error)
	ListNonTerminalByUser(ctx context.Context, userPubkey string) ([]SigningSession, error)
	CountNonTerminal(ctx context.Context) (int64, error)

	Close()
}
