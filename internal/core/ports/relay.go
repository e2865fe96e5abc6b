package ports

import "context"

// RelayEventKind names the semantic wire event kinds exchanged over the
// relay overlay network.
type RelayEventKind string

const (
	RelayEventIntent            RelayEventKind = "intent"
	RelayEventSigningChallenge  RelayEventKind = "signing_challenge"
	RelayEventSigningResponse   RelayEventKind = "signing_response"
	RelayEventConfirmation      RelayEventKind = "confirmation"
	RelayEventFailure           RelayEventKind = "failure"
	RelayEventL1Commitment      RelayEventKind = "l1_commitment"
)

// InboundEvent is a decoded event delivered to C4 from any relay. Per-author
// arrival order within a single relay connection is preserved; no ordering
// guarantee holds across relays or across authors.
type InboundEvent struct {
	EventID      string
	Kind         RelayEventKind
	AuthorPubkey string
	Content      []byte // decrypted payload for DM kinds, raw content otherwise
	Tags         map[string]string
	ReceivedAt   int64
}

// RelayClient is the C3 overlay network adapter: it owns connections to an
// ordered set of relays, deduplicates inbound events by id, and exposes a
// single decoded inbound channel plus outbound publish methods for the
// three outward event classes.
type RelayClient interface {
	// Inbound returns the single channel of decoded events handed to C4.
	Inbound() <-chan InboundEvent

	// PublishChallenge sends an encrypted signing_challenge DM to recipientPubkey.
	PublishChallenge(ctx context.Context, recipientPubkey string, payload []byte) error
	// PublishFailure sends an encrypted failure DM to recipientPubkey.
	PublishFailure(ctx context.Context, recipientPubkey string, payload []byte) error
	// PublishConfirmation publishes a public confirmation/settlement event.
	PublishConfirmation(ctx context.Context, payload []byte) error
	// PublishL1Commitment publishes a public l1_commitment event.
	PublishL1Commitment(ctx context.Context, payload []byte) error

	// HealthyRelayCount reports how many relay connections are currently
	// healthy; writes are refused by the caller when this is zero.
	HealthyRelayCount() int

	Start(ctx context.Context) error
	Close() error
}
