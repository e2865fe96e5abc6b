package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	log "github.com/sirupsen/logrus"
)

const (
	idempotencyTTL  = 24 * time.Hour
	dispatchWorkers = 8
	dispatchQueue   = 256
)

// wireIntent is the JSON envelope an author places inside the content field
// of a relay "intent" event. The signature binds action_id/type/params/
// expires_at so the gateway can trust the intent even though the relay
// transport itself is not assumed trustworthy.
type wireIntent struct {
	ActionID  string         `json:"action_id"`
	Type      string         `json:"type"`
	Params    map[string]any `json:"params"`
	ExpiresAt int64          `json:"expires_at"`
	Signature string         `json:"signature"` // hex schnorr signature over the canonical fields
}

type wireSigningResponse struct {
	SessionID   string `json:"session_id"`
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
	PayloadRef  string `json:"payload_ref"`
}

// dispatcher implements C4: it classifies every inbound relay event,
// enforces author-signature and freshness checks, deduplicates by the
// appropriate idempotency key, and hands accepted work to a bounded worker
// pool so a slow downstream call never blocks the relay's inbound channel.
type dispatcher struct {
	relay    ports.RelayClient
	idem     ports.IdempotencyStore
	sessions *sessionManager
	orch     *signingOrchestrator

	queue chan ports.InboundEvent
	done  chan struct{}
}

func newDispatcher(relay ports.RelayClient, idem ports.IdempotencyStore, sessions *sessionManager, orch *signingOrchestrator) *dispatcher {
	return &dispatcher{
		relay:    relay,
		idem:     idem,
		sessions: sessions,
		orch:     orch,
		queue:    make(chan ports.InboundEvent, dispatchQueue),
		done:     make(chan struct{}),
	}
}

func (d *dispatcher) start(ctx context.Context) {
	for i := 0; i < dispatchWorkers; i++ {
		go d.worker(ctx)
	}
	go d.pump(ctx)
}

func (d *dispatcher) stop() {
	close(d.done)
}

// pump reads the relay's single inbound channel and enqueues work; it never
// blocks on the handler itself, only on queue backpressure.
func (d *dispatcher) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case evt, ok := <-d.relay.Inbound():
			if !ok {
				return
			}
			select {
			case d.queue <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case evt := <-d.queue:
			d.handle(ctx, evt)
		}
	}
}

func (d *dispatcher) handle(ctx context.Context, evt ports.InboundEvent) {
	if evt.ReceivedAt > 0 && time.Now().Unix()-evt.ReceivedAt > int64(idempotencyTTL.Seconds()) {
		log.WithField("event_id", evt.EventID).Debug("dropping stale event")
		return
	}

	switch evt.Kind {
	case ports.RelayEventIntent:
		d.handleIntent(ctx, evt)
	case ports.RelayEventSigningResponse:
		d.handleSigningResponse(ctx, evt)
	default:
		log.WithFields(log.Fields{"event_id": evt.EventID, "kind": evt.Kind}).Debug("ignoring unclassified event")
	}
}

func (d *dispatcher) handleIntent(ctx context.Context, evt ports.InboundEvent) {
	var wire wireIntent
	if err := json.Unmarshal(evt.Content, &wire); err != nil {
		log.WithError(err).WithField("event_id", evt.EventID).Warn("malformed intent payload")
		return
	}
	if wire.ExpiresAt > 0 && time.Now().Unix() > wire.ExpiresAt {
		log.WithField("action_id", wire.ActionID).Debug("dropping expired intent")
		return
	}
	if err := verifyAuthorSignature(evt.AuthorPubkey, wire); err != nil {
		log.WithError(err).WithField("author_pubkey", evt.AuthorPubkey).Warn("rejecting intent with invalid author signature")
		return
	}

	key := fmt.Sprintf("intent:%s:%s", evt.AuthorPubkey, wire.ActionID)
	firstSeen, err := d.idem.SeenOrMark(ctx, key, idempotencyTTL)
	if err != nil {
		log.WithError(err).Error("idempotency check failed, dropping intent defensively")
		return
	}
	if !firstSeen {
		log.WithField("action_id", wire.ActionID).Debug("duplicate intent dropped")
		return
	}

	session, _, err := d.sessions.getOrCreate(
		ctx, evt.AuthorPubkey, sessionTypeFromWire(wire.Type), wire.ActionID,
		wire.Params, wire.Type, wire.ExpiresAt,
	)
	if err != nil {
		log.WithError(err).WithField("action_id", wire.ActionID).Error("failed to register intent session")
		return
	}
	if ferr := d.orch.run(ctx, session.SessionID); ferr != nil {
		log.WithError(ferr).WithField("session_id", session.SessionID).Warn("signing ceremony failed to start")
	}
}

func (d *dispatcher) handleSigningResponse(ctx context.Context, evt ports.InboundEvent) {
	var wire wireSigningResponse
	if err := json.Unmarshal(evt.Content, &wire); err != nil {
		log.WithError(err).WithField("event_id", evt.EventID).Warn("malformed signing response payload")
		return
	}

	key := fmt.Sprintf("response:%s:%s", wire.SessionID, wire.ChallengeID)
	firstSeen, err := d.idem.SeenOrMark(ctx, key, idempotencyTTL)
	if err != nil {
		log.WithError(err).Error("idempotency check failed, dropping response defensively")
		return
	}
	if !firstSeen {
		log.WithField("session_id", wire.SessionID).Debug("duplicate signing response dropped")
		return
	}

	sig, err := hex.DecodeString(wire.Signature)
	if err != nil {
		log.WithError(err).WithField("session_id", wire.SessionID).Warn("malformed signature encoding")
		return
	}
	in := SigningResponseInput{
		SessionID:   wire.SessionID,
		ChallengeID: wire.ChallengeID,
		Signature:   sig,
		PayloadRef:  wire.PayloadRef,
	}
	if ferr := d.orch.handleResponse(ctx, in); ferr != nil {
		log.WithError(ferr).WithField("session_id", wire.SessionID).Warn("signing response rejected")
	}
}

func sessionTypeFromWire(wireType string) domain.SessionType {
	switch wireType {
	case "p2p_transfer":
		return domain.SessionTypeP2PTransfer
	case "lightning_lift", "lightning:lift":
		return domain.SessionTypeLightningLift
	case "lightning_land", "lightning:land":
		return domain.SessionTypeLightningLand
	default:
		return domain.SessionTypeProtocolOp
	}
}

// verifyAuthorSignature checks the schnorr signature an author attaches over
// the canonical (action_id, type, params, expires_at) tuple, the same
// binding scheme challengeManager uses for wallet responses.
func verifyAuthorSignature(authorPubkey string, wire wireIntent) error {
	sigBytes, err := hex.DecodeString(wire.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	canonicalParams, err := canonicalJSON(wire.Params)
	if err != nil {
		return fmt.Errorf("canonicalize params: %w", err)
	}
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", wire.ActionID, wire.Type, canonicalParams, wire.ExpiresAt)))

	pubkey, err := schnorr.ParsePubKey(mustHexDecode(authorPubkey))
	if err != nil {
		return fmt.Errorf("invalid author pubkey: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	if !sig.Verify(digest[:], pubkey) {
		return fmt.Errorf("signature does not verify against author pubkey")
	}
	return nil
}
