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
	"github.com/google/uuid"
)

const defaultChallengeTimeout = 5 * time.Minute

// challengeManager implements C6: it mints deterministic challenges for a
// ceremony step and verifies a wallet's signed response against the
// session's user_pubkey before handing control back to the session manager.
type challengeManager struct {
	sessions *sessionManager
	repo     ports.RepoManager
}

func newChallengeManager(sessions *sessionManager, repo ports.RepoManager) *challengeManager {
	return &challengeManager{sessions: sessions, repo: repo}
}

// issue creates a challenge covering payload, derives its payload_ref
// digest, and renders a human-readable context per session_type so a wallet
// can show an approval screen without decoding the raw bytes.
func (m *challengeManager) issue(
	ctx context.Context, session domain.SigningSession, kind domain.ChallengeKind,
	payload []byte, stepIndex, stepTotal int,
) (*domain.SigningChallenge, error) {
	payloadRef := digestPayloadRef(session.SessionID, stepIndex, payload)
	challenge := domain.SigningChallenge{
		ChallengeID:   uuid.New().String(),
		SessionID:     session.SessionID,
		Kind:          kind,
		ChallengeData: payload,
		PayloadRef:    payloadRef,
		Context:       renderChallengeContext(session),
		StepIndex:     stepIndex,
		StepTotal:     stepTotal,
		ExpiresAt:     time.Now().Add(defaultChallengeTimeout).Unix(),
		CreatedAt:     time.Now().Unix(),
	}
	if err := m.repo.Challenges().Create(ctx, challenge); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}
	if err := m.repo.Sessions().SetChallenge(ctx, session.SessionID, challenge.ChallengeID); err != nil {
		return nil, fmt.Errorf("bind challenge to session: %w", err)
	}
	return &challenge, nil
}

// digestPayloadRef is the digest a wallet must independently re-derive from
// the payload it is about to sign; it binds the signature to a specific
// session and step so a response cannot be replayed across ceremonies.
func digestPayloadRef(sessionID string, stepIndex int, payload []byte) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|", sessionID, stepIndex) + string(payload)))
	return hex.EncodeToString(sum[:])
}

func renderChallengeContext(session domain.SigningSession) string {
	params, _ := json.Marshal(session.IntentData)
	return fmt.Sprintf(
		"type=%s user=%s expires_at=%d created_at=%d params=%s",
		session.SessionType, truncatePubkey(session.UserPubkey), session.ExpiresAt, session.CreatedAt, params,
	)
}

func truncatePubkey(pubkey string) string {
	if len(pubkey) <= 12 {
		return pubkey
	}
	return pubkey[:12] + "…"
}

// verify implements the five-step verification in §4.6: lookup, not-used,
// not-expired, digest match, signature match, atomic mark-used. On success
// it returns the challenge so the caller can place the signature against
// its step index without a second lookup.
func (m *challengeManager) verify(
	ctx context.Context, in SigningResponseInput, session domain.SigningSession,
) (*domain.SigningChallenge, error) {
	challenge, err := m.repo.Challenges().Get(ctx, in.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("challenge not found: %w", err)
	}
	if challenge.SessionID != session.SessionID {
		return nil, fmt.Errorf("challenge %s does not belong to session %s", in.ChallengeID, session.SessionID)
	}
	now := time.Now().Unix()
	if !challenge.IsRedeemable(now) {
		return nil, fmt.Errorf("challenge %s is used or expired", in.ChallengeID)
	}
	expectedRef := digestPayloadRef(challenge.SessionID, challenge.StepIndex, challenge.ChallengeData)
	if expectedRef != in.PayloadRef {
		return nil, fmt.Errorf("payload_ref mismatch for challenge %s", in.ChallengeID)
	}

	pubkey, err := schnorr.ParsePubKey(mustHexDecode(session.UserPubkey))
	if err != nil {
		return nil, fmt.Errorf("invalid user pubkey: %w", err)
	}
	sig, err := schnorr.ParseSignature(in.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	digest := sha256.Sum256(challenge.ChallengeData)
	if !sig.Verify(digest[:], pubkey) {
		return nil, fmt.Errorf("signature verification failed for challenge %s", in.ChallengeID)
	}

	// MarkUsed is the atomic compare-and-swap: concurrent duplicate
	// responses see at most one winner.
	if err := m.repo.Challenges().MarkUsed(ctx, challenge.ChallengeID, in.Signature); err != nil {
		return nil, fmt.Errorf("mark challenge used: %w", err)
	}
	return challenge, nil
}

func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
