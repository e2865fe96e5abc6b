package application

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/ark-relay/gateway/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// sessionManager is the sole mutator of SigningSession state (§4.5). Every
// other component requests a transition and gets back success or failure;
// none of them write session rows directly.
type sessionManager struct {
	repo  ports.RepoManager
	cache ports.LiveStore
}

func newSessionManager(repo ports.RepoManager, cache ports.LiveStore) *sessionManager {
	return &sessionManager{repo: repo, cache: cache}
}

// deriveSessionID mirrors the original service's session id derivation:
// sha256(user_pubkey|session_type|canonical_json(intent_data)). Deterministic
// derivation means replaying the same intent always resolves to the same
// session id, which is how the (author, action_id) idempotency law holds
// even if the caller never looked up the session first.
func deriveSessionID(userPubkey string, sessionType domain.SessionType, intentData map[string]any) (string, error) {
	canonical, err := canonicalJSON(intentData)
	if err != nil {
		return "", fmt.Errorf("canonicalize intent data: %w", err)
	}
	sum := sha256.Sum256([]byte(userPubkey + "|" + string(sessionType) + "|" + canonical))
	return fmt.Sprintf("%x", sum), nil
}

// canonicalJSON re-marshals via a sorted-key map so semantically identical
// intents always produce byte-identical output regardless of field order.
func canonicalJSON(v map[string]any) (string, error) {
	normalized, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic map[string]any
	if err := json.Unmarshal(normalized, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// getOrCreate implements the idempotency law for intents: at most one
// session exists per (author, action_id); replaying the intent returns the
// existing session rather than creating a duplicate.
func (m *sessionManager) getOrCreate(
	ctx context.Context, userPubkey string, sessionType domain.SessionType,
	actionID string, intentData map[string]any, contextStr string, expiresAt int64,
) (*domain.SigningSession, bool, error) {
	if existing, err := m.repo.Sessions().GetByActionID(ctx, userPubkey, actionID); err == nil && existing != nil {
		return existing, false, nil
	}

	derivationData := make(map[string]any, len(intentData)+1)
	for k, v := range intentData {
		derivationData[k] = v
	}
	derivationData["action_id"] = actionID
	sessionID, err := deriveSessionID(userPubkey, sessionType, derivationData)
	if err != nil {
		return nil, false, err
	}
	if existing, err := m.repo.Sessions().Get(ctx, sessionID); err == nil && existing != nil {
		return existing, false, nil
	}

	session := domain.SigningSession{
		SessionID:   sessionID,
		UserPubkey:  userPubkey,
		SessionType: sessionType,
		Status:      domain.SessionStatusInitiated,
		ActionID:    actionID,
		IntentData:  intentData,
		Context:     contextStr,
		ExpiresAt:   expiresAt,
	}
	if err := m.repo.Sessions().Create(ctx, session); err != nil {
		return nil, false, err
	}
	return &session, true, nil
}

// transition normalizes aliases, checks the §4.5 graph, and persists the
// change through a compare-and-swap so concurrent callers race safely.
func (m *sessionManager) transition(
	ctx context.Context, sessionID string, from, to domain.SessionStatus,
) error {
	from = domain.CanonicalSessionStatus(string(from))
	to = domain.CanonicalSessionStatus(string(to))
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("illegal session transition %s -> %s", from, to)
	}
	if err := m.repo.Sessions().TransitionStatus(ctx, sessionID, from, to); err != nil {
		return err
	}
	if err := m.cache.Sessions().Invalidate(ctx, sessionID); err != nil {
		log.WithError(err).WithField("session_id", sessionID).Warn("failed to invalidate session cache")
	}
	return nil
}

// fail moves a non-terminal session to failed and records why, so the
// sweeper and the failure-notice publisher can read a stable reason later.
func (m *sessionManager) fail(ctx context.Context, session domain.SigningSession, kind domain.FailureKind, msg string) error {
	if session.Status.IsTerminal() {
		return nil
	}
	if err := m.transition(ctx, session.SessionID, session.Status, domain.SessionStatusFailed); err != nil {
		return err
	}
	session.Result.FailureKind = kind
	session.Result.FailureMessage = msg
	return m.repo.Sessions().SaveResult(ctx, session.SessionID, session.Result)
}

func (m *sessionManager) cancel(ctx context.Context, sessionID string) errors.Error {
	session, err := m.repo.Sessions().Get(ctx, sessionID)
	if err != nil {
		return errors.ValidationFailed.New("session not found: %s", sessionID)
	}
	if session.Status.IsTerminal() {
		return errors.Cancelled.New("session %s already terminal", sessionID)
	}
	if err := m.repo.Sessions().SetCancelled(ctx, sessionID); err != nil {
		return errors.InternalError.Wrap(err)
	}
	if err := m.fail(ctx, *session, domain.FailureKindCancelled, "cancelled by caller"); err != nil {
		return errors.InternalError.Wrap(err)
	}
	log.WithField("session_id", sessionID).Info("session cancelled")
	return nil
}
