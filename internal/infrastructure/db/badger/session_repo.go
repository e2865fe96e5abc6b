package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const sessionStoreDir = "sessions"

type sessionRepository struct {
	store *badgerhold.Store
}

func NewSessionRepository(config ...interface{}) (domain.SessionRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, sessionStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %s", err)
	}
	return &sessionRepository{store}, nil
}

func (r *sessionRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *sessionRepository) Create(ctx context.Context, session domain.SigningSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	err := r.store.Insert(session.SessionID, session)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("session %s already exists", session.SessionID)
	}
	return err
}

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*domain.SigningSession, error) {
	var s domain.SigningSession
	if err := r.store.Get(sessionID, &s); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) GetByActionID(
	ctx context.Context, userPubkey, actionID string,
) (*domain.SigningSession, error) {
	query := badgerhold.Where("UserPubkey").Eq(userPubkey).And("ActionID").Eq(actionID)
	var sessions []domain.SigningSession
	if err := r.store.Find(&sessions, query); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

func (r *sessionRepository) TransitionStatus(
	ctx context.Context, sessionID string, expectedCurrent, next domain.SessionStatus,
) error {
	if !domain.CanTransition(expectedCurrent, next) {
		return fmt.Errorf("illegal transition %s -> %s", expectedCurrent, next)
	}
	return r.mutate(sessionID, func(s *domain.SigningSession) error {
		if s.Status != expectedCurrent {
			return fmt.Errorf("session %s: expected status %s, got %s", sessionID, expectedCurrent, s.Status)
		}
		s.Status = next
		return nil
	})
}

func (r *sessionRepository) SetChallenge(ctx context.Context, sessionID, challengeID string) error {
	return r.mutate(sessionID, func(s *domain.SigningSession) error {
		s.ChallengeID = challengeID
		return nil
	})
}

func (r *sessionRepository) SetCancelled(ctx context.Context, sessionID string) error {
	return r.mutate(sessionID, func(s *domain.SigningSession) error {
		s.Cancelled = true
		return nil
	})
}

func (r *sessionRepository) SaveResult(
	ctx context.Context, sessionID string, result domain.CeremonyState,
) error {
	return r.mutate(sessionID, func(s *domain.SigningSession) error {
		s.Result = result
		return nil
	})
}

func (r *sessionRepository) SetSignedTx(ctx context.Context, sessionID, signedTx string) error {
	return r.mutate(sessionID, func(s *domain.SigningSession) error {
		s.SignedTx = signedTx
		return nil
	})
}

func (r *sessionRepository) ListExpirable(
	ctx context.Context, now int64, limit int,
) ([]domain.SigningSession, error) {
	query := badgerhold.Where("ExpiresAt").Lt(now).
		And("Status").Ne(domain.SessionStatusCompleted).
		And("Status").Ne(domain.SessionStatusFailed).
		And("Status").Ne(domain.SessionStatusExpired)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var sessions []domain.SigningSession
	err := r.store.Find(&sessions, query)
	return sessions, err
}

func (r *sessionRepository) ListNonTerminalByUser(
	ctx context.Context, userPubkey string,
) ([]domain.SigningSession, error) {
	query := badgerhold.Where("UserPubkey").Eq(userPubkey).
		And("Status").Ne(domain.SessionStatusCompleted).
		And("Status").Ne(domain.SessionStatusFailed).
		And("Status").Ne(domain.SessionStatusExpired)
	var sessions []domain.SigningSession
	err := r.store.Find(&sessions, query)
	return sessions, err
}

func (r *sessionRepository) CountNonTerminal(ctx context.Context) (int64, error) {
	query := badgerhold.Where("Status").Ne(domain.SessionStatusCompleted).
		And("Status").Ne(domain.SessionStatusFailed).
		And("Status").Ne(domain.SessionStatusExpired)
	n, err := r.store.Count(&domain.SigningSession{}, query)
	return int64(n), err
}

func (r *sessionRepository) mutate(sessionID string, fn func(*domain.SigningSession) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		s, gerr := r.Get(context.Background(), sessionID)
		if gerr != nil {
			return gerr
		}
		if err = fn(s); err != nil {
			return err
		}
		if err = r.store.Update(sessionID, *s); err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}
