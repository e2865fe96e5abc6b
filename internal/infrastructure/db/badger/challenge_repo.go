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

const challengeStoreDir = "challenges"

type challengeRepository struct {
	store *badgerhold.Store
}

func NewChallengeRepository(config ...interface{}) (domain.ChallengeRepository, error) {
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
		dir = filepath.Join(baseDir, challengeStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open challenge store: %s", err)
	}
	return &challengeRepository{store}, nil
}

func (r *challengeRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *challengeRepository) Create(ctx context.Context, challenge domain.SigningChallenge) error {
	if err := challenge.Validate(); err != nil {
		return err
	}
	return r.store.Insert(challenge.ChallengeID, challenge)
}

func (r *challengeRepository) Get(ctx context.Context, challengeID string) (*domain.SigningChallenge, error) {
	var c domain.SigningChallenge
	if err := r.store.Get(challengeID, &c); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("challenge %s not found", challengeID)
		}
		return nil, err
	}
	return &c, nil
}

func (r *challengeRepository) GetBySession(
	ctx context.Context, sessionID string,
) (*domain.SigningChallenge, error) {
	query := badgerhold.Where("SessionID").Eq(sessionID).SortBy("CreatedAt").Reverse()
	var challenges []domain.SigningChallenge
	if err := r.store.Find(&challenges, query); err != nil {
		return nil, err
	}
	if len(challenges) == 0 {
		return nil, fmt.Errorf("no challenge found for session %s", sessionID)
	}
	return &challenges[0], nil
}

func (r *challengeRepository) MarkUsed(
	ctx context.Context, challengeID string, signature []byte,
) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		c, gerr := r.Get(ctx, challengeID)
		if gerr != nil {
			return gerr
		}
		if c.IsUsed {
			return fmt.Errorf("challenge %s already used", challengeID)
		}
		c.IsUsed = true
		c.Signature = signature
		if err = r.store.Update(challengeID, *c); err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (r *challengeRepository) ListExpirable(
	ctx context.Context, now int64, limit int,
) ([]domain.SigningChallenge, error) {
	query := badgerhold.Where("IsUsed").Eq(false).And("ExpiresAt").Lt(now)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var challenges []domain.SigningChallenge
	err := r.store.Find(&challenges, query)
	return challenges, err
}

func (r *challengeRepository) ExpireUnused(ctx context.Context, challengeIDs []string) error {
	for _, id := range challengeIDs {
		c, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.IsUsed {
			continue
		}
		c.IsUsed = true
		if err := r.store.Update(id, *c); err != nil {
			return err
		}
	}
	return nil
}
