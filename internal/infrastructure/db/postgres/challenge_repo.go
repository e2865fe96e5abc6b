package pgdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
)

type challengeRepository struct {
	db *sql.DB
}

func NewChallengeRepository(config ...interface{}) (domain.ChallengeRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open challenge repository: invalid config")
	}
	return &challengeRepository{db: db}, nil
}

func (r *challengeRepository) Close() {
	_ = r.db.Close()
}

func (r *challengeRepository) Create(ctx context.Context, challenge domain.SigningChallenge) error {
	if err := challenge.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signing_challenges (
			challenge_id, session_id, kind, challenge_data, payload_ref, context,
			step_index, step_total, expires_at, created_at, is_used, signature
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		challenge.ChallengeID, challenge.SessionID, challenge.Kind, challenge.ChallengeData,
		challenge.PayloadRef, challenge.Context, challenge.StepIndex, challenge.StepTotal,
		challenge.ExpiresAt, challenge.CreatedAt, challenge.IsUsed, challenge.Signature,
	)
	return err
}

const challengeSelectColumns = `
	SELECT challenge_id, session_id, kind, challenge_data, payload_ref, context,
	       step_index, step_total, expires_at, created_at, is_used, signature`

func (r *challengeRepository) Get(ctx context.Context, challengeID string) (*domain.SigningChallenge, error) {
	row := r.db.QueryRowContext(
		ctx, challengeSelectColumns+` FROM signing_challenges WHERE challenge_id = $1`, challengeID,
	)
	return scanChallenge(row)
}

func (r *challengeRepository) GetBySession(
	ctx context.Context, sessionID string,
) (*domain.SigningChallenge, error) {
	row := r.db.QueryRowContext(ctx, challengeSelectColumns+`
		FROM signing_challenges WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID)
	return scanChallenge(row)
}

func (r *challengeRepository) MarkUsed(ctx context.Context, challengeID string, signature []byte) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE signing_challenges SET is_used = TRUE, signature = $2
		WHERE challenge_id = $1 AND is_used = FALSE`, challengeID, signature)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("challenge %s already used or not found", challengeID)
	}
	return nil
}

func (r *challengeRepository) ListExpirable(
	ctx context.Context, now int64, limit int,
) ([]domain.SigningChallenge, error) {
	rows, err := r.db.QueryContext(ctx, challengeSelectColumns+`
		FROM signing_challenges WHERE is_used = FALSE AND expires_at < $1 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var challenges []domain.SigningChallenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, *c)
	}
	return challenges, rows.Err()
}

func (r *challengeRepository) ExpireUnused(ctx context.Context, challengeIDs []string) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range challengeIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE signing_challenges SET is_used = TRUE WHERE challenge_id = $1 AND is_used = FALSE`,
				id); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanChallenge(row rowScanner) (*domain.SigningChallenge, error) {
	var c domain.SigningChallenge
	err := row.Scan(
		&c.ChallengeID, &c.SessionID, &c.Kind, &c.ChallengeData, &c.PayloadRef, &c.Context,
		&c.StepIndex, &c.StepTotal, &c.ExpiresAt, &c.CreatedAt, &c.IsUsed, &c.Signature,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("challenge not found")
	}
	return &c, err
}
