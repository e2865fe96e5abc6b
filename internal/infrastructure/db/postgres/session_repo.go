package pgdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
)

type sessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(config ...interface{}) (domain.SessionRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open session repository: invalid config")
	}
	return &sessionRepository{db: db}, nil
}

func (r *sessionRepository) Close() {
	_ = r.db.Close()
}

func (r *sessionRepository) Create(ctx context.Context, session domain.SigningSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	intentData, err := json.Marshal(session.IntentData)
	if err != nil {
		return err
	}
	resultData, err := json.Marshal(session.Result)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signing_sessions (
			session_id, user_pubkey, session_type, status, action_id, intent_data,
			context, challenge_id, expires_at, created_at, cancelled, result_data, signed_tx
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		session.SessionID, session.UserPubkey, session.SessionType, session.Status, session.ActionID,
		intentData, session.Context, nullString(session.ChallengeID), session.ExpiresAt, session.CreatedAt,
		session.Cancelled, resultData, session.SignedTx,
	)
	return err
}

const sessionSelectColumns = `
	SELECT session_id, user_pubkey, session_type, status, action_id, intent_data,
	       context, COALESCE(challenge_id, ''), expires_at, created_at, cancelled, result_data, signed_tx`

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*domain.SigningSession, error) {
	row := r.db.QueryRowContext(ctx, sessionSelectColumns+` FROM signing_sessions WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (r *sessionRepository) GetByActionID(
	ctx context.Context, userPubkey, actionID string,
) (*domain.SigningSession, error) {
	row := r.db.QueryRowContext(ctx,
		sessionSelectColumns+` FROM signing_sessions WHERE user_pubkey = $1 AND action_id = $2`,
		userPubkey, actionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *sessionRepository) TransitionStatus(
	ctx context.Context, sessionID string, expectedCurrent, next domain.SessionStatus,
) error {
	if !domain.CanTransition(expectedCurrent, next) {
		return fmt.Errorf("illegal transition %s -> %s", expectedCurrent, next)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE signing_sessions SET status = $3 WHERE session_id = $1 AND status = $2`,
		sessionID, expectedCurrent, next)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: not currently at status %s", sessionID, expectedCurrent)
	}
	return nil
}

func (r *sessionRepository) SetChallenge(ctx context.Context, sessionID, challengeID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signing_sessions SET challenge_id = $2 WHERE session_id = $1`, sessionID, challengeID)
	return err
}

func (r *sessionRepository) SetCancelled(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signing_sessions SET cancelled = TRUE WHERE session_id = $1`, sessionID)
	return err
}

func (r *sessionRepository) SaveResult(ctx context.Context, sessionID string, result domain.CeremonyState) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE signing_sessions SET result_data = $2 WHERE session_id = $1`, sessionID, data)
	return err
}

func (r *sessionRepository) SetSignedTx(ctx context.Context, sessionID, signedTx string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signing_sessions SET signed_tx = $2 WHERE session_id = $1`, sessionID, signedTx)
	return err
}

func (r *sessionRepository) ListExpirable(
	ctx context.Context, now int64, limit int,
) ([]domain.SigningSession, error) {
	rows, err := r.db.QueryContext(ctx, sessionSelectColumns+`
		FROM signing_sessions
		WHERE expires_at < $1 AND status NOT IN ($2, $3, $4) LIMIT $5`,
		now, domain.SessionStatusCompleted, domain.SessionStatusFailed, domain.SessionStatusExpired, limit)
	if err != nil {
		return nil, err
	}
	return scanSessionRows(rows)
}

func (r *sessionRepository) ListNonTerminalByUser(
	ctx context.Context, userPubkey string,
) ([]domain.SigningSession, error) {
	rows, err := r.db.QueryContext(ctx, sessionSelectColumns+`
		FROM signing_sessions
		WHERE user_pubkey = $1 AND status NOT IN ($2, $3, $4)`,
		userPubkey, domain.SessionStatusCompleted, domain.SessionStatusFailed, domain.SessionStatusExpired)
	if err != nil {
		return nil, err
	}
	return scanSessionRows(rows)
}

func (r *sessionRepository) CountNonTerminal(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signing_sessions WHERE status NOT IN ($1, $2, $3)`,
		domain.SessionStatusCompleted, domain.SessionStatusFailed, domain.SessionStatusExpired).Scan(&count)
	return count, err
}

func scanSession(row rowScanner) (*domain.SigningSession, error) {
	var s domain.SigningSession
	var intentData, resultData []byte
	err := row.Scan(
		&s.SessionID, &s.UserPubkey, &s.SessionType, &s.Status, &s.ActionID, &intentData,
		&s.Context, &s.ChallengeID, &s.ExpiresAt, &s.CreatedAt, &s.Cancelled, &resultData, &s.SignedTx,
	)
	if err != nil {
		return nil, err
	}
	if len(intentData) > 0 {
		if err := json.Unmarshal(intentData, &s.IntentData); err != nil {
			return nil, err
		}
	}
	if len(resultData) > 0 {
		if err := json.Unmarshal(resultData, &s.Result); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func scanSessionRows(rows *sql.Rows) ([]domain.SigningSession, error) {
	defer rows.Close()
	var sessions []domain.SigningSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
