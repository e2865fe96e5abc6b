package pgdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
)

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(config ...interface{}) (domain.TransactionRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open transaction repository: invalid config")
	}
	return &transactionRepository{db: db}, nil
}

func (r *transactionRepository) Close() {
	_ = r.db.Close()
}

func (r *transactionRepository) Create(ctx context.Context, tx domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (
			txid, session_id, type, raw_tx, status, amount_sats, fee_sats, confirmations, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tx.Txid, nullString(tx.SessionID), tx.Type, tx.RawTx, tx.Status,
		int64(tx.AmountSats), int64(tx.FeeSats), tx.Confirmations, tx.CreatedAt,
	)
	return err
}

const transactionSelectColumns = `
	SELECT txid, COALESCE(session_id, ''), type, raw_tx, status, amount_sats, fee_sats, confirmations, created_at`

func (r *transactionRepository) Get(ctx context.Context, txid string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, transactionSelectColumns+` FROM transactions WHERE txid = $1`, txid)
	return scanTransaction(row)
}

func (r *transactionRepository) GetBySession(
	ctx context.Context, sessionID string,
) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		transactionSelectColumns+` FROM transactions WHERE session_id = $1`, sessionID)
	return scanTransaction(row)
}

func (r *transactionRepository) SetStatus(
	ctx context.Context, txid string, status domain.TransactionStatus,
) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET status = $2 WHERE txid = $1`, txid, status)
	return err
}

func (r *transactionRepository) SetConfirmations(ctx context.Context, txid string, confirmations int32) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET confirmations = $2 WHERE txid = $1`, txid, confirmations)
	return err
}

func (r *transactionRepository) ListByStatus(
	ctx context.Context, status domain.TransactionStatus, limit int,
) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		transactionSelectColumns+` FROM transactions WHERE status = $1 LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount, fee int64
	err := row.Scan(
		&t.Txid, &t.SessionID, &t.Type, &t.RawTx, &t.Status, &amount, &fee, &t.Confirmations, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction not found")
	}
	if err != nil {
		return nil, err
	}
	t.AmountSats, t.FeeSats = uint64(amount), uint64(fee)
	return &t, nil
}
