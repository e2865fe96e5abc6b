package pgdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
)

type vtxoRepository struct {
	db *sql.DB
}

func NewVtxoRepository(config ...interface{}) (domain.VtxoRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open vtxo repository: invalid config")
	}
	return &vtxoRepository{db: db}, nil
}

func (r *vtxoRepository) Close() {
	_ = r.db.Close()
}

func (r *vtxoRepository) AddBatch(ctx context.Context, vtxos []domain.Vtxo) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, v := range vtxos {
			if err := insertVtxo(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertVtxo(ctx context.Context, tx *sql.Tx, v domain.Vtxo) error {
	var userPubkey, spendingTxid interface{}
	if v.UserPubkey != "" {
		userPubkey = v.UserPubkey
	}
	if v.SpendingTxid != "" {
		spendingTxid = v.SpendingTxid
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vtxos (
			vtxo_id, txid, vout, amount_sats, script_pubkey, asset_id,
			user_pubkey, status, expires_at, spending_txid, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.VtxoID, v.Outpoint.Txid, v.Outpoint.VOut, int64(v.AmountSats), v.ScriptPubkey, v.AssetID,
		userPubkey, v.Status, v.ExpiresAt, spendingTxid, v.CreatedAt,
	)
	return err
}

func (r *vtxoRepository) Get(ctx context.Context, vtxoID string) (*domain.Vtxo, error) {
	row := r.db.QueryRowContext(ctx, vtxoSelectColumns+` FROM vtxos WHERE vtxo_id = $1`, vtxoID)
	return scanVtxo(row)
}

func (r *vtxoRepository) GetByOutpoint(ctx context.Context, op domain.Outpoint) (*domain.Vtxo, error) {
	row := r.db.QueryRowContext(
		ctx, vtxoSelectColumns+` FROM vtxos WHERE txid = $1 AND vout = $2`, op.Txid, op.VOut,
	)
	return scanVtxo(row)
}

func (r *vtxoRepository) ListByOwner(
	ctx context.Context, userPubkey, assetID string,
) ([]domain.Vtxo, error) {
	rows, err := r.db.QueryContext(ctx,
		vtxoSelectColumns+` FROM vtxos WHERE user_pubkey = $1 AND asset_id = $2`, userPubkey, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVtxoRows(rows)
}

func (r *vtxoRepository) CountAvailable(ctx context.Context, assetID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vtxos WHERE asset_id = $1 AND status = $2`,
		assetID, domain.VtxoStatusAvailable).Scan(&count)
	return count, err
}

func (r *vtxoRepository) Assign(
	ctx context.Context, userPubkey, assetID string, amountNeeded uint64,
) ([]domain.Vtxo, error) {
	var selected []domain.Vtxo
	err := execTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			vtxoSelectColumns+` FROM vtxos WHERE asset_id = $1 AND status = $2
			ORDER BY amount_sats ASC FOR UPDATE SKIP LOCKED`, assetID, domain.VtxoStatusAvailable)
		if err != nil {
			return err
		}
		candidates, err := scanVtxoRows(rows)
		if err != nil {
			return err
		}

		selected = selected[:0]
		var sum uint64
		for _, v := range candidates {
			selected = append(selected, v)
			sum += v.AmountSats
			if sum >= amountNeeded {
				break
			}
		}
		if sum < amountNeeded {
			return fmt.Errorf("insufficient_inventory: asset %s needs %d, available %d", assetID, amountNeeded, sum)
		}

		for i := range selected {
			if err := selected[i].TransitionTo(domain.VtxoStatusAssigned); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE vtxos SET status = $2, user_pubkey = $3 WHERE vtxo_id = $1 AND status = $4`,
				selected[i].VtxoID, domain.VtxoStatusAssigned, userPubkey, domain.VtxoStatusAvailable)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("vtxo %s concurrently reassigned", selected[i].VtxoID)
			}
			selected[i].Status = domain.VtxoStatusAssigned
			selected[i].UserPubkey = userPubkey
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

func (r *vtxoRepository) Spend(ctx context.Context, vtxoIDs []string, spendingTxid string) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range vtxoIDs {
			res, err := tx.ExecContext(ctx, `
				UPDATE vtxos SET status = $2, spending_txid = $3
				WHERE vtxo_id = $1 AND status = $4 AND user_pubkey IS NOT NULL`,
				id, domain.VtxoStatusSpent, spendingTxid, domain.VtxoStatusAssigned)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("vtxo %s: cannot spend (not assigned or concurrently modified)", id)
			}
		}
		return nil
	})
}

func (r *vtxoRepository) CreateOutputs(ctx context.Context, vtxos []domain.Vtxo) error {
	return r.AddBatch(ctx, vtxos)
}

func (r *vtxoRepository) ListExpirable(ctx context.Context, now int64, limit int) ([]domain.Vtxo, error) {
	rows, err := r.db.QueryContext(ctx,
		vtxoSelectColumns+` FROM vtxos WHERE status = $1 AND expires_at < $2 LIMIT $3`,
		domain.VtxoStatusAssigned, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVtxoRows(rows)
}

func (r *vtxoRepository) Expire(ctx context.Context, vtxoIDs []string) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range vtxoIDs {
			res, err := tx.ExecContext(ctx, `
				UPDATE vtxos SET status = $2 WHERE vtxo_id = $1 AND status = $3`,
				id, domain.VtxoStatusExpired, domain.VtxoStatusAssigned)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("vtxo %s: cannot expire (not assigned or concurrently modified)", id)
			}
		}
		return nil
	})
}

const vtxoSelectColumns = `
	SELECT vtxo_id, txid, vout, amount_sats, script_pubkey, asset_id,
	       COALESCE(user_pubkey, ''), status, expires_at, COALESCE(spending_txid, ''), created_at`

func scanVtxo(row rowScanner) (*domain.Vtxo, error) {
	var v domain.Vtxo
	var amount int64
	err := row.Scan(
		&v.VtxoID, &v.Outpoint.Txid, &v.Outpoint.VOut, &amount, &v.ScriptPubkey, &v.AssetID,
		&v.UserPubkey, &v.Status, &v.ExpiresAt, &v.SpendingTxid, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vtxo not found")
	}
	if err != nil {
		return nil, err
	}
	v.AmountSats = uint64(amount)
	return &v, nil
}

func scanVtxoRows(rows *sql.Rows) ([]domain.Vtxo, error) {
	defer rows.Close()
	var vtxos []domain.Vtxo
	for rows.Next() {
		v, err := scanVtxo(rows)
		if err != nil {
			return nil, err
		}
		vtxos = append(vtxos, *v)
	}
	return vtxos, rows.Err()
}
