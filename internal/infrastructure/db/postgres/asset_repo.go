package pgdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
)

type assetRepository struct {
	db *sql.DB
}

func NewAssetRepository(config ...interface{}) (domain.AssetRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open asset repository: invalid config")
	}
	return &assetRepository{db: db}, nil
}

func (r *assetRepository) Close() {
	_ = r.db.Close()
}

func (r *assetRepository) Create(ctx context.Context, asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (asset_id, name, ticker, type, decimals, total_supply, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		asset.AssetID, asset.Name, asset.Ticker, asset.Type, asset.Decimals,
		int64(asset.TotalSupply), asset.IsActive, asset.CreatedAt,
	)
	return err
}

func (r *assetRepository) Get(ctx context.Context, assetID string) (*domain.Asset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT asset_id, name, ticker, type, decimals, total_supply, is_active, created_at
		FROM assets WHERE asset_id = $1`, assetID)
	return scanAsset(row)
}

func (r *assetRepository) List(ctx context.Context, activeOnly bool) ([]domain.Asset, error) {
	query := `SELECT asset_id, name, ticker, type, decimals, total_supply, is_active, created_at FROM assets`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAssetRow(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

func (r *assetRepository) AddToSupply(ctx context.Context, assetID string, delta int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE assets SET total_supply = total_supply + $2
		WHERE asset_id = $1 AND total_supply + $2 >= 0`, assetID, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("asset %s: total supply would go negative", assetID)
	}
	return nil
}

func (r *assetRepository) GetBalance(
	ctx context.Context, userPubkey, assetID string,
) (*domain.AssetBalance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_pubkey, asset_id, balance, reserved_balance
		FROM asset_balances WHERE user_pubkey = $1 AND asset_id = $2`, userPubkey, assetID)

	var b domain.AssetBalance
	var balance, reserved int64
	err := row.Scan(&b.UserPubkey, &b.AssetID, &balance, &reserved)
	if err == sql.ErrNoRows {
		return &domain.AssetBalance{UserPubkey: userPubkey, AssetID: assetID}, nil
	}
	if err != nil {
		return nil, err
	}
	b.Balance, b.ReservedBalance = uint64(balance), uint64(reserved)
	return &b, nil
}

func (r *assetRepository) ListBalances(ctx context.Context, userPubkey string) ([]domain.AssetBalance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_pubkey, asset_id, balance, reserved_balance
		FROM asset_balances WHERE user_pubkey = $1`, userPubkey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []domain.AssetBalance
	for rows.Next() {
		var b domain.AssetBalance
		var balance, reserved int64
		if err := rows.Scan(&b.UserPubkey, &b.AssetID, &balance, &reserved); err != nil {
			return nil, err
		}
		b.Balance, b.ReservedBalance = uint64(balance), uint64(reserved)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *assetRepository) Mint(ctx context.Context, userPubkey, assetID string, amount uint64) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := upsertBalanceDelta(ctx, tx, userPubkey, assetID, int64(amount), 0); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE assets SET total_supply = total_supply + $2 WHERE asset_id = $1`, assetID, int64(amount))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("asset %s not found", assetID)
		}
		return nil
	})
}

func (r *assetRepository) Transfer(
	ctx context.Context, senderPubkey, recipientPubkey, assetID string, amount uint64,
) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE asset_balances SET balance = balance - $3
			WHERE user_pubkey = $1 AND asset_id = $2 AND balance - reserved_balance >= $3`,
			senderPubkey, assetID, int64(amount))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("insufficient spendable balance for %s/%s", senderPubkey, assetID)
		}
		return upsertBalanceDelta(ctx, tx, recipientPubkey, assetID, int64(amount), 0)
	})
}

func (r *assetRepository) AdjustReserved(
	ctx context.Context, userPubkey, assetID string, delta int64,
) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		return upsertBalanceDelta(ctx, tx, userPubkey, assetID, 0, delta)
	})
}

func (r *assetRepository) AdjustBalance(
	ctx context.Context, userPubkey, assetID string, delta int64,
) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		return upsertBalanceDelta(ctx, tx, userPubkey, assetID, delta, 0)
	})
}

// upsertBalanceDelta inserts a zero balance row if missing, then applies the
// given deltas while enforcing balance >= reserved_balance >= 0.
func upsertBalanceDelta(
	ctx context.Context, tx *sql.Tx, userPubkey, assetID string, balanceDelta, reservedDelta int64,
) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO asset_balances (user_pubkey, asset_id, balance, reserved_balance)
		VALUES ($1, $2, 0, 0) ON CONFLICT (user_pubkey, asset_id) DO NOTHING`,
		userPubkey, assetID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE asset_balances
		SET balance = balance + $3, reserved_balance = reserved_balance + $4
		WHERE user_pubkey = $1 AND asset_id = $2
		  AND balance + $3 >= reserved_balance + $4 AND reserved_balance + $4 >= 0`,
		userPubkey, assetID, balanceDelta, reservedDelta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invariant violated adjusting balance for %s/%s", userPubkey, assetID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row *sql.Row) (*domain.Asset, error) {
	return scanAssetRow(row)
}

func scanAssetRow(row rowScanner) (*domain.Asset, error) {
	var a domain.Asset
	var totalSupply int64
	err := row.Scan(
		&a.AssetID, &a.Name, &a.Ticker, &a.Type, &a.Decimals, &totalSupply, &a.IsActive, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("asset not found")
	}
	if err != nil {
		return nil, err
	}
	a.TotalSupply = uint64(totalSupply)
	return &a, nil
}
