package pgdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
)

type invoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(config ...interface{}) (domain.InvoiceRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open invoice repository: invalid config")
	}
	return &invoiceRepository{db: db}, nil
}

func (r *invoiceRepository) Close() {
	_ = r.db.Close()
}

func (r *invoiceRepository) Create(ctx context.Context, invoice domain.LightningInvoice) error {
	if err := invoice.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lightning_invoices (
			payment_hash, bolt11_invoice, session_id, amount_sats, asset_id,
			status, invoice_type, created_at, invoice_expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		invoice.PaymentHash, invoice.Bolt11Invoice, nullString(invoice.SessionID), int64(invoice.AmountSats),
		invoice.AssetID, invoice.Status, invoice.Type, invoice.CreatedAt, invoice.InvoiceExpiresAt,
	)
	return err
}

const invoiceSelectColumns = `
	SELECT payment_hash, bolt11_invoice, COALESCE(session_id, ''), amount_sats, asset_id,
	       status, invoice_type, created_at, invoice_expires_at`

func (r *invoiceRepository) Get(ctx context.Context, paymentHash string) (*domain.LightningInvoice, error) {
	row := r.db.QueryRowContext(
		ctx, invoiceSelectColumns+` FROM lightning_invoices WHERE payment_hash = $1`, paymentHash,
	)
	return scanInvoice(row)
}

func (r *invoiceRepository) GetBySession(
	ctx context.Context, sessionID string,
) (*domain.LightningInvoice, error) {
	row := r.db.QueryRowContext(ctx,
		invoiceSelectColumns+` FROM lightning_invoices WHERE session_id = $1`, sessionID)
	return scanInvoice(row)
}

func (r *invoiceRepository) SetSettled(ctx context.Context, paymentHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lightning_invoices SET status = $2
		WHERE payment_hash = $1 AND status != $2`, paymentHash, domain.InvoiceStatusSettled)
	return err
}

func (r *invoiceRepository) SetFailed(ctx context.Context, paymentHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE lightning_invoices SET status = $2 WHERE payment_hash = $1`,
		paymentHash, domain.InvoiceStatusFailed)
	return err
}

func (r *invoiceRepository) ListExpirable(
	ctx context.Context, now int64, limit int,
) ([]domain.LightningInvoice, error) {
	rows, err := r.db.QueryContext(ctx, invoiceSelectColumns+`
		FROM lightning_invoices WHERE status = $1 AND invoice_expires_at < $2 LIMIT $3`,
		domain.InvoiceStatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.LightningInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (r *invoiceRepository) ExpirePending(ctx context.Context, paymentHashes []string) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, hash := range paymentHashes {
			if _, err := tx.ExecContext(ctx, `
				UPDATE lightning_invoices SET status = $2 WHERE payment_hash = $1 AND status = $3`,
				hash, domain.InvoiceStatusExpired, domain.InvoiceStatusPending); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanInvoice(row rowScanner) (*domain.LightningInvoice, error) {
	var inv domain.LightningInvoice
	var amount int64
	err := row.Scan(
		&inv.PaymentHash, &inv.Bolt11Invoice, &inv.SessionID, &amount, &inv.AssetID,
		&inv.Status, &inv.Type, &inv.CreatedAt, &inv.InvoiceExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice not found")
	}
	if err != nil {
		return nil, err
	}
	inv.AmountSats = uint64(amount)
	return &inv, nil
}
