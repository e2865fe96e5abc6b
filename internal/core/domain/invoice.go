package domain

import (
	"context"
	"fmt"
)

type InvoiceType string

const (
	InvoiceTypeLift InvoiceType = "lift" // on-ramp: Lightning -> L2 VTXO
	InvoiceTypeLand InvoiceType = "land" // off-ramp: L2 VTXO -> Lightning
)

type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusSettled InvoiceStatus = "settled"
	InvoiceStatusFailed  InvoiceStatus = "failed"
	InvoiceStatusExpired InvoiceStatus = "expired"
)

// LightningInvoice is a Lightning-layer claim bound to a signing session for
// the duration of either an on-ramp or off-ramp.
type LightningInvoice struct {
	PaymentHash   string
	Bolt11Invoice string
	SessionID     string
	AmountSats    uint64
	AssetID       string
	Status        InvoiceStatus
	Type          InvoiceType
	CreatedAt     int64
	InvoiceExpiresAt int64
}

func (i LightningInvoice) Validate() error {
	if len(i.PaymentHash) == 0 {
		return fmt.Errorf("missing payment hash")
	}
	if len(i.Bolt11Invoice) == 0 {
		return fmt.Errorf("missing bolt11 invoice")
	}
	switch i.Type {
	case InvoiceTypeLift, InvoiceTypeLand:
	default:
		return fmt.Errorf("invalid invoice type %q", i.Type)
	}
	return nil
}

func (i LightningInvoice) IsExpired(now int64) bool {
	return now > i.InvoiceExpiresAt
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice LightningInvoice) error
	Get(ctx context.Context, paymentHash string) (*LightningInvoice, error)
	GetBySession(ctx context.Context, sessionID string) (*LightningInvoice, error)

	// SetSettled transitions pending -> settled; must be idempotent so a
	// duplicate settlement signal from the Lightning daemon is a no-op on
	// the second delivery rather than an error.
	SetSettled(ctx context.Context, paymentHash string) error
	SetFailed(ctx context.Context, paymentHash string) error

	ListExpirable(ctx context.Context, now int64, limit int) ([]LightningInvoice, error)
	ExpirePending(ctx context.Context, paymentHashes []string) error

	Close()
}
