package domain

import (
	"context"
	"fmt"
)

type TransactionType string

const (
	TransactionTypeP2PTransfer    TransactionType = "p2p_transfer"
	TransactionTypeLightningLand  TransactionType = "lightning_land"
	TransactionTypeL1Commitment   TransactionType = "l1_commitment"
)

type TransactionStatus string

const (
	TransactionStatusPrepared  TransactionStatus = "prepared"
	TransactionStatusBroadcast TransactionStatus = "broadcast"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is a produced/broadcast L2 (or, for l1_commitment, L1) record.
type Transaction struct {
	Txid       string
	SessionID  string // empty for l1_commitment batches
	Type       TransactionType
	RawTx      []byte
	Status     TransactionStatus
	AmountSats uint64
	FeeSats    uint64
	CreatedAt  int64
	Confirmations int32
}

func (t Transaction) Validate() error {
	if len(t.Txid) == 0 {
		return fmt.Errorf("missing txid")
	}
	switch t.Type {
	case TransactionTypeP2PTransfer, TransactionTypeLightningLand, TransactionTypeL1Commitment:
	default:
		return fmt.Errorf("invalid transaction type %q", t.Type)
	}
	return nil
}

type TransactionRepository interface {
	Create(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, txid string) (*Transaction, error)
	GetBySession(ctx context.Context, sessionID string) (*Transaction, error)

	// SetStatus performs a status transition; implementations enforce the
	// prepared -> broadcast -> confirmed progression (or -> failed from any
	// non-terminal state).
	SetStatus(ctx context.Context, txid string, status TransactionStatus) error
	SetConfirmations(ctx context.Context, txid string, confirmations int32) error

	ListByStatus(ctx context.Context, status TransactionStatus, limit int) ([]Transaction, error)

	Close()
}
