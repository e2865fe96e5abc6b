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

const invoiceStoreDir = "invoices"

type invoiceRepository struct {
	store *badgerhold.Store
}

func NewInvoiceRepository(config ...interface{}) (domain.InvoiceRepository, error) {
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
		dir = filepath.Join(baseDir, invoiceStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open invoice store: %s", err)
	}
	return &invoiceRepository{store}, nil
}

func (r *invoiceRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *invoiceRepository) Create(ctx context.Context, invoice domain.LightningInvoice) error {
	if err := invoice.Validate(); err != nil {
		return err
	}
	return r.store.Insert(invoice.PaymentHash, invoice)
}

func (r *invoiceRepository) Get(ctx context.Context, paymentHash string) (*domain.LightningInvoice, error) {
	var inv domain.LightningInvoice
	if err := r.store.Get(paymentHash, &inv); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("invoice %s not found", paymentHash)
		}
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) GetBySession(
	ctx context.Context, sessionID string,
) (*domain.LightningInvoice, error) {
	query := badgerhold.Where("SessionID").Eq(sessionID)
	var invoices []domain.LightningInvoice
	if err := r.store.Find(&invoices, query); err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, fmt.Errorf("no invoice found for session %s", sessionID)
	}
	return &invoices[0], nil
}

func (r *invoiceRepository) SetSettled(ctx context.Context, paymentHash string) error {
	return r.mutate(paymentHash, func(inv *domain.LightningInvoice) error {
		if inv.Status == domain.InvoiceStatusSettled {
			return nil
		}
		inv.Status = domain.InvoiceStatusSettled
		return nil
	})
}

func (r *invoiceRepository) SetFailed(ctx context.Context, paymentHash string) error {
	return r.mutate(paymentHash, func(inv *domain.LightningInvoice) error {
		inv.Status = domain.InvoiceStatusFailed
		return nil
	})
}

func (r *invoiceRepository) ListExpirable(
	ctx context.Context, now int64, limit int,
) ([]domain.LightningInvoice, error) {
	query := badgerhold.Where("Status").Eq(domain.InvoiceStatusPending).
		And("InvoiceExpiresAt").Lt(now)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var invoices []domain.LightningInvoice
	err := r.store.Find(&invoices, query)
	return invoices, err
}

func (r *invoiceRepository) ExpirePending(ctx context.Context, paymentHashes []string) error {
	for _, hash := range paymentHashes {
		if err := r.mutate(hash, func(inv *domain.LightningInvoice) error {
			if inv.Status != domain.InvoiceStatusPending {
				return nil
			}
			inv.Status = domain.InvoiceStatusExpired
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *invoiceRepository) mutate(
	paymentHash string, fn func(*domain.LightningInvoice) error,
) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		inv, gerr := r.Get(context.Background(), paymentHash)
		if gerr != nil {
			return gerr
		}
		if err = fn(inv); err != nil {
			return err
		}
		if err = r.store.Update(paymentHash, *inv); err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}
