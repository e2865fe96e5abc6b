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

const transactionStoreDir = "transactions"

type transactionRepository struct {
	store *badgerhold.Store
}

func NewTransactionRepository(config ...interface{}) (domain.TransactionRepository, error) {
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
		dir = filepath.Join(baseDir, transactionStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %s", err)
	}
	return &transactionRepository{store}, nil
}

func (r *transactionRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *transactionRepository) Create(ctx context.Context, tx domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return r.store.Insert(tx.Txid, tx)
}

func (r *transactionRepository) Get(ctx context.Context, txid string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := r.store.Get(txid, &tx); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("transaction %s not found", txid)
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetBySession(
	ctx context.Context, sessionID string,
) (*domain.Transaction, error) {
	query := badgerhold.Where("SessionID").Eq(sessionID)
	var txs []domain.Transaction
	if err := r.store.Find(&txs, query); err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("no transaction found for session %s", sessionID)
	}
	return &txs[0], nil
}

func (r *transactionRepository) SetStatus(
	ctx context.Context, txid string, status domain.TransactionStatus,
) error {
	return r.mutate(txid, func(tx *domain.Transaction) error {
		tx.Status = status
		return nil
	})
}

func (r *transactionRepository) SetConfirmations(ctx context.Context, txid string, confirmations int32) error {
	return r.mutate(txid, func(tx *domain.Transaction) error {
		tx.Confirmations = confirmations
		return nil
	})
}

func (r *transactionRepository) ListByStatus(
	ctx context.Context, status domain.TransactionStatus, limit int,
) ([]domain.Transaction, error) {
	query := badgerhold.Where("Status").Eq(status)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var txs []domain.Transaction
	err := r.store.Find(&txs, query)
	return txs, err
}

func (r *transactionRepository) mutate(txid string, fn func(*domain.Transaction) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		tx, gerr := r.Get(context.Background(), txid)
		if gerr != nil {
			return gerr
		}
		if err = fn(tx); err != nil {
			return err
		}
		if err = r.store.Update(txid, *tx); err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}
