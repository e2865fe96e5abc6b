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

const (
	assetStoreDir   = "assets"
	balanceStoreDir = "asset_balances"
)

type assetRepository struct {
	assets   *badgerhold.Store
	balances *badgerhold.Store
}

type balanceKey struct {
	UserPubkey string
	AssetID    string
}

func (k balanceKey) String() string {
	return k.UserPubkey + "|" + k.AssetID
}

func NewAssetRepository(config ...interface{}) (domain.AssetRepository, error) {
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

	var assetsDir, balancesDir string
	if len(baseDir) > 0 {
		assetsDir = filepath.Join(baseDir, assetStoreDir)
		balancesDir = filepath.Join(baseDir, balanceStoreDir)
	}
	assets, err := createDB(assetsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset store: %s", err)
	}
	balances, err := createDB(balancesDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset balance store: %s", err)
	}

	return &assetRepository{assets, balances}, nil
}

func (r *assetRepository) Close() {
	// nolint:all
	r.assets.Close()
	// nolint:all
	r.balances.Close()
}

func (r *assetRepository) Create(ctx context.Context, asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	return r.insertWithRetry(r.assets, asset.AssetID, asset)
}

func (r *assetRepository) Get(ctx context.Context, assetID string) (*domain.Asset, error) {
	var asset domain.Asset
	if err := r.assets.Get(assetID, &asset); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("asset %s not found", assetID)
		}
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) List(ctx context.Context, activeOnly bool) ([]domain.Asset, error) {
	var assets []domain.Asset
	query := &badgerhold.Query{}
	if activeOnly {
		query = badgerhold.Where("IsActive").Eq(true)
	}
	if err := r.assets.Find(&assets, query); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *assetRepository) AddToSupply(ctx context.Context, assetID string, delta int64) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var asset domain.Asset
		if err = r.assets.Get(assetID, &asset); err != nil {
			return err
		}
		newSupply := int64(asset.TotalSupply) + delta
		if newSupply < 0 {
			return fmt.Errorf("asset %s: total supply would go negative", assetID)
		}
		asset.TotalSupply = uint64(newSupply)
		if err = r.assets.Update(assetID, asset); err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (r *assetRepository) GetBalance(
	ctx context.Context, userPubkey, assetID string,
) (*domain.AssetBalance, error) {
	key := balanceKey{userPubkey, assetID}
	var balance domain.AssetBalance
	if err := r.balances.Get(key.String(), &balance); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &domain.AssetBalance{UserPubkey: userPubkey, AssetID: assetID}, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (r *assetRepository) ListBalances(
	ctx context.Context, userPubkey string,
) ([]domain.AssetBalance, error) {
	var balances []domain.AssetBalance
	query := badgerhold.Where("UserPubkey").Eq(userPubkey)
	if err := r.balances.Find(&balances, query); err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *assetRepository) Mint(
	ctx context.Context, userPubkey, assetID string, amount uint64,
) error {
	if err := r.mutateBalance(userPubkey, assetID, func(b *domain.AssetBalance) error {
		b.Balance += amount
		return nil
	}); err != nil {
		return err
	}
	return r.AddToSupply(ctx, assetID, int64(amount))
}

func (r *assetRepository) Transfer(
	ctx context.Context, senderPubkey, recipientPubkey, assetID string, amount uint64,
) error {
	if err := r.mutateBalance(senderPubkey, assetID, func(b *domain.AssetBalance) error {
		if b.Spendable() < amount {
			return fmt.Errorf("insufficient spendable balance for %s/%s", senderPubkey, assetID)
		}
		b.Balance -= amount
		return nil
	}); err != nil {
		return err
	}
	return r.mutateBalance(recipientPubkey, assetID, func(b *domain.AssetBalance) error {
		b.Balance += amount
		return nil
	})
}

func (r *assetRepository) AdjustReserved(
	ctx context.Context, userPubkey, assetID string, delta int64,
) error {
	return r.mutateBalance(userPubkey, assetID, func(b *domain.AssetBalance) error {
		newReserved := int64(b.ReservedBalance) + delta
		if newReserved < 0 || uint64(newReserved) > b.Balance {
			return fmt.Errorf("invalid reserved balance adjustment for %s/%s", userPubkey, assetID)
		}
		b.ReservedBalance = uint64(newReserved)
		return nil
	})
}

func (r *assetRepository) AdjustBalance(
	ctx context.Context, userPubkey, assetID string, delta int64,
) error {
	return r.mutateBalance(userPubkey, assetID, func(b *domain.AssetBalance) error {
		newBalance := int64(b.Balance) + delta
		if newBalance < int64(b.ReservedBalance) {
			return fmt.Errorf("balance would fall below reserved for %s/%s", userPubkey, assetID)
		}
		b.Balance = uint64(newBalance)
		return nil
	})
}

func (r *assetRepository) mutateBalance(
	userPubkey, assetID string, mutate func(*domain.AssetBalance) error,
) error {
	key := balanceKey{userPubkey, assetID}
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var balance domain.AssetBalance
		getErr := r.balances.Get(key.String(), &balance)
		if getErr != nil {
			if !errors.Is(getErr, badgerhold.ErrNotFound) {
				return getErr
			}
			balance = domain.AssetBalance{UserPubkey: userPubkey, AssetID: assetID}
		}
		if err = mutate(&balance); err != nil {
			return err
		}
		if err = balance.Validate(); err != nil {
			return err
		}
		if getErr != nil {
			err = r.balances.Insert(key.String(), balance)
		} else {
			err = r.balances.Update(key.String(), balance)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (r *assetRepository) insertWithRetry(store *badgerhold.Store, key string, value interface{}) error {
	err := store.Insert(key, value)
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = store.Insert(key, value)
		attempts++
	}
	return err
}
