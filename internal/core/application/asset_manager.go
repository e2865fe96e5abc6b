package application

import (
	"context"
	"errors"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
)

var (
	errInvalidAmount      = errors.New("invalid amount: must be positive")
	errInsufficientBalance = errors.New("insufficient spendable balance")
)

// assetManager implements C11: registry and holdings operations over the
// Asset/AssetBalance tables. Nearly all of its logic already lives behind
// the repository's transactional Mint/Transfer/AdjustReserved methods; this
// type exists to give the Service interface a stable, narrow surface.
type assetManager struct {
	repo ports.RepoManager
}

func newAssetManager(repo ports.RepoManager) *assetManager {
	return &assetManager{repo: repo}
}

func (m *assetManager) create(ctx context.Context, asset domain.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	return m.repo.Assets().Create(ctx, asset)
}

func (m *assetManager) mint(ctx context.Context, userPubkey, assetID string, amount uint64) error {
	if amount == 0 {
		return errInvalidAmount
	}
	return m.repo.Assets().Mint(ctx, userPubkey, assetID, amount)
}

func (m *assetManager) transfer(ctx context.Context, sender, recipient, assetID string, amount uint64) error {
	if amount == 0 {
		return errInvalidAmount
	}
	balance, err := m.repo.Assets().GetBalance(ctx, sender, assetID)
	if err != nil {
		return err
	}
	if balance.Spendable() < amount {
		return errInsufficientBalance
	}
	return m.repo.Assets().Transfer(ctx, sender, recipient, assetID, amount)
}

func (m *assetManager) balance(ctx context.Context, userPubkey, assetID string) (*domain.AssetBalance, error) {
	return m.repo.Assets().GetBalance(ctx, userPubkey, assetID)
}
