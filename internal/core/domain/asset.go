package domain

import (
	"context"
	"fmt"
)

// AssetType distinguishes the gateway's own native unit from permissionless,
// user-minted units.
type AssetType string

const (
	AssetTypeNative        AssetType = "native"
	AssetTypePermissionless AssetType = "permissionless"
)

// Asset is the registry entry for a fungible unit tracked by the gateway.
type Asset struct {
	AssetID      string
	Name         string
	Ticker       string
	Type         AssetType
	Decimals     int
	TotalSupply  uint64
	IsActive     bool
	CreatedAt    int64
}

func (a Asset) Validate() error {
	if len(a.AssetID) == 0 {
		return fmt.Errorf("missing asset id")
	}
	if len(a.Ticker) == 0 {
		return fmt.Errorf("missing ticker")
	}
	if a.Type != AssetTypeNative && a.Type != AssetTypePermissionless {
		return fmt.Errorf("invalid asset type %q", a.Type)
	}
	if a.Decimals < 0 || a.Decimals > 18 {
		return fmt.Errorf("invalid decimals %d", a.Decimals)
	}
	return nil
}

// AssetBalance is a per-identity holding of an Asset. balance is always the
// gross amount owned; reserved_balance is the portion currently locked by an
// assigned VTXO or a prepared-but-unconfirmed transaction.
type AssetBalance struct {
	UserPubkey      string
	AssetID         string
	Balance         uint64
	ReservedBalance uint64
}

func (b AssetBalance) Validate() error {
	if b.ReservedBalance > b.Balance {
		return fmt.Errorf(
			"invariant violated: reserved balance %d exceeds balance %d for %s/%s",
			b.ReservedBalance, b.Balance, b.UserPubkey, b.AssetID,
		)
	}
	return nil
}

// Spendable returns the portion of the balance that is not locked by a
// pending assignment or transaction.
func (b AssetBalance) Spendable() uint64 {
	return b.Balance - b.ReservedBalance
}

type AssetRepository interface {
	Create(ctx context.Context, asset Asset) error
	Get(ctx context.Context, assetID string) (*Asset, error)
	List(ctx context.Context, activeOnly bool) ([]Asset, error)
	// AddToSupply adjusts total_supply by delta (may be negative for burns)
	// and must be called inside the same transaction as the corresponding
	// balance mutation.
	AddToSupply(ctx context.Context, assetID string, delta int64) error

	GetBalance(ctx context.Context, userPubkey, assetID string) (*AssetBalance, error)
	ListBalances(ctx context.Context, userPubkey string) ([]AssetBalance, error)

	// Mint increments balance and total_supply atomically.
	Mint(ctx context.Context, userPubkey, assetID string, amount uint64) error
	// Transfer decrements sender's balance and increments recipient's balance
	// atomically; implementations must reject if sender's spendable balance
	// would go negative.
	Transfer(ctx context.Context, senderPubkey, recipientPubkey, assetID string, amount uint64) error
	// AdjustReserved increases (positive delta) or decreases (negative delta)
	// reserved_balance for (userPubkey, assetID); implementations must reject
	// if the result would violate balance >= reserved_balance >= 0.
	AdjustReserved(ctx context.Context, userPubkey, assetID string, delta int64) error
	// AdjustBalance increases (positive delta) or decreases (negative delta)
	// balance for (userPubkey, assetID).
	AdjustBalance(ctx context.Context, userPubkey, assetID string, delta int64) error

	Close()
}
