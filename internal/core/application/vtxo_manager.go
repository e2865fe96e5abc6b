package application

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	vtxoInventoryCriticalThreshold = 1_000
	vtxoInventoryWarningThreshold  = 3_000
	vtxoInventoryTargetLevel       = 10_000
	vtxoInventoryDefaultBatchSize  = 1_000
	vtxoInventoryCacheTTL          = time.Minute
	vtxoDefaultLifetime            = 7 * 24 * time.Hour
)

// vtxoManager implements C9: inventory monitoring, assignment, spending, and
// expiration of VTXOs, plus the single-flight-per-asset hourly L1
// settlement coordinator.
type vtxoManager struct {
	repo  ports.RepoManager
	cache ports.LiveStore
	ark   ports.ArkDaemon

	settlementMu sync.Map // assetID -> *sync.Mutex, single-flight per asset class
}

func newVtxoManager(repo ports.RepoManager, cache ports.LiveStore, ark ports.ArkDaemon) *vtxoManager {
	return &vtxoManager{repo: repo, cache: cache, ark: ark}
}

// checkInventory implements the periodic monitor: below critical, request a
// batch immediately; below warning (and fees acceptable), schedule one.
func (m *vtxoManager) checkInventory(ctx context.Context, assetID string, feeSatsPerVtxo uint64, feeCeiling uint64) error {
	count, cached, err := m.cache.VtxoInventory().AvailableCount(ctx, assetID)
	if err != nil || !cached {
		count, err = m.repo.Vtxos().CountAvailable(ctx, assetID)
		if err != nil {
			return fmt.Errorf("count available vtxos: %w", err)
		}
		if err := m.cache.VtxoInventory().SetAvailableCount(ctx, assetID, count, vtxoInventoryCacheTTL); err != nil {
			log.WithError(err).Warn("failed to refresh vtxo inventory cache")
		}
	}

	switch {
	case count < vtxoInventoryCriticalThreshold:
		log.WithFields(log.Fields{"asset_id": assetID, "available": count}).
			Warn("vtxo inventory below critical threshold, requesting batch immediately")
		return m.requestBatch(ctx, assetID, vtxoInventoryDefaultBatchSize)
	case count < vtxoInventoryWarningThreshold && feeSatsPerVtxo <= feeCeiling:
		log.WithFields(log.Fields{"asset_id": assetID, "available": count}).
			Info("vtxo inventory below warning threshold, scheduling batch")
		return m.requestBatch(ctx, assetID, vtxoInventoryTargetLevel-int(count))
	}
	return nil
}

func (m *vtxoManager) requestBatch(ctx context.Context, assetID string, count int) error {
	if count <= 0 {
		return nil
	}
	resp, err := m.ark.CreateVtxoBatch(ctx, ports.CreateVtxoBatchRequest{
		AssetID: assetID,
		Count:   count,
	})
	if err != nil {
		return fmt.Errorf("ark daemon create vtxo batch: %w", err)
	}

	now := time.Now()
	batch := make([]domain.Vtxo, 0, len(resp.Vtxos))
	for _, raw := range resp.Vtxos {
		batch = append(batch, domain.Vtxo{
			VtxoID:       uuid.New().String(),
			Outpoint:     domain.Outpoint{Txid: raw.Txid, VOut: raw.VOut},
			AmountSats:   raw.AmountSats,
			ScriptPubkey: raw.ScriptPubkey,
			AssetID:      assetID,
			Status:       domain.VtxoStatusAvailable,
			ExpiresAt:    now.Add(vtxoDefaultLifetime).Unix(),
			CreatedAt:    now.Unix(),
		})
	}
	if err := m.repo.Vtxos().AddBatch(ctx, batch); err != nil {
		return fmt.Errorf("persist vtxo batch: %w", err)
	}
	if err := m.cache.VtxoInventory().Invalidate(ctx, assetID); err != nil {
		log.WithError(err).Warn("failed to invalidate vtxo inventory cache")
	}
	return nil
}

// assign selects the smallest-fit combination of available VTXOs and
// reserves the corresponding balance. Selection is one repository
// transaction; the reserve adjustment is a separate repository call.
func (m *vtxoManager) assign(
	ctx context.Context, userPubkey, assetID string, amountNeeded uint64,
) ([]domain.Vtxo, error) {
	vtxos, err := m.repo.Vtxos().Assign(ctx, userPubkey, assetID, amountNeeded)
	if err != nil {
		return nil, fmt.Errorf("insufficient_inventory: %w", err)
	}
	var sum uint64
	for _, v := range vtxos {
		sum += v.AmountSats
	}
	if err := m.repo.Assets().AdjustReserved(ctx, userPubkey, assetID, int64(sum)); err != nil {
		return nil, fmt.Errorf("reserve balance: %w", err)
	}
	if err := m.cache.VtxoInventory().Invalidate(ctx, assetID); err != nil {
		log.WithError(err).Warn("failed to invalidate vtxo inventory cache")
	}
	return vtxos, nil
}

// spend marks VTXOs spent and releases the corresponding reserve. Only C7
// step 6 or C8 may call this.
func (m *vtxoManager) spend(ctx context.Context, userPubkey, assetID string, vtxoIDs []string, amount uint64, spendingTxid string) error {
	if err := m.repo.Vtxos().Spend(ctx, vtxoIDs, spendingTxid); err != nil {
		return fmt.Errorf("spend vtxos: %w", err)
	}
	if err := m.repo.Assets().AdjustBalance(ctx, userPubkey, assetID, -int64(amount)); err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if err := m.repo.Assets().AdjustReserved(ctx, userPubkey, assetID, -int64(amount)); err != nil {
		return fmt.Errorf("release reserve: %w", err)
	}
	return nil
}

// sweepExpired transitions assigned VTXOs past their deadline to expired and
// releases their reserves, unless a live session still owns them.
func (m *vtxoManager) sweepExpired(ctx context.Context, limit int, liveSessionVtxoIDs map[string]bool) (int, error) {
	now := time.Now().Unix()
	expirable, err := m.repo.Vtxos().ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expirable vtxos: %w", err)
	}

	byOwnerAsset := map[string]uint64{}
	var toExpire []string
	for _, v := range expirable {
		if liveSessionVtxoIDs[v.VtxoID] {
			continue
		}
		toExpire = append(toExpire, v.VtxoID)
		byOwnerAsset[v.UserPubkey+"|"+v.AssetID] += v.AmountSats
	}
	if len(toExpire) == 0 {
		return 0, nil
	}
	if err := m.repo.Vtxos().Expire(ctx, toExpire); err != nil {
		return 0, fmt.Errorf("expire vtxos: %w", err)
	}
	for key, sum := range byOwnerAsset {
		userPubkey, assetID := splitOwnerAssetKey(key)
		if err := m.repo.Assets().AdjustReserved(ctx, userPubkey, assetID, -int64(sum)); err != nil {
			log.WithError(err).WithFields(log.Fields{"user_pubkey": userPubkey, "asset_id": assetID}).
				Error("failed to release reserve for expired vtxos")
		}
	}
	return len(toExpire), nil
}

func splitOwnerAssetKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// runL1Settlement is the hourly coordinator. It is single-flight per asset
// class: a concurrent invocation for the same asset blocks rather than
// racing the daemon.
func (m *vtxoManager) runL1Settlement(ctx context.Context, assetID string, settledTxids []string) (*ports.CreateL1CommitmentResponse, error) {
	lockVal, _ := m.settlementMu.LoadOrStore(assetID, &sync.Mutex{})
	lock := lockVal.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	if len(settledTxids) == 0 {
		return nil, nil
	}
	resp, err := m.ark.CreateL1Commitment(ctx, ports.CreateL1CommitmentRequest{
		MerkleRoot: merkleRoot(settledTxids),
		BatchID:    fmt.Sprintf("%s-%d", assetID, time.Now().Unix()),
	})
	if err != nil {
		return nil, fmt.Errorf("ark daemon create l1 commitment: %w", err)
	}
	commitment := domain.Transaction{
		Txid:       resp.L1Txid,
		Type:       domain.TransactionTypeL1Commitment,
		Status:     domain.TransactionStatusBroadcast,
		AmountSats: uint64(len(settledTxids)),
		CreatedAt:  time.Now().Unix(),
	}
	if err := m.repo.Transactions().Create(ctx, commitment); err != nil {
		log.WithError(err).WithField("asset_id", assetID).Warn("failed to persist l1 commitment record")
	}
	return &resp, nil
}

// merkleRoot folds the settled txids pairwise with sha256, matching the
// "construct a Merkle tree over them" step of the hourly coordinator.
func merkleRoot(txids []string) string {
	level := make([][]byte, len(txids))
	for i, txid := range txids {
		sum := sha256.Sum256([]byte(txid))
		level[i] = sum[:]
	}
	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			sum := sha256.Sum256(append(level[i], level[i+1]...))
			next = append(next, sum[:])
		}
		level = next
	}
	if len(level) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", level[0])
}
