package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const vtxoStoreDir = "vtxos"

type vtxoRepository struct {
	store *badgerhold.Store
}

func NewVtxoRepository(config ...interface{}) (domain.VtxoRepository, error) {
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
		dir = filepath.Join(baseDir, vtxoStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vtxo store: %s", err)
	}

	return &vtxoRepository{store}, nil
}

func (r *vtxoRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *vtxoRepository) AddBatch(ctx context.Context, vtxos []domain.Vtxo) error {
	for _, vtxo := range vtxos {
		if err := r.insertWithRetry(vtxo); err != nil {
			return err
		}
	}
	return nil
}

func (r *vtxoRepository) Get(ctx context.Context, vtxoID string) (*domain.Vtxo, error) {
	query := badgerhold.Where("VtxoID").Eq(vtxoID)
	vtxos, err := r.find(query)
	if err != nil {
		return nil, err
	}
	if len(vtxos) == 0 {
		return nil, fmt.Errorf("vtxo %s not found", vtxoID)
	}
	return &vtxos[0], nil
}

func (r *vtxoRepository) GetByOutpoint(ctx context.Context, op domain.Outpoint) (*domain.Vtxo, error) {
	var vtxo domain.Vtxo
	if err := r.store.Get(op.String(), &vtxo); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("vtxo at outpoint %s not found", op.String())
		}
		return nil, err
	}
	return &vtxo, nil
}

func (r *vtxoRepository) ListByOwner(
	ctx context.Context, userPubkey, assetID string,
) ([]domain.Vtxo, error) {
	query := badgerhold.Where("UserPubkey").Eq(userPubkey).And("AssetID").Eq(assetID)
	return r.find(query)
}

func (r *vtxoRepository) CountAvailable(ctx context.Context, assetID string) (int64, error) {
	query := badgerhold.Where("AssetID").Eq(assetID).And("Status").Eq(domain.VtxoStatusAvailable)
	n, err := r.store.Count(&domain.Vtxo{}, query)
	return int64(n), err
}

func (r *vtxoRepository) Assign(
	ctx context.Context, userPubkey, assetID string, amountNeeded uint64,
) ([]domain.Vtxo, error) {
	var selected []domain.Vtxo
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		query := badgerhold.Where("AssetID").Eq(assetID).And("Status").Eq(domain.VtxoStatusAvailable)
		candidates, ferr := r.find(query)
		if ferr != nil {
			return nil, ferr
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].AmountSats < candidates[j].AmountSats
		})

		selected = selected[:0]
		var sum uint64
		for _, v := range candidates {
			selected = append(selected, v)
			sum += v.AmountSats
			if sum >= amountNeeded {
				break
			}
		}
		if sum < amountNeeded {
			return nil, fmt.Errorf("insufficient_inventory: asset %s needs %d, available %d", assetID, amountNeeded, sum)
		}

		tx := r.store.Badger().NewTransaction(true)
		ok := true
		for i := range selected {
			v := selected[i]
			if terr := v.TransitionTo(domain.VtxoStatusAssigned); terr != nil {
				tx.Discard()
				return nil, terr
			}
			v.Status = domain.VtxoStatusAssigned
			v.UserPubkey = userPubkey
			selected[i] = v
			if uerr := r.store.TxUpdate(tx, v.Outpoint.String(), v); uerr != nil {
				ok = false
				err = uerr
				break
			}
		}
		if ok {
			if cerr := tx.Commit(); cerr != nil {
				ok = false
				err = cerr
			} else {
				return selected, nil
			}
		} else {
			tx.Discard()
		}
		if !errors.Is(err, badger.ErrConflict) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, err
}

func (r *vtxoRepository) Spend(ctx context.Context, vtxoIDs []string, spendingTxid string) error {
	for _, id := range vtxoIDs {
		if err := r.transitionByID(id, func(v *domain.Vtxo) error {
			if v.UserPubkey == "" {
				return fmt.Errorf("vtxo %s: cannot spend an unassigned vtxo", id)
			}
			if err := v.TransitionTo(domain.VtxoStatusSpent); err != nil {
				return err
			}
			v.Status = domain.VtxoStatusSpent
			v.SpendingTxid = spendingTxid
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *vtxoRepository) CreateOutputs(ctx context.Context, vtxos []domain.Vtxo) error {
	return r.AddBatch(ctx, vtxos)
}

func (r *vtxoRepository) ListExpirable(ctx context.Context, now int64, limit int) ([]domain.Vtxo, error) {
	query := badgerhold.Where("Status").Eq(domain.VtxoStatusAssigned).And("ExpiresAt").Lt(now)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return r.find(query)
}

func (r *vtxoRepository) Expire(ctx context.Context, vtxoIDs []string) error {
	for _, id := range vtxoIDs {
		if err := r.transitionByID(id, func(v *domain.Vtxo) error {
			if err := v.TransitionTo(domain.VtxoStatusExpired); err != nil {
				return err
			}
			v.Status = domain.VtxoStatusExpired
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *vtxoRepository) find(query *badgerhold.Query) ([]domain.Vtxo, error) {
	var vtxos []domain.Vtxo
	if err := r.store.Find(&vtxos, query); err != nil {
		return nil, err
	}
	return vtxos, nil
}

func (r *vtxoRepository) transitionByID(vtxoID string, mutate func(*domain.Vtxo) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		v, gerr := r.Get(context.Background(), vtxoID)
		if gerr != nil {
			return gerr
		}
		if err = mutate(v); err != nil {
			return err
		}
		if err = r.store.Update(v.Outpoint.String(), *v); err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (r *vtxoRepository) insertWithRetry(vtxo domain.Vtxo) error {
	key := vtxo.Outpoint.String()
	err := r.store.Insert(key, vtxo)
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = r.store.Insert(key, vtxo)
		attempts++
	}
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return nil
	}
	return err
}
