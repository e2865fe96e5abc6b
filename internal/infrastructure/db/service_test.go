package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/ark-relay/gateway/internal/infrastructure/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "repo_manager_with_badger_stores",
			config: db.ServiceConfig{
				DataStoreType:   "badger",
				DataStoreConfig: []interface{}{"", nil},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			require.NotNil(t, svc)
			defer svc.Close()

			testAssetRepository(t, svc)
			testVtxoRepository(t, svc)
			testSessionRepository(t, svc)
			testChallengeRepository(t, svc)
			testTransactionRepository(t, svc)
			testInvoiceRepository(t, svc)
		})
	}
}

func testAssetRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("asset_repository", func(t *testing.T) {
		ctx := context.Background()
		asset := domain.Asset{
			AssetID:     "asset-" + uuid.New().String(),
			Name:        "Test Coin",
			Ticker:      "TST",
			Type:        domain.AssetTypePermissionless,
			Decimals:    8,
			TotalSupply: 0,
			IsActive:    true,
			CreatedAt:   time.Now().Unix(),
		}
		require.NoError(t, svc.Assets().Create(ctx, asset))

		got, err := svc.Assets().Get(ctx, asset.AssetID)
		require.NoError(t, err)
		require.Equal(t, asset.Name, got.Name)

		require.NoError(t, svc.Assets().Mint(ctx, "alice", asset.AssetID, 1000))
		bal, err := svc.Assets().GetBalance(ctx, "alice", asset.AssetID)
		require.NoError(t, err)
		require.Equal(t, uint64(1000), bal.Balance)

		require.NoError(t, svc.Assets().Transfer(ctx, "alice", "bob", asset.AssetID, 400))
		aliceBal, err := svc.Assets().GetBalance(ctx, "alice", asset.AssetID)
		require.NoError(t, err)
		require.Equal(t, uint64(600), aliceBal.Balance)
		bobBal, err := svc.Assets().GetBalance(ctx, "bob", asset.AssetID)
		require.NoError(t, err)
		require.Equal(t, uint64(400), bobBal.Balance)

		err = svc.Assets().Transfer(ctx, "alice", "bob", asset.AssetID, 10000)
		require.Error(t, err)
	})
}

func testVtxoRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("vtxo_repository", func(t *testing.T) {
		ctx := context.Background()
		assetID := "asset-" + uuid.New().String()

		batch := []domain.Vtxo{
			{
				VtxoID:       uuid.New().String(),
				Outpoint:     domain.Outpoint{Txid: uuid.New().String(), VOut: 0},
				AmountSats:   500,
				ScriptPubkey: []byte{0x00, 0xaa},
				AssetID:      assetID,
				Status:       domain.VtxoStatusAvailable,
				ExpiresAt:    time.Now().Add(time.Hour).Unix(),
				CreatedAt:    time.Now().Unix(),
			},
			{
				VtxoID:       uuid.New().String(),
				Outpoint:     domain.Outpoint{Txid: uuid.New().String(), VOut: 0},
				AmountSats:   1500,
				ScriptPubkey: []byte{0x00, 0xbb},
				AssetID:      assetID,
				Status:       domain.VtxoStatusAvailable,
				ExpiresAt:    time.Now().Add(time.Hour).Unix(),
				CreatedAt:    time.Now().Unix(),
			},
		}
		require.NoError(t, svc.Vtxos().AddBatch(ctx, batch))

		count, err := svc.Vtxos().CountAvailable(ctx, assetID)
		require.NoError(t, err)
		require.Equal(t, int64(2), count)

		assigned, err := svc.Vtxos().Assign(ctx, "alice", assetID, 400)
		require.NoError(t, err)
		require.Len(t, assigned, 1)
		require.Equal(t, domain.VtxoStatusAssigned, assigned[0].Status)

		require.NoError(t, svc.Vtxos().Spend(ctx, []string{assigned[0].VtxoID}, "spendtx"))

		spent, err := svc.Vtxos().Get(ctx, assigned[0].VtxoID)
		require.NoError(t, err)
		require.Equal(t, domain.VtxoStatusSpent, spent.Status)

		err = svc.Vtxos().Spend(ctx, []string{assigned[0].VtxoID}, "spendtx2")
		require.Error(t, err)
	})
}

func testSessionRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("session_repository", func(t *testing.T) {
		ctx := context.Background()
		session := domain.SigningSession{
			SessionID:   uuid.New().String(),
			UserPubkey:  "alice",
			SessionType: domain.SessionTypeP2PTransfer,
			Status:      domain.SessionStatusInitiated,
			ActionID:    uuid.New().String(),
			IntentData:  map[string]any{"amount": float64(100)},
			ExpiresAt:   time.Now().Add(time.Minute).Unix(),
			CreatedAt:   time.Now().Unix(),
		}
		require.NoError(t, svc.Sessions().Create(ctx, session))

		got, err := svc.Sessions().Get(ctx, session.SessionID)
		require.NoError(t, err)
		require.Equal(t, session.UserPubkey, got.UserPubkey)

		require.NoError(t, svc.Sessions().TransitionStatus(
			ctx, session.SessionID, domain.SessionStatusInitiated, domain.SessionStatusChallengeSent,
		))
		err = svc.Sessions().TransitionStatus(
			ctx, session.SessionID, domain.SessionStatusInitiated, domain.SessionStatusCompleted,
		)
		require.Error(t, err)

		byAction, err := svc.Sessions().GetByActionID(ctx, session.UserPubkey, session.ActionID)
		require.NoError(t, err)
		require.NotNil(t, byAction)
	})
}

func testChallengeRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("challenge_repository", func(t *testing.T) {
		ctx := context.Background()
		challenge := domain.SigningChallenge{
			ChallengeID:   uuid.New().String(),
			SessionID:     uuid.New().String(),
			Kind:          domain.ChallengeKindSignTx,
			ChallengeData: []byte("deadbeef"),
			ExpiresAt:     time.Now().Add(time.Minute).Unix(),
			CreatedAt:     time.Now().Unix(),
		}
		require.NoError(t, svc.Challenges().Create(ctx, challenge))

		require.NoError(t, svc.Challenges().MarkUsed(ctx, challenge.ChallengeID, []byte("sig")))
		err := svc.Challenges().MarkUsed(ctx, challenge.ChallengeID, []byte("sig2"))
		require.Error(t, err)
	})
}

func testTransactionRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("transaction_repository", func(t *testing.T) {
		ctx := context.Background()
		tx := domain.Transaction{
			Txid:       uuid.New().String(),
			Type:       domain.TransactionTypeP2PTransfer,
			RawTx:      []byte{0x02, 0x00, 0x00, 0x00, 0x00},
			Status:     domain.TransactionStatusPrepared,
			AmountSats: 100,
			FeeSats:    1,
			CreatedAt:  time.Now().Unix(),
		}
		require.NoError(t, svc.Transactions().Create(ctx, tx))
		require.NoError(t, svc.Transactions().SetStatus(ctx, tx.Txid, domain.TransactionStatusBroadcast))

		got, err := svc.Transactions().Get(ctx, tx.Txid)
		require.NoError(t, err)
		require.Equal(t, domain.TransactionStatusBroadcast, got.Status)
	})
}

func testInvoiceRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("invoice_repository", func(t *testing.T) {
		ctx := context.Background()
		inv := domain.LightningInvoice{
			PaymentHash:      uuid.New().String(),
			Bolt11Invoice:    "lnbc1...",
			AmountSats:       1000,
			AssetID:          "sats",
			Status:           domain.InvoiceStatusPending,
			Type:             domain.InvoiceTypeLift,
			CreatedAt:        time.Now().Unix(),
			InvoiceExpiresAt: time.Now().Add(time.Hour).Unix(),
		}
		require.NoError(t, svc.Invoices().Create(ctx, inv))
		require.NoError(t, svc.Invoices().SetSettled(ctx, inv.PaymentHash))

		got, err := svc.Invoices().Get(ctx, inv.PaymentHash)
		require.NoError(t, err)
		require.Equal(t, domain.InvoiceStatusSettled, got.Status)
	})
}
