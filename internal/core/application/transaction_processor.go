package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
)

// transactionProcessor implements C8: prepare/broadcast/status/confirm for
// the Transaction entity, plus the fixed L2 fee schedule (§6).
type transactionProcessor struct {
	repo ports.RepoManager
	ark  ports.ArkDaemon
}

func newTransactionProcessor(repo ports.RepoManager, ark ports.ArkDaemon) *transactionProcessor {
	return &transactionProcessor{repo: repo, ark: ark}
}

const (
	// p2pTransferFeeSats is the fixed 10-unit fee charged for an L2 transfer,
	// expressed in the native asset as a dedicated output in the intent.
	p2pTransferFeeSats uint64 = 10
	// lightningLandFeeBps is 0.1% of the withdrawn amount.
	lightningLandFeeBps uint64 = 10 // basis points out of 10_000
)

func transferFee(sessionType domain.SessionType, amount uint64) uint64 {
	switch sessionType {
	case domain.SessionTypeP2PTransfer:
		return p2pTransferFeeSats
	case domain.SessionTypeLightningLift:
		return 0
	case domain.SessionTypeLightningLand:
		return amount * lightningLandFeeBps / 10_000
	default:
		return 0
	}
}

// prepare checks the sender's spendable balance against amount plus fee and
// records the transaction as prepared. txid is the Ark daemon's ArkTxID,
// already known from step 2 of the ceremony before any signature exists.
func (p *transactionProcessor) prepare(
	ctx context.Context, session domain.SigningSession, txid string, txType domain.TransactionType, amountSats uint64,
) (*domain.Transaction, error) {
	fee := transferFee(session.SessionType, amountSats)
	assetID, _ := session.IntentData["asset_id"].(string)

	balance, err := p.repo.Assets().GetBalance(ctx, session.UserPubkey, assetID)
	if err != nil {
		return nil, fmt.Errorf("insufficient_funds: %w", err)
	}
	spendable := balance.Balance - balance.ReservedBalance
	if spendable < amountSats+fee {
		return nil, fmt.Errorf("insufficient_funds: spendable %d < needed %d", spendable, amountSats+fee)
	}

	tx := domain.Transaction{
		Txid:       txid,
		SessionID:  session.SessionID,
		Type:       txType,
		Status:     domain.TransactionStatusPrepared,
		AmountSats: amountSats,
		FeeSats:    fee,
		CreatedAt:  time.Now().Unix(),
	}
	if err := p.repo.Transactions().Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("invalid_transaction: %w", err)
	}
	return &tx, nil
}

// broadcast marks a prepared transaction broadcast once C7 step 5 returns
// the fully signed bytes from the daemon. It only updates the status; raw is
// not stored, and the call is not part of a transaction with the step-6 VTXO
// writes.
func (p *transactionProcessor) broadcast(ctx context.Context, txid string, raw []byte) error {
	if err := p.repo.Transactions().SetStatus(ctx, txid, domain.TransactionStatusBroadcast); err != nil {
		return fmt.Errorf("conflict: %w", err)
	}
	return nil
}

func (p *transactionProcessor) confirm(ctx context.Context, txid string, confirmations int32) error {
	if err := p.repo.Transactions().SetConfirmations(ctx, txid, confirmations); err != nil {
		return err
	}
	if confirmations >= 1 {
		return p.repo.Transactions().SetStatus(ctx, txid, domain.TransactionStatusConfirmed)
	}
	return nil
}

func (p *transactionProcessor) status(ctx context.Context, txid string) (domain.TransactionStatus, error) {
	tx, err := p.repo.Transactions().Get(ctx, txid)
	if err != nil {
		return "", err
	}
	return tx.Status, nil
}
