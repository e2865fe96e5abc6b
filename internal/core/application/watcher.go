package application

import (
	"context"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const confirmationPollInterval = 30 * time.Second

// confirmationWatcher replaces the teacher's on-chain outpoint scanner with a
// simpler poll loop suited to the daemon's surface: it has no push
// notification for confirmation depth, only a query per outpoint. Every tick
// it re-checks transactions still in "broadcast" and, for each one whose
// primary vtxo (txid:0) the daemon reports as found, adds one confirmation.
type confirmationWatcher struct {
	repo ports.RepoManager
	ark  ports.ArkDaemon
	txs  *transactionProcessor

	stop chan struct{}
}

func newConfirmationWatcher(repo ports.RepoManager, ark ports.ArkDaemon, txs *transactionProcessor) *confirmationWatcher {
	return &confirmationWatcher{repo: repo, ark: ark, txs: txs, stop: make(chan struct{})}
}

func (w *confirmationWatcher) start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(confirmationPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.poll(ctx)
			}
		}
	}()
}

func (w *confirmationWatcher) halt() {
	close(w.stop)
}

func (w *confirmationWatcher) poll(ctx context.Context) {
	pending, err := w.repo.Transactions().ListByStatus(ctx, domain.TransactionStatusBroadcast, sweepBatchLimit)
	if err != nil {
		log.WithError(err).Error("failed to list broadcast transactions for confirmation poll")
		return
	}
	for _, tx := range pending {
		resp, err := w.ark.QueryVtxo(ctx, tx.Txid+":0")
		if err != nil {
			log.WithError(err).WithField("txid", tx.Txid).Warn("failed to query daemon for confirmation status")
			continue
		}
		if !resp.Found {
			continue
		}
		if err := w.txs.confirm(ctx, tx.Txid, tx.Confirmations+1); err != nil {
			log.WithError(err).WithField("txid", tx.Txid).Warn("failed to record confirmation")
		}
	}
}
