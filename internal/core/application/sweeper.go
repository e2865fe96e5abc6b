package application

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	sweepInventoryInterval  = 5 * 60  // seconds
	sweepExpiryInterval     = 60      // seconds
	sweepSettlementInterval = 60 * 60 // seconds
	sweepBatchLimit         = 500
)

// sweeper drives C9's periodic inventory monitor and expiration pass, C10's
// invoice-expiry pass, and the hourly L1 settlement coordinator, all through
// a single ports.Scheduler so they share one set of named, restartable
// timers the way the round sweeper drove batch expiry.
type sweeper struct {
	scheduler  ports.Scheduler
	vtxos      *vtxoManager
	lightning  *lightningManager
	sessions   *sessionManager
	relay      ports.RelayClient
	repo       ports.RepoManager
	assetIDs   []string
	feeCeiling uint64
}

func newSweeper(
	scheduler ports.Scheduler, vtxos *vtxoManager, lightning *lightningManager,
	sessions *sessionManager, relay ports.RelayClient, repo ports.RepoManager,
	assetIDs []string, feeCeiling uint64,
) *sweeper {
	return &sweeper{
		scheduler: scheduler, vtxos: vtxos, lightning: lightning, sessions: sessions,
		relay: relay, repo: repo, assetIDs: assetIDs, feeCeiling: feeCeiling,
	}
}

func (s *sweeper) start() error {
	ctx := context.Background()

	if err := s.scheduler.ScheduleEvery("vtxo-inventory", sweepInventoryInterval, func() {
		s.runInventoryCheck(ctx)
	}); err != nil {
		return err
	}
	if err := s.scheduler.ScheduleEvery("expiry-sweep", sweepExpiryInterval, func() {
		s.runExpirySweep(ctx)
	}); err != nil {
		return err
	}
	if err := s.scheduler.ScheduleEvery("l1-settlement", sweepSettlementInterval, func() {
		s.runSettlement(ctx)
	}); err != nil {
		return err
	}

	s.scheduler.Start()
	return nil
}

func (s *sweeper) stop() {
	s.scheduler.Stop()
}

func (s *sweeper) runInventoryCheck(ctx context.Context) {
	for _, assetID := range s.assetIDs {
		if err := s.vtxos.checkInventory(ctx, assetID, 0, s.feeCeiling); err != nil {
			log.WithError(err).WithField("asset_id", assetID).Error("vtxo inventory check failed")
		}
	}
}

func (s *sweeper) runExpirySweep(ctx context.Context) {
	live, err := s.liveSessionVtxoIDs(ctx)
	if err != nil {
		log.WithError(err).Error("failed to build live-session vtxo set for expiry sweep")
		return
	}
	if n, err := s.vtxos.sweepExpired(ctx, sweepBatchLimit, live); err != nil {
		log.WithError(err).Error("vtxo expiry sweep failed")
	} else if n > 0 {
		log.WithField("count", n).Info("expired vtxos swept")
	}

	if n, err := s.lightning.sweepExpiry(ctx, sweepBatchLimit); err != nil {
		log.WithError(err).Error("lightning invoice expiry sweep failed")
	} else if n > 0 {
		log.WithField("count", n).Info("expired lightning invoices swept")
	}

	if err := s.sweepExpiredSessions(ctx); err != nil {
		log.WithError(err).Error("session expiry sweep failed")
	}
}

// liveSessionVtxoIDs collects the input vtxo ids bound to any non-terminal
// ceremony so the expiry sweep never reclaims a vtxo mid-signature. The
// repository has no direct "all non-terminal sessions" query, so this reuses
// ListExpirable with a cutoff far in the future: every non-terminal session
// has expires_at below it.
func (s *sweeper) liveSessionVtxoIDs(ctx context.Context) (map[string]bool, error) {
	live := map[string]bool{}
	sessions, err := s.repo.Sessions().ListExpirable(ctx, math.MaxInt64, sweepBatchLimit)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		for _, id := range session.Result.InputVtxoIDs {
			live[id] = true
		}
	}
	return live, nil
}

func (s *sweeper) sweepExpiredSessions(ctx context.Context) error {
	expired, err := s.repo.Sessions().ListExpirable(ctx, time.Now().Unix(), sweepBatchLimit)
	if err != nil {
		return err
	}
	for _, session := range expired {
		if session.Status.IsTerminal() {
			continue
		}
		if err := s.sessions.fail(ctx, session, domain.FailureKindExpired, "session lifetime exceeded"); err != nil {
			log.WithError(err).WithField("session_id", session.SessionID).Warn("failed to expire session")
		}
	}
	return nil
}

func (s *sweeper) runSettlement(ctx context.Context) {
	for _, assetID := range s.assetIDs {
		settled, err := s.repo.Transactions().ListByStatus(ctx, domain.TransactionStatusBroadcast, sweepBatchLimit)
		if err != nil {
			log.WithError(err).Error("failed to list broadcast transactions for settlement")
			return
		}
		var txids []string
		for _, tx := range settled {
			txids = append(txids, tx.Txid)
		}
		if len(txids) == 0 {
			continue
		}
		resp, err := s.vtxos.runL1Settlement(ctx, assetID, txids)
		if err != nil {
			log.WithError(err).WithField("asset_id", assetID).Error("l1 settlement round failed, will retry next run")
			continue
		}
		if resp == nil {
			continue
		}
		notice := l1CommitmentNotice(assetID, resp.L1Txid, resp.BlockHeight)
		if err := s.relay.PublishL1Commitment(ctx, notice); err != nil {
			log.WithError(err).Error("failed to publish l1 commitment notice")
		}
	}
}

func l1CommitmentNotice(assetID, l1Txid string, blockHeight uint32) []byte {
	return []byte(fmt.Sprintf(`{"asset_id":%q,"l1_txid":%q,"block_height":%d}`, assetID, l1Txid, blockHeight))
}
