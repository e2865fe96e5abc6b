package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/ark-relay/gateway/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// service wires every application-layer component (C4, C5, C6, C7, C8, C9,
// C10, C11) behind the Service interface. It owns no business logic itself;
// it only constructs the managers, starts/stops their background loops, and
// forwards calls.
type service struct {
	repo  ports.RepoManager
	cache ports.LiveStore
	relay ports.RelayClient
	ark   ports.ArkDaemon
	lnd   ports.LightningDaemon

	sessions   *sessionManager
	challenges *challengeManager
	orch       *signingOrchestrator
	txs        *transactionProcessor
	vtxos      *vtxoManager
	lightning  *lightningManager
	assets     *assetManager
	dispatcher *dispatcher
	sweeper    *sweeper
	watcher    *confirmationWatcher

	outcomesCh chan SessionOutcome

	stop func()
	ctx  context.Context
	wg   sync.WaitGroup
}

// NewService constructs the gateway application. assetIDs and feeCeiling
// parameterize C9's periodic inventory monitor the way the scheduled-session
// constructor used to parameterize round cadence.
func NewService(
	repo ports.RepoManager,
	cache ports.LiveStore,
	relay ports.RelayClient,
	ark ports.ArkDaemon,
	lnd ports.LightningDaemon,
	scheduler ports.Scheduler,
	assetIDs []string,
	inventoryFeeCeiling uint64,
) (Service, error) {
	if repo == nil || cache == nil || relay == nil || ark == nil || lnd == nil || scheduler == nil {
		return nil, fmt.Errorf("all adapters are required to construct the service")
	}

	sessions := newSessionManager(repo, cache)
	challenges := newChallengeManager(sessions, repo)
	txs := newTransactionProcessor(repo, ark)
	vtxos := newVtxoManager(repo, cache, ark)
	lightning := newLightningManager(repo, sessions, lnd)
	assets := newAssetManager(repo)
	orch := newSigningOrchestrator(repo, sessions, challenges, txs, vtxos, ark, relay)
	disp := newDispatcher(relay, cache.Idempotency(), sessions, orch)
	sw := newSweeper(scheduler, vtxos, lightning, sessions, relay, repo, assetIDs, inventoryFeeCeiling)
	watcher := newConfirmationWatcher(repo, ark, txs)

	ctx, cancel := context.WithCancel(context.Background())

	return &service{
		repo: repo, cache: cache, relay: relay, ark: ark, lnd: lnd,
		sessions: sessions, challenges: challenges, orch: orch, txs: txs,
		vtxos: vtxos, lightning: lightning, assets: assets,
		dispatcher: disp, sweeper: sw, watcher: watcher,
		outcomesCh: make(chan SessionOutcome, 256),
		stop:       cancel, ctx: ctx,
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	if err := s.relay.Start(s.ctx); err != nil {
		return fmt.Errorf("start relay client: %w", err)
	}
	if err := s.sweeper.start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	s.watcher.start(s.ctx)
	s.dispatcher.start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.lightning.reconcile(s.ctx); err != nil && s.ctx.Err() == nil {
			log.WithError(err).Error("lightning reconciliation loop exited unexpectedly")
		}
	}()

	log.Info("gateway service started")
	return nil
}

func (s *service) Shutdown(ctx context.Context) {
	s.stop()
	s.dispatcher.stop()
	s.watcher.halt()
	s.sweeper.stop()
	s.wg.Wait()

	if err := s.relay.Close(); err != nil {
		log.WithError(err).Warn("failed to close relay client cleanly")
	}
	s.cache.Close()
	s.repo.Close()
	close(s.outcomesCh)
	log.Info("gateway service stopped")
}

func (s *service) RegisterIntent(ctx context.Context, in IntentInput) (*domain.SigningSession, errors.Error) {
	session, created, err := s.sessions.getOrCreate(
		ctx, in.AuthorPubkey, sessionTypeFromWire(in.Type), in.ActionID, in.Params, in.Type, in.ExpiresAt,
	)
	if err != nil {
		return nil, errors.ValidationFailed.New("register intent: %s", err)
	}
	if created {
		if ferr := s.orch.run(ctx, session.SessionID); ferr != nil {
			return session, ferr
		}
	}
	return session, nil
}

func (s *service) SubmitSigningResponse(ctx context.Context, in SigningResponseInput) errors.Error {
	ferr := s.orch.handleResponse(ctx, in)
	if ferr == nil {
		s.publishOutcomeIfTerminal(ctx, in.SessionID)
	}
	return ferr
}

func (s *service) CancelSession(ctx context.Context, sessionID string) errors.Error {
	ferr := s.sessions.cancel(ctx, sessionID)
	if ferr == nil {
		s.publishOutcomeIfTerminal(ctx, sessionID)
	}
	return ferr
}

func (s *service) GetSession(ctx context.Context, sessionID string) (*domain.SigningSession, errors.Error) {
	session, err := s.repo.Sessions().Get(ctx, sessionID)
	if err != nil {
		return nil, errors.ValidationFailed.New("session not found: %s", sessionID)
	}
	return session, nil
}

func (s *service) CreateAsset(ctx context.Context, asset domain.Asset) errors.Error {
	if err := s.assets.create(ctx, asset); err != nil {
		return errors.ValidationFailed.New("create asset: %s", err)
	}
	return nil
}

func (s *service) Mint(ctx context.Context, userPubkey, assetID string, amount uint64) errors.Error {
	if err := s.assets.mint(ctx, userPubkey, assetID, amount); err != nil {
		return errors.ValidationFailed.New("mint: %s", err)
	}
	return nil
}

func (s *service) Transfer(ctx context.Context, sender, recipient, assetID string, amount uint64) errors.Error {
	if err := s.assets.transfer(ctx, sender, recipient, assetID, amount); err != nil {
		return errors.InsufficientBalance.New("transfer: %s", err)
	}
	return nil
}

func (s *service) GetBalance(ctx context.Context, userPubkey, assetID string) (*domain.AssetBalance, errors.Error) {
	balance, err := s.assets.balance(ctx, userPubkey, assetID)
	if err != nil {
		return nil, errors.ValidationFailed.New("get balance: %s", err)
	}
	return balance, nil
}

func (s *service) CreateLightningLift(ctx context.Context, in LightningLiftInput) (*domain.LightningInvoice, errors.Error) {
	invoice, err := s.lightning.createLift(ctx, in.UserPubkey, in.AssetID, in.AmountSats)
	if err != nil {
		return nil, errors.ValidationFailed.New("create lightning lift: %s", err)
	}
	return invoice, nil
}

func (s *service) SessionEventsChannel(ctx context.Context) <-chan SessionOutcome {
	return s.outcomesCh
}

// publishOutcomeIfTerminal emits a SessionOutcome once a session reaches a
// terminal state, non-blocking so a slow consumer never stalls the ceremony.
func (s *service) publishOutcomeIfTerminal(ctx context.Context, sessionID string) {
	session, err := s.repo.Sessions().Get(ctx, sessionID)
	if err != nil || !session.Status.IsTerminal() {
		return
	}
	tx, _ := s.repo.Transactions().GetBySession(ctx, sessionID)
	outcome := SessionOutcome{SessionID: session.SessionID, Status: session.Status, Kind: session.Result.FailureKind}
	if tx != nil {
		outcome.Txid = tx.Txid
	}
	select {
	case s.outcomesCh <- outcome:
	default:
		log.WithField("session_id", sessionID).Warn("session outcomes channel full, dropping event")
	}
}
