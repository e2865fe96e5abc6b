package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const lightningInvoiceExpiry = time.Hour

// lightningManager implements C10: on-ramp invoice creation, off-ramp
// payment, settlement reconciliation, and invoice-expiry sweeping.
type lightningManager struct {
	repo     ports.RepoManager
	sessions *sessionManager
	lnd      ports.LightningDaemon
}

func newLightningManager(repo ports.RepoManager, sessions *sessionManager, lnd ports.LightningDaemon) *lightningManager {
	return &lightningManager{repo: repo, sessions: sessions, lnd: lnd}
}

// createLift issues a Lightning invoice for an on-ramp and binds a pending
// session so the ceremony-less settlement path can complete it later.
func (m *lightningManager) createLift(ctx context.Context, userPubkey, assetID string, amountSats uint64) (*domain.LightningInvoice, error) {
	if amountSats == 0 {
		return nil, fmt.Errorf("invalid amount: must be positive")
	}

	resp, err := m.lnd.AddInvoice(ctx, ports.AddInvoiceRequest{
		AmountSats: int64(amountSats),
		Memo:       fmt.Sprintf("ark-relay lift: %d sats for %s", amountSats, assetID),
		ExpirySecs: int64(lightningInvoiceExpiry.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("lightning daemon add invoice: %w", err)
	}

	session, _, err := m.sessions.getOrCreate(
		ctx, userPubkey, domain.SessionTypeLightningLift, resp.PaymentHash,
		map[string]any{"amount": float64(amountSats), "asset_id": assetID},
		fmt.Sprintf("lightning lift of %d sats", amountSats),
		time.Now().Add(lightningInvoiceExpiry).Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create lift session: %w", err)
	}

	invoice := domain.LightningInvoice{
		PaymentHash:      resp.PaymentHash,
		Bolt11Invoice:    resp.Bolt11Invoice,
		SessionID:        session.SessionID,
		AmountSats:       amountSats,
		AssetID:          assetID,
		Status:           domain.InvoiceStatusPending,
		Type:             domain.InvoiceTypeLift,
		CreatedAt:        time.Now().Unix(),
		InvoiceExpiresAt: resp.ExpiresAt,
	}
	if err := m.repo.Invoices().Create(ctx, invoice); err != nil {
		return nil, fmt.Errorf("persist lift invoice: %w", err)
	}
	return &invoice, nil
}

// settleLift is invoked when the Lightning daemon reports the lift invoice
// settled: it mints VTXOs for the user and completes the bound session.
func (m *lightningManager) settleLift(ctx context.Context, paymentHash string) error {
	invoice, err := m.repo.Invoices().Get(ctx, paymentHash)
	if err != nil {
		return fmt.Errorf("invoice not found: %w", err)
	}
	if invoice.Status == domain.InvoiceStatusSettled {
		return nil // idempotent: duplicate settlement signal
	}
	if invoice.Type != domain.InvoiceTypeLift {
		return fmt.Errorf("invoice %s is not a lift", paymentHash)
	}

	if err := m.repo.Invoices().SetSettled(ctx, paymentHash); err != nil {
		return fmt.Errorf("mark invoice settled: %w", err)
	}
	session, err := m.repo.Sessions().Get(ctx, invoice.SessionID)
	if err != nil {
		return fmt.Errorf("session not found: %w", err)
	}

	if err := m.repo.Assets().Mint(ctx, session.UserPubkey, invoice.AssetID, invoice.AmountSats); err != nil {
		return fmt.Errorf("mint lifted balance: %w", err)
	}
	backing := domain.Vtxo{
		VtxoID:     fmt.Sprintf("lift-%s", paymentHash),
		Outpoint:   domain.Outpoint{Txid: fmt.Sprintf("lift-%s", paymentHash), VOut: 0},
		AmountSats: invoice.AmountSats,
		AssetID:    invoice.AssetID,
		UserPubkey: session.UserPubkey,
		Status:     domain.VtxoStatusAssigned,
		ExpiresAt:  time.Now().Add(vtxoDefaultLifetime).Unix(),
		CreatedAt:  time.Now().Unix(),
	}
	if err := m.repo.Vtxos().CreateOutputs(ctx, []domain.Vtxo{backing}); err != nil {
		return fmt.Errorf("create lift-backing vtxo: %w", err)
	}

	// A lift never runs the signing ceremony: settlement of the Lightning
	// invoice is itself the user's proof of intent. Walk the session through
	// the same state graph C7 would have driven it through, so nothing
	// downstream ever observes an edge outside the §4.5 table.
	for _, step := range []domain.SessionStatus{
		domain.SessionStatusChallengeSent, domain.SessionStatusAwaitingSignature,
		domain.SessionStatusSigning, domain.SessionStatusCompleted,
	} {
		if err := m.sessions.transition(ctx, session.SessionID, session.Status, step); err != nil {
			log.WithError(err).WithFields(log.Fields{"session_id": session.SessionID, "to": step}).
				Warn("failed to advance lift session toward completed")
			return nil
		}
		session.Status = step
	}
	return nil
}

// createLand looks up a user-presented invoice, opens a land session for it
// and records the invoice as pending. It neither prepares a transaction nor
// starts a ceremony, and it does not pay the invoice.
func (m *lightningManager) createLand(ctx context.Context, userPubkey, assetID string, amountSats uint64, bolt11 string) (*domain.LightningInvoice, *domain.SigningSession, error) {
	if amountSats == 0 {
		return nil, nil, fmt.Errorf("invalid amount: must be positive")
	}
	state, err := m.lnd.LookupInvoice(ctx, bolt11)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid lightning invoice: %w", err)
	}
	if state.Expired {
		return nil, nil, fmt.Errorf("lightning invoice already expired")
	}

	actionID := fmt.Sprintf("land-%s", uuid.New().String())
	session, _, err := m.sessions.getOrCreate(
		ctx, userPubkey, domain.SessionTypeLightningLand, actionID,
		map[string]any{"amount": float64(amountSats), "asset_id": assetID, "bolt11_invoice": bolt11},
		fmt.Sprintf("lightning land of %d sats", amountSats),
		time.Now().Add(defaultTotalTimeout).Unix(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create land session: %w", err)
	}

	invoice := domain.LightningInvoice{
		PaymentHash:      state.PaymentHash,
		Bolt11Invoice:    bolt11,
		SessionID:        session.SessionID,
		AmountSats:       amountSats,
		AssetID:          assetID,
		Status:           domain.InvoiceStatusPending,
		Type:             domain.InvoiceTypeLand,
		CreatedAt:        time.Now().Unix(),
		InvoiceExpiresAt: time.Now().Add(defaultTotalTimeout).Unix(),
	}
	if err := m.repo.Invoices().Create(ctx, invoice); err != nil {
		return nil, nil, fmt.Errorf("persist land invoice: %w", err)
	}
	return &invoice, session, nil
}

// settleLand pays the land invoice bound to sessionID and records the
// result. reconcile calls it when the daemon reports a land invoice settled.
func (m *lightningManager) settleLand(ctx context.Context, sessionID string) error {
	invoice, err := m.repo.Invoices().GetBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("invoice not found for session %s: %w", sessionID, err)
	}
	if invoice.Status == domain.InvoiceStatusSettled {
		return nil
	}

	resp, err := m.lnd.SendPayment(ctx, invoice.Bolt11Invoice)
	if err != nil {
		_ = m.repo.Invoices().SetFailed(ctx, invoice.PaymentHash)
		return fmt.Errorf("lightning daemon send payment: %w", err)
	}
	if !resp.Succeeded {
		_ = m.repo.Invoices().SetFailed(ctx, invoice.PaymentHash)
		return fmt.Errorf("lightning payment did not settle")
	}
	return m.repo.Invoices().SetSettled(ctx, invoice.PaymentHash)
}

// reconcile subscribes to the daemon's invoice-state stream and finalizes or
// retries the linked session on every settlement signal. It runs until ctx
// is cancelled.
func (m *lightningManager) reconcile(ctx context.Context) error {
	stream, err := m.lnd.SubscribeInvoices(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to invoice settlements: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-stream:
			if !ok {
				return nil
			}
			if !state.Settled {
				continue
			}
			invoice, err := m.repo.Invoices().Get(ctx, state.PaymentHash)
			if err != nil {
				log.WithError(err).WithField("payment_hash", state.PaymentHash).Warn("settlement for unknown invoice")
				continue
			}
			var reconcileErr error
			switch invoice.Type {
			case domain.InvoiceTypeLift:
				reconcileErr = m.settleLift(ctx, state.PaymentHash)
			case domain.InvoiceTypeLand:
				reconcileErr = m.settleLand(ctx, invoice.SessionID)
			}
			if reconcileErr != nil {
				log.WithError(reconcileErr).WithField("payment_hash", state.PaymentHash).Error("invoice reconciliation failed")
			}
		}
	}
}

// sweepExpiry marks pending invoices whose bolt11 expiry has elapsed as
// expired and fails the session they were bound to.
func (m *lightningManager) sweepExpiry(ctx context.Context, limit int) (int, error) {
	now := time.Now().Unix()
	expirable, err := m.repo.Invoices().ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expirable invoices: %w", err)
	}
	if len(expirable) == 0 {
		return 0, nil
	}
	hashes := make([]string, len(expirable))
	for i, inv := range expirable {
		hashes[i] = inv.PaymentHash
	}
	if err := m.repo.Invoices().ExpirePending(ctx, hashes); err != nil {
		return 0, fmt.Errorf("expire invoices: %w", err)
	}
	for _, inv := range expirable {
		session, err := m.repo.Sessions().Get(ctx, inv.SessionID)
		if err != nil || session.Status.IsTerminal() {
			continue
		}
		if err := m.sessions.fail(ctx, *session, domain.FailureKindExpired, "bound lightning invoice expired"); err != nil {
			log.WithError(err).WithField("session_id", inv.SessionID).Warn("failed to fail session for expired invoice")
		}
	}
	return len(expirable), nil
}
