package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/ark-relay/gateway/internal/infrastructure/tracing"
	"github.com/ark-relay/gateway/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultStepTimeout  = 5 * time.Minute
	defaultTotalTimeout = 30 * time.Minute
)

// signingOrchestrator drives the six-step ceremony (§4.7): intent
// verification, Ark/checkpoint transaction preparation, sequential signature
// collection through C6, Ark protocol execution, and all-or-nothing
// finalization. Its two entry points are run (called once a session is
// initiated) and handleResponse (called for every verified wallet reply).
type signingOrchestrator struct {
	repo       ports.RepoManager
	sessions   *sessionManager
	challenges *challengeManager
	txs        *transactionProcessor
	vtxos      *vtxoManager
	ark        ports.ArkDaemon
	relay      ports.RelayClient
}

func newSigningOrchestrator(
	repo ports.RepoManager, sessions *sessionManager, challenges *challengeManager,
	txs *transactionProcessor, vtxos *vtxoManager, ark ports.ArkDaemon, relay ports.RelayClient,
) *signingOrchestrator {
	return &signingOrchestrator{
		repo: repo, sessions: sessions, challenges: challenges,
		txs: txs, vtxos: vtxos, ark: ark, relay: relay,
	}
}

// run executes steps 1 through 3 and issues the first signing challenge. It
// is only valid from session status initiated.
func (o *signingOrchestrator) run(ctx context.Context, sessionID string) errors.Error {
	ctx, span := tracing.Tracer().Start(ctx, "ceremony.run", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	session, err := o.repo.Sessions().Get(ctx, sessionID)
	if err != nil {
		return errors.ValidationFailed.New("session not found: %s", sessionID)
	}
	if session.Status != domain.SessionStatusInitiated {
		return errors.ValidationFailed.New("session %s is not in initiated state", sessionID)
	}

	now := time.Now().Unix()
	ceremony := domain.CeremonyState{
		CurrentStep:         1,
		StartedAt:           now,
		StepStartedAt:       now,
		SignaturesCollected: map[string]string{},
	}

	if ferr := o.step1VerifyIntent(*session); ferr != nil {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindValidation, ferr.Error())
		return errors.ValidationFailed.Wrap(ferr)
	}
	ceremony.CompletedSteps = append(ceremony.CompletedSteps, 1)

	assignedVtxos, arkResp, ferr := o.step2PrepareArkTx(ctx, *session)
	if ferr != nil {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindBackendUnavailable, ferr.Error())
		return errors.BackendUnavailable.Wrap(ferr)
	}
	ceremony.ArkTxID = arkResp.ArkTxID
	ceremony.InputVtxoIDs = vtxoIDs(assignedVtxos)
	ceremony.CompletedSteps = append(ceremony.CompletedSteps, 2)

	checkpointResp, ferr := o.step3PrepareCheckpointTx(ctx, arkResp.ArkTxID)
	if ferr != nil {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindBackendUnavailable, ferr.Error())
		return errors.BackendUnavailable.Wrap(ferr)
	}
	ceremony.CheckpointTxID = checkpointResp.CheckpointTxID
	ceremony.CompletedSteps = append(ceremony.CompletedSteps, 3)

	combined := append(append([]ports.SigningPayloadRef{}, arkResp.SigningPayloads...), checkpointResp.SigningPayloads...)
	ceremony.SigningPayloads = make([]domain.SigningPayload, len(combined))
	for i, p := range combined {
		ceremony.SigningPayloads[i] = domain.SigningPayload{
			PayloadRef: p.PayloadRef,
			Blob:       p.Blob,
			StepIndex:  i + 1,
			StepTotal:  len(combined),
		}
	}
	ceremony.CurrentStep = 4

	if err := o.repo.Sessions().SaveResult(ctx, sessionID, ceremony); err != nil {
		return errors.InternalError.Wrap(err)
	}
	if err := o.sessions.transition(ctx, sessionID, domain.SessionStatusInitiated, domain.SessionStatusChallengeSent); err != nil {
		return errors.InternalError.Wrap(err)
	}

	if len(ceremony.SigningPayloads) == 0 {
		return errors.ValidationFailed.New("ark daemon returned no signing payloads for session %s", sessionID)
	}
	if ferr := o.issueChallenge(ctx, *session, ceremony.SigningPayloads[0]); ferr != nil {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindBackendUnavailable, ferr.Error())
		return errors.BackendUnavailable.Wrap(ferr)
	}

	if err := o.sessions.transition(ctx, sessionID, domain.SessionStatusChallengeSent, domain.SessionStatusAwaitingSignature); err != nil {
		return errors.InternalError.Wrap(err)
	}
	return nil
}

// step1VerifyIntent re-checks business preconditions for the session's type.
func (o *signingOrchestrator) step1VerifyIntent(session domain.SigningSession) error {
	switch session.SessionType {
	case domain.SessionTypeP2PTransfer:
		for _, field := range []string{"recipient_pubkey", "amount", "asset_id"} {
			if _, ok := session.IntentData[field]; !ok {
				return fmt.Errorf("missing required field: %s", field)
			}
		}
		amount, err := amountFromIntent(session.IntentData)
		if err != nil || amount == 0 {
			return fmt.Errorf("invalid amount: must be positive")
		}
		recipient, _ := session.IntentData["recipient_pubkey"].(string)
		if !isValidPubkey(recipient) {
			return fmt.Errorf("invalid recipient public key")
		}
	case domain.SessionTypeLightningLand, domain.SessionTypeLightningLift, domain.SessionTypeProtocolOp:
		for _, field := range []string{"amount", "asset_id"} {
			if _, ok := session.IntentData[field]; !ok {
				return fmt.Errorf("missing required field: %s", field)
			}
		}
		amount, err := amountFromIntent(session.IntentData)
		if err != nil || amount == 0 {
			return fmt.Errorf("invalid amount: must be positive")
		}
	default:
		return fmt.Errorf("unsupported session type %q", session.SessionType)
	}
	return nil
}

// step2PrepareArkTx assigns input VTXOs (spending types only) and asks the
// Ark daemon for the unsigned transaction and its signing payloads.
func (o *signingOrchestrator) step2PrepareArkTx(
	ctx context.Context, session domain.SigningSession,
) ([]domain.Vtxo, ports.PrepareArkTxResponse, error) {
	assetID, _ := session.IntentData["asset_id"].(string)
	amount, _ := amountFromIntent(session.IntentData)
	fee := transferFee(session.SessionType, amount)

	var inputVtxos []domain.Vtxo
	var outputs []ports.TxOutput
	var inputOutpoints []string

	switch session.SessionType {
	case domain.SessionTypeP2PTransfer:
		var err error
		inputVtxos, err = o.vtxos.assign(ctx, session.UserPubkey, assetID, amount+fee)
		if err != nil {
			return nil, ports.PrepareArkTxResponse{}, err
		}
		var sum uint64
		for _, v := range inputVtxos {
			inputOutpoints = append(inputOutpoints, v.Outpoint.String())
			sum += v.AmountSats
		}
		recipient, _ := session.IntentData["recipient_pubkey"].(string)
		outputs = append(outputs, ports.TxOutput{ScriptPubkey: mustHexDecode(recipient), AmountSats: amount})
		if change := sum - amount - fee; change > 0 {
			outputs = append(outputs, ports.TxOutput{ScriptPubkey: mustHexDecode(session.UserPubkey), AmountSats: change})
		}
	case domain.SessionTypeLightningLand, domain.SessionTypeProtocolOp:
		var err error
		inputVtxos, err = o.vtxos.assign(ctx, session.UserPubkey, assetID, amount+fee)
		if err != nil {
			return nil, ports.PrepareArkTxResponse{}, err
		}
		var sum uint64
		for _, v := range inputVtxos {
			inputOutpoints = append(inputOutpoints, v.Outpoint.String())
			sum += v.AmountSats
		}
		if change := sum - amount - fee; change > 0 {
			outputs = append(outputs, ports.TxOutput{ScriptPubkey: mustHexDecode(session.UserPubkey), AmountSats: change})
		}
	case domain.SessionTypeLightningLift:
		// A lift has no inputs: the new value enters the system on invoice
		// settlement rather than by spending an existing VTXO.
	}

	resp, err := o.ark.PrepareArkTx(ctx, ports.PrepareArkTxRequest{
		InputOutpoints: inputOutpoints,
		Outputs:        outputs,
	})
	if err != nil {
		return nil, ports.PrepareArkTxResponse{}, fmt.Errorf("ark daemon prepare ark tx: %w", err)
	}

	if _, terr := o.txs.prepare(ctx, session, resp.ArkTxID, transactionTypeFor(session.SessionType), amount); terr != nil {
		return nil, ports.PrepareArkTxResponse{}, terr
	}
	return inputVtxos, resp, nil
}

func (o *signingOrchestrator) step3PrepareCheckpointTx(
	ctx context.Context, arkTxID string,
) (ports.PrepareCheckpointTxResponse, error) {
	resp, err := o.ark.PrepareCheckpointTx(ctx, ports.PrepareCheckpointTxRequest{ArkTxID: arkTxID})
	if err != nil {
		return ports.PrepareCheckpointTxResponse{}, fmt.Errorf("ark daemon prepare checkpoint tx: %w", err)
	}
	return resp, nil
}

// issueChallenge sends a challenge for one signing payload and binds it to
// the session, publishing the wallet-facing DM through C3.
func (o *signingOrchestrator) issueChallenge(
	ctx context.Context, session domain.SigningSession, payload domain.SigningPayload,
) error {
	challenge, err := o.challenges.issue(
		ctx, session, domain.ChallengeKindSignTx, payload.Blob, payload.StepIndex, payload.StepTotal,
	)
	if err != nil {
		return err
	}
	wire := challengeWirePayload(*challenge)
	if err := o.relay.PublishChallenge(ctx, session.UserPubkey, wire); err != nil {
		return fmt.Errorf("publish challenge: %w", err)
	}
	return nil
}

func challengeWirePayload(c domain.SigningChallenge) []byte {
	return []byte(fmt.Sprintf(
		`{"challenge_id":%q,"session_id":%q,"payload_ref":%q,"step_index":%d,"step_total":%d,"context":%q}`,
		c.ChallengeID, c.SessionID, c.PayloadRef, c.StepIndex, c.StepTotal, c.Context,
	))
}

// handleResponse is step 4's per-response handler. It verifies the wallet
// signature, records it, and either issues the next challenge in sequence or
// proceeds through steps 5 and 6 once every payload is signed.
func (o *signingOrchestrator) handleResponse(ctx context.Context, in SigningResponseInput) errors.Error {
	session, err := o.repo.Sessions().Get(ctx, in.SessionID)
	if err != nil {
		return errors.ValidationFailed.New("session not found: %s", in.SessionID)
	}
	if session.Status != domain.SessionStatusChallengeSent && session.Status != domain.SessionStatusAwaitingSignature &&
		session.Status != domain.SessionStatusSigning {
		return errors.ValidationFailed.New("session %s is not accepting signatures", in.SessionID)
	}
	now := time.Now()
	if now.Unix() > session.ExpiresAt {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindExpired, "session expired during signature collection")
		return errors.Expired.New("session %s expired", in.SessionID)
	}
	if now.Unix()-session.Result.StartedAt > int64(defaultTotalTimeout.Seconds()) {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindTimeout, "ceremony exceeded total timeout")
		return errors.StepTimeout.New("session %s ceremony timed out", in.SessionID)
	}
	if now.Unix()-session.Result.StepStartedAt > int64(defaultStepTimeout.Seconds()) {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindTimeout, "signature collection step timed out")
		return errors.StepTimeout.New("session %s step timed out", in.SessionID)
	}

	challenge, verr := o.challenges.verify(ctx, in, *session)
	if verr != nil {
		_ = o.sessions.fail(ctx, *session, domain.FailureKindSignatureInvalid, verr.Error())
		return errors.SignatureInvalid.Wrap(verr)
	}

	ceremony := session.Result
	daemonRef := daemonPayloadRefForStep(ceremony, challenge.StepIndex)
	ceremony.SignaturesCollected[daemonRef] = hex.EncodeToString(in.Signature)
	if err := o.repo.Sessions().SaveResult(ctx, session.SessionID, ceremony); err != nil {
		return errors.InternalError.Wrap(err)
	}

	firstSignature := len(ceremony.SignaturesCollected) == 1
	if firstSignature {
		if err := o.sessions.transition(ctx, session.SessionID, domain.SessionStatusAwaitingSignature, domain.SessionStatusSigning); err != nil {
			return errors.InternalError.Wrap(err)
		}
	}

	if len(ceremony.SignaturesCollected) < len(ceremony.SigningPayloads) {
		next := ceremony.SigningPayloads[len(ceremony.SignaturesCollected)]
		if ferr := o.issueChallenge(ctx, *session, next); ferr != nil {
			_ = o.sessions.fail(ctx, *session, domain.FailureKindBackendUnavailable, ferr.Error())
			return errors.BackendUnavailable.Wrap(ferr)
		}
		ceremony.StepStartedAt = time.Now().Unix()
		if err := o.repo.Sessions().SaveResult(ctx, session.SessionID, ceremony); err != nil {
			log.WithError(err).WithField("session_id", session.SessionID).Warn("failed to refresh ceremony step timer")
		}
		return nil
	}

	return o.runStep5And6(ctx, *session, ceremony)
}

// runStep5And6 submits the collected signatures and, on success, finalizes
// the ceremony atomically.
func (o *signingOrchestrator) runStep5And6(
	ctx context.Context, session domain.SigningSession, ceremony domain.CeremonyState,
) errors.Error {
	sigs := make(map[string][]byte, len(ceremony.SignaturesCollected))
	for ref, hexSig := range ceremony.SignaturesCollected {
		b, err := hex.DecodeString(hexSig)
		if err != nil {
			_ = o.sessions.fail(ctx, session, domain.FailureKindInternal, "corrupt stored signature")
			return errors.InternalError.Wrap(err)
		}
		sigs[ref] = b
	}

	submitResp, err := o.ark.SubmitSignatures(ctx, ports.SubmitSignaturesRequest{
		ArkTxID:    ceremony.ArkTxID,
		Signatures: sigs,
	})
	if err != nil {
		_ = o.sessions.fail(ctx, session, domain.FailureKindConflict, err.Error())
		return errors.InputAlreadySpent.Wrap(err)
	}

	if err := o.finalize(ctx, session, ceremony, submitResp); err != nil {
		_ = o.sessions.fail(ctx, session, domain.FailureKindInternal, err.Error())
		return errors.InternalError.Wrap(err)
	}
	return nil
}

// finalize is step 6: broadcast, spend inputs, create outputs, and adjust
// balances. Each step is a separate repository call that commits on its own,
// made in the order broadcast, spend (with its balance adjustments), create
// outputs; a failure part way leaves the earlier steps committed.
func (o *signingOrchestrator) finalize(
	ctx context.Context, session domain.SigningSession, ceremony domain.CeremonyState, submitResp ports.SubmitSignaturesResponse,
) error {
	if err := o.txs.broadcast(ctx, ceremony.ArkTxID, submitResp.SignedTx); err != nil {
		return err
	}

	assetID, _ := session.IntentData["asset_id"].(string)
	amount, _ := amountFromIntent(session.IntentData)
	fee := transferFee(session.SessionType, amount)

	if len(ceremony.InputVtxoIDs) > 0 {
		if err := o.vtxos.spend(ctx, session.UserPubkey, assetID, ceremony.InputVtxoIDs, amount+fee, submitResp.Txid); err != nil {
			return err
		}
	}

	now := time.Now().Unix()
	var outputs []domain.Vtxo
	switch session.SessionType {
	case domain.SessionTypeP2PTransfer:
		recipient, _ := session.IntentData["recipient_pubkey"].(string)
		outputs = append(outputs, domain.Vtxo{
			VtxoID:     fmt.Sprintf("%s:0", submitResp.Txid),
			Outpoint:   domain.Outpoint{Txid: submitResp.Txid, VOut: 0},
			AmountSats: amount,
			AssetID:    assetID,
			UserPubkey: recipient,
			Status:     domain.VtxoStatusAssigned,
			ExpiresAt:  now + int64(vtxoDefaultLifetime.Seconds()),
			CreatedAt:  now,
		})
	}
	if len(outputs) > 0 {
		if err := o.repo.Vtxos().CreateOutputs(ctx, outputs); err != nil {
			return err
		}
	}

	if err := o.sessions.transition(ctx, session.SessionID, domain.SessionStatusSigning, domain.SessionStatusCompleted); err != nil {
		return err
	}
	if err := o.repo.Sessions().SetSignedTx(ctx, session.SessionID, hex.EncodeToString(submitResp.SignedTx)); err != nil {
		log.WithError(err).WithField("session_id", session.SessionID).Warn("failed to persist signed tx blob")
	}

	confirmation := []byte(fmt.Sprintf(
		`{"session_id":%q,"txid":%q,"session_type":%q,"amount_sats":%d}`,
		session.SessionID, submitResp.Txid, session.SessionType, amount,
	))
	if err := o.relay.PublishConfirmation(ctx, confirmation); err != nil {
		log.WithError(err).WithField("session_id", session.SessionID).Warn("failed to publish confirmation, database state already committed")
	}
	return nil
}

func vtxoIDs(vtxos []domain.Vtxo) []string {
	ids := make([]string, len(vtxos))
	for i, v := range vtxos {
		ids[i] = v.VtxoID
	}
	return ids
}

func daemonPayloadRefForStep(ceremony domain.CeremonyState, stepIndex int) string {
	for _, p := range ceremony.SigningPayloads {
		if p.StepIndex == stepIndex {
			return p.PayloadRef
		}
	}
	return ""
}

func transactionTypeFor(sessionType domain.SessionType) domain.TransactionType {
	switch sessionType {
	case domain.SessionTypeLightningLand:
		return domain.TransactionTypeLightningLand
	default:
		return domain.TransactionTypeP2PTransfer
	}
}

// amountFromIntent coerces the JSON-decoded amount field, which may arrive
// as a float64 (json.Unmarshal's default for numbers), an int64 or a uint64.
func amountFromIntent(data map[string]any) (uint64, error) {
	switch v := data["amount"].(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("negative amount")
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative amount")
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	default:
		return 0, fmt.Errorf("amount missing or not numeric")
	}
}

// isValidPubkey accepts hex-encoded x-only (32-byte) or compressed/
// uncompressed secp256k1 public keys.
func isValidPubkey(pubkey string) bool {
	switch len(pubkey) {
	case 64, 66, 130:
	default:
		return false
	}
	_, err := hex.DecodeString(pubkey)
	return err == nil
}
