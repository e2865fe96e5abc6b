package application

import (
	"testing"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestTransferFeeBySessionType(t *testing.T) {
	require.Equal(t, uint64(10), transferFee(domain.SessionTypeP2PTransfer, 100_000))
	require.Equal(t, uint64(0), transferFee(domain.SessionTypeLightningLift, 100_000))
	require.Equal(t, uint64(1_000), transferFee(domain.SessionTypeLightningLand, 1_000_000))
	require.Equal(t, uint64(0), transferFee(domain.SessionTypeProtocolOp, 100_000))
}

func TestTransferFeeLightningLandRoundsDown(t *testing.T) {
	// 999 sats * 10bps / 10000 = 0.999 -> truncates to 0
	require.Equal(t, uint64(0), transferFee(domain.SessionTypeLightningLand, 999))
}

func TestAmountFromIntentAcceptsNumericTypes(t *testing.T) {
	amount, err := amountFromIntent(map[string]any{"amount": float64(5000)})
	require.NoError(t, err)
	require.Equal(t, uint64(5000), amount)

	amount, err = amountFromIntent(map[string]any{"amount": int64(7)})
	require.NoError(t, err)
	require.Equal(t, uint64(7), amount)

	amount, err = amountFromIntent(map[string]any{"amount": uint64(9)})
	require.NoError(t, err)
	require.Equal(t, uint64(9), amount)
}

func TestAmountFromIntentRejectsMissingOrNegative(t *testing.T) {
	_, err := amountFromIntent(map[string]any{})
	require.Error(t, err)

	_, err = amountFromIntent(map[string]any{"amount": float64(-1)})
	require.Error(t, err)

	_, err = amountFromIntent(map[string]any{"amount": "not a number"})
	require.Error(t, err)
}

func TestIsValidPubkeyAcceptsKnownLengths(t *testing.T) {
	xonly := "a5d8f7e5e1c3b2a1a5d8f7e5e1c3b2a1a5d8f7e5e1c3b2a1a5d8f7e5e1c3b2a1"
	require.True(t, isValidPubkey(xonly))

	compressed := "02" + xonly
	require.True(t, isValidPubkey(compressed))
}

func TestIsValidPubkeyRejectsBadInput(t *testing.T) {
	require.False(t, isValidPubkey("not-hex-and-wrong-length"))
	require.False(t, isValidPubkey(""))
	require.False(t, isValidPubkey("zz"))
}

func TestDeriveSessionIDDeterministic(t *testing.T) {
	intent := map[string]any{"amount": float64(1000), "asset_id": "gBTC"}
	id1, err := deriveSessionID("userpub", domain.SessionTypeP2PTransfer, intent)
	require.NoError(t, err)
	id2, err := deriveSessionID("userpub", domain.SessionTypeP2PTransfer, intent)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestDeriveSessionIDFieldOrderIndependent(t *testing.T) {
	a := map[string]any{"amount": float64(1000), "asset_id": "gBTC"}
	b := map[string]any{"asset_id": "gBTC", "amount": float64(1000)}
	id1, err := deriveSessionID("userpub", domain.SessionTypeP2PTransfer, a)
	require.NoError(t, err)
	id2, err := deriveSessionID("userpub", domain.SessionTypeP2PTransfer, b)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestDeriveSessionIDDiffersByUserOrType(t *testing.T) {
	intent := map[string]any{"amount": float64(1000)}
	byUser, _ := deriveSessionID("userA", domain.SessionTypeP2PTransfer, intent)
	byOtherUser, _ := deriveSessionID("userB", domain.SessionTypeP2PTransfer, intent)
	require.NotEqual(t, byUser, byOtherUser)

	byType, _ := deriveSessionID("userA", domain.SessionTypeLightningLand, intent)
	require.NotEqual(t, byUser, byType)
}

func TestDigestPayloadRefDeterministic(t *testing.T) {
	ref1 := digestPayloadRef("session1", 1, []byte("blob"))
	ref2 := digestPayloadRef("session1", 1, []byte("blob"))
	require.Equal(t, ref1, ref2)

	refOtherStep := digestPayloadRef("session1", 2, []byte("blob"))
	require.NotEqual(t, ref1, refOtherStep)
}

func TestDaemonPayloadRefForStep(t *testing.T) {
	ceremony := domain.CeremonyState{
		SigningPayloads: []domain.SigningPayload{
			{PayloadRef: "ref-1", StepIndex: 1},
			{PayloadRef: "ref-2", StepIndex: 2},
		},
	}
	require.Equal(t, "ref-1", daemonPayloadRefForStep(ceremony, 1))
	require.Equal(t, "ref-2", daemonPayloadRefForStep(ceremony, 2))
	require.Equal(t, "", daemonPayloadRefForStep(ceremony, 3))
}

func TestTransactionTypeFor(t *testing.T) {
	require.Equal(t, domain.TransactionTypeLightningLand, transactionTypeFor(domain.SessionTypeLightningLand))
	require.Equal(t, domain.TransactionTypeP2PTransfer, transactionTypeFor(domain.SessionTypeP2PTransfer))
	require.Equal(t, domain.TransactionTypeP2PTransfer, transactionTypeFor(domain.SessionTypeLightningLift))
}

func TestVtxoIDsExtractsIdentifiers(t *testing.T) {
	vtxos := []domain.Vtxo{{VtxoID: "a"}, {VtxoID: "b"}}
	require.Equal(t, []string{"a", "b"}, vtxoIDs(vtxos))
	require.Empty(t, vtxoIDs(nil))
}

func TestSessionTypeFromWire(t *testing.T) {
	require.Equal(t, domain.SessionTypeP2PTransfer, sessionTypeFromWire("p2p_transfer"))
	require.Equal(t, domain.SessionTypeLightningLift, sessionTypeFromWire("lightning_lift"))
	require.Equal(t, domain.SessionTypeLightningLand, sessionTypeFromWire("lightning_land"))
	require.Equal(t, domain.SessionTypeProtocolOp, sessionTypeFromWire("something_else"))
}
