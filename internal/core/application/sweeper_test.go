package application

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerkleRootSingleTxid(t *testing.T) {
	root := merkleRoot([]string{"abc"})
	require.NotEmpty(t, root)
	require.Len(t, root, 64) // hex-encoded sha256
}

func TestMerkleRootDeterministic(t *testing.T) {
	txids := []string{"tx1", "tx2", "tx3"}
	first := merkleRoot(txids)
	second := merkleRoot(append([]string{}, txids...))
	require.Equal(t, first, second)
}

func TestMerkleRootOddCountDiffersFromTruncated(t *testing.T) {
	three := merkleRoot([]string{"a", "b", "c"})
	two := merkleRoot([]string{"a", "b"})
	require.NotEqual(t, three, two)
}

func TestMerkleRootEmpty(t *testing.T) {
	require.Equal(t, "", merkleRoot(nil))
}

func TestSplitOwnerAssetKey(t *testing.T) {
	owner, asset := splitOwnerAssetKey("npub1abc|gBTC")
	require.Equal(t, "npub1abc", owner)
	require.Equal(t, "gBTC", asset)
}

func TestSplitOwnerAssetKeyNoSeparator(t *testing.T) {
	owner, asset := splitOwnerAssetKey("noseparator")
	require.Equal(t, "noseparator", owner)
	require.Equal(t, "", asset)
}

func TestL1CommitmentNoticeIncludesFields(t *testing.T) {
	notice := l1CommitmentNotice("gBTC", "l1txid123", 840000)
	require.Contains(t, string(notice), `"asset_id":"gBTC"`)
	require.Contains(t, string(notice), `"l1_txid":"l1txid123"`)
	require.Contains(t, string(notice), `"block_height":840000`)
}
