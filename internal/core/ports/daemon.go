package ports

import "context"

// ArkDaemon is the adapter surface C7 and C9 drive against the Ark daemon:
// batch minting, Ark/checkpoint transaction preparation, signature
// submission, and L1 commitment scheduling.
type ArkDaemon interface {
	CreateVtxoBatch(ctx context.Context, req CreateVtxoBatchRequest) (CreateVtxoBatchResponse, error)
	QueryVtxo(ctx context.Context, outpoint string) (QueryVtxoResponse, error)

	// PrepareArkTx returns the unsigned Ark transaction and the per-input
	// signing payloads the orchestrator turns into signing challenges.
	PrepareArkTx(ctx context.Context, req PrepareArkTxRequest) (PrepareArkTxResponse, error)
	// PrepareCheckpointTx returns checkpoint signing payloads bound to an
	// already-prepared Ark transaction.
	PrepareCheckpointTx(ctx context.Context, req PrepareCheckpointTxRequest) (PrepareCheckpointTxResponse, error)
	// SubmitSignatures finalizes the ceremony server-side and returns the
	// fully signed, broadcastable transaction.
	SubmitSignatures(ctx context.Context, req SubmitSignaturesRequest) (SubmitSignaturesResponse, error)

	NetworkInfo(ctx context.Context) (NetworkInfoResponse, error)
	// CreateL1Commitment requests an L1 commitment transaction over a batch
	// of settled L2 state changes, used by the hourly settlement coordinator.
	CreateL1Commitment(ctx context.Context, req CreateL1CommitmentRequest) (CreateL1CommitmentResponse, error)
}

type CreateVtxoBatchRequest struct {
	AssetID string
	Count   int
}

type CreateVtxoBatchResponse struct {
	Vtxos []RawVtxo
}

type RawVtxo struct {
	Txid         string
	VOut         uint32
	AmountSats   uint64
	ScriptPubkey []byte
}

type QueryVtxoResponse struct {
	Found bool
	Spent bool
}

type PrepareArkTxRequest struct {
	InputOutpoints []string
	Outputs        []TxOutput
}

type TxOutput struct {
	ScriptPubkey []byte
	AmountSats   uint64
}

type PrepareArkTxResponse struct {
	ArkTxID         string
	UnsignedTxBlob  []byte
	SigningPayloads []SigningPayloadRef
}

type SigningPayloadRef struct {
	PayloadRef string
	Blob       []byte
}

type PrepareCheckpointTxRequest struct {
	ArkTxID string
}

type PrepareCheckpointTxResponse struct {
	CheckpointTxID  string
	SigningPayloads []SigningPayloadRef
}

type SubmitSignaturesRequest struct {
	ArkTxID    string
	Signatures map[string][]byte // payload_ref -> signature
}

type SubmitSignaturesResponse struct {
	SignedTx []byte
	Txid     string
}

type NetworkInfoResponse struct {
	Network     string
	BlockHeight uint32
}

type CreateL1CommitmentRequest struct {
	MerkleRoot string
	BatchID    string
}

type CreateL1CommitmentResponse struct {
	L1Txid      string
	BlockHeight uint32
}

// TapdDaemon is the adapter surface for permissionless asset operations:
// listing/transferring assets and proof handling, plus asset-denominated
// Lightning invoices where the daemon itself bridges to Lightning.
type TapdDaemon interface {
	ListAssets(ctx context.Context) ([]TapdAsset, error)
	TransferAsset(ctx context.Context, req TapdTransferRequest) (TapdTransferResponse, error)
	FetchProof(ctx context.Context, assetID, scriptKey string) ([]byte, error)
	VerifyProof(ctx context.Context, proof []byte) (bool, error)
	CreateAssetInvoice(ctx context.Context, req TapdInvoiceRequest) (TapdInvoiceResponse, error)
	PayAssetInvoice(ctx context.Context, invoice string) error
}

type TapdAsset struct {
	AssetID     string
	Name        string
	TotalSupply uint64
}

type TapdTransferRequest struct {
	AssetID   string
	Recipient string
	Amount    uint64
}

type TapdTransferResponse struct {
	AnchorTxid string
}

type TapdInvoiceRequest struct {
	AssetID string
	Amount  uint64
}

type TapdInvoiceResponse struct {
	Bolt11 string
}

// LightningDaemon is the adapter surface C10 drives against lnd: balances,
// channel info, invoice creation/lookup, and outbound payments.
type LightningDaemon interface {
	GetBalances(ctx context.Context) (LightningBalances, error)
	ListChannels(ctx context.Context) ([]LightningChannel, error)
	AddInvoice(ctx context.Context, req AddInvoiceRequest) (AddInvoiceResponse, error)
	LookupInvoice(ctx context.Context, paymentHash string) (InvoiceState, error)
	SendPayment(ctx context.Context, bolt11 string) (SendPaymentResponse, error)
	// SubscribeInvoices streams settlement notifications for invoices issued
	// by this node; used by the Lightning reconciliation watcher.
	SubscribeInvoices(ctx context.Context) (<-chan InvoiceState, error)
}

type LightningBalances struct {
	LocalBalanceSats  int64
	RemoteBalanceSats int64
}

type LightningChannel struct {
	ChannelID string
	Capacity  int64
	Active    bool
}

type AddInvoiceRequest struct {
	AmountSats int64
	Memo       string
	ExpirySecs int64
}

type AddInvoiceResponse struct {
	PaymentHash   string
	Bolt11Invoice string
	ExpiresAt     int64
}

type InvoiceState struct {
	PaymentHash string
	Settled     bool
	Expired     bool
}

type SendPaymentResponse struct {
	PaymentHash string
	Preimage    string
	Succeeded   bool
}
