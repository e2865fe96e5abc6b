// Package arkd adapts ports.ArkDaemon to a generic gRPC connection: arkd's
// wire protocol is out of scope for this gateway (SPEC_FULL Non-goals), so
// every RPC is carried as a structpb.Struct request/response pair over a
// plain grpc.ClientConn rather than against hand-authored service stubs,
// per the original gateway's grpc_clients/arkd_client.py shape.
package arkd

import (
	"context"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/ark-relay/gateway/internal/infrastructure/daemon/transport"
	"google.golang.org/grpc"
)

const serviceName = "arkd"

// service names mirror arkd's (unspecified-here) gRPC surface; they exist
// only as routing keys for InvokeJSON, not as generated method stubs.
const (
	methodCreateVtxoBatch     = "/arkd.ArkService/CreateVtxoBatch"
	methodQueryVtxo           = "/arkd.ArkService/QueryVtxo"
	methodPrepareArkTx        = "/arkd.ArkService/PrepareArkTx"
	methodPrepareCheckpointTx = "/arkd.ArkService/PrepareCheckpointTx"
	methodSubmitSignatures    = "/arkd.ArkService/SubmitSignatures"
	methodNetworkInfo         = "/arkd.ArkService/NetworkInfo"
	methodCreateL1Commitment  = "/arkd.ArkService/CreateL1Commitment"
)

const maxRetryAttempts = 3

type client struct {
	conn    *grpc.ClientConn
	breaker *transport.CircuitBreaker
}

// NewClient dials addr and returns a ports.ArkDaemon backed by it.
func NewClient(addr string, insecure bool) (ports.ArkDaemon, error) {
	conn, err := transport.Dial(addr, insecure, nil, serviceName)
	if err != nil {
		return nil, fmt.Errorf("dial arkd at %s: %w", addr, err)
	}
	return &client{conn: conn, breaker: transport.NewCircuitBreaker()}, nil
}

func (c *client) invoke(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	var resp map[string]any
	invoker := func(ctx context.Context, method string, args, reply any) error {
		return c.conn.Invoke(ctx, method, args, reply)
	}
	err := transport.WithRetry(ctx, c.breaker, maxRetryAttempts, func() error {
		return transport.InvokeJSON(ctx, invoker, method, req, &resp)
	})
	return resp, err
}

func (c *client) CreateVtxoBatch(ctx context.Context, req ports.CreateVtxoBatchRequest) (ports.CreateVtxoBatchResponse, error) {
	resp, err := c.invoke(ctx, methodCreateVtxoBatch, map[string]any{
		"asset_id": req.AssetID,
		"count":    float64(req.Count),
	})
	if err != nil {
		return ports.CreateVtxoBatchResponse{}, err
	}

	rawVtxos, _ := resp["vtxos"].([]any)
	vtxos := make([]ports.RawVtxo, 0, len(rawVtxos))
	for _, raw := range rawVtxos {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		vtxos = append(vtxos, ports.RawVtxo{
			Txid:         stringField(m, "txid"),
			VOut:         uint32(numberField(m, "vout")),
			AmountSats:   uint64(numberField(m, "amount_sats")),
			ScriptPubkey: []byte(stringField(m, "script_pubkey")),
		})
	}
	return ports.CreateVtxoBatchResponse{Vtxos: vtxos}, nil
}

func (c *client) QueryVtxo(ctx context.Context, outpoint string) (ports.QueryVtxoResponse, error) {
	resp, err := c.invoke(ctx, methodQueryVtxo, map[string]any{"outpoint": outpoint})
	if err != nil {
		return ports.QueryVtxoResponse{}, err
	}
	return ports.QueryVtxoResponse{
		Found: boolField(resp, "found"),
		Spent: boolField(resp, "spent"),
	}, nil
}

func (c *client) PrepareArkTx(ctx context.Context, req ports.PrepareArkTxRequest) (ports.PrepareArkTxResponse, error) {
	outputs := make([]any, 0, len(req.Outputs))
	for _, o := range req.Outputs {
		outputs = append(outputs, map[string]any{
			"script_pubkey": string(o.ScriptPubkey),
			"amount_sats":   float64(o.AmountSats),
		})
	}
	inputs := make([]any, 0, len(req.InputOutpoints))
	for _, in := range req.InputOutpoints {
		inputs = append(inputs, in)
	}

	resp, err := c.invoke(ctx, methodPrepareArkTx, map[string]any{
		"input_outpoints": inputs,
		"outputs":         outputs,
	})
	if err != nil {
		return ports.PrepareArkTxResponse{}, err
	}
	return ports.PrepareArkTxResponse{
		ArkTxID:         stringField(resp, "ark_txid"),
		UnsignedTxBlob:  []byte(stringField(resp, "unsigned_tx_blob")),
		SigningPayloads: signingPayloadsField(resp, "signing_payloads"),
	}, nil
}

func (c *client) PrepareCheckpointTx(ctx context.Context, req ports.PrepareCheckpointTxRequest) (ports.PrepareCheckpointTxResponse, error) {
	resp, err := c.invoke(ctx, methodPrepareCheckpointTx, map[string]any{"ark_txid": req.ArkTxID})
	if err != nil {
		return ports.PrepareCheckpointTxResponse{}, err
	}
	return ports.PrepareCheckpointTxResponse{
		CheckpointTxID:  stringField(resp, "checkpoint_txid"),
		SigningPayloads: signingPayloadsField(resp, "signing_payloads"),
	}, nil
}

func (c *client) SubmitSignatures(ctx context.Context, req ports.SubmitSignaturesRequest) (ports.SubmitSignaturesResponse, error) {
	sigs := make(map[string]any, len(req.Signatures))
	for ref, sig := range req.Signatures {
		sigs[ref] = string(sig)
	}
	resp, err := c.invoke(ctx, methodSubmitSignatures, map[string]any{
		"ark_txid":   req.ArkTxID,
		"signatures": sigs,
	})
	if err != nil {
		return ports.SubmitSignaturesResponse{}, err
	}
	return ports.SubmitSignaturesResponse{
		SignedTx: []byte(stringField(resp, "signed_tx")),
		Txid:     stringField(resp, "txid"),
	}, nil
}

func (c *client) NetworkInfo(ctx context.Context) (ports.NetworkInfoResponse, error) {
	resp, err := c.invoke(ctx, methodNetworkInfo, map[string]any{})
	if err != nil {
		return ports.NetworkInfoResponse{}, err
	}
	return ports.NetworkInfoResponse{
		Network:     stringField(resp, "network"),
		BlockHeight: uint32(numberField(resp, "block_height")),
	}, nil
}

func (c *client) CreateL1Commitment(ctx context.Context, req ports.CreateL1CommitmentRequest) (ports.CreateL1CommitmentResponse, error) {
	resp, err := c.invoke(ctx, methodCreateL1Commitment, map[string]any{
		"merkle_root": req.MerkleRoot,
		"batch_id":    req.BatchID,
	})
	if err != nil {
		return ports.CreateL1CommitmentResponse{}, err
	}
	return ports.CreateL1CommitmentResponse{
		L1Txid:      stringField(resp, "l1_txid"),
		BlockHeight: uint32(numberField(resp, "block_height")),
	}, nil
}

func signingPayloadsField(m map[string]any, key string) []ports.SigningPayloadRef {
	raw, _ := m[key].([]any)
	out := make([]ports.SigningPayloadRef, 0, len(raw))
	for _, r := range raw {
		entry, ok := r.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, ports.SigningPayloadRef{
			PayloadRef: stringField(entry, "payload_ref"),
			Blob:       []byte(stringField(entry, "blob")),
		})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) float64 {
	n, _ := m[key].(float64)
	return n
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
