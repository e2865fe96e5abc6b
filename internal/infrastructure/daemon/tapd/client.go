// Package tapd adapts ports.TapdDaemon the same way internal/infrastructure
// daemon/arkd adapts ports.ArkDaemon: tapd's wire protocol is out of scope
// (SPEC_FULL Non-goals), so RPCs carry structpb.Struct payloads over a
// generic grpc.ClientConn instead of hand-authored service stubs.
package tapd

import (
	"context"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/ark-relay/gateway/internal/infrastructure/daemon/transport"
	"google.golang.org/grpc"
)

const serviceName = "tapd"
const maxRetryAttempts = 3

const (
	methodListAssets        = "/tapd.TaprootAssets/ListAssets"
	methodTransferAsset     = "/tapd.TaprootAssets/TransferAsset"
	methodFetchProof        = "/tapd.TaprootAssets/FetchProof"
	methodVerifyProof       = "/tapd.TaprootAssets/VerifyProof"
	methodCreateAssetInvoice = "/tapd.TaprootAssets/CreateAssetInvoice"
	methodPayAssetInvoice   = "/tapd.TaprootAssets/PayAssetInvoice"
)

type client struct {
	conn    *grpc.ClientConn
	breaker *transport.CircuitBreaker
}

// NewClient dials addr and returns a ports.TapdDaemon backed by it.
func NewClient(addr string, insecure bool) (ports.TapdDaemon, error) {
	conn, err := transport.Dial(addr, insecure, nil, serviceName)
	if err != nil {
		return nil, fmt.Errorf("dial tapd at %s: %w", addr, err)
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

func (c *client) ListAssets(ctx context.Context) ([]ports.TapdAsset, error) {
	resp, err := c.invoke(ctx, methodListAssets, map[string]any{})
	if err != nil {
		return nil, err
	}
	raw, _ := resp["assets"].([]any)
	assets := make([]ports.TapdAsset, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		assets = append(assets, ports.TapdAsset{
			AssetID:     stringField(m, "asset_id"),
			Name:        stringField(m, "name"),
			TotalSupply: uint64(numberField(m, "total_supply")),
		})
	}
	return assets, nil
}

func (c *client) TransferAsset(ctx context.Context, req ports.TapdTransferRequest) (ports.TapdTransferResponse, error) {
	resp, err := c.invoke(ctx, methodTransferAsset, map[string]any{
		"asset_id":  req.AssetID,
		"recipient": req.Recipient,
		"amount":    float64(req.Amount),
	})
	if err != nil {
		return ports.TapdTransferResponse{}, err
	}
	return ports.TapdTransferResponse{AnchorTxid: stringField(resp, "anchor_txid")}, nil
}

func (c *client) FetchProof(ctx context.Context, assetID, scriptKey string) ([]byte, error) {
	resp, err := c.invoke(ctx, methodFetchProof, map[string]any{
		"asset_id":   assetID,
		"script_key": scriptKey,
	})
	if err != nil {
		return nil, err
	}
	return []byte(stringField(resp, "proof")), nil
}

func (c *client) VerifyProof(ctx context.Context, proof []byte) (bool, error) {
	resp, err := c.invoke(ctx, methodVerifyProof, map[string]any{"proof": string(proof)})
	if err != nil {
		return false, err
	}
	return boolField(resp, "valid"), nil
}

func (c *client) CreateAssetInvoice(ctx context.Context, req ports.TapdInvoiceRequest) (ports.TapdInvoiceResponse, error) {
	resp, err := c.invoke(ctx, methodCreateAssetInvoice, map[string]any{
		"asset_id": req.AssetID,
		"amount":   float64(req.Amount),
	})
	if err != nil {
		return ports.TapdInvoiceResponse{}, err
	}
	return ports.TapdInvoiceResponse{Bolt11: stringField(resp, "bolt11")}, nil
}

func (c *client) PayAssetInvoice(ctx context.Context, invoice string) error {
	_, err := c.invoke(ctx, methodPayAssetInvoice, map[string]any{"invoice": invoice})
	return err
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
