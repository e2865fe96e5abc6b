// Package lnd adapts ports.LightningDaemon to lnd's real generated gRPC
// client (lnrpc), authenticated with a hex-encoded macaroon attached as
// per-RPC metadata rather than the gopkg.in/macaroon*.v2 library (justified
// in DESIGN.md: that library models macaroon minting/caveats the gateway
// never does, it only forwards an opaque macaroon lnd already issued).
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/ark-relay/gateway/internal/infrastructure/daemon/transport"
	"github.com/lightningnetwork/lnd/lnrpc"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const serviceName = "lnd"
const maxRetryAttempts = 3

// Config holds the connection details for a single lnd node.
type Config struct {
	Addr        string
	Insecure    bool
	TLSCertPath string
	MacaroonHex string
}

type client struct {
	rpc     lnrpc.LightningClient
	breaker *transport.CircuitBreaker
}

// macaroonCreds forwards lnd's already-issued macaroon as per-RPC metadata;
// it mints nothing and never decodes caveats, so the gopkg.in/macaroon*.v2
// minting library has no call site here.
type macaroonCreds struct {
	hex    string
	secure bool
}

func (m macaroonCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.hex}, nil
}

func (m macaroonCreds) RequireTransportSecurity() bool { return m.secure }

// NewClient dials lnd at cfg.Addr and returns a ports.LightningDaemon.
func NewClient(cfg Config) (ports.LightningDaemon, error) {
	var tlsCreds credentials.TransportCredentials
	if !cfg.Insecure && cfg.TLSCertPath != "" {
		creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
		if err != nil {
			return nil, fmt.Errorf("load lnd tls cert: %w", err)
		}
		tlsCreds = creds
	}

	var dialOpts []grpc.DialOption
	if cfg.MacaroonHex != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(macaroonCreds{
			hex:      cfg.MacaroonHex,
			secure:   !cfg.Insecure,
		}))
	}

	conn, err := transport.Dial(cfg.Addr, cfg.Insecure, tlsCreds, serviceName, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial lnd at %s: %w", cfg.Addr, err)
	}

	return &client{
		rpc:     lnrpc.NewLightningClient(conn),
		breaker: transport.NewCircuitBreaker(),
	}, nil
}

func (c *client) GetBalances(ctx context.Context) (ports.LightningBalances, error) {
	var resp *lnrpc.ChannelBalanceResponse
	err := transport.WithRetry(ctx, c.breaker, maxRetryAttempts, func() (err error) {
		resp, err = c.rpc.ChannelBalance(ctx, &lnrpc.ChannelBalanceRequest{})
		return err
	})
	if err != nil {
		return ports.LightningBalances{}, err
	}

	var local, remote uint64
	if resp.LocalBalance != nil {
		local = resp.LocalBalance.Sat
	}
	if resp.RemoteBalance != nil {
		remote = resp.RemoteBalance.Sat
	}
	return ports.LightningBalances{
		LocalBalanceSats:  int64(local),
		RemoteBalanceSats: int64(remote),
	}, nil
}

func (c *client) ListChannels(ctx context.Context) ([]ports.LightningChannel, error) {
	var resp *lnrpc.ListChannelsResponse
	err := transport.WithRetry(ctx, c.breaker, maxRetryAttempts, func() (err error) {
		resp, err = c.rpc.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}

	channels := make([]ports.LightningChannel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		channels = append(channels, ports.LightningChannel{
			ChannelID: fmt.Sprintf("%d", ch.ChanId),
			Capacity:  ch.Capacity,
			Active:    ch.Active,
		})
	}
	return channels, nil
}

func (c *client) AddInvoice(ctx context.Context, req ports.AddInvoiceRequest) (ports.AddInvoiceResponse, error) {
	var resp *lnrpc.AddInvoiceResponse
	err := transport.WithRetry(ctx, c.breaker, maxRetryAttempts, func() (err error) {
		resp, err = c.rpc.AddInvoice(ctx, &lnrpc.Invoice{
			Value:  req.AmountSats,
			Memo:   req.Memo,
			Expiry: req.ExpirySecs,
		})
		return err
	})
	if err != nil {
		return ports.AddInvoiceResponse{}, err
	}

	return ports.AddInvoiceResponse{
		PaymentHash:   hex.EncodeToString(resp.RHash),
		Bolt11Invoice: resp.PaymentRequest,
		ExpiresAt:     time.Now().Unix() + req.ExpirySecs,
	}, nil
}

func (c *client) LookupInvoice(ctx context.Context, paymentHash string) (ports.InvoiceState, error) {
	rHash, err := hex.DecodeString(paymentHash)
	if err != nil {
		return ports.InvoiceState{}, fmt.Errorf("invalid payment hash %q: %w", paymentHash, err)
	}

	var inv *lnrpc.Invoice
	err = transport.WithRetry(ctx, c.breaker, maxRetryAttempts, func() (err error) {
		inv, err = c.rpc.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: rHash})
		return err
	})
	if err != nil {
		return ports.InvoiceState{}, err
	}

	return ports.InvoiceState{
		PaymentHash: paymentHash,
		Settled:     inv.State == lnrpc.Invoice_SETTLED,
		Expired:     inv.State == lnrpc.Invoice_CANCELED,
	}, nil
}

func (c *client) SendPayment(ctx context.Context, bolt11 string) (ports.SendPaymentResponse, error) {
	var resp *lnrpc.SendResponse
	err := transport.WithRetry(ctx, c.breaker, maxRetryAttempts, func() (err error) {
		resp, err = c.rpc.SendPaymentSync(ctx, &lnrpc.SendRequest{PaymentRequest: bolt11})
		return err
	})
	if err != nil {
		return ports.SendPaymentResponse{}, err
	}
	if resp.PaymentError != "" {
		return ports.SendPaymentResponse{
			PaymentHash: hex.EncodeToString(resp.PaymentHash),
			Succeeded:   false,
		}, fmt.Errorf("payment failed: %s", resp.PaymentError)
	}

	return ports.SendPaymentResponse{
		PaymentHash: hex.EncodeToString(resp.PaymentHash),
		Preimage:    hex.EncodeToString(resp.PaymentPreimage),
		Succeeded:   true,
	}, nil
}

// SubscribeInvoices streams invoice settlement notifications for the
// lifetime of ctx; the returned channel is closed when the stream ends.
func (c *client) SubscribeInvoices(ctx context.Context) (<-chan ports.InvoiceState, error) {
	stream, err := c.rpc.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{})
	if err != nil {
		return nil, fmt.Errorf("subscribe invoices: %w", err)
	}

	out := make(chan ports.InvoiceState, 32)
	go func() {
		defer close(out)
		for {
			inv, err := stream.Recv()
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			if err != nil {
				log.WithError(err).Warn("lnd invoice subscription ended")
				return
			}
			select {
			case out <- ports.InvoiceState{
				PaymentHash: hex.EncodeToString(inv.RHash),
				Settled:     inv.State == lnrpc.Invoice_SETTLED,
				Expired:     inv.State == lnrpc.Invoice_CANCELED,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
