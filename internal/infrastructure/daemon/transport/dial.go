package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a client connection to addr with the gateway's standard daemon
// adapter stack: OTel span propagation via otelgrpc, and a unary
// interceptor chain holding the logging interceptor via go-grpc-middleware.
func Dial(addr string, insecureConn bool, tlsCreds credentials.TransportCredentials, serviceName string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if !insecureConn {
		if tlsCreds == nil {
			tlsCreds = credentials.NewTLS(nil)
		}
		creds = tlsCreds
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(middleware.ChainUnaryClient(
			loggingInterceptor(serviceName),
		)),
	}, extra...)

	return grpc.NewClient(addr, opts...)
}

func loggingInterceptor(serviceName string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		entry := log.WithFields(log.Fields{
			"daemon":  serviceName,
			"method":  method,
			"elapsed": time.Since(start),
		})
		if err != nil {
			entry.WithError(err).Warn("daemon rpc failed")
		} else {
			entry.Debug("daemon rpc ok")
		}
		return err
	}
}

// WithRetry runs fn under the breaker, retrying transient failures with
// exponential backoff (base 1s, factor 2, cap 30s) up to maxAttempts times.
func WithRetry(ctx context.Context, breaker *CircuitBreaker, maxAttempts int, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = breaker.Call(fn)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
