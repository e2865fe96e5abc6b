// Package nostrrelay implements ports.RelayClient over the nostr overlay
// network: encrypted NIP-04 direct messages carry the per-recipient
// challenge/failure/intent/signing_response traffic, and a plain
// application-data event (NIP-78 style) carries the two public
// confirmation/l1_commitment broadcasts, the way the teacher's
// nostr_notifier package builds and signs events against go-nostr.
package nostrrelay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	log "github.com/sirupsen/logrus"
)

// kindTag is the custom tag carrying the gateway's semantic RelayEventKind;
// it rides alongside the NIP-04 encryption envelope (for DMs) or in the
// clear (for public events) so a receiver can route without guessing.
const kindTag = "t"

// kindPublicEvent is the application-data kind (NIP-78 range) used for the
// two broadcasts every subscriber can read unencrypted.
const kindPublicEvent = 30078

const dedupeCapacity = 4096

type client struct {
	privKey string
	pubKey  string
	urls    []string

	mu      sync.Mutex
	conns   map[string]*nostr.Relay
	healthy int32

	inbound chan ports.InboundEvent

	seenMu sync.Mutex
	seen   map[string]struct{}
	order  []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient returns a RelayClient signing as privKeyHex (32-byte hex nostr
// secret key) and connecting to every URL in relayURLs.
func NewClient(privKeyHex string, relayURLs []string) (ports.RelayClient, error) {
	if privKeyHex == "" {
		return nil, fmt.Errorf("nostr relay client: private key is required")
	}
	if len(relayURLs) == 0 {
		return nil, fmt.Errorf("nostr relay client: at least one relay URL is required")
	}
	pubKey, err := nostr.GetPublicKey(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("nostr relay client: invalid private key: %w", err)
	}
	for _, u := range relayURLs {
		if !nostr.IsValidRelayURL(u) {
			return nil, fmt.Errorf("nostr relay client: invalid relay url %q", u)
		}
	}

	return &client{
		privKey: privKeyHex,
		pubKey:  pubKey,
		urls:    relayURLs,
		conns:   make(map[string]*nostr.Relay, len(relayURLs)),
		inbound: make(chan ports.InboundEvent, 256),
		seen:    make(map[string]struct{}, dedupeCapacity),
	}, nil
}

func (c *client) Inbound() <-chan ports.InboundEvent { return c.inbound }

func (c *client) HealthyRelayCount() int { return int(atomic.LoadInt32(&c.healthy)) }

// Start dials every configured relay and keeps a reconnect loop running per
// relay for the lifetime of ctx; it returns once the first connection
// attempt round has completed for every relay (successful or not).
func (c *client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	var wg sync.WaitGroup
	for _, url := range c.urls {
		wg.Add(1)
		c.wg.Add(1)
		go func(url string) {
			defer c.wg.Done()
			first := make(chan struct{})
			go c.maintain(runCtx, url, first)
			select {
			case <-first:
			case <-runCtx.Done():
			}
			wg.Done()
		}(url)
	}
	wg.Wait()

	if c.HealthyRelayCount() == 0 {
		log.Warn("nostr relay client: no relay reachable at startup, will keep retrying in background")
	}
	return nil
}

// maintain keeps a single relay connection alive, reconnecting with
// exponential backoff whenever the subscription loop exits.
func (c *client) maintain(ctx context.Context, url string, first chan struct{}) {
	notifyFirst := sync.OnceFunc(func() { close(first) })
	defer notifyFirst()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			log.WithError(err).WithField("relay", url).Warn("nostr relay connect failed")
			notifyFirst()
			c.sleepBackoff(ctx, bo)
			continue
		}

		c.mu.Lock()
		c.conns[url] = relay
		c.mu.Unlock()
		atomic.AddInt32(&c.healthy, 1)
		bo.Reset()
		notifyFirst()

		c.consume(ctx, relay)

		atomic.AddInt32(&c.healthy, -1)
		c.mu.Lock()
		delete(c.conns, url)
		c.mu.Unlock()
		relay.Close()

		if ctx.Err() != nil {
			return
		}
		c.sleepBackoff(ctx, bo)
	}
}

func (c *client) sleepBackoff(ctx context.Context, bo backoff.BackOff) {
	select {
	case <-time.After(bo.NextBackOff()):
	case <-ctx.Done():
	}
}

// consume subscribes to the gateway's inbound filters and forwards decoded
// events until the subscription or relay connection ends.
func (c *client) consume(ctx context.Context, relay *nostr.Relay) {
	filters := nostr.Filters{
		{Kinds: []int{nostr.KindEncryptedDirectMessage}, Tags: nostr.TagMap{"p": []string{c.pubKey}}},
		{Kinds: []int{kindPublicEvent}},
	}
	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		log.WithError(err).WithField("relay", relay.URL).Warn("nostr subscribe failed")
		return
	}
	defer sub.Unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.EndOfStoredEvents:
			continue
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev == nil {
				continue
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *client) handleEvent(_ context.Context, ev *nostr.Event) {
	if c.markSeen(ev.ID) {
		return
	}

	tags := make(map[string]string, len(ev.Tags))
	for _, t := range ev.Tags {
		if len(t) >= 2 {
			tags[t[0]] = t[1]
		}
	}

	kind := ports.RelayEventKind(tags[kindTag])
	content := []byte(ev.Content)

	if ev.Kind == nostr.KindEncryptedDirectMessage {
		plain, err := c.decrypt(ev.PubKey, ev.Content)
		if err != nil {
			log.WithError(err).WithField("event", ev.ID).Warn("failed to decrypt nostr DM")
			return
		}
		content = []byte(plain)
	}

	select {
	case c.inbound <- ports.InboundEvent{
		EventID:      ev.ID,
		Kind:         kind,
		AuthorPubkey: ev.PubKey,
		Content:      content,
		Tags:         tags,
		ReceivedAt:   int64(ev.CreatedAt),
	}:
	default:
		log.WithField("event", ev.ID).Warn("nostr inbound channel full, dropping event")
	}
}

func (c *client) decrypt(senderPubkey, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(senderPubkey, c.privKey)
	if err != nil {
		return "", fmt.Errorf("compute shared secret: %w", err)
	}
	return nip04.Decrypt(ciphertext, shared)
}

func (c *client) markSeen(id string) (duplicate bool) {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[id]; ok {
		return true
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > dedupeCapacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	return false
}

func (c *client) PublishChallenge(ctx context.Context, recipientPubkey string, payload []byte) error {
	return c.publishDM(ctx, recipientPubkey, ports.RelayEventSigningChallenge, payload)
}

func (c *client) PublishFailure(ctx context.Context, recipientPubkey string, payload []byte) error {
	return c.publishDM(ctx, recipientPubkey, ports.RelayEventFailure, payload)
}

func (c *client) publishDM(ctx context.Context, recipientPubkey string, kind ports.RelayEventKind, payload []byte) error {
	if !nostr.IsValidPublicKey(recipientPubkey) {
		return fmt.Errorf("invalid recipient pubkey: %s", recipientPubkey)
	}
	shared, err := nip04.ComputeSharedSecret(recipientPubkey, c.privKey)
	if err != nil {
		return fmt.Errorf("compute shared secret: %w", err)
	}
	encrypted, err := nip04.Encrypt(string(payload), shared)
	if err != nil {
		return fmt.Errorf("encrypt dm: %w", err)
	}

	ev := &nostr.Event{
		PubKey:    c.pubKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", recipientPubkey}, {kindTag, string(kind)}},
		Content:   encrypted,
	}
	if err := ev.Sign(c.privKey); err != nil {
		return fmt.Errorf("sign dm: %w", err)
	}
	return c.broadcast(ctx, ev)
}

func (c *client) PublishConfirmation(ctx context.Context, payload []byte) error {
	return c.publishPublic(ctx, ports.RelayEventConfirmation, payload)
}

func (c *client) PublishL1Commitment(ctx context.Context, payload []byte) error {
	return c.publishPublic(ctx, ports.RelayEventL1Commitment, payload)
}

func (c *client) publishPublic(ctx context.Context, kind ports.RelayEventKind, payload []byte) error {
	ev := &nostr.Event{
		PubKey:    c.pubKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kindPublicEvent,
		Tags:      nostr.Tags{{kindTag, string(kind)}},
		Content:   string(payload),
	}
	if err := ev.Sign(c.privKey); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return c.broadcast(ctx, ev)
}

// broadcast publishes ev to every currently connected relay and succeeds if
// at least one accepts it, mirroring the teacher notifier's best-effort fanout.
func (c *client) broadcast(ctx context.Context, ev *nostr.Event) error {
	c.mu.Lock()
	relays := make([]*nostr.Relay, 0, len(c.conns))
	for _, r := range c.conns {
		relays = append(relays, r)
	}
	c.mu.Unlock()

	if len(relays) == 0 {
		return fmt.Errorf("no healthy relay connections available")
	}

	var wg sync.WaitGroup
	var successes atomic.Bool
	for _, relay := range relays {
		wg.Add(1)
		go func(r *nostr.Relay) {
			defer wg.Done()
			if err := r.Publish(ctx, *ev); err != nil {
				log.WithError(err).WithField("relay", r.URL).Warn("failed to publish nostr event")
				return
			}
			successes.Store(true)
		}(relay)
	}
	wg.Wait()

	if !successes.Load() {
		return fmt.Errorf("failed to publish event %s to any relay", ev.ID)
	}
	return nil
}

func (c *client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	for _, r := range c.conns {
		r.Close()
	}
	c.conns = make(map[string]*nostr.Relay)
	c.mu.Unlock()

	close(c.inbound)
	return nil
}
