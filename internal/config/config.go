package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ark-relay/gateway/internal/core/application"
	"github.com/ark-relay/gateway/internal/core/ports"
	arkdaemon "github.com/ark-relay/gateway/internal/infrastructure/daemon/arkd"
	lnddaemon "github.com/ark-relay/gateway/internal/infrastructure/daemon/lnd"
	tapddaemon "github.com/ark-relay/gateway/internal/infrastructure/daemon/tapd"
	"github.com/ark-relay/gateway/internal/infrastructure/db"
	pgdb "github.com/ark-relay/gateway/internal/infrastructure/db/postgres"
	redislivestore "github.com/ark-relay/gateway/internal/infrastructure/live-store/redis"
	"github.com/ark-relay/gateway/internal/infrastructure/outbox/watermillsql"
	nostrrelay "github.com/ark-relay/gateway/internal/infrastructure/relay/nostr"
	gocronscheduler "github.com/ark-relay/gateway/internal/infrastructure/scheduler/gocron"
	"github.com/ark-relay/gateway/internal/infrastructure/tracing"
	"github.com/urfave/cli/v2"
)

var (
	supportedDbs = supportedType{
		"badger":   {},
		"postgres": {},
	}
	supportedLiveStores = supportedType{
		"redis": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
)

// Config is the gateway's fully resolved runtime configuration. The
// exported fields are plain settings; the unexported ones are the
// constructed backends Validate assembles, exposed through the *Service
// accessors below.
type Config struct {
	Datadir  string
	LogLevel int

	DbType string
	DbDir  string
	DbUrl  string

	LiveStoreType     string
	RedisUrl          string
	RedisNumOfRetries int

	SchedulerType string

	RelayURLs      []string
	RelayPrivKey   string

	ArkDaemonAddr     string
	ArkDaemonInsecure bool

	LightningDaemonAddr     string
	LightningDaemonInsecure bool
	LightningTLSCertPath    string
	LightningMacaroonHex    string

	TapdDaemonAddr     string
	TapdDaemonInsecure bool

	AssetIDs            []string
	InventoryFeeCeiling  uint64

	OtelCollectorEndpoint string

	repo      ports.RepoManager
	cache     ports.LiveStore
	relay     ports.RelayClient
	ark       ports.ArkDaemon
	lnd       ports.LightningDaemon
	tapd      ports.TapdDaemon
	scheduler ports.Scheduler
	svc       application.Service
	outbox    *watermillsql.Outbox
}

func (c *Config) String() string {
	clone := *c
	if clone.RelayPrivKey != "" {
		clone.RelayPrivKey = "••••••"
	}
	if clone.LightningMacaroonHex != "" {
		clone.LightningMacaroonHex = "••••••"
	}
	buf, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(buf)
}

var (
	defaultDatadir             = defaultAppDataDir("ark-relay-gateway")
	defaultLogLevel            = 4
	defaultDbType              = "postgres"
	defaultLiveStoreType       = "redis"
	defaultRedisNumOfRetries   = 10
	defaultSchedulerType       = "gocron"
	defaultInventoryFeeCeiling = uint64(10_000)
)

func defaultAppDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + name
	}
	return home + string(os.PathSeparator) + "." + name
}

// env returns a list of strings prefixed with `ARKRELAY_`.
func env(values ...string) []string {
	envs := make([]string, len(values))
	for i, value := range values {
		envs[i] = fmt.Sprintf("ARKRELAY_%s", value)
	}
	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}
	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}
	DbType = &cli.StringFlag{
		Usage: "Data store type (postgres, badger)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}
	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url, required if db-type is postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}
	LiveStoreType = &cli.StringFlag{
		Usage: "Live store type (redis)",
		Name:  "live-store-type", EnvVars: env("LIVE_STORE_TYPE"),
		Value: defaultLiveStoreType,
	}
	RedisUrl = &cli.StringFlag{
		Usage: "Redis connection url, required if live-store-type is redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}
	RedisNumOfRetries = &cli.IntFlag{
		Usage: "Maximum number of retries for redis write operations on conflict",
		Name:  "redis-num-of-retries", EnvVars: env("REDIS_NUM_OF_RETRIES"),
		Value: defaultRedisNumOfRetries,
	}
	SchedulerType = &cli.StringFlag{
		Usage: "Background scheduler type (gocron)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}
	RelayURLs = &cli.StringSliceFlag{
		Usage: "Nostr relay URLs the gateway connects to",
		Name:  "relay-url", EnvVars: env("RELAY_URL"),
	}
	RelayPrivKey = &cli.StringFlag{
		Usage: "Gateway's own nostr private key (hex), used to decrypt/encrypt DM events",
		Name:  "relay-privkey", EnvVars: env("RELAY_PRIVKEY"),
	}
	ArkDaemonAddr = &cli.StringFlag{
		Usage: "Ark daemon gRPC address (host:port)",
		Name:  "ark-daemon-addr", EnvVars: env("ARK_DAEMON_ADDR"),
	}
	ArkDaemonInsecure = &cli.BoolFlag{
		Usage: "Dial the ark daemon without TLS",
		Name:  "ark-daemon-insecure", EnvVars: env("ARK_DAEMON_INSECURE"),
	}
	LightningDaemonAddr = &cli.StringFlag{
		Usage: "lnd gRPC address (host:port)",
		Name:  "lnd-addr", EnvVars: env("LND_ADDR"),
	}
	LightningDaemonInsecure = &cli.BoolFlag{
		Usage: "Dial lnd without TLS",
		Name:  "lnd-insecure", EnvVars: env("LND_INSECURE"),
	}
	LightningTLSCertPath = &cli.StringFlag{
		Usage: "Path to lnd's TLS certificate",
		Name:  "lnd-tls-cert", EnvVars: env("LND_TLS_CERT"),
	}
	LightningMacaroonHex = &cli.StringFlag{
		Usage: "lnd macaroon, hex-encoded",
		Name:  "lnd-macaroon", EnvVars: env("LND_MACAROON"),
	}
	TapdDaemonAddr = &cli.StringFlag{
		Usage: "Taproot-asset daemon gRPC address (host:port); optional, a client is dialed at startup but no gateway operation calls it",
		Name:  "tapd-addr", EnvVars: env("TAPD_ADDR"),
	}
	TapdDaemonInsecure = &cli.BoolFlag{
		Usage: "Dial tapd without TLS",
		Name:  "tapd-insecure", EnvVars: env("TAPD_INSECURE"),
	}
	AssetIDs = &cli.StringSliceFlag{
		Usage: "Asset ids the inventory monitor and settlement coordinator watch",
		Name:  "asset-id", EnvVars: env("ASSET_ID"),
	}
	InventoryFeeCeiling = &cli.Uint64Flag{
		Usage: "Fee ceiling (sats) under which the inventory monitor requests a VTXO batch at the warning threshold",
		Name:  "inventory-fee-ceiling", EnvVars: env("INVENTORY_FEE_CEILING"),
		Value: defaultInventoryFeeCeiling,
	}
	OtelCollectorEndpoint = &cli.StringFlag{
		Usage: "OTLP/HTTP collector endpoint (host:port); blank disables tracing",
		Name:  "otel-collector-endpoint", EnvVars: env("OTEL_COLLECTOR_ENDPOINT"),
	}
)

// LoadConfig assembles a Config from CLI flags/environment. It performs no
// I/O beyond reading flag values; backend construction happens in Validate.
func LoadConfig(c *cli.Context) (*Config, error) {
	dbUrl := c.String(DbUrl.Name)
	if c.String(DbType.Name) == "postgres" && dbUrl == "" {
		return nil, fmt.Errorf("db type set to postgres but pg-db-url is missing")
	}

	redisUrl := c.String(RedisUrl.Name)
	if c.String(LiveStoreType.Name) == "redis" && redisUrl == "" {
		return nil, fmt.Errorf("live store type set to redis but redis-url is missing")
	}

	return &Config{
		Datadir:                 c.String(Datadir.Name),
		LogLevel:                c.Int(LogLevel.Name),
		DbType:                  c.String(DbType.Name),
		DbDir:                   c.String(Datadir.Name) + "/db",
		DbUrl:                   dbUrl,
		LiveStoreType:           c.String(LiveStoreType.Name),
		RedisUrl:                redisUrl,
		RedisNumOfRetries:       c.Int(RedisNumOfRetries.Name),
		SchedulerType:           c.String(SchedulerType.Name),
		RelayURLs:               c.StringSlice(RelayURLs.Name),
		RelayPrivKey:            c.String(RelayPrivKey.Name),
		ArkDaemonAddr:           c.String(ArkDaemonAddr.Name),
		ArkDaemonInsecure:       c.Bool(ArkDaemonInsecure.Name),
		LightningDaemonAddr:     c.String(LightningDaemonAddr.Name),
		LightningDaemonInsecure: c.Bool(LightningDaemonInsecure.Name),
		LightningTLSCertPath:    c.String(LightningTLSCertPath.Name),
		LightningMacaroonHex:    c.String(LightningMacaroonHex.Name),
		TapdDaemonAddr:          c.String(TapdDaemonAddr.Name),
		TapdDaemonInsecure:      c.Bool(TapdDaemonInsecure.Name),
		AssetIDs:                c.StringSlice(AssetIDs.Name),
		InventoryFeeCeiling:     c.Uint64(InventoryFeeCeiling.Name),
		OtelCollectorEndpoint:   c.String(OtelCollectorEndpoint.Name),
	}, nil
}

// Validate rejects unknown backend names up front, then cascades through
// every pluggable backend's constructor so a misconfigured gateway fails at
// startup rather than at first use.
func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf("live store type not supported, please select one of: %s", supportedLiveStores)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf("scheduler type not supported, please select one of: %s", supportedSchedulers)
	}
	if len(c.RelayURLs) == 0 {
		return fmt.Errorf("at least one relay url is required")
	}
	if c.RelayPrivKey == "" {
		return fmt.Errorf("relay private key is required")
	}
	if c.ArkDaemonAddr == "" {
		return fmt.Errorf("ark daemon address is required")
	}
	if c.LightningDaemonAddr == "" {
		return fmt.Errorf("lnd address is required")
	}
	if len(c.AssetIDs) == 0 {
		return fmt.Errorf("at least one asset id is required")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.relayService(); err != nil {
		return err
	}
	if err := c.daemonServices(); err != nil {
		return err
	}
	if err := c.appService(); err != nil {
		return err
	}
	if err := c.outboxService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) repoManager() error {
	switch c.DbType {
	case "badger":
		svc, err := db.NewService(db.ServiceConfig{
			DataStoreType:   "badger",
			DataStoreConfig: []interface{}{c.DbDir, nil},
		})
		if err != nil {
			return fmt.Errorf("failed to open badger data store: %w", err)
		}
		c.repo = svc
	case "postgres":
		svc, err := db.NewService(db.ServiceConfig{
			DataStoreType:   "postgres",
			DataStoreConfig: []interface{}{c.DbUrl, true},
		})
		if err != nil {
			return fmt.Errorf("failed to open postgres data store: %w", err)
		}
		c.repo = svc
	}
	return nil
}

func (c *Config) liveStoreService() error {
	switch c.LiveStoreType {
	case "redis":
		store, err := redislivestore.NewLiveStore(c.RedisUrl, c.RedisNumOfRetries)
		if err != nil {
			return fmt.Errorf("failed to connect to redis live store: %w", err)
		}
		c.cache = store
	}
	return nil
}

func (c *Config) schedulerService() error {
	switch c.SchedulerType {
	case "gocron":
		c.scheduler = gocronscheduler.NewScheduler()
	}
	return nil
}

func (c *Config) relayService() error {
	relay, err := nostrrelay.NewClient(c.RelayPrivKey, c.RelayURLs)
	if err != nil {
		return fmt.Errorf("failed to construct relay client: %w", err)
	}
	c.relay = relay
	return nil
}

func (c *Config) daemonServices() error {
	ark, err := arkdaemon.NewClient(c.ArkDaemonAddr, c.ArkDaemonInsecure)
	if err != nil {
		return fmt.Errorf("failed to construct ark daemon client: %w", err)
	}
	c.ark = ark

	lnd, err := lnddaemon.NewClient(lnddaemon.Config{
		Addr:           c.LightningDaemonAddr,
		Insecure:       c.LightningDaemonInsecure,
		TLSCertPath:    c.LightningTLSCertPath,
		MacaroonHex:    c.LightningMacaroonHex,
	})
	if err != nil {
		return fmt.Errorf("failed to construct lnd client: %w", err)
	}
	c.lnd = lnd

	if c.TapdDaemonAddr != "" {
		tapd, err := tapddaemon.NewClient(c.TapdDaemonAddr, c.TapdDaemonInsecure)
		if err != nil {
			return fmt.Errorf("failed to construct tapd client: %w", err)
		}
		c.tapd = tapd
	}
	return nil
}

func (c *Config) appService() error {
	svc, err := application.NewService(
		c.repo, c.cache, c.relay, c.ark, c.lnd, c.scheduler,
		c.AssetIDs, c.InventoryFeeCeiling,
	)
	if err != nil {
		return fmt.Errorf("failed to construct application service: %w", err)
	}
	c.svc = svc
	return nil
}

// outboxService opens a durable session-outcome outbox alongside a postgres
// data store; badger deployments have no SQL connection for watermill-sql to
// ride on, so the outbox is simply not constructed for those and
// SessionEventsChannel's in-memory delivery remains the only stream.
func (c *Config) outboxService() error {
	if c.DbType != "postgres" {
		return nil
	}
	sqlDB, err := pgdb.OpenDb(c.DbUrl, false)
	if err != nil {
		return fmt.Errorf("failed to open outbox db connection: %w", err)
	}
	outbox, err := watermillsql.NewOutbox(sqlDB, watermillsql.DefaultTopic)
	if err != nil {
		return fmt.Errorf("failed to construct session outcome outbox: %w", err)
	}
	c.outbox = outbox
	return nil
}

// InitTracing wires the OpenTelemetry tracer provider; call once at process
// startup alongside Validate.
func (c *Config) InitTracing(ctx context.Context) (func(context.Context) error, error) {
	return tracing.Init(ctx, c.OtelCollectorEndpoint)
}

func (c *Config) AppService() application.Service  { return c.svc }
func (c *Config) RepoManager() ports.RepoManager   { return c.repo }
func (c *Config) LiveStore() ports.LiveStore        { return c.cache }
func (c *Config) RelayClient() ports.RelayClient    { return c.relay }
func (c *Config) ArkDaemon() ports.ArkDaemon        { return c.ark }
func (c *Config) LightningDaemon() ports.LightningDaemon { return c.lnd }
func (c *Config) TapdDaemon() ports.TapdDaemon           { return c.tapd }
func (c *Config) Outbox() *watermillsql.Outbox           { return c.outbox }
func (c *Config) Scheduler() ports.Scheduler        { return c.scheduler }

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
