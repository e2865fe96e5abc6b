package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/ark-relay/gateway/internal/core/domain"
	"github.com/ark-relay/gateway/internal/core/ports"
	badgerdb "github.com/ark-relay/gateway/internal/infrastructure/db/badger"
	pgdb "github.com/ark-relay/gateway/internal/infrastructure/db/postgres"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/migrations/*
var pgMigrations embed.FS

var (
	assetStoreTypes = map[string]func(...interface{}) (domain.AssetRepository, error){
		"badger":   badgerdb.NewAssetRepository,
		"postgres": pgdb.NewAssetRepository,
	}
	vtxoStoreTypes = map[string]func(...interface{}) (domain.VtxoRepository, error){
		"badger":   badgerdb.NewVtxoRepository,
		"postgres": pgdb.NewVtxoRepository,
	}
	sessionStoreTypes = map[string]func(...interface{}) (domain.SessionRepository, error){
		"badger":   badgerdb.NewSessionRepository,
		"postgres": pgdb.NewSessionRepository,
	}
	challengeStoreTypes = map[string]func(...interface{}) (domain.ChallengeRepository, error){
		"badger":   badgerdb.NewChallengeRepository,
		"postgres": pgdb.NewChallengeRepository,
	}
	transactionStoreTypes = map[string]func(...interface{}) (domain.TransactionRepository, error){
		"badger":   badgerdb.NewTransactionRepository,
		"postgres": pgdb.NewTransactionRepository,
	}
	invoiceStoreTypes = map[string]func(...interface{}) (domain.InvoiceRepository, error){
		"badger":   badgerdb.NewInvoiceRepository,
		"postgres": pgdb.NewInvoiceRepository,
	}
)

// ServiceConfig selects a single storage backend shared by every repository.
// Badger is given a base directory per entity; postgres shares one *sql.DB
// and runs its embedded migrations once before any repository is opened.
type ServiceConfig struct {
	DataStoreType string
	// DataStoreConfig is (baseDir string, logger *log.Logger) for badger,
	// or (dsn string, autoCreate bool) for postgres.
	DataStoreConfig []interface{}
}

type service struct {
	assets       domain.AssetRepository
	vtxos        domain.VtxoRepository
	sessions     domain.SessionRepository
	challenges   domain.ChallengeRepository
	transactions domain.TransactionRepository
	invoices     domain.InvoiceRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	assetFactory, ok := assetStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	vtxoFactory := vtxoStoreTypes[config.DataStoreType]
	sessionFactory := sessionStoreTypes[config.DataStoreType]
	challengeFactory := challengeStoreTypes[config.DataStoreType]
	transactionFactory := transactionStoreTypes[config.DataStoreType]
	invoiceFactory := invoiceStoreTypes[config.DataStoreType]

	var svc service
	var storeConfig []interface{}

	switch config.DataStoreType {
	case "badger":
		storeConfig = config.DataStoreConfig

	case "postgres":
		if len(config.DataStoreConfig) != 2 {
			return nil, fmt.Errorf("invalid data store config for postgres")
		}
		dsn, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid DSN for postgres")
		}
		autoCreate, ok := config.DataStoreConfig[1].(bool)
		if !ok {
			return nil, fmt.Errorf("invalid autocreate flag for postgres")
		}

		db, err := pgdb.OpenDb(dsn, autoCreate)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres db: %s", err)
		}

		pgDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
		}
		source, err := iofs.New(pgMigrations, "postgres/migrations")
		if err != nil {
			return nil, fmt.Errorf("failed to embed postgres migrations: %s", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, "postgres", pgDriver)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres migration instance: %s", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run postgres migrations: %s", err)
		}

		storeConfig = []interface{}{db}

	default:
		return nil, fmt.Errorf("unknown data store type: %s", config.DataStoreType)
	}

	var err error
	if svc.assets, err = assetFactory(storeConfig...); err != nil {
		return nil, fmt.Errorf("failed to open asset store: %w", err)
	}
	if svc.vtxos, err = vtxoFactory(storeConfig...); err != nil {
		return nil, fmt.Errorf("failed to open vtxo store: %w", err)
	}
	if svc.sessions, err = sessionFactory(storeConfig...); err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if svc.challenges, err = challengeFactory(storeConfig...); err != nil {
		return nil, fmt.Errorf("failed to open challenge store: %w", err)
	}
	if svc.transactions, err = transactionFactory(storeConfig...); err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %w", err)
	}
	if svc.invoices, err = invoiceFactory(storeConfig...); err != nil {
		return nil, fmt.Errorf("failed to open invoice store: %w", err)
	}

	return &svc, nil
}

func (s *service) Assets() domain.AssetRepository            { return s.assets }
func (s *service) Vtxos() domain.VtxoRepository               { return s.vtxos }
func (s *service) Sessions() domain.SessionRepository         { return s.sessions }
func (s *service) Challenges() domain.ChallengeRepository     { return s.challenges }
func (s *service) Transactions() domain.TransactionRepository { return s.transactions }
func (s *service) Invoices() domain.InvoiceRepository         { return s.invoices }

func (s *service) Close() {
	s.assets.Close()
	s.vtxos.Close()
	s.sessions.Close()
	s.challenges.Close()
	s.transactions.Close()
	s.invoices.Close()
}
