package ports

import "github.com/ark-relay/gateway/internal/core/domain"

// RepoManager groups the durable repositories backing the data store (C1).
// A single implementation owns one underlying backend (postgres or badger)
// and is responsible for wiring shared transactional primitives across the
// repositories it returns.
type RepoManager interface {
	Assets() domain.AssetRepository
	Vtxos() domain.VtxoRepository
	Sessions() domain.SessionRepository
	Challenges() domain.ChallengeRepository
	Transactions() domain.TransactionRepository
	Invoices() domain.InvoiceRepository

	Close()
}
