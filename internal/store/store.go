// Package store defines the persistence interface for canonical entities and
// its Postgres and SQLite implementations.
package store

import (
	"context"

	"github.com/asphaltanchors/importer/internal/model"
)

// Store is the transactional entity store the import pipeline writes to.
// Reads run outside any transaction and observe committed state; entities
// created inside the current batch are tracked by the callers' in-process
// indexes until the batch commits.
//
// Lookups return (nil, nil) when no row matches.
type Store interface {
	// Begin opens the transactional scope for one batch.
	Begin(ctx context.Context) (Tx, error)

	CompanyByKey(ctx context.Context, key string) (*model.Company, error)
	CustomerByExternalID(ctx context.Context, externalID string) (*model.Customer, error)
	// CustomerByName matches the canonical name case-insensitively.
	CustomerByName(ctx context.Context, name string) (*model.Customer, error)
	// ListCustomers returns all customers in first-seen order.
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	AddressByHash(ctx context.Context, hash string) (*model.Address, error)
	OrderByNumber(ctx context.Context, number string) (*model.Order, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Tx is the per-batch transactional scope. Exactly one Tx is live per batch;
// it is released by Commit or Rollback on every exit path.
type Tx interface {
	InsertCompany(ctx context.Context, c *model.Company) error
	UpdateCompany(ctx context.Context, c *model.Company) error
	InsertCustomer(ctx context.Context, c *model.Customer) error
	UpdateCustomer(ctx context.Context, c *model.Customer) error
	InsertAddress(ctx context.Context, a *model.Address) error
	UpsertContact(ctx context.Context, c *model.Contact) error
	UpsertOrder(ctx context.Context, o *model.Order) error
	UpsertOrderLines(ctx context.Context, lines []model.OrderLine) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
