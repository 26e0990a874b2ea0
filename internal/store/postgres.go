package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/asphaltanchors/importer/internal/db"
	"github.com/asphaltanchors/importer/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest lookups in the matching cascade.
var preparedStatements = map[string]string{
	"company_by_key":          `SELECT key, display_name, created_at FROM companies WHERE key = $1`,
	"customer_by_external_id": `SELECT id, canonical_name, COALESCE(company_key, ''), COALESCE(external_id, ''), COALESCE(billing_address_hash, ''), COALESCE(shipping_address_hash, ''), created_at, modified_at FROM customers WHERE external_id = $1`,
	"customer_by_name":        `SELECT id, canonical_name, COALESCE(company_key, ''), COALESCE(external_id, ''), COALESCE(billing_address_hash, ''), COALESCE(shipping_address_hash, ''), created_at, modified_at FROM customers WHERE LOWER(canonical_name) = LOWER($1)`,
	"address_by_hash":         `SELECT content_hash, line1, line2, line3, city, state, postal_code, country FROM addresses WHERE content_hash = $1`,
	"order_by_number":         `SELECT id, number, customer_id, order_date, total, COALESCE(status, '') FROM orders WHERE number = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	key          TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS customers (
	id                    TEXT PRIMARY KEY,
	canonical_name        TEXT NOT NULL,
	company_key           TEXT REFERENCES companies(key),
	external_id           TEXT UNIQUE,
	billing_address_hash  TEXT,
	shipping_address_hash TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_customers_name_ci ON customers (LOWER(canonical_name));
CREATE INDEX IF NOT EXISTS idx_customers_company_key ON customers (company_key);

CREATE TABLE IF NOT EXISTS addresses (
	content_hash TEXT PRIMARY KEY,
	line1        TEXT NOT NULL DEFAULT '',
	line2        TEXT NOT NULL DEFAULT '',
	line3        TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	postal_code  TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS contacts (
	customer_id TEXT NOT NULL REFERENCES customers(id),
	kind        TEXT NOT NULL,
	value       TEXT NOT NULL,
	PRIMARY KEY (customer_id, kind, value)
);

CREATE TABLE IF NOT EXISTS orders (
	id          TEXT PRIMARY KEY,
	number      TEXT NOT NULL UNIQUE,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	order_date  TIMESTAMPTZ NOT NULL,
	total       DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT
);

CREATE TABLE IF NOT EXISTS order_lines (
	order_id     TEXT NOT NULL REFERENCES orders(id),
	line_no      INTEGER NOT NULL,
	product_code TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	quantity     DOUBLE PRECISION NOT NULL DEFAULT 0,
	amount       DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (order_id, line_no)
);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Begin opens the per-batch transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) CompanyByKey(ctx context.Context, key string) (*model.Company, error) {
	var c model.Company
	err := s.pool.QueryRow(ctx,
		`SELECT key, display_name, created_at FROM companies WHERE key = $1`, key).
		Scan(&c.Key, &c.DisplayName, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: company by key")
	}
	return &c, nil
}

const customerColumns = `id, canonical_name, COALESCE(company_key, ''), COALESCE(external_id, ''),
	COALESCE(billing_address_hash, ''), COALESCE(shipping_address_hash, ''), created_at, modified_at`

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.CanonicalName, &c.CompanyKey, &c.ExternalID,
		&c.BillingAddressHash, &c.ShippingAddressHash, &c.CreatedAt, &c.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CustomerByExternalID(ctx context.Context, externalID string) (*model.Customer, error) {
	c, err := scanCustomer(s.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE external_id = $1`, externalID))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: customer by external id")
	}
	return c, nil
}

func (s *PostgresStore) CustomerByName(ctx context.Context, name string) (*model.Customer, error) {
	c, err := scanCustomer(s.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE LOWER(canonical_name) = LOWER($1)`, name))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: customer by name")
	}
	return c, nil
}

func (s *PostgresStore) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list customers")
	}
	defer rows.Close()

	var out []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.CanonicalName, &c.CompanyKey, &c.ExternalID,
			&c.BillingAddressHash, &c.ShippingAddressHash, &c.CreatedAt, &c.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan customer")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list customers rows")
	}
	return out, nil
}

func (s *PostgresStore) AddressByHash(ctx context.Context, hash string) (*model.Address, error) {
	var a model.Address
	err := s.pool.QueryRow(ctx,
		`SELECT content_hash, line1, line2, line3, city, state, postal_code, country
		 FROM addresses WHERE content_hash = $1`, hash).
		Scan(&a.ContentHash, &a.Line1, &a.Line2, &a.Line3, &a.City, &a.State, &a.PostalCode, &a.Country)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: address by hash")
	}
	return &a, nil
}

func (s *PostgresStore) OrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	var o model.Order
	err := s.pool.QueryRow(ctx,
		`SELECT id, number, customer_id, order_date, total, COALESCE(status, '')
		 FROM orders WHERE number = $1`, number).
		Scan(&o.ID, &o.Number, &o.CustomerID, &o.Date, &o.Total, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: order by number")
	}
	return &o, nil
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertCompany(ctx context.Context, c *model.Company) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO companies (key, display_name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO NOTHING`,
		c.Key, c.DisplayName, c.CreatedAt)
	return eris.Wrap(err, "postgres: insert company")
}

func (t *pgTx) UpdateCompany(ctx context.Context, c *model.Company) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE companies SET display_name = $1 WHERE key = $2`,
		c.DisplayName, c.Key)
	return eris.Wrap(err, "postgres: update company")
}

func (t *pgTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO customers (id, canonical_name, company_key, external_id,
		   billing_address_hash, shipping_address_hash, created_at, modified_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		c.ID, c.CanonicalName, c.CompanyKey, c.ExternalID,
		c.BillingAddressHash, c.ShippingAddressHash, c.CreatedAt, c.ModifiedAt)
	return eris.Wrap(err, "postgres: insert customer")
}

func (t *pgTx) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE customers SET canonical_name = $1, company_key = NULLIF($2, ''),
		   external_id = NULLIF($3, ''), billing_address_hash = NULLIF($4, ''),
		   shipping_address_hash = NULLIF($5, ''), modified_at = $6
		 WHERE id = $7`,
		c.CanonicalName, c.CompanyKey, c.ExternalID,
		c.BillingAddressHash, c.ShippingAddressHash, c.ModifiedAt, c.ID)
	return eris.Wrap(err, "postgres: update customer")
}

func (t *pgTx) InsertAddress(ctx context.Context, a *model.Address) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO addresses (content_hash, line1, line2, line3, city, state, postal_code, country)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (content_hash) DO NOTHING`,
		a.ContentHash, a.Line1, a.Line2, a.Line3, a.City, a.State, a.PostalCode, a.Country)
	return eris.Wrap(err, "postgres: insert address")
}

func (t *pgTx) UpsertContact(ctx context.Context, c *model.Contact) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO contacts (customer_id, kind, value) VALUES ($1, $2, $3)
		 ON CONFLICT (customer_id, kind, value) DO NOTHING`,
		c.CustomerID, c.Kind, c.Value)
	return eris.Wrap(err, "postgres: upsert contact")
}

func (t *pgTx) UpsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, number, customer_id, order_date, total, status)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		 ON CONFLICT (number) DO UPDATE SET
		   customer_id = EXCLUDED.customer_id,
		   order_date  = EXCLUDED.order_date,
		   total       = EXCLUDED.total,
		   status      = EXCLUDED.status`,
		o.ID, o.Number, o.CustomerID, o.Date, o.Total, o.Status)
	return eris.Wrap(err, "postgres: upsert order")
}

func (t *pgTx) UpsertOrderLines(ctx context.Context, lines []model.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []any{l.OrderID, l.LineNo, l.ProductCode, l.Description, l.Quantity, l.Amount})
	}
	_, err := db.BulkUpsertTx(ctx, t.tx, db.UpsertConfig{
		Table:        "order_lines",
		Columns:      []string{"order_id", "line_no", "product_code", "description", "quantity", "amount"},
		ConflictKeys: []string{"order_id", "line_no"},
	}, rows)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit")
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return eris.Wrap(err, "postgres: rollback")
	}
	return nil
}
