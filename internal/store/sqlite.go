package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/asphaltanchors/importer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local runs and
// tests that do not need Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	key          TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS customers (
	id                    TEXT PRIMARY KEY,
	canonical_name        TEXT NOT NULL,
	company_key           TEXT REFERENCES companies(key),
	external_id           TEXT UNIQUE,
	billing_address_hash  TEXT,
	shipping_address_hash TEXT,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	modified_at           DATETIME NOT NULL DEFAULT (datetime('now'))
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
	order_date  DATETIME NOT NULL,
	total       REAL NOT NULL DEFAULT 0,
	status      TEXT
);

CREATE TABLE IF NOT EXISTS order_lines (
	order_id     TEXT NOT NULL REFERENCES orders(id),
	line_no      INTEGER NOT NULL,
	product_code TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	quantity     REAL NOT NULL DEFAULT 0,
	amount       REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (order_id, line_no)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx}, nil
}

func (s *SQLiteStore) CompanyByKey(ctx context.Context, key string) (*model.Company, error) {
	var c model.Company
	err := s.db.QueryRowContext(ctx,
		`SELECT key, display_name, created_at FROM companies WHERE key = ?`, key).
		Scan(&c.Key, &c.DisplayName, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: company by key")
	}
	return &c, nil
}

const sqliteCustomerColumns = `id, canonical_name, COALESCE(company_key, ''), COALESCE(external_id, ''),
	COALESCE(billing_address_hash, ''), COALESCE(shipping_address_hash, ''), created_at, modified_at`

func (s *SQLiteStore) customerBy(ctx context.Context, where string, arg any) (*model.Customer, error) {
	var c model.Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteCustomerColumns+` FROM customers WHERE `+where, arg).
		Scan(&c.ID, &c.CanonicalName, &c.CompanyKey, &c.ExternalID,
			&c.BillingAddressHash, &c.ShippingAddressHash, &c.CreatedAt, &c.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) CustomerByExternalID(ctx context.Context, externalID string) (*model.Customer, error) {
	c, err := s.customerBy(ctx, `external_id = ?`, externalID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: customer by external id")
	}
	return c, nil
}

func (s *SQLiteStore) CustomerByName(ctx context.Context, name string) (*model.Customer, error) {
	c, err := s.customerBy(ctx, `LOWER(canonical_name) = LOWER(?)`, name)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: customer by name")
	}
	return c, nil
}

func (s *SQLiteStore) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCustomerColumns+` FROM customers ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list customers")
	}
	defer rows.Close()

	var out []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.CanonicalName, &c.CompanyKey, &c.ExternalID,
			&c.BillingAddressHash, &c.ShippingAddressHash, &c.CreatedAt, &c.ModifiedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan customer")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list customers rows")
}

func (s *SQLiteStore) AddressByHash(ctx context.Context, hash string) (*model.Address, error) {
	var a model.Address
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash, line1, line2, line3, city, state, postal_code, country
		 FROM addresses WHERE content_hash = ?`, hash).
		Scan(&a.ContentHash, &a.Line1, &a.Line2, &a.Line3, &a.City, &a.State, &a.PostalCode, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: address by hash")
	}
	return &a, nil
}

func (s *SQLiteStore) OrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	var o model.Order
	err := s.db.QueryRowContext(ctx,
		`SELECT id, number, customer_id, order_date, total, COALESCE(status, '')
		 FROM orders WHERE number = ?`, number).
		Scan(&o.ID, &o.Number, &o.CustomerID, &o.Date, &o.Total, &o.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: order by number")
	}
	return &o, nil
}

// sqliteTx implements Tx over database/sql.
type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) InsertCompany(ctx context.Context, c *model.Company) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO companies (key, display_name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		c.Key, c.DisplayName, c.CreatedAt)
	return eris.Wrap(err, "sqlite: insert company")
}

func (t *sqliteTx) UpdateCompany(ctx context.Context, c *model.Company) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE companies SET display_name = ? WHERE key = ?`, c.DisplayName, c.Key)
	return eris.Wrap(err, "sqlite: update company")
}

func (t *sqliteTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO customers (id, canonical_name, company_key, external_id,
		   billing_address_hash, shipping_address_hash, created_at, modified_at)
		 VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
		c.ID, c.CanonicalName, c.CompanyKey, c.ExternalID,
		c.BillingAddressHash, c.ShippingAddressHash, c.CreatedAt, c.ModifiedAt)
	return eris.Wrap(err, "sqlite: insert customer")
}

func (t *sqliteTx) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE customers SET canonical_name = ?, company_key = NULLIF(?, ''),
		   external_id = NULLIF(?, ''), billing_address_hash = NULLIF(?, ''),
		   shipping_address_hash = NULLIF(?, ''), modified_at = ?
		 WHERE id = ?`,
		c.CanonicalName, c.CompanyKey, c.ExternalID,
		c.BillingAddressHash, c.ShippingAddressHash, c.ModifiedAt, c.ID)
	return eris.Wrap(err, "sqlite: update customer")
}

func (t *sqliteTx) InsertAddress(ctx context.Context, a *model.Address) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO addresses (content_hash, line1, line2, line3, city, state, postal_code, country)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_hash) DO NOTHING`,
		a.ContentHash, a.Line1, a.Line2, a.Line3, a.City, a.State, a.PostalCode, a.Country)
	return eris.Wrap(err, "sqlite: insert address")
}

func (t *sqliteTx) UpsertContact(ctx context.Context, c *model.Contact) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO contacts (customer_id, kind, value) VALUES (?, ?, ?)
		 ON CONFLICT (customer_id, kind, value) DO NOTHING`,
		c.CustomerID, c.Kind, c.Value)
	return eris.Wrap(err, "sqlite: upsert contact")
}

func (t *sqliteTx) UpsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (id, number, customer_id, order_date, total, status)
		 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))
		 ON CONFLICT (number) DO UPDATE SET
		   customer_id = excluded.customer_id,
		   order_date  = excluded.order_date,
		   total       = excluded.total,
		   status      = excluded.status`,
		o.ID, o.Number, o.CustomerID, o.Date, o.Total, o.Status)
	return eris.Wrap(err, "sqlite: upsert order")
}

func (t *sqliteTx) UpsertOrderLines(ctx context.Context, lines []model.OrderLine) error {
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO order_lines (order_id, line_no, product_code, description, quantity, amount)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (order_id, line_no) DO UPDATE SET
		   product_code = excluded.product_code,
		   description  = excluded.description,
		   quantity     = excluded.quantity,
		   amount       = excluded.amount`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare order lines")
	}
	defer stmt.Close()

	for _, l := range lines {
		if _, err := stmt.ExecContext(ctx, l.OrderID, l.LineNo, l.ProductCode, l.Description, l.Quantity, l.Amount); err != nil {
			return eris.Wrapf(err, "sqlite: upsert order line %s/%d", l.OrderID, l.LineNo)
		}
	}
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	t.done = true
	return eris.Wrap(t.tx.Commit(), "sqlite: commit")
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return eris.Wrap(err, "sqlite: rollback")
	}
	return nil
}
