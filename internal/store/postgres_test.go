package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/asphaltanchors/importer/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresFromPool(mock)
}

func TestPostgresMigrate(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS companies").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompanyByKey(t *testing.T) {
	mock, st := newMockStore(t)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT key, display_name, created_at FROM companies").
		WithArgs("acme.com").
		WillReturnRows(pgxmock.NewRows([]string{"key", "display_name", "created_at"}).
			AddRow("acme.com", "Acme Corp", created))

	c, err := st.CompanyByKey(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Acme Corp", c.DisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompanyByKeyMiss(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectQuery("SELECT key, display_name, created_at FROM companies").
		WithArgs("nope.com").
		WillReturnError(pgx.ErrNoRows)

	c, err := st.CompanyByKey(context.Background(), "nope.com")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func customerRows() *pgxmock.Rows {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return pgxmock.NewRows([]string{
		"id", "canonical_name", "company_key", "external_id",
		"billing_address_hash", "shipping_address_hash", "created_at", "modified_at",
	}).AddRow("cust-1", "ACME CORP", "acme.com", "QB-1001", "", "", now, now)
}

func TestPostgresCustomerByExternalID(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectQuery("FROM customers WHERE external_id").
		WithArgs("QB-1001").
		WillReturnRows(customerRows())

	c, err := st.CustomerByExternalID(context.Background(), "QB-1001")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "ACME CORP", c.CanonicalName)
	assert.Equal(t, "acme.com", c.CompanyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCustomerByNameMiss(t *testing.T) {
	mock, st := newMockStore(t)

	mock.ExpectQuery(`FROM customers WHERE LOWER\(canonical_name\)`).
		WithArgs("ACME CORP").
		WillReturnError(pgx.ErrNoRows)

	c, err := st.CustomerByName(context.Background(), "ACME CORP")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListCustomers(t *testing.T) {
	mock, st := newMockStore(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM customers ORDER BY created_at, id").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "canonical_name", "company_key", "external_id",
			"billing_address_hash", "shipping_address_hash", "created_at", "modified_at",
		}).
			AddRow("cust-1", "ACME CORP", "", "", "", "", now, now).
			AddRow("cust-2", "WIDGETS LLC", "", "", "", "", now.Add(time.Hour), now))

	list, err := st.ListCustomers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cust-1", list[0].ID)
	assert.Equal(t, "WIDGETS LLC", list[1].CanonicalName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderByNumber(t *testing.T) {
	mock, st := newMockStore(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM orders WHERE number").
		WithArgs("INV-100").
		WillReturnRows(pgxmock.NewRows([]string{"id", "number", "customer_id", "order_date", "total", "status"}).
			AddRow("ord-1", "INV-100", "cust-1", date, 185.0, "Paid"))

	o, err := st.OrderByNumber(context.Background(), "INV-100")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, 185.0, o.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTxInsertAndCommit(t *testing.T) {
	mock, st := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").
		WithArgs("acme.com", "Acme Corp", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO customers").
		WithArgs("cust-1", "ACME CORP", "acme.com", "QB-1001", "", "", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.InsertCompany(ctx, &model.Company{
		Key: "acme.com", DisplayName: "Acme Corp", CreatedAt: now,
	}))
	require.NoError(t, tx.InsertCustomer(ctx, &model.Customer{
		ID: "cust-1", CanonicalName: "ACME CORP", CompanyKey: "acme.com",
		ExternalID: "QB-1001", CreatedAt: now, ModifiedAt: now,
	}))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTxRollback(t *testing.T) {
	mock, st := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO contacts").
		WithArgs("cust-1", "email", "sales@acme.com").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	err = tx.UpsertContact(ctx, &model.Contact{CustomerID: "cust-1", Kind: "email", Value: "sales@acme.com"})
	require.Error(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}
