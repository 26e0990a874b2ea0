package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asphaltanchors/importer/internal/address"
	"github.com/asphaltanchors/importer/internal/errtrack"
	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/normalize"
	"github.com/asphaltanchors/importer/internal/resolve"
	"github.com/asphaltanchors/importer/internal/store"
)

func runStage(t *testing.T, mem *store.MemoryStore, proc Processor, rows []model.Row) model.Stats {
	t.Helper()
	engine := NewEngine(mem, DefaultBatchSize, errtrack.New(errtrack.DefaultMaxSamples))
	stats, err := engine.Run(context.Background(), proc, rows)
	require.NoError(t, err)
	return stats
}

func TestCompanyProcessorCreatesAndConsolidates(t *testing.T) {
	mem := store.NewMemory()
	domains := normalize.NewDomainNormalizer(normalize.DomainRules{
		MarketplaceSkip: "amazon-marketplace.com",
	})
	proc := NewCompanyProcessor(mem, domains)

	rows := []model.Row{
		{"Main Email": "sales@acme.com", "Company Name": "Acme Corp"},
		{"Main Email": "billing@acme.com"},
		{"Main Email": "order@amazon-marketplace.com"},
		{"Main Email": ""},
	}
	stats := runStage(t, mem, proc, rows)

	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 3, stats.Skipped)

	assert.Equal(t, "acme.com", rows[0].Get(model.RowCompanyKey))
	assert.Equal(t, "acme.com", rows[1].Get(model.RowCompanyKey))
	assert.Empty(t, rows[2].Get(model.RowCompanyKey))

	company, err := mem.CompanyByKey(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, company)
	assert.Equal(t, "Acme Corp", company.DisplayName)
}

func TestCompanyProcessorRetriesAfterFailedBatch(t *testing.T) {
	mem := store.NewMemory()
	proc := NewCompanyProcessor(mem, normalize.NewDomainNormalizer(normalize.DomainRules{}))
	engine := NewEngine(mem, 2, errtrack.New(errtrack.DefaultMaxSamples))

	mem.FailNextCommit = assert.AnError
	rows := []model.Row{
		{"Main Email": "sales@acme.com", "Company Name": "Acme Corp"},
		{"Main Email": "billing@acme.com"},
		{"Main Email": "info@acme.com", "Company Name": "Acme Corp"},
		{"Main Email": "ops@acme.com"},
	}
	stats, err := engine.Run(context.Background(), proc, rows)
	require.NoError(t, err)

	// The rolled-back first batch must not shadow the key for the rest of
	// the run: the second batch creates the company.
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 1, stats.Created)

	company, err := mem.CompanyByKey(context.Background(), "acme.com")
	require.NoError(t, err)
	require.NotNil(t, company)
	assert.Equal(t, "Acme Corp", company.DisplayName)
}

func TestAddressProcessorWritesHashes(t *testing.T) {
	mem := store.NewMemory()
	proc := NewAddressProcessor(address.NewDeduplicator(mem))

	rows := []model.Row{
		{
			"Billing Address Line 1":  "123 Main St",
			"Billing Address City":    "Springfield",
			"Shipping Address Line 1": "123 Main St",
			"Shipping Address City":   "Springfield",
		},
		{
			"Billing Address Line 1": "123  MAIN ST",
			"Billing Address City":   "springfield",
		},
	}
	stats := runStage(t, mem, proc, rows)

	// One distinct address: billing/shipping on row 0 collide, row 1 is the
	// same address modulo whitespace and case.
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, mem.AddressCount())

	h := rows[0].Get(model.RowBillingAddressHash)
	require.Len(t, h, address.HashLen)
	assert.Equal(t, h, rows[0].Get(model.RowShippingAddressHash))
	assert.Equal(t, h, rows[1].Get(model.RowBillingAddressHash))
}

func TestCustomerProcessorIdempotentAcrossRuns(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	run := func(name string) model.Stats {
		matcher, err := resolve.NewMatcher(ctx, mem, resolve.DefaultMatchRules())
		require.NoError(t, err)
		return runStage(t, mem, NewCustomerProcessor(matcher), []model.Row{
			{"Customer Name": name, "Customer ID": "QB-800001"},
		})
	}

	first := run("Acme Corp")
	assert.Equal(t, 1, first.Created)

	second := run("ACME CORPORATION")
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 1, mem.CustomerCount())

	c, err := mem.CustomerByExternalID(ctx, "QB-800001")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "ACME CORPORATION", c.CanonicalName)
}

func TestCustomerProcessorKeepsCompaniesApart(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	run := func(companyKey string) {
		matcher, err := resolve.NewMatcher(ctx, mem, resolve.DefaultMatchRules())
		require.NoError(t, err)
		runStage(t, mem, NewCustomerProcessor(matcher), []model.Row{
			{"Customer Name": "City Electric Supply", model.RowCompanyKey: companyKey},
		})
	}

	// Identical names under different companies stay separate customers.
	run("ces-east.com")
	run("ces-west.com")
	assert.Equal(t, 2, mem.CustomerCount())

	// The same company resolves back to its own record.
	run("ces-east.com")
	assert.Equal(t, 2, mem.CustomerCount())
}

func TestCustomerProcessorRequiresName(t *testing.T) {
	mem := store.NewMemory()
	matcher, err := resolve.NewMatcher(context.Background(), mem, resolve.DefaultMatchRules())
	require.NoError(t, err)

	engine := NewEngine(mem, DefaultBatchSize, errtrack.New(errtrack.DefaultMaxSamples))
	stats, err := engine.Run(context.Background(), NewCustomerProcessor(matcher), []model.Row{{}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errored)
	assert.Equal(t, 0, mem.CustomerCount())
}

func TestContactProcessorSplitsMultiValues(t *testing.T) {
	mem := store.NewMemory()
	rows := []model.Row{
		{
			model.RowCustomerID: "cust-1",
			"Main Email":        "A@Acme.com; b@acme.com",
			"Main Phone":        "555-0100",
		},
		{"Main Email": "orphan@acme.com"}, // no resolved customer
	}
	stats := runStage(t, mem, NewContactProcessor(), rows)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
}

func TestOrderProcessorUpsertsByNumber(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	rows := []model.Row{
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-100", "Invoice Date": "2024-03-01", "Total": "$1,234.50"},
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-100", "Invoice Date": "2024-03-01", "Total": "$1,234.50"},
	}
	stats := runStage(t, mem, NewOrderProcessor(mem), rows)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, rows[0].Get(model.RowOrderID), rows[1].Get(model.RowOrderID))

	o, err := mem.OrderByNumber(ctx, "INV-100")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.InDelta(t, 1234.50, o.Total, 0.001)

	// Re-run with a new total updates in place under the same id.
	stats = runStage(t, mem, NewOrderProcessor(mem), []model.Row{
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-100", "Invoice Date": "2024-03-01", "Total": "1500"},
	})
	assert.Equal(t, 1, stats.Updated)

	updated, err := mem.OrderByNumber(ctx, "INV-100")
	require.NoError(t, err)
	assert.Equal(t, o.ID, updated.ID)
	assert.InDelta(t, 1500, updated.Total, 0.001)
}

func TestOrderProcessorRetriesAfterFailedBatch(t *testing.T) {
	mem := store.NewMemory()
	engine := NewEngine(mem, 1, errtrack.New(errtrack.DefaultMaxSamples))

	mem.FailNextCommit = assert.AnError
	stats, err := engine.Run(context.Background(), NewOrderProcessor(mem), []model.Row{
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-100", "Invoice Date": "2024-03-01", "Total": "100"},
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-100", "Invoice Date": "2024-03-01", "Total": "150"},
	})
	require.NoError(t, err)

	// The rolled-back first batch must not pin INV-100 to an id that was
	// never persisted: the second row creates the order.
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 1, stats.Created)

	o, err := mem.OrderByNumber(context.Background(), "INV-100")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.InDelta(t, 150, o.Total, 0.001)
}

func TestOrderProcessorRejectsMalformedRows(t *testing.T) {
	mem := store.NewMemory()
	engine := NewEngine(mem, DefaultBatchSize, errtrack.New(errtrack.DefaultMaxSamples))

	stats, err := engine.Run(context.Background(), NewOrderProcessor(mem), []model.Row{
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-1", "Invoice Date": "not-a-date", "Total": "10"},
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-2", "Invoice Date": "2024-01-05", "Total": "ten dollars"},
		{"Invoice No": "INV-3", "Invoice Date": "2024-01-05", "Total": "10"},
		{model.RowCustomerID: "cust-1", "Invoice No": "INV-4", "Invoice Date": "2024-01-05", "Total": "10"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Errored)
	assert.Equal(t, 1, stats.Created)
}

func TestLineItemProcessorBuffersAndFlushes(t *testing.T) {
	mem := store.NewMemory()
	rows := []model.Row{
		{model.RowOrderID: "ord-1", "Product/Service": "SP10", "Qty": "4", "Product/Service Amount": "100"},
		{model.RowOrderID: "ord-1", "Product/Service": "SP12", "Qty": "2", "Product/Service Amount": "60"},
		{model.RowOrderID: "ord-2", "Product/Service": "SP10", "Qty": "1", "Product/Service Amount": "25"},
		{"Product/Service": "SP10"}, // no order resolved
	}
	stats := runStage(t, mem, NewLineItemProcessor(), rows)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 1, stats.Skipped)

	lines := mem.OrderLines()
	require.Len(t, lines, 3)

	byOrder := map[string][]int{}
	for _, l := range lines {
		byOrder[l.OrderID] = append(byOrder[l.OrderID], l.LineNo)
	}
	assert.ElementsMatch(t, []int{1, 2}, byOrder["ord-1"])
	assert.ElementsMatch(t, []int{1}, byOrder["ord-2"])
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"", 0, true},
		{"1234.5", 1234.5, true},
		{"$1,234.50", 1234.5, true},
		{"(50.00)", -50, true},
		{"-12", -12, true},
		{"ten", 0, false},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.InDelta(t, tc.want, got, 0.001, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-03-01", "03/01/2024", "3/1/2024"} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, 2024, got.Year(), in)
		assert.Equal(t, 1, got.Day(), in)
	}
	_, err := parseDate("")
	assert.Error(t, err)
	_, err = parseDate("March first")
	assert.Error(t, err)
}
