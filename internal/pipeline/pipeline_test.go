package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asphaltanchors/importer/internal/config"
	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/report"
	"github.com/asphaltanchors/importer/internal/store"
)

func testRules(t *testing.T) *config.Rules {
	t.Helper()
	rules, err := config.LoadRules("")
	require.NoError(t, err)
	rules.Domains.IndividualDomains = []string{"gmail.com"}
	return rules
}

func invoiceRows() []model.Row {
	return []model.Row{
		{
			"Customer Name":          "Acme Corp",
			"Customer ID":            "QB-1001",
			"Main Email":             "sales@acme.com",
			"Billing Address Line 1": "123 Main St",
			"Billing Address City":   "Springfield",
			"Invoice No":             "INV-100",
			"Invoice Date":           "2024-03-01",
			"Total":                  "185.00",
			"Product/Service":        "SP10 Anchor",
			"Qty":                    "4",
			"Product/Service Amount": "100.00",
		},
		{
			"Customer Name":          "Acme Corp",
			"Customer ID":            "QB-1001",
			"Main Email":             "sales@acme.com",
			"Billing Address Line 1": "123 Main St",
			"Billing Address City":   "Springfield",
			"Invoice No":             "INV-100",
			"Invoice Date":           "2024-03-01",
			"Total":                  "185.00",
			"Product/Service":        "SP12 Anchor",
			"Qty":                    "2",
			"Product/Service Amount": "85.00",
		},
		{
			"Customer Name":          "Chris Peterson",
			"Main Email":             "chris.p@gmail.com",
			"Invoice No":             "INV-101",
			"Invoice Date":           "2024-03-02",
			"Total":                  "25.00",
			"Product/Service":        "SP10 Anchor",
			"Qty":                    "1",
			"Product/Service Amount": "25.00",
		},
	}
}

func runImport(t *testing.T, mem *store.MemoryStore, rows []model.Row) *report.Report {
	t.Helper()
	p := New(mem, testRules(t), config.BatchConfig{Size: 100})
	rep, err := p.Run(context.Background(), rows)
	require.NoError(t, err)
	return rep
}

func TestPipelineFullImport(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	rep := runImport(t, mem, invoiceRows())

	// Stage order is load-bearing: later stages read ids resolved earlier.
	var names []string
	for _, s := range rep.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"companies", "addresses", "customers", "contacts", "orders", "line_items"}, names)

	// Two companies: acme.com and the individual gmail account.
	acme, err := mem.CompanyByKey(ctx, "acme.com")
	require.NoError(t, err)
	require.NotNil(t, acme)
	individual, err := mem.CompanyByKey(ctx, "individual:gmail.com")
	require.NoError(t, err)
	require.NotNil(t, individual)

	// Two customers; the personal name is stored inverted-free.
	assert.Equal(t, 2, mem.CustomerCount())
	c, err := mem.CustomerByExternalID(ctx, "QB-1001")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "ACME CORP", c.CanonicalName)
	assert.Equal(t, "acme.com", c.CompanyKey)
	assert.NotEmpty(t, c.BillingAddressHash)

	// Two orders, three lines.
	inv100, err := mem.OrderByNumber(ctx, "INV-100")
	require.NoError(t, err)
	require.NotNil(t, inv100)
	assert.Equal(t, c.ID, inv100.CustomerID)
	assert.Len(t, mem.OrderLines(), 3)

	assert.False(t, rep.HasFailures())
	assert.Empty(t, rep.Errors)
}

func TestPipelineIdempotentRerun(t *testing.T) {
	mem := store.NewMemory()
	runImport(t, mem, invoiceRows())

	before := mem.CustomerCount()
	rep := runImport(t, mem, invoiceRows())

	assert.Equal(t, before, mem.CustomerCount())
	assert.Len(t, mem.OrderLines(), 3)

	for _, s := range rep.Stages {
		switch s.Name {
		case "companies":
			assert.Zero(t, s.Stats.Created, s.Name)
		case "customers", "orders":
			assert.Zero(t, s.Stats.Created, s.Name)
			assert.NotZero(t, s.Stats.Updated, s.Name)
		}
	}
}

func TestPipelineRenamedCustomerKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	runImport(t, mem, []model.Row{
		{"Customer Name": "Acme Corp", "Customer ID": "QB-1001"},
	})
	first, err := mem.CustomerByExternalID(ctx, "QB-1001")
	require.NoError(t, err)
	require.NotNil(t, first)

	runImport(t, mem, []model.Row{
		{"Customer Name": "ACME CORPORATION", "Customer ID": "QB-1001"},
	})

	assert.Equal(t, 1, mem.CustomerCount())
	second, err := mem.CustomerByExternalID(ctx, "QB-1001")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "ACME CORPORATION", second.CanonicalName)
}

func TestPipelineAggregatesRowErrors(t *testing.T) {
	mem := store.NewMemory()
	rows := invoiceRows()
	rows = append(rows, model.Row{
		"Customer Name": "Broken Order Co",
		"Invoice No":    "INV-999",
		"Invoice Date":  "not-a-date",
		"Total":         "10",
	})

	rep := runImport(t, mem, rows)

	require.NotEmpty(t, rep.Errors)
	assert.False(t, rep.HasFailures())

	found := false
	for _, e := range rep.Errors {
		if e.Type == "row" {
			found = true
		}
	}
	assert.True(t, found)

	// The well-formed rows still imported.
	inv100, err := mem.OrderByNumber(context.Background(), "INV-100")
	require.NoError(t, err)
	require.NotNil(t, inv100)
}
