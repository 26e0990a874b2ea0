package batch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/asphaltanchors/importer/internal/address"
	"github.com/asphaltanchors/importer/internal/model"
	"github.com/asphaltanchors/importer/internal/normalize"
	"github.com/asphaltanchors/importer/internal/resolve"
	"github.com/asphaltanchors/importer/internal/store"
)

// Column aliases per field, in preference order. Exports disagree on header
// spelling across source systems.
var (
	colsCustomerName = []string{"Customer Name", "Customer", "Name"}
	colsCompanyName  = []string{"Company Name", "Company"}
	colsEmail        = []string{"Main Email", "Email", "Customer Email"}
	colsPhone        = []string{"Main Phone", "Phone", "Work Phone"}
	colsExternalID   = []string{"Customer ID", "External ID", "QuickBooks ID"}
	colsOrderNumber  = []string{"Invoice No", "Sales Receipt No", "Order Number"}
	colsOrderDate    = []string{"Invoice Date", "Sale Date", "Date"}
	colsOrderTotal   = []string{"Total", "Amount", "Total Amount"}
	colsOrderStatus  = []string{"Status", "Paid Status"}
	colsProductCode  = []string{"Product/Service", "Item", "Product Code"}
	colsLineDesc     = []string{"Product/Service Description", "Description", "Memo"}
	colsLineQty      = []string{"Qty", "Quantity"}
	colsLineAmount   = []string{"Product/Service Amount", "Line Amount", "Amount"}
	colsLineNo       = []string{"Line No", "Line"}
)

// addressColumns maps the fixed address field set to column aliases for one
// prefix ("Billing" or "Shipping").
func addressFields(row model.Row, prefix string) address.Fields {
	get := func(suffixes ...string) string {
		for _, s := range suffixes {
			if v := row.Get(prefix + " " + s); v != "" {
				return v
			}
		}
		return ""
	}
	return address.Fields{
		Line1:      get("Address Line 1", "Address Line1", "Address 1"),
		Line2:      get("Address Line 2", "Address Line2", "Address 2"),
		Line3:      get("Address Line 3", "Address Line3", "Address 3"),
		City:       get("Address City", "City"),
		State:      get("Address State", "State"),
		PostalCode: get("Address Postal Code", "Address Zip", "Zip"),
		Country:    get("Address Country", "Country"),
	}
}

// CompanyProcessor consolidates email domains into canonical companies.
type CompanyProcessor struct {
	store   store.Store
	domains *normalize.DomainNormalizer
	seen    map[string]bool // company keys handled this run
	pending []string        // keys first seen in the current batch
}

// NewCompanyProcessor creates the companies stage.
func NewCompanyProcessor(s store.Store, domains *normalize.DomainNormalizer) *CompanyProcessor {
	return &CompanyProcessor{store: s, domains: domains, seen: make(map[string]bool)}
}

func (p *CompanyProcessor) Name() string { return "companies" }

// BatchDone drops the batch's keys from the run cache when the batch rolled
// back, so the companies it would have created are retried later.
func (p *CompanyProcessor) BatchDone(committed bool) {
	if !committed {
		for _, key := range p.pending {
			delete(p.seen, key)
		}
	}
	p.pending = p.pending[:0]
}

func (p *CompanyProcessor) ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error {
	raw := row.First(colsEmail...)
	key := p.domains.Normalize(raw)
	if key == "" || key == normalize.SkipSentinel {
		st.Skipped++
		return nil
	}
	row[model.RowCompanyKey] = key

	display := row.First(colsCompanyName...)
	if display == "" {
		if strings.HasPrefix(key, normalize.IndividualPrefix) {
			display = "Individual (" + strings.TrimPrefix(key, normalize.IndividualPrefix) + ")"
		} else {
			display = key
		}
	}

	if p.seen[key] {
		st.Skipped++
		return nil
	}
	p.seen[key] = true
	p.pending = append(p.pending, key)

	existing, err := p.store.CompanyByKey(ctx, key)
	if err != nil {
		return eris.Wrap(err, "companies: lookup")
	}
	if existing == nil {
		if err := tx.InsertCompany(ctx, &model.Company{
			Key:         key,
			DisplayName: display,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return err
		}
		st.Created++
		return nil
	}
	if existing.DisplayName != display && row.First(colsCompanyName...) != "" {
		existing.DisplayName = display
		if err := tx.UpdateCompany(ctx, existing); err != nil {
			return err
		}
		st.Updated++
		return nil
	}
	st.Skipped++
	return nil
}

// AddressProcessor resolves billing and shipping field groups to
// content-addressed identities and writes the hashes back into the row.
type AddressProcessor struct {
	dedupe *address.Deduplicator
}

// NewAddressProcessor creates the addresses stage.
func NewAddressProcessor(d *address.Deduplicator) *AddressProcessor {
	return &AddressProcessor{dedupe: d}
}

func (p *AddressProcessor) Name() string { return "addresses" }

func (p *AddressProcessor) ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error {
	touched := false
	for _, group := range []struct {
		prefix string
		rowKey string
	}{
		{"Billing", model.RowBillingAddressHash},
		{"Shipping", model.RowShippingAddressHash},
	} {
		hash, created, err := p.dedupe.Resolve(ctx, tx, addressFields(row, group.prefix))
		if err != nil {
			return err
		}
		if hash == "" {
			continue
		}
		row[group.rowKey] = hash
		touched = true
		if created {
			st.Created++
		} else {
			st.Updated++
		}
	}
	if !touched {
		st.Skipped++
	}
	return nil
}

// CustomerProcessor resolves each row to a canonical customer via the
// matching cascade, creating one when no step hits.
type CustomerProcessor struct {
	matcher *resolve.Matcher
}

// NewCustomerProcessor creates the customers stage.
func NewCustomerProcessor(m *resolve.Matcher) *CustomerProcessor {
	return &CustomerProcessor{matcher: m}
}

func (p *CustomerProcessor) Name() string { return "customers" }

func (p *CustomerProcessor) ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error {
	rawName := row.First(colsCustomerName...)
	externalID := row.First(colsExternalID...)
	if rawName == "" && externalID == "" {
		return eris.New("customers: missing customer name")
	}

	decision, err := p.matcher.Match(ctx, resolve.MatchInput{
		Name:       rawName,
		ExternalID: externalID,
		City:       row.First("Billing Address City", "Billing City", "City"),
		CompanyKey: row.Get(model.RowCompanyKey),
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	canonical := normalize.NormalizeName(rawName)

	if decision.Matched() {
		c := *decision.Customer
		// Canonical name is last-write-wins, not first-seen.
		if canonical != "" {
			c.CanonicalName = canonical
		}
		if externalID != "" {
			c.ExternalID = externalID
		}
		if key := row.Get(model.RowCompanyKey); key != "" {
			c.CompanyKey = key
		}
		if h := row.Get(model.RowBillingAddressHash); h != "" {
			c.BillingAddressHash = h
		}
		if h := row.Get(model.RowShippingAddressHash); h != "" {
			c.ShippingAddressHash = h
		}
		c.ModifiedAt = now
		if err := tx.UpdateCustomer(ctx, &c); err != nil {
			return err
		}
		p.matcher.Observe(&c)
		row[model.RowCustomerID] = c.ID
		st.Updated++
		return nil
	}

	c := &model.Customer{
		ID:                  uuid.NewString(),
		CanonicalName:       canonical,
		CompanyKey:          row.Get(model.RowCompanyKey),
		ExternalID:          externalID,
		BillingAddressHash:  row.Get(model.RowBillingAddressHash),
		ShippingAddressHash: row.Get(model.RowShippingAddressHash),
		CreatedAt:           now,
		ModifiedAt:          now,
	}
	if err := tx.InsertCustomer(ctx, c); err != nil {
		return err
	}
	p.matcher.Observe(c)
	row[model.RowCustomerID] = c.ID
	st.Created++
	return nil
}

// ContactProcessor upserts emails and phones against resolved customers.
type ContactProcessor struct{}

// NewContactProcessor creates the contacts stage.
func NewContactProcessor() *ContactProcessor { return &ContactProcessor{} }

func (p *ContactProcessor) Name() string { return "contacts" }

func (p *ContactProcessor) ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error {
	customerID := row.Get(model.RowCustomerID)
	if customerID == "" {
		st.Skipped++
		return nil
	}

	written := 0
	for _, email := range splitMulti(row.First(colsEmail...)) {
		if err := tx.UpsertContact(ctx, &model.Contact{
			CustomerID: customerID,
			Kind:       "email",
			Value:      strings.ToLower(email),
		}); err != nil {
			return err
		}
		written++
	}
	for _, phone := range splitMulti(row.First(colsPhone...)) {
		if err := tx.UpsertContact(ctx, &model.Contact{
			CustomerID: customerID,
			Kind:       "phone",
			Value:      phone,
		}); err != nil {
			return err
		}
		written++
	}

	if written == 0 {
		st.Skipped++
	} else {
		st.Created++
	}
	return nil
}

// splitMulti splits multi-valued cells ("a@x.com; b@x.com").
func splitMulti(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// OrderProcessor upserts orders by number against resolved customers.
type OrderProcessor struct {
	store   store.Store
	seen    map[string]string // order number -> id, this run
	pending []string          // numbers first seen in the current batch
}

// NewOrderProcessor creates the orders stage.
func NewOrderProcessor(s store.Store) *OrderProcessor {
	return &OrderProcessor{store: s, seen: make(map[string]string)}
}

func (p *OrderProcessor) Name() string { return "orders" }

// BatchDone drops the batch's order numbers from the run cache when the
// batch rolled back, so those orders are upserted again rather than skipped.
func (p *OrderProcessor) BatchDone(committed bool) {
	if !committed {
		for _, number := range p.pending {
			delete(p.seen, number)
		}
	}
	p.pending = p.pending[:0]
}

func (p *OrderProcessor) ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error {
	number := row.First(colsOrderNumber...)
	if number == "" {
		st.Skipped++
		return nil
	}
	customerID := row.Get(model.RowCustomerID)
	if customerID == "" {
		return eris.Errorf("orders: order %s has no resolved customer", number)
	}

	date, err := parseDate(row.First(colsOrderDate...))
	if err != nil {
		return eris.Wrapf(err, "orders: order %s", number)
	}
	total, err := parseAmount(row.First(colsOrderTotal...))
	if err != nil {
		return eris.Wrapf(err, "orders: order %s", number)
	}

	if id, ok := p.seen[number]; ok {
		// Repeated rows of one order (line-item exports): order already upserted.
		row[model.RowOrderID] = id
		st.Skipped++
		return nil
	}

	id := ""
	existing, err := p.store.OrderByNumber(ctx, number)
	if err != nil {
		return eris.Wrap(err, "orders: lookup")
	}
	if existing != nil {
		id = existing.ID
	} else {
		id = uuid.NewString()
	}

	if err := tx.UpsertOrder(ctx, &model.Order{
		ID:         id,
		Number:     number,
		CustomerID: customerID,
		Date:       date,
		Total:      total,
		Status:     row.First(colsOrderStatus...),
	}); err != nil {
		return err
	}

	p.seen[number] = id
	p.pending = append(p.pending, number)
	row[model.RowOrderID] = id
	if existing != nil {
		st.Updated++
	} else {
		st.Created++
	}
	return nil
}

// LineItemProcessor buffers line items and flushes them in one bulk upsert
// per batch, inside the batch's transaction.
type LineItemProcessor struct {
	buffer  []model.OrderLine
	nextNo  map[string]int // per-order line counter when no explicit column
}

// NewLineItemProcessor creates the line-items stage.
func NewLineItemProcessor() *LineItemProcessor {
	return &LineItemProcessor{nextNo: make(map[string]int)}
}

func (p *LineItemProcessor) Name() string { return "line_items" }

func (p *LineItemProcessor) ProcessRow(ctx context.Context, tx store.Tx, row model.Row, st *model.Stats) error {
	orderID := row.Get(model.RowOrderID)
	if orderID == "" {
		st.Skipped++
		return nil
	}
	code := row.First(colsProductCode...)
	desc := row.First(colsLineDesc...)
	if code == "" && desc == "" {
		st.Skipped++
		return nil
	}

	qty, err := parseAmount(row.First(colsLineQty...))
	if err != nil {
		return eris.Wrap(err, "line_items: quantity")
	}
	amount, err := parseAmount(row.First(colsLineAmount...))
	if err != nil {
		return eris.Wrap(err, "line_items: amount")
	}

	lineNo := 0
	if raw := row.First(colsLineNo...); raw != "" {
		lineNo, err = strconv.Atoi(raw)
		if err != nil {
			return eris.Wrapf(err, "line_items: line no %q", raw)
		}
	} else {
		p.nextNo[orderID]++
		lineNo = p.nextNo[orderID]
	}

	p.buffer = append(p.buffer, model.OrderLine{
		OrderID:     orderID,
		LineNo:      lineNo,
		ProductCode: code,
		Description: desc,
		Quantity:    qty,
		Amount:      amount,
	})
	st.Created++
	return nil
}

// FlushBatch writes the buffered lines before the batch commits.
func (p *LineItemProcessor) FlushBatch(ctx context.Context, tx store.Tx) error {
	if len(p.buffer) == 0 {
		return nil
	}
	err := tx.UpsertOrderLines(ctx, p.buffer)
	p.buffer = p.buffer[:0]
	return err
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	time.RFC3339,
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, eris.New("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable date %q", s)
}

func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	neg := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		neg = true
		clean = strings.TrimSuffix(strings.TrimPrefix(clean, "("), ")")
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, eris.Errorf("unparseable amount %q", s)
	}
	if neg {
		v = -v
	}
	return v, nil
}
