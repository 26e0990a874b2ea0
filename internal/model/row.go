package model

import "strings"

// Row is one raw input record: a string-keyed map of field values as read
// from a CSV or spreadsheet. Pipeline stages write resolved identifiers
// (customer id, address hash) back into the row for downstream stages.
type Row map[string]string

// Reserved row keys used to pass resolved identifiers between stages.
const (
	RowCompanyKey          = "_company_key"
	RowCustomerID          = "_customer_id"
	RowOrderID             = "_order_id"
	RowBillingAddressHash  = "_billing_address_hash"
	RowShippingAddressHash = "_shipping_address_hash"
)

// Get returns the trimmed value for key, or "" when absent.
func (r Row) Get(key string) string {
	return strings.TrimSpace(r[key])
}

// First returns the first non-blank value among keys. Sources disagree on
// header spelling (e.g. "Customer" vs "Customer Name"), so callers pass the
// known aliases in preference order.
func (r Row) First(keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Stats accumulates per-processor outcome counts across one run.
type Stats struct {
	Created       int `json:"created" yaml:"created"`
	Updated       int `json:"updated" yaml:"updated"`
	Skipped       int `json:"skipped" yaml:"skipped"`
	Errored       int `json:"errored" yaml:"errored"`
	Batches       int `json:"batches" yaml:"batches"`
	FailedBatches int `json:"failed_batches" yaml:"failed_batches"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Errored += other.Errored
	s.Batches += other.Batches
	s.FailedBatches += other.FailedBatches
}
