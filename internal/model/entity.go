// Package model defines the canonical entities produced by the import
// pipeline and the ephemeral types that flow between its stages.
package model

import "time"

// Company is the canonical company record. Key is the registrable domain
// extracted from an email address, or an explicit id for sources that carry
// one. Companies are created lazily on first sight and never deleted; only
// DisplayName may change afterwards.
type Company struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Customer is the canonical customer record all raw name variants resolve to.
// CanonicalName is last-write-wins: a later import of the same customer under
// a different spelling refreshes the stored name.
type Customer struct {
	ID                  string    `json:"id"`
	CanonicalName       string    `json:"canonical_name"`
	CompanyKey          string    `json:"company_key"`
	ExternalID          string    `json:"external_id,omitempty"` // unique when present
	BillingAddressHash  string    `json:"billing_address_hash,omitempty"`
	ShippingAddressHash string    `json:"shipping_address_hash,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ModifiedAt          time.Time `json:"modified_at"`
}

// Address is a content-addressed address row. ContentHash is the primary key,
// derived from the normalized field values, so byte-identical content always
// collapses to one row.
type Address struct {
	ContentHash string `json:"content_hash"`
	Line1       string `json:"line1,omitempty"`
	Line2       string `json:"line2,omitempty"`
	Line3       string `json:"line3,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Country     string `json:"country,omitempty"`
}

// Contact is an email or phone linked to a customer.
type Contact struct {
	CustomerID string `json:"customer_id"`
	Kind       string `json:"kind"` // "email" or "phone"
	Value      string `json:"value"`
}

// Order is a sales order row linked to a resolved customer.
type Order struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	CustomerID string    `json:"customer_id"`
	Date       time.Time `json:"date"`
	Total      float64   `json:"total"`
	Status     string    `json:"status,omitempty"`
}

// OrderLine is a single line item of an order, keyed (OrderID, LineNo).
type OrderLine struct {
	OrderID     string  `json:"order_id"`
	LineNo      int     `json:"line_no"`
	ProductCode string  `json:"product_code,omitempty"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	Amount      float64 `json:"amount"`
}
