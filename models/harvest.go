// Package models defines the canonical records every source adapter emits.
package models

// Product is the canonical product record for one identifier.
type Product struct {
	IdentifierCode  string  `json:"ident_code"`
	Name            string  `json:"name"`
	BasePrice       float64 `json:"base_price"`
	FinalPrice      float64 `json:"final_price"`
	InventoryStatus string  `json:"inventory_status"`
}

// Review is a single customer review. Values are never mutated once built.
type Review struct {
	Author           string  `json:"author"`
	Content          string  `json:"content"`
	Rating           float64 `json:"rating"`
	Title            string  `json:"title"`
	ReviewDate       string  `json:"review_date"`
	VerifiedPurchase bool    `json:"verified_purchase"`
	HelpfulText      string  `json:"helpful_text"`
}

// Harvest is the unit handed to the output sink: one identifier, its product
// and every review collected for it. Reviews is empty, never nil, when the
// product has no reviews.
type Harvest struct {
	Identifier string   `json:"identifier"`
	Source     string   `json:"source"`
	Product    Product  `json:"product"`
	Reviews    []Review `json:"reviews"`
}
