package types

// POLine is a line item sent to po/create_draft_po.
type POLine struct {
	SKU        string  `json:"sku"`
	SupplierID string  `json:"supplier_id"`
	QtyOrdered int     `json:"qty_ordered"`
	UnitPrice  float64 `json:"unit_price"`
	Rationale  string  `json:"rationale"`
}

// DraftPOResult is the payload of po/create_draft_po.
type DraftPOResult struct {
	PONumber string `json:"po_number"`
}

// CompilationOutput is the compilation stage's namespace.
type CompilationOutput struct {
	PONumber    string
	SubtotalUSD float64
	FreightUSD  float64
	TotalUSD    float64
	Notes       string
	Rationale   string
}
