package types

import "encoding/json"

// SupplierCandidate is a scored supplier from supplier/score_suppliers.
type SupplierCandidate struct {
	SupplierID   string   `json:"supplier_id"`
	SupplierName string   `json:"supplier_name"`
	UnitPrice    float64  `json:"unit_price"`
	Score        float64  `json:"score"`
	LeadTimeDays int      `json:"lead_time_days"`
	MOQFitPct    *float64 `json:"moq_fit_pct,omitempty"`
}

// ScoreResult is the payload of supplier/score_suppliers.
type ScoreResult struct {
	RankedSuppliers     []json.RawMessage  `json:"ranked_suppliers"`
	RecommendedSupplier *SupplierCandidate `json:"recommended_supplier"`
}

// Selection is the supplier chosen for one SKU, or the reason none was.
type Selection struct {
	SKU           string            `json:"sku"`
	SupplierID    *string           `json:"supplier_id"`
	SupplierName  string            `json:"supplier_name,omitempty"`
	UnitPrice     float64           `json:"unit_price,omitempty"`
	Score         float64           `json:"score,omitempty"`
	LeadTimeDays  int               `json:"lead_time_days,omitempty"`
	NetQty        int               `json:"net_qty"`
	Urgency       Urgency           `json:"urgency"`
	Rationale     string            `json:"rationale,omitempty"`
	AllCandidates []json.RawMessage `json:"all_candidates,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Matched reports whether a supplier was selected.
func (s Selection) Matched() bool {
	return s.SupplierID != nil && *s.SupplierID != ""
}

// SelectionOutput is the selection stage's namespace.
type SelectionOutput struct {
	Selections []Selection
	Rationale  string
	Confidence *float64
}
