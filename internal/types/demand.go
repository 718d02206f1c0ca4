package types

// Urgency flags how close a SKU is to stocking out.
type Urgency string

// Urgency levels
const (
	UrgencyCritical Urgency = "critical"
	UrgencyNormal   Urgency = "normal"
)

// ProductRef is the product join embedded in an inventory row.
type ProductRef struct {
	Name string `json:"name,omitempty"`
	MOQ  *int   `json:"moq,omitempty"`
}

// InventoryRow is one row returned by erp/get_inventory.
type InventoryRow struct {
	SKU          string      `json:"sku"`
	CurrentStock int         `json:"current_stock"`
	InTransit    int         `json:"in_transit"`
	SafetyStock  int         `json:"safety_stock"`
	ReorderPoint int         `json:"reorder_point,omitempty"`
	Products     *ProductRef `json:"products,omitempty"`
}

// MOQ returns the minimum order quantity for the row, defaulting to 1.
func (r InventoryRow) MOQ() int {
	if r.Products == nil || r.Products.MOQ == nil {
		return 1
	}
	return *r.Products.MOQ
}

// InventoryResult is the payload of erp/get_inventory.
type InventoryResult struct {
	Inventory []InventoryRow `json:"inventory"`
}

// ForecastSummary is the per-SKU forecast total over the horizon.
type ForecastSummary struct {
	SKU           string  `json:"sku"`
	TotalForecast float64 `json:"total_forecast"`
	Months        int     `json:"months,omitempty"`
}

// ForecastResult is the payload of erp/get_forecasts.
type ForecastResult struct {
	SummaryBySKU []ForecastSummary `json:"summary_by_sku"`
}

// NetRequirement is a SKU that needs replenishment.
type NetRequirement struct {
	SKU            string  `json:"sku"`
	NetQty         int     `json:"net_qty"`
	CurrentStock   int     `json:"current_stock"`
	InTransit      int     `json:"in_transit"`
	SafetyStock    int     `json:"safety_stock"`
	ForecastDemand float64 `json:"forecast_demand"`
	Urgency        Urgency `json:"urgency"`
	MOQ            int     `json:"moq"`
}

// DemandOutput is the demand stage's namespace.
type DemandOutput struct {
	InventorySnapshot []InventoryRow
	ForecastSummary   []ForecastSummary
	NetRequirements   []NetRequirement
	PlannedSKUs       []string
	Rationale         string
	Confidence        *float64
	// Complete is set once netting has run, so an empty NetRequirements
	// means "nothing to order" rather than "not computed".
	Complete bool
}
