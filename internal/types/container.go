package types

// Default physical dimensions for products missing from the product master.
const (
	DefaultUnitWeightKg = 1.0
	DefaultUnitCBM      = 0.01
)

// Product is a product master row from erp/get_products.
type Product struct {
	SKU          string   `json:"sku"`
	Name         string   `json:"name,omitempty"`
	UnitWeightKg *float64 `json:"unit_weight_kg,omitempty"`
	UnitCBM      *float64 `json:"unit_cbm,omitempty"`
	MOQ          *int     `json:"moq,omitempty"`
}

// ProductsResult is the payload of erp/get_products.
type ProductsResult struct {
	Products []Product `json:"products"`
}

// ShipmentLine is one line sent to logistics/calculate_container_plan.
type ShipmentLine struct {
	SKU          string  `json:"sku"`
	Qty          int     `json:"qty"`
	UnitWeightKg float64 `json:"unit_weight_kg"`
	UnitCBM      float64 `json:"unit_cbm"`
}

// OrderLineItem is a priced line carried into PO compilation.
type OrderLineItem struct {
	SKU        string  `json:"sku"`
	SupplierID string  `json:"supplier_id"`
	Qty        int     `json:"qty"`
	UnitPrice  float64 `json:"unit_price"`
	Rationale  string  `json:"rationale"`
}

// ContainerPlan is the recommended plan from the logistics server.
type ContainerPlan struct {
	ContainerType         string  `json:"container_type,omitempty"`
	NumContainers         int     `json:"num_containers,omitempty"`
	VolumeUtilisationPct  float64 `json:"volume_utilisation_pct"`
	WeightUtilisationPct  float64 `json:"weight_utilisation_pct"`
	BindingUtilisationPct float64 `json:"binding_utilisation_pct"`
	EstimatedFreightUSD   float64 `json:"estimated_freight_usd"`
}

// ContainerPlanResult is the payload of logistics/calculate_container_plan.
type ContainerPlanResult struct {
	RecommendedPlan *ContainerPlan `json:"recommended_plan"`
	TotalCBM        *float64       `json:"total_cbm,omitempty"`
}

// ContainerOutput is the container stage's namespace.
type ContainerOutput struct {
	OrderLineItems []OrderLineItem
	Plan           *ContainerPlan
	TotalCBM       *float64
	Rationale      string
	Confidence     *float64
}
