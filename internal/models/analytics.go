package models

import "time"

// CategoryDistribution counts devices per category with the share of the fleet.
type CategoryDistribution struct {
	Category   DeviceCategory `db:"category" json:"category"`
	Count      int            `db:"count" json:"count"`
	Percentage float64        `db:"percentage" json:"percentage"`
}

// DepreciationSummary aggregates straight-line depreciation over the fleet.
type DepreciationSummary struct {
	TotalPurchaseCost float64 `db:"total_purchase_cost" json:"total_purchase_cost"`
	CurrentValue      float64 `json:"current_value"`
	DepreciatedValue  float64 `json:"depreciated_value"`
	DeviceCount       int     `db:"device_count" json:"device_count"`
}

// UtilizationSummary reports the share of devices in active use.
type UtilizationSummary struct {
	Total       int     `db:"total" json:"total"`
	Active      int     `db:"active" json:"active"`
	Maintenance int     `db:"maintenance" json:"maintenance"`
	Offline     int     `db:"offline" json:"offline"`
	Retired     int     `db:"retired" json:"retired"`
	Utilization float64 `json:"utilization_percentage"`
}

// AgeBucket groups devices by age in years since purchase.
type AgeBucket struct {
	Bucket string `db:"bucket" json:"bucket"`
	Count  int    `db:"count" json:"count"`
}

// InventoryReportRow is one line of the exportable inventory report.
type InventoryReportRow struct {
	NameTag      string  `db:"name_tag" json:"name_tag"`
	SerialNumber string  `db:"serial_number" json:"serial_number"`
	Category     string  `db:"category" json:"category"`
	Status       string  `db:"status" json:"status"`
	Condition    string  `db:"condition" json:"condition"`
	SchoolName   *string `db:"school_name" json:"school_name,omitempty"`
	District     *string `db:"district" json:"district,omitempty"`
}

// DeviceAgeRow carries purchase info needed for depreciation arithmetic.
type DeviceAgeRow struct {
	ID           string     `db:"id"`
	PurchaseCost *float64   `db:"purchase_cost"`
	PurchaseDate *time.Time `db:"purchase_date"`
}
