package models

import "time"

// DeviceCategory enumerates the tracked equipment kinds.
type DeviceCategory string

const (
	CategoryLaptop    DeviceCategory = "LAPTOP"
	CategoryDesktop   DeviceCategory = "DESKTOP"
	CategoryProjector DeviceCategory = "PROJECTOR"
)

// DeviceStatus tracks operational state.
type DeviceStatus string

const (
	DeviceStatusActive      DeviceStatus = "ACTIVE"
	DeviceStatusMaintenance DeviceStatus = "MAINTENANCE"
	DeviceStatusOffline     DeviceStatus = "OFFLINE"
	DeviceStatusRetired     DeviceStatus = "RETIRED"
)

// DeviceCondition grades physical wear.
type DeviceCondition string

const (
	ConditionNew    DeviceCondition = "NEW"
	ConditionGood   DeviceCondition = "GOOD"
	ConditionFair   DeviceCondition = "FAIR"
	ConditionPoor   DeviceCondition = "POOR"
	ConditionBroken DeviceCondition = "BROKEN"
)

// Device is one tracked asset, optionally assigned to a school.
type Device struct {
	ID                string          `db:"id" json:"id"`
	SerialNumber      string          `db:"serial_number" json:"serial_number"`
	NameTag           string          `db:"name_tag" json:"name_tag"`
	Category          DeviceCategory  `db:"category" json:"category"`
	Model             string          `db:"model" json:"model"`
	Status            DeviceStatus    `db:"status" json:"status"`
	Condition         DeviceCondition `db:"condition" json:"condition"`
	SchoolID          *string         `db:"school_id" json:"school_id,omitempty"`
	PurchaseDate      *time.Time      `db:"purchase_date" json:"purchase_date,omitempty"`
	PurchaseCost      *float64        `db:"purchase_cost" json:"purchase_cost,omitempty"`
	WarrantyExpiry    *time.Time      `db:"warranty_expiry" json:"warranty_expiry,omitempty"`
	LastSeenAt        *time.Time      `db:"last_seen_at" json:"last_seen_at,omitempty"`
	LastMaintenanceAt *time.Time      `db:"last_maintenance_at" json:"last_maintenance_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// DeviceFilter captures listing criteria for devices.
type DeviceFilter struct {
	Category  DeviceCategory
	Status    DeviceStatus
	Condition DeviceCondition
	SchoolID  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
