package models

// InventoryHistoryType classifies how a ledger row's quantity moved.
type InventoryHistoryType string

const (
	InventoryHistoryTypeIncrease InventoryHistoryType = "increase"
	InventoryHistoryTypeDecrease InventoryHistoryType = "decrease"
	// InventoryHistoryTypeUpdate marks absolute overwrites (remote
	// reconciliation), where the new value replaces the old one instead
	// of moving it in a known direction.
	InventoryHistoryTypeUpdate InventoryHistoryType = "update"
)

// AlertSeverity orders low-stock alerts for routing downstream.
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityMedium   AlertSeverity = "medium"
)

// MainWarehouseName is the fallback warehouse that remote syncs and
// unscoped writes land on. Created lazily per business.
const MainWarehouseName = "Main Warehouse"

const UserRoleAdmin = "admin"
