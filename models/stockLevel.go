package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockLevel is one ledger row: the stock count of a product (or one of its
// variants, addressed by variant id or by size+color) in one warehouse. At
// most one row exists per (business, product, variant key, warehouse) tuple;
// rows are never hard-deleted, a sold-out row stays at zero.
//
// MySQL treats NULLs as distinct inside unique indexes, so absent key parts
// are stored as zero values (variant_id 0, empty size/color) to keep the
// upsert key idempotent.
type StockLevel struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"uniqueIndex:idx_stock_level_key,priority:1;index;not null" json:"business_id"`
	ProductId          int             `gorm:"uniqueIndex:idx_stock_level_key,priority:2;index;not null" json:"product_id"`
	VariantId          int             `gorm:"uniqueIndex:idx_stock_level_key,priority:3;not null;default:0" json:"variant_id"`
	Size               string          `gorm:"uniqueIndex:idx_stock_level_key,priority:4;size:50;not null;default:''" json:"size"`
	Color              string          `gorm:"uniqueIndex:idx_stock_level_key,priority:5;size:50;not null;default:''" json:"color"`
	WarehouseId        int             `gorm:"uniqueIndex:idx_stock_level_key,priority:6;index;not null" json:"warehouse_id"`
	Quantity           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	LowStockThreshold  int             `gorm:"not null;default:5" json:"low_stock_threshold"`
	Location           string          `gorm:"size:255" json:"location"`
	AttributesSnapshot []byte          `gorm:"type:json" json:"attributes_snapshot,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (stockLevel StockLevel) GetBusinessId() string {
	return stockLevel.BusinessId
}

func (stockLevel *StockLevel) key() *InventoryItemKey {
	return &InventoryItemKey{
		ProductId: stockLevel.ProductId,
		VariantId: stockLevel.VariantId,
		Size:      stockLevel.Size,
		Color:     stockLevel.Color,
	}
}

// InventoryItemKey addresses the ledger rows of one product across
// warehouses: by variant id, by size+color, or bare for products whose stock
// is not split into variants.
type InventoryItemKey struct {
	ProductId int    `json:"product_id"`
	VariantId int    `json:"variant_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// validate checks the addressing shape. Manual adds must address a variant
// (by id or by size+color); the remote reconciliation path may address the
// bare product when the catalog match happened at product level.
func (key *InventoryItemKey) validate(ctx context.Context, businessId string, requireVariantKey bool) error {
	if key.ProductId <= 0 {
		return NewValidationError("product id is required")
	}
	if err := utils.ValidateResourceId[Product](ctx, businessId, key.ProductId); err != nil {
		return NewValidationError("product not found")
	}
	if key.VariantId > 0 {
		if key.Size != "" || key.Color != "" {
			return NewValidationError("use either variant id or size and color, not both")
		}
		count, err := utils.ResourceCountWhere[ProductVariant](ctx, businessId,
			"id = ? AND product_id = ?", key.VariantId, key.ProductId)
		if err != nil {
			return err
		}
		if count == 0 {
			return NewValidationError("product variant not found")
		}
		return nil
	}
	if key.Size != "" || key.Color != "" {
		if key.Size == "" || key.Color == "" {
			return NewValidationError("size and color are required together")
		}
		return nil
	}
	if requireVariantKey {
		return NewValidationError("variant id or size and color are required")
	}
	return nil
}

// scope narrows a query to the rows addressed by the key.
func (key *InventoryItemKey) scope(dbCtx *gorm.DB) *gorm.DB {
	dbCtx = dbCtx.Where("product_id = ?", key.ProductId)
	if key.VariantId > 0 {
		return dbCtx.Where("variant_id = ?", key.VariantId)
	}
	return dbCtx.Where("variant_id = 0 AND size = ? AND color = ?", key.Size, key.Color)
}

type NewStockLevel struct {
	ProductId          int               `json:"product_id"`
	VariantId          int               `json:"variant_id"`
	Size               string            `json:"size"`
	Color              string            `json:"color"`
	WarehouseId        int               `json:"warehouse_id"`
	Quantity           decimal.Decimal   `json:"quantity"`
	LowStockThreshold  *int              `json:"low_stock_threshold"`
	Location           string            `json:"location"`
	AttributesSnapshot map[string]string `json:"attributes_snapshot"`
}

func (input *NewStockLevel) key() *InventoryItemKey {
	return &InventoryItemKey{
		ProductId: input.ProductId,
		VariantId: input.VariantId,
		Size:      input.Size,
		Color:     input.Color,
	}
}

func (input *NewStockLevel) validate(ctx context.Context, businessId string) error {
	if err := input.key().validate(ctx, businessId, true); err != nil {
		return err
	}
	// an omitted warehouse means the default one, resolved at create time
	if input.WarehouseId > 0 {
		if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.WarehouseId); err != nil {
			return NewValidationError("warehouse not found")
		}
	}
	if input.Quantity.IsNegative() {
		return NewValidationError("initial stock cannot be negative")
	}
	if input.LowStockThreshold != nil && *input.LowStockThreshold < 0 {
		return NewValidationError("low stock threshold cannot be negative")
	}
	return nil
}

// firstOrCreateStockLevel locks the row for the key in the given warehouse,
// creating it from attrs when it does not exist yet.
func firstOrCreateStockLevel(tx *gorm.DB, businessId string, key *InventoryItemKey, warehouseId int, attrs StockLevel) (*StockLevel, bool, error) {
	isNew := false
	stockLevel := StockLevel{
		BusinessId:  businessId,
		ProductId:   key.ProductId,
		VariantId:   key.VariantId,
		Size:        key.Size,
		Color:       key.Color,
		WarehouseId: warehouseId,
	}
	// FirstOrCreate will try to find a record matching the conditions, and if it doesn't find one, it will create a new record
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND product_id = ? AND variant_id = ? AND size = ? AND color = ? AND warehouse_id = ?",
			businessId, key.ProductId, key.VariantId, key.Size, key.Color, warehouseId).
		Attrs(attrs).
		FirstOrCreate(&stockLevel)
	if result.Error != nil {
		tx.Rollback()
		return nil, isNew, result.Error
	}
	if result.RowsAffected == 1 {
		isNew = true
	}

	return &stockLevel, isNew, nil
}

// findStockLevelsForKey loads every warehouse's row for the key, ordered for
// the caller's consumption strategy. When lock is set the rows are read FOR
// UPDATE so they cannot move between the read and the caller's write.
func findStockLevelsForKey(tx *gorm.DB, businessId string, key *InventoryItemKey, order string, lock bool) ([]*StockLevel, error) {
	dbCtx := key.scope(tx.Where("business_id = ?", businessId))
	if lock {
		dbCtx = dbCtx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var stockLevels []*StockLevel
	if err := dbCtx.Order(order).Find(&stockLevels).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return stockLevels, nil
}

var errStockLevelStale = errors.New("stock level changed concurrently")

// applyStockLevelQuantity persists an absolute quantity for one row. Under
// the locking strategy the caller already holds the row lock, so a plain
// UPDATE is enough. Under the optimistic strategy the UPDATE only applies
// while the row still holds the quantity the caller read; zero rows affected
// means a concurrent writer got there first and the caller must reload and
// replan.
func applyStockLevelQuantity(tx *gorm.DB, stockLevel *StockLevel, quantity decimal.Decimal) error {
	if config.StockWriteStrategy() == config.StockWriteStrategyOptimistic {
		result := tx.Exec("UPDATE stock_levels SET quantity = ? WHERE id = ? AND quantity = ?",
			quantity, stockLevel.ID, stockLevel.Quantity)
		if result.Error != nil {
			tx.Rollback()
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errStockLevelStale
		}
		stockLevel.Quantity = quantity
		return nil
	}

	if err := tx.Exec("UPDATE stock_levels SET quantity = ? WHERE id = ?",
		quantity, stockLevel.ID).Error; err != nil {
		tx.Rollback()
		return err
	}
	stockLevel.Quantity = quantity
	return nil
}

// OverwriteStockQuantity find-or-creates the ledger row for the key in the
// given warehouse and replaces its quantity with an absolute value. This is
// the reconciliation write path: the remote system is authoritative, so the
// local count is overwritten rather than adjusted by a delta.
func OverwriteStockQuantity(tx *gorm.DB, businessId string, key *InventoryItemKey, warehouseId int, quantity decimal.Decimal, reason string) (*StockLevel, error) {
	stockLevel, _, err := firstOrCreateStockLevel(tx, businessId, key, warehouseId,
		StockLevel{LowStockThreshold: defaultLowStockThreshold})
	if err != nil {
		return nil, err
	}

	previous := stockLevel.Quantity
	if err := tx.Exec("UPDATE stock_levels SET quantity = ? WHERE id = ?",
		quantity, stockLevel.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	stockLevel.Quantity = quantity

	if err := appendInventoryHistory(tx, businessId, key, InventoryHistoryTypeUpdate,
		quantity.Sub(previous).Abs(), quantity, reason); err != nil {
		return nil, err
	}

	return stockLevel, nil
}

// SyncStockQuantity lands one remote absolute count on a warehouse row for
// the key: overwrite, history entry with the given reason, product rollup and
// low-stock check. Each call runs in its own transaction so one bad item
// cannot poison the rest of a reconciliation run. Callers resolve the key
// from business-scoped catalog lookups, so only the shape is re-checked here.
func SyncStockQuantity(ctx context.Context, key *InventoryItemKey, warehouseId int, quantity decimal.Decimal, reason string) (*StockLevel, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if key == nil || key.ProductId <= 0 {
		return nil, errors.New("product id is required")
	}
	if warehouseId <= 0 {
		return nil, errors.New("warehouse id is required")
	}

	db := config.GetDB()
	tx := db.Begin()

	stockLevel, err := OverwriteStockQuantity(tx.WithContext(ctx), businessId, key, warehouseId, quantity, reason)
	if err != nil {
		return nil, err
	}
	if err := recomputeProductStockTx(tx.WithContext(ctx), businessId, key.ProductId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	checkLowStock(ctx, stockLevel)

	return stockLevel, nil
}

func GetAllInventory(ctx context.Context, warehouseId *int) ([]*StockLevel, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if warehouseId != nil && *warehouseId > 0 {
		// check if warehouse exists and belong to the business
		if err := utils.ValidateResourceId[Warehouse](ctx, businessId, *warehouseId); err != nil {
			return nil, NewValidationError("warehouse not found")
		}
		dbCtx = dbCtx.Where("warehouse_id = ?", *warehouseId)
	}

	var stockLevels []*StockLevel
	if err := dbCtx.Order("product_id, warehouse_id, id").Find(&stockLevels).Error; err != nil {
		return nil, err
	}
	return stockLevels, nil
}

func GetProductInventory(ctx context.Context, productId int) ([]*StockLevel, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Product](ctx, businessId, productId); err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	var stockLevels []*StockLevel
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("product_id = ?", productId).
		Order("warehouse_id, variant_id, size, color").
		Find(&stockLevels).Error; err != nil {
		return nil, err
	}
	return stockLevels, nil
}

// GetLowStockItems returns every row at or below its own threshold, most
// depleted first.
func GetLowStockItems(ctx context.Context) ([]*StockLevel, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var stockLevels []*StockLevel
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("quantity <= low_stock_threshold").
		Order("quantity, product_id").
		Find(&stockLevels).Error; err != nil {
		return nil, err
	}
	return stockLevels, nil
}

// UpdateInventory sets one row's quantity to an absolute value (admin
// override). The history direction comes from comparing against the previous
// value.
func UpdateInventory(ctx context.Context, id int, quantity decimal.Decimal) (*StockLevel, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	policy, err := ReservationPolicyForContext(ctx)
	if err != nil {
		return nil, err
	}
	if quantity.IsNegative() && !policy.AllowNegativeStock {
		return nil, NewValidationError("quantity cannot be negative while negative stock is disabled")
	}

	db := config.GetDB()
	tx := db.Begin()

	stockLevel, err := lockStockLevelById(tx.WithContext(ctx), businessId, id)
	if err != nil {
		return nil, err
	}

	historyType := InventoryHistoryTypeDecrease
	if quantity.GreaterThan(stockLevel.Quantity) {
		historyType = InventoryHistoryTypeIncrease
	}
	delta := quantity.Sub(stockLevel.Quantity).Abs()

	if err := tx.WithContext(ctx).Exec("UPDATE stock_levels SET quantity = ? WHERE id = ?",
		quantity, stockLevel.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	stockLevel.Quantity = quantity

	if err := appendInventoryHistory(tx.WithContext(ctx), businessId, stockLevel.key(),
		historyType, delta, quantity, "Manual adjustment"); err != nil {
		return nil, err
	}
	if err := recomputeProductStockTx(tx.WithContext(ctx), businessId, stockLevel.ProductId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	checkLowStock(ctx, stockLevel)

	return stockLevel, nil
}

// AddInventory creates a new ledger row. It fails with ErrStockLevelExists
// when a row already holds the same key; callers must switch to
// UpdateInventory in that case. A missing warehouse id falls back to the
// business's Main Warehouse, created on first use.
func AddInventory(ctx context.Context, input *NewStockLevel) (*StockLevel, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	threshold := defaultLowStockThreshold
	if input.LowStockThreshold != nil {
		threshold = *input.LowStockThreshold
	}
	var attributes []byte
	if len(input.AttributesSnapshot) > 0 {
		snapshot, err := utils.MarshalToJSON(input.AttributesSnapshot)
		if err != nil {
			return nil, err
		}
		attributes = []byte(snapshot)
	}

	db := config.GetDB()
	tx := db.Begin()

	warehouseId := input.WarehouseId
	if warehouseId <= 0 {
		warehouse, err := EnsureMainWarehouse(tx.WithContext(ctx), businessId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		warehouseId = warehouse.ID
	}

	key := input.key()
	stockLevel, isNew, err := firstOrCreateStockLevel(tx.WithContext(ctx), businessId, key, warehouseId,
		StockLevel{
			Quantity:           input.Quantity,
			LowStockThreshold:  threshold,
			Location:           input.Location,
			AttributesSnapshot: attributes,
		})
	if err != nil {
		return nil, err
	}
	if !isNew {
		tx.Rollback()
		return nil, ErrStockLevelExists
	}

	if err := appendInventoryHistory(tx.WithContext(ctx), businessId, key,
		InventoryHistoryTypeIncrease, input.Quantity, stockLevel.Quantity, "Initial stock"); err != nil {
		return nil, err
	}
	if err := recomputeProductStockTx(tx.WithContext(ctx), businessId, key.ProductId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	checkLowStock(ctx, stockLevel)

	return stockLevel, nil
}

type BulkUpdateItem struct {
	Id       int             `json:"id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BulkUpdateInventory applies absolute quantities to a batch of rows in one
// transaction; one bad row rejects the whole batch. Rollups run once per
// distinct product after every row is written.
func BulkUpdateInventory(ctx context.Context, items []*BulkUpdateItem) ([]*StockLevel, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if len(items) == 0 {
		return nil, NewValidationError("at least one item is required")
	}
	policy, err := ReservationPolicyForContext(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Id <= 0 {
			return nil, NewValidationError("inventory row id is required")
		}
		if item.Quantity.IsNegative() && !policy.AllowNegativeStock {
			return nil, NewValidationError("quantity cannot be negative while negative stock is disabled")
		}
	}

	db := config.GetDB()
	tx := db.Begin()

	updated := make([]*StockLevel, 0, len(items))
	var productIds []int
	for _, item := range items {
		stockLevel, err := lockStockLevelById(tx.WithContext(ctx), businessId, item.Id)
		if err != nil {
			return nil, err
		}

		historyType := InventoryHistoryTypeDecrease
		if item.Quantity.GreaterThan(stockLevel.Quantity) {
			historyType = InventoryHistoryTypeIncrease
		}
		delta := item.Quantity.Sub(stockLevel.Quantity).Abs()

		if err := tx.WithContext(ctx).Exec("UPDATE stock_levels SET quantity = ? WHERE id = ?",
			item.Quantity, stockLevel.ID).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		stockLevel.Quantity = item.Quantity

		if err := appendInventoryHistory(tx.WithContext(ctx), businessId, stockLevel.key(),
			historyType, delta, item.Quantity, "Manual adjustment"); err != nil {
			return nil, err
		}

		updated = append(updated, stockLevel)
		productIds = append(productIds, stockLevel.ProductId)
	}

	for _, productId := range utils.UniqueSlice(productIds) {
		if err := recomputeProductStockTx(tx.WithContext(ctx), businessId, productId); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	for _, stockLevel := range updated {
		checkLowStock(ctx, stockLevel)
	}

	return updated, nil
}

// lockStockLevelById loads one row FOR UPDATE, scoped to the business.
func lockStockLevelById(tx *gorm.DB, businessId string, id int) (*StockLevel, error) {
	var stockLevel StockLevel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&stockLevel, id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &stockLevel, nil
}
