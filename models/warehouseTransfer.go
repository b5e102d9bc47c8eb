package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WarehouseMovement is the append-only record of one stock transfer between
// warehouses.
type WarehouseMovement struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	SequenceNo      int64           `gorm:"index" json:"sequence_no"`
	ReferenceNumber string          `gorm:"size:50" json:"reference_number"`
	ProductId       int             `gorm:"index;not null" json:"product_id"`
	VariantId       int             `gorm:"not null;default:0" json:"variant_id"`
	Size            string          `gorm:"size:50;not null;default:''" json:"size"`
	Color           string          `gorm:"size:50;not null;default:''" json:"color"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	FromWarehouseId int             `gorm:"index;not null" json:"from_warehouse_id"`
	ToWarehouseId   int             `gorm:"index;not null" json:"to_warehouse_id"`
	Reason          string          `gorm:"size:255" json:"reason"`
	UserId          *int            `json:"user_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewWarehouseMovement struct {
	ProductId       int             `json:"product_id"`
	VariantId       int             `json:"variant_id"`
	Size            string          `json:"size"`
	Color           string          `json:"color"`
	Quantity        decimal.Decimal `json:"quantity"`
	FromWarehouseId int             `json:"from_warehouse_id"`
	ToWarehouseId   int             `json:"to_warehouse_id"`
	Reason          string          `json:"reason"`
}

func (input *NewWarehouseMovement) key() *InventoryItemKey {
	return &InventoryItemKey{
		ProductId: input.ProductId,
		VariantId: input.VariantId,
		Size:      input.Size,
		Color:     input.Color,
	}
}

func (input *NewWarehouseMovement) validate(ctx context.Context, businessId string) error {
	if !input.Quantity.IsPositive() {
		return NewValidationError("quantity must be greater than zero")
	}
	if input.FromWarehouseId == input.ToWarehouseId {
		return NewValidationError("transfers cannot be made within the same warehouse. please choose a different one and proceed")
	}
	// exists warehouse
	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.FromWarehouseId); err != nil {
		return NewValidationError("source warehouse not found")
	}
	if err := utils.ValidateResourceId[Warehouse](ctx, businessId, input.ToWarehouseId); err != nil {
		return NewValidationError("destination warehouse not found")
	}
	return input.key().validate(ctx, businessId, false)
}

// MoveStockBetweenWarehouses moves quantity from one warehouse's row to
// another's for the same item key. Transfers never create negative balances,
// even when the business allows negative stock: the source row must exist and
// hold at least the requested quantity. The destination row is created at
// zero when missing.
func MoveStockBetweenWarehouses(ctx context.Context, input *NewWarehouseMovement) (*WarehouseMovement, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	logger := config.GetLogger()
	debug := strings.EqualFold(strings.TrimSpace(os.Getenv("DEBUG_STOCK_TRANSFER")), "true")

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	key := input.key()

	tx := db.Begin()

	seqNo, err := utils.GetSequence[WarehouseMovement](ctx, businessId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// the source row must exist and cover the quantity
	var source StockLevel
	err = key.scope(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId)).
		Where("warehouse_id = ?", input.FromWarehouseId).
		First(&source).Error
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: source warehouse holds no stock for this item", ErrNoInventoryRow)
		}
		return nil, err
	}
	if source.Quantity.LessThan(input.Quantity) {
		tx.Rollback()
		return nil, &InsufficientStockError{
			ProductId: key.ProductId,
			VariantId: key.VariantId,
			Size:      key.Size,
			Color:     key.Color,
			Requested: input.Quantity,
			Available: source.Quantity,
		}
	}

	destination, _, err := firstOrCreateStockLevel(tx.WithContext(ctx), businessId, key, input.ToWarehouseId,
		StockLevel{LowStockThreshold: defaultLowStockThreshold, Location: source.Location})
	if err != nil {
		return nil, err
	}

	if err := tx.WithContext(ctx).Exec("UPDATE stock_levels SET quantity = quantity - ? WHERE id = ?",
		input.Quantity, source.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Exec("UPDATE stock_levels SET quantity = quantity + ? WHERE id = ?",
		input.Quantity, destination.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	var userId *int
	if id, ok := utils.GetUserIdFromContext(ctx); ok && id > 0 {
		userId = &id
	}
	movement := WarehouseMovement{
		BusinessId:      businessId,
		SequenceNo:      seqNo,
		ReferenceNumber: "TRF-" + fmt.Sprint(seqNo),
		ProductId:       key.ProductId,
		VariantId:       key.VariantId,
		Size:            key.Size,
		Color:           key.Color,
		Quantity:        input.Quantity,
		FromWarehouseId: input.FromWarehouseId,
		ToWarehouseId:   input.ToWarehouseId,
		Reason:          input.Reason,
		UserId:          userId,
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := recomputeProductStockTx(tx.WithContext(ctx), businessId, key.ProductId); err != nil {
		return nil, err
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"business_id":       businessId,
			"reference_number":  movement.ReferenceNumber,
			"product_id":        key.ProductId,
			"from_warehouse_id": input.FromWarehouseId,
			"to_warehouse_id":   input.ToWarehouseId,
			"quantity":          input.Quantity,
		}).Info("stock moved between warehouses")
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &movement, nil
}

// ListWarehouseMovements returns transfer records newest first. The warehouse
// filter matches either end of the movement.
func ListWarehouseMovements(ctx context.Context, productId *int, warehouseId *int, limit int) ([]*WarehouseMovement, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if limit <= 0 || limit > historyPageLimit {
		limit = historyPageLimit
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if productId != nil && *productId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", *productId)
	}
	if warehouseId != nil && *warehouseId > 0 {
		dbCtx = dbCtx.Where("from_warehouse_id = ? OR to_warehouse_id = ?", *warehouseId, *warehouseId)
	}

	var movements []*WarehouseMovement
	if err := dbCtx.Order("id DESC").Limit(limit).Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}
