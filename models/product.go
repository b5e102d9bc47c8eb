package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Product struct {
	ID          int    `gorm:"primary_key" json:"id"`
	BusinessId  string `gorm:"index;not null" json:"business_id"`
	Name        string `gorm:"size:100;not null" json:"name" binding:"required"`
	Description string `gorm:"type:text" json:"description"`
	Sku         string `gorm:"size:100;not null" json:"sku"`
	Barcode     string `gorm:"index;size:100" json:"barcode"`
	// McgItemCode links the product to the remote MCG catalog item.
	McgItemCode string `gorm:"index;size:100" json:"mcg_item_code"`
	// StockQty is the rollup across all ledger rows (variant-aware); it is
	// always recomputed in full, never adjusted incrementally.
	StockQty          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	LowStockThreshold int              `gorm:"not null;default:5" json:"low_stock_threshold"`
	HasVariant        *bool            `gorm:"not null;default:false" json:"has_variant"`
	Variants          []ProductVariant `gorm:"foreignKey:ProductId" json:"variants"`
	IsActive          *bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name              string              `json:"name" binding:"required"`
	Description       string              `json:"description"`
	Sku               string              `json:"sku" binding:"required"`
	Barcode           string              `json:"barcode"`
	McgItemCode       string              `json:"mcg_item_code"`
	LowStockThreshold int                 `json:"low_stock_threshold"`
	Variants          []NewProductVariant `json:"variants"`
}

func (obj Product) GetBusinessId() string {
	return obj.BusinessId
}

// validate input for both create & update. (id = 0 for create)

func (input *NewProduct) validate(ctx context.Context, businessId string, id int) error {
	// sku
	if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, id); err != nil {
		return NewValidationError(err.Error())
	}
	// barcode
	if len(strings.TrimSpace(input.Barcode)) > 0 {
		if err := utils.ValidateUnique[Product](ctx, businessId, "barcode", input.Barcode, id); err != nil {
			return NewValidationError(err.Error())
		}
	}
	if input.LowStockThreshold < 0 {
		return NewValidationError("low stock threshold cannot be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	threshold := input.LowStockThreshold
	if threshold == 0 {
		threshold = defaultLowStockThreshold
	}

	hasVariant := len(input.Variants) > 0
	var variants []ProductVariant
	for _, v := range input.Variants {
		variants = append(variants, ProductVariant{
			BusinessId: businessId,
			Name:       v.Name,
			Sku:        v.Sku,
			Barcode:    v.Barcode,
			Size:       v.Size,
			Color:      v.Color,
			IsActive:   utils.NewTrue(),
		})
	}

	product := Product{
		BusinessId:        businessId,
		Name:              input.Name,
		Description:       input.Description,
		Sku:               input.Sku,
		Barcode:           input.Barcode,
		McgItemCode:       input.McgItemCode,
		LowStockThreshold: threshold,
		HasVariant:        &hasVariant,
		Variants:          variants,
		IsActive:          utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&product).Error
	if err != nil {
		return nil, err
	}

	// clear cache
	if err := RemoveRedisBoth(product); err != nil {
		return nil, err
	}
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	threshold := input.LowStockThreshold
	if threshold == 0 {
		threshold = product.LowStockThreshold
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&product).Updates(map[string]interface{}{
		"Name":              input.Name,
		"Description":       input.Description,
		"Sku":               input.Sku,
		"Barcode":           input.Barcode,
		"McgItemCode":       input.McgItemCode,
		"LowStockThreshold": threshold,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*product); err != nil {
		return nil, err
	}
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return GetResource[Product](ctx, id, "Variants")
}

func ListProducts(ctx context.Context, name *string) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Product

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId).Preload("Variants")
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	// db query
	err := dbCtx.Order("name").Limit(config.SearchLimit).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveProduct(ctx context.Context, id int, isActive bool) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return ToggleActiveModel[Product](ctx, businessId, id, isActive)
}

// getProductForUpdate row-locks the product inside the caller's transaction.
// Rollups read the lock holder's ledger writes, so every mutation that will
// recompute stock_qty locks the product first.
func getProductForUpdate(tx *gorm.DB, businessId string, productId int) (*Product, error) {
	var product Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, productId).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}
