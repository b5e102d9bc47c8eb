package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
)

type ProductVariant struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"index;not null" json:"business_id"`
	ProductId  int    `gorm:"index;not null" json:"product_id"`
	Name       string `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku        string `gorm:"size:100" json:"sku"`
	Barcode    string `gorm:"index;size:100" json:"barcode"`
	// Size and Color address ledger rows for products whose variants are
	// attribute combinations rather than catalogued variant rows.
	Size      string          `gorm:"size:50" json:"size"`
	Color     string          `gorm:"size:50" json:"color"`
	StockQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductVariant struct {
	Name    string `json:"name" binding:"required"`
	Sku     string `json:"sku"`
	Barcode string `json:"barcode"`
	Size    string `json:"size"`
	Color   string `json:"color"`
}

func (obj ProductVariant) GetBusinessId() string {
	return obj.BusinessId
}

func (input *NewProductVariant) validate(ctx context.Context, businessId string, id int) error {
	if len(strings.TrimSpace(input.Name)) == 0 {
		return NewValidationError("variant name is required")
	}
	if len(strings.TrimSpace(input.Barcode)) > 0 {
		if err := utils.ValidateUnique[ProductVariant](ctx, businessId, "barcode", input.Barcode, id); err != nil {
			return NewValidationError(err.Error())
		}
	}
	return nil
}

func CreateProductVariant(ctx context.Context, productId int, input *NewProductVariant) (*ProductVariant, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	// parent must exist and belong to the business
	product, err := utils.FetchModel[Product](ctx, businessId, productId)
	if err != nil {
		return nil, NewValidationError("product not found")
	}

	variant := ProductVariant{
		BusinessId: businessId,
		ProductId:  product.ID,
		Name:       input.Name,
		Sku:        input.Sku,
		Barcode:    input.Barcode,
		Size:       input.Size,
		Color:      input.Color,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&variant).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	// parent now has variants; rollups switch to summing variant stocks
	if product.HasVariant == nil || !*product.HasVariant {
		if err := tx.WithContext(ctx).Model(&Product{}).
			Where("id = ?", product.ID).
			UpdateColumn("has_variant", true).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(variant); err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(*product); err != nil {
		return nil, err
	}
	return &variant, nil
}

func GetProductVariant(ctx context.Context, id int) (*ProductVariant, error) {
	return GetResource[ProductVariant](ctx, id)
}

func ListProductVariants(ctx context.Context, productId int) ([]*ProductVariant, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*ProductVariant
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
