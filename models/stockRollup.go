package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecomputeProductStock rebuilds the product's denormalized stock from the
// ledger and returns the refreshed product.
func RecomputeProductStock(ctx context.Context, productId int) (*Product, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := recomputeProductStockTx(tx.WithContext(ctx), businessId, productId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return GetProduct(ctx, productId)
}

// recomputeProductStockTx rebuilds stock_qty for one product inside the
// caller's transaction. When the product has variants, each variant's stock
// is summed from its ledger rows first and the product total is the sum of
// variants; otherwise the product total is the sum of all its rows.
//
// The rollup is always a full recompute, never an incremental patch, so a
// redundant call is harmless and a drifted value heals on the next one.
func recomputeProductStockTx(tx *gorm.DB, businessId string, productId int) error {
	product, err := getProductForUpdate(tx, businessId, productId)
	if err != nil {
		tx.Rollback()
		return err
	}

	total := decimal.Zero
	if utils.DereferencePtr(product.HasVariant) {
		var variants []*ProductVariant
		if err := tx.Where("business_id = ? AND product_id = ?", businessId, productId).
			Find(&variants).Error; err != nil {
			tx.Rollback()
			return err
		}

		for _, variant := range variants {
			dbCtx := tx.Model(&StockLevel{}).
				Select("COALESCE(SUM(quantity), 0)").
				Where("business_id = ? AND product_id = ?", businessId, productId)
			// rows belong to a variant either by id or by its attribute pair
			if variant.Size != "" || variant.Color != "" {
				dbCtx = dbCtx.Where("variant_id = ? OR (variant_id = 0 AND size = ? AND color = ?)",
					variant.ID, variant.Size, variant.Color)
			} else {
				dbCtx = dbCtx.Where("variant_id = ?", variant.ID)
			}

			var variantStock decimal.Decimal
			if err := dbCtx.Scan(&variantStock).Error; err != nil {
				tx.Rollback()
				return err
			}

			if err := tx.Exec("UPDATE product_variants SET stock_qty = ? WHERE id = ?",
				variantStock, variant.ID).Error; err != nil {
				tx.Rollback()
				return err
			}
			total = total.Add(variantStock)

			if err := utils.RemoveRedisItem[ProductVariant](variant.ID); err != nil {
				tx.Rollback()
				return err
			}
		}
	} else {
		if err := tx.Model(&StockLevel{}).
			Select("COALESCE(SUM(quantity), 0)").
			Where("business_id = ? AND product_id = ?", businessId, productId).
			Scan(&total).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Exec("UPDATE products SET stock_qty = ? WHERE id = ?", total, productId).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := utils.RemoveRedisItem[Product](productId); err != nil {
		tx.Rollback()
		return err
	}

	return nil
}
