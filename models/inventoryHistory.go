package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const historyPageLimit = 100

// InventoryHistory is the append-only audit trail of ledger changes. Records
// are never mutated or deleted.
//
// Delta is the unsigned magnitude of the change, with Type carrying the
// direction; ResultingQty is the stock remaining for the addressed key after
// the change. Storing both removes any ambiguity about which one a record
// means.
type InventoryHistory struct {
	ID           int                  `gorm:"primary_key" json:"id"`
	BusinessId   string               `gorm:"index;not null" json:"business_id"`
	ProductId    int                  `gorm:"index;not null" json:"product_id"`
	VariantId    int                  `gorm:"not null;default:0" json:"variant_id"`
	Size         string               `gorm:"size:50;not null;default:''" json:"size"`
	Color        string               `gorm:"size:50;not null;default:''" json:"color"`
	Type         InventoryHistoryType `gorm:"size:20;not null" json:"type"`
	Delta        decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"delta"`
	ResultingQty decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"resulting_qty"`
	Reason       string               `gorm:"size:255" json:"reason"`
	UserId       *int                 `json:"user_id"` // null for system jobs
	CreatedAt    time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

// appendInventoryHistory writes one audit record inside the caller's
// transaction. The actor comes from the transaction's context; system jobs
// carry none and are recorded with a null user. A failed audit write aborts
// the surrounding stock change.
func appendInventoryHistory(tx *gorm.DB, businessId string, key *InventoryItemKey, historyType InventoryHistoryType, delta decimal.Decimal, resultingQty decimal.Decimal, reason string) error {
	var userId *int
	if id, ok := utils.GetUserIdFromContext(tx.Statement.Context); ok && id > 0 {
		userId = &id
	}

	history := InventoryHistory{
		BusinessId:   businessId,
		ProductId:    key.ProductId,
		VariantId:    key.VariantId,
		Size:         key.Size,
		Color:        key.Color,
		Type:         historyType,
		Delta:        delta,
		ResultingQty: resultingQty,
		Reason:       reason,
		UserId:       userId,
	}
	if err := tx.Create(&history).Error; err != nil {
		tx.Rollback()
		return err
	}
	return nil
}

// ListInventoryHistories returns audit records newest first, optionally
// narrowed to one product.
func ListInventoryHistories(ctx context.Context, productId *int, limit int) ([]*InventoryHistory, error) {

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

	var histories []*InventoryHistory
	if err := dbCtx.Order("id DESC").Limit(limit).Find(&histories).Error; err != nil {
		return nil, err
	}
	return histories, nil
}
