package models

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxStockWriteAttempts = 3

// ReservationItem is one line of a reservation or release request.
type ReservationItem struct {
	ProductId int             `json:"product_id"`
	VariantId int             `json:"variant_id"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (item *ReservationItem) key() *InventoryItemKey {
	return &InventoryItemKey{
		ProductId: item.ProductId,
		VariantId: item.VariantId,
		Size:      item.Size,
		Color:     item.Color,
	}
}

func (item *ReservationItem) validate(ctx context.Context, businessId string) error {
	if !item.Quantity.IsPositive() {
		return NewValidationError("quantity must be greater than zero")
	}
	return item.key().validate(ctx, businessId, false)
}

// planReservation decides how much to take from each row to cover one
// requested quantity. Rows must already be sorted largest-first; the returned
// takes are aligned with rows. Walking largest-first drains overstocked
// warehouses before depleted ones and touches the fewest rows.
func planReservation(key *InventoryItemKey, rows []*StockLevel, requested decimal.Decimal, allowNegative bool) ([]decimal.Decimal, error) {
	totalAvailable := decimal.Zero
	for _, row := range rows {
		totalAvailable = totalAvailable.Add(row.Quantity)
	}
	if !allowNegative && totalAvailable.LessThan(requested) {
		return nil, &InsufficientStockError{
			ProductId: key.ProductId,
			VariantId: key.VariantId,
			Size:      key.Size,
			Color:     key.Color,
			Requested: requested,
			Available: totalAvailable,
		}
	}

	takes := make([]decimal.Decimal, len(rows))
	remaining := requested
	for i, row := range rows {
		if !remaining.IsPositive() {
			break
		}
		available := row.Quantity
		if allowNegative {
			available = remaining
		}
		take := decimal.Min(remaining, available)
		if take.IsPositive() {
			takes[i] = take
			remaining = remaining.Sub(take)
		}
	}

	// Only reachable when negative stock is allowed: park the shortfall on
	// the first (largest) row. With zero rows there is nowhere to record the
	// deficit, so the item fails instead.
	if remaining.IsPositive() {
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: product %d", ErrNoInventoryRow, key.ProductId)
		}
		takes[0] = takes[0].Add(remaining)
	}

	return takes, nil
}

// ReserveStock decrements ledger rows to satisfy a sale. Items are processed
// independently: a failed item stops the call, but already-applied items stay
// applied. The caller treats the error as an order failure, there is no
// cross-item rollback. Rollups run once per distinct product at the end.
func ReserveStock(ctx context.Context, items []*ReservationItem) error {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	if len(items) == 0 {
		return NewValidationError("at least one item is required")
	}
	policy, err := ReservationPolicyForContext(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := item.validate(ctx, businessId); err != nil {
			return err
		}
	}

	var productIds []int
	for _, item := range items {
		if itemErr := reserveOneItem(ctx, businessId, item, policy); itemErr != nil {
			// items that already went through still need their rollups
			if err := recomputeProducts(ctx, businessId, productIds); err != nil {
				config.GetLogger().WithFields(logrus.Fields{
					"business_id": businessId,
					"product_ids": productIds,
				}).Warn("rollup recompute after failed reservation item: " + err.Error())
			}
			return itemErr
		}
		productIds = append(productIds, item.ProductId)
	}

	return recomputeProducts(ctx, businessId, productIds)
}

func reserveOneItem(ctx context.Context, businessId string, item *ReservationItem, policy ReservationPolicy) error {
	db := config.GetDB()
	lock := config.StockWriteStrategy() == config.StockWriteStrategyLocking

	for attempt := 1; ; attempt++ {
		tx := db.Begin()

		rows, err := findStockLevelsForKey(tx.WithContext(ctx), businessId, item.key(), "quantity DESC, id", lock)
		if err != nil {
			return err
		}

		takes, err := planReservation(item.key(), rows, item.Quantity, policy.AllowNegativeStock)
		if err != nil {
			tx.Rollback()
			return err
		}

		totalAvailable := decimal.Zero
		for _, row := range rows {
			totalAvailable = totalAvailable.Add(row.Quantity)
		}

		stale := false
		for i, take := range takes {
			if take.IsZero() {
				continue
			}
			if err := applyStockLevelQuantity(tx.WithContext(ctx), rows[i], rows[i].Quantity.Sub(take)); err != nil {
				if errors.Is(err, errStockLevelStale) {
					tx.Rollback()
					stale = true
					break
				}
				return err
			}
		}
		if stale {
			if attempt >= maxStockWriteAttempts {
				return fmt.Errorf("reservation for product %d kept losing to concurrent writers, try again", item.ProductId)
			}
			continue
		}

		if err := appendInventoryHistory(tx.WithContext(ctx), businessId, item.key(),
			InventoryHistoryTypeDecrease, item.Quantity, totalAvailable.Sub(item.Quantity), "Order reservation"); err != nil {
			return err
		}

		return tx.Commit().Error
	}
}

// IncrementStock returns stock to the ledger (restocks, cancelled orders).
// Rows are walked smallest-first and the whole quantity lands on the most
// depleted row. A key with no rows leaves the ledger untouched (only
// AddInventory may create rows) but the audit record is still written.
func IncrementStock(ctx context.Context, items []*ReservationItem, reason string) error {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	if len(items) == 0 {
		return NewValidationError("at least one item is required")
	}
	for _, item := range items {
		if err := item.validate(ctx, businessId); err != nil {
			return err
		}
	}

	var productIds []int
	for _, item := range items {
		if itemErr := incrementOneItem(ctx, businessId, item, reason); itemErr != nil {
			if err := recomputeProducts(ctx, businessId, productIds); err != nil {
				config.GetLogger().WithFields(logrus.Fields{
					"business_id": businessId,
					"product_ids": productIds,
				}).Warn("rollup recompute after failed increment item: " + err.Error())
			}
			return itemErr
		}
		productIds = append(productIds, item.ProductId)
	}

	return recomputeProducts(ctx, businessId, productIds)
}

func incrementOneItem(ctx context.Context, businessId string, item *ReservationItem, reason string) error {
	db := config.GetDB()
	lock := config.StockWriteStrategy() == config.StockWriteStrategyLocking

	for attempt := 1; ; attempt++ {
		tx := db.Begin()

		rows, err := findStockLevelsForKey(tx.WithContext(ctx), businessId, item.key(), "quantity ASC, id", lock)
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			config.GetLogger().WithFields(logrus.Fields{
				"business_id": businessId,
				"product_id":  item.ProductId,
				"variant_id":  item.VariantId,
				"size":        item.Size,
				"color":       item.Color,
			}).Warn("increment against missing inventory rows; ledger unchanged")

			if err := appendInventoryHistory(tx.WithContext(ctx), businessId, item.key(),
				InventoryHistoryTypeIncrease, item.Quantity, decimal.Zero, reason); err != nil {
				return err
			}
			return tx.Commit().Error
		}

		totalAvailable := decimal.Zero
		for _, row := range rows {
			totalAvailable = totalAvailable.Add(row.Quantity)
		}

		if err := applyStockLevelQuantity(tx.WithContext(ctx), rows[0], rows[0].Quantity.Add(item.Quantity)); err != nil {
			if errors.Is(err, errStockLevelStale) {
				tx.Rollback()
				if attempt >= maxStockWriteAttempts {
					return fmt.Errorf("increment for product %d kept losing to concurrent writers, try again", item.ProductId)
				}
				continue
			}
			return err
		}

		if err := appendInventoryHistory(tx.WithContext(ctx), businessId, item.key(),
			InventoryHistoryTypeIncrease, item.Quantity, totalAvailable.Add(item.Quantity), reason); err != nil {
			return err
		}

		return tx.Commit().Error
	}
}

// recomputeProducts runs the rollup once per distinct product, each in its
// own transaction.
func recomputeProducts(ctx context.Context, businessId string, productIds []int) error {
	db := config.GetDB()
	for _, productId := range utils.UniqueSlice(productIds) {
		tx := db.Begin()
		if err := recomputeProductStockTx(tx.WithContext(ctx), businessId, productId); err != nil {
			return err
		}
		if err := tx.Commit().Error; err != nil {
			return err
		}
	}
	return nil
}
