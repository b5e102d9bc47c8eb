package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Alert ladder, evaluated against a row's new quantity after direct updates.
// Greedy multi-row reservations skip alerting so bulk order flows cannot
// storm the channel.
var (
	outOfStockCeiling  = decimal.Zero
	criticalLowCeiling = decimal.NewFromInt(5)
	lowStockCeiling    = decimal.NewFromInt(10)
)

// lowStockSeverity maps a quantity onto the alert ladder. The third return is
// false when the quantity is healthy.
func lowStockSeverity(quantity decimal.Decimal) (AlertSeverity, string, bool) {
	switch {
	case quantity.LessThanOrEqual(outOfStockCeiling):
		return AlertSeverityCritical, "out of stock", true
	case quantity.LessThanOrEqual(criticalLowCeiling):
		return AlertSeverityHigh, "critical low stock", true
	case quantity.LessThanOrEqual(lowStockCeiling):
		return AlertSeverityMedium, "low stock", true
	default:
		return "", "", false
	}
}

// checkLowStock emits one alert event when the row's quantity sits on the
// ladder. Emission is a non-fatal side channel: failures are logged and
// swallowed, never surfaced to the mutation that triggered the check. A Redis
// NX key suppresses repeats for the same row and severity inside the dedup
// window.
func checkLowStock(ctx context.Context, stockLevel *StockLevel) {
	severity, message, alert := lowStockSeverity(stockLevel.Quantity)
	if !alert {
		return
	}

	if window := config.LowStockAlertDedupMinutes(); window > 0 {
		key := fmt.Sprintf("LowStockAlert:%d:%s", stockLevel.ID, severity)
		fresh, err := config.SetRedisValueNX(key, "1", time.Duration(window)*time.Minute)
		if err == nil && !fresh {
			return
		}
		// a dedup failure must not block the alert itself
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if _, err := config.PublishLowStockAlert(ctx, config.LowStockAlertMessage{
		BusinessId:    stockLevel.BusinessId,
		ProductId:     stockLevel.ProductId,
		VariantId:     stockLevel.VariantId,
		StockLevelId:  stockLevel.ID,
		WarehouseId:   stockLevel.WarehouseId,
		Severity:      string(severity),
		Message:       message,
		CurrentQty:    stockLevel.Quantity,
		CorrelationId: correlationId,
		EmittedAt:     time.Now().UTC(),
	}); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"business_id":    stockLevel.BusinessId,
			"product_id":     stockLevel.ProductId,
			"stock_level_id": stockLevel.ID,
			"severity":       severity,
		}).Warn("low stock alert publish failed: " + err.Error())
	}
}
