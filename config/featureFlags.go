package config

import (
	"os"
	"strings"
)

// Stock write strategies. The ledger's per-item unit of work is configurable:
// row locks inside a transaction (default), or an optimistic conditional
// UPDATE guarded by a quantity floor.
const (
	StockWriteStrategyLocking    = "locking"
	StockWriteStrategyOptimistic = "optimistic"
)

// StockWriteStrategy selects how reservation/increment mutations guard
// against concurrent writers.
//
// Set via env:
// - STOCK_WRITE_STRATEGY=locking|optimistic
func StockWriteStrategy() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STOCK_WRITE_STRATEGY")))
	if v == StockWriteStrategyOptimistic {
		return StockWriteStrategyOptimistic
	}
	return StockWriteStrategyLocking
}

// LowStockAlertDedupMinutes is the window during which a repeat alert for the
// same stock row + severity is suppressed. Zero disables dedup.
//
// Set via env:
// - LOW_STOCK_ALERT_DEDUP_MINUTES=30
func LowStockAlertDedupMinutes() int {
	return intFromEnv("LOW_STOCK_ALERT_DEDUP_MINUTES", 30)
}

// McgSchedulerTickSeconds is how often the reconciliation scheduler wakes up
// to evaluate its interval gate. The per-business pull cadence itself lives
// on the MCG connection row (pull_every_minutes).
//
// Set via env:
// - MCG_SCHEDULER_TICK_SECONDS=60
func McgSchedulerTickSeconds() int {
	return intFromEnv("MCG_SCHEDULER_TICK_SECONDS", 60)
}

// AllowNegativeStockDefault is the fallback negative-stock policy for
// businesses that have no inventory settings row yet.
//
// Set via env:
// - ALLOW_NEGATIVE_STOCK_DEFAULT=true
func AllowNegativeStockDefault() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_NEGATIVE_STOCK_DEFAULT")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
