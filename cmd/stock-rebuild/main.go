package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
)

// stock-rebuild recomputes the denormalized product and variant stock sums
// from the ledger rows. Run it after manual database surgery, or whenever a
// rollup is suspected to have drifted; the recompute is idempotent so a
// redundant run is harmless.
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	productID := flag.Int("product-id", 0, "Optional: rebuild a single product; all products of the business otherwise")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing products and continue rebuilding others")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)
	ctx = utils.SetUserNameInContext(ctx, "System")

	// Hold the business lock for the duration so a concurrent sync run
	// cannot interleave with the rebuild.
	release, err := utils.AcquireBusinessLock(ctx, *businessID, "McgSync", 10*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "acquire business lock: %v\n", err)
		os.Exit(1)
	}
	defer release()

	var productIds []int
	if *productID > 0 {
		productIds = []int{*productID}
	} else {
		// Every product that has at least one ledger row.
		if err := db.Model(&models.StockLevel{}).
			Where("business_id = ?", *businessID).
			Distinct("product_id").
			Order("product_id").
			Pluck("product_id", &productIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "discover products: %v\n", err)
			os.Exit(1)
		}
	}

	failed := 0
	for _, id := range productIds {
		product, err := models.RecomputeProductStock(ctx, id)
		if err != nil {
			if *continueOnError {
				failed++
				fmt.Fprintf(os.Stderr, "rebuild product %d failed (skipping): %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "rebuild product %d failed: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("product %d stock_qty=%s\n", product.ID, product.StockQty.String())
	}

	if failed > 0 {
		fmt.Printf("stock rebuild complete: %d of %d products failed\n", failed, len(productIds))
		os.Exit(1)
	}
	fmt.Println("stock rebuild complete")
}
