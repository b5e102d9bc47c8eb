package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
)

// End-to-end regression coverage for the stock engine against a real
// MySQL + Redis pair: greedy reservation, the negative-stock policy,
// idempotent row addressing, warehouse transfers, rollup consistency and
// ledger conservation.

func TestStockEngineRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "inventory_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Test Biz",
		Email: "owner@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// CreateBusiness provisions the Main Warehouse; add a second one.
	var main models.Warehouse
	if err := db.WithContext(ctx).Where("business_id = ? AND name = ?", businessID, models.MainWarehouseName).
		First(&main).Error; err != nil {
		t.Fatalf("fetch main warehouse: %v", err)
	}
	annex, err := models.CreateWarehouse(ctx, &models.NewWarehouse{Name: "Annex Warehouse"})
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}

	t.Run("GreedyReservationLargestFirst", func(t *testing.T) {
		product := createProduct(t, ctx, "Stapler", "STP-001")
		rowA := addRow(t, ctx, product.ID, main.ID, "M", "black", 10)
		rowB := addRow(t, ctx, product.ID, annex.ID, "M", "black", 5)

		// Rows A=10, B=5, request 12: A drains to 0, B covers the rest.
		err := models.ReserveStock(ctx, []*models.ReservationItem{{
			ProductId: product.ID,
			Size:      "M",
			Color:     "black",
			Quantity:  decimal.NewFromInt(12),
		}})
		if err != nil {
			t.Fatalf("ReserveStock: %v", err)
		}

		assertRowQty(t, ctx, rowA.ID, 0)
		assertRowQty(t, ctx, rowB.ID, 3)
		assertProductStock(t, ctx, product.ID, 3)
	})

	t.Run("InsufficientStockLeavesRowsUntouched", func(t *testing.T) {
		product := createProduct(t, ctx, "Tape Roll", "TAPE-001")
		rowA := addRow(t, ctx, product.ID, main.ID, "S", "blue", 4)
		rowB := addRow(t, ctx, product.ID, annex.ID, "S", "blue", 2)

		err := models.ReserveStock(ctx, []*models.ReservationItem{{
			ProductId: product.ID,
			Size:      "S",
			Color:     "blue",
			Quantity:  decimal.NewFromInt(7),
		}})
		var insufficient *models.InsufficientStockError
		if !errors.As(err, &insufficient) {
			t.Fatalf("expected InsufficientStockError, got %v", err)
		}
		if !insufficient.Available.Equal(decimal.NewFromInt(6)) {
			t.Fatalf("Available = %s, want 6", insufficient.Available.String())
		}

		// Refused item must not have moved anything.
		assertRowQty(t, ctx, rowA.ID, 4)
		assertRowQty(t, ctx, rowB.ID, 2)
	})

	t.Run("NegativeStockPolicyParksDeficit", func(t *testing.T) {
		if _, err := models.UpdateInventorySettings(ctx, &models.NewInventorySettings{
			AllowNegativeStock: utils.NewTrue(),
		}); err != nil {
			t.Fatalf("UpdateInventorySettings: %v", err)
		}
		t.Cleanup(func() {
			if _, err := models.UpdateInventorySettings(ctx, &models.NewInventorySettings{
				AllowNegativeStock: utils.NewFalse(),
			}); err != nil {
				t.Fatalf("restore settings: %v", err)
			}
		})

		product := createProduct(t, ctx, "Notebook", "NB-001")
		row := addRow(t, ctx, product.ID, main.ID, "A5", "red", 3)

		err := models.ReserveStock(ctx, []*models.ReservationItem{{
			ProductId: product.ID,
			Size:      "A5",
			Color:     "red",
			Quantity:  decimal.NewFromInt(10),
		}})
		if err != nil {
			t.Fatalf("ReserveStock with negative policy: %v", err)
		}
		assertRowQty(t, ctx, row.ID, -7)
		assertProductStock(t, ctx, product.ID, -7)

		// No rows at all: the deficit has nowhere to live, the item fails.
		orphan := createProduct(t, ctx, "Phantom", "PH-001")
		err = models.ReserveStock(ctx, []*models.ReservationItem{{
			ProductId: orphan.ID,
			Size:      "A5",
			Color:     "red",
			Quantity:  decimal.NewFromInt(1),
		}})
		if !errors.Is(err, models.ErrNoInventoryRow) {
			t.Fatalf("expected ErrNoInventoryRow, got %v", err)
		}
	})

	t.Run("AddInventoryConflictsOnDuplicateKey", func(t *testing.T) {
		product := createProduct(t, ctx, "Marker", "MRK-001")
		addRow(t, ctx, product.ID, main.ID, "L", "green", 9)

		_, err := models.AddInventory(ctx, &models.NewStockLevel{
			ProductId:   product.ID,
			Size:        "L",
			Color:       "green",
			WarehouseId: main.ID,
			Quantity:    decimal.NewFromInt(1),
		})
		if !errors.Is(err, models.ErrStockLevelExists) {
			t.Fatalf("expected ErrStockLevelExists, got %v", err)
		}

		// Exactly one row for the key.
		var count int64
		if err := db.WithContext(ctx).Model(&models.StockLevel{}).
			Where("business_id = ? AND product_id = ? AND warehouse_id = ?", businessID, product.ID, main.ID).
			Count(&count).Error; err != nil {
			t.Fatalf("count rows: %v", err)
		}
		if count != 1 {
			t.Fatalf("row count = %d, want 1", count)
		}
	})

	t.Run("AddInventoryDefaultsToMainWarehouse", func(t *testing.T) {
		product := createProduct(t, ctx, "Stapler", "STP-001")

		// No warehouse in the input: the row must land on the business's
		// Main Warehouse.
		row, err := models.AddInventory(ctx, &models.NewStockLevel{
			ProductId: product.ID,
			Size:      "M",
			Color:     "black",
			Quantity:  decimal.NewFromInt(4),
		})
		if err != nil {
			t.Fatalf("AddInventory without warehouse: %v", err)
		}
		if row.WarehouseId != main.ID {
			t.Fatalf("row warehouse = %d, want main warehouse %d", row.WarehouseId, main.ID)
		}
		if !row.Quantity.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("row qty = %s, want 4", row.Quantity.String())
		}

		// A nonexistent warehouse id is still rejected.
		_, err = models.AddInventory(ctx, &models.NewStockLevel{
			ProductId:   product.ID,
			Size:        "S",
			Color:       "black",
			WarehouseId: 987654,
			Quantity:    decimal.NewFromInt(1),
		})
		if !models.IsValidation(err) {
			t.Fatalf("expected validation error for unknown warehouse, got %v", err)
		}
	})

	t.Run("TransferMovesStockAndAppendsMovement", func(t *testing.T) {
		product := createProduct(t, ctx, "Envelope", "ENV-001")
		source := addRow(t, ctx, product.ID, main.ID, "C5", "white", 20)

		movement, err := models.MoveStockBetweenWarehouses(ctx, &models.NewWarehouseMovement{
			ProductId:       product.ID,
			Size:            "C5",
			Color:           "white",
			Quantity:        decimal.NewFromInt(5),
			FromWarehouseId: main.ID,
			ToWarehouseId:   annex.ID,
			Reason:          "rebalance",
		})
		if err != nil {
			t.Fatalf("MoveStockBetweenWarehouses: %v", err)
		}

		assertRowQty(t, ctx, source.ID, 15)

		var dest models.StockLevel
		if err := db.WithContext(ctx).
			Where("business_id = ? AND product_id = ? AND warehouse_id = ? AND size = ? AND color = ?",
				businessID, product.ID, annex.ID, "C5", "white").
			First(&dest).Error; err != nil {
			t.Fatalf("fetch destination row: %v", err)
		}
		if !dest.Quantity.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("destination qty = %s, want 5", dest.Quantity.String())
		}

		if movement.FromWarehouseId != main.ID || movement.ToWarehouseId != annex.ID {
			t.Fatalf("movement warehouses = %d->%d, want %d->%d",
				movement.FromWarehouseId, movement.ToWarehouseId, main.ID, annex.ID)
		}
		if !movement.Quantity.Equal(decimal.NewFromInt(5)) {
			t.Fatalf("movement qty = %s, want 5", movement.Quantity.String())
		}
		// Transfers never move more than the source holds.
		if _, err := models.MoveStockBetweenWarehouses(ctx, &models.NewWarehouseMovement{
			ProductId:       product.ID,
			Size:            "C5",
			Color:           "white",
			Quantity:        decimal.NewFromInt(100),
			FromWarehouseId: main.ID,
			ToWarehouseId:   annex.ID,
		}); !models.IsInsufficientStock(err) {
			t.Fatalf("expected InsufficientStockError, got %v", err)
		}
		// Same-warehouse transfers are rejected.
		if _, err := models.MoveStockBetweenWarehouses(ctx, &models.NewWarehouseMovement{
			ProductId:       product.ID,
			Size:            "C5",
			Color:           "white",
			Quantity:        decimal.NewFromInt(1),
			FromWarehouseId: main.ID,
			ToWarehouseId:   main.ID,
		}); !models.IsValidation(err) {
			t.Fatalf("expected validation error for same-warehouse transfer, got %v", err)
		}

		// Conservation: transfer does not change the product total.
		assertProductStock(t, ctx, product.ID, 20)
	})

	t.Run("IncrementFillsMostDepletedRow", func(t *testing.T) {
		product := createProduct(t, ctx, "Binder", "BND-001")
		low := addRow(t, ctx, product.ID, annex.ID, "A4", "grey", 2)
		high := addRow(t, ctx, product.ID, main.ID, "A4", "grey", 8)

		err := models.IncrementStock(ctx, []*models.ReservationItem{{
			ProductId: product.ID,
			Size:      "A4",
			Color:     "grey",
			Quantity:  decimal.NewFromInt(6),
		}}, "Order cancelled")
		if err != nil {
			t.Fatalf("IncrementStock: %v", err)
		}

		assertRowQty(t, ctx, low.ID, 8)
		assertRowQty(t, ctx, high.ID, 8)
		assertProductStock(t, ctx, product.ID, 16)
	})

	t.Run("IncrementWithoutRowsIsLedgerNoop", func(t *testing.T) {
		product := createProduct(t, ctx, "Ghost Pen", "GP-001")

		err := models.IncrementStock(ctx, []*models.ReservationItem{{
			ProductId: product.ID,
			Size:      "F",
			Color:     "black",
			Quantity:  decimal.NewFromInt(4),
		}}, "Order cancelled")
		if err != nil {
			t.Fatalf("IncrementStock: %v", err)
		}

		// Ledger untouched, audit trail still written.
		var count int64
		if err := db.WithContext(ctx).Model(&models.StockLevel{}).
			Where("business_id = ? AND product_id = ?", businessID, product.ID).
			Count(&count).Error; err != nil {
			t.Fatalf("count rows: %v", err)
		}
		if count != 0 {
			t.Fatalf("rows created by increment: %d, want 0", count)
		}

		var history models.InventoryHistory
		if err := db.WithContext(ctx).
			Where("business_id = ? AND product_id = ?", businessID, product.ID).
			Order("id desc").First(&history).Error; err != nil {
			t.Fatalf("fetch history: %v", err)
		}
		if history.Type != models.InventoryHistoryTypeIncrease {
			t.Fatalf("history type = %s, want increase", history.Type)
		}
		if !history.Delta.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("history delta = %s, want 4", history.Delta.String())
		}
	})

	t.Run("VariantRollupConsistency", func(t *testing.T) {
		product, err := models.CreateProduct(ctx, &models.NewProduct{
			Name: "T-Shirt",
			Sku:  "TS-001",
			Variants: []models.NewProductVariant{
				{Name: "T-Shirt M/black", Size: "M", Color: "black", Barcode: "TS-001-M"},
				{Name: "T-Shirt L/black", Size: "L", Color: "black", Barcode: "TS-001-L"},
			},
		})
		if err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
		variants, err := models.ListProductVariants(ctx, product.ID)
		if err != nil || len(variants) != 2 {
			t.Fatalf("ListProductVariants: %v (%d variants)", err, len(variants))
		}

		for i, variant := range variants {
			if _, err := models.AddInventory(ctx, &models.NewStockLevel{
				ProductId:   product.ID,
				VariantId:   variant.ID,
				WarehouseId: main.ID,
				Quantity:    decimal.NewFromInt(int64(10 * (i + 1))),
			}); err != nil {
				t.Fatalf("AddInventory variant %d: %v", variant.ID, err)
			}
		}

		refreshed, err := models.RecomputeProductStock(ctx, product.ID)
		if err != nil {
			t.Fatalf("RecomputeProductStock: %v", err)
		}
		if !refreshed.StockQty.Equal(decimal.NewFromInt(30)) {
			t.Fatalf("product stock = %s, want 30", refreshed.StockQty.String())
		}

		// product.stock == sum(variant.stock), and a redundant recompute
		// changes nothing.
		variants, err = models.ListProductVariants(ctx, product.ID)
		if err != nil {
			t.Fatalf("ListProductVariants: %v", err)
		}
		sum := decimal.Zero
		for _, variant := range variants {
			sum = sum.Add(variant.StockQty)
		}
		if !sum.Equal(refreshed.StockQty) {
			t.Fatalf("sum(variant.stock) = %s, product.stock = %s", sum.String(), refreshed.StockQty.String())
		}

		again, err := models.RecomputeProductStock(ctx, product.ID)
		if err != nil {
			t.Fatalf("redundant RecomputeProductStock: %v", err)
		}
		if !again.StockQty.Equal(refreshed.StockQty) {
			t.Fatalf("recompute not idempotent: %s then %s", refreshed.StockQty.String(), again.StockQty.String())
		}
	})

	t.Run("ConservationAcrossOperations", func(t *testing.T) {
		product := createProduct(t, ctx, "Clipboard", "CLP-001")
		addRow(t, ctx, product.ID, main.ID, "STD", "brown", 30)
		addRow(t, ctx, product.ID, annex.ID, "STD", "brown", 10)

		item := func(qty int64) []*models.ReservationItem {
			return []*models.ReservationItem{{
				ProductId: product.ID,
				Size:      "STD",
				Color:     "brown",
				Quantity:  decimal.NewFromInt(qty),
			}}
		}

		if err := models.ReserveStock(ctx, item(12)); err != nil {
			t.Fatalf("reserve 12: %v", err)
		}
		if err := models.IncrementStock(ctx, item(5), "Order cancelled"); err != nil {
			t.Fatalf("increment 5: %v", err)
		}
		if _, err := models.MoveStockBetweenWarehouses(ctx, &models.NewWarehouseMovement{
			ProductId:       product.ID,
			Size:            "STD",
			Color:           "brown",
			Quantity:        decimal.NewFromInt(3),
			FromWarehouseId: main.ID,
			ToWarehouseId:   annex.ID,
		}); err != nil {
			t.Fatalf("transfer 3: %v", err)
		}
		// A refused reservation must not change the total.
		if err := models.ReserveStock(ctx, item(1000)); !models.IsInsufficientStock(err) {
			t.Fatalf("expected InsufficientStockError, got %v", err)
		}

		// 40 - 12 + 5 = 33; the transfer is internal.
		var total decimal.Decimal
		if err := db.WithContext(ctx).Model(&models.StockLevel{}).
			Select("COALESCE(SUM(quantity), 0)").
			Where("business_id = ? AND product_id = ?", businessID, product.ID).
			Scan(&total).Error; err != nil {
			t.Fatalf("sum rows: %v", err)
		}
		if !total.Equal(decimal.NewFromInt(33)) {
			t.Fatalf("ledger total = %s, want 33", total.String())
		}
		assertProductStock(t, ctx, product.ID, 33)
	})

	t.Run("UpdateInventoryRecordsDirection", func(t *testing.T) {
		product := createProduct(t, ctx, "Scissors", "SCS-001")
		row := addRow(t, ctx, product.ID, main.ID, "STD", "steel", 12)

		if _, err := models.UpdateInventory(ctx, row.ID, decimal.NewFromInt(4)); err != nil {
			t.Fatalf("UpdateInventory: %v", err)
		}

		var history models.InventoryHistory
		if err := db.WithContext(ctx).
			Where("business_id = ? AND product_id = ?", businessID, product.ID).
			Order("id desc").First(&history).Error; err != nil {
			t.Fatalf("fetch history: %v", err)
		}
		if history.Type != models.InventoryHistoryTypeDecrease {
			t.Fatalf("history type = %s, want decrease", history.Type)
		}
		if !history.Delta.Equal(decimal.NewFromInt(8)) {
			t.Fatalf("history delta = %s, want 8", history.Delta.String())
		}
		if !history.ResultingQty.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("history resulting qty = %s, want 4", history.ResultingQty.String())
		}
		assertRowQty(t, ctx, row.ID, 4)
	})
}

func createProduct(t *testing.T, ctx context.Context, name, sku string) *models.Product {
	t.Helper()
	product, err := models.CreateProduct(ctx, &models.NewProduct{Name: name, Sku: sku})
	if err != nil {
		t.Fatalf("CreateProduct %s: %v", name, err)
	}
	return product
}

func addRow(t *testing.T, ctx context.Context, productId, warehouseId int, size, color string, qty int64) *models.StockLevel {
	t.Helper()
	row, err := models.AddInventory(ctx, &models.NewStockLevel{
		ProductId:   productId,
		Size:        size,
		Color:       color,
		WarehouseId: warehouseId,
		Quantity:    decimal.NewFromInt(qty),
	})
	if err != nil {
		t.Fatalf("AddInventory product=%d warehouse=%d: %v", productId, warehouseId, err)
	}
	return row
}

func assertRowQty(t *testing.T, ctx context.Context, rowId int, want int64) {
	t.Helper()
	var row models.StockLevel
	if err := config.GetDB().WithContext(ctx).First(&row, rowId).Error; err != nil {
		t.Fatalf("fetch row %d: %v", rowId, err)
	}
	if !row.Quantity.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("row %d qty = %s, want %d", rowId, row.Quantity.String(), want)
	}
}

func assertProductStock(t *testing.T, ctx context.Context, productId int, want int64) {
	t.Helper()
	var product models.Product
	if err := config.GetDB().WithContext(ctx).First(&product, productId).Error; err != nil {
		t.Fatalf("fetch product %d: %v", productId, err)
	}
	if !product.StockQty.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("product %d stock = %s, want %d", productId, product.StockQty.String(), want)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("inventory-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("inventory-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=inventory_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
