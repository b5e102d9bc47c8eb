package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type InventoryImportSummary struct {
	Updated   int      `json:"updated"`
	Skipped   []string `json:"skipped"`
	ObjectKey string   `json:"object_key"`
}

// ImportInventoryFromXlsx bulk-updates existing ledger rows from a sheet.
// Column layout, first row being the header:
//
//	A sku | B warehouse | C variant barcode | D size | E color | F quantity
//
// Rows that resolve to no ledger row are reported back instead of created;
// AddInventory owns row creation. The uploaded file is kept in the bucket as
// an audit copy.
func ImportInventoryFromXlsx(ctx context.Context, filename string, file io.Reader) (*InventoryImportSummary, error) {
	if file == nil {
		return nil, NewValidationError("nil file provided")
	}
	if !strings.HasSuffix(filename, ".xlsx") {
		return nil, NewValidationError("invalid file type: only .xlsx files are allowed")
	}

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("could not read file: %v", err)
	}

	objectKey := "imports/" + businessId + "_" + utils.GenerateUniqueFilename() + ".xlsx"
	if err := utils.UploadBytesToGCS(ctx, objectKey, data, xlsxContentType); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, Validationf("unable to open Excel file: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, Validationf("unable to read sheet: %v", err)
	}
	if len(rows) < 2 {
		return nil, NewValidationError("the file has no data rows")
	}

	db := config.GetDB()
	skipped := make([]string, 0)
	seen := make(map[int]bool)
	var items []*BulkUpdateItem

	for idx, row := range rows[1:] {
		sku := strings.TrimSpace(cellAt(row, 0))
		if sku == "" {
			return nil, Validationf("missing sku in row %d", idx+2)
		}
		warehouseName := strings.TrimSpace(cellAt(row, 1))
		if warehouseName == "" {
			return nil, Validationf("missing warehouse in row %d", idx+2)
		}

		var product Product
		err = db.WithContext(ctx).Where("business_id = ? AND sku = ?", businessId, sku).First(&product).Error
		if err != nil {
			return nil, Validationf("product not found in row %d: %s", idx+2, sku)
		}

		var warehouse Warehouse
		err = db.WithContext(ctx).Where("business_id = ? AND name = ?", businessId, warehouseName).First(&warehouse).Error
		if err != nil {
			return nil, Validationf("warehouse not found in row %d: %v", idx+2, err)
		}

		key := InventoryItemKey{ProductId: product.ID}
		variantBarcode := strings.TrimSpace(cellAt(row, 2))
		if variantBarcode != "" {
			var variant ProductVariant
			err = db.WithContext(ctx).
				Where("business_id = ? AND product_id = ? AND barcode = ?", businessId, product.ID, variantBarcode).
				First(&variant).Error
			if err != nil {
				return nil, Validationf("variant not found in row %d: %s", idx+2, variantBarcode)
			}
			key.VariantId = variant.ID
		} else {
			key.Size = strings.TrimSpace(cellAt(row, 3))
			key.Color = strings.TrimSpace(cellAt(row, 4))
			if (key.Size == "") != (key.Color == "") {
				return nil, Validationf("size and color must be provided together in row %d", idx+2)
			}
		}

		quantity, err := utils.ParseDecimal(cellAt(row, 5))
		if err != nil {
			return nil, Validationf("could not parse quantity in row %d: %v", idx+2, err)
		}

		var stockLevel StockLevel
		err = key.scope(db.WithContext(ctx).
			Where("business_id = ? AND warehouse_id = ?", businessId, warehouse.ID)).
			First(&stockLevel).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				skipped = append(skipped, fmt.Sprintf("Row %d: no inventory row for sku %s in %s", idx+2, sku, warehouseName))
				continue
			}
			return nil, err
		}

		if seen[stockLevel.ID] {
			skipped = append(skipped, fmt.Sprintf("Row %d: duplicate entry for sku %s in %s", idx+2, sku, warehouseName))
			continue
		}
		seen[stockLevel.ID] = true
		items = append(items, &BulkUpdateItem{Id: stockLevel.ID, Quantity: quantity})
	}

	if len(items) > 0 {
		if _, err := BulkUpdateInventory(ctx, items); err != nil {
			return nil, err
		}
	}

	return &InventoryImportSummary{
		Updated:   len(items),
		Skipped:   skipped,
		ObjectKey: objectKey,
	}, nil
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// ExportLowStockXlsx writes the current low-stock rows to a sheet in the
// bucket and returns a short-lived signed download link.
func ExportLowStockXlsx(ctx context.Context) (*utils.SignedDownload, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	stockLevels, err := GetLowStockItems(ctx)
	if err != nil {
		return nil, err
	}

	products, variants, warehouses, err := describeStockLevels(ctx, businessId, stockLevels)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	// Add headers
	f.SetCellValue("Sheet1", "A1", "Product")
	f.SetCellValue("Sheet1", "B1", "Sku")
	f.SetCellValue("Sheet1", "C1", "Variant")
	f.SetCellValue("Sheet1", "D1", "Size")
	f.SetCellValue("Sheet1", "E1", "Color")
	f.SetCellValue("Sheet1", "F1", "Warehouse")
	f.SetCellValue("Sheet1", "G1", "Location")
	f.SetCellValue("Sheet1", "H1", "Quantity")
	f.SetCellValue("Sheet1", "I1", "Threshold")

	// Add data
	for i, s := range stockLevels {
		var productName, sku, variantName, warehouseName string
		if p, found := products[s.ProductId]; found {
			productName = p.Name
			sku = p.Sku
		}
		if s.VariantId > 0 {
			if v, found := variants[s.VariantId]; found {
				variantName = v.Name
			}
		}
		if w, found := warehouses[s.WarehouseId]; found {
			warehouseName = w.Name
		}
		f.SetCellValue("Sheet1", "A"+fmt.Sprint(i+2), productName)
		f.SetCellValue("Sheet1", "B"+fmt.Sprint(i+2), sku)
		f.SetCellValue("Sheet1", "C"+fmt.Sprint(i+2), variantName)
		f.SetCellValue("Sheet1", "D"+fmt.Sprint(i+2), s.Size)
		f.SetCellValue("Sheet1", "E"+fmt.Sprint(i+2), s.Color)
		f.SetCellValue("Sheet1", "F"+fmt.Sprint(i+2), warehouseName)
		f.SetCellValue("Sheet1", "G"+fmt.Sprint(i+2), s.Location)
		f.SetCellValue("Sheet1", "H"+fmt.Sprint(i+2), s.Quantity)
		f.SetCellValue("Sheet1", "I"+fmt.Sprint(i+2), s.LowStockThreshold)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}

	objectKey := "exports/" + businessId + "_low_stock_" + utils.GenerateUniqueFilename() + ".xlsx"
	if err := utils.UploadBytesToGCS(ctx, objectKey, buf.Bytes(), xlsxContentType); err != nil {
		return nil, err
	}

	return utils.SignDownload(ctx, objectKey, 15*time.Minute)
}

// describeStockLevels loads the product, variant and warehouse rows the
// ledger rows point at, keyed by id, for display.
func describeStockLevels(ctx context.Context, businessId string, stockLevels []*StockLevel) (map[int]*Product, map[int]*ProductVariant, map[int]*Warehouse, error) {
	db := config.GetDB()

	var productIds, variantIds, warehouseIds []int
	for _, s := range stockLevels {
		productIds = append(productIds, s.ProductId)
		if s.VariantId > 0 {
			variantIds = append(variantIds, s.VariantId)
		}
		warehouseIds = append(warehouseIds, s.WarehouseId)
	}

	products := make(map[int]*Product)
	if len(productIds) > 0 {
		var rows []*Product
		err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(productIds)).
			Find(&rows).Error
		if err != nil {
			return nil, nil, nil, err
		}
		for _, row := range rows {
			products[row.ID] = row
		}
	}

	variants := make(map[int]*ProductVariant)
	if len(variantIds) > 0 {
		var rows []*ProductVariant
		err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(variantIds)).
			Find(&rows).Error
		if err != nil {
			return nil, nil, nil, err
		}
		for _, row := range rows {
			variants[row.ID] = row
		}
	}

	warehouses := make(map[int]*Warehouse)
	if len(warehouseIds) > 0 {
		var rows []*Warehouse
		err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(warehouseIds)).
			Find(&rows).Error
		if err != nil {
			return nil, nil, nil, err
		}
		for _, row := range rows {
			warehouses[row.ID] = row
		}
	}

	return products, variants, warehouses, nil
}
