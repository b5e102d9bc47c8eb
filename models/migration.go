package models

import (
	"log"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &InventorySettings{},
		&Warehouse{},
		&Product{}, &ProductVariant{},
		&StockLevel{}, &InventoryHistory{}, &WarehouseMovement{},
		&McgConnection{}, &McgSyncRun{}, &McgItemMapping{}, &McgSyncError{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
