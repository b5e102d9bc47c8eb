package inventoryapi

import (
	"net/http"

	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// GetAllInventoryHandler lists every stock row for the business, optionally
// narrowed to one warehouse via ?warehouse_id.
func GetAllInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		warehouseId := optionalIntQuery(c, "warehouse_id")
		rows, err := models.GetAllInventory(c.Request.Context(), warehouseId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows})
	}
}

// GetProductInventoryHandler lists the per-warehouse rows of one product.
func GetProductInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		rows, err := models.GetProductInventory(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows})
	}
}

// GetLowStockHandler lists rows at or below their low-stock threshold.
func GetLowStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		rows, err := models.GetLowStockItems(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows})
	}
}

// ExportLowStockHandler renders the low-stock report to xlsx in cloud storage
// and returns a signed download link.
func ExportLowStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		download, err := models.ExportLowStockXlsx(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, download)
	}
}

// AddInventoryHandler creates the first stock row for a key in a warehouse.
// A second add on the same key answers 409 and points the caller at update.
func AddInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		var input models.NewStockLevel
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		stockLevel, err := models.AddInventory(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stockLevel)
	}
}

type updateInventoryRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// UpdateInventoryHandler sets one row to an absolute quantity.
func UpdateInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req updateInventoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		stockLevel, err := models.UpdateInventory(c.Request.Context(), id, req.Quantity)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stockLevel)
	}
}

type bulkUpdateRequest struct {
	Items []*models.BulkUpdateItem `json:"items" binding:"required"`
}

// BulkUpdateInventoryHandler applies absolute quantities to many rows in one
// transaction.
func BulkUpdateInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		var req bulkUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		rows, err := models.BulkUpdateInventory(c.Request.Context(), req.Items)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows})
	}
}

// ImportInventoryHandler ingests an xlsx upload of absolute quantities. Rows
// that fail keep their reason in the summary; the rest are applied.
func ImportInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read uploaded file"})
			return
		}
		defer file.Close()

		summary, err := models.ImportInventoryFromXlsx(c.Request.Context(), fileHeader.Filename, file)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
