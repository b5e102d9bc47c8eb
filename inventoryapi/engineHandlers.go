package inventoryapi

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"github.com/gin-gonic/gin"
)

// TransferHandler moves a quantity of one key between two warehouses. The
// source row must already hold the full quantity; transfers never overdraw.
func TransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		var input models.NewWarehouseMovement
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		movement, err := models.MoveStockBetweenWarehouses(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, movement)
	}
}

type reserveRequest struct {
	Items []*models.ReservationItem `json:"items" binding:"required"`
}

// ReserveHandler takes stock out of the ledger for an order, draining rows
// across warehouses largest-first.
func ReserveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		var req reserveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := models.ReserveStock(c.Request.Context(), req.Items); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reserved"})
	}
}

type incrementRequest struct {
	Items  []*models.ReservationItem `json:"items" binding:"required"`
	Reason string                    `json:"reason"`
}

// IncrementHandler returns stock to the ledger, e.g. for a cancelled order.
func IncrementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		var req incrementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "Stock increment"
		}
		if err := models.IncrementStock(c.Request.Context(), req.Items, reason); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "incremented"})
	}
}

// RecomputeStockHandler rebuilds a product's variant and product stock sums
// from its warehouse rows.
func RecomputeStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		product, err := models.RecomputeProductStock(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

// HistoryHandler lists recent stock audit entries, newest first.
func HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		productId := optionalIntQuery(c, "product_id")
		limit := queryLimit(c, 50, 500)
		entries, err := models.ListInventoryHistories(c.Request.Context(), productId, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries})
	}
}

// MovementsHandler lists recent warehouse-to-warehouse transfers.
func MovementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		productId := optionalIntQuery(c, "product_id")
		warehouseId := optionalIntQuery(c, "warehouse_id")
		limit := queryLimit(c, 50, 500)
		movements, err := models.ListWarehouseMovements(c.Request.Context(), productId, warehouseId, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": movements})
	}
}
