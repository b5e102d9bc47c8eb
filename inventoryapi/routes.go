package inventoryapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes mounts the inventory REST surface on the given group. The
// group is expected to sit behind the session and actor middlewares.
func RegisterRoutes(rg *gin.RouterGroup) {
	inventory := rg.Group("/inventory")
	inventory.GET("", GetAllInventoryHandler())
	inventory.GET("/product/:id", GetProductInventoryHandler())
	inventory.GET("/low-stock", GetLowStockHandler())
	inventory.GET("/low-stock/export", ExportLowStockHandler())
	inventory.POST("", AddInventoryHandler())
	inventory.PUT("/:id", UpdateInventoryHandler())
	inventory.POST("/bulk", BulkUpdateInventoryHandler())
	inventory.POST("/import", ImportInventoryHandler())
	inventory.POST("/transfer", TransferHandler())
	inventory.POST("/reserve", ReserveHandler())
	inventory.POST("/increment", IncrementHandler())
	inventory.GET("/history", HistoryHandler())
	inventory.GET("/movements", MovementsHandler())
	inventory.POST("/products/:id/recompute-stock", RecomputeStockHandler())

	products := rg.Group("/products")
	products.GET("", ListProductsHandler())
	products.POST("", CreateProductHandler())
	products.GET("/:id", GetProductHandler())
	products.PUT("/:id", UpdateProductHandler())
	products.POST("/:id/toggle-active", ToggleProductHandler())
	products.GET("/:id/variants", ListVariantsHandler())
	products.POST("/:id/variants", CreateVariantHandler())

	rg.GET("/variants/:id", GetVariantHandler())

	rg.GET("/business", GetBusinessHandler())
	businesses := rg.Group("/businesses")
	businesses.GET("", ListBusinessesHandler())
	businesses.POST("", CreateBusinessHandler())

	warehouses := rg.Group("/warehouses")
	warehouses.GET("", ListWarehousesHandler())
	warehouses.POST("", CreateWarehouseHandler())
	warehouses.GET("/:id", GetWarehouseHandler())
	warehouses.PUT("/:id", UpdateWarehouseHandler())
	warehouses.DELETE("/:id", DeleteWarehouseHandler())
	warehouses.POST("/:id/toggle-active", ToggleWarehouseHandler())

	settings := rg.Group("/settings")
	settings.GET("/inventory", GetSettingsHandler())
	settings.PUT("/inventory", UpdateSettingsHandler())
}

// requireBusiness rejects requests whose session resolved to no business.
// The actor middleware has already stamped the context for valid sessions.
func requireBusiness(c *gin.Context) bool {
	businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(businessId) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

// respondError maps engine errors onto transport codes: caller-input problems
// are 400s, domain conflicts 409s, missing resources 404s, the rest 500s.
func respondError(c *gin.Context, err error) {
	switch {
	case models.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case models.IsInsufficientStock(err):
		var insufficient *models.InsufficientStockError
		errors.As(err, &insufficient)
		c.JSON(http.StatusConflict, gin.H{
			"error":      err.Error(),
			"product_id": insufficient.ProductId,
			"requested":  insufficient.Requested,
			"available":  insufficient.Available,
		})
	case errors.Is(err, models.ErrNoInventoryRow), errors.Is(err, models.ErrStockLevelExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// queryLimit reads a bounded limit query param, falling back to def.
func queryLimit(c *gin.Context, def, max int) int {
	limit := def
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}

// optionalIntQuery returns nil when the param is absent or not a positive
// number.
func optionalIntQuery(c *gin.Context, name string) *int {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}
