package inventoryapi

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/gin-gonic/gin"
)

// GetBusinessHandler returns the caller's own tenant profile.
func GetBusinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireBusiness(c) {
			return
		}
		business, err := models.GetBusiness(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, business)
	}
}

// requireAdmin gates tenant provisioning to admin sessions.
func requireAdmin(c *gin.Context) bool {
	if isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context()); ok && isAdmin {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
	return false
}

func ListBusinessesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		var name *string
		if v := strings.TrimSpace(c.Query("name")); v != "" {
			name = &v
		}
		businesses, err := models.GetBusinesses(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": businesses})
	}
}

// CreateBusinessHandler provisions a tenant along with its defaults (the
// main warehouse and an inventory settings row).
func CreateBusinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		var input models.NewBusiness
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		business, err := models.CreateBusiness(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, business)
	}
}
