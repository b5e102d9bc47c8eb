package mcgsync

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes mounts the MCG endpoints on the given group. The group is
// expected to sit behind the session and actor middlewares; the push endpoint
// is registered separately because Pub/Sub calls it without a session.
func RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", StatusHandler())
	rg.POST("/connect", ConnectHandler())
	rg.POST("/disconnect", DisconnectHandler())
	rg.POST("/settings", UpdateSettingsHandler())
	rg.POST("/sync", TriggerSyncHandler())
	rg.GET("/sync-runs", SyncHistoryHandler())
	rg.GET("/sync-runs/:id", SyncRunDetailHandler())
	rg.POST("/sync-runs/:id/retry", RetrySyncRunHandler())
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())

		conn, err := getConnection(db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, StatusResponse{
				Connection: ConnectionResponse{Status: models.McgStatusDisconnected},
				Settings:   DefaultSettings(),
			})
			return
		}

		c.JSON(http.StatusOK, StatusResponse{
			Connection: ConnectionResponse{
				Status:  conn.Status,
				Flavor:  conn.Flavor,
				BaseURL: conn.BaseURL,
			},
			LastSyncAt:        formatTime(conn.LastSyncAt),
			LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
			Settings:          DecodeSettings(conn.SettingsJSON),
		})
	}
}

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if strings.TrimSpace(req.APIKey) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "apiKey is required"})
			return
		}
		baseURL := strings.TrimSpace(req.BaseURL)
		if baseURL == "" && strings.TrimSpace(os.Getenv("MCG_API_BASE_URL")) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "baseUrl is required"})
			return
		}
		flavor := strings.TrimSpace(req.Flavor)
		if flavor == "" {
			flavor = models.McgFlavorLegacy
		}
		if flavor != models.McgFlavorLegacy && flavor != models.McgFlavorUplicali {
			c.JSON(http.StatusBadRequest, gin.H{"error": "flavor must be legacy or uplicali"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		conn, err := getConnection(db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		if conn == nil {
			conn = &models.McgConnection{
				BusinessId:    businessId,
				Provider:      models.McgProvider,
				Status:        models.McgStatusConnected,
				Flavor:        flavor,
				BaseURL:       baseURL,
				AuthType:      "api_key",
				AuthSecretRef: req.APIKey,
				SettingsJSON:  EncodeSettings(DefaultSettings()),
				UpdatedAt:     now,
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":          models.McgStatusConnected,
				"flavor":          flavor,
				"base_url":        baseURL,
				"auth_type":       "api_key",
				"auth_secret_ref": req.APIKey,
				"updated_at":      now,
			}
			if len(conn.SettingsJSON) == 0 {
				update["settings_json"] = EncodeSettings(DefaultSettings())
			}
			if err := db.Model(conn).Updates(update).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		db := config.GetDB().WithContext(c.Request.Context())

		conn, err := getConnection(db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		if err := db.Model(conn).Updates(map[string]interface{}{
			"status":          models.McgStatusDisconnected,
			"auth_secret_ref": "",
			"updated_at":      time.Now(),
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		conn, err := getConnection(db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		settings := EncodeSettings(req.Settings)
		if conn == nil {
			conn = &models.McgConnection{
				BusinessId:   businessId,
				Provider:     models.McgProvider,
				Status:       models.McgStatusDisconnected,
				SettingsJSON: settings,
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if err := db.Model(conn).Updates(map[string]interface{}{
				"settings_json": settings,
				"updated_at":    time.Now(),
			}).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		conn, err := getConnection(db, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil || conn.Status != models.McgStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "mcg is not connected"})
			return
		}

		run := models.McgSyncRun{
			BusinessId:   businessId,
			ConnectionId: conn.ID,
			Provider:     models.McgProvider,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredManual,
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		dispatchRun(c, run)
		c.JSON(http.StatusOK, TriggerSyncResponse{RunId: run.ID, Status: run.Status})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var runs []models.McgSyncRun
		if err := db.Where("business_id = ? AND provider = ?", businessId, models.McgProvider).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var run models.McgSyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var errs []models.McgSyncError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapErrors(errs),
		})
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var run models.McgSyncRun
		if err := db.Where("id = ? AND business_id = ?", id, businessId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		newRun := models.McgSyncRun{
			BusinessId:   businessId,
			ConnectionId: run.ConnectionId,
			Provider:     run.Provider,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredRetry,
			ParentRunId:  &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		dispatchRun(c, newRun)
		c.JSON(http.StatusOK, TriggerSyncResponse{RunId: newRun.ID, Status: newRun.Status})
	}
}

// dispatchRun hands the queued run to the worker: through Pub/Sub when it is
// reachable, inline otherwise so single-instance deployments without a broker
// still sync.
func dispatchRun(c *gin.Context, run models.McgSyncRun) {
	err := PublishSyncRun(c.Request.Context(), run.ID, run.BusinessId, run.ConnectionId)
	if err == nil {
		return
	}
	config.GetLogger().WithError(err).WithField("run_id", run.ID).
		Warn("mcg sync publish failed, processing inline")
	payload := SyncPubSubPayload{RunId: run.ID, BusinessId: run.BusinessId, ConnectionId: run.ConnectionId}
	go func() {
		if err := processSyncRun(context.Background(), payload); err != nil {
			config.GetLogger().WithError(err).WithField("run_id", run.ID).
				Error("inline mcg sync run failed")
		}
	}()
}

// resolveBusinessID reads the actor's business from the session context. An
// admin may act on another business via the business_id query param.
func resolveBusinessID(c *gin.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(businessId) == "" {
		return "", errors.New("unauthorized")
	}
	if override := strings.TrimSpace(c.Query("business_id")); override != "" && override != businessId {
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			return "", errors.New("unauthorized")
		}
		return override, nil
	}
	return businessId, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.McgSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:             run.ID,
		Status:         run.Status,
		TriggeredBy:    run.TriggeredBy,
		StartedAt:      formatTime(run.StartedAt),
		FinishedAt:     formatTime(run.FinishedAt),
		DurationMs:     run.DurationMs,
		ItemsFetched:   run.ItemsFetched,
		RecordsSynced:  run.RecordsSynced,
		SkippedNoMatch: run.SkippedNoMatch,
		ErrorCount:     run.ErrorCount,
	}
}

func mapErrors(errorsList []models.McgSyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			EntityType: errItem.EntityType,
			ExternalId: errItem.ExternalId,
			ErrorCode:  errItem.ErrorCode,
			Message:    errItem.Message,
			Retryable:  errItem.Retryable,
		})
	}
	return out
}
