package mcgsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// syncHistoryReason is recorded on every inventory history row written by a
// sync run, so reconciliation writes stay distinguishable from manual ones.
const syncHistoryReason = "MCG sync"

const (
	syncEntityTypeItem = "item"
	syncEntityTypePage = "page"
	syncEntityTypeRun  = "run"
)

// matchedBy values recorded on item mappings.
const (
	matchedByVariantBarcode = "variant_barcode"
	matchedByProductBarcode = "product_barcode"
	matchedByMcgItemCode    = "mcg_item_code"
)

// runCounters is persisted to McgSyncRun.StatsJSON and drives the final run
// status: failed when nothing synced and at least one error, partial when
// both, success otherwise.
type runCounters struct {
	Pages           int `json:"pages"`
	ItemsFetched    int `json:"items_fetched"`
	RecordsSynced   int `json:"records_synced"`
	SkippedNoMatch  int `json:"skipped_no_match"`
	SkippedInactive int `json:"skipped_inactive"`
	SkippedArchived int `json:"skipped_archived"`
	ErrorCount      int `json:"error_count"`
}

func getConnection(db *gorm.DB, businessId string) (*models.McgConnection, error) {
	var conn models.McgConnection
	err := db.Where("business_id = ? AND provider = ?", businessId, models.McgProvider).
		Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// processSyncRun executes one sync run end to end. It is safe to call twice
// for the same run: a settled run is skipped. Item-level problems are
// recorded on the run and never abort the remaining items.
func processSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	db := config.GetDB()
	logger := config.GetLogger()

	var run models.McgSyncRun
	if err := db.First(&run, payload.RunId).Error; err != nil {
		return fmt.Errorf("load sync run %d: %w", payload.RunId, err)
	}
	switch run.Status {
	case models.SyncRunStatusSuccess, models.SyncRunStatusFailed, models.SyncRunStatusPartial:
		// already settled; a redelivery must not run it again
		return nil
	}

	// one reconciliation per business at a time, across replicas
	release, err := utils.AcquireBusinessLock(ctx, run.BusinessId, "McgSync", 10*time.Minute)
	if err != nil {
		return fmt.Errorf("sync run %d: %w", payload.RunId, err)
	}
	defer release()

	conn, err := getConnection(db, run.BusinessId)
	if err != nil {
		return err
	}
	if conn == nil {
		return failRun(&run, "mcg connection not found")
	}
	if conn.Status != models.McgStatusConnected {
		return failRun(&run, "mcg connection is not connected")
	}
	settings := DecodeSettings(conn.SettingsJSON)
	if !settings.Enabled {
		return failRun(&run, "mcg sync is disabled")
	}
	client, err := newMcgClient(conn)
	if err != nil {
		return failRun(&run, err.Error())
	}

	startedAt := time.Now()
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	// stock writes, history rows and catalog lookups below are scoped by the
	// run's business
	ctx = utils.SetBusinessIdInContext(ctx, run.BusinessId)

	counters := pullItems(ctx, client, conn, &run, settings)

	finishedAt := time.Now()
	status := models.SyncRunStatusSuccess
	if counters.ErrorCount > 0 {
		status = models.SyncRunStatusPartial
		if counters.RecordsSynced == 0 {
			status = models.SyncRunStatusFailed
		}
	}
	statsJSON, _ := json.Marshal(counters)
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":           status,
		"finished_at":      finishedAt,
		"duration_ms":      finishedAt.Sub(startedAt).Milliseconds(),
		"items_fetched":    counters.ItemsFetched,
		"records_synced":   counters.RecordsSynced,
		"skipped_no_match": counters.SkippedNoMatch,
		"error_count":      counters.ErrorCount,
		"stats_json":       statsJSON,
	}).Error; err != nil {
		return err
	}

	connUpdates := map[string]interface{}{"last_sync_at": finishedAt}
	if status == models.SyncRunStatusSuccess {
		connUpdates["last_success_sync_at"] = finishedAt
	}
	if err := db.Model(&models.McgConnection{}).Where("id = ?", conn.ID).
		Updates(connUpdates).Error; err != nil {
		logger.WithError(err).Warn("mcg connection sync timestamps not updated")
	}

	logger.WithFields(logrus.Fields{
		"run_id":           run.ID,
		"business_id":      run.BusinessId,
		"status":           status,
		"items_fetched":    counters.ItemsFetched,
		"records_synced":   counters.RecordsSynced,
		"skipped_no_match": counters.SkippedNoMatch,
		"skipped_archived": counters.SkippedArchived,
		"error_count":      counters.ErrorCount,
		"duration_ms":      finishedAt.Sub(startedAt).Milliseconds(),
	}).Info("mcg sync run finished")

	return nil
}

// pullItems walks the remote catalogue and reconciles each entry. The legacy
// flavor pages until TotalCount is reached; the uplicali flavor returns the
// whole catalogue in one response, so one request settles it.
func pullItems(ctx context.Context, client *mcgClient, conn *models.McgConnection, run *models.McgSyncRun, settings SyncSettings) runCounters {
	db := config.GetDB()
	counters := runCounters{}

	tx := db.Begin()
	warehouse, err := models.EnsureMainWarehouse(tx.WithContext(ctx), run.BusinessId)
	if err != nil {
		tx.Rollback()
		counters.ErrorCount++
		createSyncError(run, syncEntityTypeRun, "", "warehouse_setup_failed", err.Error(), nil, true)
		return counters
	}
	if err := tx.Commit().Error; err != nil {
		counters.ErrorCount++
		createSyncError(run, syncEntityTypeRun, "", "warehouse_setup_failed", err.Error(), nil, true)
		return counters
	}

	page := 1
	for {
		req := itemsListRequest{PageNumber: page, PageSize: settings.PageSize, Filter: settings.Filter}
		if client.flavor == models.McgFlavorUplicali {
			req.PageNumber = 1
			req.PageSize = 0
		}
		resp, err := client.getItemsList(ctx, req)
		if err != nil {
			counters.ErrorCount++
			createSyncError(run, syncEntityTypePage, strconv.Itoa(page), "fetch_failed", err.Error(), nil, true)
			return counters
		}
		counters.Pages++
		counters.ItemsFetched += len(resp.Items)

		for _, raw := range resp.Items {
			syncOneItem(ctx, conn, run, warehouse.ID, raw, &counters)
		}

		if client.flavor == models.McgFlavorUplicali || len(resp.Items) == 0 {
			break
		}
		if resp.TotalCount > 0 && counters.ItemsFetched >= resp.TotalCount {
			break
		}
		page++
	}
	return counters
}

func syncOneItem(ctx context.Context, conn *models.McgConnection, run *models.McgSyncRun, warehouseId int, raw json.RawMessage, counters *runCounters) {
	logger := config.GetLogger()

	item, err := extractRemoteItem(raw)
	if err != nil {
		counters.ErrorCount++
		createSyncError(run, syncEntityTypeItem, "", "bad_payload", err.Error(), raw, false)
		return
	}
	// archived remote entries report stale quantities and must never
	// overwrite a live local row
	if item.Archived {
		counters.SkippedArchived++
		return
	}

	match, err := matchCatalogItem(ctx, run.BusinessId, item)
	if err != nil {
		counters.ErrorCount++
		createSyncError(run, syncEntityTypeItem, item.ExternalId, "lookup_failed", err.Error(), raw, true)
		return
	}
	if match == nil {
		counters.SkippedNoMatch++
		return
	}
	if match.inactive {
		counters.SkippedInactive++
		return
	}

	if _, err := models.SyncStockQuantity(ctx, match.key, warehouseId, item.Quantity, syncHistoryReason); err != nil {
		counters.ErrorCount++
		createSyncError(run, syncEntityTypeItem, item.ExternalId, "write_failed", err.Error(), raw, true)
		return
	}

	if err := upsertItemMapping(run, conn.ID, item.ExternalId, match); err != nil {
		// bookkeeping only; the stock write already landed
		logger.WithError(err).WithField("external_id", item.ExternalId).
			Warn("mcg item mapping upsert failed")
	}
	counters.RecordsSynced++
}

type catalogMatch struct {
	key        *models.InventoryItemKey
	internalId string
	matchedBy  string
	inactive   bool
}

// matchCatalogItem resolves a remote entry against the local catalog:
// variant barcode first, then product barcode, then the product's MCG item
// code. A nil match means the entry is unknown here.
func matchCatalogItem(ctx context.Context, businessId string, item remoteItem) (*catalogMatch, error) {
	db := config.GetDB()

	if item.Barcode != "" {
		var variant models.ProductVariant
		err := db.WithContext(ctx).
			Where("business_id = ? AND barcode = ?", businessId, item.Barcode).
			First(&variant).Error
		if err == nil {
			inactive, lookupErr := productInactive(ctx, businessId, variant.ProductId)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &catalogMatch{
				key:        &models.InventoryItemKey{ProductId: variant.ProductId, VariantId: variant.ID},
				internalId: "variant:" + strconv.Itoa(variant.ID),
				matchedBy:  matchedByVariantBarcode,
				inactive:   inactive || flagOff(variant.IsActive),
			}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		var product models.Product
		err = db.WithContext(ctx).
			Where("business_id = ? AND barcode = ?", businessId, item.Barcode).
			First(&product).Error
		if err == nil {
			return &catalogMatch{
				key:        &models.InventoryItemKey{ProductId: product.ID},
				internalId: "product:" + strconv.Itoa(product.ID),
				matchedBy:  matchedByProductBarcode,
				inactive:   flagOff(product.IsActive),
			}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var product models.Product
	err := db.WithContext(ctx).
		Where("business_id = ? AND mcg_item_code = ?", businessId, item.ExternalId).
		First(&product).Error
	if err == nil {
		return &catalogMatch{
			key:        &models.InventoryItemKey{ProductId: product.ID},
			internalId: "product:" + strconv.Itoa(product.ID),
			matchedBy:  matchedByMcgItemCode,
			inactive:   flagOff(product.IsActive),
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return nil, nil
}

func productInactive(ctx context.Context, businessId string, productId int) (bool, error) {
	db := config.GetDB()
	var product models.Product
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, productId).
		First(&product).Error; err != nil {
		return false, err
	}
	return flagOff(product.IsActive), nil
}

// flagOff treats a nil pointer as active; the column defaults to true.
func flagOff(flag *bool) bool {
	return flag != nil && !*flag
}

func upsertItemMapping(run *models.McgSyncRun, connectionId uint, externalId string, match *catalogMatch) error {
	db := config.GetDB()
	now := time.Now()

	var mapping models.McgItemMapping
	err := db.Where("business_id = ? AND provider = ? AND entity_type = ? AND external_id = ?",
		run.BusinessId, models.McgProvider, syncEntityTypeItem, externalId).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mapping = models.McgItemMapping{
			BusinessId:   run.BusinessId,
			ConnectionId: connectionId,
			Provider:     models.McgProvider,
			EntityType:   syncEntityTypeItem,
			ExternalId:   externalId,
			InternalId:   match.internalId,
			MatchedBy:    match.matchedBy,
			LastSeenAt:   &now,
		}
		return db.Create(&mapping).Error
	}
	if err != nil {
		return err
	}
	return db.Model(&mapping).Updates(map[string]interface{}{
		"internal_id":  match.internalId,
		"matched_by":   match.matchedBy,
		"last_seen_at": now,
	}).Error
}

func createSyncError(run *models.McgSyncRun, entityType, externalId, code, message string, payload json.RawMessage, retryable bool) {
	db := config.GetDB()
	syncErr := models.McgSyncError{
		SyncRunId:  run.ID,
		BusinessId: run.BusinessId,
		EntityType: entityType,
		ExternalId: externalId,
		ErrorCode:  code,
		Message:    message,
		Retryable:  retryable,
	}
	if len(payload) > 0 {
		syncErr.PayloadJSON = []byte(payload)
	}
	if err := db.Create(&syncErr).Error; err != nil {
		config.GetLogger().WithError(err).Warn("mcg sync error not recorded")
	}
}

// failRun settles a run that cannot start. The cause is recorded as a run
// error; the message itself is not retryable, a new run must be triggered
// once the precondition is fixed.
func failRun(run *models.McgSyncRun, reason string) error {
	db := config.GetDB()
	now := time.Now()
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":      models.SyncRunStatusFailed,
		"finished_at": now,
		"error_count": 1,
	}).Error; err != nil {
		return err
	}
	createSyncError(run, syncEntityTypeRun, "", "precondition_failed", reason, nil, false)
	config.GetLogger().WithFields(logrus.Fields{
		"run_id":      run.ID,
		"business_id": run.BusinessId,
	}).Warn(reason)
	return nil
}
