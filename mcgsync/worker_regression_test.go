package mcgsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
)

// Regression coverage for a full sync run against a real MySQL + Redis pair
// and a stubbed MCG endpoint. The remote quantity is authoritative: whatever
// MCG reports overwrites the local row, including zero.

func TestProcessSyncRunRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := syncTestStartRedis(t)
	t.Cleanup(func() { _ = syncTestDockerRmForce(redisName) })

	mysqlName, mysqlPort := syncTestStartMySQL(t)
	t.Cleanup(func() { _ = syncTestDockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "mcgsync_test")
	// keep the client's request pacing out of the test's way
	t.Setenv("MCG_RATE_LIMIT_PER_MIN", "60000")
	t.Setenv("MCG_TEST_API_KEY", "test-secret")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "Sync Biz",
		Email: "sync@test.local",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:    "Synced Widget",
		Sku:     "SW-001",
		Barcode: "BC-100",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// stub MCG: one entry that matches the product barcode, one archived
	// duplicate of the same barcode with a stale quantity, one unknown
	var remoteQty atomic.Int64
	remoteQty.Store(50)
	var requests atomic.Int64
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("X-API-Key") != "test-secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req itemsListRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := map[string]interface{}{
			"TotalCount": 3,
			"Items": []map[string]interface{}{
				{"ItemID": "MCG-1", "Barcode": "BC-100", "StockQuantity": remoteQty.Load()},
				{"ItemID": "MCG-9", "Barcode": "BC-100", "StockQuantity": 7,
					"Attributes": []map[string]interface{}{{"Name": "archived", "Value": "true"}}},
				{"ItemID": "MCG-404", "Barcode": "NO-SUCH", "StockQuantity": 3},
			},
		}
		if req.PageNumber > 1 {
			resp["Items"] = []map[string]interface{}{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(stub.Close)

	db := config.GetDB()
	conn := models.McgConnection{
		BusinessId:    businessID,
		Provider:      models.McgProvider,
		Status:        models.McgStatusConnected,
		Flavor:        models.McgFlavorLegacy,
		BaseURL:       stub.URL,
		AuthType:      "api_key",
		AuthSecretRef: "env:MCG_TEST_API_KEY",
		SettingsJSON:  EncodeSettings(DefaultSettings()),
	}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatalf("create connection: %v", err)
	}

	runSync := func(t *testing.T) *models.McgSyncRun {
		t.Helper()
		run := models.McgSyncRun{
			BusinessId:   businessID,
			ConnectionId: conn.ID,
			Provider:     models.McgProvider,
			Status:       models.SyncRunStatusQueued,
			TriggeredBy:  models.SyncTriggeredManual,
		}
		if err := db.Create(&run).Error; err != nil {
			t.Fatalf("create run: %v", err)
		}
		if err := processSyncRun(context.Background(), SyncPubSubPayload{
			RunId:        run.ID,
			BusinessId:   businessID,
			ConnectionId: conn.ID,
		}); err != nil {
			t.Fatalf("processSyncRun: %v", err)
		}
		if err := db.First(&run, run.ID).Error; err != nil {
			t.Fatalf("reload run: %v", err)
		}
		return &run
	}

	stockRow := func(t *testing.T) *models.StockLevel {
		t.Helper()
		var row models.StockLevel
		if err := db.Where("business_id = ? AND product_id = ?", businessID, product.ID).
			First(&row).Error; err != nil {
			t.Fatalf("fetch stock row: %v", err)
		}
		return &row
	}

	// First run materializes the row at the remote quantity.
	run := runSync(t)
	if run.Status != models.SyncRunStatusSuccess {
		t.Fatalf("run status = %s, want success", run.Status)
	}
	if run.ItemsFetched != 3 || run.RecordsSynced != 1 || run.SkippedNoMatch != 1 {
		t.Fatalf("run counters fetched=%d synced=%d skipped=%d, want 3/1/1",
			run.ItemsFetched, run.RecordsSynced, run.SkippedNoMatch)
	}
	var stats runCounters
	if err := json.Unmarshal(run.StatsJSON, &stats); err != nil {
		t.Fatalf("decode run stats: %v", err)
	}
	if stats.SkippedArchived != 1 {
		t.Fatalf("skipped_archived = %d, want 1", stats.SkippedArchived)
	}
	// the archived duplicate shares the barcode; its stale quantity of 7
	// must not have overwritten the live entry's 50
	row := stockRow(t)
	if !row.Quantity.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("row qty = %s, want 50", row.Quantity.String())
	}
	var mainWarehouse models.Warehouse
	if err := db.Where("business_id = ? AND name = ?", businessID, models.MainWarehouseName).
		First(&mainWarehouse).Error; err != nil {
		t.Fatalf("fetch main warehouse: %v", err)
	}
	if row.WarehouseId != mainWarehouse.ID {
		t.Fatalf("row warehouse = %d, want main warehouse %d", row.WarehouseId, mainWarehouse.ID)
	}

	// The remote value is absolute: a zero report drains the row to exactly
	// zero even though it was at 50.
	remoteQty.Store(0)
	run = runSync(t)
	if run.Status != models.SyncRunStatusSuccess {
		t.Fatalf("second run status = %s, want success", run.Status)
	}
	row = stockRow(t)
	if !row.Quantity.Equal(decimal.Zero) {
		t.Fatalf("row qty after zero report = %s, want 0", row.Quantity.String())
	}

	var refreshed models.Product
	if err := db.First(&refreshed, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if !refreshed.StockQty.Equal(decimal.Zero) {
		t.Fatalf("product rollup = %s, want 0", refreshed.StockQty.String())
	}

	// Sync writes are audited like any other stock change.
	var history models.InventoryHistory
	if err := db.Where("business_id = ? AND product_id = ? AND reason = ?",
		businessID, product.ID, syncHistoryReason).
		Order("id desc").First(&history).Error; err != nil {
		t.Fatalf("fetch sync history: %v", err)
	}
	if history.Type != models.InventoryHistoryTypeDecrease {
		t.Fatalf("history type = %s, want decrease", history.Type)
	}
	if !history.Delta.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("history delta = %s, want 50", history.Delta.String())
	}
	if history.UserId != nil {
		t.Fatalf("sync history user = %v, want null (system job)", *history.UserId)
	}

	// The matched item gets a mapping recording the winning rule.
	var mapping models.McgItemMapping
	if err := db.Where("business_id = ? AND external_id = ?", businessID, "MCG-1").
		First(&mapping).Error; err != nil {
		t.Fatalf("fetch item mapping: %v", err)
	}
	if mapping.MatchedBy != matchedByProductBarcode {
		t.Fatalf("mapping matched_by = %s, want %s", mapping.MatchedBy, matchedByProductBarcode)
	}

	// A settled run is skipped on redelivery: no new request hits the stub.
	before := requests.Load()
	if err := processSyncRun(context.Background(), SyncPubSubPayload{
		RunId:        run.ID,
		BusinessId:   businessID,
		ConnectionId: conn.ID,
	}); err != nil {
		t.Fatalf("redelivered processSyncRun: %v", err)
	}
	if requests.Load() != before {
		t.Fatalf("settled run hit the remote again (%d -> %d requests)", before, requests.Load())
	}
}

func syncTestStartRedis(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("mcgsync-test-redis-%d", time.Now().UnixNano())
	out, err := syncTestDocker(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := syncTestDockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := syncTestDocker("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func syncTestStartMySQL(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("mcgsync-test-mysql-%d", time.Now().UnixNano())
	out, err := syncTestDocker(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=mcgsync_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := syncTestDockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := syncTestDocker("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func syncTestDockerHostPort(container, portProto string) (string, error) {
	out, err := syncTestDocker("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func syncTestDockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := syncTestDocker("rm", "-f", container)
	return err
}

func syncTestDocker(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
