package mcgsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/models"
)

func newStubClient(baseURL string) *mcgClient {
	return &mcgClient{
		baseURL:   baseURL,
		itemsPath: "/api/item/getItemsList",
		apiKey:    "k",
		apiKeyHdr: "X-API-Key",
		flavor:    models.McgFlavorUplicali,
		http:      &http.Client{Timeout: 5 * time.Second},
		limiter:   time.Tick(time.Millisecond),
	}
}

func stubServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetItemsList_EnvelopeObject(t *testing.T) {
	srv := stubServer(t, `{"Items": [{"ItemID": "A"}, {"ItemID": "B"}], "TotalCount": 2}`)
	resp, err := newStubClient(srv.URL).getItemsList(context.Background(), itemsListRequest{PageNumber: 1})
	if err != nil {
		t.Fatalf("getItemsList: %v", err)
	}
	if len(resp.Items) != 2 || resp.TotalCount != 2 {
		t.Fatalf("items = %d, total = %d, want 2/2", len(resp.Items), resp.TotalCount)
	}
}

func TestGetItemsList_LowercaseEnvelope(t *testing.T) {
	srv := stubServer(t, `{"items": [{"ItemID": "A"}], "totalCount": 1}`)
	resp, err := newStubClient(srv.URL).getItemsList(context.Background(), itemsListRequest{PageNumber: 1})
	if err != nil {
		t.Fatalf("getItemsList: %v", err)
	}
	if len(resp.Items) != 1 || resp.TotalCount != 1 {
		t.Fatalf("items = %d, total = %d, want 1/1", len(resp.Items), resp.TotalCount)
	}
}

func TestGetItemsList_BareArray(t *testing.T) {
	srv := stubServer(t, `[{"ItemID": "A", "StockQuantity": 1}, {"ItemID": "B", "StockQuantity": 2}]`)
	resp, err := newStubClient(srv.URL).getItemsList(context.Background(), itemsListRequest{PageNumber: 1})
	if err != nil {
		t.Fatalf("getItemsList: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(resp.Items))
	}
	if resp.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want the array length", resp.TotalCount)
	}
	item, err := extractRemoteItem(resp.Items[0])
	if err != nil {
		t.Fatalf("extractRemoteItem: %v", err)
	}
	if item.ExternalId != "A" {
		t.Fatalf("ExternalId = %q, want A", item.ExternalId)
	}
}

func TestGetItemsList_GarbagePayload(t *testing.T) {
	srv := stubServer(t, `"just a string"`)
	if _, err := newStubClient(srv.URL).getItemsList(context.Background(), itemsListRequest{PageNumber: 1}); err == nil {
		t.Fatal("expected error for a payload that is neither object nor array")
	}
}
