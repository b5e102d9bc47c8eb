package mcgsync

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestExtractRemoteItem_LegacyFieldNames(t *testing.T) {
	raw := json.RawMessage(`{"ItemID": "A-100", "Barcode": "7290001", "StockQuantity": 42}`)
	item, err := extractRemoteItem(raw)
	if err != nil {
		t.Fatalf("extractRemoteItem: %v", err)
	}
	if item.ExternalId != "A-100" {
		t.Fatalf("ExternalId = %q, want A-100", item.ExternalId)
	}
	if item.Barcode != "7290001" {
		t.Fatalf("Barcode = %q, want 7290001", item.Barcode)
	}
	if !item.Quantity.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("Quantity = %s, want 42", item.Quantity.String())
	}
}

func TestExtractRemoteItem_SnakeCaseAliases(t *testing.T) {
	raw := json.RawMessage(`{"item_id": "B-2", "item_code": "555", "item_inventory": "17.5"}`)
	item, err := extractRemoteItem(raw)
	if err != nil {
		t.Fatalf("extractRemoteItem: %v", err)
	}
	if item.ExternalId != "B-2" {
		t.Fatalf("ExternalId = %q, want B-2", item.ExternalId)
	}
	if item.Barcode != "555" {
		t.Fatalf("Barcode = %q, want 555", item.Barcode)
	}
	if !item.Quantity.Equal(decimal.RequireFromString("17.5")) {
		t.Fatalf("Quantity = %s, want 17.5", item.Quantity.String())
	}
}

func TestExtractRemoteItem_NumericIdAndAliasPriority(t *testing.T) {
	// Numeric ids are accepted; when several aliases are present the first
	// listed one wins.
	raw := json.RawMessage(`{"ItemID": 9001, "id": "shadowed", "BarCode": "111", "barcode": "222", "stock": 3}`)
	item, err := extractRemoteItem(raw)
	if err != nil {
		t.Fatalf("extractRemoteItem: %v", err)
	}
	if item.ExternalId != "9001" {
		t.Fatalf("ExternalId = %q, want 9001", item.ExternalId)
	}
	if item.Barcode != "111" {
		t.Fatalf("Barcode = %q, want 111 (BarCode listed before barcode)", item.Barcode)
	}
	if !item.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("Quantity = %s, want 3", item.Quantity.String())
	}
}

func TestExtractRemoteItem_MissingQuantityMeansZero(t *testing.T) {
	// Reconciliation overwrites with an absolute value, so an absent stock
	// field reconciles the local count to zero rather than being an error.
	raw := json.RawMessage(`{"ItemID": "C-3"}`)
	item, err := extractRemoteItem(raw)
	if err != nil {
		t.Fatalf("extractRemoteItem: %v", err)
	}
	if !item.Quantity.IsZero() {
		t.Fatalf("Quantity = %s, want 0", item.Quantity.String())
	}
}

func TestExtractRemoteItem_MissingIdFails(t *testing.T) {
	raw := json.RawMessage(`{"Barcode": "7290001", "StockQuantity": 5}`)
	if _, err := extractRemoteItem(raw); err == nil {
		t.Fatal("expected error for item without an id")
	}
}

func TestExtractRemoteItem_ArchivedMarkers(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"top level bool", `{"ItemID": "A", "archived": true}`, true},
		{"top level string", `{"ItemID": "A", "IsArchived": "true"}`, true},
		{"top level number", `{"ItemID": "A", "is_archived": 1}`, true},
		{"attribute pair", `{"ItemID": "A", "Attributes": [{"Name": "color", "Value": "red"}, {"Name": "Archived", "Value": "yes"}]}`, true},
		{"attribute case fold", `{"ItemID": "A", "attributes": [{"Name": "ARCHIVED", "Value": true}]}`, true},
		{"false bool", `{"ItemID": "A", "archived": false}`, false},
		{"false string", `{"ItemID": "A", "archived": "no"}`, false},
		{"zero number", `{"ItemID": "A", "archived": 0}`, false},
		{"attribute off", `{"ItemID": "A", "Attributes": [{"Name": "archived", "Value": "false"}]}`, false},
		{"no marker", `{"ItemID": "A", "StockQuantity": 5}`, false},
	}
	for _, tc := range cases {
		item, err := extractRemoteItem(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("%s: extractRemoteItem: %v", tc.name, err)
		}
		if item.Archived != tc.want {
			t.Fatalf("%s: Archived = %v, want %v", tc.name, item.Archived, tc.want)
		}
	}
}

func TestExtractRemoteItem_ArchivedKeepsOtherFields(t *testing.T) {
	raw := json.RawMessage(`{"ItemID": "MCG-9", "Barcode": "BC-9", "StockQuantity": 7, "Attributes": [{"Name": "archived", "Value": "true"}]}`)
	item, err := extractRemoteItem(raw)
	if err != nil {
		t.Fatalf("extractRemoteItem: %v", err)
	}
	if !item.Archived {
		t.Fatal("expected archived item to be flagged")
	}
	if item.ExternalId != "MCG-9" || item.Barcode != "BC-9" {
		t.Fatalf("addressing fields lost: %+v", item)
	}
}

func TestExtractRemoteItem_NotAnObject(t *testing.T) {
	if _, err := extractRemoteItem(json.RawMessage(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object item")
	}
}

func TestDecodeSettings_Defaults(t *testing.T) {
	settings := DecodeSettings(nil)
	if !settings.Enabled || settings.AutoPullEnabled {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if settings.PullEveryMinutes != 60 || settings.PageSize != 200 {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
}

func TestDecodeSettings_GarbageFallsBackToDefaults(t *testing.T) {
	settings := DecodeSettings([]byte(`{not json`))
	if settings != DefaultSettings() {
		t.Fatalf("expected defaults for garbage payload, got %+v", settings)
	}
}

func TestNormalizeSettings_Clamps(t *testing.T) {
	settings := NormalizeSettings(SyncSettings{PullEveryMinutes: 1, PageSize: 10000})
	if settings.PullEveryMinutes != 5 {
		t.Fatalf("PullEveryMinutes = %d, want clamped to 5", settings.PullEveryMinutes)
	}
	if settings.PageSize != 200 {
		t.Fatalf("PageSize = %d, want clamped to 200", settings.PageSize)
	}
}
