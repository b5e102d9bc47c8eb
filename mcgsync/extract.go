package mcgsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MCG deployments disagree on field names; extraction tries each alias in
// order and the first usable value wins.
var (
	itemIdKeys    = []string{"ItemID", "ItemId", "itemID", "id", "itemId", "item_id"}
	barcodeKeys   = []string{"Barcode", "BarCode", "ItemCode", "barcode", "item_code", "code"}
	quantityKeys  = []string{"StockQuantity", "stock", "item_inventory"}
	archivedKeys  = []string{"Archived", "IsArchived", "archived", "is_archived"}
	attributeKeys = []string{"Attributes", "attributes"}
)

// remoteItem is the normalized view of one raw MCG catalogue entry.
type remoteItem struct {
	ExternalId string
	Barcode    string
	Quantity   decimal.Decimal
	Archived   bool
}

func extractRemoteItem(raw json.RawMessage) (remoteItem, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return remoteItem{}, fmt.Errorf("item is not a json object: %w", err)
	}

	item := remoteItem{
		ExternalId: firstString(fields, itemIdKeys),
		Barcode:    firstString(fields, barcodeKeys),
	}
	if item.ExternalId == "" {
		return remoteItem{}, errors.New("item id is missing")
	}
	// The overwrite is absolute, so a missing stock field reconciles to zero.
	item.Quantity = firstDecimal(fields, quantityKeys)
	item.Archived = isArchived(fields)
	return item, nil
}

// attributeEntry is the {Name, Value} pair convention some deployments use
// for item tags instead of a top-level field.
type attributeEntry struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// isArchived reports whether the entry is tagged archived, either by a
// top-level field or by an "archived" entry in an attributes list.
func isArchived(fields map[string]json.RawMessage) bool {
	for _, k := range archivedKeys {
		if raw, ok := fields[k]; ok && truthy(raw) {
			return true
		}
	}
	for _, k := range attributeKeys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var attrs []attributeEntry
		if err := json.Unmarshal(raw, &attrs); err != nil {
			continue
		}
		for _, attr := range attrs {
			if strings.EqualFold(strings.TrimSpace(attr.Name), "archived") && truthy(attr.Value) {
				return true
			}
		}
	}
	return false
}

// truthy accepts the flag encodings seen across deployments: true, "true",
// "1", "yes" and a non-zero number.
func truthy(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			return true
		}
		return false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String() != "" && n.String() != "0"
	}
	return false
}

// firstString accepts both JSON strings and bare numbers (some deployments
// send numeric item ids).
func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if v := strings.TrimSpace(s); v != "" {
				return v
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
			return n.String()
		}
	}
	return ""
}

func firstDecimal(fields map[string]json.RawMessage, keys []string) decimal.Decimal {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if d, err := decimal.NewFromString(n.String()); err == nil {
				return d
			}
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
				return d
			}
		}
	}
	return decimal.Zero
}
