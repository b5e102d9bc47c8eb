package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the consumption
// planner in isolation: which rows a reservation drains, in what order, and
// when it must refuse. Row persistence is covered by the docker-gated
// regression tests.

func planRows(quantities ...int64) []*StockLevel {
	rows := make([]*StockLevel, 0, len(quantities))
	for i, q := range quantities {
		rows = append(rows, &StockLevel{
			ID:          i + 1,
			ProductId:   1,
			WarehouseId: i + 1,
			Quantity:    decimal.NewFromInt(q),
		})
	}
	return rows
}

func assertTakes(t *testing.T, takes []decimal.Decimal, want ...int64) {
	t.Helper()
	if len(takes) != len(want) {
		t.Fatalf("expected %d takes, got %d", len(want), len(takes))
	}
	for i, w := range want {
		if !takes[i].Equal(decimal.NewFromInt(w)) {
			t.Fatalf("take[%d] = %s, want %d", i, takes[i].String(), w)
		}
	}
}

func TestPlanReservation_GreedyLargestFirst(t *testing.T) {
	// Rows A=10, B=5 (already sorted desc), request 12 with negative stock
	// disabled: A is drained to 0, B covers the remaining 2.
	key := &InventoryItemKey{ProductId: 1}
	takes, err := planReservation(key, planRows(10, 5), decimal.NewFromInt(12), false)
	if err != nil {
		t.Fatalf("planReservation: %v", err)
	}
	assertTakes(t, takes, 10, 2)
}

func TestPlanReservation_ExactTotal(t *testing.T) {
	key := &InventoryItemKey{ProductId: 1}
	takes, err := planReservation(key, planRows(10, 5), decimal.NewFromInt(15), false)
	if err != nil {
		t.Fatalf("planReservation: %v", err)
	}
	assertTakes(t, takes, 10, 5)
}

func TestPlanReservation_SingleRowCoversAll(t *testing.T) {
	// The largest row covers the request alone: smaller rows stay untouched.
	key := &InventoryItemKey{ProductId: 1}
	takes, err := planReservation(key, planRows(20, 5, 3), decimal.NewFromInt(7), false)
	if err != nil {
		t.Fatalf("planReservation: %v", err)
	}
	assertTakes(t, takes, 7, 0, 0)
}

func TestPlanReservation_InsufficientStock(t *testing.T) {
	key := &InventoryItemKey{ProductId: 42}
	takes, err := planReservation(key, planRows(10, 5), decimal.NewFromInt(16), false)
	if takes != nil {
		t.Fatalf("expected no takes on refusal, got %v", takes)
	}

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.ProductId != 42 {
		t.Fatalf("ProductId = %d, want 42", insufficient.ProductId)
	}
	if !insufficient.Requested.Equal(decimal.NewFromInt(16)) {
		t.Fatalf("Requested = %s, want 16", insufficient.Requested.String())
	}
	if !insufficient.Available.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("Available = %s, want 15", insufficient.Available.String())
	}
}

func TestPlanReservation_NegativeAllowedParksDeficitOnFirstRow(t *testing.T) {
	// With negative stock allowed the whole request lands on the first
	// (largest) row, even past zero.
	key := &InventoryItemKey{ProductId: 1}
	takes, err := planReservation(key, planRows(3, 1), decimal.NewFromInt(10), true)
	if err != nil {
		t.Fatalf("planReservation: %v", err)
	}
	assertTakes(t, takes, 10, 0)
}

func TestPlanReservation_NegativeAllowedNoRows(t *testing.T) {
	// A deficit needs a row to live on; with zero rows the item fails even
	// under the permissive policy.
	key := &InventoryItemKey{ProductId: 7}
	_, err := planReservation(key, nil, decimal.NewFromInt(1), true)
	if !errors.Is(err, ErrNoInventoryRow) {
		t.Fatalf("expected ErrNoInventoryRow, got %v", err)
	}
}

func TestPlanReservation_InsufficientWithNoRows(t *testing.T) {
	key := &InventoryItemKey{ProductId: 7}
	_, err := planReservation(key, nil, decimal.NewFromInt(1), false)
	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !insufficient.Available.IsZero() {
		t.Fatalf("Available = %s, want 0", insufficient.Available.String())
	}
}

func TestLowStockSeverityLadder(t *testing.T) {
	cases := []struct {
		qty      int64
		severity AlertSeverity
		alert    bool
	}{
		{-3, AlertSeverityCritical, true},
		{0, AlertSeverityCritical, true},
		{1, AlertSeverityHigh, true},
		{5, AlertSeverityHigh, true},
		{6, AlertSeverityMedium, true},
		{10, AlertSeverityMedium, true},
		{11, "", false},
		{250, "", false},
	}
	for _, tc := range cases {
		severity, _, alert := lowStockSeverity(decimal.NewFromInt(tc.qty))
		if alert != tc.alert {
			t.Fatalf("qty %d: alert = %v, want %v", tc.qty, alert, tc.alert)
		}
		if severity != tc.severity {
			t.Fatalf("qty %d: severity = %q, want %q", tc.qty, severity, tc.severity)
		}
	}
}
