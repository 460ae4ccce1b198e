package models_test

import (
	"strings"
	"testing"

	"github.com/carebook/hospital_backend/models"
	"github.com/shopspring/decimal"
)

func TestLedgerRowsAreImmutable(t *testing.T) {
	txn := &models.BalanceTransaction{}
	if err := txn.BeforeUpdate(nil); err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("BeforeUpdate should reject: %v", err)
	}
	if err := txn.BeforeDelete(nil); err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("BeforeDelete should reject: %v", err)
	}

	corr := &models.BalanceCorrection{}
	if err := corr.BeforeUpdate(nil); err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("correction BeforeUpdate should reject: %v", err)
	}
	if err := corr.BeforeDelete(nil); err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("correction BeforeDelete should reject: %v", err)
	}
}

func TestAccountRefKeyAndValidity(t *testing.T) {
	ref := models.AccountRef{Kind: models.AccountKindHospital, OwnerId: "h-12"}
	if got := ref.Key(); got != "hospital:h-12" {
		t.Errorf("Key() = %q, want %q", got, "hospital:h-12")
	}
	if !ref.Valid() {
		t.Error("hospital:h-12 should be valid")
	}
	if (models.AccountRef{Kind: "clinic", OwnerId: "c-1"}).Valid() {
		t.Error("unknown kind should be invalid")
	}
	if (models.AccountRef{Kind: models.AccountKindPatient}).Valid() {
		t.Error("empty owner should be invalid")
	}
}

func TestDecimalMapRoundTrip(t *testing.T) {
	m := models.DecimalMap{
		"patient:p-1":  decimal.RequireFromString("100.50"),
		"hospital:h-1": decimal.RequireFromString("-3.25"),
	}
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var out models.DecimalMap
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("round trip lost entries: %v", out)
	}
	if !out["patient:p-1"].Equal(decimal.RequireFromString("100.50")) {
		t.Errorf("patient entry = %s, want 100.50", out["patient:p-1"])
	}

	var empty models.DecimalMap
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Scan(nil) should leave map empty, got %v", empty)
	}
}
