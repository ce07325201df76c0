package repository

import (
	"context"
	"testing"

	"github.com/mr1hm/civic-issues/internal/fixtures"
	"github.com/mr1hm/civic-issues/internal/format"
)

func TestSeed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	demo := fixtures.DemoIssues()
	n, err := Seed(ctx, db, demo)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != len(demo) {
		t.Errorf("expected %d seeded, got %d", len(demo), n)
	}

	got, err := db.GetByID(ctx, "demo-2")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.Anonymous || got.Reporter != nil {
		t.Errorf("expected anonymous demo-2 without reporter, got %+v", got.Reporter)
	}
	if format.ToClient(got).Reporter.Name != format.AnonymousName {
		t.Errorf("expected anonymous reporter name")
	}

	got, err = db.GetByID(ctx, "demo-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Reporter == nil || got.Reporter.ID != SeedReporterID {
		t.Errorf("expected seeded reporter, got %+v", got.Reporter)
	}

	n, err = Seed(ctx, db, demo)
	if err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected non-empty store to be left alone, seeded %d", n)
	}
}
