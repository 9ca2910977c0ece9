package offsets

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGlobalOffsetsDefaults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	d, err := store.GlobalOffsets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.Zoom != 1.0 || d.LogoScale != 1.0 {
		t.Errorf("defaults = %+v, want zoom/logo_scale 1.0", d)
	}

	d.CropX = 40
	d.Zoom = 1.2
	if err := store.UpdateGlobalOffsets(ctx, d); err != nil {
		t.Fatal(err)
	}

	got, err := store.GlobalOffsets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Errorf("round trip = %+v, want %+v", got, d)
	}
}

func TestIndividualOffsetsFallThroughToGlobal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	global := Default()
	global.LogoX = 12
	if err := store.UpdateGlobalOffsets(ctx, global); err != nil {
		t.Fatal(err)
	}

	d, found, err := store.IndividualOffsets(ctx, "snes", "Axelay")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected no individual record yet")
	}
	if d.LogoX != 12 {
		t.Errorf("fallback = %+v, want global defaults", d)
	}

	d.StartTime = 3.5
	d.EndTime = 27.25
	if err := store.SaveIndividualOffsets(ctx, "snes", "Axelay", d); err != nil {
		t.Fatal(err)
	}

	got, found, err := store.IndividualOffsets(ctx, "snes", "Axelay")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected individual record after save")
	}
	if got != d {
		t.Errorf("round trip = %+v, want %+v", got, d)
	}

	// Upsert overwrites
	d.CropY = -8
	if err := store.SaveIndividualOffsets(ctx, "snes", "Axelay", d); err != nil {
		t.Fatal(err)
	}
	got, _, _ = store.IndividualOffsets(ctx, "snes", "Axelay")
	if got.CropY != -8 {
		t.Errorf("upsert not applied: %+v", got)
	}
}

func TestIndividualOffsetsValidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, _, err := store.IndividualOffsets(ctx, "", "game"); err == nil {
		t.Error("expected error for empty system")
	}
	if err := store.SaveIndividualOffsets(ctx, "snes", "", Default()); err == nil {
		t.Error("expected error for empty game")
	}
}
