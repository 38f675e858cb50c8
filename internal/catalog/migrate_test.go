package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"specfactory/internal/types"
)

// TestUpdateProduct_S2RenameMigration covers the rename migration protocol:
// artifacts move to the new prefix, the embedded product_id is rewritten, the
// old prefix goes empty, the rename log is appended, and id/identifier are
// unchanged.
func TestUpdateProduct_S2RenameMigration(t *testing.T) {
	ctx := context.Background()
	cat, store := newTestCatalog(t)

	_, added, err := cat.AddProduct(ctx, "mouse", "Razer", "Viper V3 Pro", "", nil)
	if err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	oldID := added.ProductID
	if oldID != "mouse-razer-viper-v3-pro" {
		t.Fatalf("oldID = %q", oldID)
	}

	// Artifacts owned by the old slug.
	normalized := `{"product_id":"mouse-razer-viper-v3-pro","fields":{"dpi":"35000"}}`
	mustWrite(t, store, "specs/outputs/mouse/mouse-razer-viper-v3-pro/latest/normalized.json", normalized)
	mustWrite(t, store, "specs/outputs/mouse/mouse-razer-viper-v3-pro/runs/run-1/provenance.json", `{"productId":"mouse-razer-viper-v3-pro"}`)
	mustWrite(t, store, "final/mouse/mouse-razer-viper-v3-pro/review/state.json", `{"state":"pending"}`)
	mustWrite(t, store, "helper_files/mouse/_overrides/mouse-razer-viper-v3-pro.overrides.json", `{}`)

	model := "Viper V3 Pro SE"
	res, err := cat.UpdateProduct(ctx, "mouse", oldID, UpdatePatch{Model: &model})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if !res.Renamed || res.ProductID != "mouse-razer-viper-v3-pro-se" {
		t.Fatalf("result = %+v", res)
	}
	if !res.Migration.OK || res.Migration.FailedCount != 0 {
		t.Fatalf("migration = %+v", res.Migration)
	}

	// Old prefix must be empty.
	oldKeys, err := store.List(ctx, "specs/outputs/mouse/mouse-razer-viper-v3-pro/")
	if err != nil {
		t.Fatalf("List old: %v", err)
	}
	for _, k := range oldKeys {
		if !strings.Contains(k, "mouse-razer-viper-v3-pro-se") {
			t.Fatalf("old key survived: %s", k)
		}
	}

	// New key present with the body's product_id rewritten.
	data, err := store.Read(ctx, "specs/outputs/mouse/mouse-razer-viper-v3-pro-se/latest/normalized.json")
	if err != nil {
		t.Fatalf("new normalized.json: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if body["product_id"] != "mouse-razer-viper-v3-pro-se" {
		t.Fatalf("product_id = %v", body["product_id"])
	}
	// Other fields untouched.
	if _, ok := body["fields"]; !ok {
		t.Fatalf("payload lost fields: %v", body)
	}

	if _, err := store.Read(ctx, "final/mouse/mouse-razer-viper-v3-pro-se/review/state.json"); err != nil {
		t.Fatalf("review artifact not migrated: %v", err)
	}
	if _, err := store.Read(ctx, "helper_files/mouse/_overrides/mouse-razer-viper-v3-pro-se.overrides.json"); err != nil {
		t.Fatalf("overrides not migrated: %v", err)
	}

	// Identifier and id survive the rename.
	entry, err := cat.Get(ctx, "mouse", "mouse-razer-viper-v3-pro-se")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Identifier != added.Entry.Identifier || entry.ID != added.Entry.ID {
		t.Fatalf("identity drifted: %+v vs %+v", entry, added.Entry)
	}
	if len(entry.RenameHistory) != 1 || entry.RenameHistory[0].OldSlug != oldID {
		t.Fatalf("rename history = %+v", entry.RenameHistory)
	}

	// Rename log appended.
	logData, err := store.Read(ctx, "helper_files/mouse/_control_plane/rename_log.json")
	if err != nil {
		t.Fatalf("rename log: %v", err)
	}
	var log []map[string]any
	if err := json.Unmarshal(logData, &log); err != nil {
		t.Fatalf("parse rename log: %v", err)
	}
	if len(log) != 1 || log[0]["newSlug"] != "mouse-razer-viper-v3-pro-se" {
		t.Fatalf("rename log = %v", log)
	}
	if log[0]["identifier"] != added.Entry.Identifier {
		t.Fatalf("log identifier = %v", log[0]["identifier"])
	}
}

func TestUpdateProduct_RenameCollisionFails(t *testing.T) {
	ctx := context.Background()
	cat, _ := newTestCatalog(t)

	_, _, _ = cat.AddProduct(ctx, "mouse", "Razer", "Viper V3 Pro", "", nil)
	_, _, _ = cat.AddProduct(ctx, "mouse", "Razer", "Viper V3", "", nil)

	model := "Viper V3 Pro"
	_, err := cat.UpdateProduct(ctx, "mouse", "mouse-razer-viper-v3", UpdatePatch{Model: &model})
	if err == nil || !strings.Contains(err.Error(), "product_already_exists") {
		t.Fatalf("err = %v, want collision", err)
	}
}

func TestUpdateProduct_StatusOnlyNoMigration(t *testing.T) {
	ctx := context.Background()
	cat, _ := newTestCatalog(t)

	_, added, _ := cat.AddProduct(ctx, "mouse", "Razer", "Viper V3 Pro", "", nil)
	status := "paused"
	res, err := cat.UpdateProduct(ctx, "mouse", added.ProductID, UpdatePatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if res.Renamed || res.Migration != nil {
		t.Fatalf("unexpected migration: %+v", res)
	}
	entry, _ := cat.Get(ctx, "mouse", added.ProductID)
	if entry.Status != "paused" {
		t.Fatalf("status = %q", entry.Status)
	}
}

func TestMigration_IdempotentResume(t *testing.T) {
	ctx := context.Background()
	cat, store := newTestCatalog(t)

	// Simulate a crash mid-migration: the destination already holds one key,
	// the source still holds another.
	mustWrite(t, store, "specs/outputs/mouse/old-pid/latest/a.json", `{"product_id":"old-pid"}`)
	mustWrite(t, store, "specs/outputs/mouse/new-pid/latest/b.json", `{"product_id":"new-pid"}`)

	res := cat.migrateArtifacts(ctx, "mouse", "old-pid", "new-pid")
	if !res.OK || res.MigratedCount != 1 {
		t.Fatalf("resume migration = %+v", res)
	}
	if _, err := store.Read(ctx, "specs/outputs/mouse/new-pid/latest/a.json"); err != nil {
		t.Fatalf("a.json not migrated: %v", err)
	}
	keys, _ := store.List(ctx, "specs/outputs/mouse/old-pid/")
	if len(keys) != 0 {
		t.Fatalf("old keys remain: %v", keys)
	}

	// Running again over an empty source is a no-op.
	res = cat.migrateArtifacts(ctx, "mouse", "old-pid", "new-pid")
	if !res.OK || res.MigratedCount != 0 {
		t.Fatalf("second resume = %+v", res)
	}
}

func TestRewriteProductID_LeavesOtherReferencesAlone(t *testing.T) {
	in := []byte(`{"product_id":"old-pid","url":"https://example.com/old-pid","nested":{"product_id":"old-pid"}}`)
	out := rewriteProductID(in, "old-pid", "new-pid")

	var body map[string]any
	if err := json.Unmarshal(out, &body); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if body["product_id"] != "new-pid" {
		t.Fatalf("top-level not rewritten: %v", body["product_id"])
	}
	// Embedded URL and nested occurrences are deliberately untouched.
	if body["url"] != "https://example.com/old-pid" {
		t.Fatalf("url rewritten: %v", body["url"])
	}
	nested := body["nested"].(map[string]any)
	if nested["product_id"] != "old-pid" {
		t.Fatalf("nested rewritten: %v", nested)
	}
}

func mustWrite(t *testing.T, store types.Storage, key, body string) {
	t.Helper()
	if err := store.Write(context.Background(), key, []byte(body)); err != nil {
		t.Fatalf("write %s: %v", key, err)
	}
}
