package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"specfactory/internal/types"
)

func writeJob(t *testing.T, cat *Catalog, job types.ProductJob) {
	t.Helper()
	data, _ := json.Marshal(job)
	mustWrite(t, cat.store, InputKey(job.Category, job.ProductID), string(data))
}

func TestScan_ClassifiesOrphansAndWarnings(t *testing.T) {
	ctx := context.Background()
	cat, _ := newTestCatalog(t)

	// Canonical product plus a fabricated-variant duplicate of it.
	writeJob(t, cat, types.ProductJob{
		ProductID: "mouse-razer-viper-v3-pro",
		Category:  "mouse",
		IdentityLock: types.IdentityLock{Brand: "Razer", Model: "Viper V3 Pro"},
	})
	writeJob(t, cat, types.ProductJob{
		ProductID: "mouse-razer-viper-v3-pro-v3",
		Category:  "mouse",
		IdentityLock: types.IdentityLock{Brand: "Razer", Model: "Viper V3 Pro", Variant: "V3"},
	})
	// Fabricated variant with no canonical sibling.
	writeJob(t, cat, types.ProductJob{
		ProductID: "mouse-zowie-ec2-ec2",
		Category:  "mouse",
		IdentityLock: types.IdentityLock{Brand: "Zowie", Model: "EC2", Variant: "EC2"},
	})

	report, err := cat.Scan(ctx, "mouse")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Orphans != 1 || report.Warnings != 1 {
		t.Fatalf("report = %+v", report)
	}
	classes := make(map[string]string)
	for _, item := range report.Items {
		classes[item.ProductID] = item.Class
	}
	if classes["mouse-razer-viper-v3-pro"] != ClassCanonical {
		t.Fatalf("canonical misclassified: %v", classes)
	}
	if classes["mouse-razer-viper-v3-pro-v3"] != ClassOrphan {
		t.Fatalf("orphan misclassified: %v", classes)
	}
	if classes["mouse-zowie-ec2-ec2"] != ClassWarning {
		t.Fatalf("warning misclassified: %v", classes)
	}
}

func TestReconcileOrphans_DryRunKeepsFiles(t *testing.T) {
	ctx := context.Background()
	cat, store := newTestCatalog(t)

	writeJob(t, cat, types.ProductJob{
		ProductID:    "mouse-razer-viper-v3-pro",
		Category:     "mouse",
		IdentityLock: types.IdentityLock{Brand: "Razer", Model: "Viper V3 Pro"},
	})
	writeJob(t, cat, types.ProductJob{
		ProductID:    "mouse-razer-viper-v3-pro-v3",
		Category:     "mouse",
		IdentityLock: types.IdentityLock{Brand: "Razer", Model: "Viper V3 Pro", Variant: "V3"},
	})

	orphans, err := cat.ReconcileOrphans(ctx, "mouse", true)
	if err != nil {
		t.Fatalf("ReconcileOrphans dry-run: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ProductID != "mouse-razer-viper-v3-pro-v3" {
		t.Fatalf("orphans = %+v", orphans)
	}
	if _, err := store.Read(ctx, InputKey("mouse", "mouse-razer-viper-v3-pro-v3")); err != nil {
		t.Fatalf("dry-run deleted the file: %v", err)
	}

	// Real run removes the orphan file.
	if _, err := cat.ReconcileOrphans(ctx, "mouse", false); err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}
	if _, err := store.Read(ctx, InputKey("mouse", "mouse-razer-viper-v3-pro-v3")); !errors.Is(err, types.ErrKeyNotFound) {
		t.Fatalf("orphan survived: %v", err)
	}
	if _, err := store.Read(ctx, InputKey("mouse", "mouse-razer-viper-v3-pro")); err != nil {
		t.Fatalf("canonical removed: %v", err)
	}
}
