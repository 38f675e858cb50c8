package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"specfactory/internal/types"
)

// Classification of one product input file by the reconciler.
const (
	ClassCanonical = "canonical"
	ClassOrphan    = "orphan"  // fabricated-variant file where the canonical sibling exists
	ClassWarning   = "warning" // fabricated-variant file with no canonical sibling
)

// ReconcileItem is one classified input file.
type ReconcileItem struct {
	Key       string `json:"key"`
	ProductID string `json:"productId"`
	Class     string `json:"class"`
	Canonical string `json:"canonical,omitempty"` // canonical sibling id for orphans
}

// ReconcileReport is the result of a reconciler scan.
type ReconcileReport struct {
	Category string          `json:"category"`
	Items    []ReconcileItem `json:"items"`
	Orphans  int             `json:"orphans"`
	Warnings int             `json:"warnings"`
}

// Scan classifies every product input file in a category as canonical, orphan
// (a fabricated-variant file whose canonical sibling exists) or warning
// (fabricated but without a canonical sibling to fold into).
func (c *Catalog) Scan(ctx context.Context, category string) (*ReconcileReport, error) {
	prefix := fmt.Sprintf("specs/inputs/%s/products/", category)
	keys, err := c.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Category: category}
	jobs := make(map[string]*types.ProductJob, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := c.store.Read(ctx, key)
		if err != nil {
			continue
		}
		var job types.ProductJob
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if job.ProductID == "" {
			job.ProductID = strings.TrimSuffix(path.Base(key), ".json")
		}
		jobs[key] = &job
	}

	for key, job := range jobs {
		item := ReconcileItem{Key: key, ProductID: job.ProductID, Class: ClassCanonical}
		id := job.IdentityLock
		if id.Variant != "" && IsFabricatedVariant(id.Model, id.Variant) {
			canonical := BuildProductID(job.Category, id.Brand, id.Model, "")
			if _, exists := jobs[InputKey(category, canonical)]; exists {
				item.Class = ClassOrphan
				item.Canonical = canonical
				report.Orphans++
			} else {
				item.Class = ClassWarning
				report.Warnings++
			}
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

// ReconcileOrphans deletes orphan input files and their queue entries. With
// dryRun it only returns the would-delete list.
func (c *Catalog) ReconcileOrphans(ctx context.Context, category string, dryRun bool) ([]ReconcileItem, error) {
	report, err := c.Scan(ctx, category)
	if err != nil {
		return nil, err
	}
	var orphans []ReconcileItem
	for _, item := range report.Items {
		if item.Class != ClassOrphan {
			continue
		}
		orphans = append(orphans, item)
		if dryRun {
			continue
		}
		if err := c.store.Delete(ctx, item.Key); err != nil {
			return orphans, err
		}
		if c.queues != nil {
			if err := c.queues.Remove(ctx, category, item.ProductID); err != nil {
				return orphans, err
			}
		}
	}
	return orphans, nil
}
