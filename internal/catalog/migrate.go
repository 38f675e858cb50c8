package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"specfactory/internal/types"
)

// UpdatePatch carries the editable identity fields. Nil pointers leave the
// field untouched.
type UpdatePatch struct {
	Brand    *string
	Model    *string
	Variant  *string
	Status   *string
	SeedURLs []string
}

// MigrationFailure records one key that could not be moved.
type MigrationFailure struct {
	Key string `json:"key"`
	Err string `json:"err"`
}

// MigrationResult reports the outcome of an artifact migration. OK is true
// only when every key moved; on partial failure the destination exists and the
// listed source keys remain, so a re-run resumes idempotently.
type MigrationResult struct {
	OK            bool               `json:"ok"`
	OldProductID  string             `json:"oldProductId"`
	NewProductID  string             `json:"newProductId"`
	MigratedCount int                `json:"migratedCount"`
	FailedCount   int                `json:"failedCount"`
	Failures      []MigrationFailure `json:"failures,omitempty"`
}

// renameLogEntry is one line of the per-category rename log.
type renameLogEntry struct {
	Identifier    string    `json:"identifier"`
	OldSlug       string    `json:"oldSlug"`
	NewSlug       string    `json:"newSlug"`
	MigratedCount int       `json:"migratedCount"`
	FailedCount   int       `json:"failedCount"`
	RenamedAt     time.Time `json:"renamedAt"`
}

// artifactPrefixes enumerates the known per-product key prefixes, in migration
// order. The final/ prefix subsumes review/; review is listed first so its
// keys are gone by the time final/ is walked.
func (c *Catalog) artifactPrefixes(category, productID string) []string {
	out := c.outputPrefix
	return []string{
		fmt.Sprintf("specs/inputs/%s/products/%s.", category, productID),
		fmt.Sprintf("%s/%s/%s/latest/", out, category, productID),
		fmt.Sprintf("%s/%s/%s/runs/", out, category, productID),
		fmt.Sprintf("final/%s/%s/review/", category, productID),
		fmt.Sprintf("final/%s/%s/", category, productID),
		fmt.Sprintf("%s/published/%s/", category, productID),
		fmt.Sprintf("helper_files/%s/_overrides/%s.", category, productID),
	}
}

// rewriteProductID rewrites a top-level productId/product_id equal to oldID
// inside a JSON payload. Other embedded references (URLs and the like) are
// deliberately left untouched.
func rewriteProductID(data []byte, oldID, newID string) []byte {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return data
	}
	changed := false
	for _, field := range []string{"productId", "product_id"} {
		raw, ok := body[field]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || v != oldID {
			continue
		}
		enc, err := json.Marshal(newID)
		if err != nil {
			continue
		}
		body[field] = enc
		changed = true
	}
	if !changed {
		return data
	}
	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return data
	}
	return out
}

// migrateArtifacts moves every artifact of oldID to newID: copy, rewrite the
// embedded product id in JSON bodies, and delete the source only after the
// destination write succeeded.
func (c *Catalog) migrateArtifacts(ctx context.Context, category, oldID, newID string) *MigrationResult {
	result := &MigrationResult{OldProductID: oldID, NewProductID: newID}
	seen := make(map[string]bool)

	for _, prefix := range c.artifactPrefixes(category, oldID) {
		keys, err := c.store.List(ctx, prefix)
		if err != nil {
			result.Failures = append(result.Failures, MigrationFailure{Key: prefix, Err: err.Error()})
			result.FailedCount++
			continue
		}
		for _, key := range keys {
			if seen[key] {
				continue
			}
			seen[key] = true

			newKey := strings.Replace(key, oldID, newID, 1)
			if newKey == key {
				continue
			}
			data, err := c.store.Read(ctx, key)
			if err != nil {
				result.Failures = append(result.Failures, MigrationFailure{Key: key, Err: err.Error()})
				result.FailedCount++
				continue
			}
			if strings.HasSuffix(key, ".json") {
				data = rewriteProductID(data, oldID, newID)
			}
			if err := c.store.Write(ctx, newKey, data); err != nil {
				result.Failures = append(result.Failures, MigrationFailure{Key: key, Err: err.Error()})
				result.FailedCount++
				continue
			}
			// Destination written; only now drop the source.
			if err := c.store.Delete(ctx, key); err != nil {
				result.Failures = append(result.Failures, MigrationFailure{Key: key, Err: err.Error()})
				result.FailedCount++
				continue
			}
			result.MigratedCount++
		}
	}

	result.OK = result.FailedCount == 0
	return result
}

func (c *Catalog) appendRenameLog(ctx context.Context, category string, entry renameLogEntry) error {
	var log []renameLogEntry
	data, err := c.store.Read(ctx, renameLogKey(category))
	if err == nil {
		_ = json.Unmarshal(data, &log)
	} else if !errors.Is(err, types.ErrKeyNotFound) {
		return err
	}
	log = append(log, entry)
	out, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Write(ctx, renameLogKey(category), out)
}

// UpdateResult reports the outcome of UpdateProduct.
type UpdateResult struct {
	ProductID string             `json:"productId"`
	Renamed   bool               `json:"renamed"`
	Migration *MigrationResult   `json:"migration,omitempty"`
	Entry     types.CatalogEntry `json:"entry"`
}

// UpdateProduct applies identity and status edits. When the edit changes the
// product slug it fails on collision, otherwise runs the migration protocol.
// The numeric id and the identifier never change across a rename.
func (c *Catalog) UpdateProduct(ctx context.Context, category, productID string, patch UpdatePatch) (*UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cat, err := c.load(ctx, category)
	if err != nil {
		return nil, err
	}
	entry, ok := cat.Products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	brand, model, variant := entry.Brand, entry.Model, entry.Variant
	if patch.Brand != nil {
		brand = *patch.Brand
	}
	if patch.Model != nil {
		model = *patch.Model
	}
	if patch.Variant != nil {
		variant = *patch.Variant
	}
	brand, model, variant, _ = NormalizeIdentity(brand, model, variant)
	if Slugify(model) == "" || Slugify(brand) == "" {
		return nil, ErrSlugRequired
	}

	if patch.Status != nil {
		entry.Status = *patch.Status
	}
	if patch.SeedURLs != nil {
		entry.SeedURLs = patch.SeedURLs
	}
	entry.Brand, entry.Model, entry.Variant = brand, model, variant

	newID := BuildProductID(category, brand, model, variant)
	if newID == productID {
		cat.Products[productID] = entry
		if err := c.save(ctx, category, cat); err != nil {
			return nil, err
		}
		if err := c.syncInputFile(ctx, category, productID, entry); err != nil {
			return nil, err
		}
		return &UpdateResult{ProductID: productID, Entry: entry}, nil
	}

	if _, collides := cat.Products[newID]; collides {
		return nil, fmt.Errorf("%w: %s", ErrProductAlreadyExists, newID)
	}

	migration := c.migrateArtifacts(ctx, category, productID, newID)
	if c.queues != nil {
		if err := c.queues.Rename(ctx, category, productID, newID); err != nil {
			migration.Failures = append(migration.Failures, MigrationFailure{Key: "_queue/" + category, Err: err.Error()})
			migration.FailedCount++
			migration.OK = false
		}
	}

	entry.RenameHistory = append(entry.RenameHistory, types.RenameEntry{
		OldSlug:   productID,
		NewSlug:   newID,
		RenamedAt: c.now(),
	})
	delete(cat.Products, productID)
	cat.Products[newID] = entry
	if err := c.save(ctx, category, cat); err != nil {
		return nil, err
	}
	if err := c.syncInputFile(ctx, category, newID, entry); err != nil {
		return nil, err
	}

	if err := c.appendRenameLog(ctx, category, renameLogEntry{
		Identifier:    entry.Identifier,
		OldSlug:       productID,
		NewSlug:       newID,
		MigratedCount: migration.MigratedCount,
		FailedCount:   migration.FailedCount,
		RenamedAt:     c.now(),
	}); err != nil {
		return nil, err
	}

	return &UpdateResult{
		ProductID: newID,
		Renamed:   true,
		Migration: migration,
		Entry:     entry,
	}, nil
}

// syncInputFile rewrites the product job input file to match the catalog entry.
func (c *Catalog) syncInputFile(ctx context.Context, category, productID string, entry types.CatalogEntry) error {
	job := &types.ProductJob{
		ProductID: productID,
		Category:  category,
		IdentityLock: types.IdentityLock{
			ID:         entry.ID,
			Identifier: entry.Identifier,
			Brand:      entry.Brand,
			Model:      entry.Model,
			Variant:    entry.Variant,
		},
		SeedURLs: entry.SeedURLs,
		Anchors:  map[string]string{},
	}
	// Preserve seed URLs and anchors from an existing input file if present.
	if existing, err := c.store.Read(ctx, InputKey(category, productID)); err == nil {
		var prev types.ProductJob
		if json.Unmarshal(existing, &prev) == nil {
			if len(prev.SeedURLs) > 0 && job.SeedURLs == nil {
				job.SeedURLs = prev.SeedURLs
			}
			if len(prev.Anchors) > 0 {
				job.Anchors = prev.Anchors
			}
			job.PreferredSources = prev.PreferredSources
			job.IdentityLock.SKU = prev.IdentityLock.SKU
			job.IdentityLock.MPN = prev.IdentityLock.MPN
			job.IdentityLock.GTIN = prev.IdentityLock.GTIN
		}
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Write(ctx, InputKey(category, productID), data)
}
