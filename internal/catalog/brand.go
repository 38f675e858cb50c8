package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"specfactory/internal/types"
)

const (
	brandRegistryKey  = "helper_files/_global/brand_registry.json"
	brandRenameLogKey = "helper_files/_global/brand_rename_log.json"
)

// BrandEntry is one brand in the global registry.
type BrandEntry struct {
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Aliases    []string  `json:"aliases,omitempty"`
	Categories []string  `json:"categories,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
}

type brandRegistry struct {
	Brands map[string]BrandEntry `json:"brands"` // keyed by slug
}

type brandRenameEntry struct {
	OldSlug   string    `json:"oldSlug"`
	NewSlug   string    `json:"newSlug"`
	Products  int       `json:"products"`
	RenamedAt time.Time `json:"renamedAt"`
}

func (c *Catalog) loadBrands(ctx context.Context) (*brandRegistry, error) {
	data, err := c.store.Read(ctx, brandRegistryKey)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return &brandRegistry{Brands: make(map[string]BrandEntry)}, nil
		}
		return nil, err
	}
	var reg brandRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse brand registry: %w", err)
	}
	if reg.Brands == nil {
		reg.Brands = make(map[string]BrandEntry)
	}
	return &reg, nil
}

func (c *Catalog) saveBrands(ctx context.Context, reg *brandRegistry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Write(ctx, brandRegistryKey, data)
}

// RegisterBrand upserts a brand in the global registry.
func (c *Catalog) RegisterBrand(ctx context.Context, name string, aliases []string) (BrandEntry, error) {
	if name == "" {
		return BrandEntry{}, ErrBrandRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, err := c.loadBrands(ctx)
	if err != nil {
		return BrandEntry{}, err
	}
	slug := Slugify(name)
	entry, ok := reg.Brands[slug]
	if !ok {
		entry = BrandEntry{Name: name, Slug: slug, AddedAt: c.now()}
	}
	entry.Aliases = aliases
	reg.Brands[slug] = entry
	return entry, c.saveBrands(ctx, reg)
}

// RenameBrand renames a brand across every product that carries it in the
// given categories, migrating each product's artifacts, then appends to the
// global brand rename log. It fails with brand_in_use semantics inverted: the
// old brand must be in use somewhere, the new slug must not collide in the
// registry.
func (c *Catalog) RenameBrand(ctx context.Context, oldName, newName string, categories []string) (int, error) {
	oldSlug, newSlug := Slugify(oldName), Slugify(newName)
	if oldSlug == "" || newSlug == "" {
		return 0, ErrSlugRequired
	}

	func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if reg, err := c.loadBrands(ctx); err == nil {
			if entry, ok := reg.Brands[oldSlug]; ok {
				delete(reg.Brands, oldSlug)
				entry.Name = newName
				entry.Slug = newSlug
				reg.Brands[newSlug] = entry
				_ = c.saveBrands(ctx, reg)
			}
		}
	}()

	renamed := 0
	for _, category := range categories {
		ids, err := c.List(ctx, category)
		if err != nil {
			return renamed, err
		}
		for _, id := range ids {
			entry, err := c.Get(ctx, category, id)
			if err != nil {
				continue
			}
			if Slugify(entry.Brand) != oldSlug {
				continue
			}
			brand := newName
			if _, err := c.UpdateProduct(ctx, category, id, UpdatePatch{Brand: &brand}); err != nil {
				return renamed, fmt.Errorf("rename brand on %s: %w", id, err)
			}
			renamed++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var log []brandRenameEntry
	if data, err := c.store.Read(ctx, brandRenameLogKey); err == nil {
		_ = json.Unmarshal(data, &log)
	}
	log = append(log, brandRenameEntry{
		OldSlug:   oldSlug,
		NewSlug:   newSlug,
		Products:  renamed,
		RenamedAt: c.now(),
	})
	data, err := json.Marshal(log)
	if err != nil {
		return renamed, err
	}
	return renamed, c.store.Write(ctx, brandRenameLogKey, data)
}
