package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"specfactory/internal/queue"
	"specfactory/internal/types"
)

// Input errors surfaced to the caller; never retried.
var (
	ErrCategoryRequired      = errors.New("category_required")
	ErrBrandRequired         = errors.New("brand_required")
	ErrSlugRequired          = errors.New("slug_required")
	ErrProductNotFound       = errors.New("product_not_found")
	ErrProductAlreadyExists  = errors.New("product_already_exists")
	ErrBrandInUse            = errors.New("brand_in_use")
)

// Catalog owns the per-category product catalog and its control-plane files.
type Catalog struct {
	store        types.Storage
	queues       *queue.StateStore
	outputPrefix string

	mu  sync.Mutex
	now func() time.Time
}

// New builds a catalog over the given storage. outputPrefix is the run
// artifact prefix from config (§6 storage layout).
func New(store types.Storage, queues *queue.StateStore, outputPrefix string) *Catalog {
	return &Catalog{
		store:        store,
		queues:       queues,
		outputPrefix: outputPrefix,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func catalogKey(category string) string {
	return fmt.Sprintf("helper_files/%s/_control_plane/product_catalog.json", category)
}

func renameLogKey(category string) string {
	return fmt.Sprintf("helper_files/%s/_control_plane/rename_log.json", category)
}

// InputKey returns the product job input-file key.
func InputKey(category, productID string) string {
	return fmt.Sprintf("specs/inputs/%s/products/%s.json", category, productID)
}

// categoryCatalog is the on-disk catalog file: product id -> entry.
type categoryCatalog struct {
	Products map[string]types.CatalogEntry `json:"products"`
}

func (c *Catalog) load(ctx context.Context, category string) (*categoryCatalog, error) {
	data, err := c.store.Read(ctx, catalogKey(category))
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return &categoryCatalog{Products: make(map[string]types.CatalogEntry)}, nil
		}
		return nil, err
	}
	var cat categoryCatalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", category, err)
	}
	if cat.Products == nil {
		cat.Products = make(map[string]types.CatalogEntry)
	}
	return &cat, nil
}

func (c *Catalog) save(ctx context.Context, category string, cat *categoryCatalog) error {
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return err
	}
	return c.store.Write(ctx, catalogKey(category), data)
}

// allocateID returns the smallest positive integer unused in the category.
func allocateID(cat *categoryCatalog) int {
	used := make(map[int]bool, len(cat.Products))
	for _, e := range cat.Products {
		used[e.ID] = true
	}
	id := 1
	for used[id] {
		id++
	}
	return id
}

// newIdentifier generates the immutable 8-hex product token.
func newIdentifier() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate identifier: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AddResult reports the outcome of AddProduct.
type AddResult struct {
	ProductID  string          `json:"productId"`
	WasCleaned bool            `json:"wasCleaned"`
	Reason     string          `json:"reason,omitempty"`
	Entry      types.CatalogEntry `json:"entry"`
}

// AddProduct normalizes the identity (stripping fabricated variants), computes
// the product id, allocates the numeric id and the 8-hex identifier, writes
// the input file, and upserts the queue entry.
func (c *Catalog) AddProduct(ctx context.Context, category, brand, model, variant string, seedURLs []string) (*types.ProductJob, *AddResult, error) {
	if category == "" {
		return nil, nil, ErrCategoryRequired
	}
	if brand == "" {
		return nil, nil, ErrBrandRequired
	}

	brand, model, variant, norm := NormalizeIdentity(brand, model, variant)
	productID := BuildProductID(category, brand, model, variant)
	if productID == "" || Slugify(model) == "" {
		return nil, nil, ErrSlugRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cat, err := c.load(ctx, category)
	if err != nil {
		return nil, nil, err
	}
	if _, exists := cat.Products[productID]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrProductAlreadyExists, productID)
	}

	identifier, err := newIdentifier()
	if err != nil {
		return nil, nil, err
	}
	entry := types.CatalogEntry{
		ID:         allocateID(cat),
		Identifier: identifier,
		Brand:      brand,
		Model:      model,
		Variant:    variant,
		Status:     "active",
		SeedURLs:   seedURLs,
		AddedAt:    c.now(),
	}
	cat.Products[productID] = entry

	job := &types.ProductJob{
		ProductID: productID,
		Category:  category,
		IdentityLock: types.IdentityLock{
			ID:         entry.ID,
			Identifier: entry.Identifier,
			Brand:      brand,
			Model:      model,
			Variant:    variant,
		},
		SeedURLs: seedURLs,
		Anchors:  map[string]string{},
	}
	jobData, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	if err := c.store.Write(ctx, InputKey(category, productID), jobData); err != nil {
		return nil, nil, err
	}
	if err := c.save(ctx, category, cat); err != nil {
		return nil, nil, err
	}
	if c.queues != nil {
		if err := c.queues.Upsert(ctx, category, productID, nil); err != nil {
			return nil, nil, err
		}
	}

	return job, &AddResult{
		ProductID:  productID,
		WasCleaned: norm.WasCleaned,
		Reason:     norm.Reason,
		Entry:      entry,
	}, nil
}

// Get returns the catalog entry for a product id.
func (c *Catalog) Get(ctx context.Context, category, productID string) (types.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, err := c.load(ctx, category)
	if err != nil {
		return types.CatalogEntry{}, err
	}
	entry, ok := cat.Products[productID]
	if !ok {
		return types.CatalogEntry{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return entry, nil
}

// List returns all product ids in a category, sorted.
func (c *Catalog) List(ctx context.Context, category string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, err := c.load(ctx, category)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cat.Products))
	for id := range cat.Products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoveProduct drops a product from the catalog, deletes its input file and
// queue entry. Run artifacts are left in place for the operator.
func (c *Catalog) RemoveProduct(ctx context.Context, category, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, err := c.load(ctx, category)
	if err != nil {
		return err
	}
	if _, ok := cat.Products[productID]; !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	delete(cat.Products, productID)
	if err := c.save(ctx, category, cat); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, InputKey(category, productID)); err != nil {
		return err
	}
	if c.queues != nil {
		return c.queues.Remove(ctx, category, productID)
	}
	return nil
}

// LoadJob reads the product job input file for a product id.
func (c *Catalog) LoadJob(ctx context.Context, category, productID string) (*types.ProductJob, error) {
	data, err := c.store.Read(ctx, InputKey(category, productID))
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, err
	}
	var job types.ProductJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", productID, err)
	}
	return &job, nil
}
