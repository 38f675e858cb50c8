package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"specfactory/internal/catalog"
	"specfactory/internal/queue"
)

// inputsPrefix is where product job files land.
const inputsPrefix = "specs/inputs/"

// ParseJobKey splits a job input key (specs/inputs/{category}/products/{id}.json)
// into category and product id.
func ParseJobKey(key string) (category, productID string, err error) {
	rest, ok := strings.CutPrefix(key, inputsPrefix)
	if !ok {
		return "", "", fmt.Errorf("not a job input key: %s", key)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "products" || !strings.HasSuffix(parts[2], ".json") {
		return "", "", fmt.Errorf("malformed job input key: %s", key)
	}
	return parts[0], strings.TrimSuffix(parts[2], ".json"), nil
}

// Daemon watches the inputs tree and runs queued products continuously,
// bounded by the configured concurrency.
type Daemon struct {
	orch   *Orchestrator
	cat    *catalog.Catalog
	queues *queue.StateStore
	log    *zap.Logger

	jobs chan string

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewDaemon wires a daemon around an orchestrator.
func NewDaemon(orch *Orchestrator, cat *catalog.Catalog, queues *queue.StateStore) *Daemon {
	return &Daemon{
		orch:     orch,
		cat:      cat,
		queues:   queues,
		log:      orch.deps.Logger,
		jobs:     make(chan string, 256),
		inFlight: make(map[string]bool),
	}
}

// Run processes the backlog and then watches for new or rewritten job files
// until the context ends. Running products finish before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	backlog, err := d.orch.deps.Store.List(ctx, inputsPrefix)
	if err != nil {
		return fmt.Errorf("scan inputs: %w", err)
	}
	for _, key := range backlog {
		d.submit(key)
	}
	d.log.Info("daemon started", zap.Int("backlog", len(backlog)),
		zap.Int("concurrency", d.orch.deps.Config.Orchestrator.Concurrency))

	watcher, err := d.watchInputs(ctx)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Close()
	}

	g := new(errgroup.Group)
	limit := d.orch.deps.Config.Orchestrator.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for {
		select {
		case <-ctx.Done():
			err := g.Wait()
			d.log.Info("daemon stopped")
			return err
		case key := <-d.jobs:
			g.Go(func() error {
				d.process(ctx, key)
				return nil
			})
		}
	}
}

// watchInputs starts a fsnotify watcher over the local inputs tree. Non-local
// storage has no filesystem to watch; the daemon then only drains the backlog
// plus explicit submissions.
func (d *Daemon) watchInputs(ctx context.Context) (*fsnotify.Watcher, error) {
	root := d.orch.deps.Config.Workspace
	if root == "" || d.orch.deps.Config.OutputMode == "s3" {
		return nil, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Join(root, "specs", "inputs")
	if err := watcher.Add(dir); err != nil {
		// The tree may not exist yet on first boot.
		d.log.Warn("inputs watch unavailable", zap.String("dir", dir), zap.Error(err))
		watcher.Close()
		return nil, nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if d.isCategoryDir(ev.Name) {
					_ = watcher.Add(ev.Name)
					_ = watcher.Add(filepath.Join(ev.Name, "products"))
					continue
				}
				if !strings.HasSuffix(ev.Name, ".json") {
					continue
				}
				if key, ok := d.keyFromPath(ev.Name); ok {
					d.submit(key)
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log.Warn("inputs watcher error", zap.Error(watchErr))
			}
		}
	}()
	return watcher, nil
}

// isCategoryDir reports whether a created path is a category or products
// directory that also needs watching.
func (d *Daemon) isCategoryDir(path string) bool {
	return filepath.Ext(path) == ""
}

// keyFromPath converts an absolute inputs path back to a storage key.
func (d *Daemon) keyFromPath(path string) (string, bool) {
	root := d.orch.deps.Config.Workspace
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	key := filepath.ToSlash(rel)
	if _, _, err := ParseJobKey(key); err != nil {
		return "", false
	}
	return key, true
}

// submit queues a job key unless the same product is already queued or
// running.
func (d *Daemon) submit(key string) {
	if _, _, err := ParseJobKey(key); err != nil {
		return
	}
	d.mu.Lock()
	if d.inFlight[key] {
		d.mu.Unlock()
		return
	}
	d.inFlight[key] = true
	d.mu.Unlock()

	select {
	case d.jobs <- key:
	default:
		// Full buffer: drop the dedupe mark so a later event retries.
		d.mu.Lock()
		delete(d.inFlight, key)
		d.mu.Unlock()
		d.log.Warn("job queue full, dropping", zap.String("key", key))
	}
}

// process runs one product and records the outcome in the queue state.
func (d *Daemon) process(ctx context.Context, key string) {
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, key)
		d.mu.Unlock()
	}()

	category, productID, err := ParseJobKey(key)
	if err != nil {
		return
	}
	job, err := d.cat.LoadJob(ctx, category, productID)
	if err != nil {
		d.log.Warn("job load failed", zap.String("key", key), zap.Error(err))
		return
	}

	_ = d.queues.Upsert(ctx, category, productID, func(e *queue.Entry) {
		e.Status = "running"
		e.Attempts++
	})

	result, err := d.orch.Run(ctx, *job)
	status := "done"
	runID := ""
	switch {
	case err != nil:
		status = "error"
		d.log.Error("run failed", zap.String("productId", productID), zap.Error(err))
	case result.Status == StatusCancelled:
		status = "queued" // partials persisted, run again next cycle
		runID = result.RunID
	default:
		runID = result.RunID
	}
	_ = d.queues.Upsert(ctx, category, productID, func(e *queue.Entry) {
		e.Status = status
		if runID != "" {
			e.LastRunID = runID
		}
	})
}

// RunProduct runs a single job key to completion (the `run --input` path).
func (d *Daemon) RunProduct(ctx context.Context, key string) (*RunResult, error) {
	category, productID, err := ParseJobKey(key)
	if err != nil {
		return nil, err
	}
	job, err := d.cat.LoadJob(ctx, category, productID)
	if err != nil {
		return nil, err
	}
	_ = d.queues.Upsert(ctx, category, productID, func(e *queue.Entry) {
		e.Status = "running"
		e.Attempts++
	})
	result, runErr := d.orch.Run(ctx, *job)
	status := "done"
	if runErr != nil {
		status = "error"
	} else if result.Status == StatusCancelled {
		status = "queued"
	}
	_ = d.queues.Upsert(ctx, category, productID, func(e *queue.Entry) {
		e.Status = status
		if result != nil {
			e.LastRunID = result.RunID
		}
	})
	return result, runErr
}
