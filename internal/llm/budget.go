package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"specfactory/internal/types"
)

// usageKey is where monthly LLM spend is persisted.
const usageKey = "helper_files/_global/llm_usage.json"

// Per-million-token prices in USD, by model prefix.
var modelPrices = map[string]struct{ input, output float64 }{
	"gemini-2.5-flash": {0.30, 2.50},
	"gemini-2.5-pro":   {1.25, 10.00},
}

// EstimateCost returns the USD cost of one call.
func EstimateCost(model string, usage types.UsageMetadata) float64 {
	for prefix, price := range modelPrices {
		if strings.HasPrefix(model, prefix) {
			return float64(usage.InputTokens)/1e6*price.input +
				float64(usage.OutputTokens)/1e6*price.output
		}
	}
	// Unknown model: assume the expensive tier.
	return float64(usage.InputTokens)/1e6*1.25 + float64(usage.OutputTokens)/1e6*10.00
}

// MonthlyUsage is the persisted spend record for one calendar month.
type MonthlyUsage struct {
	Month        string  `json:"month"` // 2026-08
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// UsageTracker persists monthly spend through the storage capability. It is
// shared by concurrent product runs.
type UsageTracker struct {
	store types.Storage
	mu    sync.Mutex
	usage MonthlyUsage
	now   func() time.Time
}

// NewUsageTracker loads (or initializes) the current month's usage.
func NewUsageTracker(ctx context.Context, store types.Storage) (*UsageTracker, error) {
	t := &UsageTracker{store: store, now: time.Now}
	data, err := store.Read(ctx, usageKey)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			t.usage.Month = t.currentMonth()
			return t, nil
		}
		return nil, fmt.Errorf("load llm usage: %w", err)
	}
	if err := json.Unmarshal(data, &t.usage); err != nil {
		return nil, fmt.Errorf("parse llm usage: %w", err)
	}
	if t.usage.Month != t.currentMonth() {
		t.usage = MonthlyUsage{Month: t.currentMonth()}
	}
	return t, nil
}

func (t *UsageTracker) currentMonth() string {
	return t.now().UTC().Format("2006-01")
}

// Record adds one call's usage and persists the record.
func (t *UsageTracker) Record(ctx context.Context, model string, usage types.UsageMetadata) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.usage.Month != t.currentMonth() {
		t.usage = MonthlyUsage{Month: t.currentMonth()}
	}
	cost := EstimateCost(model, usage)
	t.usage.Calls++
	t.usage.InputTokens += int64(usage.InputTokens)
	t.usage.OutputTokens += int64(usage.OutputTokens)
	t.usage.CostUSD += cost

	data, err := json.MarshalIndent(t.usage, "", "  ")
	if err != nil {
		return cost, err
	}
	return cost, t.store.Write(ctx, usageKey, data)
}

// MonthCost returns the current month's accumulated spend.
func (t *UsageTracker) MonthCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage.CostUSD
}

// Budget denial reasons.
const (
	DenyRoundBudget   = "round_call_budget"
	DenyProductBudget = "product_call_budget"
	DenyProductUSD    = "product_usd_budget"
	DenyMonthlyUSD    = "monthly_usd_budget"
)

// BudgetGuard enforces per-round and per-product call limits plus USD
// ceilings. One guard serves one product run.
type BudgetGuard struct {
	MaxCallsPerRound   int
	MaxCallsPerProduct int
	ProductBudgetUSD   float64
	MonthlyBudgetUSD   float64

	tracker      *UsageTracker
	roundCalls   int
	productCalls int
	productCost  float64
}

// NewBudgetGuard creates a guard backed by the shared usage tracker.
func NewBudgetGuard(tracker *UsageTracker, perRound, perProduct int, productUSD, monthlyUSD float64) *BudgetGuard {
	return &BudgetGuard{
		MaxCallsPerRound:   perRound,
		MaxCallsPerProduct: perProduct,
		ProductBudgetUSD:   productUSD,
		MonthlyBudgetUSD:   monthlyUSD,
		tracker:            tracker,
	}
}

// Allow reports whether another call fits the budgets.
func (b *BudgetGuard) Allow() (bool, string) {
	if b.MaxCallsPerRound > 0 && b.roundCalls >= b.MaxCallsPerRound {
		return false, DenyRoundBudget
	}
	if b.MaxCallsPerProduct > 0 && b.productCalls >= b.MaxCallsPerProduct {
		return false, DenyProductBudget
	}
	if b.ProductBudgetUSD > 0 && b.productCost >= b.ProductBudgetUSD {
		return false, DenyProductUSD
	}
	if b.MonthlyBudgetUSD > 0 && b.tracker != nil && b.tracker.MonthCost() >= b.MonthlyBudgetUSD {
		return false, DenyMonthlyUSD
	}
	return true, ""
}

// RecordCall accounts one completed call.
func (b *BudgetGuard) RecordCall(cost float64) {
	b.roundCalls++
	b.productCalls++
	b.productCost += cost
}

// ResetRound clears the per-round counter at each source boundary.
func (b *BudgetGuard) ResetRound() { b.roundCalls = 0 }

// ProductCalls reports the calls spent on this product so far.
func (b *BudgetGuard) ProductCalls() int { return b.productCalls }
