package types

// EventKind names every runtime event the pipeline can append to the run log.
// Keeping these as constants (instead of free-form strings) makes the NDJSON
// log greppable and lets tests assert on exact kinds.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventRunFinished     EventKind = "run_finished"
	EventRunCancelled    EventKind = "run_cancelled"
	EventSourceProcessed EventKind = "source_processed"
	EventSourceError     EventKind = "source_error"
	EventSourceBlocked   EventKind = "source_blocked"
	EventFieldsFilled    EventKind = "fields_filled"
	EventLLMCall         EventKind = "llm_call"
	EventLLMCacheHit     EventKind = "llm_cache_hit"
	EventLLMParseFailure EventKind = "llm_parse_failure"
	EventBudgetExceeded  EventKind = "budget_exceeded"
	EventAuditDemotion   EventKind = "audit_demotion"
	EventAggressivePass  EventKind = "aggressive_pass"
	EventProductAdded    EventKind = "product_added"
	EventProductRenamed  EventKind = "product_renamed"
	EventMigrationError  EventKind = "migration_error"
	EventReconcile       EventKind = "reconcile"
	EventFatal           EventKind = "fatal"
)

// Event is one NDJSON line in _runtime/events.jsonl.
type Event struct {
	TS        int64          `json:"ts"` // unix milliseconds, monotonic per run
	Level     string         `json:"level"`
	Event     EventKind      `json:"event"`
	ProductID string         `json:"productId,omitempty"`
	RunID     string         `json:"runId,omitempty"`
	KV        map[string]any `json:"kv,omitempty"`
}
