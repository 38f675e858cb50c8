package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"specfactory/internal/types"
)

// EventLog appends runtime events as NDJSON lines to _runtime/events.jsonl.
// Producers call Emit from any goroutine; a single writer goroutine owns the
// file handle. Timestamps are monotonic per log: a line never carries a
// timestamp earlier than the previous one, even if the wall clock steps back.
type EventLog struct {
	ch     chan types.Event
	done   chan struct{}
	file   *os.File
	mu     sync.Mutex
	lastTS int64
	closed bool
}

// NewEventLog opens (or creates) the event log at path and starts the writer.
func NewEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	l := &EventLog{
		ch:   make(chan types.Event, 256),
		done: make(chan struct{}),
		file: f,
	}
	go l.writeLoop()
	return l, nil
}

func (l *EventLog) writeLoop() {
	defer close(l.done)
	for e := range l.ch {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		line = append(line, '\n')
		if _, err := l.file.Write(line); err != nil {
			fmt.Fprintf(os.Stderr, "eventlog: write failed: %v\n", err)
		}
	}
	_ = l.file.Close()
}

// Emit appends one event. Safe for concurrent use; blocks only when the
// buffer is full.
func (l *EventLog) Emit(level string, kind types.EventKind, productID, runID string, kv map[string]any) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	ts := time.Now().UnixMilli()
	if ts <= l.lastTS {
		ts = l.lastTS + 1
	}
	l.lastTS = ts
	// Send under the lock so file order matches timestamp order.
	l.ch <- types.Event{
		TS:        ts,
		Level:     level,
		Event:     kind,
		ProductID: productID,
		RunID:     runID,
		KV:        kv,
	}
	l.mu.Unlock()
}

// Close drains pending events and closes the file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.ch)
	<-l.done
	return nil
}

// Scoped returns an emitter bound to one product run.
func (l *EventLog) Scoped(productID, runID string) *ScopedEmitter {
	return &ScopedEmitter{log: l, productID: productID, runID: runID}
}

// ScopedEmitter emits events pre-tagged with a product and run id.
type ScopedEmitter struct {
	log       *EventLog
	productID string
	runID     string
}

// Info emits an info-level event.
func (s *ScopedEmitter) Info(kind types.EventKind, kv map[string]any) {
	if s == nil || s.log == nil {
		return
	}
	s.log.Emit("info", kind, s.productID, s.runID, kv)
}

// Warn emits a warn-level event.
func (s *ScopedEmitter) Warn(kind types.EventKind, kv map[string]any) {
	if s == nil || s.log == nil {
		return
	}
	s.log.Emit("warn", kind, s.productID, s.runID, kv)
}

// Error emits an error-level event.
func (s *ScopedEmitter) Error(kind types.EventKind, kv map[string]any) {
	if s == nil || s.log == nil {
		return
	}
	s.log.Emit("error", kind, s.productID, s.runID, kv)
}
