package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"specfactory/internal/types"
)

func TestEventLog_AppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "_runtime", "events.jsonl")
	log, err := NewEventLog(path)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}

	em := log.Scoped("mouse-razer-viper-v3-pro", "run-1")
	em.Info(types.EventRunStarted, nil)
	em.Info(types.EventSourceProcessed, map[string]any{"url": "https://razer.com/p"})
	em.Warn(types.EventSourceError, map[string]any{"status": 503})
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var events []types.Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e types.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		events = append(events, e)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Event != types.EventRunStarted || events[0].ProductID != "mouse-razer-viper-v3-pro" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[2].Level != "warn" {
		t.Fatalf("third event level = %q, want warn", events[2].Level)
	}
}

func TestEventLog_MonotonicTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewEventLog(path)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Emit("info", types.EventFieldsFilled, "p", "r", nil)
			}
		}()
	}
	wg.Wait()
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var prev int64
	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e types.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line: %v", err)
		}
		if e.TS < prev {
			t.Fatalf("timestamp went backwards: %d after %d", e.TS, prev)
		}
		prev = e.TS
		count++
	}
	if count != 400 {
		t.Fatalf("got %d lines, want 400", count)
	}
}

func TestEventLog_EmitAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewEventLog(path)
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Must not panic on the closed channel.
	log.Emit("info", types.EventRunFinished, "p", "r", nil)
}
