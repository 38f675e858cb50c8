package planner

import (
	"context"
	"testing"

	"specfactory/internal/storage"
	"specfactory/internal/types"
)

func TestLoadInputs(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	// A fresh workspace has no input files: everything comes back empty.
	in, err := LoadInputs(ctx, store, "mouse")
	if err != nil {
		t.Fatalf("LoadInputs empty: %v", err)
	}
	if len(in.Allowlist) != 0 || len(in.Denied) != 0 {
		t.Fatalf("empty inputs = %+v", in)
	}
	if in.Intel == nil {
		t.Fatal("intel must never be nil")
	}

	_ = store.Write(ctx, AllowlistKey("mouse"), []byte(`{"rtings.com": {"tier": 2, "role": "review"}}`))
	_ = store.Write(ctx, DeniedHostsKey("mouse"), []byte(`["WWW.Spam.Example.com:443"]`))
	_ = store.Write(ctx, IntelKey("mouse"), []byte(`{
  "domainScores": {"rtings.com": 0.4},
  "knownUrls": ["https://rtings.com/razer-deathadder-v3"]
}`))

	in, err = LoadInputs(ctx, store, "mouse")
	if err != nil {
		t.Fatalf("LoadInputs: %v", err)
	}
	prof, ok := in.Allowlist["rtings.com"]
	if !ok || prof.Tier != 2 || prof.Role != types.RoleReview {
		t.Fatalf("allowlist profile = %+v ok=%v", prof, ok)
	}
	// Denied hosts are normalized (lowercase, no www, no port).
	if !in.Denied["spam.example.com"] {
		t.Fatalf("denied = %+v", in.Denied)
	}
	if in.Intel.DomainScores["rtings.com"] != 0.4 {
		t.Fatalf("domain scores = %+v", in.Intel.DomainScores)
	}
	if len(in.Intel.KnownURLs) != 1 {
		t.Fatalf("known urls = %+v", in.Intel.KnownURLs)
	}
}

func TestLoadInputs_CorruptFileIsAnError(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	_ = store.Write(ctx, AllowlistKey("mouse"), []byte(`{`))
	if _, err := LoadInputs(ctx, store, "mouse"); err == nil {
		t.Fatal("corrupt allowlist accepted")
	}
}
