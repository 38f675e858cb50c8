package planner

import (
	"strings"
	"testing"

	"specfactory/internal/config"
	"specfactory/internal/rules"
	"specfactory/internal/types"
)

func testJob() types.ProductJob {
	return types.ProductJob{
		ProductID: "mouse-razer-deathadder-v3",
		Category:  "mouse",
		IdentityLock: types.IdentityLock{
			Brand: "Razer",
			Model: "DeathAdder V3",
		},
	}
}

func newTestPlanner(cfg config.PlannerConfig, allowlist map[string]DomainProfile, denied map[string]bool) *Planner {
	return New(cfg, rules.Default(), testJob(), allowlist, denied, nil)
}

func TestEnqueue_ProductPageOutranksHomePage(t *testing.T) {
	p := newTestPlanner(config.DefaultConfig().Planner, nil, nil)

	if ok, reason := p.Enqueue("https://razer.com/", "seed", EnqueueOptions{}); !ok {
		t.Fatalf("home page rejected: %s", reason)
	}
	if ok, reason := p.Enqueue("https://razer.com/products/deathadder-v3", "seed", EnqueueOptions{}); !ok {
		t.Fatalf("product page rejected: %s", reason)
	}

	first, ok := p.Next()
	if !ok {
		t.Fatal("empty queue")
	}
	if !strings.Contains(first.URL, "/products/deathadder-v3") {
		t.Fatalf("dequeued %s first", first.URL)
	}
	second, _ := p.Next()
	if first.PriorityScore <= second.PriorityScore {
		t.Fatalf("scores: product %v <= home %v", first.PriorityScore, second.PriorityScore)
	}
}

func TestEnqueue_AdmissionChecks(t *testing.T) {
	cfg := config.DefaultConfig().Planner
	p := newTestPlanner(cfg, map[string]DomainProfile{
		"rtings.com": {Tier: 2, Role: types.RoleReview},
	}, map[string]bool{"spam.example.com": true})

	if ok, reason := p.Enqueue("ftp://rtings.com/mouse", "seed", EnqueueOptions{}); ok || reason != RejectScheme {
		t.Fatalf("scheme: ok=%v reason=%s", ok, reason)
	}
	if ok, reason := p.Enqueue("https://spam.example.com/deathadder", "seed", EnqueueOptions{}); ok || reason != RejectDenied {
		t.Fatalf("denied: ok=%v reason=%s", ok, reason)
	}

	p.BlockHost("rtings.com", "cooldown")
	if ok, reason := p.Enqueue("https://rtings.com/reviews/deathadder-v3", "seed", EnqueueOptions{}); ok || reason != RejectBlocked {
		t.Fatalf("blocked: ok=%v reason=%s", ok, reason)
	}

	p2 := newTestPlanner(cfg, map[string]DomainProfile{"rtings.com": {Tier: 2, Role: types.RoleReview}}, nil)
	url := "https://rtings.com/reviews/deathadder-v3"
	if ok, _ := p2.Enqueue(url, "seed", EnqueueOptions{}); !ok {
		t.Fatal("first enqueue rejected")
	}
	if ok, reason := p2.Enqueue(url+"#specs", "seed", EnqueueOptions{}); ok || reason != RejectSeen {
		t.Fatalf("duplicate (fragment-stripped): ok=%v reason=%s", ok, reason)
	}
}

func TestEnqueue_ManufacturerReservation(t *testing.T) {
	cfg := config.DefaultConfig().Planner
	cfg.MaxURLsPerProduct = 4
	cfg.ManufacturerReserveURLs = 2
	cfg.MaxPagesPerDomain = 10
	p := newTestPlanner(cfg, map[string]DomainProfile{
		"rtings.com": {Tier: 2, Role: types.RoleReview},
	}, nil)

	accepted := 0
	for _, u := range []string{
		"https://rtings.com/reviews/deathadder-v3",
		"https://rtings.com/reviews/deathadder-v3-se",
		"https://rtings.com/reviews/deathadder-v3-hyperspeed",
	} {
		if ok, _ := p.Enqueue(u, "seed", EnqueueOptions{}); ok {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("approved lane accepted %d, want 2 (reserve kept)", accepted)
	}

	// The reserved slots remain available to the manufacturer lane.
	for _, u := range []string{
		"https://razer.com/products/deathadder-v3",
		"https://razer.com/support/deathadder-v3",
	} {
		if ok, reason := p.Enqueue(u, "seed", EnqueueOptions{}); !ok {
			t.Fatalf("manufacturer url rejected: %s", reason)
		}
	}
}

func TestEnqueue_BrandHostRestriction(t *testing.T) {
	cfg := config.DefaultConfig().Planner
	p := newTestPlanner(cfg, nil, nil)

	ok, reason := p.Enqueue("https://shady-clone.com/deathadder", "seed",
		EnqueueOptions{Role: types.RoleManufacturer, Tier: 1})
	if ok || reason != RejectBrandHost {
		t.Fatalf("off-brand manufacturer: ok=%v reason=%s", ok, reason)
	}
	ok, _ = p.Enqueue("https://shady-clone.com/deathadder", "seed",
		EnqueueOptions{Role: types.RoleManufacturer, Tier: 1, ForceBrandBypass: true})
	if !ok {
		t.Fatal("bypass did not admit")
	}
}

func TestEnqueue_CandidateLaneBudget(t *testing.T) {
	cfg := config.DefaultConfig().Planner
	cfg.MaxCandidateURLs = 2
	p := newTestPlanner(cfg, nil, nil)

	urls := []string{
		"https://randomblog.net/deathadder-v3-review",
		"https://forum.example.org/threads/deathadder-v3",
		"https://another.example.io/deathadder-v3",
	}
	accepted := 0
	for _, u := range urls {
		if ok, _ := p.Enqueue(u, "discovery", EnqueueOptions{}); ok {
			accepted++
		}
	}
	if accepted != 2 {
		t.Fatalf("candidate lane accepted %d, want 2", accepted)
	}
	src, _ := p.Next()
	if !src.CandidateSource {
		t.Fatalf("candidate flag missing: %+v", src)
	}
}

func TestLaneOrder_ManufacturerFirst(t *testing.T) {
	cfg := config.DefaultConfig().Planner
	p := newTestPlanner(cfg, map[string]DomainProfile{
		"rtings.com": {Tier: 2, Role: types.RoleReview},
	}, nil)

	_, _ = p.Enqueue("https://rtings.com/reviews/deathadder-v3", "seed", EnqueueOptions{})
	_, _ = p.Enqueue("https://razer.com/products/deathadder-v3", "seed", EnqueueOptions{})
	_, _ = p.Enqueue("https://randomblog.net/deathadder-v3", "seed", EnqueueOptions{})

	src, _ := p.Next()
	if src.Role != types.RoleManufacturer {
		t.Fatalf("first pop = %+v", src)
	}
	src, _ = p.Next()
	if src.Host != "rtings.com" {
		t.Fatalf("second pop = %+v", src)
	}
	src, _ = p.Next()
	if !src.CandidateSource {
		t.Fatalf("third pop = %+v", src)
	}
}

func TestMarkFieldsFilled_LowersScores(t *testing.T) {
	p := newTestPlanner(config.DefaultConfig().Planner, nil, nil)
	_, _ = p.Enqueue("https://razer.com/products/deathadder-v3", "seed", EnqueueOptions{})

	before := p.lanes[LaneManufacturer][0].PriorityScore
	p.MarkFieldsFilled(rules.Default().RequiredFields())
	after := p.lanes[LaneManufacturer][0].PriorityScore
	if after >= before {
		t.Fatalf("score did not drop after filling: %v -> %v", before, after)
	}
}

func TestScore_Deterministic(t *testing.T) {
	p := newTestPlanner(config.DefaultConfig().Planner, nil, nil)
	src := types.Source{
		URL:        "https://razer.com/products/deathadder-v3",
		Host:       "razer.com",
		RootDomain: "razer.com",
		Role:       types.RoleManufacturer,
		Tier:       1,
	}
	if a, b := p.score(src), p.score(src); a != b {
		t.Fatalf("score not deterministic: %v vs %v", a, b)
	}
}

func TestDiscoverFromRobots(t *testing.T) {
	p := newTestPlanner(config.DefaultConfig().Planner, nil, nil)
	body := "User-agent: *\nDisallow: /cart\nSitemap: https://razer.com/sitemap.xml\n"
	if got := p.DiscoverFromRobots("https://razer.com/robots.txt", body); got != 1 {
		t.Fatalf("accepted = %d", got)
	}
	// The sitemap is queued but scored below product pages.
	_, _ = p.Enqueue("https://razer.com/products/deathadder-v3", "seed", EnqueueOptions{})
	src, _ := p.Next()
	if strings.Contains(src.URL, "sitemap") {
		t.Fatalf("sitemap dequeued before product page: %s", src.URL)
	}
}

func TestDiscoverFromSitemap_FiltersByModelTokens(t *testing.T) {
	p := newTestPlanner(config.DefaultConfig().Planner, nil, nil)
	body := `<urlset>
<url><loc>https://razer.com/products/deathadder-v3</loc></url>
<url><loc>https://razer.com/products/basilisk-ultimate</loc></url>
<url><loc>https://razer.com/careers</loc></url>
</urlset>`
	got := p.DiscoverFromSitemap("https://razer.com/sitemap.xml", body)
	if got != 1 {
		t.Fatalf("accepted = %d, want only the deathadder url", got)
	}
}

func TestDiscoverFromHTML(t *testing.T) {
	p := newTestPlanner(config.DefaultConfig().Planner, nil, nil)
	body := `<html><body>
<a href="/products/deathadder-v3">DeathAdder V3</a>
<a href="/cart">Cart</a>
<a href="/styles/site.css">css</a>
<a href="https://razer.com/products/deathadder-v3-hyperspeed">HyperSpeed</a>
</body></html>`
	got := p.DiscoverFromHTML("https://razer.com/mice", body)
	if got != 2 {
		t.Fatalf("accepted = %d, want 2", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	cfg := config.DefaultConfig().Planner
	p := newTestPlanner(cfg, nil, nil)
	_, _ = p.Enqueue("https://razer.com/products/deathadder-v3", "seed", EnqueueOptions{})
	_, _ = p.Enqueue("https://razer.com/support/deathadder-v3", "seed", EnqueueOptions{})
	first, _ := p.Next()
	p.BlockHost("spam.example.com", "manual")

	data, err := p.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	restored := newTestPlanner(cfg, nil, nil)
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if restored.Pending() != 1 {
		t.Fatalf("pending = %d", restored.Pending())
	}
	// The popped URL stays seen after restore.
	if ok, reason := restored.Enqueue(first.URL, "seed", EnqueueOptions{}); ok || reason != RejectSeen {
		t.Fatalf("re-enqueue after restore: ok=%v reason=%s", ok, reason)
	}
	if ok, reason := restored.Enqueue("https://spam.example.com/x-deathadder", "seed", EnqueueOptions{}); ok || reason != RejectBlocked {
		t.Fatalf("blocked lost in restore: ok=%v reason=%s", ok, reason)
	}
}
