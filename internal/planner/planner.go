// Package planner implements the identity-gated source planner: three ranked
// queues (manufacturer, approved, candidate) with per-host and per-lane
// budgets, deterministic priority scoring, and discovery hooks for HTML links,
// robots.txt and sitemaps. The planner is per-product and not goroutine-safe;
// each product run owns one instance.
package planner

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"specfactory/internal/config"
	"specfactory/internal/rules"
	"specfactory/internal/types"
)

// Lane names, processed in this order.
const (
	LaneManufacturer = "manufacturer"
	LaneApproved     = "approved"
	LaneCandidate    = "candidate"
)

// Enqueue rejection reasons.
const (
	RejectScheme      = "non_http_scheme"
	RejectDenied      = "host_denied"
	RejectBlocked     = "host_blocked"
	RejectSeen        = "already_seen"
	RejectBrandHost   = "brand_host_restricted"
	RejectLaneBudget  = "lane_budget_exhausted"
	RejectHostBudget  = "host_budget_exhausted"
	RejectTotalBudget = "total_budget_exhausted"
)

// DomainProfile is one allowlist entry: the authority tier and role assigned
// to a root domain for this category.
type DomainProfile struct {
	Tier int              `json:"tier"`
	Role types.SourceRole `json:"role"`
}

// Intel carries historical planner intelligence: base domain scores,
// field-reward weights learned from past accepted candidates, and URLs that
// produced accepted candidates on earlier runs.
type Intel struct {
	DomainScores  map[string]float64 `json:"domainScores"`
	PathRewards   map[string]float64 `json:"pathRewards"`
	DomainRewards map[string]float64 `json:"domainRewards"`
	KnownURLs     []string           `json:"knownUrls"`
}

// EnqueueOptions tweak a single enqueue decision.
type EnqueueOptions struct {
	ForceApproved    bool
	ForceBrandBypass bool
	SitemapContext   bool
	Role             types.SourceRole
	Tier             int
}

// Planner holds the per-product source queues.
type Planner struct {
	cfg    config.PlannerConfig
	rules  *rules.Engine
	job    types.ProductJob
	intel  *Intel
	tokens []string // model tokens for relevance filtering

	allowlist map[string]DomainProfile // by root domain
	denied    map[string]bool
	brandHost string

	lanes   map[string][]types.Source
	seen    map[string]bool   // canonical URLs, queued and already popped
	blocked map[string]string // host -> reason
	filled  map[string]bool   // fields already filled this run

	hostCounts map[string]int // per host, per lane accounting key "lane|host"
	seq        int

	// pop counters per lane, so budgets cover the whole run rather than the
	// queue's current length
	visitedManufacturer int
	visitedApproved     int
	visitedCandidates   int
}

// New builds a planner for one product run.
func New(cfg config.PlannerConfig, eng *rules.Engine, job types.ProductJob, allowlist map[string]DomainProfile, denied map[string]bool, intel *Intel) *Planner {
	if intel == nil {
		intel = &Intel{}
	}
	return &Planner{
		cfg:        cfg,
		rules:      eng,
		job:        job,
		intel:      intel,
		tokens:     modelTokens(job.IdentityLock.Model),
		allowlist:  allowlist,
		denied:     denied,
		brandHost:  brandHostSlug(job.IdentityLock.Brand),
		lanes:      map[string][]types.Source{LaneManufacturer: nil, LaneApproved: nil, LaneCandidate: nil},
		seen:       make(map[string]bool),
		blocked:    make(map[string]string),
		filled:     make(map[string]bool),
		hostCounts: make(map[string]int),
	}
}

// Enqueue applies the admission policy and inserts an accepted URL into its
// lane, sorted by priority. Returns the acceptance and a reject reason.
func (p *Planner) Enqueue(rawURL, discoveredFrom string, opts EnqueueOptions) (bool, string) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false, RejectScheme
	}
	u.Fragment = ""
	canonical := u.String()
	host := normalizeHost(u.Host)
	root := rootDomain(host)

	if p.denied[host] || p.denied[root] {
		return false, RejectDenied
	}
	if _, ok := p.blocked[host]; ok {
		return false, RejectBlocked
	}
	if p.seen[canonical] {
		return false, RejectSeen
	}

	profile, inAllowlist := p.lookupProfile(host, root)
	role := opts.Role
	tier := opts.Tier
	if role == "" {
		role = profile.Role
	}
	if tier == 0 {
		tier = profile.Tier
	}
	if role == "" || tier == 0 {
		if p.isBrandHost(host, root) {
			role, tier = types.RoleManufacturer, 1
		} else {
			role, tier = types.RoleOther, 5
		}
	}

	approved := inAllowlist || opts.ForceApproved || role == types.RoleManufacturer
	lane := LaneApproved
	if role == types.RoleManufacturer {
		lane = LaneManufacturer
		if p.cfg.RestrictBrandHosts && !p.isBrandHost(host, root) && !opts.ForceBrandBypass {
			return false, RejectBrandHost
		}
	}

	if approved {
		if ok, reason := p.admitApproved(lane, host); !ok {
			// Lane is full: a non-allowlist URL may still ride the candidate queue.
			if p.cfg.FetchCandidateSources && !inAllowlist && lane != LaneManufacturer {
				return p.admitCandidate(u, canonical, host, root, role, tier, discoveredFrom)
			}
			return false, reason
		}
	} else {
		if !p.cfg.FetchCandidateSources {
			return false, RejectLaneBudget
		}
		return p.admitCandidate(u, canonical, host, root, role, tier, discoveredFrom)
	}

	p.insert(lane, p.newSource(u, canonical, host, root, role, tier, approved, false, discoveredFrom))
	return true, ""
}

func (p *Planner) admitApproved(lane, host string) (bool, string) {
	total := len(p.lanes[LaneManufacturer]) + len(p.lanes[LaneApproved]) + p.countVisitedApproved()
	if total >= p.cfg.MaxURLsPerProduct {
		return false, RejectTotalBudget
	}
	if lane == LaneManufacturer {
		if p.laneSize(LaneManufacturer) >= p.cfg.MaxManufacturerURLsPerProduct {
			return false, RejectLaneBudget
		}
		if p.hostCounts[LaneManufacturer+"|"+host] >= p.cfg.MaxManufacturerPagesPerDomain {
			return false, RejectHostBudget
		}
		return true, ""
	}
	// The approved lane must leave room for the manufacturer reservation.
	reserveGap := p.cfg.ManufacturerReserveURLs - p.laneSize(LaneManufacturer)
	if reserveGap < 0 {
		reserveGap = 0
	}
	if p.cfg.MaxURLsPerProduct-total <= reserveGap {
		return false, RejectTotalBudget
	}
	if p.hostCounts[LaneApproved+"|"+host] >= p.cfg.MaxPagesPerDomain {
		return false, RejectHostBudget
	}
	return true, ""
}

func (p *Planner) admitCandidate(u *url.URL, canonical, host, root string, role types.SourceRole, tier int, discoveredFrom string) (bool, string) {
	if len(p.lanes[LaneCandidate])+p.visitedCandidates >= p.cfg.MaxCandidateURLs {
		return false, RejectLaneBudget
	}
	if p.hostCounts[LaneCandidate+"|"+host] >= p.cfg.MaxPagesPerDomain {
		return false, RejectHostBudget
	}
	p.insert(LaneCandidate, p.newSource(u, canonical, host, root, role, tier, false, true, discoveredFrom))
	return true, ""
}

func (p *Planner) newSource(u *url.URL, canonical, host, root string, role types.SourceRole, tier int, approved, candidate bool, discoveredFrom string) types.Source {
	p.seq++
	src := types.Source{
		URL:             canonical,
		Host:            host,
		RootDomain:      root,
		Tier:            tier,
		TierName:        types.TierNames[tier],
		Role:            role,
		ApprovedDomain:  approved,
		CandidateSource: candidate,
		DiscoveredFrom:  discoveredFrom,
		SourceID:        fmt.Sprintf("src-%03d", p.seq),
	}
	src.PriorityScore = p.score(src)
	return src
}

// insert places the source into its lane keeping the lane sorted, and marks
// the URL and the host budget as consumed.
func (p *Planner) insert(lane string, src types.Source) {
	p.seen[src.URL] = true
	p.hostCounts[lane+"|"+src.Host]++
	p.lanes[lane] = append(p.lanes[lane], src)
	p.sortLane(lane)
}

func (p *Planner) sortLane(lane string) {
	items := p.lanes[lane]
	if lane == LaneManufacturer {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].PriorityScore != items[j].PriorityScore {
				return items[i].PriorityScore > items[j].PriorityScore
			}
			pi, pj := urlPath(items[i].URL), urlPath(items[j].URL)
			if pi != pj {
				return pi < pj
			}
			return items[i].URL < items[j].URL
		})
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Tier != items[j].Tier {
			return items[i].Tier < items[j].Tier
		}
		if items[i].PriorityScore != items[j].PriorityScore {
			return items[i].PriorityScore > items[j].PriorityScore
		}
		return items[i].URL < items[j].URL
	})
}

func (p *Planner) laneSize(lane string) int {
	n := len(p.lanes[lane])
	if lane == LaneManufacturer {
		n += p.visitedManufacturer
	} else if lane == LaneApproved {
		n += p.visitedApproved
	}
	return n
}

func (p *Planner) countVisitedApproved() int {
	return p.visitedManufacturer + p.visitedApproved
}

// Next pops the highest-priority source, honoring the lane order
// manufacturer -> approved -> candidate. Popped URLs stay in seen, so they
// are never re-enqueued.
func (p *Planner) Next() (types.Source, bool) {
	for _, lane := range []string{LaneManufacturer, LaneApproved, LaneCandidate} {
		items := p.lanes[lane]
		if len(items) == 0 {
			continue
		}
		src := items[0]
		p.lanes[lane] = items[1:]
		switch lane {
		case LaneManufacturer:
			p.visitedManufacturer++
		case LaneApproved:
			p.visitedApproved++
		case LaneCandidate:
			p.visitedCandidates++
		}
		return src, true
	}
	return types.Source{}, false
}

// Pending reports the total queued URL count across lanes.
func (p *Planner) Pending() int {
	return len(p.lanes[LaneManufacturer]) + len(p.lanes[LaneApproved]) + len(p.lanes[LaneCandidate])
}

// MarkFieldsFilled records newly filled fields and re-scores every lane, since
// required-field boosts shift when gaps close.
func (p *Planner) MarkFieldsFilled(fields []string) {
	changed := false
	for _, f := range fields {
		if !p.filled[f] {
			p.filled[f] = true
			changed = true
		}
	}
	if !changed {
		return
	}
	for lane, items := range p.lanes {
		for i := range items {
			items[i].PriorityScore = p.score(items[i])
		}
		p.sortLane(lane)
	}
}

// BlockHost blocks a host for the rest of the run and drops its queued URLs.
func (p *Planner) BlockHost(host, reason string) {
	host = normalizeHost(host)
	p.blocked[host] = reason
	for lane, items := range p.lanes {
		kept := items[:0]
		for _, src := range items {
			if src.Host != host {
				kept = append(kept, src)
			}
		}
		p.lanes[lane] = kept
	}
}

func (p *Planner) lookupProfile(host, root string) (DomainProfile, bool) {
	if prof, ok := p.allowlist[host]; ok {
		return prof, true
	}
	prof, ok := p.allowlist[root]
	return prof, ok
}

func (p *Planner) isBrandHost(host, root string) bool {
	if p.brandHost == "" {
		return false
	}
	return strings.Contains(host, p.brandHost) || strings.Contains(root, p.brandHost)
}

type snapshot struct {
	Lanes      map[string][]types.Source `json:"lanes"`
	Seen       []string                  `json:"seen"`
	Blocked    map[string]string         `json:"blocked"`
	Filled     []string                  `json:"filled"`
	Seq        int                       `json:"seq"`
	HostCounts map[string]int            `json:"hostCounts"`
	Popped     map[string]int            `json:"popped"`
}

// Snapshot serializes the planner state so a daemon can resume a run.
func (p *Planner) Snapshot() ([]byte, error) {
	s := snapshot{
		Lanes:      p.lanes,
		Blocked:    p.blocked,
		Seq:        p.seq,
		HostCounts: p.hostCounts,
		Popped: map[string]int{
			LaneManufacturer: p.visitedManufacturer,
			LaneApproved:     p.visitedApproved,
			LaneCandidate:    p.visitedCandidates,
		},
	}
	for u := range p.seen {
		s.Seen = append(s.Seen, u)
	}
	sort.Strings(s.Seen)
	for f := range p.filled {
		s.Filled = append(s.Filled, f)
	}
	sort.Strings(s.Filled)
	return json.MarshalIndent(s, "", "  ")
}

// Restore loads a snapshot produced by Snapshot.
func (p *Planner) Restore(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("restore planner state: %w", err)
	}
	p.lanes = s.Lanes
	if p.lanes == nil {
		p.lanes = map[string][]types.Source{LaneManufacturer: nil, LaneApproved: nil, LaneCandidate: nil}
	}
	p.blocked = s.Blocked
	if p.blocked == nil {
		p.blocked = make(map[string]string)
	}
	p.seen = make(map[string]bool, len(s.Seen))
	for _, u := range s.Seen {
		p.seen[u] = true
	}
	p.filled = make(map[string]bool, len(s.Filled))
	for _, f := range s.Filled {
		p.filled[f] = true
	}
	p.seq = s.Seq
	p.hostCounts = s.HostCounts
	if p.hostCounts == nil {
		p.hostCounts = make(map[string]int)
	}
	p.visitedManufacturer = s.Popped[LaneManufacturer]
	p.visitedApproved = s.Popped[LaneApproved]
	p.visitedCandidates = s.Popped[LaneCandidate]
	return nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return host
}

// rootDomain keeps the last two labels of a host. Multi-part public suffixes
// (co.uk) keep three.
func rootDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	keep := 2
	second := parts[len(parts)-2]
	if len(second) <= 3 && (second == "co" || second == "com" || second == "org" || second == "net" || second == "gov" || second == "ac") {
		keep = 3
	}
	if len(parts) < keep {
		keep = len(parts)
	}
	return strings.Join(parts[len(parts)-keep:], ".")
}

func brandHostSlug(brand string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(brand) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func urlPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	return raw
}

func modelTokens(model string) []string {
	var tokens []string
	for _, tok := range strings.Fields(strings.ToLower(model)) {
		cleaned := strings.Trim(tok, ".,()-")
		if cleaned != "" {
			tokens = append(tokens, cleaned)
		}
	}
	return tokens
}
