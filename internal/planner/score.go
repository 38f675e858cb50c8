package planner

import (
	"net/url"
	"strings"

	"specfactory/internal/types"
)

// Known product directory segments that get a mild boost.
var productDirs = []string{"/mice", "/mouse", "/gaming-mice", "/peripherals", "/gear", "/shop/mice", "/store/mice"}

// Negative path segments; penalized unless a model token appears in the URL.
var negativePaths = []string{"/cart", "/checkout", "/community", "/blog", "/category/"}

// score computes the deterministic priority of a source: base domain intel,
// required-field boost, field rewards from past acceptance, and path
// heuristics. Identical inputs always score identically.
func (p *Planner) score(src types.Source) float64 {
	s := p.intel.domainScore(src.RootDomain)
	s += p.requiredFieldBoost()
	s += p.fieldRewardBoost(src)
	s += p.pathHeuristic(src)
	return s
}

// requiredFieldBoost adds a small amount per still-missing required field,
// capped so field pressure never dominates path heuristics.
func (p *Planner) requiredFieldBoost() float64 {
	if p.rules == nil {
		return 0
	}
	boost := 0.0
	for _, field := range p.rules.RequiredFields() {
		if p.filled[field] {
			continue
		}
		add := p.rules.Helpfulness(field) / 500
		if add > 0.01 {
			add = 0.01
		}
		boost += add
	}
	if boost > 0.2 {
		boost = 0.2
	}
	return boost
}

// fieldRewardBoost blends the historical acceptance reward of this exact path
// (weight 0.7) with the domain-level reward (weight 0.3).
func (p *Planner) fieldRewardBoost(src types.Source) float64 {
	path := urlPath(src.URL)
	reward := 0.7*p.intel.pathReward(src.RootDomain+path) + 0.3*p.intel.domainReward(src.RootDomain)
	if reward > 0.5 {
		reward = 0.5
	}
	if reward < -0.5 {
		reward = -0.5
	}
	return reward
}

func (p *Planner) pathHeuristic(src types.Source) float64 {
	u, err := url.Parse(src.URL)
	if err != nil {
		return 0
	}
	path := strings.ToLower(u.Path)
	lowered := strings.ToLower(src.URL)

	// Robots and sitemaps feed discovery but must not preempt product pages.
	if strings.HasSuffix(path, "/robots.txt") || strings.Contains(path, "sitemap") {
		return -0.4
	}

	s := 0.0
	switch {
	case strings.Contains(path, "/products/") || strings.Contains(path, "/product/"):
		s += 0.28
	case hasProductDir(path):
		s += 0.18
	}
	if strings.HasSuffix(path, ".pdf") && src.Role == types.RoleManufacturer {
		s += 0.12
	}
	if path == "" || path == "/" || strings.Contains(path, "/search") || strings.Contains(u.RawQuery, "q=") {
		s -= 0.35
	}
	if !p.hasModelToken(lowered) {
		for _, neg := range negativePaths {
			if strings.Contains(path, neg) {
				s -= 0.25
				break
			}
		}
	}
	return s
}

func hasProductDir(path string) bool {
	for _, dir := range productDirs {
		if strings.Contains(path, dir) {
			return true
		}
	}
	return false
}

// hasModelToken reports whether the URL carries enough model tokens to be
// considered relevant: at least one, or at least two when the model has three
// or more tokens.
func (p *Planner) hasModelToken(lowered string) bool {
	if len(p.tokens) == 0 {
		return false
	}
	matched := 0
	for _, tok := range p.tokens {
		if strings.Contains(lowered, tok) {
			matched++
		}
	}
	if len(p.tokens) >= 3 {
		return matched >= 2
	}
	return matched >= 1
}

func (in *Intel) domainScore(domain string) float64 {
	if in == nil || in.DomainScores == nil {
		return 0
	}
	return in.DomainScores[domain]
}

func (in *Intel) pathReward(key string) float64 {
	if in == nil || in.PathRewards == nil {
		return 0
	}
	return in.PathRewards[key]
}

func (in *Intel) domainReward(domain string) float64 {
	if in == nil || in.DomainRewards == nil {
		return 0
	}
	return in.DomainRewards[domain]
}
