package planner

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const sitemapLocCap = 3000

var assetExtensions = []string{
	".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	".webp", ".ico", ".woff", ".woff2", ".ttf", ".mp4", ".zip",
}

// DiscoverFromHTML scans a fetched page for href links and enqueues the ones
// that pass the relevance filter. Returns the number of accepted URLs.
func (p *Planner) DiscoverFromHTML(baseURL, body string) int {
	base, err := url.Parse(baseURL)
	if err != nil {
		return 0
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return 0
	}

	manufacturer := p.isBrandHost(normalizeHost(base.Host), rootDomain(normalizeHost(base.Host)))
	accepted := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(a.Val))
				if err != nil {
					continue
				}
				resolved := base.ResolveReference(ref)
				if !p.relevant(resolved, manufacturer, false) {
					continue
				}
				if ok, _ := p.Enqueue(resolved.String(), baseURL, EnqueueOptions{}); ok {
					accepted++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return accepted
}

// DiscoverFromRobots extracts Sitemap: directives from a robots.txt body and
// enqueues them force-approved so the sitemap is fetched for further discovery.
func (p *Planner) DiscoverFromRobots(baseURL, body string) int {
	accepted := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			continue
		}
		target := strings.TrimSpace(line[len("sitemap:"):])
		if target == "" {
			continue
		}
		if ok, _ := p.Enqueue(target, baseURL, EnqueueOptions{ForceApproved: true, SitemapContext: true}); ok {
			accepted++
		}
	}
	return accepted
}

// DiscoverFromSitemap extracts up to 3000 <loc> URLs. In a manufacturer
// context only URLs matching model tokens or manufacturer product signals are
// enqueued.
func (p *Planner) DiscoverFromSitemap(baseURL, body string) int {
	base, err := url.Parse(baseURL)
	if err != nil {
		return 0
	}
	manufacturer := p.isBrandHost(normalizeHost(base.Host), rootDomain(normalizeHost(base.Host)))

	accepted := 0
	rest := body
	for i := 0; i < sitemapLocCap; i++ {
		start := strings.Index(rest, "<loc>")
		if start < 0 {
			break
		}
		rest = rest[start+len("<loc>"):]
		end := strings.Index(rest, "</loc>")
		if end < 0 {
			break
		}
		loc := strings.TrimSpace(rest[:end])
		rest = rest[end:]

		target, err := url.Parse(loc)
		if err != nil {
			continue
		}
		if manufacturer {
			lowered := strings.ToLower(loc)
			if !p.hasModelToken(lowered) && !manufacturerSignal(lowered) {
				continue
			}
		}
		if !p.relevant(target, manufacturer, true) {
			continue
		}
		if ok, _ := p.Enqueue(loc, baseURL, EnqueueOptions{SitemapContext: true}); ok {
			accepted++
		}
	}
	return accepted
}

func manufacturerSignal(lowered string) bool {
	return strings.Contains(lowered, "/products/") || strings.Contains(lowered, "/product/") ||
		strings.Contains(lowered, "/support/") || strings.Contains(lowered, "spec")
}

// relevant is the discovery admission filter: assets are rejected, localized
// variants are rejected outside manufacturer/sitemap contexts, negative paths
// need a model token, and everything else needs enough model tokens to match.
func (p *Planner) relevant(u *url.URL, manufacturer, sitemapContext bool) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	if isLocalizedPath(path) && !manufacturer && !sitemapContext {
		return false
	}
	lowered := strings.ToLower(u.String())
	for _, neg := range negativePaths {
		if strings.Contains(path, neg) && !p.hasModelToken(lowered) {
			return false
		}
	}
	return p.hasModelToken(lowered)
}

// isLocalizedPath detects /xx/ and /xx-yy/ locale prefixes.
func isLocalizedPath(path string) bool {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return false
	}
	seg := trimmed[:idx]
	if len(seg) == 2 && isAlpha(seg) {
		return seg != "en"
	}
	if len(seg) == 5 && seg[2] == '-' && isAlpha(seg[:2]) && isAlpha(seg[3:]) {
		return !strings.HasPrefix(seg, "en-")
	}
	return false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
