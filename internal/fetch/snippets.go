package fetch

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"specfactory/internal/types"
)

const (
	maxTextSnippets = 40
	minParagraphLen = 40
)

// ExtractSnippets turns an HTML document into the ordered snippet stream the
// extraction cascade consumes: spec tables, JSON-LD product blocks, microdata,
// OpenGraph/Twitter metadata and free-text paragraphs.
func ExtractSnippets(src types.Source, finalURL, body string) []types.Snippet {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	b := &snippetBuilder{src: src, url: finalURL, og: map[string]string{}, tw: map[string]string{}}
	b.walk(doc)
	b.flushMeta()
	return b.snippets
}

// SnippetsFromText builds snippets from plain text (PDF spec sheets, manuals).
// Consecutive "key: value" lines are grouped into spec-table rows; remaining
// paragraphs become text snippets.
func SnippetsFromText(src types.Source, finalURL, text string) []types.Snippet {
	b := &snippetBuilder{src: src, url: finalURL}

	var kvRun []string
	flushKV := func() {
		if len(kvRun) >= 2 {
			b.add(types.SnippetSpecTableRow, strings.Join(kvRun, " | "), "pdf_table")
		}
		kvRun = nil
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if key, value, ok := splitKV(line); ok {
			kvRun = append(kvRun, key+": "+value)
			continue
		}
		flushKV()
		if len(line) >= minParagraphLen && b.textCount < maxTextSnippets {
			b.add(types.SnippetText, line, "pdf_text")
			b.textCount++
		}
	}
	flushKV()
	return b.snippets
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 || idx > 40 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if key == "" || value == "" || strings.HasPrefix(value, "//") {
		return "", "", false
	}
	return key, value, true
}

type snippetBuilder struct {
	src       types.Source
	url       string
	snippets  []types.Snippet
	textCount int
	og        map[string]string
	tw        map[string]string
}

func (b *snippetBuilder) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "table":
			b.addTable(n)
			return
		case "script":
			if attr(n, "type") == "application/ld+json" {
				b.addJSONLD(nodeText(n))
			}
			return
		case "style", "noscript", "nav", "footer":
			return
		case "meta":
			b.collectMeta(n)
		case "p", "li":
			text := collapse(nodeText(n))
			if len(text) >= minParagraphLen && b.textCount < maxTextSnippets {
				b.add(types.SnippetText, text, "text")
				b.textCount++
			}
			return
		default:
			if itemType := attr(n, "itemtype"); strings.Contains(itemType, "schema.org/Product") {
				b.addMicrodata(n)
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
}

// addTable flattens a spec table into one snippet of "key: value" pairs
// joined by " | ".
func (b *snippetBuilder) addTable(table *html.Node) {
	var pairs []string
	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, collapse(nodeText(c)))
				}
			}
			if len(cells) >= 2 && cells[0] != "" && cells[1] != "" {
				pairs = append(pairs, cells[0]+": "+cells[1])
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkRows(c)
		}
	}
	walkRows(table)
	if len(pairs) > 0 {
		b.add(types.SnippetSpecTableRow, strings.Join(pairs, " | "), "table")
	}
}

func (b *snippetBuilder) addJSONLD(content string) {
	content = strings.TrimSpace(content)
	if content == "" || !strings.Contains(content, "Product") {
		return
	}
	if !json.Valid([]byte(content)) {
		return
	}
	b.add(types.SnippetJSONLDProduct, content, "json_ld")
}

func (b *snippetBuilder) addMicrodata(scope *html.Node) {
	props := make(map[string]string)
	var walkProps func(*html.Node)
	walkProps = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if name := attr(n, "itemprop"); name != "" {
				value := attr(n, "content")
				if value == "" {
					value = collapse(nodeText(n))
				}
				if value != "" {
					props[name] = value
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkProps(c)
		}
	}
	walkProps(scope)
	if len(props) == 0 {
		return
	}
	data, err := json.Marshal(props)
	if err != nil {
		return
	}
	b.add(types.SnippetMicrodataProduct, string(data), "microdata")
}

func (b *snippetBuilder) collectMeta(n *html.Node) {
	key := attr(n, "property")
	if key == "" {
		key = attr(n, "name")
	}
	content := attr(n, "content")
	if content == "" {
		return
	}
	switch {
	case strings.HasPrefix(key, "og:"):
		b.og[strings.TrimPrefix(key, "og:")] = content
	case strings.HasPrefix(key, "twitter:"):
		b.tw[strings.TrimPrefix(key, "twitter:")] = content
	}
}

// flushMeta emits the accumulated OpenGraph and Twitter card metadata as
// structured snippets once the whole document has been walked.
func (b *snippetBuilder) flushMeta() {
	if len(b.og) > 0 {
		if data, err := json.Marshal(b.og); err == nil {
			b.add(types.SnippetOpenGraphProduct, string(data), "opengraph")
		}
	}
	if len(b.tw) > 0 {
		if data, err := json.Marshal(b.tw); err == nil {
			b.add(types.SnippetTwitterCardProduct, string(data), "twitter_card")
		}
	}
}

func (b *snippetBuilder) add(typ types.SnippetType, text, method string) {
	normalized := strings.ToLower(collapse(text))
	sum := sha1.Sum([]byte(normalized))
	b.snippets = append(b.snippets, types.Snippet{
		ID:               fmt.Sprintf("%s-s%d", b.src.SourceID, len(b.snippets)+1),
		SourceID:         b.src.SourceID,
		Type:             typ,
		Text:             text,
		NormalizedText:   normalized,
		URL:              b.url,
		SnippetHash:      hex.EncodeToString(sum[:]),
		ExtractionMethod: method,
	})
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
