// Package types provides shared type definitions used across specfactory packages.
// This package exists to break import cycles between catalog, planner, extract and
// pipeline. Types in this package should be foundational data structures with no
// complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// IDENTITY & CATALOG
// =============================================================================

// IdentityLock pins the product identity for a job. Identifier is an immutable
// 8-hex token; ID is the smallest positive integer unused in the category at
// allocation time. Both survive renames.
type IdentityLock struct {
	ID         int    `json:"id"`
	Identifier string `json:"identifier"`
	Brand      string `json:"brand"`
	Model      string `json:"model"`
	Variant    string `json:"variant,omitempty"`
	SKU        string `json:"sku,omitempty"`
	MPN        string `json:"mpn,omitempty"`
	GTIN       string `json:"gtin,omitempty"`
}

// ProductJob is the unit of work for one pipeline run.
// Invariant: ProductID == BuildProductID(Category, Brand, Model, Variant).
type ProductJob struct {
	ProductID        string            `json:"productId"`
	Category         string            `json:"category"`
	IdentityLock     IdentityLock      `json:"identityLock"`
	SeedURLs         []string          `json:"seedUrls"`
	PreferredSources []string          `json:"preferredSources,omitempty"`
	Anchors          map[string]string `json:"anchors"`
}

// RenameEntry records one slug change of a catalog entry.
type RenameEntry struct {
	OldSlug   string    `json:"oldSlug"`
	NewSlug   string    `json:"newSlug"`
	RenamedAt time.Time `json:"renamedAt"`
}

// CatalogEntry is the catalog's record of one product.
type CatalogEntry struct {
	ID            int           `json:"id"`
	Identifier    string        `json:"identifier"`
	Brand         string        `json:"brand"`
	Model         string        `json:"model"`
	Variant       string        `json:"variant,omitempty"`
	Status        string        `json:"status"`
	SeedURLs      []string      `json:"seedUrls,omitempty"`
	AddedAt       time.Time     `json:"addedAt"`
	RenameHistory []RenameEntry `json:"renameHistory,omitempty"`
}

// =============================================================================
// SOURCES & EVIDENCE
// =============================================================================

// SourceRole classifies what kind of site a source is.
type SourceRole string

const (
	RoleManufacturer SourceRole = "manufacturer"
	RoleReview       SourceRole = "review"
	RoleRetailer     SourceRole = "retailer"
	RoleDatabase     SourceRole = "database"
	RoleOther        SourceRole = "other"
)

// TierNames maps the authority class (1=manufacturer .. 5=aggregator) to its name.
var TierNames = map[int]string{
	1: "manufacturer",
	2: "lab",
	3: "retailer",
	4: "community",
	5: "aggregator",
}

// Source describes one planned or fetched URL.
type Source struct {
	URL             string     `json:"url"`
	Host            string     `json:"host"` // lowercased, sans www.
	RootDomain      string     `json:"rootDomain"`
	Tier            int        `json:"tier"` // 1-5
	TierName        string     `json:"tierName"`
	Role            SourceRole `json:"role"`
	ApprovedDomain  bool       `json:"approvedDomain"`
	CandidateSource bool       `json:"candidateSource"`
	DiscoveredFrom  string     `json:"discoveredFrom,omitempty"`
	PriorityScore   float64    `json:"priorityScore"`
	SourceID        string     `json:"sourceId"`
	DisplayName     string     `json:"displayName,omitempty"`
}

// SnippetType tags the extraction surface a snippet came from.
type SnippetType string

const (
	SnippetSpecTableRow       SnippetType = "spec_table_row"
	SnippetJSONLDProduct      SnippetType = "json_ld_product"
	SnippetMicrodataProduct   SnippetType = "microdata_product"
	SnippetOpenGraphProduct   SnippetType = "opengraph_product"
	SnippetMicroformatProduct SnippetType = "microformat_product"
	SnippetRDFaProduct        SnippetType = "rdfa_product"
	SnippetTwitterCardProduct SnippetType = "twitter_card_product"
	SnippetText               SnippetType = "text"
)

// StructuredProductTypes lists the snippet types whose body is parseable
// structured metadata (JSON) rather than free text.
var StructuredProductTypes = map[SnippetType]bool{
	SnippetJSONLDProduct:      true,
	SnippetMicrodataProduct:   true,
	SnippetOpenGraphProduct:   true,
	SnippetMicroformatProduct: true,
	SnippetRDFaProduct:        true,
	SnippetTwitterCardProduct: true,
}

// Snippet is one extracted unit of evidence from a source.
type Snippet struct {
	ID               string      `json:"id"`
	SourceID         string      `json:"sourceId"`
	Type             SnippetType `json:"type"`
	Text             string      `json:"text"`
	NormalizedText   string      `json:"normalizedText"`
	URL              string      `json:"url"`
	SnippetHash      string      `json:"snippetHash"`
	ExtractionMethod string      `json:"extractionMethod"`
}

// SourceMeta carries per-source metadata inside an EvidencePack.
type SourceMeta struct {
	Source        Source `json:"source"`
	FinalURL      string `json:"finalUrl"`
	FetchedAt     int64  `json:"fetchedAt"`
	IdentityMatch *bool  `json:"identityMatch,omitempty"`
}

// EvidencePack is the ordered snippet sequence produced by the fetcher layer,
// plus references and a source->meta map.
type EvidencePack struct {
	Snippets   []Snippet             `json:"snippets"`
	References []string              `json:"references"`
	Sources    map[string]SourceMeta `json:"sources"` // keyed by SourceID
}

// FindSnippet returns the snippet with the given id, if present.
func (p *EvidencePack) FindSnippet(id string) (Snippet, bool) {
	for _, s := range p.Snippets {
		if s.ID == id {
			return s, true
		}
	}
	return Snippet{}, false
}

// Append merges another pack's snippets, references and source metadata,
// preserving order.
func (p *EvidencePack) Append(other *EvidencePack) {
	if other == nil {
		return
	}
	p.Snippets = append(p.Snippets, other.Snippets...)
	p.References = append(p.References, other.References...)
	if p.Sources == nil {
		p.Sources = make(map[string]SourceMeta)
	}
	for id, meta := range other.Sources {
		p.Sources[id] = meta
	}
}

// SourceResult is what the external fetcher hands the core for one URL.
type SourceResult struct {
	Source      Source    `json:"source"`
	FinalURL    string    `json:"finalUrl"`
	HTML        string    `json:"html,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Status      string    `json:"status"` // ok | error
	Error       string    `json:"error,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
	Snippets    []Snippet `json:"snippets,omitempty"`
}

// =============================================================================
// CANDIDATES & PROVENANCE
// =============================================================================

// Method tags how a candidate value was obtained.
type Method string

const (
	MethodParseTemplate        Method = "parse_template"
	MethodSpecTableMatch       Method = "spec_table_match"
	MethodJSONLD               Method = "json_ld"
	MethodMicrodata            Method = "microdata"
	MethodOpenGraph            Method = "opengraph"
	MethodComponentDBInference Method = "component_db_inference"
	MethodLLMExtract           Method = "llm_extract"
	MethodHelperSupportive     Method = "helper_supportive"
)

// InferredFrom records the trigger of a component-DB inference.
type InferredFrom struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// CandidateSource describes where a candidate's evidence came from.
type CandidateSource struct {
	Host string `json:"host"`
	Tier int    `json:"tier"`
}

// Candidate is one proposed value for one field. Unknown extra fields from
// free-form upstream records ride in Extra.
type Candidate struct {
	Field                string          `json:"field"`
	Value                string          `json:"value"`
	Method               Method          `json:"method"`
	KeyPath              string          `json:"keyPath,omitempty"`
	EvidenceRefs         []string        `json:"evidenceRefs,omitempty"` // snippet ids
	SnippetID            string          `json:"snippetId,omitempty"`
	Quote                string          `json:"quote,omitempty"`
	Confidence           float64         `json:"confidence"` // [0,1]
	Source               CandidateSource `json:"source"`
	InferredFrom         *InferredFrom   `json:"inferredFrom,omitempty"`
	ConstraintViolations []string        `json:"constraintViolations,omitempty"`
	ConstraintWarnings   []string        `json:"constraintWarnings,omitempty"`
	Extra                map[string]any  `json:"extra,omitempty"`
}

// EvidenceRef points a provenance entry at a verifiable quote.
type EvidenceRef struct {
	SnippetID string `json:"snippetId"`
	Quote     string `json:"quote"`
	URL       string `json:"url,omitempty"`
}

// UnknownValue is the literal sentinel for known-unknown fields.
const UnknownValue = "unk"

// Unknown reasons surfaced in provenance.
const (
	ReasonNotFoundAfterSearch    = "not_found_after_search"
	ReasonNotSupportedByEvidence = "not_supported_by_evidence"
)

// FieldProvenance records how a field's published value was established.
type FieldProvenance struct {
	Value           string        `json:"value"`
	Confidence      float64       `json:"confidence"`
	MeetsPassTarget bool          `json:"meetsPassTarget"`
	Evidence        []EvidenceRef `json:"evidence,omitempty"`
	UnknownReason   string        `json:"unknownReason,omitempty"`
	Agreement       string        `json:"agreement,omitempty"`
}

// Traffic light colors per field.
const (
	LightGreen  = "green"
	LightYellow = "yellow"
	LightRed    = "red"
	LightGray   = "gray"
)

// NormalizedRecord is the published output of one pipeline run.
type NormalizedRecord struct {
	ProductID     string                     `json:"product_id"`
	Identity      IdentityLock               `json:"identity"`
	Fields        map[string]string          `json:"fields"` // value or "unk"
	Provenance    map[string]FieldProvenance `json:"provenance"`
	TrafficLights map[string]string          `json:"trafficLights"`
	Flags         []string                   `json:"flags,omitempty"`
	RunID         string                     `json:"runId"`
}
