// Package selector ranks registry tools against a free-text query. Intent
// analysis feeds a weighted scorer; contextual gates (auth, network, data)
// filter candidates before scoring.
package selector

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/helixbridge/helixbridge/internal/builtin"
	"github.com/helixbridge/helixbridge/internal/registry"
	"github.com/helixbridge/helixbridge/internal/schema"
)

// Context carries the caller's situation at selection time.
type Context struct {
	HasData    bool
	HasNetwork bool
	HasAuth    bool

	// CurrentCategory biases tools in the category the caller is working in.
	CurrentCategory string

	// LoadedHints names resources already loaded (genome ids, file paths).
	// Any hint counts as data being present.
	LoadedHints []string
}

func (c Context) dataAvailable() bool {
	return c.HasData || len(c.LoadedHints) > 0
}

// ScoredTool is one ranked selection result.
type ScoredTool struct {
	Spec  schema.ToolSpecification
	Score float64
}

// DefaultTopK is the ranked-list size when the caller does not override it.
const DefaultTopK = 10

// Scoring weights, in rough order of influence.
const (
	weightCategoryMatch    = 100.0
	weightSubCategory      = 50.0
	weightZoomPhrase       = 80.0
	weightPositionPattern  = 50.0
	weightGoPhrase         = 30.0
	weightQueryKeyword     = 25.0
	weightCurrentCategory  = 20.0
	weightPrimaryIntent    = 15.0
	weightSecondaryIntent  = 10.0
	weightUsageLog         = 5.0
	weightSuccessRate      = 10.0
	weightEnhances         = 5.0
	basePriorityMultiplier = 10.0
)

// Sequence built-ins stay selectable on an inline DNA run even when no data
// is loaded; the sequence is the data.
var inlineDNA = regexp.MustCompile(`[ATCGN]{6,}`)

var sequenceTools = map[string]bool{
	"translate_dna":      true,
	"reverse_complement": true,
	"compute_gc":         true,
}

// Selector ranks tools for a query. Safe for concurrent use; all state lives
// in the registry and adapter.
type Selector struct {
	registry *registry.Registry
	builtins *builtin.Adapter
	topK     int
}

func New(reg *registry.Registry, builtins *builtin.Adapter) *Selector {
	return &Selector{registry: reg, builtins: builtins, topK: DefaultTopK}
}

// SetTopK overrides the ranked-list size. Values below 1 reset the default.
func (s *Selector) SetTopK(k int) {
	if k < 1 {
		k = DefaultTopK
	}
	s.topK = k
}

// Select analyses the query, filters the registry under ctx, scores the
// survivors, and returns the top-K descending by score.
func (s *Selector) Select(query string, ctx Context) []ScoredTool {
	intents := AnalyzeIntent(query)
	tokens := queryTokens(query)
	q := strings.ToLower(query)
	dnaInQuery := inlineDNA.MatchString(strings.ToUpper(query))

	var scored []ScoredTool
	for _, spec := range s.registry.AllTools() {
		if !s.admissible(spec, ctx, tokens, intents, dnaInQuery) {
			continue
		}
		scored = append(scored, ScoredTool{
			Spec:  spec,
			Score: s.score(spec, q, query, tokens, intents, ctx),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > s.topK {
		scored = scored[:s.topK]
	}
	return scored
}

// admissible applies the candidate filter: a keyword link to the query or a
// detected intent, then the auth/network/data gates.
func (s *Selector) admissible(spec schema.ToolSpecification, ctx Context, tokens []string, intents []Intent, dnaInQuery bool) bool {
	if !keywordLink(spec, tokens, intents) {
		return false
	}
	if spec.Execution.RequiresAuth && !ctx.HasAuth {
		return false
	}
	if spec.Execution.RequiresNetwork && !ctx.HasNetwork {
		return false
	}
	if spec.Execution.RequiresData && !ctx.dataAvailable() {
		if sequenceTools[spec.Name] && dnaInQuery {
			return true
		}
		return false
	}
	return true
}

// keywordLink reports whether any tool keyword matches a query token or the
// keyword set of a detected intent.
func keywordLink(spec schema.ToolSpecification, tokens []string, intents []Intent) bool {
	for _, kw := range spec.Keywords {
		lkw := strings.ToLower(kw)
		for _, tok := range tokens {
			if strings.Contains(lkw, tok) || strings.Contains(tok, lkw) {
				return true
			}
		}
		for _, in := range intents {
			for _, ikw := range intentKeywords[in.Label] {
				if lkw == ikw {
					return true
				}
			}
		}
	}
	return false
}

func (s *Selector) score(spec schema.ToolSpecification, q, rawQuery string, tokens []string, intents []Intent, ctx Context) float64 {
	total := float64(4-spec.Priority) * basePriorityMultiplier

	var primary *Intent
	if len(intents) > 0 {
		primary = &intents[0]
	}

	for _, kw := range spec.Keywords {
		lkw := strings.ToLower(kw)
		if strings.Contains(q, lkw) {
			total += weightQueryKeyword
		}
		if primary != nil && inDictionary(primary.Label, lkw) {
			total += weightPrimaryIntent
		}
	}
	for i := 1; i < len(intents); i++ {
		if intentTouchesTool(intents[i].Label, spec) {
			total += weightSecondaryIntent * intents[i].Confidence
		}
	}

	if primary != nil && (primary.Label == IntentFileLoading || primary.Label == IntentFileOperations) {
		if spec.Category == IntentFileLoading || spec.Category == IntentFileOperations ||
			spec.Category == "file_management" {
			total += weightCategoryMatch
			if nameAligned(spec.Name, tokens) {
				total += weightSubCategory
			}
		}
	}

	if zoomPhrase.MatchString(rawQuery) && intentTouchesTool(IntentZoom, spec) {
		total += weightZoomPhrase
	}
	if intentTouchesTool(IntentNavigation, spec) {
		if positionPattern.MatchString(rawQuery) {
			total += weightPositionPattern
		}
		if goPhrase.MatchString(rawQuery) {
			total += weightGoPhrase
		}
	}

	total += math.Log(1+float64(spec.Metadata.UsageCount)) * weightUsageLog
	total += spec.Metadata.SuccessRate * weightSuccessRate

	// A built-in whose intent keywords hit the query needs no network hop;
	// treat the hit like a direct keyword match.
	if s.builtins != nil && s.builtins.Has(spec.Name) && s.builtins.MatchesIntent(spec.Name, rawQuery) {
		total += weightQueryKeyword
	}

	if ctx.CurrentCategory != "" && ctx.CurrentCategory == spec.Category {
		total += weightCurrentCategory
	}
	if len(spec.Relationships.Enhances) > 0 {
		total += weightEnhances
	}
	return total
}

func inDictionary(label, keyword string) bool {
	for _, kw := range intentKeywords[label] {
		if kw == keyword {
			return true
		}
	}
	return false
}

// intentTouchesTool reports whether a tool's keywords intersect an intent's
// dictionary.
func intentTouchesTool(label string, spec schema.ToolSpecification) bool {
	for _, kw := range spec.Keywords {
		if inDictionary(label, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// nameAligned reports sub-category alignment: some query token appears in the
// tool's name ("genome" in load_genome_file).
func nameAligned(name string, tokens []string) bool {
	lname := strings.ToLower(name)
	for _, tok := range tokens {
		if strings.Contains(lname, tok) {
			return true
		}
	}
	return false
}
