package selector

import (
	"regexp"
	"sort"
	"strings"
)

// Intent is one detected intent with its confidence and the keywords that
// produced it.
type Intent struct {
	Label      string
	Confidence float64
	Matched    []string
}

// Intent labels recognised by the analyser.
const (
	IntentFileLoading    = "file_loading"
	IntentFileOperations = "file_operations"
	IntentNavigation     = "navigation"
	IntentZoom           = "zoom"
	IntentSearch         = "search"
	IntentAnalysis       = "analysis"
	IntentSequence       = "sequence"
	IntentStructure      = "structure"
	IntentDatabase       = "database"
	IntentEditing        = "editing"
	IntentPathway        = "pathway"
	IntentBlast          = "blast"
	IntentPlugin         = "plugin"
)

// intentKeywords are the per-intent dictionaries matched against the
// lower-cased query. Keyword-layer confidence is matches / |dictionary|.
var intentKeywords = map[string][]string{
	IntentFileLoading: {
		"load", "open", "import", "read", "file", "fasta", "genbank",
		"gff", "bed", "vcf", "sam", "bam", "wig", "genome", "annotation",
	},
	IntentFileOperations: {
		"export", "save", "download", "convert", "write", "format",
	},
	IntentNavigation: {
		"go to", "jump", "navigate", "position", "locus", "region", "move",
	},
	IntentZoom: {
		"zoom", "zoom in", "zoom out", "magnify", "scale",
	},
	IntentSearch: {
		"search", "find", "locate", "lookup", "query",
	},
	IntentAnalysis: {
		"analyze", "analyse", "analysis", "compute", "calculate",
		"statistics", "gc content", "usage",
	},
	IntentSequence: {
		"sequence", "dna", "rna", "protein", "translate", "codon",
		"complement", "reverse", "orf",
	},
	IntentStructure: {
		"structure", "fold", "domain", "3d", "pdb",
	},
	IntentDatabase: {
		"database", "fetch", "retrieve", "accession", "entrez", "uniprot",
	},
	IntentEditing: {
		"edit", "modify", "delete", "insert", "annotate", "rename",
	},
	IntentPathway: {
		"pathway", "kegg", "metabolic", "reaction",
	},
	IntentBlast: {
		"blast", "align", "alignment", "homolog", "similarity",
	},
	IntentPlugin: {
		"plugin", "extension", "install", "enable", "disable",
	},
}

// Pattern layer: file-load phrasing and well-known extensions always signal
// file_loading with confidence 0.9, regardless of keyword overlap.
var (
	fileLoadPhrase = regexp.MustCompile(`(?i)\b(load|open|import)\b.+\.[a-z0-9]{2,7}\b`)
	fileExtension  = regexp.MustCompile(`(?i)\.(fasta|fa|fna|gb|gbk|genbank|gff|gff3|bed|vcf|sam|bam|wig|embl)\b`)

	positionPattern = regexp.MustCompile(`\b\d+\s*[-:]\s*\d+\b|(?i)\bposition\s+\d+\b`)
	goPhrase        = regexp.MustCompile(`(?i)\bgo\s+to\b|\bgo\b`)
	zoomPhrase      = regexp.MustCompile(`(?i)\bzoom\b`)
)

const (
	patternConfidence    = 0.9
	fileLoadingBoost     = 0.2
	positionalConfidence = 0.8
)

// AnalyzeIntent runs both detection layers against the query and returns the
// detected intents, highest confidence first. The first entry is the primary
// intent; an empty slice means the query carried no recognisable intent.
func AnalyzeIntent(query string) []Intent {
	q := strings.ToLower(query)
	byLabel := make(map[string]*Intent)

	if fileLoadPhrase.MatchString(query) || fileExtension.MatchString(query) {
		byLabel[IntentFileLoading] = &Intent{
			Label:      IntentFileLoading,
			Confidence: patternConfidence,
		}
	}

	for label, dict := range intentKeywords {
		var matched []string
		for _, kw := range dict {
			if strings.Contains(q, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		conf := float64(len(matched)) / float64(len(dict))
		if label == IntentFileLoading {
			conf += fileLoadingBoost
			if conf > 1.0 {
				conf = 1.0
			}
		}
		if existing, ok := byLabel[label]; ok {
			if conf > existing.Confidence {
				existing.Confidence = conf
			}
			existing.Matched = matched
		} else {
			byLabel[label] = &Intent{Label: label, Confidence: conf, Matched: matched}
		}
	}

	// Bare coordinates ("1200-1300", "position 500") imply navigation even
	// without navigation vocabulary.
	if _, ok := byLabel[IntentNavigation]; !ok && positionPattern.MatchString(query) {
		byLabel[IntentNavigation] = &Intent{
			Label:      IntentNavigation,
			Confidence: positionalConfidence,
		}
	}

	out := make([]Intent, 0, len(byLabel))
	for _, in := range byLabel {
		out = append(out, *in)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "into": true, "can": true, "you": true,
	"please": true, "what": true, "how": true, "all": true, "are": true,
	"was": true, "its": true, "has": true, "have": true, "not": true,
}

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// queryTokens extracts lower-cased tokens longer than two characters, with
// stop-words removed.
func queryTokens(query string) []string {
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(query), -1) {
		if len(tok) > 2 && !stopWords[tok] {
			out = append(out, tok)
		}
	}
	return out
}
