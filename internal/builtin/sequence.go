package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// geneticCode is the standard genetic code, DNA codons to one-letter amino
// acids, '*' for stop.
var geneticCode = map[string]byte{
	"TTT": 'F', "TTC": 'F', "TTA": 'L', "TTG": 'L',
	"TCT": 'S', "TCC": 'S', "TCA": 'S', "TCG": 'S',
	"TAT": 'Y', "TAC": 'Y', "TAA": '*', "TAG": '*',
	"TGT": 'C', "TGC": 'C', "TGA": '*', "TGG": 'W',
	"CTT": 'L', "CTC": 'L', "CTA": 'L', "CTG": 'L',
	"CCT": 'P', "CCC": 'P', "CCA": 'P', "CCG": 'P',
	"CAT": 'H', "CAC": 'H', "CAA": 'Q', "CAG": 'Q',
	"CGT": 'R', "CGC": 'R', "CGA": 'R', "CGG": 'R',
	"ATT": 'I', "ATC": 'I', "ATA": 'I', "ATG": 'M',
	"ACT": 'T', "ACC": 'T', "ACA": 'T', "ACG": 'T',
	"AAT": 'N', "AAC": 'N', "AAA": 'K', "AAG": 'K',
	"AGT": 'S', "AGC": 'S', "AGA": 'R', "AGG": 'R',
	"GTT": 'V', "GTC": 'V', "GTA": 'V', "GTG": 'V',
	"GCT": 'A', "GCC": 'A', "GCA": 'A', "GCG": 'A',
	"GAT": 'D', "GAC": 'D', "GAA": 'E', "GAG": 'E',
	"GGT": 'G', "GGC": 'G', "GGA": 'G', "GGG": 'G',
}

// ecoliCodonFreq is the E. coli K-12 codon usage reference, keyed by amino
// acid then codon.
var ecoliCodonFreq = map[byte]map[string]float64{
	'F': {"TTT": 0.58, "TTC": 0.42},
	'L': {"TTA": 0.14, "TTG": 0.13, "CTT": 0.12, "CTC": 0.10, "CTA": 0.04, "CTG": 0.47},
	'S': {"TCT": 0.17, "TCC": 0.15, "TCA": 0.14, "TCG": 0.14, "AGT": 0.16, "AGC": 0.25},
	'Y': {"TAT": 0.59, "TAC": 0.41},
	'C': {"TGT": 0.46, "TGC": 0.54},
	'W': {"TGG": 1.00},
	'P': {"CCT": 0.18, "CCC": 0.13, "CCA": 0.20, "CCG": 0.49},
	'H': {"CAT": 0.57, "CAC": 0.43},
	'Q': {"CAA": 0.34, "CAG": 0.66},
	'R': {"CGT": 0.36, "CGC": 0.36, "CGA": 0.07, "CGG": 0.11, "AGA": 0.07, "AGG": 0.04},
	'I': {"ATT": 0.49, "ATC": 0.39, "ATA": 0.11},
	'M': {"ATG": 1.00},
	'T': {"ACT": 0.19, "ACC": 0.40, "ACA": 0.17, "ACG": 0.25},
	'N': {"AAT": 0.49, "AAC": 0.51},
	'K': {"AAA": 0.74, "AAG": 0.26},
	'V': {"GTT": 0.28, "GTC": 0.20, "GTA": 0.17, "GTG": 0.35},
	'A': {"GCT": 0.18, "GCC": 0.26, "GCA": 0.23, "GCG": 0.33},
	'D': {"GAT": 0.63, "GAC": 0.37},
	'E': {"GAA": 0.68, "GAG": 0.32},
	'G': {"GGT": 0.35, "GGC": 0.37, "GGA": 0.13, "GGG": 0.15},
}

func dnaParam(params map[string]any) (string, error) {
	raw, _ := params["dna"].(string)
	dna := strings.ToUpper(strings.TrimSpace(raw))
	if dna == "" {
		return "", fmt.Errorf("dna is required")
	}
	for i := 0; i < len(dna); i++ {
		switch dna[i] {
		case 'A', 'T', 'C', 'G', 'N':
		default:
			return "", fmt.Errorf("invalid base %q at position %d", dna[i], i)
		}
	}
	return dna, nil
}

// ---------------------------------------------------------------------------
// translate_dna
// ---------------------------------------------------------------------------

// TranslateDNATool translates a DNA sequence into protein in a given frame.
type TranslateDNATool struct{}

func (t *TranslateDNATool) Name() string { return "translate_dna" }
func (t *TranslateDNATool) Description() string {
	return "Translate a DNA sequence to protein using the standard genetic code."
}
func (t *TranslateDNATool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"dna":   {"type": "string", "description": "DNA sequence (ATCGN)"},
			"frame": {"type": "integer", "description": "Reading frame 0-2", "minimum": 0, "maximum": 2}
		},
		"required": ["dna"]
	}`)
}

func (t *TranslateDNATool) Execute(_ context.Context, params map[string]any) (any, error) {
	dna, err := dnaParam(params)
	if err != nil {
		return nil, err
	}
	frame := 0
	if f, ok := params["frame"].(float64); ok {
		frame = int(f)
	} else if f, ok := params["frame"].(int); ok {
		frame = f
	}
	if frame < 0 || frame > 2 {
		return nil, fmt.Errorf("frame %d out of range 0-2", frame)
	}

	var protein strings.Builder
	for i := frame; i+3 <= len(dna); i += 3 {
		aa, ok := geneticCode[dna[i:i+3]]
		if !ok {
			aa = 'X' // codon containing N
		}
		protein.WriteByte(aa)
	}
	return map[string]any{"protein": protein.String(), "frame": frame}, nil
}

// ---------------------------------------------------------------------------
// reverse_complement
// ---------------------------------------------------------------------------

// ReverseComplementTool returns the reverse complement of a DNA sequence.
type ReverseComplementTool struct{}

func (t *ReverseComplementTool) Name() string { return "reverse_complement" }
func (t *ReverseComplementTool) Description() string {
	return "Reverse complement of a DNA sequence."
}
func (t *ReverseComplementTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"dna": {"type": "string", "description": "DNA sequence (ATCGN)"}
		},
		"required": ["dna"]
	}`)
}

func (t *ReverseComplementTool) Execute(_ context.Context, params map[string]any) (any, error) {
	dna, err := dnaParam(params)
	if err != nil {
		return nil, err
	}
	comp := map[byte]byte{'A': 'T', 'T': 'A', 'C': 'G', 'G': 'C', 'N': 'N'}
	out := make([]byte, len(dna))
	for i := 0; i < len(dna); i++ {
		out[len(dna)-1-i] = comp[dna[i]]
	}
	return map[string]any{"sequence": string(out)}, nil
}

// ---------------------------------------------------------------------------
// compute_gc
// ---------------------------------------------------------------------------

// ComputeGCTool reports overall and optional windowed GC content.
type ComputeGCTool struct{}

func (t *ComputeGCTool) Name() string { return "compute_gc" }
func (t *ComputeGCTool) Description() string {
	return "GC content of a DNA sequence, overall and per window."
}
func (t *ComputeGCTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"dna":    {"type": "string", "description": "DNA sequence (ATCGN)"},
			"window": {"type": "integer", "description": "Window size for per-window GC (optional)"}
		},
		"required": ["dna"]
	}`)
}

func (t *ComputeGCTool) Execute(_ context.Context, params map[string]any) (any, error) {
	dna, err := dnaParam(params)
	if err != nil {
		return nil, err
	}

	gc := 0
	for i := 0; i < len(dna); i++ {
		if dna[i] == 'G' || dna[i] == 'C' {
			gc++
		}
	}
	result := map[string]any{
		"length": len(dna),
		"gc":     float64(gc) / float64(len(dna)),
	}

	window := 0
	if w, ok := params["window"].(float64); ok {
		window = int(w)
	} else if w, ok := params["window"].(int); ok {
		window = w
	}
	if window > 0 && window <= len(dna) {
		var windows []float64
		for i := 0; i+window <= len(dna); i += window {
			wgc := 0
			for j := i; j < i+window; j++ {
				if dna[j] == 'G' || dna[j] == 'C' {
					wgc++
				}
			}
			windows = append(windows, float64(wgc)/float64(window))
		}
		result["windows"] = windows
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// codon_usage
// ---------------------------------------------------------------------------

// CodonUsageTool counts codons per amino acid and compares each codon's
// share against the E. coli K-12 reference frequencies.
type CodonUsageTool struct{}

func (t *CodonUsageTool) Name() string { return "codon_usage" }
func (t *CodonUsageTool) Description() string {
	return "Codon usage of a coding DNA sequence vs the E. coli reference."
}
func (t *CodonUsageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"dna": {"type": "string", "description": "Coding DNA sequence, frame 0"}
		},
		"required": ["dna"]
	}`)
}

func (t *CodonUsageTool) Execute(_ context.Context, params map[string]any) (any, error) {
	dna, err := dnaParam(params)
	if err != nil {
		return nil, err
	}
	if len(dna) < 3 {
		return nil, fmt.Errorf("sequence shorter than one codon")
	}

	counts := make(map[string]int)
	total := 0
	for i := 0; i+3 <= len(dna); i += 3 {
		codon := dna[i : i+3]
		if _, ok := geneticCode[codon]; !ok {
			continue
		}
		counts[codon]++
		total++
	}

	perAA := make(map[string]map[string]any)
	for codon, n := range counts {
		aa := string(geneticCode[codon])
		if aa == "*" {
			continue
		}
		if perAA[aa] == nil {
			perAA[aa] = make(map[string]any)
		}
		entry := map[string]any{"count": n}
		if ref, ok := ecoliCodonFreq[aa[0]][codon]; ok {
			entry["ecoli_freq"] = ref
		}
		perAA[aa][codon] = entry
	}

	return map[string]any{
		"codons_total": total,
		"by_amino":     perAA,
	}, nil
}
