package registry

import (
	"os"
	"path/filepath"
	"testing"
)

const manifestYAML = `categories:
  - name: file_loading
    description: Load sequence and annotation files
    priority: 1
  - name: sequence
    description: Sequence analysis
    priority: 2
  - name: ghost
    priority: 3
`

const loadGenomeYAML = `name: load_genome_file
version: "1.2"
description: Load a genome file into the viewer
category: file_loading
keywords: [load, open, genome, genbank, fasta]
priority: 1
execution:
  type: client
  requires_data: false
parameters:
  type: object
  properties:
    path:
      type: string
sample_usages:
  - load genome file "/data/ecoli.gbk"
`

const computeGCYAML = `name: compute_gc
description: GC content of a DNA sequence
category: sequence
keywords: [gc, content, sequence]
priority: 1
execution:
  type: client
  requires_data: true
`

func writeRegistry(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("tool_categories.yaml", manifestYAML)
	write("file_loading/load_genome_file.yaml", loadGenomeYAML)
	write("sequence/compute_gc.yaml", computeGCYAML)
	return root
}

func TestInitialize_LoadsDeclaredCategories(t *testing.T) {
	r := New(writeRegistry(t))
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 tools, got %d", r.Count())
	}

	spec, ok := r.GetTool("load_genome_file")
	if !ok {
		t.Fatal("load_genome_file not found")
	}
	if spec.Category != "file_loading" || spec.Priority != 1 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if len(spec.SampleUsages) != 1 {
		t.Fatalf("expected one sample usage, got %d", len(spec.SampleUsages))
	}
}

func TestInitialize_MissingCategoryDirSkipped(t *testing.T) {
	// Manifest declares "ghost" which has no directory; must not fail.
	r := New(writeRegistry(t))
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize failed on missing category dir: %v", err)
	}
	if got := r.GetToolsByCategory("ghost"); len(got) != 0 {
		t.Fatalf("expected empty ghost category, got %d", len(got))
	}
}

func TestInitialize_MalformedSpecSkipped(t *testing.T) {
	root := writeRegistry(t)
	bad := filepath.Join(root, "sequence", "broken.yaml")
	if err := os.WriteFile(bad, []byte(":::nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Priority out of range is also malformed.
	worse := filepath.Join(root, "sequence", "worse.yaml")
	if err := os.WriteFile(worse, []byte("name: worse\ncategory: sequence\npriority: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(root)
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("malformed specs should be skipped, got %d tools", r.Count())
	}
}

func TestInitialize_UndeclaredCategoryIgnored(t *testing.T) {
	root := writeRegistry(t)
	stray := filepath.Join(root, "undeclared")
	if err := os.MkdirAll(stray, 0o755); err != nil {
		t.Fatal(err)
	}
	spec := "name: stray_tool\ncategory: undeclared\npriority: 1\nexecution:\n  type: client\n"
	if err := os.WriteFile(filepath.Join(stray, "stray_tool.yaml"), []byte(spec), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(root)
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, ok := r.GetTool("stray_tool"); ok {
		t.Fatal("tool outside declared categories must be ignored")
	}
}

func TestAllTools_ManifestOrder(t *testing.T) {
	r := New(writeRegistry(t))
	if err := r.Initialize(); err != nil {
		t.Fatal(err)
	}
	all := r.AllTools()
	if len(all) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(all))
	}
	if all[0].Name != "load_genome_file" || all[1].Name != "compute_gc" {
		t.Fatalf("unexpected order: %s, %s", all[0].Name, all[1].Name)
	}
}

func TestRecordUsage_FoldsSuccessRate(t *testing.T) {
	r := New(writeRegistry(t))
	if err := r.Initialize(); err != nil {
		t.Fatal(err)
	}
	r.RecordUsage("compute_gc", true)
	r.RecordUsage("compute_gc", true)
	r.RecordUsage("compute_gc", false)

	spec, _ := r.GetTool("compute_gc")
	if spec.Metadata.UsageCount != 3 {
		t.Fatalf("expected 3 usages, got %d", spec.Metadata.UsageCount)
	}
	want := 2.0 / 3.0
	if diff := spec.Metadata.SuccessRate - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected success rate ~%.3f, got %.3f", want, spec.Metadata.SuccessRate)
	}
}

func TestGetTool_NotFound(t *testing.T) {
	r := New(writeRegistry(t))
	if err := r.Initialize(); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.GetTool("nope"); ok {
		t.Fatal("expected not-found for unknown tool")
	}
	r.Preload([]string{"compute_gc", "nope"}) // best-effort, must not panic
}
