// Package registry loads tool specifications from a YAML directory tree:
//
//	<root>/
//	  tool_categories.yaml    # category manifest
//	  <category>/
//	    <tool>.yaml           # one ToolSpecification per file
//
// Files without a .yaml suffix and files in undeclared categories are
// ignored. A malformed specification is skipped with a warning; a missing
// category directory is skipped without failing the registry.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/helixbridge/helixbridge/internal/schema"
)

const manifestFile = "tool_categories.yaml"

// Registry is the in-memory tool specification catalogue. Pure in-memory
// after Initialize; read-mostly behind an RWMutex.
type Registry struct {
	rootPath string

	mu         sync.RWMutex
	categories []schema.Category
	byName     map[string]*schema.ToolSpecification
	byCategory map[string][]string // category -> tool names in directory order
}

// New creates a Registry rooted at rootPath. Initialize must be called
// before any lookup.
func New(rootPath string) *Registry {
	return &Registry{
		rootPath:   rootPath,
		byName:     make(map[string]*schema.ToolSpecification),
		byCategory: make(map[string][]string),
	}
}

type manifest struct {
	Categories []schema.Category `yaml:"categories"`
}

// Initialize loads the category manifest and scans each declared category
// directory for specification files. Per-file errors are logged, never fatal.
func (r *Registry) Initialize() error {
	data, err := os.ReadFile(filepath.Join(r.rootPath, manifestFile))
	if err != nil {
		return fmt.Errorf("read category manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse category manifest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = m.Categories
	r.byName = make(map[string]*schema.ToolSpecification)
	r.byCategory = make(map[string][]string)

	for _, cat := range m.Categories {
		r.loadCategoryLocked(cat.Name)
	}

	slog.Info("registry: initialized", "categories", len(m.Categories), "tools", len(r.byName))
	return nil
}

// loadCategoryLocked scans one category directory; caller holds r.mu.
func (r *Registry) loadCategoryLocked(category string) {
	dir := filepath.Join(r.rootPath, category)
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("registry: category directory missing, skipped", "category", category)
		return
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		spec, err := loadSpec(path)
		if err != nil {
			slog.Warn("registry: malformed specification, skipped", "path", path, "err", err)
			continue
		}
		if spec.Category != category {
			slog.Warn("registry: category mismatch, skipped",
				"path", path, "declared", spec.Category, "directory", category)
			continue
		}
		if _, dup := r.byName[spec.Name]; dup {
			slog.Warn("registry: duplicate tool name, skipped", "tool", spec.Name, "path", path)
			continue
		}
		r.byName[spec.Name] = spec
		r.byCategory[category] = append(r.byCategory[category], spec.Name)
	}
}

func loadSpec(path string) (*schema.ToolSpecification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec schema.ToolSpecification
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("specification has no name")
	}
	if spec.Priority < 1 || spec.Priority > 3 {
		return nil, fmt.Errorf("priority %d out of range 1..3", spec.Priority)
	}
	return &spec, nil
}

// GetTool returns the specification for name, or false when unknown.
func (r *Registry) GetTool(name string) (*schema.ToolSpecification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	c := *spec
	return &c, true
}

// GetToolsByCategory enumerates a category's tools in directory order.
func (r *Registry) GetToolsByCategory(category string) []schema.ToolSpecification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byCategory[category]
	out := make([]schema.ToolSpecification, 0, len(names))
	for _, n := range names {
		out = append(out, *r.byName[n])
	}
	return out
}

// AllTools concatenates every category's tools, manifest order first.
func (r *Registry) AllTools() []schema.ToolSpecification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []schema.ToolSpecification
	for _, cat := range r.categories {
		for _, n := range r.byCategory[cat.Name] {
			out = append(out, *r.byName[n])
		}
	}
	return out
}

// Categories returns the manifest entries sorted by priority (ascending,
// priority 1 first).
func (r *Registry) Categories() []schema.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]schema.Category(nil), r.categories...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Preload warms up a fixed critical set. Best-effort: unknown names are
// logged and skipped. Specs are already cached after Initialize, so this
// only verifies presence.
func (r *Registry) Preload(names []string) {
	for _, n := range names {
		if _, ok := r.GetTool(n); !ok {
			slog.Warn("registry: preload miss", "tool", n)
		}
	}
}

// RecordUsage updates a tool's runtime usage counters. success folds into
// the running success rate.
func (r *Registry) RecordUsage(name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.byName[name]
	if !ok {
		return
	}
	n := float64(spec.Metadata.UsageCount)
	hit := 0.0
	if success {
		hit = 1.0
	}
	spec.Metadata.SuccessRate = (spec.Metadata.SuccessRate*n + hit) / (n + 1)
	spec.Metadata.UsageCount++
}

// Count returns the number of loaded specifications.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
