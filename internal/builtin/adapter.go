// Package builtin provides the in-process tools the mediator serves without
// any network round-trip. Built-ins take precedence over remote tools with
// the same name.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixbridge/helixbridge/internal/schema"
)

// Adapter is the fixed mapping of tool name to in-process handler.
type Adapter struct {
	tools   map[string]schema.Tool
	order   []string
	intents map[string][]string // tool name -> intent keywords
}

// NewAdapter registers the standard built-in set.
func NewAdapter() *Adapter {
	a := &Adapter{
		tools:   make(map[string]schema.Tool),
		intents: make(map[string][]string),
	}
	a.register(&TranslateDNATool{}, "translate", "protein", "codon", "orf")
	a.register(&ReverseComplementTool{}, "reverse", "complement", "strand")
	a.register(&ComputeGCTool{}, "gc", "content", "composition")
	a.register(&CodonUsageTool{}, "codon", "usage", "bias", "frequency")
	a.register(NewFetchPageTool(), "fetch", "page", "article", "url")
	return a
}

func (a *Adapter) register(t schema.Tool, intentKeywords ...string) {
	a.tools[t.Name()] = t
	a.order = append(a.order, t.Name())
	a.intents[t.Name()] = intentKeywords
}

// Has reports whether name is served in-process.
func (a *Adapter) Has(name string) bool {
	_, ok := a.tools[name]
	return ok
}

// Get returns the tool with the given name, or nil.
func (a *Adapter) Get(name string) schema.Tool { return a.tools[name] }

// Execute runs the named built-in.
func (a *Adapter) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	t, ok := a.tools[name]
	if !ok {
		return nil, fmt.Errorf("builtin tool %q not found", name)
	}
	return t.Execute(ctx, params)
}

// Descriptors advertises every built-in as a ToolDescriptor with the
// sentinel server id.
func (a *Adapter) Descriptors() []schema.ToolDescriptor {
	out := make([]schema.ToolDescriptor, 0, len(a.order))
	for _, name := range a.order {
		t := a.tools[name]
		out = append(out, schema.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Category:    "sequence",
			ServerID:    schema.BuiltinServerID,
			Keywords:    a.intents[name],
			Priority:    1,
		})
	}
	return out
}

// MatchesIntent reports whether a built-in's intent keywords appear in the
// lower-cased query. Used by the selector to keep sequence built-ins in
// play for free-text queries.
func (a *Adapter) MatchesIntent(name, query string) bool {
	q := strings.ToLower(query)
	for _, kw := range a.intents[name] {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
