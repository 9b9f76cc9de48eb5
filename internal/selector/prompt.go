package selector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/helixbridge/helixbridge/internal/schema"
)

// PromptBundle is the two-part output consumed by the language-model client:
// the chosen specifications and a rendered prompt describing them.
type PromptBundle struct {
	Tools  []schema.ToolSpecification
	Prompt string
}

// BuildPrompt selects tools for the query and renders the dynamic bundle.
func (s *Selector) BuildPrompt(query string, ctx Context) PromptBundle {
	ranked := s.Select(query, ctx)
	tools := make([]schema.ToolSpecification, 0, len(ranked))
	for _, r := range ranked {
		tools = append(tools, r.Spec)
	}
	return PromptBundle{Tools: tools, Prompt: renderTools(tools)}
}

// BuildFullPrompt renders the entire registry grouped by category in manifest
// priority order. Used when dynamic selection is disabled.
func (s *Selector) BuildFullPrompt() PromptBundle {
	var tools []schema.ToolSpecification
	var b strings.Builder
	b.WriteString("Available tools by category:\n")

	for _, cat := range s.registry.Categories() {
		specs := s.registry.GetToolsByCategory(cat.Name)
		if len(specs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", cat.Name)
		if cat.Description != "" {
			b.WriteString(cat.Description + "\n")
		}
		for _, spec := range specs {
			tools = append(tools, spec)
			writeTool(&b, spec)
		}
	}
	return PromptBundle{Tools: tools, Prompt: b.String()}
}

func renderTools(tools []schema.ToolSpecification) string {
	var b strings.Builder
	b.WriteString("Relevant tools for this request:\n")
	for _, spec := range tools {
		writeTool(&b, spec)
	}
	return b.String()
}

// writeTool renders one specification: name, description, parameters by
// schema type, and one sample usage.
func writeTool(b *strings.Builder, spec schema.ToolSpecification) {
	fmt.Fprintf(b, "\n- %s: %s\n", spec.Name, spec.Description)

	if props := schemaProperties(spec.Parameters); len(props) > 0 {
		b.WriteString("  parameters:")
		names := make([]string, 0, len(props))
		for n := range props {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(b, " %s (%s)", n, props[n])
		}
		b.WriteString("\n")
	}
	if len(spec.SampleUsages) > 0 {
		fmt.Fprintf(b, "  example: %s\n", spec.SampleUsages[0])
	}
}

// schemaProperties flattens a JSON-schema-shaped parameters object into
// name -> type.
func schemaProperties(params map[string]any) map[string]string {
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(props))
	for name, raw := range props {
		typ := "any"
		if m, ok := raw.(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				typ = t
			}
		}
		out[name] = typ
	}
	return out
}
