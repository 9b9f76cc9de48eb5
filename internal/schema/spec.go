package schema

// ToolSpecification is one registry entry, loaded from a per-tool YAML file
// under <registry root>/<category>/<tool>.yaml.
type ToolSpecification struct {
	Name          string         `yaml:"name" json:"name"`
	Version       string         `yaml:"version,omitempty" json:"version,omitempty"`
	Description   string         `yaml:"description" json:"description"`
	Category      string         `yaml:"category" json:"category"`
	Keywords      []string       `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Priority      int            `yaml:"priority" json:"priority"` // 1..3, 1 = core
	Execution     ExecutionSpec  `yaml:"execution" json:"execution"`
	Parameters    map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	SampleUsages  []string       `yaml:"sample_usages,omitempty" json:"sample_usages,omitempty"`
	Relationships Relationships  `yaml:"relationships,omitempty" json:"relationships,omitempty"`
	Metadata      UsageMetadata  `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ExecutionSpec describes where and under what constraints a tool runs.
type ExecutionSpec struct {
	Type            string `yaml:"type" json:"type"` // "client" | "server"
	TimeoutMs       int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries         int    `yaml:"retries,omitempty" json:"retries,omitempty"`
	RequiresAuth    bool   `yaml:"requires_auth,omitempty" json:"requires_auth,omitempty"`
	RequiresData    bool   `yaml:"requires_data,omitempty" json:"requires_data,omitempty"`
	RequiresNetwork bool   `yaml:"requires_network,omitempty" json:"requires_network,omitempty"`
}

// Relationships links a tool to its neighbours in the registry.
type Relationships struct {
	DependsOn    []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Enhances     []string `yaml:"enhances,omitempty" json:"enhances,omitempty"`
	Alternatives []string `yaml:"alternatives,omitempty" json:"alternatives,omitempty"`
}

// UsageMetadata holds runtime counters updated by the execution tracker.
type UsageMetadata struct {
	UsageCount  int     `yaml:"usage_count,omitempty" json:"usage_count,omitempty"`
	SuccessRate float64 `yaml:"success_rate,omitempty" json:"success_rate,omitempty"`
}

// Category is one entry of the tool_categories.yaml manifest.
type Category struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Priority    int    `yaml:"priority,omitempty" json:"priority,omitempty"`
}
