// Package steps provides the built-in document steps and the catalog that
// builds them from configuration definitions.
package steps

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/stepflow/stepflow-oss/pkg/domain"
	"github.com/stepflow/stepflow-oss/pkg/pipeline"
)

// Definition describes one configured step instance.
type Definition struct {
	Type         string
	Name         string
	Description  string
	Order        int
	Disabled     bool
	Environments []string
	Params       map[string]any
}

// DisplayName returns the instance name, falling back to the step type.
func (d Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Type
}

// Builder constructs a step from its definition.
type Builder func(def Definition) (pipeline.Step[*domain.Document], error)

type builderMetadata struct {
	Kind      string
	Version   string
	Canonical string
}

// Catalog stores canonical step builders and alias mappings, keyed by
// kind@version the way node types are written in pipeline files.
type Catalog struct {
	builders map[string]Builder
	aliases  map[string]string
	logger   *slog.Logger
}

// NewCatalog returns a catalog pre-populated with the built-in step types.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		builders: make(map[string]Builder),
		aliases:  make(map[string]string),
		logger:   logger,
	}
	c.registerDefaults()
	return c
}

// Register adds or replaces a builder for a step type.
func (c *Catalog) Register(kind, version string, builder Builder, aliases ...string) {
	canonical := canonicalKey(kind, version)
	c.builders[canonical] = builder
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		c.aliases[alias] = canonical
	}
	if _, exists := c.aliases[kind]; !exists {
		c.aliases[kind] = canonical
	}
}

// Build constructs the step described by the definition.
func (c *Catalog) Build(def Definition) (pipeline.Step[*domain.Document], error) {
	builder, _, ok := c.resolve(def.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStepType, def.Type)
	}
	return builder(def)
}

// Registry converts definitions into a pipeline registry. Steps are built
// lazily: a definition whose builder would fail only surfaces the failure if
// its step is actually reached or listed.
func (c *Catalog) Registry(defs []Definition) (*pipeline.Registry[*domain.Document], error) {
	registry := pipeline.NewRegistry[*domain.Document]()
	for _, def := range defs {
		def := def
		if _, _, ok := c.resolve(def.Type); !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStepType, def.Type)
		}
		err := registry.Add(pipeline.Registration[*domain.Document]{
			Name:         def.DisplayName(),
			Order:        def.Order,
			Disabled:     def.Disabled,
			Environments: def.Environments,
			Factory: func() (pipeline.Step[*domain.Document], error) {
				return c.Build(def)
			},
		})
		if err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (c *Catalog) resolve(raw string) (Builder, builderMetadata, bool) {
	kind, version := parseStepType(raw)
	canonical := canonicalKey(kind, version)
	if builder, ok := c.builders[canonical]; ok {
		return builder, builderMetadata{Kind: kind, Version: version, Canonical: canonical}, true
	}
	if alias, ok := c.aliases[raw]; ok {
		if builder, ok := c.builders[alias]; ok {
			return builder, builderMetadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
		}
	}
	if version == "" {
		if alias, ok := c.aliases[kind]; ok {
			if builder, ok := c.builders[alias]; ok {
				return builder, builderMetadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
			}
		}
	}
	return nil, builderMetadata{}, false
}

// registerDefaults wires the built-in step types.
func (c *Catalog) registerDefaults() {
	c.Register("vars.set", "v1", buildSetVars, "vars.set", "set")
	c.Register("guard.require", "v1", buildRequireVars, "guard.require", "guard", "require")
	c.Register("policy.gate", "v1", c.buildPolicyGate, "policy.gate", "policy", "gate")
	c.Register("annotate", "v1", buildAnnotate, "annotate", "findings.add")
	c.Register("passthrough", "v1", buildPassthrough, "passthrough", "noop")
}

func parseStepType(raw string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(raw), "@", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func canonicalKey(kind, version string) string {
	kind = strings.TrimSpace(kind)
	version = strings.TrimSpace(version)
	if version == "" {
		return kind
	}
	return kind + "@" + version
}

func versionFromKey(key string) string {
	_, version := parseStepType(key)
	return version
}
