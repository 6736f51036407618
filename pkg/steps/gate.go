package steps

import (
	"context"
	"fmt"

	"github.com/stepflow/stepflow-oss/pkg/domain"
	"github.com/stepflow/stepflow-oss/pkg/pipeline"
	"github.com/stepflow/stepflow-oss/pkg/policy"
)

// PolicyGate evaluates an embedded OPA policy against the document and
// short-circuits when the decision is block.
type PolicyGate struct {
	meta   pipeline.Metadata
	engine *policy.Engine
}

func (c *Catalog) buildPolicyGate(def Definition) (pipeline.Step[*domain.Document], error) {
	module, ok := stringParam(def.Params, "module")
	if !ok {
		return nil, fmt.Errorf("step %q: policy.gate needs a rego module param", def.DisplayName())
	}
	entrypoint, _ := stringParam(def.Params, "entrypoint")

	engine, err := policy.NewEngine(context.Background(), policy.Options{
		Entrypoint: entrypoint,
		Modules:    map[string]string{def.DisplayName() + ".rego": module},
	})
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", def.DisplayName(), err)
	}

	description := def.Description
	if description == "" {
		description = "Gates the document on an OPA policy decision"
	}
	c.logger.Debug("compiled policy gate", "step", def.DisplayName(), "entrypoint", entrypoint)

	return &PolicyGate{
		meta: pipeline.Metadata{
			Name:                  def.DisplayName(),
			Description:           description,
			MayShortCircuit:       true,
			ShortCircuitCondition: "the policy decision is block",
		},
		engine: engine,
	}, nil
}

// Metadata implements pipeline.Step.
func (s *PolicyGate) Metadata() pipeline.Metadata { return s.meta }

// Invoke implements pipeline.Step.
func (s *PolicyGate) Invoke(ctx context.Context, doc *domain.Document, next pipeline.Next[*domain.Document]) error {
	input := map[string]any{
		"document": map[string]any{
			"id":        doc.ID,
			"source":    doc.Source,
			"variables": doc.Variables,
			"blocked":   doc.Blocked,
		},
	}

	decision, err := s.engine.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPolicyEvalFailed, err)
	}

	if decision.Action == policy.ActionBlock {
		reason := decision.Reason
		if reason == "" {
			reason = "blocked by policy"
		}
		doc.Block(reason)
		doc.AddFinding(domain.Finding{
			Step:     s.meta.Name,
			Severity: "error",
			Summary:  reason,
		})
		return nil
	}
	return next(ctx, doc)
}
