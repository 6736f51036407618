package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/stepflow/stepflow-oss/pkg/domain"
	"github.com/stepflow/stepflow-oss/pkg/pipeline"
)

// SetVars writes a fixed set of variables into the document and continues.
type SetVars struct {
	meta   pipeline.Metadata
	values map[string]any
}

func buildSetVars(def Definition) (pipeline.Step[*domain.Document], error) {
	values, err := mapParam(def.Params, "values")
	if err != nil {
		return nil, err
	}
	description := def.Description
	if description == "" {
		description = "Sets configured variables on the document"
	}
	return &SetVars{
		meta: pipeline.Metadata{
			Name:        def.DisplayName(),
			Description: description,
		},
		values: values,
	}, nil
}

// Metadata implements pipeline.Step.
func (s *SetVars) Metadata() pipeline.Metadata { return s.meta }

// Invoke implements pipeline.Step.
func (s *SetVars) Invoke(ctx context.Context, doc *domain.Document, next pipeline.Next[*domain.Document]) error {
	if doc.Variables == nil {
		doc.Variables = make(map[string]any, len(s.values))
	}
	for k, v := range s.values {
		doc.Variables[k] = v
	}
	return next(ctx, doc)
}

// RequireVars blocks the document and short-circuits when any required
// variable is absent.
type RequireVars struct {
	meta pipeline.Metadata
	keys []string
}

func buildRequireVars(def Definition) (pipeline.Step[*domain.Document], error) {
	keys, err := stringSliceParam(def.Params, "keys")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("step %q: guard.require needs a non-empty keys list", def.DisplayName())
	}
	description := def.Description
	if description == "" {
		description = "Requires the listed variables to be present"
	}
	return &RequireVars{
		meta: pipeline.Metadata{
			Name:                  def.DisplayName(),
			Description:           description,
			MayShortCircuit:       true,
			ShortCircuitCondition: "a required variable is absent",
		},
		keys: keys,
	}, nil
}

// Metadata implements pipeline.Step.
func (s *RequireVars) Metadata() pipeline.Metadata { return s.meta }

// Invoke implements pipeline.Step.
func (s *RequireVars) Invoke(ctx context.Context, doc *domain.Document, next pipeline.Next[*domain.Document]) error {
	var missing []string
	for _, key := range s.keys {
		if _, ok := doc.Variables[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		reason := fmt.Sprintf("missing required variables: %s", strings.Join(missing, ", "))
		doc.Block(reason)
		doc.AddFinding(domain.Finding{
			Step:     s.meta.Name,
			Severity: "warning",
			Summary:  reason,
		})
		return nil
	}
	return next(ctx, doc)
}
