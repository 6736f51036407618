package steps

import (
	"context"
	"fmt"

	"github.com/stepflow/stepflow-oss/pkg/domain"
	"github.com/stepflow/stepflow-oss/pkg/pipeline"
)

// Annotate attaches a configured finding to the document and continues.
type Annotate struct {
	meta    pipeline.Metadata
	finding domain.Finding
}

func buildAnnotate(def Definition) (pipeline.Step[*domain.Document], error) {
	summary, ok := stringParam(def.Params, "summary")
	if !ok {
		return nil, fmt.Errorf("step %q: annotate needs a summary param", def.DisplayName())
	}
	severity, _ := stringParam(def.Params, "severity")
	ruleID, _ := stringParam(def.Params, "ruleId")

	description := def.Description
	if description == "" {
		description = "Attaches a finding to the document"
	}
	return &Annotate{
		meta: pipeline.Metadata{
			Name:        def.DisplayName(),
			Description: description,
		},
		finding: domain.Finding{
			RuleID:   ruleID,
			Severity: severity,
			Summary:  summary,
		},
	}, nil
}

// Metadata implements pipeline.Step.
func (s *Annotate) Metadata() pipeline.Metadata { return s.meta }

// Invoke implements pipeline.Step.
func (s *Annotate) Invoke(ctx context.Context, doc *domain.Document, next pipeline.Next[*domain.Document]) error {
	finding := s.finding
	finding.Step = s.meta.Name
	doc.AddFinding(finding)
	return next(ctx, doc)
}

// Passthrough does nothing besides handing control to the rest of the chain.
type Passthrough struct {
	meta pipeline.Metadata
}

func buildPassthrough(def Definition) (pipeline.Step[*domain.Document], error) {
	description := def.Description
	if description == "" {
		description = "No-op step"
	}
	return &Passthrough{
		meta: pipeline.Metadata{
			Name:        def.DisplayName(),
			Description: description,
		},
	}, nil
}

// Metadata implements pipeline.Step.
func (s *Passthrough) Metadata() pipeline.Metadata { return s.meta }

// Invoke implements pipeline.Step.
func (s *Passthrough) Invoke(ctx context.Context, doc *domain.Document, next pipeline.Next[*domain.Document]) error {
	return next(ctx, doc)
}
