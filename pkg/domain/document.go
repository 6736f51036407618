package domain

// Document is the mutable state threaded through a document-processing
// pipeline. It is shared by reference: mutations made by a step are
// immediately visible to every later step. Steps coordinate access
// themselves; the engine imposes no locking and makes no copy.
type Document struct {
	ID        string         `json:"id"`
	Source    string         `json:"source,omitempty"`
	Variables map[string]any `json:"variables"`
	Findings  []Finding      `json:"findings,omitempty"`

	// Blocked marks the document as stopped by a gating step;
	// BlockReason carries the operator-facing explanation.
	Blocked     bool   `json:"blocked"`
	BlockReason string `json:"blockReason,omitempty"`
}

// Finding records one observation a step attached to the document.
type Finding struct {
	Step     string `json:"step"`
	RuleID   string `json:"ruleId,omitempty"`
	Severity string `json:"severity,omitempty"`
	Summary  string `json:"summary"`
}

// NewDocument returns a document with an initialised variable map.
func NewDocument(id string) *Document {
	return &Document{
		ID:        id,
		Variables: make(map[string]any),
	}
}

// Block marks the document blocked with the given reason. The first reason
// wins; later blocks only keep the flag set.
func (d *Document) Block(reason string) {
	if !d.Blocked {
		d.BlockReason = reason
	}
	d.Blocked = true
}

// AddFinding appends a finding to the document.
func (d *Document) AddFinding(f Finding) {
	d.Findings = append(d.Findings, f)
}
