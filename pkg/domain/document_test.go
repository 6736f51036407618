package domain

import "testing"

func TestBlockFirstReasonWins(t *testing.T) {
	doc := NewDocument("doc-1")

	doc.Block("first reason")
	doc.Block("second reason")

	if !doc.Blocked {
		t.Fatalf("document must be blocked")
	}
	if doc.BlockReason != "first reason" {
		t.Fatalf("expected first reason to stick, got %q", doc.BlockReason)
	}
}

func TestNewDocumentInitialisesVariables(t *testing.T) {
	doc := NewDocument("doc-1")
	if doc.ID != "doc-1" {
		t.Fatalf("unexpected id %q", doc.ID)
	}
	if doc.Variables == nil {
		t.Fatalf("variable map must be initialised")
	}
}

func TestAddFindingAppends(t *testing.T) {
	doc := NewDocument("doc-1")
	doc.AddFinding(Finding{Step: "a", Summary: "one"})
	doc.AddFinding(Finding{Step: "b", Summary: "two"})

	if len(doc.Findings) != 2 || doc.Findings[1].Step != "b" {
		t.Fatalf("unexpected findings: %v", doc.Findings)
	}
}
