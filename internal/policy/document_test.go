package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"peaccore/internal/policy"
)

func writeTempDoc(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp policy doc: %v", err)
	}
	return path
}

func TestLoadDocument_ParsesRules(t *testing.T) {
	path := writeTempDoc(t, `
version: "2026-07-01"
defaults:
  decision: review
  reason: undeclared_default
rules:
  - name: allow-search
    purpose: search
    decision: allow
    reason: search_allowed
`)
	doc, err := policy.LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].Name != "allow-search" {
		t.Fatalf("unexpected rules: %+v", doc.Rules)
	}
	if doc.Defaults.Decision != policy.DecisionReview {
		t.Fatalf("defaults.decision = %q, want review", doc.Defaults.Decision)
	}
}

func TestLoadDocument_RejectsInvalidDecision(t *testing.T) {
	path := writeTempDoc(t, `
rules:
  - name: bad-rule
    decision: maybe
    reason: nonsense
`)
	if _, err := policy.LoadDocument(path); err == nil {
		t.Fatal("expected validation error for invalid decision")
	}
}

func TestLoadDocument_RejectsMissingRuleName(t *testing.T) {
	path := writeTempDoc(t, `
rules:
  - decision: allow
    reason: ok
`)
	if _, err := policy.LoadDocument(path); err == nil {
		t.Fatal("expected validation error for missing rule name")
	}
}
