package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var validDecisions = map[Decision]bool{DecisionAllow: true, DecisionDeny: true, DecisionReview: true}

// LoadDocument reads and validates a YAML policy document, grounded on
// internal/config.LoadConfig's read-unmarshal-validate shape.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("policy: cannot read %q: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("policy: cannot parse %q: %w", path, err)
	}

	if err := validateDocument(doc); err != nil {
		return Document{}, fmt.Errorf("policy: validation failed for %q: %w", path, err)
	}
	return doc, nil
}

func validateDocument(doc Document) error {
	if doc.Defaults.Decision != "" && !validDecisions[doc.Defaults.Decision] {
		return fmt.Errorf("defaults.decision %q must be one of: allow, deny, review", doc.Defaults.Decision)
	}
	for i, rule := range doc.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rules[%d]: name is required", i)
		}
		if !validDecisions[rule.Decision] {
			return fmt.Errorf("rules[%d] %q: decision %q must be one of: allow, deny, review", i, rule.Name, rule.Decision)
		}
	}
	return nil
}
