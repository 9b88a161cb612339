package transform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Condition gates a mapping on a source-message field. All conditions of a
// mapping are AND-ed.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// FieldMapping is one declarative source-path to target-path projection.
// SourceField is either a "SEG-n" path into the grammar tree or one of the
// pseudo-fields reflecting message metadata (MessageType, Version, ...).
type FieldMapping struct {
	SourceField       string      `json:"source"`
	TargetField       string      `json:"target"`
	TransformFunction string      `json:"transformFunction,omitempty"`
	DataType          string      `json:"dataType,omitempty"`
	DefaultValue      string      `json:"defaultValue,omitempty"`
	IsRequired        bool        `json:"isRequired,omitempty"`
	Conditions        []Condition `json:"conditions,omitempty"`

	// ValidationPattern is collected and checked against the pre-coercion
	// string but mismatches do not reject the mapping; the pattern is
	// advisory metadata in this design.
	ValidationPattern string `json:"validationPattern,omitempty"`
}

// CustomRule is an expression rule applied after the declarative mappings.
// The only RuleType currently evaluated is "fieldtransform": the expression
// concatenates {key} references to already-resolved target keys with
// literal separators, and the result is written under Name.
type CustomRule struct {
	Name       string   `json:"name"`
	RuleType   string   `json:"ruleType"`
	AppliesTo  []string `json:"appliesTo,omitempty"`
	Expression string   `json:"expression"`
	IsActive   bool     `json:"isActive"`
}

// RuleSet is the parsed form of the serializable rule-set document owned by
// the external CRUD collaborators.
type RuleSet struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Mappings    []FieldMapping `json:"mappings"`
	CustomRules []CustomRule   `json:"customRules,omitempty"`
}

// ParseRuleSet decodes and sanity-checks a rule-set document.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("transform: invalid rule set document: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the structural invariants of the rule set.
func (rs *RuleSet) Validate() error {
	if strings.TrimSpace(rs.Name) == "" {
		return fmt.Errorf("transform: rule set name is required")
	}
	for i, m := range rs.Mappings {
		if strings.TrimSpace(m.SourceField) == "" {
			return fmt.Errorf("transform: mapping %d of %q has no source field", i, rs.Name)
		}
		if strings.TrimSpace(m.TargetField) == "" {
			return fmt.Errorf("transform: mapping %d of %q has no target field", i, rs.Name)
		}
		for _, c := range m.Conditions {
			switch strings.ToLower(c.Operator) {
			case "equals", "notequals", "contains", "startswith":
			default:
				return fmt.Errorf("transform: mapping %d of %q uses unsupported operator %q",
					i, rs.Name, c.Operator)
			}
		}
	}
	for i, r := range rs.CustomRules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("transform: custom rule %d of %q has no name", i, rs.Name)
		}
	}
	return nil
}

// Encode serializes the rule set back to its document form.
func (rs *RuleSet) Encode() ([]byte, error) {
	return json.Marshal(rs)
}
