package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyExtraction means the extraction service returned nothing worth analysing
	ErrEmptyExtraction = errors.New("no meaningful data extracted")
	// ErrEmptyAnalysis means the provider returned an empty result
	ErrEmptyAnalysis = errors.New("analysis provider returned no result")
	// ErrMalformedAnalysis means the provider output was unparsable or missing fields
	ErrMalformedAnalysis = errors.New("malformed analysis result")
)

// Analysis field names as exchanged with the provider
const (
	FieldExecutiveSummary = "executive_summary"
	FieldObjectiveFacts   = "objective_facts"
	FieldPositiveSignals  = "positive_signals"
	FieldPotentialRisks   = "potential_risks"
	FieldOverallOpinion   = "overall_opinion"
)

// AnalysisFields lists the five required fields in render order
var AnalysisFields = []string{
	FieldExecutiveSummary,
	FieldObjectiveFacts,
	FieldPositiveSignals,
	FieldPotentialRisks,
	FieldOverallOpinion,
}

// FactList holds objective facts. Providers sometimes return a single string instead of a
// list; that string decodes as one fact.
type FactList []string

// UnmarshalJSON accepts either a JSON array of strings or a single string.
func (f *FactList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = nil
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var raw []interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		facts := make([]string, 0, len(raw))
		for _, item := range raw {
			s := strings.TrimSpace(fmt.Sprint(item))
			if item == nil || s == "" {
				continue
			}
			facts = append(facts, s)
		}
		*f = facts
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("objective_facts must be a list or a string: %w", err)
	}
	single = strings.TrimSpace(single)
	if single == "" {
		*f = FactList{}
		return nil
	}
	*f = FactList{single}
	return nil
}

// Analysis is the five-field structured result of analysing one filing
type Analysis struct {
	ExecutiveSummary string   `json:"executive_summary"`
	ObjectiveFacts   FactList `json:"objective_facts"`
	PositiveSignals  string   `json:"positive_signals"`
	PotentialRisks   string   `json:"potential_risks"`
	OverallOpinion   string   `json:"overall_opinion"`
}

// IsEmpty reports whether no field carries content
func (a *Analysis) IsEmpty() bool {
	if a == nil {
		return true
	}
	return strings.TrimSpace(a.ExecutiveSummary) == "" &&
		len(a.ObjectiveFacts) == 0 &&
		strings.TrimSpace(a.PositiveSignals) == "" &&
		strings.TrimSpace(a.PotentialRisks) == "" &&
		strings.TrimSpace(a.OverallOpinion) == ""
}

// ParseAnalysis decodes provider output into an Analysis.
// The text may wrap the JSON object in prose or code fences; the outermost {...} is used.
// All five keys must be present, otherwise ErrMalformedAnalysis is returned.
func ParseAnalysis(text string) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyAnalysis
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedAnalysis)
	}
	body := []byte(text[start : end+1])

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	var missing []string
	for _, field := range AnalysisFields {
		if _, ok := keys[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedAnalysis, strings.Join(missing, ", "))
	}

	var analysis Analysis
	if err := json.Unmarshal(body, &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	if analysis.IsEmpty() {
		return nil, ErrEmptyAnalysis
	}
	return &analysis, nil
}
