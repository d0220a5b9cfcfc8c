package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ternarybob/filingwatch/internal/models"
)

// Request is a fully shaped provider request
type Request struct {
	System string
	Prompt string
	Schema map[string]interface{}
}

// fieldGuidance is the per-field length instruction of one request variant
type fieldGuidance struct {
	summary  string
	facts    string
	positive string
	risks    string
	opinion  string
}

var (
	periodicGuidance = fieldGuidance{
		summary:  "exactly 3 sentences covering the most important results for an investor",
		facts:    "4 to 6 bullet strings of concrete figures and facts stated in the filing",
		positive: "2 to 3 sentences on bullish signals",
		risks:    "2 to 3 sentences on bearish risks and concerns",
		opinion:  "1 to 2 sentences with an overall verdict",
	}
	eventGuidance = fieldGuidance{
		summary:  "at most 3 short sentences on what happened and why it matters",
		facts:    "2 to 4 short bullet strings of the concrete facts disclosed",
		positive: "1 to 2 sentences on bullish implications",
		risks:    "1 to 2 sentences on bearish implications",
		opinion:  "1 sentence with an overall verdict",
	}
	condenseGuidance = fieldGuidance{
		summary:  "at most 2 sentences",
		facts:    "at most 3 bullet strings, each at most 80 characters",
		positive: "at most 1 sentence",
		risks:    "at most 1 sentence",
		opinion:  "at most 1 sentence",
	}
)

// Builder shapes provider requests. It performs no I/O.
type Builder struct {
	language     string
	maxTextChars int
}

// NewBuilder creates a request builder. Excerpts longer than maxTextChars are cut.
func NewBuilder(language string, maxTextChars int) *Builder {
	if language == "" {
		language = "Korean"
	}
	return &Builder{
		language:     language,
		maxTextChars: maxTextChars,
	}
}

// Build shapes the analysis request for one filing. Unsupported filing types fail with
// models.ErrUnsupportedFilingType; content with nothing to analyse fails with models.ErrEmptyExtraction.
func (b *Builder) Build(identifier string, filingType models.FilingType, content *models.ExtractedContent) (*Request, error) {
	if content.IsEmpty() {
		return nil, models.ErrEmptyExtraction
	}

	switch filingType {
	case models.FilingTypePeriodicAnnual, models.FilingTypePeriodicQuarterly:
		return b.buildPeriodic(identifier, filingType, content)
	case models.FilingTypeEvent:
		return b.buildEvent(identifier, content)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFilingType, filingType)
	}
}

func (b *Builder) buildPeriodic(identifier string, filingType models.FilingType, content *models.ExtractedContent) (*Request, error) {
	management := b.excerpt(content.ManagementText)
	risks := b.excerpt(content.RiskFactorsText)
	if len(content.FinancialMetrics) == 0 && management == "" && risks == "" {
		return nil, fmt.Errorf("%w: periodic report has no metrics or narrative sections", models.ErrEmptyExtraction)
	}

	period := "annual"
	if filingType == models.FilingTypePeriodicQuarterly {
		period = "quarterly"
	}

	var p strings.Builder
	fmt.Fprintf(&p, "Analyze the %s report (form %s) filed by %q.\n\n", period, filingType.FormName(), identifier)

	p.WriteString("## Financial highlights\n")
	for _, line := range RenderMetrics(content.FinancialMetrics) {
		p.WriteString("- " + line + "\n")
	}

	p.WriteString("\n## Management's discussion and analysis (excerpt)\n")
	p.WriteString(orNA(management))
	p.WriteString("\n\n## Risk factors (excerpt)\n")
	p.WriteString(orNA(risks))
	p.WriteString("\n\n")
	p.WriteString(b.instructions(periodicGuidance))

	return &Request{
		System: b.systemPrompt(),
		Prompt: p.String(),
		Schema: AnalysisSchema(),
	}, nil
}

func (b *Builder) buildEvent(identifier string, content *models.ExtractedContent) (*Request, error) {
	items := DescribeEventItems(content.EventCodes)

	text := b.excerpt(content.PressReleaseText)
	source := "Press release (excerpt)"
	if text == "" {
		text = b.excerpt(content.FullText)
		source = "Filing text (excerpt)"
	}
	if len(items) == 0 && text == "" {
		return nil, fmt.Errorf("%w: event report has no items or text", models.ErrEmptyExtraction)
	}

	var p strings.Builder
	fmt.Fprintf(&p, "Analyze the current report (form 8-K) filed by %q.\n\n", identifier)

	p.WriteString("## Reported items\n")
	if len(items) == 0 {
		p.WriteString("- N/A\n")
	}
	for _, item := range items {
		p.WriteString("- " + item + "\n")
	}

	fmt.Fprintf(&p, "\n## %s\n", source)
	p.WriteString(orNA(text))
	p.WriteString("\n\n")
	p.WriteString(b.instructions(eventGuidance))

	return &Request{
		System: b.systemPrompt(),
		Prompt: p.String(),
		Schema: AnalysisSchema(),
	}, nil
}

// BuildCondense shapes the request that shortens an existing analysis to fit a message
func (b *Builder) BuildCondense(analysis *models.Analysis) (*Request, error) {
	if analysis.IsEmpty() {
		return nil, models.ErrEmptyAnalysis
	}
	current, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis: %w", err)
	}

	var p strings.Builder
	p.WriteString("The analysis below is too long to deliver. Rewrite it shorter while keeping the most important information.\n")
	p.WriteString("Do not add facts that are not in the original.\n\n")
	p.WriteString("## Current analysis\n")
	p.Write(current)
	p.WriteString("\n\n")
	p.WriteString(b.instructions(condenseGuidance))

	return &Request{
		System: b.systemPrompt(),
		Prompt: p.String(),
		Schema: AnalysisSchema(),
	}, nil
}

func (b *Builder) systemPrompt() string {
	return fmt.Sprintf("You are an expert financial analyst writing for retail investors. "+
		"Base every statement on the supplied filing content. Write all values in %s.", b.language)
}

func (b *Builder) instructions(g fieldGuidance) string {
	var s strings.Builder
	fmt.Fprintf(&s, "Respond with a single JSON object only, no markdown, with these keys (all text in %s):\n", b.language)
	fmt.Fprintf(&s, "- %q: %s\n", models.FieldExecutiveSummary, g.summary)
	fmt.Fprintf(&s, "- %q: a list of %s\n", models.FieldObjectiveFacts, g.facts)
	fmt.Fprintf(&s, "- %q: %s\n", models.FieldPositiveSignals, g.positive)
	fmt.Fprintf(&s, "- %q: %s\n", models.FieldPotentialRisks, g.risks)
	fmt.Fprintf(&s, "- %q: %s", models.FieldOverallOpinion, g.opinion)
	return s.String()
}

// excerpt trims whitespace and caps text at maxTextChars runes
func (b *Builder) excerpt(text string) string {
	text = strings.TrimSpace(text)
	if b.maxTextChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= b.maxTextChars {
		return text
	}
	return string(runes[:b.maxTextChars]) + "\n[...]"
}

// RenderMetrics renders the fixed metric list in order, "N/A" for absent metrics
func RenderMetrics(metrics map[string]float64) []string {
	lines := make([]string, len(models.FinancialMetricNames))
	for i, name := range models.FinancialMetricNames {
		value, ok := metrics[name]
		if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
			lines[i] = name + ": N/A"
			continue
		}
		lines[i] = name + ": " + FormatAmount(value)
	}
	return lines
}

// FormatAmount renders a currency amount compactly, e.g. "$394.33B" or "-$1.20M"
func FormatAmount(value float64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	switch {
	case value >= 1e12:
		return fmt.Sprintf("%s$%.2fT", sign, value/1e12)
	case value >= 1e9:
		return fmt.Sprintf("%s$%.2fB", sign, value/1e9)
	case value >= 1e6:
		return fmt.Sprintf("%s$%.2fM", sign, value/1e6)
	default:
		return fmt.Sprintf("%s$%.0f", sign, value)
	}
}

// AnalysisSchema is the JSON schema of the five-field result
func AnalysisSchema() map[string]interface{} {
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			models.FieldExecutiveSummary: str("Short executive summary"),
			models.FieldObjectiveFacts: map[string]interface{}{
				"type":        "array",
				"description": "Objective facts stated in the filing",
				"items":       map[string]interface{}{"type": "string"},
			},
			models.FieldPositiveSignals: str("Bullish signals"),
			models.FieldPotentialRisks:  str("Bearish risks"),
			models.FieldOverallOpinion:  str("Overall verdict"),
		},
		"required": append([]string(nil), models.AnalysisFields...),
	}
}

func orNA(text string) string {
	if text == "" {
		return "N/A"
	}
	return text
}
