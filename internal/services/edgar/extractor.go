package edgar

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
)

// sectionBounds locates one narrative section by its start heading and the heading that follows it
type sectionBounds struct {
	start *regexp.Regexp
	end   *regexp.Regexp
}

var (
	annualMDA = sectionBounds{
		start: regexp.MustCompile(`(?i)item\s*7\.?\s*[-–—:.]?\s*management['’]?s\s+discussion`),
		end:   regexp.MustCompile(`(?i)item\s*7a\.?\s*[-–—:.]?\s*quantitative|item\s*8\.?\s*[-–—:.]?\s*financial\s+statements`),
	}
	quarterlyMDA = sectionBounds{
		start: regexp.MustCompile(`(?i)item\s*2\.?\s*[-–—:.]?\s*management['’]?s\s+discussion`),
		end:   regexp.MustCompile(`(?i)item\s*3\.?\s*[-–—:.]?\s*quantitative|item\s*4\.?\s*[-–—:.]?\s*controls`),
	}
	annualRisks = sectionBounds{
		start: regexp.MustCompile(`(?i)item\s*1a\.?\s*[-–—:.]?\s*risk\s+factors`),
		end:   regexp.MustCompile(`(?i)item\s*1b\.?\s*[-–—:.]?\s*unresolved|item\s*1c\.?\s*[-–—:.]?\s*cybersecurity|item\s*2\.?\s*[-–—:.]?\s*properties`),
	}
	quarterlyRisks = sectionBounds{
		start: regexp.MustCompile(`(?i)item\s*1a\.?\s*[-–—:.]?\s*risk\s+factors`),
		end:   regexp.MustCompile(`(?i)item\s*2\.?\s*[-–—:.]?\s*unregistered|item\s*3\.?\s*[-–—:.]?\s*defaults|item\s*5\.?\s*[-–—:.]?\s*other\s+information|item\s*6\.?\s*[-–—:.]?\s*exhibits`),
	}

	eventItemPattern = regexp.MustCompile(`(?i)item\s+(\d\.\d\d)`)
	blankLines       = regexp.MustCompile(`\n{3,}`)
)

// filingIndex is the directory listing served as index.json in every filing folder
type filingIndex struct {
	Directory struct {
		Item []struct {
			Name string `json:"name"`
		} `json:"item"`
	} `json:"directory"`
}

// Extractor pulls narrative sections, financial metrics and event items out of EDGAR filings
type Extractor struct {
	client       *Client
	resolver     interfaces.CIKResolver
	factsURL     string
	maxTextChars int
	policy       *bluemonday.Policy
	logger       arbor.ILogger
}

// NewExtractor creates an extractor. Narrative excerpts are capped at maxTextChars runes.
func NewExtractor(client *Client, resolver interfaces.CIKResolver, factsURL string, maxTextChars int, logger arbor.ILogger) *Extractor {
	return &Extractor{
		client:       client,
		resolver:     resolver,
		factsURL:     strings.TrimRight(factsURL, "/"),
		maxTextChars: maxTextChars,
		policy:       bluemonday.UGCPolicy(),
		logger:       logger,
	}
}

// Extract fetches the document at sourceLocation and extracts the content for its filing type
func (e *Extractor) Extract(ctx context.Context, identifier string, filingType models.FilingType, sourceLocation string) (*models.ExtractedContent, error) {
	var content *models.ExtractedContent
	var err error

	switch filingType {
	case models.FilingTypePeriodicAnnual, models.FilingTypePeriodicQuarterly:
		content, err = e.extractPeriodic(ctx, identifier, filingType, sourceLocation)
	case models.FilingTypeEvent:
		content, err = e.extractEvent(ctx, sourceLocation)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFilingType, filingType)
	}
	if err != nil {
		return nil, err
	}

	if content.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyExtraction, sourceLocation)
	}
	return content, nil
}

func (e *Extractor) extractPeriodic(ctx context.Context, identifier string, filingType models.FilingType, sourceLocation string) (*models.ExtractedContent, error) {
	text, _, err := e.fetchDocument(ctx, sourceLocation)
	if err != nil {
		return nil, err
	}

	mda, risks := annualMDA, annualRisks
	if filingType == models.FilingTypePeriodicQuarterly {
		mda, risks = quarterlyMDA, quarterlyRisks
	}

	content := &models.ExtractedContent{
		ManagementText:  e.capText(cutSection(text, mda)),
		RiskFactorsText: e.capText(cutSection(text, risks)),
	}

	// Metrics are optional: small filers and some foreign issuers publish no company facts
	accession, ok := accessionFromLocation(sourceLocation)
	if !ok {
		e.logger.Warn().
			Str("source_location", sourceLocation).
			Msg("Cannot derive accession number, skipping financial metrics")
		return content, nil
	}
	cik, _, err := e.resolver.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	metrics, err := e.fetchMetrics(ctx, cik, accession)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("identifier", identifier).
			Str("accession", accession).
			Msg("Financial metrics unavailable")
		return content, nil
	}
	content.FinancialMetrics = metrics

	e.logger.Debug().
		Str("identifier", identifier).
		Str("accession", accession).
		Int("metrics", len(metrics)).
		Int("mda_chars", len(content.ManagementText)).
		Int("risk_chars", len(content.RiskFactorsText)).
		Msg("Periodic report extracted")
	return content, nil
}

func (e *Extractor) extractEvent(ctx context.Context, sourceLocation string) (*models.ExtractedContent, error) {
	text, doc, err := e.fetchDocument(ctx, sourceLocation)
	if err != nil {
		return nil, err
	}

	content := &models.ExtractedContent{
		EventCodes: eventCodes(text),
	}

	if exhibit := e.findPressRelease(ctx, doc, sourceLocation); exhibit != "" {
		pressText, _, err := e.fetchDocument(ctx, exhibit)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("exhibit", exhibit).
				Msg("Press release exhibit could not be fetched, using filing text")
		} else {
			content.PressReleaseText = e.capText(pressText)
		}
	}
	if content.PressReleaseText == "" {
		content.FullText = e.capText(text)
	}

	e.logger.Debug().
		Str("source_location", sourceLocation).
		Strs("event_codes", content.EventCodes).
		Bool("press_release", content.PressReleaseText != "").
		Msg("Event report extracted")
	return content, nil
}

// fetchDocument downloads an HTML document and returns its cleaned markdown text and parsed DOM
func (e *Extractor) fetchDocument(ctx context.Context, location string) (string, *goquery.Document, error) {
	body, err := e.client.GetBody(ctx, location)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch filing document: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse filing document: %w", err)
	}

	return e.cleanText(doc, location), doc, nil
}

// cleanText drops inline XBRL headers and hidden blocks, sanitises, and converts to markdown.
// Plain DOM text is the fallback when conversion fails.
func (e *Extractor) cleanText(doc *goquery.Document, location string) string {
	doc.Find("script, style").Remove()
	doc.Find(`[style*="display:none"], [style*="display: none"]`).Remove()
	doc.Find(`ix\:header`).Remove()

	html, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(html) == "" {
		html, _ = doc.Html()
	}

	sanitized := e.policy.Sanitize(html)
	converter := md.NewConverter(filingFolder(location), true, nil)
	text, err := converter.ConvertString(sanitized)
	if err != nil || strings.TrimSpace(text) == "" {
		e.logger.Debug().Err(err).Msg("Markdown conversion failed, using plain text")
		text = doc.Text()
	}

	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// findPressRelease returns the URL of the EX-99 exhibit of an event filing, or "".
// Links in the primary document are tried first, then the folder's index.json.
func (e *Extractor) findPressRelease(ctx context.Context, doc *goquery.Document, sourceLocation string) string {
	folder := filingFolder(sourceLocation)

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !isPressReleaseName(href) {
			return true
		}
		found = href
		if !strings.Contains(href, "://") {
			found = folder + "/" + strings.TrimPrefix(path.Base(href), "./")
		}
		return false
	})
	if found != "" {
		return found
	}

	var index filingIndex
	if err := e.client.GetJSON(ctx, folder+"/index.json", &index); err != nil {
		e.logger.Debug().Err(err).Str("folder", folder).Msg("Filing index unavailable")
		return ""
	}
	for _, item := range index.Directory.Item {
		if isPressReleaseName(item.Name) {
			return folder + "/" + item.Name
		}
	}
	return ""
}

func isPressReleaseName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "ex99") || strings.Contains(lower, "ex-99") || strings.Contains(lower, "ex_99")
}

// eventCodes returns the distinct 8-K item codes in order of appearance
func eventCodes(text string) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, m := range eventItemPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			codes = append(codes, m[1])
		}
	}
	return codes
}

// cutSection returns the longest span from a start heading to the next end heading.
// The longest span skips the table of contents, whose entries sit right next to each other.
func cutSection(text string, bounds sectionBounds) string {
	best := ""
	for _, loc := range bounds.start.FindAllStringIndex(text, -1) {
		rest := text[loc[1]:]
		stop := len(rest)
		if end := bounds.end.FindStringIndex(rest); end != nil {
			stop = end[0]
		}
		section := strings.TrimSpace(text[loc[0] : loc[1]+stop])
		if len(section) > len(best) {
			best = section
		}
	}
	return best
}

func (e *Extractor) capText(text string) string {
	if e.maxTextChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= e.maxTextChars {
		return text
	}
	return string(runes[:e.maxTextChars])
}

var _ interfaces.Extractor = (*Extractor)(nil)
