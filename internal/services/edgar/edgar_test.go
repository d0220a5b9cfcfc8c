package edgar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/models"
)

const testUserAgent = "filingwatch-test admin@example.com"

const tickersJSON = `{
	"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."},
	"1": {"cik_str": 1067983, "ticker": "BRK-B", "title": "BERKSHIRE HATHAWAY INC"}
}`

const submissionsJSON = `{
	"cik": "320193",
	"name": "Apple Inc.",
	"filings": {"recent": {
		"accessionNumber": ["0000320193-25-000001", "0000320193-25-000002", "0000320193-24-000130", "0000320193-24-000125", "0000320193-24-000123"],
		"filingDate":      ["2025-01-30", "2025-01-29", "2024-12-01", "2024-11-15", "2024-11-01"],
		"form":            ["8-K", "4", "10-Q", "10-K/A", "10-K"],
		"primaryDocument": ["aapl-8k.htm", "xslF345X05/wk-form4.xml", "aapl-10q.htm", "aapl-10ka.htm", "aapl-20240928.htm"]
	}}
}`

const annualHTML = `<html><body>
<div style="display:none"><ix:header>hidden xbrl header</ix:header></div>
<p>Table of Contents</p>
<p>Item 1A. Risk Factors 12</p>
<p>Item 1B. Unresolved Staff Comments 20</p>
<p>Item 7. Management's Discussion and Analysis 25</p>
<p>Item 7A. Quantitative and Qualitative Disclosures 40</p>
<p><b>Item 1A. Risk Factors</b></p>
<p>The Company depends on component suppliers located in Asia.</p>
<p><b>Item 1B. Unresolved Staff Comments</b></p>
<p>None.</p>
<p><b>Item 7. Management's Discussion and Analysis of Financial Condition</b></p>
<p>Total net sales increased 2% driven by Services.</p>
<script>var tracking = true;</script>
<p><b>Item 7A. Quantitative and Qualitative Disclosures About Market Risk</b></p>
<p>Interest rate risk.</p>
</body></html>`

const factsJSON = `{
	"cik": 320193,
	"entityName": "Apple Inc.",
	"facts": {"us-gaap": {
		"RevenueFromContractWithCustomerExcludingAssessedTax": {"units": {"USD": [
			{"start": "2022-09-25", "end": "2023-09-30", "val": 383285000000, "accn": "0000320193-24-000123", "form": "10-K"},
			{"start": "2023-10-01", "end": "2024-09-28", "val": 391035000000, "accn": "0000320193-24-000123", "form": "10-K"},
			{"start": "2023-10-01", "end": "2024-09-28", "val": 1, "accn": "0000320193-99-000001", "form": "10-K"}
		]}},
		"NetIncomeLoss": {"units": {"USD": [
			{"start": "2023-10-01", "end": "2024-09-28", "val": 93736000000, "accn": "0000320193-24-000123", "form": "10-K"}
		]}},
		"NetCashProvidedByUsedInOperatingActivities": {"units": {"USD": [
			{"start": "2023-10-01", "end": "2024-09-28", "val": 118254000000, "accn": "0000320193-24-000123", "form": "10-K"}
		]}},
		"PaymentsToAcquirePropertyPlantAndEquipment": {"units": {"USD": [
			{"start": "2023-10-01", "end": "2024-09-28", "val": 9447000000, "accn": "0000320193-24-000123", "form": "10-K"}
		]}},
		"Assets": {"units": {"USD": [
			{"end": "2023-09-30", "val": 352583000000, "accn": "0000320193-24-000123", "form": "10-K"},
			{"end": "2024-09-28", "val": 364980000000, "accn": "0000320193-24-000123", "form": "10-K"}
		]}}
	}}
}`

const eventHTML = `<html><body>
<p>Item&#160;2.02 Results of Operations and Financial Condition.</p>
<p>Apple issued a press release announcing results.</p>
<p>Item 9.01 Financial Statements and Exhibits.</p>
<p><a href="aapl-ex991.htm">Exhibit 99.1</a></p>
</body></html>`

const pressHTML = `<html><body><p>Apple reports record first quarter revenue of $124.3 billion.</p></body></html>`

type edgarFixture struct {
	server *httptest.Server

	mu       sync.Mutex
	requests map[string]int
	routes   map[string]string
}

func newEdgarFixture(t *testing.T) *edgarFixture {
	t.Helper()
	f := &edgarFixture{
		requests: make(map[string]int),
		routes: map[string]string{
			"/files/company_tickers.json":                                      tickersJSON,
			"/submissions/CIK0000320193.json":                                  submissionsJSON,
			"/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm": annualHTML,
			"/api/xbrl/companyfacts/CIK0000320193.json":                        factsJSON,
			"/Archives/edgar/data/320193/000032019325000001/aapl-8k.htm":       eventHTML,
			"/Archives/edgar/data/320193/000032019325000001/aapl-ex991.htm":    pressHTML,
		},
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != testUserAgent {
			http.Error(w, "missing user agent", http.StatusForbidden)
			return
		}
		f.mu.Lock()
		body, ok := f.routes[r.URL.Path]
		if ok {
			f.requests[r.URL.Path]++
		}
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".json") {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/html")
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *edgarFixture) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *edgarFixture) set(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = body
}

func (f *edgarFixture) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.routes, path)
}

func (f *edgarFixture) components(t *testing.T) (*TickerDirectory, *FilingSource, *Extractor) {
	client, err := NewClient(testUserAgent, WithRateLimit(100))
	require.NoError(t, err)

	logger := arbor.NewLogger()
	directory := NewTickerDirectory(client, f.server.URL+"/files/company_tickers.json", logger)
	source := NewFilingSource(client, directory, f.server.URL+"/submissions", f.server.URL+"/Archives/edgar/data", logger)
	extractor := NewExtractor(client, directory, f.server.URL+"/api/xbrl/companyfacts", 5000, logger)
	return directory, source, extractor
}

func TestNewClient_RequiresUserAgent(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestTickerDirectory_Lookup(t *testing.T) {
	fixture := newEdgarFixture(t)
	directory, _, _ := fixture.components(t)
	ctx := context.Background()

	cik, title, err := directory.Lookup(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", cik)
	assert.Equal(t, "Apple Inc.", title)

	cik, _, err = directory.Lookup(ctx, "brk.b")
	require.NoError(t, err)
	assert.Equal(t, "0001067983", cik)

	_, _, err = directory.Lookup(ctx, "ZZZZ")
	assert.True(t, errors.Is(err, ErrUnknownTicker))

	_, _, err = directory.Lookup(ctx, "not a ticker!")
	assert.True(t, errors.Is(err, ErrUnknownTicker))

	// loaded once, lookups are served from memory
	assert.Equal(t, 1, fixture.count("/files/company_tickers.json"))
	assert.Equal(t, 2, directory.Size())

	require.NoError(t, directory.Refresh(ctx))
	assert.Equal(t, 2, fixture.count("/files/company_tickers.json"))
}

func TestTickerDirectory_FailedRefreshKeepsEntries(t *testing.T) {
	fixture := newEdgarFixture(t)
	directory, _, _ := fixture.components(t)
	ctx := context.Background()

	_, _, err := directory.Lookup(ctx, "AAPL")
	require.NoError(t, err)

	fixture.remove("/files/company_tickers.json")
	assert.Error(t, directory.Refresh(ctx))

	cik, _, err := directory.Lookup(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", cik)
}

func TestFilingSource_RecentFilings(t *testing.T) {
	fixture := newEdgarFixture(t)
	_, source, _ := fixture.components(t)

	filings, err := source.RecentFilings(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, filings, 3, "form 4 and the 10-K/A amendment are skipped")

	assert.Equal(t, "0000320193-25-000001", filings[0].Ref)
	assert.Equal(t, models.FilingTypeEvent, filings[0].Type)
	assert.Equal(t, models.FilingTypePeriodicQuarterly, filings[1].Type)
	assert.Equal(t, models.FilingTypePeriodicAnnual, filings[2].Type)
	assert.Equal(t, "2024-11-01", filings[2].Date)
	assert.Equal(t, "AAPL", filings[2].Identifier)
	assert.Equal(t, fixture.server.URL+"/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm", filings[2].SourceLocation)
}

func TestFilingSource_UnknownTicker(t *testing.T) {
	fixture := newEdgarFixture(t)
	_, source, _ := fixture.components(t)

	_, err := source.RecentFilings(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, ErrUnknownTicker))
}

func TestExtractor_Periodic(t *testing.T) {
	fixture := newEdgarFixture(t)
	_, _, extractor := fixture.components(t)

	content, err := extractor.Extract(context.Background(), "AAPL", models.FilingTypePeriodicAnnual,
		fixture.server.URL+"/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm")
	require.NoError(t, err)

	assert.Contains(t, content.ManagementText, "Total net sales increased 2%")
	assert.NotContains(t, content.ManagementText, "Interest rate risk")
	assert.NotContains(t, content.ManagementText, "tracking")
	assert.Contains(t, content.RiskFactorsText, "component suppliers located in Asia")
	assert.NotContains(t, content.RiskFactorsText, "hidden xbrl header")

	assert.Equal(t, 391035000000.0, content.FinancialMetrics[models.MetricRevenue])
	assert.Equal(t, 93736000000.0, content.FinancialMetrics[models.MetricNetIncome])
	assert.Equal(t, 364980000000.0, content.FinancialMetrics[models.MetricTotalAssets])
	assert.Equal(t, 108807000000.0, content.FinancialMetrics[models.MetricFreeCashFlow])
	_, hasGrossProfit := content.FinancialMetrics[models.MetricGrossProfit]
	assert.False(t, hasGrossProfit)
}

func TestExtractor_PeriodicWithoutFacts(t *testing.T) {
	fixture := newEdgarFixture(t)
	fixture.remove("/api/xbrl/companyfacts/CIK0000320193.json")
	_, _, extractor := fixture.components(t)

	content, err := extractor.Extract(context.Background(), "AAPL", models.FilingTypePeriodicAnnual,
		fixture.server.URL+"/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm")
	require.NoError(t, err)
	assert.Empty(t, content.FinancialMetrics)
	assert.NotEmpty(t, content.ManagementText)
}

func TestExtractor_EventWithLinkedExhibit(t *testing.T) {
	fixture := newEdgarFixture(t)
	_, _, extractor := fixture.components(t)

	content, err := extractor.Extract(context.Background(), "AAPL", models.FilingTypeEvent,
		fixture.server.URL+"/Archives/edgar/data/320193/000032019325000001/aapl-8k.htm")
	require.NoError(t, err)

	assert.Equal(t, []string{"2.02", "9.01"}, content.EventCodes)
	assert.Contains(t, content.PressReleaseText, "record first quarter revenue")
	assert.Empty(t, content.FullText)
}

func TestExtractor_EventExhibitFromIndex(t *testing.T) {
	fixture := newEdgarFixture(t)
	fixture.set("/Archives/edgar/data/320193/000032019325000001/aapl-8k.htm", strings.Replace(eventHTML, `<a href="aapl-ex991.htm">Exhibit 99.1</a>`, "", 1))
	fixture.set("/Archives/edgar/data/320193/000032019325000001/index.json",
		`{"directory":{"item":[{"name":"aapl-8k.htm"},{"name":"aapl-ex991.htm"}]}}`)
	_, _, extractor := fixture.components(t)

	content, err := extractor.Extract(context.Background(), "AAPL", models.FilingTypeEvent,
		fixture.server.URL+"/Archives/edgar/data/320193/000032019325000001/aapl-8k.htm")
	require.NoError(t, err)
	assert.Contains(t, content.PressReleaseText, "record first quarter revenue")
}

func TestExtractor_EventFallsBackToFullText(t *testing.T) {
	fixture := newEdgarFixture(t)
	fixture.set("/Archives/edgar/data/320193/000032019325000001/aapl-8k.htm", strings.Replace(eventHTML, `<a href="aapl-ex991.htm">Exhibit 99.1</a>`, "", 1))
	_, _, extractor := fixture.components(t)

	content, err := extractor.Extract(context.Background(), "AAPL", models.FilingTypeEvent,
		fixture.server.URL+"/Archives/edgar/data/320193/000032019325000001/aapl-8k.htm")
	require.NoError(t, err)
	assert.Empty(t, content.PressReleaseText)
	assert.Contains(t, content.FullText, "Apple issued a press release")
}

func TestExtractor_Errors(t *testing.T) {
	fixture := newEdgarFixture(t)
	fixture.set("/Archives/edgar/data/320193/000032019325000009/empty.htm", "<html><body><script>x()</script></body></html>")
	_, _, extractor := fixture.components(t)
	ctx := context.Background()

	_, err := extractor.Extract(ctx, "AAPL", models.FilingType("S-1"), fixture.server.URL+"/x.htm")
	assert.True(t, errors.Is(err, models.ErrUnsupportedFilingType))

	_, err = extractor.Extract(ctx, "AAPL", models.FilingTypeEvent, fixture.server.URL+"/Archives/edgar/data/320193/000032019325000009/empty.htm")
	assert.True(t, errors.Is(err, models.ErrEmptyExtraction))

	_, err = extractor.Extract(ctx, "AAPL", models.FilingTypeEvent, fixture.server.URL+"/missing.htm")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestAccessionFromLocation(t *testing.T) {
	accession, ok := accessionFromLocation("https://www.sec.gov/Archives/edgar/data/320193/000032019324000123/aapl-20240928.htm")
	require.True(t, ok)
	assert.Equal(t, "0000320193-24-000123", accession)

	_, ok = accessionFromLocation("https://example.com/doc.htm")
	assert.False(t, ok)
}
