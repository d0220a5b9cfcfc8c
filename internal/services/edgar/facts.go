package edgar

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/ternarybob/filingwatch/internal/models"
)

// companyFacts is the subset of the XBRL companyfacts document we read
type companyFacts struct {
	EntityName string                            `json:"entityName"`
	Facts      map[string]map[string]factConcept `json:"facts"` // taxonomy -> concept
}

type factConcept struct {
	Units map[string][]factValue `json:"units"`
}

type factValue struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Val   float64 `json:"val"`
	Accn  string  `json:"accn"`
	Form  string  `json:"form"`
}

// metricConcepts lists us-gaap concepts per metric in preference order
var metricConcepts = map[string][]string{
	models.MetricRevenue: {
		"RevenueFromContractWithCustomerExcludingAssessedTax",
		"Revenues",
		"RevenueFromContractWithCustomerIncludingAssessedTax",
		"SalesRevenueNet",
	},
	models.MetricGrossProfit:       {"GrossProfit"},
	models.MetricOperatingIncome:   {"OperatingIncomeLoss"},
	models.MetricNetIncome:         {"NetIncomeLoss", "ProfitLoss"},
	models.MetricOperatingCashFlow: {"NetCashProvidedByUsedInOperatingActivities", "NetCashProvidedByUsedInOperatingActivitiesContinuingOperations"},
	models.MetricTotalAssets:       {"Assets"},
	models.MetricTotalLiabilities:  {"Liabilities"},
}

var capitalExpenditureConcepts = []string{
	"PaymentsToAcquirePropertyPlantAndEquipment",
	"PaymentsToAcquireProductiveAssets",
}

// fetchMetrics loads the company facts of cik and keeps the values reported by one filing
func (e *Extractor) fetchMetrics(ctx context.Context, cik, accession string) (map[string]float64, error) {
	var facts companyFacts
	if err := e.client.GetJSON(ctx, fmt.Sprintf("%s/CIK%s.json", e.factsURL, cik), &facts); err != nil {
		return nil, err
	}
	return metricsForFiling(&facts, accession), nil
}

// metricsForFiling picks, for every metric, the value the filing reports for its latest period.
// FreeCashFlow is derived as OperatingCashFlow minus capital expenditure.
func metricsForFiling(facts *companyFacts, accession string) map[string]float64 {
	gaap := facts.Facts["us-gaap"]
	metrics := make(map[string]float64)

	for _, name := range models.FinancialMetricNames {
		for _, concept := range metricConcepts[name] {
			if v, ok := latestValue(gaap[concept], accession); ok {
				metrics[name] = v
				break
			}
		}
	}

	if ocf, ok := metrics[models.MetricOperatingCashFlow]; ok {
		for _, concept := range capitalExpenditureConcepts {
			if capex, ok := latestValue(gaap[concept], accession); ok {
				metrics[models.MetricFreeCashFlow] = ocf - capex
				break
			}
		}
	}

	return metrics
}

// latestValue returns the USD value of the latest period reported by accession.
// Among values ending on the same date the shortest period wins, so a 10-Q yields the quarter, not year-to-date.
func latestValue(concept factConcept, accession string) (float64, bool) {
	var best *factValue
	values := concept.Units["USD"]
	for i := range values {
		v := &values[i]
		if v.Accn != accession {
			continue
		}
		if best == nil || v.End > best.End || (v.End == best.End && v.Start > best.Start) {
			best = v
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Val, true
}

var accessionFolder = regexp.MustCompile(`^\d{18}$`)

// accessionFromLocation recovers the dashed accession number from an archive document URL
// (".../data/320193/000032019324000123/aapl-20240928.htm" -> "0000320193-24-000123")
func accessionFromLocation(location string) (string, bool) {
	u, err := url.Parse(location)
	if err != nil {
		return "", false
	}
	folder := path.Base(path.Dir(u.Path))
	if !accessionFolder.MatchString(folder) {
		return "", false
	}
	return folder[:10] + "-" + folder[10:12] + "-" + folder[12:], true
}

// filingFolder returns the archive directory URL of a document URL
func filingFolder(location string) string {
	idx := strings.LastIndex(location, "/")
	if idx < 0 {
		return location
	}
	return location[:idx]
}
