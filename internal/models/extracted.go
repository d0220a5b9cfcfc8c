package models

import "strings"

// Financial metric names in the order they are presented to the analysis provider
const (
	MetricRevenue           = "Revenue"
	MetricGrossProfit       = "GrossProfit"
	MetricOperatingIncome   = "OperatingIncome"
	MetricNetIncome         = "NetIncome"
	MetricOperatingCashFlow = "OperatingCashFlow"
	MetricFreeCashFlow      = "FreeCashFlow"
	MetricTotalAssets       = "TotalAssets"
	MetricTotalLiabilities  = "TotalLiabilities"
)

// FinancialMetricNames is the fixed ordered list of highlighted metrics
var FinancialMetricNames = []string{
	MetricRevenue,
	MetricGrossProfit,
	MetricOperatingIncome,
	MetricNetIncome,
	MetricOperatingCashFlow,
	MetricFreeCashFlow,
	MetricTotalAssets,
	MetricTotalLiabilities,
}

// ExtractedContent is what the extraction service pulls from one filing.
// Periodic reports fill the metrics and narrative fields, event reports fill the event fields.
type ExtractedContent struct {
	FinancialMetrics map[string]float64 `json:"financial_metrics,omitempty"`
	ManagementText   string             `json:"management_text,omitempty"`
	RiskFactorsText  string             `json:"risk_factors_text,omitempty"`

	EventCodes       []string `json:"event_codes,omitempty"`
	PressReleaseText string   `json:"press_release_text,omitempty"`
	FullText         string   `json:"full_text,omitempty"`
}

// IsEmpty reports whether the extraction produced nothing usable
func (c *ExtractedContent) IsEmpty() bool {
	if c == nil {
		return true
	}
	return len(c.FinancialMetrics) == 0 &&
		strings.TrimSpace(c.ManagementText) == "" &&
		strings.TrimSpace(c.RiskFactorsText) == "" &&
		len(c.EventCodes) == 0 &&
		strings.TrimSpace(c.PressReleaseText) == "" &&
		strings.TrimSpace(c.FullText) == ""
}
