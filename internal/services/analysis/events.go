package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// ExhibitsItemCode is the administrative 8-K item listing attached exhibits. It says nothing
// about the event and is never shown to the provider.
const ExhibitsItemCode = "9.01"

// eventItems maps 8-K item codes to their descriptions
var eventItems = map[string]string{
	"1.01": "Entry into a Material Definitive Agreement",
	"1.02": "Termination of a Material Definitive Agreement",
	"1.03": "Bankruptcy or Receivership",
	"1.05": "Material Cybersecurity Incidents",
	"2.01": "Completion of Acquisition or Disposition of Assets",
	"2.02": "Results of Operations and Financial Condition",
	"2.03": "Creation of a Direct Financial Obligation or an Obligation under an Off-Balance Sheet Arrangement",
	"2.04": "Triggering Events That Accelerate or Increase a Direct Financial Obligation",
	"2.05": "Costs Associated with Exit or Disposal Activities",
	"2.06": "Material Impairments",
	"3.01": "Notice of Delisting or Failure to Satisfy a Continued Listing Rule",
	"3.02": "Unregistered Sales of Equity Securities",
	"3.03": "Material Modification to Rights of Security Holders",
	"4.01": "Changes in Registrant's Certifying Accountant",
	"4.02": "Non-Reliance on Previously Issued Financial Statements or a Related Audit Report",
	"5.01": "Changes in Control of Registrant",
	"5.02": "Departure or Election of Directors or Officers; Compensatory Arrangements of Officers",
	"5.03": "Amendments to Articles of Incorporation or Bylaws; Change in Fiscal Year",
	"5.07": "Submission of Matters to a Vote of Security Holders",
	"7.01": "Regulation FD Disclosure",
	"8.01": "Other Events",
	ExhibitsItemCode: "Financial Statements and Exhibits",
}

// DescribeEventItem returns the description of an 8-K item code
func DescribeEventItem(code string) string {
	if desc, ok := eventItems[code]; ok {
		return desc
	}
	return "Unlisted item"
}

// DescribeEventItems renders item codes as "Item X.XX: description" lines, sorted and de-duplicated,
// without the exhibits item.
func DescribeEventItems(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" || code == ExhibitsItemCode {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		unique = append(unique, code)
	}
	sort.Strings(unique)

	lines := make([]string, len(unique))
	for i, code := range unique {
		lines[i] = fmt.Sprintf("Item %s: %s", code, DescribeEventItem(code))
	}
	return lines
}
