// -----------------------------------------------------------------------
// Filing - regulatory filing types and the discovered filing record
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
	"strings"
)

// FilingType is the closed set of filing kinds the pipeline can analyse.
type FilingType string

const (
	FilingTypePeriodicAnnual    FilingType = "PERIODIC_ANNUAL"
	FilingTypePeriodicQuarterly FilingType = "PERIODIC_QUARTERLY"
	FilingTypeEvent             FilingType = "EVENT"
)

// ErrUnsupportedFilingType is returned whenever a filing type outside the enumerated set reaches
// a component that dispatches on type. It is a precondition error and must never be retried.
var ErrUnsupportedFilingType = errors.New("unsupported filing type")

// ErrUnknownIdentifier means an identifier has no mapping at the filing provider. Like
// ErrUnsupportedFilingType it is a precondition error.
var ErrUnknownIdentifier = errors.New("unknown identifier")

// IsPreconditionError reports whether err indicates a data or logic error that retrying cannot fix
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrUnsupportedFilingType) || errors.Is(err, ErrUnknownIdentifier)
}

// AllFilingTypes lists every supported type in a stable order.
func AllFilingTypes() []FilingType {
	return []FilingType{FilingTypePeriodicAnnual, FilingTypePeriodicQuarterly, FilingTypeEvent}
}

// IsValid reports whether t is one of the enumerated filing types.
func (t FilingType) IsValid() bool {
	switch t {
	case FilingTypePeriodicAnnual, FilingTypePeriodicQuarterly, FilingTypeEvent:
		return true
	}
	return false
}

// IsPeriodic reports whether t is an annual or quarterly report.
func (t FilingType) IsPeriodic() bool {
	return t == FilingTypePeriodicAnnual || t == FilingTypePeriodicQuarterly
}

// FormName returns the SEC form name for the type ("10-K", "10-Q", "8-K").
func (t FilingType) FormName() string {
	switch t {
	case FilingTypePeriodicAnnual:
		return "10-K"
	case FilingTypePeriodicQuarterly:
		return "10-Q"
	case FilingTypeEvent:
		return "8-K"
	}
	return string(t)
}

// ParseForm maps an SEC form name to a FilingType.
// Amendments ("10-K/A") and every other form are rejected with ErrUnsupportedFilingType.
func ParseForm(form string) (FilingType, error) {
	switch strings.ToUpper(strings.TrimSpace(form)) {
	case "10-K":
		return FilingTypePeriodicAnnual, nil
	case "10-Q":
		return FilingTypePeriodicQuarterly, nil
	case "8-K":
		return FilingTypeEvent, nil
	}
	return "", fmt.Errorf("%w: form %q", ErrUnsupportedFilingType, form)
}

// Filing is one entry of a provider's recent-filings list
type Filing struct {
	Ref            string     `json:"filing_ref"` // accession number, globally unique
	Identifier     string     `json:"identifier"`
	Type           FilingType `json:"filing_type"`
	Date           string     `json:"filing_date"` // YYYY-MM-DD as published
	SourceLocation string     `json:"source_location"`
}
