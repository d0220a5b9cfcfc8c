package edgar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
)

// submissionsResponse is the subset of data.sec.gov/submissions/CIK##########.json we read.
// The recent block holds parallel arrays, newest filing first.
type submissionsResponse struct {
	Name    string `json:"name"`
	Filings struct {
		Recent recentFilings `json:"recent"`
	} `json:"filings"`
}

type recentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// FilingSource lists recent 10-K, 10-Q and 8-K filings of a ticker from the submissions API
type FilingSource struct {
	client         *Client
	resolver       interfaces.CIKResolver
	submissionsURL string
	archivesURL    string
	logger         arbor.ILogger
}

// NewFilingSource creates a filing source
func NewFilingSource(client *Client, resolver interfaces.CIKResolver, submissionsURL, archivesURL string, logger arbor.ILogger) *FilingSource {
	return &FilingSource{
		client:         client,
		resolver:       resolver,
		submissionsURL: strings.TrimRight(submissionsURL, "/"),
		archivesURL:    strings.TrimRight(archivesURL, "/"),
		logger:         logger,
	}
}

// RecentFilings returns the supported filings of identifier, newest first.
// Other forms (amendments, proxies, ownership reports) are skipped.
func (s *FilingSource) RecentFilings(ctx context.Context, identifier string) ([]models.Filing, error) {
	cik, _, err := s.resolver.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}

	var resp submissionsResponse
	url := fmt.Sprintf("%s/CIK%s.json", s.submissionsURL, cik)
	if err := s.client.GetJSON(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch submissions for %s: %w", identifier, err)
	}

	recent := resp.Filings.Recent
	n := len(recent.AccessionNumber)
	if len(recent.Form) != n || len(recent.FilingDate) != n || len(recent.PrimaryDocument) != n {
		return nil, fmt.Errorf("submissions for %s have mismatched columns", identifier)
	}

	filings := make([]models.Filing, 0, n)
	skipped := 0
	for i := 0; i < n; i++ {
		filingType, err := models.ParseForm(recent.Form[i])
		if err != nil {
			if errors.Is(err, models.ErrUnsupportedFilingType) {
				skipped++
				continue
			}
			return nil, err
		}
		if recent.AccessionNumber[i] == "" || recent.PrimaryDocument[i] == "" {
			skipped++
			continue
		}

		filings = append(filings, models.Filing{
			Ref:            recent.AccessionNumber[i],
			Identifier:     identifier,
			Type:           filingType,
			Date:           recent.FilingDate[i],
			SourceLocation: s.DocumentURL(cik, recent.AccessionNumber[i], recent.PrimaryDocument[i]),
		})
	}

	s.logger.Debug().
		Str("identifier", identifier).
		Str("cik", cik).
		Int("filings", len(filings)).
		Int("skipped", skipped).
		Msg("Recent filings fetched")
	return filings, nil
}

// DocumentURL builds the archive URL of a filing document
func (s *FilingSource) DocumentURL(cik, accession, document string) string {
	return fmt.Sprintf("%s/%s/%s/%s", s.archivesURL, strings.TrimLeft(cik, "0"), strings.ReplaceAll(accession, "-", ""), document)
}

var _ interfaces.FilingSource = (*FilingSource)(nil)
