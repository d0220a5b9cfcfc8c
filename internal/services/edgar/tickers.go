package edgar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"golang.org/x/sync/singleflight"
)

// TickerEntry is one row of the SEC ticker directory
type TickerEntry struct {
	Ticker string
	CIK    string // zero-padded to 10 digits
	Title  string
}

// companyTicker mirrors a value of company_tickers.json
type companyTicker struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// TickerDirectory maps tickers to CIKs. It loads lazily on first lookup and is refreshed by a scheduled job.
// Concurrent refreshes collapse into one request.
type TickerDirectory struct {
	client *Client
	url    string
	logger arbor.ILogger

	group singleflight.Group

	mu       sync.RWMutex
	entries  map[string]TickerEntry
	loadedAt time.Time
}

// NewTickerDirectory creates an empty directory backed by the company_tickers.json endpoint
func NewTickerDirectory(client *Client, url string, logger arbor.ILogger) *TickerDirectory {
	return &TickerDirectory{
		client: client,
		url:    url,
		logger: logger,
	}
}

// Lookup returns the zero-padded CIK and registrant title of a ticker.
// Unknown tickers fail with ErrUnknownTicker.
func (d *TickerDirectory) Lookup(ctx context.Context, ticker string) (string, string, error) {
	normalized, ok := common.NormalizeTicker(ticker)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTicker, ticker)
	}

	if !d.loaded() {
		if err := d.Refresh(ctx); err != nil {
			return "", "", err
		}
	}

	d.mu.RLock()
	entry, found := d.entries[normalized]
	d.mu.RUnlock()

	if !found {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTicker, normalized)
	}
	return entry.CIK, entry.Title, nil
}

// Refresh reloads the directory. A failed refresh keeps the previous entries.
func (d *TickerDirectory) Refresh(ctx context.Context) error {
	_, err, shared := d.group.Do("refresh", func() (interface{}, error) {
		var raw map[string]companyTicker
		if err := d.client.GetJSON(ctx, d.url, &raw); err != nil {
			return nil, fmt.Errorf("failed to load ticker directory: %w", err)
		}

		entries := make(map[string]TickerEntry, len(raw))
		for _, row := range raw {
			ticker, ok := common.NormalizeTicker(row.Ticker)
			if !ok || row.CIK <= 0 {
				continue
			}
			// first listing wins for tickers that appear twice
			if _, exists := entries[ticker]; exists {
				continue
			}
			entries[ticker] = TickerEntry{
				Ticker: ticker,
				CIK:    PadCIK(row.CIK),
				Title:  row.Title,
			}
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("ticker directory is empty")
		}

		d.mu.Lock()
		d.entries = entries
		d.loadedAt = time.Now()
		d.mu.Unlock()

		d.logger.Info().
			Int("tickers", len(entries)).
			Msg("Ticker directory loaded")
		return nil, nil
	})

	if shared {
		d.logger.Debug().Msg("Ticker directory refresh shared with a concurrent caller")
	}
	return err
}

// Size returns the number of loaded tickers
func (d *TickerDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// LoadedAt returns when the directory was last loaded
func (d *TickerDirectory) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt
}

func (d *TickerDirectory) loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries != nil
}

// PadCIK renders a CIK as the 10-digit form used by data.sec.gov
func PadCIK(cik int64) string {
	return fmt.Sprintf("%010d", cik)
}

var _ interfaces.CIKResolver = (*TickerDirectory)(nil)
