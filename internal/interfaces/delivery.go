package interfaces

import (
	"context"

	"github.com/ternarybob/filingwatch/internal/models"
)

// Sender delivers one rendered message to one recipient
type Sender interface {
	Send(ctx context.Context, recipientID int64, text string) error
}

// SubscriptionDirectory is the read side of the subscription store
type SubscriptionDirectory interface {
	ListIdentifiers(ctx context.Context) ([]string, error)
	ListRecipients(ctx context.Context, identifier string) ([]int64, error)
}

// DeliveryReport summarises one fan-out
type DeliveryReport struct {
	Recipients int     `json:"recipients"`
	Delivered  int     `json:"delivered"`
	Failed     int     `json:"failed"`
	Condensed  bool    `json:"condensed"`
	Truncated  bool    `json:"truncated"`
	Length     int     `json:"length"`
	Failures   []int64 `json:"failures,omitempty"`
}

// DeliveryService renders an analysis and sends it to every subscriber of the job's identifier
type DeliveryService interface {
	Deliver(ctx context.Context, job *models.Job, analysis *models.Analysis) (*DeliveryReport, error)
}

// QuotaUsage is a snapshot of the quota ledger
type QuotaUsage struct {
	Count          int    `json:"count"`
	AsOfDate       string `json:"as_of_date"`
	Today          string `json:"today"`
	DailyLimit     int    `json:"daily_limit"`
	PerMinuteLimit int    `json:"per_minute_limit"`
	Grantable      int    `json:"grantable"`
}

// QuotaLedger answers how many jobs may run this cycle and records what was spent
type QuotaLedger interface {
	CurrentUsage(ctx context.Context) (count int, asOfDate string, err error)
	GrantableThisCycle(ctx context.Context) (int, error)
	RecordUsage(ctx context.Context, n int) error
	Snapshot(ctx context.Context) (*QuotaUsage, error)
}
