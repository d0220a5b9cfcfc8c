package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective pipeline settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("FilingWatch", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("provider", string(config.LLM.DefaultProvider)).
		Int("daily_limit", config.Quota.DailyLimit).
		Int("per_minute_limit", config.Quota.PerMinuteLimit).
		Str("discovery_schedule", config.Discovery.Schedule).
		Str("drain_schedule", config.Drain.Schedule).
		Msg("FilingWatch starting")
}
