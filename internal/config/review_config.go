package config

import "time"

const (
	// Platform calls
	DefaultPlatformTimeout = 10 * time.Second

	// Claims
	ClaimCacheTTL         = 30 * time.Second
	DefaultClaimSweepSpec = "0 */10 * * * *"

	// Events
	EventsChannel = "review:events"

	// Stats
	DefaultStatsWindow = 30 * 24 * time.Hour

	// API
	APITokenTTL = 72 * time.Hour
	APIIssuer   = "reviewbot"

	DefaultLanguage = "en"
)

// MaxReasonLength bounds reasons and notes stored on audit rows.
const MaxReasonLength = 1024
