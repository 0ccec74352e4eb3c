package config

type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Broadcast *BroadcastConfig `json:"broadcast,omitempty"`
	Billing   BillingConfig    `json:"billing"`
}

type TelegramConfig struct {
	// Token is the bot token for the interactive surface. If empty, the
	// BOT_TOKEN environment variable is used (compatible with .env files).
	Token string `json:"token"`

	// AdminUserIDs receive payment requests and may approve/reject them.
	AdminUserIDs []int64 `json:"admin_user_ids"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// BroadcastConfig controls the recurring broadcast scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "8s", "1m").
// If the whole section is omitted, the scheduler defaults to enabled with
// the defaults below.
//
// Defaults (when fields are omitted/zero):
//   - tick: "8s"
//   - min_interval: "15s"
//   - pacing: "500ms"
type BroadcastConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Tick is the scheduler wake period.
	Tick string `json:"tick,omitempty"`

	// MinInterval is the smallest per-job cadence accepted at authoring time
	// and enforced again by the scheduler.
	MinInterval string `json:"min_interval,omitempty"`

	// Pacing is the fixed delay between consecutive sends within one pass.
	Pacing string `json:"pacing,omitempty"`

	// Tagline is appended to every broadcast body (empty disables).
	Tagline string `json:"tagline,omitempty"`
}

// BillingConfig controls subscription pricing and maintenance schedules.
type BillingConfig struct {
	// DailyPrice in the smallest currency unit. If 0, the DAILY_PRICE
	// environment variable is consulted, then a default of 1000.
	DailyPrice int64 `json:"daily_price"`

	// Card is the payment card number shown to users.
	Card string `json:"card"`

	// ExpirySweepSpec is a cron spec for the subscription-expiry reminder
	// sweep (default "@daily").
	ExpirySweepSpec string `json:"expiry_sweep_spec,omitempty"`

	// PendingNagSpec is a cron spec for reminding admins about pending
	// payments (default "@every 6h").
	PendingNagSpec string `json:"pending_nag_spec,omitempty"`
}
