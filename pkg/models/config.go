package models

// Settings is the read-only configuration surface consumed by the
// reconciliation engine. It is loaded from vigia.yaml by the core
// configuration manager; every field has a default so a missing file
// yields a working setup.
type Settings struct {
	// Renotification policy for already-known, still-pending tasks.
	EnableRenotification          bool `yaml:"enable_renotification"`
	RenotificationIntervalMinutes int  `yaml:"renotification_interval_minutes"`

	// RetentionDays bounds how long an unnotified task survives before a
	// quota-driven cleanup may purge it.
	RetentionDays int `yaml:"retention_days"`

	// NotificationCooldownSeconds rate-limits outward notification bursts.
	NotificationCooldownSeconds int `yaml:"notification_cooldown_seconds"`

	// WebhookURL receives outward system notifications. Empty disables
	// the webhook notifier (the notify-set is still returned to callers).
	WebhookURL string `yaml:"webhook_url"`

	// SyncEnabled selects the strict small-quota tier for user state
	// (ignored/snoozed/opened) so it can roam between installs. The task
	// set itself always lives on the relaxed tier.
	SyncEnabled bool `yaml:"sync_enabled"`

	// SyncQuotaBytes and LocalQuotaBytes override each tier's total-byte
	// quota when positive. Zero keeps the built-in defaults; the strict
	// tier's per-item and item-count limits are never overridable.
	SyncQuotaBytes  int `yaml:"sync_quota_bytes"`
	LocalQuotaBytes int `yaml:"local_quota_bytes"`
}
