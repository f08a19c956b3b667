// Package core contains the task reconciliation engine: the settings
// surface, the durable state container, and the state machine that
// merges scraped batches against known notification state.
package core

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/vigiapainel/vigia/pkg/models"
)

// SettingsManager loads and validates the engine's configuration.
type SettingsManager interface {
	Load() (*models.Settings, error)
	Validate(settings *models.Settings) error
}

// viperSettingsManager reads vigia.yaml from a base directory.
type viperSettingsManager struct {
	basePath string
}

// NewSettingsManager creates a SettingsManager reading configuration
// relative to basePath.
func NewSettingsManager(basePath string) SettingsManager {
	return &viperSettingsManager{basePath: basePath}
}

// DefaultSettings returns the engine defaults used when no config file
// is present.
func DefaultSettings() models.Settings {
	return models.Settings{
		EnableRenotification:          false,
		RenotificationIntervalMinutes: 30,
		RetentionDays:                 30,
		NotificationCooldownSeconds:   15,
		WebhookURL:                    "",
		SyncEnabled:                   true,
	}
}

// Load reads vigia.yaml from the base path. A missing file yields the
// defaults; a malformed file is an error.
func (m *viperSettingsManager) Load() (*models.Settings, error) {
	cfg := DefaultSettings()

	v := viper.New()
	v.SetConfigName("vigia")
	v.SetConfigType("yaml")
	v.AddConfigPath(m.basePath)

	v.SetDefault("renotify.enabled", cfg.EnableRenotification)
	v.SetDefault("renotify.interval_minutes", cfg.RenotificationIntervalMinutes)
	v.SetDefault("retention.days", cfg.RetentionDays)
	v.SetDefault("notify.cooldown_seconds", cfg.NotificationCooldownSeconds)
	v.SetDefault("notify.webhook_url", cfg.WebhookURL)
	v.SetDefault("storage.sync_enabled", cfg.SyncEnabled)
	v.SetDefault("storage.sync_quota_bytes", cfg.SyncQuotaBytes)
	v.SetDefault("storage.local_quota_bytes", cfg.LocalQuotaBytes)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading vigia.yaml: %w", err)
	}

	cfg.EnableRenotification = v.GetBool("renotify.enabled")
	cfg.RenotificationIntervalMinutes = v.GetInt("renotify.interval_minutes")
	cfg.RetentionDays = v.GetInt("retention.days")
	cfg.NotificationCooldownSeconds = v.GetInt("notify.cooldown_seconds")
	cfg.WebhookURL = v.GetString("notify.webhook_url")
	cfg.SyncEnabled = v.GetBool("storage.sync_enabled")
	cfg.SyncQuotaBytes = v.GetInt("storage.sync_quota_bytes")
	cfg.LocalQuotaBytes = v.GetInt("storage.local_quota_bytes")

	return &cfg, nil
}

// Validate checks the settings for invalid values, collecting every
// problem into one message.
func (m *viperSettingsManager) Validate(settings *models.Settings) error {
	if settings == nil {
		return fmt.Errorf("settings are nil")
	}

	var errs []string
	if settings.RenotificationIntervalMinutes <= 0 {
		errs = append(errs, fmt.Sprintf(
			"renotify.interval_minutes must be positive, got %d",
			settings.RenotificationIntervalMinutes))
	}
	if settings.RetentionDays <= 0 {
		errs = append(errs, fmt.Sprintf(
			"retention.days must be positive, got %d", settings.RetentionDays))
	}
	if settings.NotificationCooldownSeconds < 0 {
		errs = append(errs, fmt.Sprintf(
			"notify.cooldown_seconds must not be negative, got %d",
			settings.NotificationCooldownSeconds))
	}
	if settings.SyncQuotaBytes < 0 {
		errs = append(errs, fmt.Sprintf(
			"storage.sync_quota_bytes must not be negative, got %d",
			settings.SyncQuotaBytes))
	}
	if settings.LocalQuotaBytes < 0 {
		errs = append(errs, fmt.Sprintf(
			"storage.local_quota_bytes must not be negative, got %d",
			settings.LocalQuotaBytes))
	}

	if len(errs) > 0 {
		return fmt.Errorf("settings validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
