// Package internal provides the App struct that wires the storage
// tiers, reconciler and dispatcher together for the CLI layer.
package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vigiapainel/vigia/internal/core"
	"github.com/vigiapainel/vigia/internal/notify"
	"github.com/vigiapainel/vigia/internal/observability"
	"github.com/vigiapainel/vigia/internal/storage"
	"github.com/vigiapainel/vigia/pkg/models"
)

// App holds all service dependencies for the engine.
type App struct {
	BasePath string
	Settings models.Settings

	EventLog   observability.EventLog
	Gateway    *storage.Gateway
	Reconciler *core.Reconciler
	Dispatcher *notify.Dispatcher

	local *storage.SQLiteKV
}

// ResolveBasePath returns the state directory: $VIGIA_HOME if set,
// otherwise ~/.vigia.
func ResolveBasePath() string {
	if p := os.Getenv("VIGIA_HOME"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vigia"
	}
	return filepath.Join(home, ".vigia")
}

// NewApp wires all components under basePath and loads persisted state.
func NewApp(ctx context.Context, basePath string) (*App, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	settingsMgr := core.NewSettingsManager(basePath)
	settings, err := settingsMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if err := settingsMgr.Validate(settings); err != nil {
		return nil, err
	}

	eventLog, err := observability.NewJSONLEventLog(filepath.Join(basePath, "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	localQuota := storage.LocalQuota()
	if settings.LocalQuotaBytes > 0 {
		localQuota.TotalBytes = settings.LocalQuotaBytes
	}
	syncQuota := storage.SyncQuota()
	if settings.SyncQuotaBytes > 0 {
		syncQuota.TotalBytes = settings.SyncQuotaBytes
	}

	local, err := storage.NewSQLiteKV(filepath.Join(basePath, "local.db"), localQuota)
	if err != nil {
		return nil, fmt.Errorf("opening local tier: %w", err)
	}
	sync := storage.NewFileKV(filepath.Join(basePath, "sync.json"), syncQuota)

	gateway := storage.NewGateway(storage.NewCodec(), map[storage.Tier]storage.KV{
		storage.TierLocal: local,
		storage.TierSync:  sync,
	}, eventLog)

	reconciler := core.NewReconciler(gateway, *settings, eventLog)
	if err := reconciler.Load(ctx); err != nil {
		local.Close()
		return nil, fmt.Errorf("loading state: %w", err)
	}

	var notifier notify.Notifier
	if settings.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(settings.WebhookURL)
	}
	dispatcher := notify.NewDispatcher(notifier, eventLog,
		time.Duration(settings.NotificationCooldownSeconds)*time.Second)

	return &App{
		BasePath:   basePath,
		Settings:   *settings,
		EventLog:   eventLog,
		Gateway:    gateway,
		Reconciler: reconciler,
		Dispatcher: dispatcher,
		local:      local,
	}, nil
}

// Close releases the App's resources.
func (a *App) Close() error {
	var firstErr error
	if err := a.local.Close(); err != nil {
		firstErr = err
	}
	if err := a.EventLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
