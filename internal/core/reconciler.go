package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/vigiapainel/vigia/internal/observability"
	"github.com/vigiapainel/vigia/internal/storage"
	"github.com/vigiapainel/vigia/pkg/models"
)

// reconcileChunkSize bounds how many tasks are merged before the
// reconciler yields, so a large scrape cannot starve other work.
const reconcileChunkSize = 50

// Persistence strategies, tried in order. Each write degrades through
// this sequence rather than failing outright: a validated write first,
// then a retention cleanup followed by one retry, then a raw
// unvalidated write that accepts exceeding quota over losing data.
const (
	StrategyValidated    = "validated"
	StrategyCleanupRetry = "cleanup_retry"
	StrategyRaw          = "raw"
	StrategyMemoryOnly   = "memory_only"
)

// Result is the outcome of one reconciliation pass.
type Result struct {
	// Notified is the notify-set: newly seen tasks plus tasks selected
	// for renotification, in the order they appeared in the batch.
	Notified []models.Task
	// PendingCount is the recomputed number of pending tasks.
	PendingCount int
	// NewCount and RenotifiedCount split the notify-set by cause.
	NewCount        int
	RenotifiedCount int
	// Strategy records which persistence strategy ultimately succeeded.
	// StrategyMemoryOnly means every write path failed and the in-memory
	// state is the only record until the next flush.
	Strategy string
}

// Reconciler is the task-state machine. It owns the durable state
// container exclusively: scraped batches and user actions mutate it
// only through Reconciler methods, and every mutation re-persists the
// full collections through the store gateway.
//
// All mutating entry points serialize behind one mutex, so a second
// reconciliation always observes the first one's completed, persisted
// state (single-flight; overlapping scrapes queue up here).
type Reconciler struct {
	mu  sync.Mutex
	st  *state
	gw  *storage.Gateway
	cfg models.Settings
	log observability.EventLog

	// now is replaceable by tests that simulate snooze expiry and
	// renotification intervals.
	now func() time.Time
}

// NewReconciler creates a Reconciler over the given gateway. Call Load
// before the first mutation. log may be nil.
func NewReconciler(gw *storage.Gateway, cfg models.Settings, log observability.EventLog) *Reconciler {
	if log == nil {
		log = observability.NewNopEventLog()
	}
	return &Reconciler{
		st:  newState(),
		gw:  gw,
		cfg: cfg,
		log: log,
		now: time.Now,
	}
}

// userTier is where the suppression maps live: the strict roaming tier
// when sync is enabled, otherwise the relaxed local tier.
func (r *Reconciler) userTier() storage.Tier {
	if r.cfg.SyncEnabled {
		return storage.TierSync
	}
	return storage.TierLocal
}

// Load reads the persisted collections into memory. Missing or
// malformed values coerce to empty defaults; startup never fails on
// corrupt state data.
func (r *Reconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := newState()

	var tasks []models.Task
	if _, err := r.gw.Get(ctx, storage.TierLocal, keyKnownTasks, &tasks); err != nil {
		tasks = nil
	}
	for _, t := range tasks {
		t = t.WithID()
		st.tasks[t.ID] = t
	}

	if _, err := r.gw.Get(ctx, storage.TierLocal, keyNotifiedAt, &st.notifiedAt); err != nil || st.notifiedAt == nil {
		st.notifiedAt = map[string]int64{}
	}

	userTier := r.userTier()
	if _, err := r.gw.Get(ctx, userTier, keyIgnored, &st.ignored); err != nil || st.ignored == nil {
		st.ignored = map[string]bool{}
	}
	if _, err := r.gw.Get(ctx, userTier, keySnoozed, &st.snoozed); err != nil || st.snoozed == nil {
		st.snoozed = map[string]int64{}
	}
	if _, err := r.gw.Get(ctx, userTier, keyOpened, &st.opened); err != nil || st.opened == nil {
		st.opened = map[string]bool{}
	}

	r.st = st
	return nil
}

// Reconcile merges a freshly scraped batch into the known state and
// returns the notify-set, in batch order. The call completes only after
// the updated state has been persisted or every degraded write path has
// been attempted; in the latter case the in-memory state stays valid
// and Result.Strategy reports StrategyMemoryOnly.
//
// Applying the same batch twice is idempotent: the second pass produces
// no first-time notifications (renotification policy permitting).
//
// Cancellation is honored at chunk boundaries: tasks merged before the
// context was canceled are persisted and reported in the Result, the
// rest of the batch is abandoned and the context error returned.
func (r *Reconciler) Reconcile(ctx context.Context, batch []models.Task) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	nowMs := now.UnixMilli()
	renotifyAfterMs := int64(r.cfg.RenotificationIntervalMinutes) * 60_000

	var result Result
	var interrupted error
	for start := 0; start < len(batch); start += reconcileChunkSize {
		end := start + reconcileChunkSize
		if end > len(batch) {
			end = len(batch)
		}

		for _, scraped := range batch[start:end] {
			t := scraped.WithID()

			existing, known := r.st.tasks[t.ID]
			if !known {
				t.LastNotifiedTimestamp = nowMs
				r.st.tasks[t.ID] = t
				r.st.notifiedAt[t.ID] = nowMs
				result.Notified = append(result.Notified, t)
				result.NewCount++
				observability.Log(r.log, "INFO", observability.EventTaskNew,
					"new task observed", map[string]any{"task_id": t.ID})
				continue
			}

			// Known task: update every mutable field in place, keep the
			// notification timestamp.
			t.LastNotifiedTimestamp = existing.LastNotifiedTimestamp
			r.st.tasks[t.ID] = t

			if !r.cfg.EnableRenotification || !r.st.pending(t.ID, nowMs) {
				continue
			}
			last, everNotified := r.st.notifiedAt[t.ID]
			if !everNotified {
				// Never notified through the new-task path; the renotify
				// path must not produce its first notification.
				continue
			}
			if nowMs-last < renotifyAfterMs {
				continue
			}

			t.LastNotifiedTimestamp = nowMs
			r.st.tasks[t.ID] = t
			r.st.notifiedAt[t.ID] = nowMs
			result.Notified = append(result.Notified, t)
			result.RenotifiedCount++
			observability.Log(r.log, "INFO", observability.EventTaskRenotified,
				"renotification interval elapsed", map[string]any{"task_id": t.ID})
		}

		// Between chunks: honor cancellation, then yield so a large batch
		// does not monopolize the scheduler. Notification decisions stay
		// deterministic because they were computed above, in batch order.
		if end < len(batch) {
			if err := ctx.Err(); err != nil {
				interrupted = fmt.Errorf("reconciliation stopped after %d of %d tasks: %w",
					end, len(batch), err)
				break
			}
			runtime.Gosched()
		}
	}

	result.PendingCount = r.st.pendingCount(nowMs)
	result.Strategy = r.persistLocked(ctx)

	observability.Log(r.log, "INFO", observability.EventReconcileBatch,
		"batch reconciled", map[string]any{
			"batch_size": len(batch),
			"new":        result.NewCount,
			"renotified": result.RenotifiedCount,
			"pending":    result.PendingCount,
			"strategy":   result.Strategy,
		})

	// lastCheckTimestamp is always written raw, never compressed.
	if err := r.gw.RawSet(ctx, storage.TierLocal, map[string]any{keyLastCheck: nowMs}); err != nil {
		observability.Log(r.log, "WARN", observability.EventStorageFailed,
			"writing last check timestamp", map[string]any{"error": err.Error()})
	}

	return result, interrupted
}

// Ignore marks the task id ignored, evicting it from the snoozed and
// opened maps, flushes state and returns the recomputed pending count.
func (r *Reconciler) Ignore(ctx context.Context, id string) (int, error) {
	return r.userAction(ctx, observability.EventTaskIgnored, id, func(nowMs int64) {
		r.st.suppressIgnored(id)
	})
}

// Snooze suppresses the task id until now + minutes. The wake-up is
// lazy: it takes effect the next time pending state is read.
func (r *Reconciler) Snooze(ctx context.Context, id string, minutes int) (int, error) {
	return r.userAction(ctx, observability.EventTaskSnoozed, id, func(nowMs int64) {
		r.st.suppressSnoozed(id, nowMs+int64(minutes)*60_000)
	})
}

// MarkOpened marks the task id opened, evicting it from the ignored and
// snoozed maps.
func (r *Reconciler) MarkOpened(ctx context.Context, id string) (int, error) {
	return r.userAction(ctx, observability.EventTaskOpened, id, func(nowMs int64) {
		r.st.suppressOpened(id)
	})
}

func (r *Reconciler) userAction(ctx context.Context, eventType, id string, apply func(nowMs int64)) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := r.now().UnixMilli()
	apply(nowMs)
	strategy := r.persistLocked(ctx)

	observability.Log(r.log, "INFO", eventType, "user action applied",
		map[string]any{"task_id": id, "strategy": strategy})

	return r.st.pendingCount(nowMs), nil
}

// ResetAll clears the known task set, all suppression maps and the
// notification timestamps, in memory and in both tiers.
func (r *Reconciler) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.st = newState()

	var errs []error
	if err := r.gw.Clear(ctx, storage.TierLocal); err != nil {
		errs = append(errs, err)
	}
	if r.userTier() != storage.TierLocal {
		if err := r.gw.Clear(ctx, r.userTier()); err != nil {
			errs = append(errs, err)
		}
	}

	observability.Log(r.log, "INFO", observability.EventStateReset, "all state cleared", nil)

	if len(errs) > 0 {
		return fmt.Errorf("clearing persisted state: %w", errors.Join(errs...))
	}
	return nil
}

// PendingCount recomputes the number of pending tasks. Lazy snooze
// expiry means a count taken after a snooze elapses includes the task
// again with no explicit unsnooze.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.pendingCount(r.now().UnixMilli())
}

// Tasks returns a snapshot of the known task set, id-sorted.
func (r *Reconciler) Tasks() []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.sortedTasks()
}

// LastCheck reads the timestamp of the last reconciliation pass from
// storage. The boolean reports whether one was ever recorded.
func (r *Reconciler) LastCheck(ctx context.Context) (int64, bool) {
	var ms int64
	found, err := r.gw.Get(ctx, storage.TierLocal, keyLastCheck, &ms)
	if err != nil || !found {
		return 0, false
	}
	return ms, true
}

// Cleanup purges tasks outside the retention window together with their
// orphaned suppression and timestamp entries, then persists. It returns
// the number of tasks removed.
//
// A purged task that later reappears in a scrape is treated as brand
// new: it is notified through the new-task path and its renotification
// history restarts. The suppression maps were purged with it, so no
// stale suppression survives the round trip.
func (r *Reconciler) Cleanup(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.cleanupLocked(r.now())
	strategy := r.persistLocked(ctx)

	observability.Log(r.log, "INFO", observability.EventRetentionCleanup,
		"retention cleanup", map[string]any{"removed": removed, "strategy": strategy})

	return removed, nil
}

func (r *Reconciler) cleanupLocked(now time.Time) int {
	cutoff := now.UnixMilli() - int64(r.cfg.RetentionDays)*24*60*60*1000
	return r.st.purgeOlderThan(cutoff)
}

// persistLocked flushes the full collections through the degradation
// sequence and returns the strategy that succeeded. Callers hold r.mu.
// Nothing propagates as an error: every failure mode here has a defined
// degraded continuation, ending with memory-only state.
func (r *Reconciler) persistLocked(ctx context.Context) string {
	err := r.flushValidated(ctx)
	if err == nil {
		return StrategyValidated
	}

	if errors.Is(err, storage.ErrQuotaExceeded) {
		removed := r.cleanupLocked(r.now())
		observability.Log(r.log, "WARN", observability.EventRetentionCleanup,
			"quota exceeded, purged stale tasks before retry",
			map[string]any{"removed": removed, "reason": err.Error()})

		if err = r.flushValidated(ctx); err == nil {
			observability.Log(r.log, "WARN", observability.EventStorageDegraded,
				"write succeeded after cleanup", map[string]any{"strategy": StrategyCleanupRetry})
			return StrategyCleanupRetry
		}
	}

	if rawErr := r.flushRaw(ctx); rawErr == nil {
		observability.Log(r.log, "WARN", observability.EventStorageDegraded,
			"unvalidated raw write used", map[string]any{
				"strategy": StrategyRaw, "reason": err.Error(),
			})
		return StrategyRaw
	}

	observability.Log(r.log, "ERROR", observability.EventStorageFailed,
		"all write paths failed, state held in memory only",
		map[string]any{"error": err.Error()})
	return StrategyMemoryOnly
}

func (r *Reconciler) flushValidated(ctx context.Context) error {
	if _, err := r.gw.SafeSet(ctx, storage.TierLocal, map[string]any{
		keyKnownTasks: r.st.sortedTasks(),
		keyNotifiedAt: r.st.notifiedAt,
	}); err != nil {
		return err
	}
	_, err := r.gw.SafeSet(ctx, r.userTier(), map[string]any{
		keyIgnored: r.st.ignored,
		keySnoozed: r.st.snoozed,
		keyOpened:  r.st.opened,
	})
	return err
}

func (r *Reconciler) flushRaw(ctx context.Context) error {
	if err := r.gw.RawSet(ctx, storage.TierLocal, map[string]any{
		keyKnownTasks: r.st.sortedTasks(),
		keyNotifiedAt: r.st.notifiedAt,
	}); err != nil {
		return err
	}
	return r.gw.RawSet(ctx, r.userTier(), map[string]any{
		keyIgnored: r.st.ignored,
		keySnoozed: r.st.snoozed,
		keyOpened:  r.st.opened,
	})
}
