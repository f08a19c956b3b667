package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vigiapainel/vigia/internal/observability"
	"github.com/vigiapainel/vigia/internal/retry"
	"github.com/vigiapainel/vigia/pkg/models"
)

// DefaultCooldown is the minimum gap between outward notification
// bursts.
const DefaultCooldown = 15 * time.Second

// Badge is the pending-count badge state handed to the external
// badge-rendering layer. It is recomputed per call and never cached.
type Badge struct {
	Count int
	Text  string
}

// badgeFor formats a pending count the way a toolbar badge shows it.
func badgeFor(pending int) Badge {
	b := Badge{Count: pending}
	switch {
	case pending <= 0:
		b.Text = ""
	case pending > 99:
		b.Text = "99+"
	default:
		b.Text = fmt.Sprintf("%d", pending)
	}
	return b
}

// Dispatcher rate-limits outward notifications and derives the badge.
//
// A burst arriving inside the cooldown window is dropped, not deferred:
// the underlying state update has already happened upstream, so the only
// loss is the redundant popup. The drop is logged for the diagnostic
// export.
type Dispatcher struct {
	notifier  Notifier
	log       observability.EventLog
	cooldown  time.Duration
	retryOpts retry.Options

	mu        sync.Mutex
	lastBurst time.Time

	now func() time.Time
}

// NewDispatcher creates a Dispatcher. notifier may be nil (no outward
// channel configured); log may be nil.
func NewDispatcher(notifier Notifier, log observability.EventLog, cooldown time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if log == nil {
		log = observability.NewNopEventLog()
	}
	return &Dispatcher{
		notifier:  notifier,
		log:       log,
		cooldown:  cooldown,
		retryOpts: retry.DefaultOptions(),
		now:       time.Now,
	}
}

// Dispatch derives the badge for the current pending count and, for a
// non-empty notify-set, attempts one outward notification subject to
// the cooldown. The returned bool reports whether a notification was
// handed off. Delivery failure after retries is logged, never fatal.
func (d *Dispatcher) Dispatch(ctx context.Context, notifySet []models.Task, pending int) (Badge, bool, error) {
	badge := badgeFor(pending)
	if len(notifySet) == 0 || d.notifier == nil {
		return badge, false, nil
	}

	d.mu.Lock()
	now := d.now()
	if !d.lastBurst.IsZero() && now.Sub(d.lastBurst) < d.cooldown {
		d.mu.Unlock()
		observability.Log(d.log, "INFO", observability.EventNotifySuppressed,
			"burst inside cooldown window dropped",
			map[string]any{"tasks": len(notifySet), "cooldown_seconds": d.cooldown.Seconds()})
		return badge, false, nil
	}
	// Reserve the window now so a concurrent burst is dropped while this
	// delivery is in flight; rolled back below if delivery fails.
	prevBurst := d.lastBurst
	d.lastBurst = now
	d.mu.Unlock()

	n := Notification{
		ID:           uuid.New().String(),
		Title:        title(notifySet),
		Message:      message(notifySet),
		Tasks:        notifySet,
		PendingCount: pending,
		CreatedAt:    now.UTC(),
	}

	err := retry.Do(ctx, func(context.Context) error {
		return d.notifier.Notify(n)
	}, d.retryOpts)
	if err != nil {
		// Nothing reached the user, so the cooldown must not swallow the
		// next burst.
		d.mu.Lock()
		if d.lastBurst.Equal(now) {
			d.lastBurst = prevBurst
		}
		d.mu.Unlock()
		observability.Log(d.log, "WARN", observability.EventRetryExhausted,
			"notification delivery failed",
			map[string]any{"notification_id": n.ID, "error": err.Error()})
		return badge, false, err
	}

	observability.Log(d.log, "INFO", observability.EventNotifySent,
		"notification delivered",
		map[string]any{"notification_id": n.ID, "tasks": len(notifySet)})
	return badge, true, nil
}

func title(notifySet []models.Task) string {
	if len(notifySet) == 1 {
		return "Nova tarefa no painel"
	}
	return fmt.Sprintf("%d novas tarefas no painel", len(notifySet))
}

func message(notifySet []models.Task) string {
	first := notifySet[0]
	if len(notifySet) == 1 {
		return fmt.Sprintf("%s — %s", first.Numero, first.Titulo)
	}
	return fmt.Sprintf("%s — %s (e mais %d)", first.Numero, first.Titulo, len(notifySet)-1)
}
