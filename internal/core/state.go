package core

import (
	"sort"

	"github.com/vigiapainel/vigia/pkg/models"
)

// Persisted state keys. The first five are wrapped in compression
// envelopes by the store gateway; lastCheckTimestamp is written raw.
const (
	keyKnownTasks = "knownTasks"
	keyIgnored    = "ignored"
	keySnoozed    = "snoozed"
	keyOpened     = "opened"
	keyNotifiedAt = "notificationTimestamps"
	keyLastCheck  = "lastCheckTimestamp"
)

// state is the in-memory task-notification state: the known task set,
// the three suppression maps and the notification timestamps. It is
// owned exclusively by the Reconciler, which loads it once at startup
// and re-persists the full collections after every mutation.
//
// Invariant: a task id appears in at most one of ignored/snoozed/opened
// at any time. The suppress* methods below are the only writers to the
// three maps and each evicts the id from the other two.
type state struct {
	tasks      map[string]models.Task
	ignored    map[string]bool
	snoozed    map[string]int64 // id -> wake-up epoch ms
	opened     map[string]bool
	notifiedAt map[string]int64 // id -> last notification epoch ms
}

func newState() *state {
	return &state{
		tasks:      map[string]models.Task{},
		ignored:    map[string]bool{},
		snoozed:    map[string]int64{},
		opened:     map[string]bool{},
		notifiedAt: map[string]int64{},
	}
}

func (s *state) suppressIgnored(id string) {
	s.ignored[id] = true
	delete(s.snoozed, id)
	delete(s.opened, id)
}

func (s *state) suppressSnoozed(id string, wakeAt int64) {
	s.snoozed[id] = wakeAt
	delete(s.ignored, id)
	delete(s.opened, id)
}

func (s *state) suppressOpened(id string) {
	s.opened[id] = true
	delete(s.ignored, id)
	delete(s.snoozed, id)
}

// pending reports whether the known task id is currently countable and
// notifiable: not ignored, not opened, and either not snoozed or past
// its wake-up time. Snooze expiry is resolved lazily here, on read;
// there is no timer that un-snoozes tasks.
func (s *state) pending(id string, nowMs int64) bool {
	if _, known := s.tasks[id]; !known {
		return false
	}
	if s.ignored[id] || s.opened[id] {
		return false
	}
	if wakeAt, snoozed := s.snoozed[id]; snoozed && wakeAt > nowMs {
		return false
	}
	return true
}

func (s *state) pendingCount(nowMs int64) int {
	count := 0
	for id := range s.tasks {
		if s.pending(id, nowMs) {
			count++
		}
	}
	return count
}

// sortedTasks returns the known task set as an id-sorted slice, the
// deterministic form used for persistence.
func (s *state) sortedTasks() []models.Task {
	tasks := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// purgeOlderThan removes tasks whose last notification (fallback 0) is
// before cutoffMs, then prunes entries in the suppression maps and
// notification timestamps whose id has no surviving task. Returns the
// number of tasks removed.
func (s *state) purgeOlderThan(cutoffMs int64) int {
	removed := 0
	for id, t := range s.tasks {
		if t.LastNotifiedTimestamp < cutoffMs {
			delete(s.tasks, id)
			removed++
		}
	}

	for id := range s.ignored {
		if _, ok := s.tasks[id]; !ok {
			delete(s.ignored, id)
		}
	}
	for id := range s.snoozed {
		if _, ok := s.tasks[id]; !ok {
			delete(s.snoozed, id)
		}
	}
	for id := range s.opened {
		if _, ok := s.tasks[id]; !ok {
			delete(s.opened, id)
		}
	}
	for id := range s.notifiedAt {
		if _, ok := s.tasks[id]; !ok {
			delete(s.notifiedAt, id)
		}
	}

	return removed
}
