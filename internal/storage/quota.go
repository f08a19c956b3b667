package storage

import (
	"fmt"
	"strings"
)

// Tier identifies a persistence backend with its own quota profile.
type Tier string

const (
	// TierSync is the strict tier: small total capacity with per-item
	// and item-count limits, preferred for user state that should roam.
	TierSync Tier = "sync"
	// TierLocal is the relaxed tier: larger capacity, total-size limit
	// only. The task set always lives here.
	TierLocal Tier = "local"
)

// Quota is one tier's limits. A zero field means unlimited for that
// constraint.
type Quota struct {
	TotalBytes   int
	PerItemBytes int
	MaxItems     int
}

// SyncQuota returns the strict tier's default limits.
func SyncQuota() Quota {
	return Quota{TotalBytes: 102400, PerItemBytes: 8192, MaxItems: 512}
}

// LocalQuota returns the relaxed tier's default limits.
func LocalQuota() Quota {
	return Quota{TotalBytes: 5 * 1024 * 1024}
}

// Usage is a snapshot of what a tier currently holds. PerKey maps each
// stored key to its byte size; a nil PerKey means per-key sizes are
// unknowable and the validator must overestimate instead of assuming
// overwrites.
type Usage struct {
	Bytes  int
	Items  int
	PerKey map[string]int
}

// Violation constraint names.
const (
	ConstraintTotalBytes   = "total_bytes"
	ConstraintPerItemBytes = "per_item_bytes"
	ConstraintMaxItems     = "max_items"
)

// Violation is one quota constraint a proposed write would break.
type Violation struct {
	Constraint string
	Key        string // set for per-item violations
	Size       int
	Limit      int
}

func (v Violation) String() string {
	if v.Key != "" {
		return fmt.Sprintf("%s: key %q is %d bytes, limit %d", v.Constraint, v.Key, v.Size, v.Limit)
	}
	return fmt.Sprintf("%s: %d exceeds limit %d", v.Constraint, v.Size, v.Limit)
}

// ValidationResult reports every violated constraint of a prospective
// write, not just the first, so callers can log a composite reason.
type ValidationResult struct {
	Valid          bool
	Violations     []Violation
	WriteBytes     int
	ProjectedBytes int
	ProjectedItems int
}

// Reason joins all violations into one message. Empty when valid.
func (r ValidationResult) Reason() string {
	if r.Valid {
		return ""
	}
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// ItemSize is the byte accounting used against quotas: key length plus
// stored value length.
func ItemSize(key, value string) int {
	return len(key) + len(value)
}

// Validate computes the post-write size of proposed against current
// usage and checks it against every constraint of q. Keys already
// present in current.PerKey are counted as overwrites; when per-key
// sizes are unknown the prior size is assumed zero, overestimating the
// projection rather than underestimating it.
func Validate(q Quota, proposed map[string]string, current Usage) ValidationResult {
	res := ValidationResult{Valid: true}

	projectedBytes := current.Bytes
	projectedItems := current.Items
	for key, value := range proposed {
		size := ItemSize(key, value)
		res.WriteBytes += size
		projectedBytes += size
		if prior, known := current.PerKey[key]; known {
			projectedBytes -= prior
		} else {
			projectedItems++
		}

		if q.PerItemBytes > 0 && size > q.PerItemBytes {
			res.Violations = append(res.Violations, Violation{
				Constraint: ConstraintPerItemBytes,
				Key:        key,
				Size:       size,
				Limit:      q.PerItemBytes,
			})
		}
	}
	res.ProjectedBytes = projectedBytes
	res.ProjectedItems = projectedItems

	if q.TotalBytes > 0 && projectedBytes > q.TotalBytes {
		res.Violations = append(res.Violations, Violation{
			Constraint: ConstraintTotalBytes,
			Size:       projectedBytes,
			Limit:      q.TotalBytes,
		})
	}
	if q.MaxItems > 0 && projectedItems > q.MaxItems {
		res.Violations = append(res.Violations, Violation{
			Constraint: ConstraintMaxItems,
			Size:       projectedItems,
			Limit:      q.MaxItems,
		})
	}

	res.Valid = len(res.Violations) == 0
	return res
}
