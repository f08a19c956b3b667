package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vigiapainel/vigia/internal/observability"
)

// ErrQuotaExceeded is returned by SafeSet when validation rejects the
// write. The WriteResult carries the full list of violated constraints.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// ErrUnknownTier is returned when a tier has not been registered.
var ErrUnknownTier = errors.New("storage: unknown tier")

// WriteResult reports the outcome of a SafeSet call. Validation is
// populated whenever validation ran, success or not, so callers can use
// it for usage telemetry.
type WriteResult struct {
	Success    bool
	Validation ValidationResult
}

// Gateway wraps the raw key-value tiers with compression and quota
// validation. A SafeSet call is atomic from the caller's perspective:
// the whole batch is encoded and validated before any write proceeds,
// and the underlying tiers write batches transactionally.
//
// The gateway does not remediate quota failures itself; the reconciler
// owns the cleanup-and-retry and raw-write degradation sequence.
type Gateway struct {
	codec *Codec
	tiers map[Tier]KV
	log   observability.EventLog
}

// NewGateway creates a Gateway over the given tiers. log may be nil.
func NewGateway(codec *Codec, tiers map[Tier]KV, log observability.EventLog) *Gateway {
	if log == nil {
		log = observability.NewNopEventLog()
	}
	return &Gateway{codec: codec, tiers: tiers, log: log}
}

func (g *Gateway) tier(t Tier) (KV, error) {
	kv, ok := g.tiers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, t)
	}
	return kv, nil
}

// SafeSet encodes each value into a compression envelope, validates the
// whole batch against the tier's quota, and writes it only if every
// constraint passes. On a quota violation nothing is written and the
// result carries all violated constraints.
func (g *Gateway) SafeSet(ctx context.Context, t Tier, data map[string]any) (WriteResult, error) {
	kv, err := g.tier(t)
	if err != nil {
		return WriteResult{}, err
	}

	proposed := make(map[string]string, len(data))
	for key, value := range data {
		env := g.codec.Encode(value)
		raw, err := json.Marshal(env)
		if err != nil {
			return WriteResult{}, fmt.Errorf("serializing envelope for %s: %w", key, err)
		}
		proposed[key] = string(raw)
	}

	usage, err := kv.Usage(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("querying %s tier usage: %w", t, err)
	}

	validation := Validate(kv.Quota(), proposed, usage)
	if !validation.Valid {
		return WriteResult{Validation: validation},
			fmt.Errorf("%w on %s tier: %s", ErrQuotaExceeded, t, validation.Reason())
	}

	if err := kv.Set(ctx, proposed); err != nil {
		observability.Log(g.log, "ERROR", observability.EventStorageFailed,
			"validated write failed", map[string]any{"tier": string(t), "error": err.Error()})
		return WriteResult{Validation: validation}, fmt.Errorf("writing %s tier: %w", t, err)
	}

	return WriteResult{Success: true, Validation: validation}, nil
}

// RawSet writes data as plain uncompressed JSON with no validation. It
// is the last-resort degradation path: exceeding quota is accepted over
// losing the update entirely.
func (g *Gateway) RawSet(ctx context.Context, t Tier, data map[string]any) error {
	kv, err := g.tier(t)
	if err != nil {
		return err
	}

	items := make(map[string]string, len(data))
	for key, value := range data {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("serializing raw value for %s: %w", key, err)
		}
		items[key] = string(raw)
	}

	if err := kv.Set(ctx, items); err != nil {
		observability.Log(g.log, "ERROR", observability.EventStorageFailed,
			"raw write failed", map[string]any{"tier": string(t), "error": err.Error()})
		return fmt.Errorf("raw-writing %s tier: %w", t, err)
	}
	return nil
}

// Get reads key from the tier and unmarshals it into out, decoding the
// compression envelope transparently. Values not in envelope form
// (legacy or raw-degraded writes) are unmarshaled as-is. The boolean
// reports whether the key existed.
func (g *Gateway) Get(ctx context.Context, t Tier, key string, out any) (bool, error) {
	kv, err := g.tier(t)
	if err != nil {
		return false, err
	}

	values, err := kv.Get(ctx, []string{key})
	if err != nil {
		return false, fmt.Errorf("reading %s tier: %w", t, err)
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}

	payload := json.RawMessage(raw)
	if IsEnvelope([]byte(raw)) {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err == nil {
			payload = g.codec.Decode(env)
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return true, fmt.Errorf("decoding stored value %s: %w", key, err)
	}
	return true, nil
}

// Remove deletes keys from the tier.
func (g *Gateway) Remove(ctx context.Context, t Tier, keys []string) error {
	kv, err := g.tier(t)
	if err != nil {
		return err
	}
	return kv.Remove(ctx, keys)
}

// Clear wipes the tier.
func (g *Gateway) Clear(ctx context.Context, t Tier) error {
	kv, err := g.tier(t)
	if err != nil {
		return err
	}
	return kv.Clear(ctx)
}

// Usage reports current occupancy of the tier.
func (g *Gateway) Usage(ctx context.Context, t Tier) (Usage, error) {
	kv, err := g.tier(t)
	if err != nil {
		return Usage{}, err
	}
	return kv.Usage(ctx)
}

// TierQuota returns the limits configured for the tier.
func (g *Gateway) TierQuota(t Tier) (Quota, error) {
	kv, err := g.tier(t)
	if err != nil {
		return Quota{}, err
	}
	return kv.Quota(), nil
}
