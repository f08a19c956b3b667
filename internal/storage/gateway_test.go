package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func newTestGateway(syncQuota, localQuota Quota) (*Gateway, *MemKV, *MemKV) {
	syncKV := NewMemKV(syncQuota)
	localKV := NewMemKV(localQuota)
	gw := NewGateway(NewCodec(), map[Tier]KV{
		TierSync:  syncKV,
		TierLocal: localKV,
	}, nil)
	return gw, syncKV, localKV
}

func TestGatewaySafeSetRoundTrip(t *testing.T) {
	gw, _, _ := newTestGateway(SyncQuota(), LocalQuota())
	ctx := context.Background()

	tasks := bigTaskList(3)
	res, err := gw.SafeSet(ctx, TierLocal, map[string]any{"knownTasks": tasks})
	if err != nil {
		t.Fatalf("SafeSet: %v", err)
	}
	if !res.Success {
		t.Fatal("write reported unsuccessful")
	}

	var got []map[string]any
	found, err := gw.Get(ctx, TierLocal, "knownTasks", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("written key not found")
	}
	if len(got) != 3 {
		t.Fatalf("got %d tasks, want 3", len(got))
	}
	if got[0]["numero"] != "0" {
		t.Errorf("numero = %v", got[0]["numero"])
	}
	if got[0]["dataEnvio"] != "2024-01-01" {
		t.Errorf("dataEnvio = %v, want canonical date restored", got[0]["dataEnvio"])
	}
}

func TestGatewaySafeSetQuotaRejectionWritesNothing(t *testing.T) {
	gw, syncKV, _ := newTestGateway(Quota{TotalBytes: 100}, LocalQuota())
	ctx := context.Background()

	res, err := gw.SafeSet(ctx, TierSync, map[string]any{
		"ignoredTasks": map[string]bool{"100-2024-01-01": true},
		"openedTasks":  map[string]bool{"200-2024-01-01": true},
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if res.Success {
		t.Error("rejected write reported success")
	}
	if len(res.Validation.Violations) == 0 {
		t.Error("rejection carries no violations")
	}

	usage, err := syncKV.Usage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Items != 0 {
		t.Errorf("rejected batch left %d items behind", usage.Items)
	}
}

func TestGatewaySafeSetBackendFailure(t *testing.T) {
	gw, syncKV, _ := newTestGateway(SyncQuota(), LocalQuota())
	syncKV.FailSet = errors.New("disk full")

	res, err := gw.SafeSet(context.Background(), TierSync, map[string]any{"ignoredTasks": map[string]bool{}})
	if err == nil {
		t.Fatal("backend failure not surfaced")
	}
	if errors.Is(err, ErrQuotaExceeded) {
		t.Error("backend failure misreported as quota rejection")
	}
	if res.Success {
		t.Error("failed write reported success")
	}
	if !res.Validation.Valid {
		t.Error("validation result lost on backend failure")
	}
}

func TestGatewayGetMissingKey(t *testing.T) {
	gw, _, _ := newTestGateway(SyncQuota(), LocalQuota())

	var out map[string]bool
	found, err := gw.Get(context.Background(), TierSync, "ignoredTasks", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("missing key reported as found")
	}
}

func TestGatewayGetLegacyRawValue(t *testing.T) {
	gw, syncKV, _ := newTestGateway(SyncQuota(), LocalQuota())
	ctx := context.Background()

	// A value persisted before the envelope format existed.
	if err := syncKV.Set(ctx, map[string]string{"ignoredTasks": `{"100-2024-01-01":true}`}); err != nil {
		t.Fatal(err)
	}

	var out map[string]bool
	found, err := gw.Get(ctx, TierSync, "ignoredTasks", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || !out["100-2024-01-01"] {
		t.Errorf("legacy value not readable: found=%v out=%v", found, out)
	}
}

func TestGatewayRawSetSkipsEnvelopeAndValidation(t *testing.T) {
	gw, syncKV, _ := newTestGateway(Quota{TotalBytes: 10}, LocalQuota())
	ctx := context.Background()

	// Far over the 10-byte quota, but the raw path must accept it.
	if err := gw.RawSet(ctx, TierSync, map[string]any{"knownTasks": bigTaskList(2)}); err != nil {
		t.Fatalf("RawSet: %v", err)
	}

	values, err := syncKV.Get(ctx, []string{"knownTasks"})
	if err != nil {
		t.Fatal(err)
	}
	stored := values["knownTasks"]
	if IsEnvelope([]byte(stored)) {
		t.Error("raw write produced an envelope")
	}

	var out []map[string]any
	found, err := gw.Get(ctx, TierSync, "knownTasks", &out)
	if err != nil || !found {
		t.Fatalf("reading back raw value: found=%v err=%v", found, err)
	}
	if len(out) != 2 {
		t.Errorf("got %d tasks, want 2", len(out))
	}
}

func TestGatewayUnknownTier(t *testing.T) {
	gw := NewGateway(NewCodec(), map[Tier]KV{}, nil)

	_, err := gw.SafeSet(context.Background(), TierSync, map[string]any{"k": 1})
	if !errors.Is(err, ErrUnknownTier) {
		t.Errorf("err = %v, want ErrUnknownTier", err)
	}
}

func TestGatewayCompressedValueReadsBack(t *testing.T) {
	gw, _, localKV := newTestGateway(SyncQuota(), LocalQuota())
	ctx := context.Background()

	tasks := bigTaskList(50)
	if _, err := gw.SafeSet(ctx, TierLocal, map[string]any{"knownTasks": tasks}); err != nil {
		t.Fatal(err)
	}

	values, err := localKV.Get(ctx, []string{"knownTasks"})
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(values["knownTasks"]), &env); err != nil {
		t.Fatalf("stored value is not an envelope: %v", err)
	}
	if !env.Compressed {
		t.Error("large repetitive batch stored uncompressed")
	}

	var out []map[string]any
	if _, err := gw.Get(ctx, TierLocal, "knownTasks", &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 50 {
		t.Errorf("got %d tasks, want 50", len(out))
	}
}

func TestGatewayClearAndUsage(t *testing.T) {
	gw, _, _ := newTestGateway(SyncQuota(), LocalQuota())
	ctx := context.Background()

	if _, err := gw.SafeSet(ctx, TierSync, map[string]any{"ignoredTasks": map[string]bool{"a": true}}); err != nil {
		t.Fatal(err)
	}

	usage, err := gw.Usage(ctx, TierSync)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Items != 1 {
		t.Fatalf("items = %d, want 1", usage.Items)
	}

	if err := gw.Clear(ctx, TierSync); err != nil {
		t.Fatal(err)
	}
	usage, err = gw.Usage(ctx, TierSync)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Items != 0 || usage.Bytes != 0 {
		t.Errorf("usage after clear = %+v", usage)
	}
}
