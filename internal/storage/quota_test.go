package storage

import (
	"strings"
	"testing"
)

func TestValidateWithinLimits(t *testing.T) {
	q := Quota{TotalBytes: 1000, PerItemBytes: 200, MaxItems: 10}
	res := Validate(q, map[string]string{"a": strings.Repeat("x", 50)}, Usage{})

	if !res.Valid {
		t.Fatalf("valid write rejected: %s", res.Reason())
	}
	if res.WriteBytes != 51 {
		t.Errorf("writeBytes = %d, want 51", res.WriteBytes)
	}
	if res.ProjectedItems != 1 {
		t.Errorf("projectedItems = %d, want 1", res.ProjectedItems)
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	q := Quota{TotalBytes: 100, PerItemBytes: 50, MaxItems: 1}
	proposed := map[string]string{
		"big":   strings.Repeat("x", 80),
		"other": strings.Repeat("y", 60),
	}
	res := Validate(q, proposed, Usage{Bytes: 40, Items: 1, PerKey: map[string]int{"old": 40}})

	if res.Valid {
		t.Fatal("write accepted despite multiple violations")
	}

	byConstraint := map[string]int{}
	for _, v := range res.Violations {
		byConstraint[v.Constraint]++
	}
	if byConstraint[ConstraintPerItemBytes] != 2 {
		t.Errorf("per-item violations = %d, want 2", byConstraint[ConstraintPerItemBytes])
	}
	if byConstraint[ConstraintTotalBytes] != 1 {
		t.Errorf("total-bytes violations = %d, want 1", byConstraint[ConstraintTotalBytes])
	}
	if byConstraint[ConstraintMaxItems] != 1 {
		t.Errorf("max-items violations = %d, want 1", byConstraint[ConstraintMaxItems])
	}
	if res.Reason() == "" {
		t.Error("invalid result has empty reason")
	}
}

func TestValidateOverwriteSubtractsPriorSize(t *testing.T) {
	q := Quota{TotalBytes: 100}
	current := Usage{
		Bytes:  90,
		Items:  1,
		PerKey: map[string]int{"state": 90},
	}

	// Replacing the sole 90-byte item with an 80-byte one fits even
	// though 90+80 would not.
	res := Validate(q, map[string]string{"state": strings.Repeat("x", 75)}, current)
	if !res.Valid {
		t.Fatalf("overwrite rejected: %s", res.Reason())
	}
	if res.ProjectedBytes != 80 {
		t.Errorf("projectedBytes = %d, want 80", res.ProjectedBytes)
	}
	if res.ProjectedItems != 1 {
		t.Errorf("projectedItems = %d, want 1", res.ProjectedItems)
	}
}

func TestValidateUnknownSizesOverestimate(t *testing.T) {
	q := Quota{TotalBytes: 100}
	current := Usage{Bytes: 90, Items: 1} // nil PerKey: sizes unknowable

	res := Validate(q, map[string]string{"state": strings.Repeat("x", 75)}, current)
	if res.Valid {
		t.Error("write accepted on the assumption an unknown key is an overwrite")
	}
	if res.ProjectedBytes != 170 {
		t.Errorf("projectedBytes = %d, want 170", res.ProjectedBytes)
	}
}

func TestValidateZeroMeansUnlimited(t *testing.T) {
	res := Validate(Quota{}, map[string]string{"k": strings.Repeat("x", 1_000_000)}, Usage{})
	if !res.Valid {
		t.Fatalf("unlimited quota rejected a write: %s", res.Reason())
	}
}

func TestTierDefaults(t *testing.T) {
	sync := SyncQuota()
	if sync.TotalBytes != 102400 || sync.PerItemBytes != 8192 || sync.MaxItems != 512 {
		t.Errorf("strict tier quota = %+v", sync)
	}

	local := LocalQuota()
	if local.TotalBytes != 5*1024*1024 {
		t.Errorf("relaxed tier total = %d", local.TotalBytes)
	}
	if local.PerItemBytes != 0 || local.MaxItems != 0 {
		t.Errorf("relaxed tier should only cap total bytes, got %+v", local)
	}
}

func TestViolationString(t *testing.T) {
	perItem := Violation{Constraint: ConstraintPerItemBytes, Key: "knownTasks", Size: 9000, Limit: 8192}
	if got := perItem.String(); !strings.Contains(got, "knownTasks") {
		t.Errorf("per-item violation does not name the key: %s", got)
	}

	total := Violation{Constraint: ConstraintTotalBytes, Size: 110000, Limit: 102400}
	if got := total.String(); !strings.Contains(got, "110000") {
		t.Errorf("total violation does not carry the size: %s", got)
	}
}
