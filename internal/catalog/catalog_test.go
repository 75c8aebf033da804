package catalog

import (
	"testing"

	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/storage/types"
)

func TestRegister_Idempotent(t *testing.T) {
	c := New()

	if err := c.Register("cpu_usage", types.KindGauge); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.Register("cpu_usage", types.KindGauge); err != nil {
		t.Fatalf("same-kind re-register should succeed: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 metric, got %d", c.Len())
	}

	err := c.Register("cpu_usage", types.KindCounter)
	if !errors.IsConflict(err) {
		t.Errorf("different-kind re-register: expected conflict, got %v", err)
	}

	// Kind is unchanged after the conflict.
	m, err := c.Lookup("cpu_usage")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.Kind != types.KindGauge {
		t.Errorf("kind changed after conflict: %v", m.Kind)
	}
}

func TestRegister_InvalidName(t *testing.T) {
	c := New()
	for _, name := range []string{"", "has space", "a/b", ".hidden"} {
		if err := c.Register(name, types.KindGauge); !errors.IsInvalidArgument(err) {
			t.Errorf("register %q: expected invalid argument, got %v", name, err)
		}
	}
}

func TestSetAutoPrimaryTag(t *testing.T) {
	c := New()

	err := c.SetAutoPrimaryTag("missing", "host")
	if !errors.IsNotFound(err) {
		t.Errorf("unknown metric: expected not found, got %v", err)
	}

	if err := c.Register("cpu", types.KindGauge); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.SetAutoPrimaryTag("cpu", "host"); err != nil {
		t.Fatalf("set auto tag: %v", err)
	}

	m, err := c.Lookup("cpu")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.AutoPrimaryTagKey != "host" {
		t.Errorf("auto tag key: got %q, want %q", m.AutoPrimaryTagKey, "host")
	}

	// Overwrites the previous value.
	if err := c.SetAutoPrimaryTag("cpu", "core"); err != nil {
		t.Fatalf("overwrite auto tag: %v", err)
	}
	m, _ = c.Lookup("cpu")
	if m.AutoPrimaryTagKey != "core" {
		t.Errorf("auto tag key after overwrite: got %q", m.AutoPrimaryTagKey)
	}

	if err := c.SetAutoPrimaryTag("cpu", "bad:key"); !errors.IsInvalidArgument(err) {
		t.Errorf("colon in key: expected invalid argument, got %v", err)
	}
}

func TestLookup_NotFound(t *testing.T) {
	c := New()
	if _, err := c.Lookup("nope"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	c := New()
	c.Register("cpu", types.KindGauge)

	m, _ := c.Lookup("cpu")
	m.AutoPrimaryTagKey = "mutated"

	fresh, _ := c.Lookup("cpu")
	if fresh.AutoPrimaryTagKey != "" {
		t.Error("descriptor mutation leaked into the catalog")
	}
}
