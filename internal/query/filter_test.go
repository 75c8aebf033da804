package query

import (
	"testing"

	"github.com/xtxerr/metron/internal/storage/types"
)

func series(pairs ...float64) types.Series {
	var s types.Series
	for i := 0; i+1 < len(pairs); i += 2 {
		s = append(s, types.SeriesPoint{Time: pairs[i], Value: pairs[i+1]})
	}
	return s
}

func TestApplyFilter_NilPassesThrough(t *testing.T) {
	s := series(0, 1, 10, 2)
	got := ApplyFilter(nil, s)
	if len(got) != 2 {
		t.Errorf("nil filter should pass everything: %v", got)
	}
}

func TestCompare_Operations(t *testing.T) {
	s := series(0, 1, 10, 2, 20, 3)

	tests := []struct {
		op       CompareOp
		constant float64
		want     int
	}{
		{CmpGreaterThan, 1, 2},
		{CmpGreaterThanOrEqual, 2, 2},
		{CmpLessThan, 3, 2},
		{CmpLessThanOrEqual, 1, 1},
		{CmpEqual, 2, 1},
		{CmpNotEqual, 2, 2},
	}
	for _, tc := range tests {
		f := &Compare{
			Op:    tc.op,
			Left:  &InputValue{},
			Right: &TransformValue{Constant: tc.constant},
		}
		got := ApplyFilter(f, s)
		if len(got) != tc.want {
			t.Errorf("%s %v: kept %d points, want %d", tc.op, tc.constant, len(got), tc.want)
		}
	}
}

func TestAndOr(t *testing.T) {
	s := series(0, 1, 10, 2, 20, 3, 30, 4)

	gt1 := &Compare{Op: CmpGreaterThan, Left: &InputValue{}, Right: &TransformValue{Constant: 1}}
	lt4 := &Compare{Op: CmpLessThan, Left: &InputValue{}, Right: &TransformValue{Constant: 4}}

	if got := ApplyFilter(&And{Left: gt1, Right: lt4}, s); len(got) != 2 {
		t.Errorf("And: kept %d points, want 2 (values 2 and 3): %v", len(got), got)
	}
	if got := ApplyFilter(&Or{Left: gt1, Right: lt4}, s); len(got) != 4 {
		t.Errorf("Or: kept %d points, want 4: %v", len(got), got)
	}
}

func TestTransformArithmeticAndFunction(t *testing.T) {
	s := series(0, 4, 10, 9)

	// Keep points whose sqrt is > 2: sqrt(4)=2 dropped, sqrt(9)=3 kept.
	f := &Compare{
		Op: CmpGreaterThan,
		Left: &TransformFunction{
			Fn:   FnSqrt,
			Args: []Transform{&InputValue{}},
		},
		Right: &TransformValue{Constant: 2},
	}
	got := ApplyFilter(f, s)
	if len(got) != 1 || got[0].Value != 9 {
		t.Errorf("sqrt filter: got %v", got)
	}

	// value * 2 >= 18
	f = &Compare{
		Op: CmpGreaterThanOrEqual,
		Left: &TransformArithmetic{
			Op:    OpMultiply,
			Left:  &InputValue{},
			Right: &TransformValue{Constant: 2},
		},
		Right: &TransformValue{Constant: 18},
	}
	got = ApplyFilter(f, s)
	if len(got) != 1 || got[0].Value != 9 {
		t.Errorf("arithmetic filter: got %v", got)
	}
}

func TestTransformDomainFailureDropsPoint(t *testing.T) {
	// LogE of a non-positive input has no value; the point is dropped
	// regardless of the comparison.
	s := series(0, -1, 10, 1)
	f := &Compare{
		Op: CmpGreaterThanOrEqual,
		Left: &TransformFunction{
			Fn:   FnLogE,
			Args: []Transform{&InputValue{}},
		},
		Right: &TransformValue{Constant: -100},
	}
	got := ApplyFilter(f, s)
	if len(got) != 1 || got[0].Value != 1 {
		t.Errorf("domain failure should drop the point: got %v", got)
	}
}

func TestTransformDivisionByZeroDropsPoint(t *testing.T) {
	s := series(0, 0, 10, 2)
	f := &Compare{
		Op: CmpGreaterThan,
		Left: &TransformArithmetic{
			Op:    OpDivide,
			Left:  &TransformValue{Constant: 1},
			Right: &InputValue{},
		},
		Right: &TransformValue{Constant: 0},
	}
	got := ApplyFilter(f, s)
	if len(got) != 1 || got[0].Value != 2 {
		t.Errorf("division by zero should drop the point: got %v", got)
	}
}

func TestParseCompareOp(t *testing.T) {
	for _, name := range []string{"Equal", "NotEqual", "GreaterThan",
		"GreaterThanOrEqual", "LessThan", "LessThanOrEqual"} {
		op, err := ParseCompareOp(name)
		if err != nil {
			t.Errorf("ParseCompareOp(%q): %v", name, err)
		}
		if op.String() != name {
			t.Errorf("round trip %q: got %q", name, op.String())
		}
	}
	if _, err := ParseCompareOp("Approximately"); err == nil {
		t.Error("unknown op should fail")
	}
}
