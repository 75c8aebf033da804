package query

import (
	"fmt"
	"math"

	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/storage/types"
)

// =============================================================================
// Output filters
// =============================================================================

// Filter is a post-aggregation predicate applied per output point, per
// group. The closed set of implementations is Compare, And and Or.
type Filter interface {
	isFilter()
	validate() error

	// Keep reports whether the point passes the predicate. A predicate
	// whose transforms cannot produce a value (domain failure) drops the
	// point.
	Keep(pt types.SeriesPoint) bool
}

// Compare keeps a point when `left op right` holds.
type Compare struct {
	Op    CompareOp
	Left  Transform
	Right Transform
}

// And keeps a point when both sides keep it.
type And struct {
	Left  Filter
	Right Filter
}

// Or keeps a point when either side keeps it.
type Or struct {
	Left  Filter
	Right Filter
}

func (*Compare) isFilter() {}
func (*And) isFilter()     {}
func (*Or) isFilter()      {}

func (f *Compare) validate() error {
	if err := f.Op.Validate(); err != nil {
		return err
	}
	if f.Left == nil || f.Right == nil {
		return errors.NewMissingField("compare operand")
	}
	if err := f.Left.validate(); err != nil {
		return err
	}
	return f.Right.validate()
}

func (f *And) validate() error { return validatePair(f.Left, f.Right) }
func (f *Or) validate() error  { return validatePair(f.Left, f.Right) }

func validatePair(left, right Filter) error {
	if left == nil || right == nil {
		return errors.NewMissingField("filter operand")
	}
	if err := left.validate(); err != nil {
		return err
	}
	return right.validate()
}

func (f *Compare) Keep(pt types.SeriesPoint) bool {
	left, ok := f.Left.Eval(pt.Value)
	if !ok {
		return false
	}
	right, ok := f.Right.Eval(pt.Value)
	if !ok {
		return false
	}
	return f.Op.Apply(left, right)
}

func (f *And) Keep(pt types.SeriesPoint) bool {
	return f.Left.Keep(pt) && f.Right.Keep(pt)
}

func (f *Or) Keep(pt types.SeriesPoint) bool {
	return f.Left.Keep(pt) || f.Right.Keep(pt)
}

// ApplyFilter returns the points of a series that pass the filter. A nil
// filter passes everything through unchanged.
func ApplyFilter(f Filter, s types.Series) types.Series {
	if f == nil {
		return s
	}
	out := make(types.Series, 0, len(s))
	for _, pt := range s {
		if f.Keep(pt) {
			out = append(out, pt)
		}
	}
	return out
}

// =============================================================================
// Comparison operations
// =============================================================================

// CompareOp is a comparison between two transform results.
type CompareOp int

const (
	CmpEqual CompareOp = iota
	CmpNotEqual
	CmpGreaterThan
	CmpGreaterThanOrEqual
	CmpLessThan
	CmpLessThanOrEqual
)

var compareNames = map[CompareOp]string{
	CmpEqual:              "Equal",
	CmpNotEqual:           "NotEqual",
	CmpGreaterThan:        "GreaterThan",
	CmpGreaterThanOrEqual: "GreaterThanOrEqual",
	CmpLessThan:           "LessThan",
	CmpLessThanOrEqual:    "LessThanOrEqual",
}

// String returns the operation name as used on the wire.
func (o CompareOp) String() string {
	if name, ok := compareNames[o]; ok {
		return name
	}
	return fmt.Sprintf("CompareOp(%d)", int(o))
}

// ParseCompareOp parses a comparison name.
func ParseCompareOp(s string) (CompareOp, error) {
	for op, name := range compareNames {
		if name == s {
			return op, nil
		}
	}
	return 0, errors.Wrapf(errors.ErrInvalidOperation, "compare %q", s)
}

// Validate checks the operation value.
func (o CompareOp) Validate() error {
	if _, ok := compareNames[o]; !ok {
		return errors.Wrapf(errors.ErrInvalidOperation, "compare %d", int(o))
	}
	return nil
}

// Apply computes the comparison.
func (o CompareOp) Apply(left, right float64) bool {
	switch o {
	case CmpEqual:
		return left == right
	case CmpNotEqual:
		return left != right
	case CmpGreaterThan:
		return left > right
	case CmpGreaterThanOrEqual:
		return left >= right
	case CmpLessThan:
		return left < right
	case CmpLessThanOrEqual:
		return left <= right
	default:
		return false
	}
}

// =============================================================================
// Transforms
// =============================================================================

// Transform produces one side of a comparison from the point under test.
// The closed set of implementations is InputValue, TransformValue,
// TransformArithmetic and TransformFunction.
type Transform interface {
	isTransform()
	validate() error

	// Eval computes the transform for a point value. ok=false means the
	// transform has no value here (domain failure, division by zero) and
	// the point is dropped.
	Eval(input float64) (float64, bool)
}

// InputValue yields the point's own value.
type InputValue struct{}

// TransformValue yields a constant.
type TransformValue struct {
	Constant float64
}

// TransformArithmetic combines two transforms.
type TransformArithmetic struct {
	Op    ArithmeticOp
	Left  Transform
	Right Transform
}

// TransformFunction applies a pointwise function to transform results.
type TransformFunction struct {
	Fn   Fn
	Args []Transform
}

func (*InputValue) isTransform()          {}
func (*TransformValue) isTransform()      {}
func (*TransformArithmetic) isTransform() {}
func (*TransformFunction) isTransform()   {}

func (*InputValue) validate() error { return nil }

func (t *TransformValue) validate() error {
	if math.IsNaN(t.Constant) || math.IsInf(t.Constant, 0) {
		return errors.NewInvalidValue("constant", t.Constant, "must be finite")
	}
	return nil
}

func (t *TransformArithmetic) validate() error {
	if err := t.Op.Validate(); err != nil {
		return err
	}
	if t.Left == nil || t.Right == nil {
		return errors.NewMissingField("transform operand")
	}
	if err := t.Left.validate(); err != nil {
		return err
	}
	return t.Right.validate()
}

func (t *TransformFunction) validate() error {
	if err := t.Fn.Validate(); err != nil {
		return err
	}
	if got, want := len(t.Args), t.Fn.Arity(); got != want {
		return errors.NewInvalidValue("transform arguments", got,
			fmt.Sprintf("%s takes %d", t.Fn, want))
	}
	for _, arg := range t.Args {
		if arg == nil {
			return errors.NewMissingField("transform argument")
		}
		if err := arg.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (*InputValue) Eval(input float64) (float64, bool) {
	return input, true
}

func (t *TransformValue) Eval(float64) (float64, bool) {
	return t.Constant, true
}

func (t *TransformArithmetic) Eval(input float64) (float64, bool) {
	left, ok := t.Left.Eval(input)
	if !ok {
		return 0, false
	}
	right, ok := t.Right.Eval(input)
	if !ok {
		return 0, false
	}
	return t.Op.Apply(left, right)
}

func (t *TransformFunction) Eval(input float64) (float64, bool) {
	args := make([]float64, len(t.Args))
	for i, arg := range t.Args {
		v, ok := arg.Eval(input)
		if !ok {
			return 0, false
		}
		args[i] = v
	}
	return t.Fn.Apply(args)
}
