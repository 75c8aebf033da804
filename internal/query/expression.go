// Package query implements the query side of the engine: typed expression
// trees, output filters, the windowed evaluator, and the planner that
// orchestrates scan, grouping, aggregation, evaluation and filtering.
//
// All request payloads are closed tagged variants with exhaustive handling;
// unrecognized variants are rejected as invalid arguments at the boundary,
// never silently ignored.
package query

import (
	"fmt"
	"math"

	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/storage/window"
	"github.com/xtxerr/metron/internal/validation"
)

// Query carries the per-metric-reference scan options.
type Query struct {
	// GroupBy, when non-empty, partitions points by this tag key's value.
	GroupBy string

	// Tags is an exact-match filter set with AND semantics.
	Tags []string

	// Filter, when non-nil, post-filters the aggregated series.
	Filter Filter
}

// Validate checks the scan options.
func (q *Query) Validate() error {
	if q.GroupBy != "" {
		if err := validation.ValidateTagKey(q.GroupBy); err != nil {
			return errors.Wrapf(errors.ErrInvalidTagKey, "group_by: %v", err)
		}
	}
	for _, tag := range q.Tags {
		if err := validation.ValidateTag(tag); err != nil {
			return errors.Wrap(errors.ErrInvalidArgument, err.Error())
		}
	}
	if q.Filter != nil {
		if err := q.Filter.validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Expression variants
// =============================================================================

// Expression is a node of a derived-series expression tree. The closed set
// of implementations is MetricRef, Value, Arithmetic and Function.
type Expression interface {
	isExpression()
	validate() error
}

// MetricRef aggregates one metric over the query's windows.
type MetricRef struct {
	Metric string
	Agg    window.Aggregation
	Query  Query
}

// Value is a constant. It broadcasts across the bucket timestamps produced
// elsewhere in the tree and never originates timestamps on its own.
type Value struct {
	Constant float64
}

// Arithmetic combines two subtrees bucket-by-bucket.
type Arithmetic struct {
	Op    ArithmeticOp
	Left  Expression
	Right Expression
}

// Function applies a pointwise function across its argument subtrees.
type Function struct {
	Fn   Fn
	Args []Expression
}

func (*MetricRef) isExpression()  {}
func (*Value) isExpression()      {}
func (*Arithmetic) isExpression() {}
func (*Function) isExpression()   {}

func (e *MetricRef) validate() error {
	if e.Metric == "" {
		return errors.NewMissingField("metric")
	}
	if err := e.Agg.Validate(); err != nil {
		return err
	}
	return e.Query.Validate()
}

func (e *Value) validate() error {
	if math.IsNaN(e.Constant) || math.IsInf(e.Constant, 0) {
		return errors.NewInvalidValue("constant", e.Constant, "must be finite")
	}
	return nil
}

func (e *Arithmetic) validate() error {
	if err := e.Op.Validate(); err != nil {
		return err
	}
	if e.Left == nil || e.Right == nil {
		return errors.NewMissingField("arithmetic operand")
	}
	if err := e.Left.validate(); err != nil {
		return err
	}
	return e.Right.validate()
}

func (e *Function) validate() error {
	if err := e.Fn.Validate(); err != nil {
		return err
	}
	if got, want := len(e.Args), e.Fn.Arity(); got != want {
		return errors.NewInvalidValue("function arguments", got,
			fmt.Sprintf("%s takes %d", e.Fn, want))
	}
	for _, arg := range e.Args {
		if arg == nil {
			return errors.NewMissingField("function argument")
		}
		if err := arg.validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Arithmetic operations
// =============================================================================

// ArithmeticOp is a binary arithmetic operation.
type ArithmeticOp int

const (
	OpAdd ArithmeticOp = iota
	OpSubtract
	OpMultiply
	OpDivide
)

// String returns the operation name as used on the wire.
func (o ArithmeticOp) String() string {
	switch o {
	case OpAdd:
		return "Add"
	case OpSubtract:
		return "Subtract"
	case OpMultiply:
		return "Multiply"
	case OpDivide:
		return "Divide"
	default:
		return fmt.Sprintf("ArithmeticOp(%d)", int(o))
	}
}

// ParseArithmeticOp parses an operation name.
func ParseArithmeticOp(s string) (ArithmeticOp, error) {
	switch s {
	case "Add":
		return OpAdd, nil
	case "Subtract":
		return OpSubtract, nil
	case "Multiply":
		return OpMultiply, nil
	case "Divide":
		return OpDivide, nil
	default:
		return 0, errors.Wrapf(errors.ErrInvalidOperation, "arithmetic %q", s)
	}
}

// Validate checks the operation value.
func (o ArithmeticOp) Validate() error {
	switch o {
	case OpAdd, OpSubtract, OpMultiply, OpDivide:
		return nil
	default:
		return errors.Wrapf(errors.ErrInvalidOperation, "arithmetic %d", int(o))
	}
}

// Apply computes the operation. Division by zero reports ok=false: the
// bucket is treated as a missing sample, not an error.
func (o ArithmeticOp) Apply(left, right float64) (float64, bool) {
	switch o {
	case OpAdd:
		return left + right, true
	case OpSubtract:
		return left - right, true
	case OpMultiply:
		return left * right, true
	case OpDivide:
		if right == 0 {
			return 0, false
		}
		return left / right, true
	default:
		return 0, false
	}
}

// =============================================================================
// Functions
// =============================================================================

// Fn is a pointwise function usable in expressions and transforms.
type Fn int

const (
	FnAbs Fn = iota
	FnMax
	FnMin
	FnRound
	FnCeil
	FnFloor
	FnSqrt
	FnSquare
	FnPower
	FnExponential
	FnLogE
	FnLogBase
	FnSin
	FnCos
	FnTan
)

var fnNames = map[Fn]string{
	FnAbs:         "Abs",
	FnMax:         "Max",
	FnMin:         "Min",
	FnRound:       "Round",
	FnCeil:        "Ceil",
	FnFloor:       "Floor",
	FnSqrt:        "Sqrt",
	FnSquare:      "Square",
	FnPower:       "Power",
	FnExponential: "Exponential",
	FnLogE:        "LogE",
	FnLogBase:     "LogBase",
	FnSin:         "Sin",
	FnCos:         "Cos",
	FnTan:         "Tan",
}

// String returns the function name as used on the wire.
func (f Fn) String() string {
	if name, ok := fnNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Fn(%d)", int(f))
}

// ParseFn parses a function name.
func ParseFn(s string) (Fn, error) {
	for f, name := range fnNames {
		if name == s {
			return f, nil
		}
	}
	return 0, errors.Wrapf(errors.ErrInvalidOperation, "function %q", s)
}

// Validate checks the function value.
func (f Fn) Validate() error {
	if _, ok := fnNames[f]; !ok {
		return errors.Wrapf(errors.ErrInvalidOperation, "function %d", int(f))
	}
	return nil
}

// Arity returns the number of arguments the function takes.
func (f Fn) Arity() int {
	switch f {
	case FnMax, FnMin, FnPower, FnLogBase:
		return 2
	default:
		return 1
	}
}

// Apply computes the function. A domain failure (e.g. Sqrt of a negative)
// reports ok=false and the bucket is dropped, same as divide-by-zero.
func (f Fn) Apply(args []float64) (float64, bool) {
	if len(args) != f.Arity() {
		return 0, false
	}
	switch f {
	case FnAbs:
		return math.Abs(args[0]), true
	case FnMax:
		return math.Max(args[0], args[1]), true
	case FnMin:
		return math.Min(args[0], args[1]), true
	case FnRound:
		return math.Round(args[0]), true
	case FnCeil:
		return math.Ceil(args[0]), true
	case FnFloor:
		return math.Floor(args[0]), true
	case FnSqrt:
		if args[0] < 0 {
			return 0, false
		}
		return math.Sqrt(args[0]), true
	case FnSquare:
		return args[0] * args[0], true
	case FnPower:
		return math.Pow(args[0], args[1]), true
	case FnExponential:
		return math.Exp(args[0]), true
	case FnLogE:
		if args[0] <= 0 {
			return 0, false
		}
		return math.Log(args[0]), true
	case FnLogBase:
		if args[0] <= 0 || args[1] <= 0 {
			return 0, false
		}
		return math.Log(args[0]) / math.Log(args[1]), true
	case FnSin:
		return math.Sin(args[0]), true
	case FnCos:
		return math.Cos(args[0]), true
	case FnTan:
		return math.Tan(args[0]), true
	default:
		return 0, false
	}
}
