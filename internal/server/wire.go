package server

import (
	"encoding/json"

	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/query"
	"github.com/xtxerr/metron/internal/storage/types"
	"github.com/xtxerr/metron/internal/storage/window"
)

// The wire format follows the JSON shapes the clients send: externally
// tagged variants, one key per object. Every payload is decoded into the
// closed typed variants of the query package here at the boundary;
// unrecognized variants are rejected as invalid arguments, never silently
// ignored.

// =============================================================================
// Request bodies
// =============================================================================

// registerBody is the body of POST /metrics/{kind}.
type registerBody struct {
	Name string `json:"name"`
}

// autoTagBody is the body of POST /metrics/auto-primary-tag/{name}.
type autoTagBody struct {
	Key string `json:"key"`
}

// insertEntry is one element of a PUT /metrics/{kind}/{name} batch.
type insertEntry struct {
	Time  float64  `json:"time"`
	Value float64  `json:"value"`
	Tags  []string `json:"tags"`
}

// legacyQueryBody is the body of POST /metrics/query/{name}.
type legacyQueryBody struct {
	Operation    string          `json:"operation"`
	Percentile   *int            `json:"percentile"`
	Duration     float64         `json:"duration"`
	GroupBy      string          `json:"group_by"`
	Tags         []string        `json:"tags"`
	Start        float64         `json:"start"`
	End          float64         `json:"end"`
	OutputFilter json.RawMessage `json:"output_filter"`

	// Timeout, in seconds, caps this query. Zero means the server
	// default.
	Timeout float64 `json:"timeout"`
}

// expressionQueryBody is the body of POST /metrics/query.
type expressionQueryBody struct {
	TimeRange struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"time_range"`
	Duration   float64         `json:"duration"`
	Expression json.RawMessage `json:"expression"`
	Timeout    float64         `json:"timeout"`
}

// sqlBody is the body of POST /export/query.
type sqlBody struct {
	SQL string `json:"sql"`
}

// =============================================================================
// Variant decoding
// =============================================================================

// variant splits an externally tagged JSON object into its single key and
// payload.
func variant(raw json.RawMessage, what string) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, errors.NewInvalidArgument(what, err.Error())
	}
	if len(m) != 1 {
		return "", nil, errors.NewInvalidArgument(what, "expected exactly one variant key")
	}
	for key, payload := range m {
		return key, payload, nil
	}
	return "", nil, errors.NewInvalidArgument(what, "empty variant")
}

// decodeExpression decodes an expression tree.
func decodeExpression(raw json.RawMessage) (query.Expression, error) {
	key, payload, err := variant(raw, "expression")
	if err != nil {
		return nil, err
	}

	switch key {
	case "Average", "Sum", "Min", "Max", "Count":
		var body struct {
			Metric string          `json:"metric"`
			Query  json.RawMessage `json:"query"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("expression", err.Error())
		}
		agg, err := window.ParseOp(key)
		if err != nil {
			return nil, err
		}
		q, err := decodeQuery(body.Query)
		if err != nil {
			return nil, err
		}
		return &query.MetricRef{Metric: body.Metric, Agg: agg, Query: q}, nil

	case "Percentile":
		var body struct {
			Metric     string          `json:"metric"`
			Query      json.RawMessage `json:"query"`
			Percentile int             `json:"percentile"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("expression", err.Error())
		}
		q, err := decodeQuery(body.Query)
		if err != nil {
			return nil, err
		}
		return &query.MetricRef{
			Metric: body.Metric,
			Agg:    window.Aggregation{Op: window.OpPercentile, Percentile: body.Percentile},
			Query:  q,
		}, nil

	case "Value":
		var c float64
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, errors.NewInvalidArgument("constant", err.Error())
		}
		return &query.Value{Constant: c}, nil

	case "Arithmetic":
		var body struct {
			Operation string          `json:"operation"`
			Left      json.RawMessage `json:"left"`
			Right     json.RawMessage `json:"right"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("arithmetic", err.Error())
		}
		op, err := query.ParseArithmeticOp(body.Operation)
		if err != nil {
			return nil, err
		}
		left, err := decodeExpression(body.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpression(body.Right)
		if err != nil {
			return nil, err
		}
		return &query.Arithmetic{Op: op, Left: left, Right: right}, nil

	case "Function":
		var body struct {
			Function  string            `json:"function"`
			Arguments []json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("function", err.Error())
		}
		fn, err := query.ParseFn(body.Function)
		if err != nil {
			return nil, err
		}
		args := make([]query.Expression, len(body.Arguments))
		for i, rawArg := range body.Arguments {
			arg, err := decodeExpression(rawArg)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		return &query.Function{Fn: fn, Args: args}, nil

	default:
		return nil, errors.Wrapf(errors.ErrInvalidVariant, "expression %q", key)
	}
}

// decodeQuery decodes the per-reference scan options. A missing query is
// legal and means no grouping, no tag filter.
func decodeQuery(raw json.RawMessage) (query.Query, error) {
	if len(raw) == 0 {
		return query.Query{}, nil
	}
	var body struct {
		GroupBy      string          `json:"group_by"`
		Tags         []string        `json:"tags"`
		OutputFilter json.RawMessage `json:"output_filter"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return query.Query{}, errors.NewInvalidArgument("query", err.Error())
	}

	q := query.Query{GroupBy: body.GroupBy, Tags: body.Tags}
	if len(body.OutputFilter) > 0 && string(body.OutputFilter) != "null" {
		filter, err := decodeFilter(body.OutputFilter)
		if err != nil {
			return query.Query{}, err
		}
		q.Filter = filter
	}
	return q, nil
}

// decodeFilter decodes an output filter: Compare, And, or Or.
func decodeFilter(raw json.RawMessage) (query.Filter, error) {
	key, payload, err := variant(raw, "output_filter")
	if err != nil {
		return nil, err
	}

	switch key {
	case "Compare":
		var body struct {
			Operation string          `json:"operation"`
			Left      json.RawMessage `json:"left"`
			Right     json.RawMessage `json:"right"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("compare", err.Error())
		}
		op, err := query.ParseCompareOp(body.Operation)
		if err != nil {
			return nil, err
		}
		left, err := decodeTransformSide(body.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeTransformSide(body.Right)
		if err != nil {
			return nil, err
		}
		return &query.Compare{Op: op, Left: left, Right: right}, nil

	case "And", "Or":
		var body struct {
			Left  json.RawMessage `json:"left"`
			Right json.RawMessage `json:"right"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("filter", err.Error())
		}
		left, err := decodeFilter(body.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeFilter(body.Right)
		if err != nil {
			return nil, err
		}
		if key == "And" {
			return &query.And{Left: left, Right: right}, nil
		}
		return &query.Or{Left: left, Right: right}, nil

	default:
		return nil, errors.Wrapf(errors.ErrInvalidVariant, "output filter %q", key)
	}
}

// decodeTransformSide decodes one side of a comparison, which the clients
// send wrapped as {"Transform": ...}.
func decodeTransformSide(raw json.RawMessage) (query.Transform, error) {
	key, payload, err := variant(raw, "compare side")
	if err != nil {
		return nil, err
	}
	if key != "Transform" {
		return nil, errors.Wrapf(errors.ErrInvalidVariant, "compare side %q", key)
	}
	return decodeTransform(payload)
}

// decodeTransform decodes a transform: the string "InputValue", or one of
// the Value/Arithmetic/Function variants.
func decodeTransform(raw json.RawMessage) (query.Transform, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "InputValue" {
			return &query.InputValue{}, nil
		}
		return nil, errors.Wrapf(errors.ErrInvalidVariant, "transform %q", s)
	}

	key, payload, err := variant(raw, "transform")
	if err != nil {
		return nil, err
	}

	switch key {
	case "Value":
		var c float64
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, errors.NewInvalidArgument("transform constant", err.Error())
		}
		return &query.TransformValue{Constant: c}, nil

	case "Arithmetic":
		var body struct {
			Operation string          `json:"operation"`
			Left      json.RawMessage `json:"left"`
			Right     json.RawMessage `json:"right"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("transform arithmetic", err.Error())
		}
		op, err := query.ParseArithmeticOp(body.Operation)
		if err != nil {
			return nil, err
		}
		left, err := decodeTransform(body.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeTransform(body.Right)
		if err != nil {
			return nil, err
		}
		return &query.TransformArithmetic{Op: op, Left: left, Right: right}, nil

	case "Function":
		var body struct {
			Function  string            `json:"function"`
			Arguments []json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, errors.NewInvalidArgument("transform function", err.Error())
		}
		fn, err := query.ParseFn(body.Function)
		if err != nil {
			return nil, err
		}
		args := make([]query.Transform, len(body.Arguments))
		for i, rawArg := range body.Arguments {
			arg, err := decodeTransform(rawArg)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		return &query.TransformFunction{Fn: fn, Args: args}, nil

	default:
		return nil, errors.Wrapf(errors.ErrInvalidVariant, "transform %q", key)
	}
}

// parseLegacyAggregation resolves the legacy operation field, honoring an
// explicit percentile parameter alongside the bare "Percentile" name.
func parseLegacyAggregation(body *legacyQueryBody) (window.Aggregation, error) {
	if body.Operation == "Percentile" && body.Percentile != nil {
		agg := window.Aggregation{Op: window.OpPercentile, Percentile: *body.Percentile}
		if err := agg.Validate(); err != nil {
			return window.Aggregation{}, err
		}
		return agg, nil
	}
	return window.ParseOp(body.Operation)
}

// =============================================================================
// Response encoding
// =============================================================================

// encodeSeries renders a series as [[t, v], ...].
func encodeSeries(s types.Series) []any {
	out := make([]any, 0, len(s))
	for _, pt := range s {
		out = append(out, []any{pt.Time, pt.Value})
	}
	return out
}

// encodeResponse renders the query response value: a bare series when
// ungrouped, or [[group, series], ...] when grouped.
func encodeResponse(resp *query.Response) any {
	if !resp.Grouped {
		if len(resp.Groups) == 0 {
			return []any{}
		}
		return encodeSeries(resp.Groups[0].Series)
	}
	out := make([]any, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		out = append(out, []any{g.Label, encodeSeries(g.Series)})
	}
	return out
}
