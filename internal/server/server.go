// Package server binds the HTTP/JSON boundary onto the engine.
//
// Routes follow the shapes the clients send:
//
//	GET  /metrics                         list registered metrics
//	POST /metrics/{kind}                  register a metric
//	PUT  /metrics/{kind}/{name}           insert a batch of points
//	POST /metrics/auto-primary-tag/{name} set the auto-primary-tag key
//	POST /metrics/query/{name}            single-metric (legacy) query
//	POST /metrics/query                   expression query
//	GET  /stats                           ingest statistics
//	POST /export/{name}                   run a legacy query, export to Parquet
//	POST /export/query                    ad-hoc SQL over exports
//
// The boundary maps error kinds to HTTP statuses; the engine only
// produces the kind and a message.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/xtxerr/metron/config"
	"github.com/xtxerr/metron/internal/engine"
	"github.com/xtxerr/metron/internal/errors"
	"github.com/xtxerr/metron/internal/export"
	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/query"
	"github.com/xtxerr/metron/internal/storage/types"
)

var log = logging.Component("server")

// Config holds server configuration.
type Config struct {
	// Engine is the metrics engine (required).
	Engine *engine.Engine

	// Exporter writes query results to Parquet (optional; export routes
	// fail when absent).
	Exporter *export.Exporter

	// SQL answers ad-hoc SQL over exports (optional).
	SQL *export.SQLService

	// Listen is the address to listen on.
	Listen string

	// MaxBodySize limits request body size in bytes.
	MaxBodySize int64
}

// Server is the HTTP boundary.
type Server struct {
	cfg  *Config
	eng  *engine.Engine
	http *http.Server
}

// New creates a server.
func New(cfg *Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = config.DefaultMaxBodySize
	}

	s := &Server{cfg: cfg, eng: cfg.Engine}
	s.http = &http.Server{
		Addr:    cfg.Listen,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics", s.handleListMetrics)
	mux.HandleFunc("POST /metrics/{kind}", s.handleRegister)
	mux.HandleFunc("PUT /metrics/{kind}/{name}", s.handleInsert)
	mux.HandleFunc("POST /metrics/auto-primary-tag/{name}", s.handleAutoTag)
	mux.HandleFunc("POST /metrics/query/{name}", s.handleLegacyQuery)
	mux.HandleFunc("POST /metrics/query", s.handleExpressionQuery)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /export/query", s.handleSQL)
	mux.HandleFunc("POST /export/{name}", s.handleExport)

	return http.MaxBytesHandler(mux, s.cfg.MaxBodySize)
}

// Run serves until the context is cancelled, then shuts down gracefully
// within the given timeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "address", s.cfg.Listen)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(sctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	names := s.eng.Catalog().Names()
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"metrics": names})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalidKind, err.Error()))
		return
	}

	var body registerBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" {
		writeError(w, errors.NewMissingField("name"))
		return
	}

	if err := s.eng.RegisterMetric(body.Name, kind); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleAutoTag(w http.ResponseWriter, r *http.Request) {
	var body autoTagBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Key == "" {
		writeError(w, errors.NewMissingField("key"))
		return
	}

	if err := s.eng.SetAutoPrimaryTag(r.PathValue("name"), body.Key); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	kind, err := types.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalidKind, err.Error()))
		return
	}

	var entries []insertEntry
	if err := decodeBody(r, &entries); err != nil {
		writeError(w, err)
		return
	}

	batch := make([]types.Point, len(entries))
	for i, e := range entries {
		batch[i] = types.Point{Time: e.Time, Value: e.Value, Tags: e.Tags}
	}

	n, err := s.eng.InsertBatch(r.Context(), kind, r.PathValue("name"), batch, sourceIdentity(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"num_inserted": n})
}

func (s *Server) handleLegacyQuery(w http.ResponseWriter, r *http.Request) {
	req, timeout, err := s.decodeLegacyRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.eng.LegacyQuery(r.Context(), req, timeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": encodeResponse(resp)})
}

func (s *Server) handleExpressionQuery(w http.ResponseWriter, r *http.Request) {
	var body expressionQueryBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if len(body.Expression) == 0 {
		writeError(w, errors.NewMissingField("expression"))
		return
	}

	expr, err := decodeExpression(body.Expression)
	if err != nil {
		writeError(w, err)
		return
	}

	req := query.ExpressionRequest{
		Range:    types.NewTimeRange(body.TimeRange.Start, body.TimeRange.End),
		Duration: body.Duration,
		Expr:     expr,
	}

	resp, err := s.eng.ExpressionQuery(r.Context(), req, secondsDuration(body.Timeout))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": encodeResponse(resp)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Exporter == nil {
		writeError(w, errors.Wrap(errors.ErrInternal, "exports are not configured"))
		return
	}

	req, timeout, err := s.decodeLegacyRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.eng.LegacyQuery(r.Context(), req, timeout)
	if err != nil {
		writeError(w, err)
		return
	}

	info, err := s.cfg.Exporter.Export(req.Metric, resp)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrInternal, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SQL == nil {
		writeError(w, errors.Wrap(errors.ErrInternal, "exports are not configured"))
		return
	}

	var body sqlBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.SQL == "" {
		writeError(w, errors.NewMissingField("sql"))
		return
	}

	result, err := s.cfg.SQL.Query(r.Context(), body.SQL)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalidArgument, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeLegacyRequest decodes the legacy query body shared by the query
// and export routes.
func (s *Server) decodeLegacyRequest(r *http.Request) (query.LegacyRequest, time.Duration, error) {
	var body legacyQueryBody
	if err := decodeBody(r, &body); err != nil {
		return query.LegacyRequest{}, 0, err
	}

	agg, err := parseLegacyAggregation(&body)
	if err != nil {
		return query.LegacyRequest{}, 0, err
	}

	q := query.Query{GroupBy: body.GroupBy, Tags: body.Tags}
	if len(body.OutputFilter) > 0 && string(body.OutputFilter) != "null" {
		filter, err := decodeFilter(body.OutputFilter)
		if err != nil {
			return query.LegacyRequest{}, 0, err
		}
		q.Filter = filter
	}

	req := query.LegacyRequest{
		Metric:   r.PathValue("name"),
		Agg:      agg,
		Duration: body.Duration,
		Range:    types.NewTimeRange(body.Start, body.End),
		Query:    q,
	}
	return req, secondsDuration(body.Timeout), nil
}

// =============================================================================
// Helpers
// =============================================================================

// sourceIdentity is the ingestion context identity used for
// auto-primary-tag injection: the X-Source header when set, otherwise the
// client host.
func sourceIdentity(r *http.Request) string {
	if src := r.Header.Get("X-Source"); src != "" {
		return src
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func secondsDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		return errors.NewInvalidArgument("body", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("encode response", "error", err)
	}
}

// writeError maps the error kind to an HTTP status and writes the code
// name and message body. Success responses never mix error and data.
func writeError(w http.ResponseWriter, err error) {
	code := errors.ErrorToCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeConflict:
		status = http.StatusConflict
	case errors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case errors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{
		"code":    errors.CodeName(code),
		"message": err.Error(),
	})
}
