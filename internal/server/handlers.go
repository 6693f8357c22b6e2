package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/config"
	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
)

type Server struct {
	registry *receiver.Registry
	config   config.ServerConfig
	logger   *zap.Logger
	tails    *tailers
}

func NewServer(registry *receiver.Registry, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TailInterval <= 0 {
		cfg.TailInterval = time.Second
	}
	return &Server{
		registry: registry,
		config:   cfg,
		logger:   logger,
		tails:    newTailers(),
	}
}

// TailClients returns the number of connected tail subscribers.
func (s *Server) TailClients() int {
	return s.tails.count()
}

// recordParams are the optional query parameters of the records endpoints.
type recordParams struct {
	Limit *int
	Since *time.Time
}

func (p recordParams) query(maxLimit int) receiver.Query {
	var q receiver.Query
	if p.Limit != nil {
		q.Limit = *p.Limit
	}
	if maxLimit > 0 && (q.Limit <= 0 || q.Limit > maxLimit) {
		q.Limit = maxLimit
	}
	if p.Since != nil {
		q.Since = *p.Since
	}
	return q
}

func bindRecordParams(r *http.Request) (recordParams, error) {
	var p recordParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &p.Limit); err != nil {
		return p, fmt.Errorf("invalid format for parameter limit: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "since", query, &p.Since); err != nil {
		return p, fmt.Errorf("invalid format for parameter since: %w", err)
	}
	return p, nil
}

func bindPathParam(r *http.Request, name string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", fmt.Errorf("invalid format for parameter %s: %w", name, err)
	}
	return v, nil
}

// target resolves the stream and category path parameters. It writes the
// error response itself and returns ok=false when either is unusable.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (*receiver.Controller, receiver.Category, bool) {
	c, ok := s.controller(w, r)
	if !ok {
		return nil, 0, false
	}

	name, err := bindPathParam(r, "category")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, 0, false
	}
	cat, err := receiver.ParseCategory(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, 0, false
	}
	return c, cat, true
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*receiver.Controller, bool) {
	name, err := bindPathParam(r, "stream")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	c, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "stream not found: "+name)
		return nil, false
	}
	return c, true
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	out := make([]StreamSummary, 0)
	s.registry.Each(func(c *receiver.Controller) {
		out = append(out, StreamSummary{
			Stream:    c.Name(),
			State:     c.State().String(),
			Listening: c.IsListening(),
		})
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getStreamStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newStreamStatus(c))
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	c, cat, ok := s.target(w, r)
	if !ok {
		return
	}

	params, err := bindRecordParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := c.Query(cat, params.query(s.config.MaxLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Debug("records request",
		zap.String("stream", c.Name()),
		zap.Stringer("category", cat),
		zap.Int("count", len(entries)),
	)

	body := newRecords(c.Name(), cat, entries)
	if wantsMsgpack(r) {
		writeMsgpack(w, http.StatusOK, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func wantsMsgpack(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, contentTypeMsgpack) || strings.Contains(accept, "application/x-msgpack")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsgpack(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(status)
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
