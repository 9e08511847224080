// Package dispatch implements the Dispatch Gateway (C5): the HTTP
// surface mapping inbound requests to PublishedAPI records, acquiring
// compiled executors from the Worker Manager, invoking them with
// parsed request inputs, and shaping the response envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/flowforge/flowexec/internal/adminauth"
	"github.com/flowforge/flowexec/internal/flow"
	"github.com/flowforge/flowexec/internal/fmetrics"
	"github.com/flowforge/flowexec/internal/manager"
	"github.com/flowforge/flowexec/internal/nodes"
	"github.com/flowforge/flowexec/internal/store"
	"github.com/flowforge/flowexec/internal/table"
)

// dtoValidator checks a resolved PublishedAPI record's request-shape
// before its FlowDefinition is handed to flow.ParseDefinition.
var dtoValidator = validator.New()

// nextExecutionID produces execution ids in the "exec_<micros>" shape
// spec §4.5 requires: wall-clock Unix microseconds plus a process-wide
// atomic counter, so concurrent requests within the same microsecond
// get distinct ids.
var execCounter int64

func nextExecutionID() string {
	n := atomic.AddInt64(&execCounter, 1)
	return fmt.Sprintf("exec_%d", time.Now().UnixMicro()+n)
}

// Gateway is C5. It holds no per-request state; Acquire/Invoke are
// re-entrant across concurrent requests.
type Gateway struct {
	store    store.PublishedAPIStore
	manager  *manager.Manager
	registry *nodes.Registry
	admin    *adminauth.Checker
	log      zerolog.Logger
	metrics  *fmetrics.Metrics
	limiters *rateLimiterSet
	timeout  time.Duration
}

func New(st store.PublishedAPIStore, mgr *manager.Manager, registry *nodes.Registry, admin *adminauth.Checker, log zerolog.Logger, metrics *fmetrics.Metrics, timeout time.Duration) *Gateway {
	return &Gateway{
		store: st, manager: mgr, registry: registry, admin: admin, log: log, metrics: metrics,
		limiters: newRateLimiterSet(rate.Limit(50), 100),
		timeout:  timeout,
	}
}

// Routes mounts the gateway's handlers under a chi router.
func (g *Gateway) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", g.handleHealth)
	r.Get("/node-types", g.handleNodeTypes)
	r.Group(func(admin chi.Router) {
		admin.Use(g.admin.Middleware)
		admin.Get("/worker-stats", g.handleWorkerStats)
		admin.Post("/worker/{api_id}/reload", g.handleReload)
	})
	r.HandleFunc("/{endpoint_path}", g.handleExecute)
	r.HandleFunc("/{endpoint_path}/*", g.handleExecute)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": "ok"})
}

func (g *Gateway) handleNodeTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "node_types": g.registry.List()})
}

func (g *Gateway) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	stats := g.manager.GetManagerStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stats": stats})
}

func (g *Gateway) handleReload(w http.ResponseWriter, r *http.Request) {
	apiID := chi.URLParam(r, "api_id")
	g.manager.ForceRemove(apiID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "api_id": apiID, "reloaded": true})
}

// handleExecute is spec §4.5's 10-step dispatch algorithm.
func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	// Step 1: assign execution_id.
	executionID := nextExecutionID()

	// Step 2: resolve PublishedAPI or 404.
	endpointPath := buildEndpointPath(r)
	api, err := g.store.GetByEndpointPath(r.Context(), endpointPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "published api not found for this endpoint")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve published api")
		return
	}
	if err := dtoValidator.Struct(api); err != nil {
		writeError(w, http.StatusInternalServerError, "published api record failed validation: "+err.Error())
		return
	}

	// Step 3: active check.
	if !api.IsActive {
		writeError(w, http.StatusForbidden, "published api is not active")
		return
	}

	limiter := g.limiters.forKey(api.ID)
	if !limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded for this api")
		return
	}

	// Step 4: parse inputs (query + path + body union, plus _metadata).
	inputs, parseErr := parseInputs(r)
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "failed to parse request inputs: "+parseErr.Error())
		return
	}

	// Step 5: build user context.
	userCtx := buildUserContext(r, executionID)

	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	// Step 6: acquire executor via worker manager.
	executor, err := g.manager.Acquire(ctx, api.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to acquire flow executor: "+err.Error())
		return
	}

	// Step 7: invoke with timing.
	started := time.Now()
	result, _, invokeErr := executor.Invoke(ctx, executionID, inputs, userCtx)
	elapsed := time.Since(started)
	g.manager.RecordExecution(api.ID, elapsed)

	outcome := "success"
	if invokeErr != nil {
		outcome = "error"
	}
	if g.metrics != nil {
		g.metrics.DispatchRequestsTotal.WithLabelValues(api.ID, outcome).Inc()
		g.metrics.DispatchDuration.WithLabelValues(api.ID).Observe(elapsed.Seconds())
	}

	if invokeErr != nil {
		writeDispatchError(w, invokeErr)
		return
	}

	// Step 8: serialize result.
	payload := serializeResult(result)

	// Step 9/10: wrap response with headers + envelope.
	w.Header().Set("X-Execution-ID", executionID)
	w.Header().Set("X-Execution-Time", fmt.Sprintf("%.3f", elapsed.Seconds()))
	w.Header().Set("X-API-Version", api.Version)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"api_info": map[string]interface{}{
			"id": api.ID, "name": api.APIName, "version": api.Version,
		},
		"execution_timestamp": started.UTC().Format(time.RFC3339),
		"result":              payload,
	})
}

func buildEndpointPath(r *http.Request) string {
	path := chi.URLParam(r, "endpoint_path")
	if wildcard := chi.URLParam(r, "*"); wildcard != "" {
		path = path + "/" + wildcard
	}
	return path
}

// writeDispatchError maps the executor's failure kinds to status codes
// per spec §7's propagation policy: NodeError/FlowError -> 500, other
// exceptions -> 500 generic, validation-shaped errors already fail at
// acquire time above as 500s (construction-time ValidationError/
// CycleDetected never reach this path once a worker is cached).
func writeDispatchError(w http.ResponseWriter, err error) {
	var nodeErr *flow.NodeError
	var timeoutErr *flow.ExecutorTimeout
	var permErr *nodes.PermissionDeniedError
	switch {
	case errors.As(err, &timeoutErr):
		writeError(w, http.StatusGatewayTimeout, "execution exceeded its timeout")
	case errors.As(err, &permErr):
		writeError(w, http.StatusForbidden, permErr.Error())
	case errors.As(err, &nodeErr):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal execution error")
	}
}

// parseInputs implements spec §4.5 step 4, grounded on the teacher's
// internal/api/handlers/webhook.go buildTriggerData: query params +
// path params union with a parsed JSON or multipart body, and an
// explicit _metadata sub-map.
func parseInputs(r *http.Request) (map[string]interface{}, error) {
	inputs := map[string]interface{}{}

	for k, v := range r.URL.Query() {
		if len(v) == 1 {
			inputs[k] = v[0]
		} else {
			inputs[k] = v
		}
	}

	ctx := chi.RouteContext(r.Context())
	if ctx != nil {
		for i, key := range ctx.URLParams.Keys {
			inputs[key] = ctx.URLParams.Values[i]
		}
	}

	if r.Body != nil && r.ContentLength != 0 {
		contentType := r.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(contentType, "application/json"):
			var body interface{}
			dec := json.NewDecoder(r.Body)
			if err := dec.Decode(&body); err != nil {
				return nil, err
			}
			switch b := body.(type) {
			case map[string]interface{}:
				for k, v := range b {
					inputs[k] = v
				}
				inputs["_webhook_payload"] = b
			default:
				inputs["body"] = body
			}
		case strings.HasPrefix(contentType, "multipart/form-data"), strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				if err := r.ParseForm(); err != nil {
					return nil, err
				}
			}
			for k, v := range r.Form {
				if len(v) == 1 {
					inputs[k] = v[0]
				} else {
					inputs[k] = v
				}
			}
		}
	}

	inputs["_metadata"] = map[string]interface{}{
		"method":     r.Method,
		"client_ip":  clientIP(r),
		"user_agent": r.UserAgent(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	return inputs, nil
}

func buildUserContext(r *http.Request, executionID string) map[string]interface{} {
	uc := map[string]interface{}{
		"request_id": executionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"client_ip":  clientIP(r),
		"user_agent": r.UserAgent(),
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		uc["authenticated"] = true
	}
	return uc
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := splitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return addr, "", nil
	}
	return addr[:idx], addr[idx+1:], nil
}

// serializeResult implements spec §4.5 step 8's result shaping:
// Table -> {data,shape,columns,dtypes}; map passthrough; list -> {data};
// scalar -> {result: string}.
func serializeResult(result interface{}) interface{} {
	switch v := result.(type) {
	case *table.Table:
		shape := v.Shape()
		return map[string]interface{}{
			"data":    v.ToMaps(),
			"shape":   []int{shape[0], shape[1]},
			"columns": v.ColumnNames(),
			"dtypes":  v.Dtypes(),
		}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = serializeResult(val)
		}
		return out
	case []interface{}:
		return map[string]interface{}{"data": v}
	default:
		return map[string]interface{}{"result": fmt.Sprintf("%v", v)}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// rateLimiterSet hands out one token bucket per api_id, following the
// shape (not the Redis backend) of the teacher's rate-limit
// middleware.
type rateLimiterSet struct {
	limit rate.Limit
	burst int
	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

func newRateLimiterSet(limit rate.Limit, burst int) *rateLimiterSet {
	return &rateLimiterSet{limit: limit, burst: burst, byKey: map[string]*rate.Limiter{}}
}

func (s *rateLimiterSet) forKey(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.byKey[key]; ok {
		return l
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.byKey[key] = l
	return l
}
