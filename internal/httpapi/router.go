// Package httpapi mounts internal/conduit behind chi: request decoding,
// the §7 status-code mapping, health and metrics endpoints, and the
// supplemented admin reload endpoint.
package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acuranzo/conduit/internal/conduit"
	"github.com/acuranzo/conduit/internal/dqm"
)

// Server bundles the router with the dependencies its handlers close
// over.
type Server struct {
	router  chi.Router
	core    *conduit.Core
	manager *dqm.Manager
	limiter *Limiter
	log     *zap.Logger
}

// New builds the router: the single query endpoint, the admin reload
// endpoint, /healthz, and /metrics.
func New(core *conduit.Core, manager *dqm.Manager, limiter *Limiter, log *zap.Logger) *Server {
	s := &Server{core: core, manager: manager, limiter: limiter, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimit)

	r.Method(http.MethodPost, "/api/conduit/query", http.HandlerFunc(s.handleQuery))
	r.Method(http.MethodGet, "/api/conduit/query", http.HandlerFunc(s.handleQuery))
	r.Post("/api/conduit/admin/reload/{database}", s.handleReload)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if !s.limiter.Allow(key) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wireRequest is the wire shape of §4.8's input, shared by the POST JSON
// body and the GET query-string form.
type wireRequest struct {
	DatabaseName string `json:"database_name"`
	QueryRef     int32  `json:"query_ref"`
	// Params is keyed by type tag (spec.md §4.3: "INTEGER", "STRING",
	// "BOOLEAN", "FLOAT"), each mapping parameter name to its JSON value.
	Params           map[string]map[string]any `json:"params"`
	QueueTagOverride string                     `json:"queue_tag_override"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeJSONStatus(w, http.StatusMethodNotAllowed, map[string]string{"error": string(conduit.KindInvalidMethod)})
		return
	}

	req, decodeErr := decodeRequest(r)
	if decodeErr != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": decodeErr.Error()})
		return
	}

	resp := s.core.Handle(r.Context(), req)
	writeJSONStatus(w, statusFor(resp), resp)
}

func decodeRequest(r *http.Request) (conduit.Request, error) {
	var wr wireRequest

	if r.Method == http.MethodPost {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wr); err != nil {
			return conduit.Request{}, &conduit.Error{Kind: conduit.KindInvalidJSON, Detail: err.Error()}
		}
	} else {
		q := r.URL.Query()
		wr.DatabaseName = q.Get("database_name")
		wr.QueueTagOverride = q.Get("queue_tag_override")
		if ref := q.Get("query_ref"); ref != "" {
			n, err := strconv.ParseInt(ref, 10, 32)
			if err != nil {
				return conduit.Request{}, &conduit.Error{Kind: conduit.KindFieldTypeMismatch, Field: "query_ref"}
			}
			wr.QueryRef = int32(n)
		}
		if raw := q.Get("params"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &wr.Params); err != nil {
				return conduit.Request{}, &conduit.Error{Kind: conduit.KindInvalidJSON, Detail: err.Error()}
			}
		}
	}

	if wr.DatabaseName == "" {
		return conduit.Request{}, &conduit.Error{Kind: conduit.KindMissingField, Field: "database_name"}
	}

	return conduit.Request{
		DatabaseName:     wr.DatabaseName,
		QueryRef:         wr.QueryRef,
		Params:           wr.Params,
		QueueTagOverride: wr.QueueTagOverride,
	}, nil
}

// statusFor implements spec.md §6's status-code mapping table.
func statusFor(resp conduit.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.ErrKind {
	case conduit.KindDatabaseNotFound, conduit.KindQueryNotFound:
		return http.StatusNotFound
	case conduit.KindMissingParameter, conduit.KindUnusedParameter, conduit.KindTypeMismatch,
		conduit.KindTooManyParameters, conduit.KindInvalidJSON, conduit.KindMissingField,
		conduit.KindFieldTypeMismatch:
		return http.StatusBadRequest
	case conduit.KindInvalidMethod:
		return http.StatusMethodNotAllowed
	case conduit.KindTimeout:
		return http.StatusRequestTimeout
	case conduit.KindDriverError:
		return http.StatusUnprocessableEntity
	case conduit.KindNoQueueAvailable, conduit.KindBootstrapNotDone:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]any{"databases": s.manager.Names()})
}

// handleReload is the supplemented operator endpoint (SPEC_FULL.md):
// re-runs a database's bootstrap query to refresh its QTC without a
// process restart.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	lead, err := s.manager.Lookup(database)
	if err != nil {
		writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": string(conduit.KindDatabaseNotFound)})
		return
	}

	rejected, reloadErr := lead.Reload(r.Context())
	if reloadErr != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": reloadErr.Error()})
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"database": database, "rejected_duplicate_refs": rejected})
}
