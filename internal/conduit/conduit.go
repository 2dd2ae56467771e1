package conduit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/acuranzo/conduit/internal/dqm"
	"github.com/acuranzo/conduit/internal/engine"
	"github.com/acuranzo/conduit/internal/params"
	"github.com/acuranzo/conduit/internal/pending"
	"github.com/acuranzo/conduit/internal/queue"
)

// Request is the core's input, already parsed upstream (internal/httpapi
// decodes both the POST JSON body and the GET query-string form into
// this shape).
//
// Params is keyed by the type tag under which the client supplied each
// parameter (spec.md §4.3's "INTEGER"/"STRING"/"BOOLEAN"/"FLOAT"), each
// mapping name → JSON value; e.g.
// {"INTEGER":{"userId":7},"STRING":{"username":"jo"}}.
type Request struct {
	DatabaseName     string
	QueryRef         int32
	Params           map[string]map[string]any
	QueueTagOverride string
}

// Response is the core's output; internal/httpapi only serializes it and
// picks a status code.
type Response struct {
	Success         bool
	QueryRef        int32
	Description     string
	Rows            json.RawMessage
	RowCount        int
	ColumnCount     int
	ExecutionTimeMs int64
	QueueUsed       string
	Error           string
	DatabaseError   string
	TimeoutSeconds  int
	Database        string
	ErrKind         Kind
}

// Core owns everything the pipeline of spec.md §4.8 needs: the database
// directory and the prefix used for generated query ids. It is
// transport-agnostic.
type Core struct {
	manager  *dqm.Manager
	log      *zap.Logger
	idPrefix string

	requestDuration *prometheus.HistogramVec
}

// NewCore wires a Core against an already-launched dqm.Manager.
func NewCore(manager *dqm.Manager, log *zap.Logger, registerer prometheus.Registerer) *Core {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conduit",
		Subsystem: "core",
		Name:      "request_duration_seconds",
		Help:      "Conduit request pipeline duration by database and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"database", "outcome"})
	if registerer != nil {
		registerer.MustRegister(hist)
	}
	return &Core{manager: manager, log: log, idPrefix: "acz", requestDuration: hist}
}

// Handle runs the eight-step pipeline of spec.md §4.8 and returns a fully
// populated Response — it never returns a bare error to the caller;
// every failure path is represented as Response.ErrKind plus the fields
// spec.md mandates for that failure shape.
func (c *Core) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	outcome := "success"
	defer func() {
		c.requestDuration.WithLabelValues(req.DatabaseName, outcome).Observe(time.Since(start).Seconds())
	}()

	// Step 1: database lookup.
	lead, err := c.manager.Lookup(req.DatabaseName)
	if err != nil {
		outcome = "database_not_found"
		return c.fail(req, KindDatabaseNotFound)
	}

	if !lead.BootstrapCompleted() {
		outcome = "bootstrap_not_complete"
		return c.fail(req, KindBootstrapNotDone)
	}

	// Step 2: cache lookup.
	entry, ok := lead.Cache().Lookup(req.QueryRef)
	if !ok {
		outcome = "query_not_found"
		return c.fail(req, KindQueryNotFound)
	}

	// Step 3: parameter processing.
	typed, convErr := toTypedParameters(req.Params)
	if convErr != nil {
		outcome = "type_mismatch"
		return c.failDetail(req, KindTypeMismatch, convErr.Error())
	}

	placeholderFn := func(ordinal int) string { return lead.Placeholder(ordinal) }
	rewritten, order, pErr := params.Rewrite(entry.SQLTemplate, typed, placeholderFn)
	if pErr != nil {
		outcome = "parameter_error"
		return c.paramFailure(req, pErr)
	}
	bound := params.BindArgs(order, typed)

	// Step 4: queue selection.
	tagHint, ok := dqm.HintOrDefault(req.QueueTagOverride, string(entry.QueueTypeHint))
	if !ok {
		outcome = "no_queue_available"
		return c.fail(req, KindNoQueueAvailable)
	}
	selected, selErr := dqm.Select(lead, tagHint)
	if selErr != nil {
		outcome = "no_queue_available"
		return c.fail(req, KindNoQueueAvailable)
	}

	// Step 5: generate query_id, register pending slot.
	registry := lead.Registry()
	queryID := registry.NextQueryID(c.idPrefix)
	slot, regErr := registry.Register(queryID, entry.TimeoutSeconds)
	if regErr != nil {
		outcome = "duplicate_query_id"
		return c.failDetail(req, KindDuplicateQueryID, regErr.Error())
	}

	// Step 6: submit work item.
	item := queue.WorkItem{
		QueryID: queryID,
		Request: engine.QueryRequest{
			SQL:            rewritten,
			Params:         bound,
			QueueTypeHint:  tagHint.String(),
			TimeoutSeconds: entry.TimeoutSeconds,
		},
	}
	if err := selected.Submit(item); err != nil {
		registry.Unregister(queryID)
		outcome = "queue_rejected"
		return c.queueFailure(req, err)
	}

	// Step 7: wait.
	result, waitOutcome := registry.Wait(slot)

	// Step 8: produce the response.
	switch waitOutcome {
	case pending.Delivered:
		if !result.Success {
			outcome = "driver_error"
			return Response{
				Success:       false,
				QueryRef:      req.QueryRef,
				Error:         "Database error",
				DatabaseError: result.ErrorMessage,
				Database:      req.DatabaseName,
				ErrKind:       KindDriverError,
			}
		}
		return Response{
			Success:         true,
			QueryRef:        req.QueryRef,
			Description:     entry.Description,
			Rows:            json.RawMessage(result.DataJSON),
			RowCount:        result.RowCount,
			ColumnCount:     result.ColumnCount,
			ExecutionTimeMs: result.ExecutionTimeMs,
			QueueUsed:       selected.Tags().String(),
		}
	case pending.Aborted:
		outcome = "shutting_down"
		return c.fail(req, KindShuttingDown)
	default: // pending.TimedOut
		outcome = "timeout"
		return Response{
			Success:        false,
			QueryRef:       req.QueryRef,
			Error:          "Query execution timeout",
			TimeoutSeconds: entry.TimeoutSeconds,
			Database:       req.DatabaseName,
			ErrKind:        KindTimeout,
		}
	}
}

func (c *Core) fail(req Request, kind Kind) Response {
	return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: kind, Error: string(kind)}
}

func (c *Core) failDetail(req Request, kind Kind, detail string) Response {
	return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: kind, Error: detail}
}

func (c *Core) paramFailure(req Request, err error) Response {
	pe, ok := err.(*params.Error)
	if !ok {
		return c.failDetail(req, KindAllocationFailure, err.Error())
	}
	switch pe.Kind {
	case params.MissingParameter:
		return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: KindMissingParameter, Error: pe.Name}
	case params.UnusedParameter:
		return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: KindUnusedParameter, Error: pe.Name}
	case params.TooManyParameters:
		return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: KindTooManyParameters}
	default:
		return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: KindTypeMismatch, Error: pe.Name}
	}
}

func (c *Core) queueFailure(req Request, err error) Response {
	switch err {
	case queue.ErrQueueFull:
		return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: KindQueueFull}
	case dqm.ErrShuttingDown:
		return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: KindShuttingDown}
	default:
		return Response{Success: false, QueryRef: req.QueryRef, Database: req.DatabaseName, ErrKind: KindAllocationFailure, Error: err.Error()}
	}
}

// jsonKindOf names v's JSON value kind for TypeMismatch(name,expected,actual)
// reporting.
func jsonKindOf(v any) string {
	switch val := v.(type) {
	case string:
		return "STRING"
	case bool:
		return "BOOLEAN"
	case float64:
		if val == float64(int64(val)) {
			return "INTEGER"
		}
		return "FLOAT"
	case nil:
		return "NULL"
	case []any:
		return "ARRAY"
	case map[string]any:
		return "OBJECT"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// toTypedParameters converts the decoded tag-keyed params object
// (spec.md §4.3's `{tag: {name: value}}` input) into the tagged union
// engine.TypedParameter expects, running §4.3 step 5's type validation:
// the tag under which a parameter was supplied must be compatible with
// its JSON value's own kind — INTEGER accepts only whole-number JSON
// values, FLOAT accepts integer or real, BOOLEAN only boolean, STRING
// only string. A mismatch fails with TypeMismatch(name,expected,actual);
// an unrecognized top-level tag or a name supplied under more than one
// tag fails the same way, since neither has a TypedParameter
// representation either.
func toTypedParameters(raw map[string]map[string]any) (map[string]engine.TypedParameter, error) {
	out := make(map[string]engine.TypedParameter, len(raw))
	for tag, byName := range raw {
		for name, v := range byName {
			if _, dup := out[name]; dup {
				return nil, &paramTypeError{Name: name, Expected: tag, Actual: "duplicate tag assignment"}
			}

			switch tag {
			case "INTEGER":
				f, ok := v.(float64)
				if !ok || f != float64(int64(f)) {
					return nil, &paramTypeError{Name: name, Expected: tag, Actual: jsonKindOf(v)}
				}
				out[name] = engine.TypedParameter{Name: name, Kind: engine.ParamInteger, Int: int64(f)}
			case "FLOAT":
				f, ok := v.(float64)
				if !ok {
					return nil, &paramTypeError{Name: name, Expected: tag, Actual: jsonKindOf(v)}
				}
				out[name] = engine.TypedParameter{Name: name, Kind: engine.ParamFloat, Float: f}
			case "BOOLEAN":
				b, ok := v.(bool)
				if !ok {
					return nil, &paramTypeError{Name: name, Expected: tag, Actual: jsonKindOf(v)}
				}
				out[name] = engine.TypedParameter{Name: name, Kind: engine.ParamBoolean, Bool: b}
			case "STRING":
				s, ok := v.(string)
				if !ok {
					return nil, &paramTypeError{Name: name, Expected: tag, Actual: jsonKindOf(v)}
				}
				out[name] = engine.TypedParameter{Name: name, Kind: engine.ParamString, Str: s}
			default:
				return nil, &paramTypeError{Name: name, Expected: "INTEGER|STRING|BOOLEAN|FLOAT", Actual: tag}
			}
		}
	}
	return out, nil
}

// paramTypeError is spec.md §4.3 step 5's TypeMismatch(name,expected,actual).
type paramTypeError struct {
	Name     string
	Expected string
	Actual   string
}

func (e *paramTypeError) Error() string {
	return fmt.Sprintf("Parameter type mismatch: %s", e.Name)
}
