package dqm

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/acuranzo/conduit/internal/engine"
)

// fakeEngine is a minimal in-memory engine.Engine for exercising
// DatabaseQueue/Lead logic without a real driver. connectFails lets a test
// force Connect/ResetConnection to fail a fixed number of times.
type fakeEngine struct {
	connectCalls    atomic.Int64
	resetCalls      atomic.Int64
	healthy         atomic.Bool
	nextResult      atomic.Value // engine.QueryResult
	failNextExecute atomic.Bool
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{}
	e.healthy.Store(true)
	e.nextResult.Store(engine.QueryResult{Success: true, DataJSON: "[]"})
	return e
}

func (e *fakeEngine) Kind() engine.Kind { return engine.Kind("fake") }

func (e *fakeEngine) Connect(ctx context.Context, cfg engine.ConnectionConfig) (*engine.DatabaseHandle, error) {
	e.connectCalls.Add(1)
	return &engine.DatabaseHandle{Engine: cfg.Engine, Status: engine.StatusConnected}, nil
}

func (e *fakeEngine) Disconnect(h *engine.DatabaseHandle) error { return nil }

func (e *fakeEngine) HealthCheck(ctx context.Context, h *engine.DatabaseHandle) bool {
	return e.healthy.Load()
}

func (e *fakeEngine) ResetConnection(ctx context.Context, h *engine.DatabaseHandle) error {
	e.resetCalls.Add(1)
	return nil
}

func (e *fakeEngine) ExecuteQuery(ctx context.Context, h *engine.DatabaseHandle, req engine.QueryRequest) engine.QueryResult {
	if e.failNextExecute.CompareAndSwap(true, false) {
		return engine.QueryResult{Success: false, ErrorMessage: "connection reset by peer"}
	}
	return e.nextResult.Load().(engine.QueryResult)
}

func (e *fakeEngine) PrepareStatement(ctx context.Context, h *engine.DatabaseHandle, name, sqlText string) (*engine.PreparedStatement, error) {
	return &engine.PreparedStatement{Name: name, SQL: sqlText}, nil
}

func (e *fakeEngine) ExecutePrepared(ctx context.Context, h *engine.DatabaseHandle, stmt *engine.PreparedStatement, req engine.QueryRequest) engine.QueryResult {
	return e.nextResult.Load().(engine.QueryResult)
}

func (e *fakeEngine) UnprepareStatement(h *engine.DatabaseHandle, stmt *engine.PreparedStatement) error {
	return nil
}

func (e *fakeEngine) BeginTx(ctx context.Context, h *engine.DatabaseHandle, isolation sql.IsolationLevel) error {
	return nil
}
func (e *fakeEngine) CommitTx(h *engine.DatabaseHandle) error   { return nil }
func (e *fakeEngine) RollbackTx(h *engine.DatabaseHandle) error { return nil }

func (e *fakeEngine) ConnectionString(cfg engine.ConnectionConfig) string { return "fake://" }
func (e *fakeEngine) ValidateConnectionString(dsn string) bool            { return true }
func (e *fakeEngine) EscapeString(h *engine.DatabaseHandle, s string) string {
	return s
}

func (e *fakeEngine) Placeholder(k int) string { return "?" }
