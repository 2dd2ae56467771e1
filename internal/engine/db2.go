package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// db2Engine implements Engine for IBM DB2. Like gsoultan-Hermod's
// pkg/source/db2, it opens the "go_ibm_db" database/sql driver by name
// without importing github.com/ibmdb/go_ibm_db directly here — that
// package requires the IBM Data Server Driver's CLI shared libraries to be
// present at link time, so its registration lives in db2_driver.go behind
// the "db2" build tag (see that file). Deployments that ship DB2 support
// build with -tags db2; every other build still compiles and runs the
// other three engines.
type db2Engine struct{}

func (db2Engine) Kind() Kind { return DB2 }

func (db2Engine) Placeholder(int) string { return "?" }

func (db2Engine) ConnectionString(cfg ConnectionConfig) string {
	dsn := fmt.Sprintf("HOSTNAME=%s;PORT=%d;DATABASE=%s;UID=%s;PWD=%s;PROTOCOL=TCPIP",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	if cfg.TLS.Enabled {
		dsn += ";SECURITY=SSL"
	}
	return dsn
}

func (db2Engine) ValidateConnectionString(dsn string) bool {
	return strings.Contains(dsn, "HOSTNAME=") && strings.Contains(dsn, "DATABASE=")
}

func (e db2Engine) Connect(ctx context.Context, cfg ConnectionConfig) (*DatabaseHandle, error) {
	db, err := sql.Open("go_ibm_db", e.ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("db2 connect (ensure it was built with -tags db2): %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db2 liveness probe failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, "SELECT 1 FROM SYSIBM.SYSDUMMY1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("db2 liveness probe failed: %w", err)
	}

	return &DatabaseHandle{
		Engine:         DB2,
		Raw:            db,
		Status:         StatusConnected,
		ConnectedSince: time.Now(),
		config:         cfg,
	}, nil
}

func (db2Engine) Disconnect(h *DatabaseHandle) error {
	db := h.Raw.(*sql.DB)
	h.Status = StatusDisconnected
	return db.Close()
}

func (db2Engine) HealthCheck(ctx context.Context, h *DatabaseHandle) bool {
	db := h.Raw.(*sql.DB)
	h.LastHealthCheck = time.Now()
	if err := db.PingContext(ctx); err != nil {
		h.Status = StatusError
		h.ConsecutiveFailure++
		return false
	}
	h.ConsecutiveFailure = 0
	h.Status = StatusConnected
	return true
}

func (e db2Engine) ResetConnection(ctx context.Context, h *DatabaseHandle) error {
	if db, ok := h.Raw.(*sql.DB); ok {
		db.Close()
	}
	fresh, err := e.Connect(ctx, h.config)
	if err != nil {
		h.Status = StatusError
		return err
	}
	h.Raw = fresh.Raw
	h.ConnectedSince = fresh.ConnectedSince
	h.Status = StatusConnected
	h.ConsecutiveFailure = 0
	return nil
}

// db2DeadlockBackoff is the bounded retry schedule spec.md §4.1 mandates
// for DB2's deadlock SQLSTATEs: 3 retries at 50/100/200ms.
var db2DeadlockBackoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

func isDeadlockMessage(msg string) bool {
	return strings.Contains(msg, "SQLSTATE=40001") || strings.Contains(msg, "SQLSTATE=57033")
}

func (db2Engine) ExecuteQuery(ctx context.Context, h *DatabaseHandle, req QueryRequest) QueryResult {
	db := h.Raw.(*sql.DB)
	var result QueryResult
	for attempt := 0; ; attempt++ {
		result = execViaSQL(ctx, db, req, DB2)
		if result.Success || !isDeadlockMessage(result.ErrorMessage) || attempt >= len(db2DeadlockBackoff) {
			return result
		}
		select {
		case <-time.After(db2DeadlockBackoff[attempt]):
		case <-ctx.Done():
			return result
		}
	}
}

func (db2Engine) PrepareStatement(ctx context.Context, h *DatabaseHandle, name, sqlText string) (*PreparedStatement, error) {
	db := h.Raw.(*sql.DB)
	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	ps := &PreparedStatement{Name: name, SQL: sqlText, stmt: stmt}
	h.Statements = append(h.Statements, ps)
	return ps, nil
}

func (db2Engine) ExecutePrepared(ctx context.Context, h *DatabaseHandle, ps *PreparedStatement, req QueryRequest) QueryResult {
	stmt := ps.stmt.(*sql.Stmt)
	var result QueryResult
	for attempt := 0; ; attempt++ {
		result = execPreparedViaSQL(ctx, stmt, req, DB2)
		if result.Success || !isDeadlockMessage(result.ErrorMessage) || attempt >= len(db2DeadlockBackoff) {
			return result
		}
		select {
		case <-time.After(db2DeadlockBackoff[attempt]):
		case <-ctx.Done():
			return result
		}
	}
}

func (db2Engine) UnprepareStatement(h *DatabaseHandle, ps *PreparedStatement) error {
	for i, s := range h.Statements {
		if s == ps {
			h.Statements = append(h.Statements[:i], h.Statements[i+1:]...)
			break
		}
	}
	return ps.stmt.(*sql.Stmt).Close()
}

func (db2Engine) BeginTx(ctx context.Context, h *DatabaseHandle, isolation sql.IsolationLevel) error {
	return beginTx(ctx, h, isolation)
}
func (db2Engine) CommitTx(h *DatabaseHandle) error   { return commitTx(h) }
func (db2Engine) RollbackTx(h *DatabaseHandle) error { return rollbackTx(h) }

func (db2Engine) EscapeString(h *DatabaseHandle, s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
