package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"
)

// sqliteEngine implements Engine for SQLite via modernc.org/sqlite, the
// cgo-free driver gsoultan-Hermod's pkg/source/sqlite uses.
type sqliteEngine struct{}

func (sqliteEngine) Kind() Kind { return SQLite }

func (sqliteEngine) Placeholder(int) string { return "?" }

func (sqliteEngine) ConnectionString(cfg ConnectionConfig) string {
	if cfg.FilePath == "" {
		return ":memory:"
	}
	return cfg.FilePath
}

func (sqliteEngine) ValidateConnectionString(dsn string) bool {
	return dsn == ":memory:" || dsn != ""
}

func (e sqliteEngine) Connect(ctx context.Context, cfg ConnectionConfig) (*DatabaseHandle, error) {
	db, err := sql.Open("sqlite", e.ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite connect: %w", err)
	}
	// SQLite permits exactly one writer; a single connection keeps the
	// DatabaseHandle's "exactly one worker touches this handle" invariant
	// from racing against the driver's own internal pooling.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite WAL setup failed: %w", err)
	}
	// Liveness probe: spec.md §4.1 names PRAGMA user_version for SQLite.
	if _, err := db.ExecContext(ctx, "PRAGMA user_version"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite liveness probe failed: %w", err)
	}

	return &DatabaseHandle{
		Engine:         SQLite,
		Raw:            db,
		Status:         StatusConnected,
		ConnectedSince: time.Now(),
		config:         cfg,
	}, nil
}

func (sqliteEngine) Disconnect(h *DatabaseHandle) error {
	db := h.Raw.(*sql.DB)
	h.Status = StatusDisconnected
	return db.Close()
}

func (sqliteEngine) HealthCheck(ctx context.Context, h *DatabaseHandle) bool {
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

func (e sqliteEngine) ResetConnection(ctx context.Context, h *DatabaseHandle) error {
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

func (sqliteEngine) ExecuteQuery(ctx context.Context, h *DatabaseHandle, req QueryRequest) QueryResult {
	return execViaSQL(ctx, h.Raw.(*sql.DB), req, SQLite)
}

func (sqliteEngine) PrepareStatement(ctx context.Context, h *DatabaseHandle, name, sqlText string) (*PreparedStatement, error) {
	db := h.Raw.(*sql.DB)
	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	ps := &PreparedStatement{Name: name, SQL: sqlText, stmt: stmt}
	h.Statements = append(h.Statements, ps)
	return ps, nil
}

func (sqliteEngine) ExecutePrepared(ctx context.Context, h *DatabaseHandle, ps *PreparedStatement, req QueryRequest) QueryResult {
	return execPreparedViaSQL(ctx, ps.stmt.(*sql.Stmt), req, SQLite)
}

func (sqliteEngine) UnprepareStatement(h *DatabaseHandle, ps *PreparedStatement) error {
	for i, s := range h.Statements {
		if s == ps {
			h.Statements = append(h.Statements[:i], h.Statements[i+1:]...)
			break
		}
	}
	return ps.stmt.(*sql.Stmt).Close()
}

func (sqliteEngine) BeginTx(ctx context.Context, h *DatabaseHandle, isolation sql.IsolationLevel) error {
	return beginTx(ctx, h, isolation)
}
func (sqliteEngine) CommitTx(h *DatabaseHandle) error   { return commitTx(h) }
func (sqliteEngine) RollbackTx(h *DatabaseHandle) error { return rollbackTx(h) }

func (sqliteEngine) EscapeString(h *DatabaseHandle, s string) string {
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
