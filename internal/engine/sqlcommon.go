package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// bindValues unpacks a QueryRequest's TypedParameters into positional driver
// arguments, in the order the parameter processor already placed them.
func bindValues(req QueryRequest) []any {
	args := make([]any, len(req.Params))
	for i, p := range req.Params {
		args[i] = p.Value()
	}
	return args
}

// isReadStatement reports whether sql looks like a row-producing statement
// (SELECT/SHOW/DESCRIBE/EXPLAIN) as opposed to one that only reports an
// affected-row count. Clients never send raw SQL (the gateway only ever
// executes cached, operator-authored templates), so this heuristic need
// only distinguish between the statement shapes those templates use.
func isReadStatement(sqlText string) bool {
	trimmed := strings.TrimSpace(sqlText)
	upper := strings.ToUpper(trimmed)
	for _, kw := range []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// execViaSQL runs req directly against db (never inside a transaction
// opened with BeginTx) using database/sql's generic query/exec split,
// shared by every engine
// whose driver speaks database/sql (all four: pgx/stdlib, go-sql-driver,
// modernc.org/sqlite, go_ibm_db). kind is threaded through to
// rowsToResult so the row-serialization path can apply engine-specific
// rendering rules (e.g. PostgreSQL's JSON-null-as-'{}' rule).
func execViaSQL(ctx context.Context, db *sql.DB, req QueryRequest, kind Kind) QueryResult {
	start := time.Now()
	args := bindValues(req)

	if isReadStatement(req.SQL) {
		rows, err := db.QueryContext(ctx, req.SQL, args...)
		if err != nil {
			return errResult(start, err)
		}
		defer rows.Close()
		return rowsToResult(start, kind, rows)
	}

	res, err := db.ExecContext(ctx, req.SQL, args...)
	if err != nil {
		return errResult(start, err)
	}
	affected, _ := res.RowsAffected()
	return QueryResult{
		Success:         true,
		DataJSON:        "[]",
		AffectedRows:    affected,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

func execPreparedViaSQL(ctx context.Context, stmt *sql.Stmt, req QueryRequest, kind Kind) QueryResult {
	start := time.Now()
	args := bindValues(req)

	if isReadStatement(req.SQL) {
		rows, err := stmt.QueryContext(ctx, args...)
		if err != nil {
			return errResult(start, err)
		}
		defer rows.Close()
		return rowsToResult(start, kind, rows)
	}

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return errResult(start, err)
	}
	affected, _ := res.RowsAffected()
	return QueryResult{
		Success:         true,
		DataJSON:        "[]",
		AffectedRows:    affected,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

func beginTx(ctx context.Context, h *DatabaseHandle, isolation sql.IsolationLevel) error {
	db := h.Raw.(*sql.DB)
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return err
	}
	h.ActiveTx = tx
	return nil
}

func commitTx(h *DatabaseHandle) error {
	tx, ok := h.ActiveTx.(*sql.Tx)
	if !ok || tx == nil {
		return errNoActiveTx
	}
	err := tx.Commit()
	h.ActiveTx = nil
	return err
}

func rollbackTx(h *DatabaseHandle) error {
	tx, ok := h.ActiveTx.(*sql.Tx)
	if !ok || tx == nil {
		return errNoActiveTx
	}
	err := tx.Rollback()
	h.ActiveTx = nil
	return err
}

var errNoActiveTx = errNoActiveTxType{}

type errNoActiveTxType struct{}

func (errNoActiveTxType) Error() string { return "engine: no active transaction on handle" }
