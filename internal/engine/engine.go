package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Engine is the vtable of operations every back end implements. Callers
// never reach past this interface into a driver-specific type; the Lead's
// worker is the sole owner of the DatabaseHandle it drives through Engine
// calls, so no method here needs to be safe for concurrent use by more than
// one goroutine against the same handle.
type Engine interface {
	Kind() Kind

	Connect(ctx context.Context, cfg ConnectionConfig) (*DatabaseHandle, error)
	Disconnect(h *DatabaseHandle) error
	HealthCheck(ctx context.Context, h *DatabaseHandle) bool
	ResetConnection(ctx context.Context, h *DatabaseHandle) error

	ExecuteQuery(ctx context.Context, h *DatabaseHandle, req QueryRequest) QueryResult
	PrepareStatement(ctx context.Context, h *DatabaseHandle, name, sql string) (*PreparedStatement, error)
	ExecutePrepared(ctx context.Context, h *DatabaseHandle, stmt *PreparedStatement, req QueryRequest) QueryResult
	UnprepareStatement(h *DatabaseHandle, stmt *PreparedStatement) error

	BeginTx(ctx context.Context, h *DatabaseHandle, isolation sql.IsolationLevel) error
	CommitTx(h *DatabaseHandle) error
	RollbackTx(h *DatabaseHandle) error

	ConnectionString(cfg ConnectionConfig) string
	ValidateConnectionString(dsn string) bool
	EscapeString(h *DatabaseHandle, s string) string

	// Placeholder renders the engine-native bind placeholder for the k-th
	// (1-based) positional parameter. PostgreSQL renders "$k"; every other
	// supported engine renders "?" regardless of k.
	Placeholder(k int) string
}

// New returns the Engine implementation for kind.
func New(kind Kind) (Engine, error) {
	switch kind {
	case PostgreSQL:
		return &postgresEngine{}, nil
	case SQLite:
		return &sqliteEngine{}, nil
	case MySQL:
		return &mysqlEngine{}, nil
	case DB2:
		return &db2Engine{}, nil
	default:
		return nil, fmt.Errorf("engine: unknown engine kind %q", kind)
	}
}

// rowsToResult drains rows into a QueryResult, serializing the row set to a
// JSON array of objects keyed by column name. Numeric and decimal columns
// are rendered as strings to avoid float-precision loss across JSON, the
// same strategy burrowctl's convertDatabaseValue uses for MySQL results,
// generalized here across all four engines via sql.ColumnType. kind
// selects engine-specific rendering rules in convertColumnValue.
func rowsToResult(start time.Time, kind Kind, rows *sql.Rows) QueryResult {
	cols, err := rows.Columns()
	if err != nil {
		return errResult(start, err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return errResult(start, err)
	}

	records := make([]map[string]any, 0, 16)
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return errResult(start, err)
		}
		rec := make(map[string]any, len(cols))
		for i, col := range cols {
			rec[col] = convertColumnValue(*(dest[i].(*any)), colTypes[i], kind)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return errResult(start, err)
	}

	body, err := json.Marshal(records)
	if err != nil {
		return errResult(start, err)
	}

	return QueryResult{
		Success:         true,
		DataJSON:        string(body),
		RowCount:        len(records),
		ColumnCount:     len(cols),
		Columns:         cols,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

// convertColumnValue mirrors burrowctl's convertDatabaseValue: byte slices
// coming back from numeric/decimal columns are kept as strings (preserving
// exact precision) rather than converted to Go numeric types, which would
// risk silent precision loss for BIGINT/DECIMAL values round-tripped
// through JSON's float64. kind additionally selects spec.md §4.1's
// PostgreSQL-only rule that a NULL JSON/JSONB column renders as `{}`
// rather than `null`.
func convertColumnValue(val any, colType *sql.ColumnType, kind Kind) any {
	if val == nil {
		if kind == PostgreSQL && postgresJSONTypeNames[colType.DatabaseTypeName()] {
			return nullJSONColumn
		}
		return nil
	}
	switch v := val.(type) {
	case []byte:
		switch colType.DatabaseTypeName() {
		case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
			"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL":
			return string(v)
		default:
			return string(v)
		}
	default:
		return v
	}
}

func errResult(start time.Time, err error) QueryResult {
	return QueryResult{
		Success:         false,
		ErrorMessage:    err.Error(),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}
