package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// postgresEngine implements Engine for PostgreSQL via pgx's database/sql
// shim (github.com/jackc/pgx/v5/stdlib), the driver gsoultan-Hermod's
// pkg/source/postgres builds on for everything except native logical
// replication, which this gateway does not need.
type postgresEngine struct{}

func (postgresEngine) Kind() Kind { return PostgreSQL }

func (postgresEngine) Placeholder(k int) string { return fmt.Sprintf("$%d", k) }

func (e postgresEngine) ConnectionString(cfg ConnectionConfig) string {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	if cfg.TLS.Enabled {
		dsn += " sslmode=verify-full"
		if cfg.TLS.CAFile != "" {
			dsn += fmt.Sprintf(" sslrootcert=%s", cfg.TLS.CAFile)
		}
	} else {
		dsn += " sslmode=disable"
	}
	return dsn
}

var pgDSNRe = regexp.MustCompile(`(^postgres(ql)?://)|(\bhost=)`)

func (postgresEngine) ValidateConnectionString(dsn string) bool {
	return pgDSNRe.MatchString(dsn)
}

func (e postgresEngine) Connect(ctx context.Context, cfg ConnectionConfig) (*DatabaseHandle, error) {
	db, err := sql.Open("pgx", e.ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres liveness probe failed: %w", err)
	}
	// Liveness probe proper: spec.md §4.1 calls for "SELECT 1".
	if _, err := db.ExecContext(ctx, "SELECT 1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres liveness probe failed: %w", err)
	}
	return &DatabaseHandle{
		Engine:         PostgreSQL,
		Raw:            db,
		Status:         StatusConnected,
		ConnectedSince: time.Now(),
		config:         cfg,
	}, nil
}

func (postgresEngine) Disconnect(h *DatabaseHandle) error {
	db := h.Raw.(*sql.DB)
	h.Status = StatusDisconnected
	return db.Close()
}

func (postgresEngine) HealthCheck(ctx context.Context, h *DatabaseHandle) bool {
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

func (e postgresEngine) ResetConnection(ctx context.Context, h *DatabaseHandle) error {
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

func (postgresEngine) ExecuteQuery(ctx context.Context, h *DatabaseHandle, req QueryRequest) QueryResult {
	return execViaSQL(ctx, h.Raw.(*sql.DB), req, PostgreSQL)
}

func (postgresEngine) PrepareStatement(ctx context.Context, h *DatabaseHandle, name, sqlText string) (*PreparedStatement, error) {
	db := h.Raw.(*sql.DB)
	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	ps := &PreparedStatement{Name: name, SQL: sqlText, stmt: stmt}
	h.Statements = append(h.Statements, ps)
	return ps, nil
}

func (postgresEngine) ExecutePrepared(ctx context.Context, h *DatabaseHandle, ps *PreparedStatement, req QueryRequest) QueryResult {
	return execPreparedViaSQL(ctx, ps.stmt.(*sql.Stmt), req, PostgreSQL)
}

func (postgresEngine) UnprepareStatement(h *DatabaseHandle, ps *PreparedStatement) error {
	for i, s := range h.Statements {
		if s == ps {
			h.Statements = append(h.Statements[:i], h.Statements[i+1:]...)
			break
		}
	}
	return ps.stmt.(*sql.Stmt).Close()
}

func (postgresEngine) BeginTx(ctx context.Context, h *DatabaseHandle, isolation sql.IsolationLevel) error {
	return beginTx(ctx, h, isolation)
}
func (postgresEngine) CommitTx(h *DatabaseHandle) error   { return commitTx(h) }
func (postgresEngine) RollbackTx(h *DatabaseHandle) error { return rollbackTx(h) }

func (postgresEngine) EscapeString(h *DatabaseHandle, s string) string {
	// PostgreSQL standard-conforming string escape: double embedded quotes.
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

// nullJSONColumn renders PostgreSQL's JSON-column null sentinel. spec.md
// §4.1 requires the literal JSON object `{}` rather than SQL NULL when a
// JSON/JSONB column has no value, to keep clients from having to
// special-case a bare `null` token in the data_json stream. convertColumnValue
// substitutes this in place of Go's nil for a NULL JSON/JSONB column, but
// only under the PostgreSQL engine — SQLite, MySQL, and DB2 render a NULL
// JSON-shaped column as plain JSON null like every other NULL column.
var nullJSONColumn = json.RawMessage("{}")

// postgresJSONTypeNames are the DatabaseTypeName() values pgx/v5's
// stdlib shim reports for PostgreSQL's two JSON column types.
var postgresJSONTypeNames = map[string]bool{"JSON": true, "JSONB": true}
