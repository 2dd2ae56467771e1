package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// mysqlEngine implements Engine for MySQL/MariaDB via
// github.com/go-sql-driver/mysql — the burrowctl teacher's own driver.
type mysqlEngine struct{}

func (mysqlEngine) Kind() Kind { return MySQL }

func (mysqlEngine) Placeholder(int) string { return "?" }

func (mysqlEngine) ConnectionString(cfg ConnectionConfig) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.AllowNativePasswords = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.TLS.Enabled {
		mc.TLSConfig = "custom"
	}
	return mc.FormatDSN()
}

func (mysqlEngine) ValidateConnectionString(dsn string) bool {
	_, err := mysqldriver.ParseDSN(dsn)
	return err == nil
}

func (e mysqlEngine) Connect(ctx context.Context, cfg ConnectionConfig) (*DatabaseHandle, error) {
	db, err := sql.Open("mysql", e.ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	// auto-reconnect semantics (spec.md §4.1) are realized through pool
	// recycling rather than a driver flag: go-sql-driver reopens a dead
	// connection transparently the next time the pool hands one out, as
	// long as idle connections don't outlive ConnMaxLifetime.
	db.SetConnMaxLifetime(3 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql liveness probe failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, "SELECT 1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql liveness probe failed: %w", err)
	}

	return &DatabaseHandle{
		Engine:         MySQL,
		Raw:            db,
		Status:         StatusConnected,
		ConnectedSince: time.Now(),
		config:         cfg,
	}, nil
}

func (mysqlEngine) Disconnect(h *DatabaseHandle) error {
	db := h.Raw.(*sql.DB)
	h.Status = StatusDisconnected
	return db.Close()
}

func (mysqlEngine) HealthCheck(ctx context.Context, h *DatabaseHandle) bool {
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

func (e mysqlEngine) ResetConnection(ctx context.Context, h *DatabaseHandle) error {
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

func (mysqlEngine) ExecuteQuery(ctx context.Context, h *DatabaseHandle, req QueryRequest) QueryResult {
	return execViaSQL(ctx, h.Raw.(*sql.DB), req, MySQL)
}

func (mysqlEngine) PrepareStatement(ctx context.Context, h *DatabaseHandle, name, sqlText string) (*PreparedStatement, error) {
	db := h.Raw.(*sql.DB)
	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	ps := &PreparedStatement{Name: name, SQL: sqlText, stmt: stmt}
	h.Statements = append(h.Statements, ps)
	return ps, nil
}

func (mysqlEngine) ExecutePrepared(ctx context.Context, h *DatabaseHandle, ps *PreparedStatement, req QueryRequest) QueryResult {
	return execPreparedViaSQL(ctx, ps.stmt.(*sql.Stmt), req, MySQL)
}

func (mysqlEngine) UnprepareStatement(h *DatabaseHandle, ps *PreparedStatement) error {
	for i, s := range h.Statements {
		if s == ps {
			h.Statements = append(h.Statements[:i], h.Statements[i+1:]...)
			break
		}
	}
	return ps.stmt.(*sql.Stmt).Close()
}

func (mysqlEngine) BeginTx(ctx context.Context, h *DatabaseHandle, isolation sql.IsolationLevel) error {
	return beginTx(ctx, h, isolation)
}
func (mysqlEngine) CommitTx(h *DatabaseHandle) error   { return commitTx(h) }
func (mysqlEngine) RollbackTx(h *DatabaseHandle) error { return rollbackTx(h) }

func (mysqlEngine) EscapeString(h *DatabaseHandle, s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '\\':
			out = append(out, '\\', s[i])
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
