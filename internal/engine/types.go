// Package engine defines the vtable of database operations shared by the
// four supported back ends (PostgreSQL, SQLite, MySQL/MariaDB, DB2) and the
// connection-state types that flow through it.
package engine

import (
	"time"
)

// Kind discriminates the four supported back ends.
type Kind string

const (
	PostgreSQL Kind = "postgresql"
	SQLite     Kind = "sqlite"
	MySQL      Kind = "mysql"
	DB2        Kind = "db2"
)

// Status is the lifecycle state of a DatabaseHandle.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusError
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionConfig carries engine-specific connection parameters. Fields not
// meaningful to a given engine are left zero (e.g. FilePath for server
// engines, Host/Port for SQLite).
type ConnectionConfig struct {
	Engine   Kind
	Host     string
	Port     int
	Database string
	User     string
	Password string
	FilePath string // SQLite: file path, or ":memory:"
	TLS      TLSConfig
}

// TLSConfig controls optional transport encryption for server engines.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

// PreparedStatement is owned exclusively by the DatabaseHandle that created
// it; it is never shared across goroutines.
type PreparedStatement struct {
	Name string
	SQL  string
	stmt any // underlying *sql.Stmt, opaque to callers outside this package
}

// DatabaseHandle owns one engine-specific raw connection. Exactly one queue
// worker touches a given handle; the engine package never mutates it
// concurrently.
type DatabaseHandle struct {
	Engine             Kind
	Raw                any // *sql.DB for every engine (SQLite's is capped at one open connection)
	Status             Status
	ConnectedSince     time.Time
	ActiveTx           any // *sql.Tx, nil when no transaction is open
	Statements         []*PreparedStatement
	LastHealthCheck    time.Time
	ConsecutiveFailure int
	Exclusive          bool
	config             ConnectionConfig
}

// TypedParameter is a tagged, named SQL bind value in the order it will be
// passed to the driver.
type TypedParameter struct {
	Name  string
	Kind  ParamKind
	Int   int64
	Str   string
	Bool  bool
	Float float64
}

// ParamKind is the JSON type tag a parameter arrived under.
type ParamKind int

const (
	ParamInteger ParamKind = iota
	ParamString
	ParamBoolean
	ParamFloat
)

// Value returns the TypedParameter's value boxed for driver binding.
func (p TypedParameter) Value() any {
	switch p.Kind {
	case ParamInteger:
		return p.Int
	case ParamString:
		return p.Str
	case ParamBoolean:
		return p.Bool
	case ParamFloat:
		return p.Float
	default:
		return nil
	}
}

// QueryRequest is the fully prepared input to ExecuteQuery/ExecutePrepared:
// placeholders already rewritten to the engine's native form.
type QueryRequest struct {
	SQL            string
	Params         []TypedParameter
	QueueTypeHint  string
	TimeoutSeconds int
}

// QueryResult is the outcome of executing a QueryRequest.
type QueryResult struct {
	Success         bool
	DataJSON        string // JSON array of objects, column-name keys
	RowCount        int
	ColumnCount     int
	Columns         []string
	ErrorMessage    string
	ExecutionTimeMs int64
	AffectedRows    int64
}
