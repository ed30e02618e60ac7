package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	// slowStatement promotes a statement trace from debug to warn.
	slowStatement = 100 * time.Millisecond
	// maxArgLen keeps stored payload bodies from flooding the log.
	maxArgLen = 120
)

var errDirectOpen = errors.New("sqlite trace driver: open through sql.OpenDB(NewLoggingConnector(...))")

// tracer times statements and writes one record per statement.
type tracer struct {
	logger *slog.Logger
	slow   time.Duration
}

func (t tracer) trace(ctx context.Context, op, query string, args []driver.NamedValue, start time.Time, err error) {
	elapsed := time.Since(start)
	level := slog.LevelDebug
	if elapsed >= t.slow {
		level = slog.LevelWarn
	}
	attrs := []any{"op", op, "sql", query, "args", renderArgs(args), "elapsed", elapsed}
	if err != nil && !errors.Is(err, driver.ErrSkip) {
		attrs = append(attrs, "error", err)
	}
	t.logger.Log(ctx, level, "sql", attrs...)
}

type tracingConnector struct {
	dsn    string
	tracer tracer
}

// NewLoggingConnector opens sqlite3 connections that log every statement
// with its arguments and duration. Pass it to sql.OpenDB.
// If logger is nil, slog.Default() is used.
func NewLoggingConnector(dsn string, logger *slog.Logger) (driver.Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &tracingConnector{dsn: dsn, tracer: tracer{logger: logger, slow: slowStatement}}, nil
}

func (c *tracingConnector) Connect(_ context.Context) (driver.Conn, error) {
	conn, err := (&sqlite3.SQLiteDriver{}).Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &tracingConn{Conn: conn, tracer: c.tracer}, nil
}

func (c *tracingConnector) Driver() driver.Driver { return directOpenDriver{} }

type directOpenDriver struct{}

func (directOpenDriver) Open(string) (driver.Conn, error) { return nil, errDirectOpen }

// tracingConn embeds the sqlite connection for Close and Begin.
type tracingConn struct {
	driver.Conn
	tracer tracer
}

func (c *tracingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &tracingStmt{Stmt: stmt, query: query, tracer: c.tracer}, nil
}

func (c *tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019: driver without BeginTx
	return c.Conn.Begin()
}

// ExecContext goes straight to the sqlite connection so multi-statement
// migration scripts run in full.
func (c *tracingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := execer.ExecContext(ctx, query, args)
	c.tracer.trace(ctx, "exec", query, args, start, err)
	return res, err
}

func (c *tracingConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := queryer.QueryContext(ctx, query, args)
	c.tracer.trace(ctx, "query", query, args, start, err)
	return rows, err
}

// tracingStmt embeds the prepared statement for Close and NumInput.
type tracingStmt struct {
	driver.Stmt
	query  string
	tracer tracer
}

func (s *tracingStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), toNamed(args))
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = e.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: statement without ExecContext
		res, err = s.Stmt.Exec(toValues(args))
	}
	s.tracer.trace(ctx, "exec", s.query, args, start, err)
	return res, err
}

func (s *tracingStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), toNamed(args))
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: statement without QueryContext
		rows, err = s.Stmt.Query(toValues(args))
	}
	s.tracer.trace(ctx, "query", s.query, args, start, err)
	return rows, err
}

func renderArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := renderValue(a.Value)
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}

func renderValue(v driver.Value) string {
	var s string
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		s = fmt.Sprint(t)
	}
	if len(s) > maxArgLen {
		return s[:maxArgLen] + fmt.Sprintf("...(%d bytes)", len(s))
	}
	return s
}

func toNamed(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func toValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i := range args {
		out[i] = args[i].Value
	}
	return out
}
