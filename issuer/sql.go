package issuer

import (
	"context"
	"database/sql"
	"errors"
)

// Record is one result row keyed by column name.
type Record = map[string]any

// Rows issues the result set of a query. It owns a dedicated connection,
// the prepared statement and the cursor, and releases them in reverse
// acquisition order.
type Rows struct {
	lookahead[Record]
	conn    *sql.Conn
	stmt    *sql.Stmt
	rows    *sql.Rows
	columns []string
}

// OpenSQL runs query with positional args and returns its rows as an
// Issuer. When any acquisition step fails, everything acquired so far is
// released before the error is returned; release failures are attached to
// the returned DataAccessError as suppressed errors.
func OpenSQL(ctx context.Context, db *sql.DB, query string, args ...any) (*Rows, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, &DataAccessError{Op: "connect", Source: query, Err: err}
	}
	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, unwind(&DataAccessError{Op: "prepare", Source: query, Err: err}, conn.Close)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, unwind(&DataAccessError{Op: "query", Source: query, Err: err}, stmt.Close, conn.Close)
	}
	columns, err := rows.Columns()
	if err != nil {
		return nil, unwind(&DataAccessError{Op: "columns", Source: query, Err: err}, rows.Close, stmt.Close, conn.Close)
	}

	r := &Rows{conn: conn, stmt: stmt, rows: rows, columns: columns}
	r.name = query
	r.fetch = r.scan
	return r, nil
}

func unwind(primary *DataAccessError, closers ...func() error) error {
	for _, c := range closers {
		if err := c(); err != nil {
			primary.Suppressed = append(primary.Suppressed, err)
		}
	}
	return primary
}

func (r *Rows) scan() (Record, bool, error) {
	if !r.rows.Next() {
		return nil, false, r.rows.Err()
	}
	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, false, err
	}
	rec := make(Record, len(r.columns))
	for i, col := range r.columns {
		if b, ok := values[i].([]byte); ok {
			rec[col] = string(b)
			continue
		}
		rec[col] = values[i]
	}
	return rec, true, nil
}

// Columns returns the result column names.
func (r *Rows) Columns() []string { return r.columns }

// Close releases the cursor, the statement and the connection, in that
// order. Every step runs even when an earlier one fails; the first failure
// is returned and later ones are suppressed.
func (r *Rows) Close() error {
	if r.markClosed() {
		return nil
	}
	var errs []error
	for _, c := range []func() error{r.rows.Close, r.stmt.Close, r.conn.Close} {
		if err := c(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &DataAccessError{Op: "close", Source: r.name, Err: errs[0], Suppressed: errs[1:]}
}
