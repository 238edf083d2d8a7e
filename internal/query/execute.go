package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/alucardeht/sqlgate-mcp/internal/metrics"
	"github.com/alucardeht/sqlgate-mcp/internal/types"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRowLimit = 1000
)

// Connector hands out a connection scoped to one call. *sql.DB satisfies it.
type Connector interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type Config struct {
	Logger      *slog.Logger
	Timeout     time.Duration
	MaxRowLimit int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.MaxRowLimit <= 0 {
		return errors.New("max row limit must be greater than 0")
	}
	return nil
}

type Executor struct {
	log     *slog.Logger
	db      Connector
	timeout time.Duration
	maxRows int
}

func NewExecutor(db Connector, cfg Config) (*Executor, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	return &Executor{
		log:     cfg.Logger,
		db:      db,
		timeout: cfg.Timeout,
		maxRows: cfg.MaxRowLimit,
	}, nil
}

func (e *Executor) MaxRowLimit() int {
	return e.maxRows
}

// Execute runs an already validated query. Driver errors and timeouts are
// reported inside the response; only a failure to obtain a connection is
// returned as an error.
//
// The query runs under its own deadline. Cancelling ctx does not abort it.
func (e *Executor) Execute(ctx context.Context, query string) (*types.SQLExecuteResponse, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	queryCtx, cancel := WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	rows, err := conn.QueryContext(queryCtx, query)
	if err != nil {
		return e.failure(queryCtx, query, err), nil
	}
	defer rows.Close()

	rawColumns, err := rows.Columns()
	if err != nil {
		return e.failure(queryCtx, query, err), nil
	}
	columns := uniqueColumnNames(rawColumns)

	result := make([]types.QueryRow, 0)
	total := 0
	for rows.Next() {
		total++
		if total > e.maxRows {
			continue
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return e.failure(queryCtx, query, err), nil
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}

		result = append(result, types.QueryRow{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return e.failure(queryCtx, query, err), nil
	}

	truncated := total > e.maxRows
	summary := fmt.Sprintf("Query returned %d row(s) out of %d total row(s).", len(result), total)
	if truncated {
		summary += " Result truncated due to row limit."
		metrics.QueryTruncated.Inc()
	}
	metrics.QueryOutcomes.WithLabelValues(metrics.OutcomeOK).Inc()

	e.log.Debug("query: executed", "rows", len(result), "total", total, "truncated", truncated)

	return &types.SQLExecuteResponse{
		Success:     true,
		Query:       query,
		RowCount:    len(result),
		MaxRowLimit: e.maxRows,
		IsTruncated: truncated,
		Rows:        result,
		Columns:     columns,
		Summary:     summary,
	}, nil
}

func (e *Executor) failure(queryCtx context.Context, query string, err error) *types.SQLExecuteResponse {
	resp := &types.SQLExecuteResponse{
		Success:     false,
		Query:       query,
		MaxRowLimit: e.maxRows,
		Rows:        []types.QueryRow{},
		Columns:     []string{},
	}

	if errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
		metrics.QueryOutcomes.WithLabelValues(metrics.OutcomeTimeout).Inc()
		e.log.Warn("query: timed out", "timeout", e.timeout)
		resp.ErrorMessage = fmt.Sprintf("Query execution exceeded timeout of %s seconds.", formatSeconds(e.timeout))
		resp.Summary = "Query execution timed out."
		return resp
	}

	metrics.QueryOutcomes.WithLabelValues(metrics.OutcomeSQLError).Inc()
	e.log.Debug("query: sql error", "error", err)
	resp.ErrorMessage = "SQL Error: " + DriverMessage(err)
	resp.Summary = "Query execution failed with SQL error."
	return resp
}

// DriverMessage extracts the server-side message from a driver error, falling
// back to the full error text.
func DriverMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Message
	}
	return err.Error()
}

// normalizeValue makes driver values JSON encodable. Non-finite floats, which
// PostgreSQL float columns can hold, become their SQL text form.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	case float64:
		return finiteOrString(x, v)
	case float32:
		return finiteOrString(float64(x), v)
	default:
		return v
	}
}

func finiteOrString(f float64, v any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return v
	}
}

// uniqueColumnNames names anonymous columns ColumnN and suffixes repeated
// names with a counter so every row has one key per column.
func uniqueColumnNames(columns []string) []string {
	seen := make(map[string]bool, len(columns))
	out := make([]string, len(columns))

	for i, c := range columns {
		name := c
		if name == "" {
			name = fmt.Sprintf("Column%d", i+1)
		}
		if seen[name] {
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s%d", name, n)
				if !seen[candidate] {
					name = candidate
					break
				}
			}
		}
		seen[name] = true
		out[i] = name
	}
	return out
}
