package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/alucardeht/sqlgate-mcp/internal/metrics"
	"github.com/alucardeht/sqlgate-mcp/internal/types"
)

const DefaultSchema = "public"

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the subset of *sql.DB the introspector needs.
type DB interface {
	queryer
	Conn(ctx context.Context) (*sql.Conn, error)
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Schema is the catalog schema to describe.
	Schema string

	// Exclude holds doublestar patterns matched against table names.
	Exclude []string

	// Concurrency above 1 fetches per-table metadata in parallel, each
	// table on its own pooled connection.
	Concurrency int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		return errors.New("clock is required")
	}
	if c.Schema == "" {
		return errors.New("schema is required")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern: %q", pattern)
		}
	}
	return nil
}

type Introspector struct {
	log  *slog.Logger
	cfg  Config
	db   DB
	pool pond.ResultPool[types.TableSchema]
}

func New(db DB, cfg Config) (*Introspector, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid introspector config: %w", err)
	}

	i := &Introspector{
		log: cfg.Logger,
		cfg: cfg,
		db:  db,
	}
	if cfg.Concurrency > 1 {
		i.pool = pond.NewResultPool[types.TableSchema](cfg.Concurrency)
	}
	return i, nil
}

func (i *Introspector) Close() {
	if i.pool != nil {
		i.pool.StopAndWait()
	}
}

// Describe builds a fresh description of every base table in the configured
// schema. Any failure aborts the whole call.
func (i *Introspector) Describe(ctx context.Context) (*types.SchemaDescribeResponse, error) {
	conn, err := i.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	var dbName string
	if err := conn.QueryRowContext(ctx, currentDatabaseQuery).Scan(&dbName); err != nil {
		return nil, fmt.Errorf("failed to read database name: %w", err)
	}

	names, err := i.listTables(ctx, conn)
	if err != nil {
		return nil, err
	}

	var tables []types.TableSchema
	if i.pool != nil && len(names) > 1 {
		tables, err = i.describeParallel(ctx, names)
	} else {
		tables, err = i.describeSequential(ctx, conn, names)
	}
	if err != nil {
		return nil, err
	}

	resp := &types.SchemaDescribeResponse{
		DatabaseName: dbName,
		RetrievedAt:  i.cfg.Clock.Now().UTC(),
		Tables:       tables,
	}
	t, c, f := resp.Totals()
	resp.Summary = fmt.Sprintf("Retrieved schema for %d tables with %d columns and %d foreign keys.", t, c, f)

	metrics.SchemaTables.Set(float64(t))
	i.log.Debug("schema: described", "database", dbName, "tables", t, "columns", c, "foreignKeys", f)

	return resp, nil
}

func (i *Introspector) listTables(ctx context.Context, q queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, listTablesQuery, i.cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if i.excluded(name) {
			i.log.Debug("schema: table excluded", "table", name)
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}

func (i *Introspector) excluded(table string) bool {
	for _, pattern := range i.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, table); ok {
			return true
		}
	}
	return false
}

func (i *Introspector) describeSequential(ctx context.Context, q queryer, names []string) ([]types.TableSchema, error) {
	tables := make([]types.TableSchema, 0, len(names))
	for _, name := range names {
		table, err := i.describeTable(ctx, q, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (i *Introspector) describeParallel(ctx context.Context, names []string) ([]types.TableSchema, error) {
	group := i.pool.NewGroupContext(ctx)

	for _, name := range names {
		group.SubmitErr(func() (types.TableSchema, error) {
			return i.describeTable(ctx, i.db, name)
		})
	}

	tables, err := group.Wait()
	if err != nil {
		return nil, err
	}
	return tables, nil
}

func (i *Introspector) describeTable(ctx context.Context, q queryer, table string) (types.TableSchema, error) {
	columns, err := i.columns(ctx, q, table)
	if err != nil {
		return types.TableSchema{}, err
	}

	for idx := range columns {
		var count int
		err := q.QueryRowContext(ctx, primaryKeyQuery, i.cfg.Schema, table, columns[idx].ColumnName).Scan(&count)
		if err != nil {
			return types.TableSchema{}, fmt.Errorf("failed to check primary key for %s.%s: %w", table, columns[idx].ColumnName, err)
		}
		columns[idx].IsPrimaryKey = count > 0
	}

	var rowCount int64
	if err := q.QueryRowContext(ctx, RowCountQuery(i.cfg.Schema, table)).Scan(&rowCount); err != nil {
		return types.TableSchema{}, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}

	fks, err := i.foreignKeys(ctx, q, table)
	if err != nil {
		return types.TableSchema{}, err
	}

	return types.TableSchema{
		TableName:   table,
		Columns:     columns,
		ForeignKeys: fks,
		RowCount:    rowCount,
	}, nil
}

func (i *Introspector) columns(ctx context.Context, q queryer, table string) ([]types.ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, listColumnsQuery, i.cfg.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	columns := make([]types.ColumnInfo, 0)
	for rows.Next() {
		var (
			col       types.ColumnInfo
			maxLength sql.NullInt64
		)
		if err := rows.Scan(&col.ColumnName, &col.DataType, &maxLength, &col.IsNullable, &col.IsIdentity); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		if maxLength.Valid {
			n := int(maxLength.Int64)
			col.MaxLength = &n
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return columns, nil
}

func (i *Introspector) foreignKeys(ctx context.Context, q queryer, table string) ([]types.ForeignKeyInfo, error) {
	rows, err := q.QueryContext(ctx, foreignKeysQuery, i.cfg.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	fks := make([]types.ForeignKeyInfo, 0)
	for rows.Next() {
		var fk types.ForeignKeyInfo
		if err := rows.Scan(&fk.ConstraintName, &fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list foreign keys of %s: %w", table, err)
	}
	return fks, nil
}

// RowCountQuery returns the live row count statement for a table, with both
// identifiers quoted.
func RowCountQuery(schema, table string) string {
	return "SELECT COUNT(*) FROM " + pgx.Identifier{schema, table}.Sanitize()
}
