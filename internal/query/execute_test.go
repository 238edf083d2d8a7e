package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, cfg Config) (*Executor, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxRowLimit == 0 {
		cfg.MaxRowLimit = DefaultMaxRowLimit
	}

	exec, err := NewExecutor(db, cfg)
	require.NoError(t, err)
	return exec, mock
}

func TestExecutor_Success(t *testing.T) {
	t.Parallel()

	exec, mock := newTestExecutor(t, Config{Timeout: time.Second})

	q := "SELECT id, name, note FROM users ORDER BY id"
	mock.ExpectQuery(q).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "note"}).
			AddRow(int64(1), "alice", []byte("hello")).
			AddRow(int64(2), "bob", nil),
	)

	resp, err := exec.Execute(context.Background(), q)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, q, resp.Query)
	assert.Equal(t, 2, resp.RowCount)
	assert.Equal(t, DefaultMaxRowLimit, resp.MaxRowLimit)
	assert.False(t, resp.IsTruncated)
	assert.Equal(t, []string{"id", "name", "note"}, resp.Columns)
	assert.Empty(t, resp.ErrorMessage)
	assert.Equal(t, "Query returned 2 row(s) out of 2 total row(s).", resp.Summary)

	require.Len(t, resp.Rows, 2)
	assert.Equal(t, []any{int64(1), "alice", "hello"}, resp.Rows[0].Values)

	note, ok := resp.Rows[1].Get("note")
	assert.True(t, ok)
	assert.Nil(t, note)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_NullIsExplicitInJSON(t *testing.T) {
	t.Parallel()

	exec, mock := newTestExecutor(t, Config{Timeout: time.Second})

	q := "SELECT a, b FROM t"
	mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"a", "b"}).AddRow(nil, "x"))

	resp, err := exec.Execute(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, resp.Rows, 1)

	data, err := resp.Rows[0].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"values":{"a":null,"b":"x"}}`, string(data))
	assert.Equal(t, `{"values":{"a":null,"b":"x"}}`, string(data))
}

func TestExecutor_NonFiniteFloatsEncode(t *testing.T) {
	t.Parallel()

	exec, mock := newTestExecutor(t, Config{Timeout: time.Second})

	q := "SELECT x FROM readings"
	mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"x"}).
		AddRow(math.NaN()).
		AddRow(math.Inf(1)).
		AddRow(math.Inf(-1)).
		AddRow(1.5))

	resp, err := exec.Execute(context.Background(), q)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, resp.Rows, 4)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Rows []struct {
			Values map[string]any `json:"values"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	var got []any
	for _, r := range decoded.Rows {
		got = append(got, r.Values["x"])
	}
	assert.Equal(t, []any{"NaN", "Infinity", "-Infinity", 1.5}, got)
}

func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 7200))

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"bytes", []byte("abc"), "abc"},
		{"time", at, at.UTC()},
		{"finite float", 2.25, 2.25},
		{"nan", math.NaN(), "NaN"},
		{"float32 inf", float32(math.Inf(1)), "Infinity"},
		{"negative inf", math.Inf(-1), "-Infinity"},
		{"int", int64(7), int64(7)},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeValue(tt.in))
		})
	}
}

func TestExecutor_Truncates(t *testing.T) {
	t.Parallel()

	exec, mock := newTestExecutor(t, Config{Timeout: time.Second, MaxRowLimit: 1000})

	q := "SELECT id FROM big"
	rows := sqlmock.NewRows([]string{"id"})
	for i := 0; i < 5000; i++ {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery(q).WillReturnRows(rows)

	resp, err := exec.Execute(context.Background(), q)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 1000, resp.RowCount)
	assert.Len(t, resp.Rows, 1000)
	assert.True(t, resp.IsTruncated)
	assert.Equal(t, "Query returned 1000 row(s) out of 5000 total row(s). Result truncated due to row limit.", resp.Summary)
	assert.Equal(t, []any{int64(999)}, resp.Rows[999].Values)
}

func TestExecutor_RowLimitInvariant(t *testing.T) {
	t.Parallel()

	cases := []struct{ rows, limit int }{
		{0, 5}, {1, 5}, {5, 5}, {6, 5}, {10, 1},
	}

	for _, tc := range cases {
		exec, mock := newTestExecutor(t, Config{Timeout: time.Second, MaxRowLimit: tc.limit})

		rows := sqlmock.NewRows([]string{"n"})
		for i := 0; i < tc.rows; i++ {
			rows.AddRow(int64(i))
		}
		mock.ExpectQuery("SELECT n FROM t").WillReturnRows(rows)

		resp, err := exec.Execute(context.Background(), "SELECT n FROM t")
		require.NoError(t, err)
		assert.Equal(t, min(tc.rows, tc.limit), resp.RowCount, "rows=%d limit=%d", tc.rows, tc.limit)
		assert.Equal(t, tc.rows > tc.limit, resp.IsTruncated, "rows=%d limit=%d", tc.rows, tc.limit)
		assert.Len(t, resp.Rows, resp.RowCount)
	}
}

func TestExecutor_SQLError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "pgx error",
			err:  &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: `syntax error at or near "x"`},
			want: `SQL Error: syntax error at or near "x"`,
		},
		{
			name: "lib/pq error",
			err:  &pq.Error{Code: "42501", Message: "permission denied for table secrets"},
			want: "SQL Error: permission denied for table secrets",
		},
		{
			name: "plain error",
			err:  errors.New("driver: bad connection"),
			want: "SQL Error: driver: bad connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec, mock := newTestExecutor(t, Config{Timeout: time.Second})

			q := "SELECT * FORM x"
			mock.ExpectQuery(q).WillReturnError(tt.err)

			resp, err := exec.Execute(context.Background(), q)
			require.NoError(t, err)

			assert.False(t, resp.Success)
			assert.Equal(t, tt.want, resp.ErrorMessage)
			assert.Equal(t, "Query execution failed with SQL error.", resp.Summary)
			assert.NotNil(t, resp.Rows)
			assert.Empty(t, resp.Rows)
			assert.NotNil(t, resp.Columns)
			assert.Empty(t, resp.Columns)
			assert.Zero(t, resp.RowCount)
		})
	}
}

func TestExecutor_Timeout(t *testing.T) {
	t.Parallel()

	exec, mock := newTestExecutor(t, Config{Timeout: 50 * time.Millisecond})

	q := "SELECT pg_sleep(10)"
	mock.ExpectQuery(q).
		WillDelayFor(2 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"pg_sleep"}).AddRow(""))

	resp, err := exec.Execute(context.Background(), q)
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, "Query execution exceeded timeout of 0.05 seconds.", resp.ErrorMessage)
	assert.Equal(t, "Query execution timed out.", resp.Summary)
	assert.Empty(t, resp.Rows)
	assert.Empty(t, resp.Columns)
}

func TestExecutor_IgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	exec, mock := newTestExecutor(t, Config{Timeout: time.Second})

	q := "SELECT 1"
	mock.ExpectQuery(q).
		WillDelayFor(100 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(int64(1)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	resp, err := exec.Execute(ctx, q)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.RowCount)
}

func TestExecutor_ConnectionFailure(t *testing.T) {
	t.Parallel()

	exec, err := NewExecutor(failingConnector{}, Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout:     time.Second,
		MaxRowLimit: 10,
	})
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), "SELECT 1")
	require.ErrorContains(t, err, "failed to acquire connection: connection refused")
	assert.Nil(t, resp)
}

func TestExecutor_DuplicateColumns(t *testing.T) {
	t.Parallel()

	exec, mock := newTestExecutor(t, Config{Timeout: time.Second})

	q := "SELECT 1 AS a, 2 AS a, 3"
	mock.ExpectQuery(q).WillReturnRows(
		sqlmock.NewRows([]string{"a", "a", ""}).AddRow(int64(1), int64(2), int64(3)),
	)

	resp, err := exec.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a1", "Column3"}, resp.Columns)
}

func TestNewExecutor_Validation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewExecutor(nil, Config{Logger: logger, MaxRowLimit: 1})
	require.ErrorContains(t, err, "db is required")

	_, err = NewExecutor(failingConnector{}, Config{MaxRowLimit: 1})
	require.ErrorContains(t, err, "logger is required")

	_, err = NewExecutor(failingConnector{}, Config{Logger: logger})
	require.ErrorContains(t, err, "max row limit must be greater than 0")
}

func TestUniqueColumnNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"id", "id1", "id2", "Column4", "Column41"},
		uniqueColumnNames([]string{"id", "id", "id", "", "Column4"}),
	)
}

type failingConnector struct{}

func (failingConnector) Conn(context.Context) (*sql.Conn, error) {
	return nil, errors.New("connection refused")
}
