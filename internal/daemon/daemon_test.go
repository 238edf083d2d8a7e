package daemon

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/sqlgate-mcp/internal/tools"
	"github.com/alucardeht/sqlgate-mcp/internal/types"
	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

type stubDispatcher struct {
	registry *tools.Registry
}

func (s *stubDispatcher) Handle(_ context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case "nan.result":
		return protocol.NewResult(req.ID, map[string]any{"x": math.Inf(-1)})
	case tools.MethodToolsList:
		return protocol.NewResult(req.ID, s.registry.List())
	case tools.ToolExecuteReadOnly:
		q, ok := req.Params.String(tools.ParamQuery)
		if !ok {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "Missing or invalid 'query' parameter")
		}
		return protocol.NewResult(req.ID, types.SQLExecuteResponse{
			Success:     true,
			Columns:     []string{"q"},
			Rows:        []types.QueryRow{{Columns: []string{"q"}, Values: []any{q}}},
			RowCount:    1,
			MaxRowLimit: 1000,
		})
	}
	return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound, "Method '"+req.Method+"' not found")
}

// Unix socket paths are length limited, so avoid the long t.TempDir names.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sg")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func startDaemon(t *testing.T) *Daemon {
	t.Helper()

	d, err := New(Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dispatcher: &stubDispatcher{registry: tools.NewDefaultRegistry()},
		SocketPath: shortSocketPath(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(d.SocketPath())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return d
}

func TestDaemon_RoundTrip(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()

	client, err := Dial(ctx, d.SocketPath())
	require.NoError(t, err)
	defer client.Close()

	list, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, list.Tools, 2)
	assert.Equal(t, tools.ToolSchemaDescribe, list.Tools[0].Name)
	assert.Equal(t, tools.ToolExecuteReadOnly, list.Tools[1].Name)

	resp, err := client.ExecuteReadOnly(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Rows, 1)
	v, ok := resp.Rows[0].Get("q")
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", v)
}

func TestDaemon_ErrorsBecomeProtocolErrors(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()

	client, err := Dial(ctx, d.SocketPath())
	require.NoError(t, err)
	defer client.Close()

	err = client.Call(ctx, "nope", nil, nil)
	var rpcErr *protocol.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeMethodNotFound, rpcErr.Code)
	assert.Equal(t, "Method 'nope' not found", rpcErr.Message)

	err = client.Call(ctx, tools.ToolExecuteReadOnly, map[string]any{"query": 7}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeInvalidParams, rpcErr.Code)
}

func TestDaemon_UnencodableResult(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()

	client, err := Dial(ctx, d.SocketPath())
	require.NoError(t, err)
	defer client.Close()

	err = client.Call(ctx, "nan.result", nil, nil)
	var rpcErr *protocol.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.CodeInternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "failed to encode response")

	// The connection stays usable.
	_, err = client.ListTools(ctx)
	require.NoError(t, err)
}

func TestDaemon_SocketPermissions(t *testing.T) {
	d := startDaemon(t)

	info, err := os.Stat(d.SocketPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestDaemon_TracksConnections(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()

	client, err := Dial(ctx, d.SocketPath())
	require.NoError(t, err)
	_, err = client.ListTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.ConnectionCount())

	require.NoError(t, client.Close())
	assert.Eventually(t, func() bool { return d.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSocketListener_Close(t *testing.T) {
	path := shortSocketPath(t)
	sl := NewSocketListener(path)
	require.NoError(t, sl.Start())

	require.NoError(t, sl.Close())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSocketListener_CloseReportsRemoveFailure(t *testing.T) {
	path := shortSocketPath(t)
	sl := NewSocketListener(path)
	require.NoError(t, sl.Start())

	// Something else now owns the path and cannot be removed.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "child"), 0700))

	err := sl.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to remove socket")
}

func TestConfig_Validate(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestPIDFile_AcquireAndRelease(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "run", "sqlgate.pid"))

	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, p.Running())

	require.NoError(t, p.Release())
	_, err = os.Stat(p.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_RejectsLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlgate.pid")
	// The parent test process is alive for the whole run.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0600))

	err := NewPIDFile(path).Acquire()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestPIDFile_ReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlgate.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0600))

	p := NewPIDFile(path)
	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_ReleaseKeepsForeignPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlgate.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0600))

	require.NoError(t, NewPIDFile(path).Release())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
