package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

type SocketListener struct {
	path     string
	listener net.Listener
}

func NewSocketListener(socketPath string) *SocketListener {
	return &SocketListener{path: socketPath}
}

// Start replaces any stale socket file and listens with owner-only access.
func (sl *SocketListener) Start() error {
	if err := os.MkdirAll(filepath.Dir(sl.path), 0700); err != nil {
		return fmt.Errorf("failed to create socket dir: %w", err)
	}

	if err := os.Remove(sl.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", sl.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", sl.path, err)
	}
	sl.listener = listener

	if err := os.Chmod(sl.path, 0700); err != nil {
		listener.Close()
		return fmt.Errorf("failed to chmod socket: %w", err)
	}
	return nil
}

func (sl *SocketListener) Accept() (net.Conn, error) {
	if sl.listener == nil {
		return nil, fmt.Errorf("listener not started")
	}
	return sl.listener.Accept()
}

func (sl *SocketListener) Close() error {
	if sl.listener == nil {
		return nil
	}
	err := sl.listener.Close()
	if rerr := os.Remove(sl.path); rerr != nil && !os.IsNotExist(rerr) {
		err = errors.Join(err, fmt.Errorf("failed to remove socket: %w", rerr))
	}
	return err
}

func (sl *SocketListener) Path() string {
	return sl.path
}

type SocketConnector struct {
	path string
}

func NewSocketConnector(socketPath string) *SocketConnector {
	return &SocketConnector{path: socketPath}
}

func (sc *SocketConnector) Connect(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", sc.path)
}
