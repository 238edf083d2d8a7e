package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

type Dispatcher interface {
	Handle(ctx context.Context, req *protocol.Request) *protocol.Response
}

type Config struct {
	Logger     *slog.Logger
	Dispatcher Dispatcher
	SocketPath string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Dispatcher == nil {
		return errors.New("dispatcher is required")
	}
	if c.SocketPath == "" {
		return errors.New("socket path is required")
	}
	return nil
}

// Daemon serves the dispatcher as JSON-RPC 2.0 over a unix socket, one
// jsonrpc2 connection per client.
type Daemon struct {
	log        *slog.Logger
	dispatcher Dispatcher
	listener   *SocketListener

	connMu       sync.Mutex
	connections  map[*jsonrpc2.Conn]struct{}
	wg           sync.WaitGroup
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func New(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	return &Daemon{
		log:         cfg.Logger,
		dispatcher:  cfg.Dispatcher,
		listener:    NewSocketListener(cfg.SocketPath),
		connections: make(map[*jsonrpc2.Conn]struct{}),
		shutdown:    make(chan struct{}),
	}, nil
}

// Serve listens on the socket and blocks until ctx is done.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.listener.Start(); err != nil {
		return err
	}
	d.log.Info("daemon: listening", "socket", d.listener.Path())

	go func() {
		select {
		case <-ctx.Done():
		case <-d.shutdown:
		}
		d.Shutdown()
	}()

	for {
		nc, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				d.wg.Wait()
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		d.serveConn(ctx, nc)
	}
}

func (d *Daemon) serveConn(ctx context.Context, nc net.Conn) {
	stream := jsonrpc2.NewBufferedStream(nc, jsonrpc2.PlainObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(&rpcHandler{d: d}))

	d.connMu.Lock()
	d.connections[conn] = struct{}{}
	d.connMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		<-conn.DisconnectNotify()
		d.connMu.Lock()
		delete(d.connections, conn)
		d.connMu.Unlock()
	}()
}

func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdown)
		if err := d.listener.Close(); err != nil {
			d.log.Warn("daemon: failed to close listener", "error", err)
		}

		d.connMu.Lock()
		for conn := range d.connections {
			conn.Close()
		}
		d.connMu.Unlock()
	})
}

func (d *Daemon) SocketPath() string {
	return d.listener.Path()
}

func (d *Daemon) ConnectionCount() int {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	return len(d.connections)
}

type rpcHandler struct {
	d *Daemon
}

func (h *rpcHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		return
	}

	id, err := json.Marshal(req.ID)
	if err != nil {
		h.reply(ctx, conn, req.ID, protocol.NewErrorResponse(nil, protocol.CodeInvalidRequest, "Invalid Request"))
		return
	}

	preq := &protocol.Request{
		JSONRPC: protocol.Version,
		ID:      protocol.ID(id),
		Method:  req.Method,
	}
	if req.Params != nil {
		if err := json.Unmarshal(*req.Params, &preq.Params); err != nil {
			h.reply(ctx, conn, req.ID, protocol.NewErrorResponse(preq.ID, protocol.CodeInvalidParams, "Invalid params"))
			return
		}
	}

	h.reply(ctx, conn, req.ID, h.d.dispatcher.Handle(ctx, preq))
}

func (h *rpcHandler) reply(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, resp *protocol.Response) {
	var result json.RawMessage
	if resp.Error == nil {
		data, err := json.Marshal(resp.Result)
		if err != nil {
			h.d.log.Error("daemon: failed to encode result", "error", err)
			resp = protocol.EncodeFailureResponse(resp.ID, err)
		}
		result = data
	}

	var err error
	if resp.Error != nil {
		err = conn.ReplyWithError(ctx, id, &jsonrpc2.Error{
			Code:    int64(resp.Error.Code),
			Message: resp.Error.Message,
		})
	} else {
		err = conn.Reply(ctx, id, result)
	}
	if err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		h.d.log.Warn("daemon: failed to send reply", "error", err)
	}
}
