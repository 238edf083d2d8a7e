package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alucardeht/sqlgate-mcp/internal/journal"
	"github.com/alucardeht/sqlgate-mcp/internal/mcp"
	"github.com/alucardeht/sqlgate-mcp/internal/tools"
	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

const (
	HeaderRequestID = "X-Request-ID"
	jsonContentType = "application/json; charset=utf-8"

	ctxKeyRequestID = "requestID"
	shutdownTimeout = 10 * time.Second
)

type Dispatcher interface {
	Handle(ctx context.Context, req *protocol.Request) *protocol.Response
}

type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Dispatcher Dispatcher
	Registry   *tools.Registry
	ListenAddr string

	QueryTimeout time.Duration
	MaxRowLimit  int

	// Journal is optional; /journal answers 404 without it.
	Journal JournalReader
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		return errors.New("clock is required")
	}
	if c.Dispatcher == nil {
		return errors.New("dispatcher is required")
	}
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	return nil
}

type Server struct {
	log    *slog.Logger
	cfg    Config
	engine *gin.Engine
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid http config: %w", err)
	}

	s := &Server{log: cfg.Logger, cfg: cfg}
	s.engine = s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/", s.StatusPage)
	r.GET("/health", s.Health)
	r.POST("/mcp/invoke", s.Invoke)
	r.GET("/journal", s.Journal)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("http: listening", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Invoke(c *gin.Context) {
	var req protocol.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Debug("http: malformed request body", "error", err)
		c.JSON(http.StatusBadRequest, protocol.ParseErrorResponse())
		return
	}

	ctx := mcp.WithRequestID(c.Request.Context(), c.GetString(ctxKeyRequestID))
	resp := s.cfg.Dispatcher.Handle(ctx, &req)

	// Encode before writing so a bad result still gets an envelope.
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		s.log.Error("http: failed to encode response", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, jsonContentType, data)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, tools.Health(s.cfg.Clock))
}

func (s *Server) Journal(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}

	limit := journal.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.cfg.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("http: failed to read journal", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) StatusPage(c *gin.Context) {
	var b strings.Builder

	b.WriteString("sqlgate MCP server\n")
	b.WriteString("Server is running and healthy\n\n")
	b.WriteString("Endpoints:\n")
	b.WriteString("  POST /mcp/invoke  JSON-RPC 2.0 requests (tools.list, schema.describe, sql.execute_readonly)\n")
	b.WriteString("  GET  /health      liveness status\n")
	b.WriteString("  GET  /metrics     prometheus metrics\n")
	if s.cfg.Journal != nil {
		b.WriteString("  GET  /journal     recently handled requests\n")
	}

	b.WriteString("\nTools:\n")
	fmt.Fprintf(&b, "  %s\n", tools.MethodToolsList)
	for _, def := range s.cfg.Registry.List().Tools {
		fmt.Fprintf(&b, "  %s - %s\n", def.Name, def.Description)
	}

	b.WriteString("\nLimits:\n")
	fmt.Fprintf(&b, "  Query timeout: %s\n", s.cfg.QueryTimeout)
	fmt.Fprintf(&b, "  Max row limit: %d rows\n", s.cfg.MaxRowLimit)

	c.String(http.StatusOK, b.String())
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.cfg.Clock.Now()
		c.Next()
		s.log.Debug("http: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", s.cfg.Clock.Since(start),
			"requestID", c.GetString(ctxKeyRequestID))
	}
}
