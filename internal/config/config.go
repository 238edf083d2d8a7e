package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/alucardeht/sqlgate-mcp/internal/logger"
)

const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"

	EnvPrefix     = "SQLGATE_"
	EnvConfigPath = EnvPrefix + "CONFIG"
)

// Duration decodes TOML strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type DatabaseConfig struct {
	Driver          string   `toml:"driver"`
	DSN             string   `toml:"dsn"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	ConnectTimeout  Duration `toml:"connect_timeout"`
}

type QueryConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	MaxRowLimit    int `toml:"max_row_limit"`
}

func (q QueryConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds) * time.Second
}

type SchemaConfig struct {
	Name        string   `toml:"name"`
	Exclude     []string `toml:"exclude"`
	Concurrency int      `toml:"concurrency"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	SocketPath string `toml:"socket_path"`
	PIDFile    string `toml:"pid_file"`
	Stdio      bool   `toml:"stdio"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	AddSource bool   `toml:"add_source"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Query    QueryConfig    `toml:"query"`
	Schema   SchemaConfig   `toml:"schema"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Journal  JournalConfig  `toml:"journal"`
}

func DataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".sqlgate")
}

func Default() *Config {
	dataDir := DataDir()

	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverPgx,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{30 * time.Minute},
			ConnectTimeout:  Duration{30 * time.Second},
		},
		Query: QueryConfig{
			TimeoutSeconds: 30,
			MaxRowLimit:    1000,
		},
		Schema: SchemaConfig{
			Name:        "public",
			Concurrency: 1,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:5080",
			SocketPath: filepath.Join(dataDir, "sqlgate.sock"),
			PIDFile:    filepath.Join(dataDir, "sqlgate.pid"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: logger.FormatText,
		},
	}
}

// Load resolves the configuration from defaults, an optional TOML file,
// SQLGATE_* environment variables and command-line flags, in increasing
// order of precedence.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	fs := pflag.NewFlagSet("sqlgate", pflag.ContinueOnError)
	flags := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	path := flags.configPath
	if path == "" {
		path, _ = lookupEnv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(lookupEnv); err != nil {
		return nil, err
	}

	flags.apply(fs, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}
	return nil
}

func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	if v, ok := lookupEnv("DATABASE_URL"); ok && c.Database.DSN == "" {
		c.Database.DSN = v
	}
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("SCHEMA", &c.Schema.Name)
	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("SOCKET_PATH", &c.Server.SocketPath)
	str("PID_FILE", &c.Server.PIDFile)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("JOURNAL_PATH", &c.Journal.Path)

	if v, ok := lookupEnv(EnvPrefix + "SCHEMA_EXCLUDE"); ok {
		c.Schema.Exclude = splitList(v)
	}

	for key, dst := range map[string]*int{
		"QUERY_TIMEOUT_SECONDS": &c.Query.TimeoutSeconds,
		"MAX_ROW_LIMIT":         &c.Query.MaxRowLimit,
		"SCHEMA_CONCURRENCY":    &c.Schema.Concurrency,
		"DB_MAX_OPEN_CONNS":     &c.Database.MaxOpenConns,
		"DB_MAX_IDLE_CONNS":     &c.Database.MaxIdleConns,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPgx, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPgx, DriverPostgres, c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database connection limits must not be negative"))
	}
	if c.Query.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("query.timeout_seconds must be greater than 0"))
	}
	if c.Query.MaxRowLimit <= 0 {
		errs = append(errs, errors.New("query.max_row_limit must be greater than 0"))
	}
	if c.Schema.Name == "" {
		errs = append(errs, errors.New("schema.name is required"))
	}
	if c.Schema.Concurrency < 0 {
		errs = append(errs, errors.New("schema.concurrency must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if !logger.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", logger.FormatText, logger.FormatJSON, c.Log.Format))
	}
	if c.Server.ListenAddr == "" && c.Server.SocketPath == "" && !c.Server.Stdio {
		errs = append(errs, errors.New("at least one of server.listen_addr, server.socket_path or server.stdio is required"))
	}

	return errors.Join(errs...)
}

func (c *Config) EnsureDirectories() error {
	for _, path := range []string{c.Server.SocketPath, c.Server.PIDFile, c.Journal.Path} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	return nil
}

// LoggerConfig converts the log section into a logger.Config.
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	if level, err := logger.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format
	cfg.AddSource = c.Log.AddSource
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
