package config

import (
	"github.com/spf13/pflag"
)

type flagValues struct {
	configPath  string
	driver      string
	dsn         string
	timeout     int
	maxRows     int
	schema      string
	exclude     []string
	concurrency int
	listenAddr  string
	socketPath  string
	pidFile     string
	stdio       bool
	logLevel    string
	logFormat   string
	verbose     bool
	journalPath string
}

func registerFlags(fs *pflag.FlagSet) *flagValues {
	def := Default()
	f := &flagValues{}

	fs.StringVar(&f.configPath, "config", "", "path to a TOML config file (or "+EnvConfigPath+")")
	fs.StringVar(&f.driver, "driver", def.Database.Driver, "database driver (pgx, postgres)")
	fs.StringVar(&f.dsn, "dsn", "", "database connection string")
	fs.IntVar(&f.timeout, "query-timeout", def.Query.TimeoutSeconds, "query timeout in seconds")
	fs.IntVar(&f.maxRows, "max-rows", def.Query.MaxRowLimit, "maximum rows returned per query")
	fs.StringVar(&f.schema, "schema", def.Schema.Name, "database schema to describe")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "table name globs to leave out of schema.describe")
	fs.IntVar(&f.concurrency, "schema-concurrency", def.Schema.Concurrency, "parallel table fetches during schema.describe")
	fs.StringVar(&f.listenAddr, "listen-addr", def.Server.ListenAddr, "HTTP listen address (empty disables)")
	fs.StringVar(&f.socketPath, "socket", def.Server.SocketPath, "unix socket path (empty disables)")
	fs.StringVar(&f.pidFile, "pid-file", def.Server.PIDFile, "pid file path (empty disables)")
	fs.BoolVar(&f.stdio, "stdio", false, "serve newline-delimited JSON-RPC on stdin/stdout")
	fs.StringVar(&f.logLevel, "log-level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", def.Log.Format, "log format (text, json)")
	fs.BoolVar(&f.verbose, "verbose", false, "enable verbose (debug) logging")
	fs.StringVar(&f.journalPath, "journal", "", "sqlite request journal path (empty disables)")

	return f
}

// apply copies only the flags that were set explicitly, so file and
// environment values survive unless overridden on the command line.
func (f *flagValues) apply(fs *pflag.FlagSet, cfg *Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}

	set("driver", func() { cfg.Database.Driver = f.driver })
	set("dsn", func() { cfg.Database.DSN = f.dsn })
	set("query-timeout", func() { cfg.Query.TimeoutSeconds = f.timeout })
	set("max-rows", func() { cfg.Query.MaxRowLimit = f.maxRows })
	set("schema", func() { cfg.Schema.Name = f.schema })
	set("exclude", func() { cfg.Schema.Exclude = f.exclude })
	set("schema-concurrency", func() { cfg.Schema.Concurrency = f.concurrency })
	set("listen-addr", func() { cfg.Server.ListenAddr = f.listenAddr })
	set("socket", func() { cfg.Server.SocketPath = f.socketPath })
	set("pid-file", func() { cfg.Server.PIDFile = f.pidFile })
	set("stdio", func() { cfg.Server.Stdio = f.stdio })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-format", func() { cfg.Log.Format = f.logFormat })
	set("journal", func() { cfg.Journal.Path = f.journalPath })

	if f.verbose {
		cfg.Log.Level = "debug"
	}
}
