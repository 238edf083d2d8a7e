package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/alucardeht/sqlgate-mcp/internal/config"
	"github.com/alucardeht/sqlgate-mcp/internal/daemon"
)

const usage = `usage: sqlgate-cli [flags] <command>

commands:
  tools           list the available tools
  schema          describe the database schema
  query <sql>     run a read-only SQL query

flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("sqlgate-cli", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	socketPath := fs.String("socket", config.Default().Server.SocketPath, "daemon socket path")
	timeout := fs.Duration("timeout", time.Minute, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := daemon.Dial(ctx, *socketPath)
	if err != nil {
		return fmt.Errorf("%w (is the sqlgate daemon running?)", err)
	}
	defer client.Close()

	var result any
	switch rest[0] {
	case "tools":
		result, err = client.ListTools(ctx)
	case "schema":
		result, err = client.DescribeSchema(ctx)
	case "query":
		if len(rest) < 2 {
			return errors.New("query requires a SQL statement")
		}
		result, err = client.ExecuteReadOnly(ctx, strings.Join(rest[1:], " "))
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
