// Package cli implements the falkordb-cli commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zero-day-ai/falkordb-go"
)

const rootLongDesc string = `falkordb-cli talks to a FalkorDB server.

Connection settings come from, in order of precedence:
  1. flags
  2. FALKORDB_* environment variables (FALKORDB_HOST, FALKORDB_PASSWORD, ...)
  3. the YAML file given with --config
  4. defaults (localhost:6379)

Examples:
  falkordb-cli ping
  falkordb-cli --url falkor://:secret@db.internal:6379 graphs
  falkordb-cli query social "MATCH (n) RETURN count(n)"`

const rootShortDesc string = "FalkorDB command line client"

// connection flags shared by every subcommand.
var connectionKeys = []string{
	"config", "url", "host", "port", "username", "password", "db",
	"tls", "tls-ca-cert", "protocol", "socket-timeout", "debug",
}

// NewRootCmd builds the command tree. Each call uses its own viper instance.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("FALKORDB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "falkordb-cli",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML connection config file")
	flags.String("url", "", "connection URL (falkor://, falkors://, redis://, rediss://, unix://)")
	flags.String("host", falkordb.DefaultHost, "server host")
	flags.Int("port", falkordb.DefaultPort, "server port")
	flags.String("username", "", "ACL username")
	flags.String("password", "", "password")
	flags.Int("db", 0, "database number")
	flags.Bool("tls", false, "connect with TLS")
	flags.String("tls-ca-cert", "", "CA certificate file for TLS")
	flags.Int("protocol", falkordb.DefaultProtocol, "RESP protocol version (2 or 3)")
	flags.Duration("socket-timeout", 0, "read/write timeout (0 disables)")
	flags.BoolP("debug", "d", false, "enable debug logging")

	for _, key := range connectionKeys {
		_ = v.BindPFlag(key, flags.Lookup(key))
	}

	cmd.AddCommand(
		newPingCmd(v),
		newQueryCmd(v),
		newGraphsCmd(v),
		newDeleteCmd(v),
		newHealthCmd(v),
	)

	return cmd
}

// newLogger renders slog records through charmbracelet/log on w.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := log.WarnLevel
	if debug {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "falkordb",
	})
	return slog.New(handler)
}

// configFromViper assembles the connection Config. A URL replaces the config
// file; individual flags or env vars override both.
func configFromViper(v *viper.Viper) (falkordb.Config, error) {
	var cfg falkordb.Config

	if path := v.GetString("config"); path != "" {
		loaded, err := falkordb.LoadConfig(path)
		if err != nil {
			return falkordb.Config{}, err
		}
		cfg = loaded
	}

	if url := v.GetString("url"); url != "" {
		parsed, err := falkordb.ConfigFromURL(url)
		if err != nil {
			return falkordb.Config{}, err
		}
		cfg = parsed
	}

	if v.IsSet("host") {
		cfg.Host = v.GetString("host")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("username") {
		cfg.Username = v.GetString("username")
	}
	if v.IsSet("password") {
		cfg.Password = v.GetString("password")
	}
	if v.IsSet("db") {
		cfg.DB = v.GetInt("db")
	}
	if v.IsSet("tls") {
		cfg.TLS.Enabled = v.GetBool("tls")
	}
	if v.IsSet("tls-ca-cert") {
		cfg.TLS.CACerts = v.GetString("tls-ca-cert")
	}
	if v.IsSet("protocol") {
		cfg.Protocol = v.GetInt("protocol")
	}
	if v.IsSet("socket-timeout") {
		cfg.SocketTimeout = v.GetDuration("socket-timeout")
	}

	return cfg, nil
}

// connect builds a client from the merged configuration. Debug logs go to
// the command's error stream.
func connect(cmd *cobra.Command, v *viper.Viper) (*falkordb.Client, error) {
	cfg, err := configFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("loading connection config: %w", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), v.GetBool("debug"))
	client, err := falkordb.NewWithContext(commandContext(cmd), cfg, falkordb.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
