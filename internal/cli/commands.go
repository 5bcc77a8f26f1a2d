package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zero-day-ai/falkordb-go"
	"github.com/zero-day-ai/falkordb-go/health"
	"github.com/zero-day-ai/falkordb-go/types"
)

func newPingCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(cmd, v)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			if err := client.Ping(commandContext(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PONG (%s, %s)\n", client.Mode(), time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
}

const queryLongDesc string = `Run a Cypher query against a graph.

Parameters are passed with --param name=value. Values that parse as
integers, floats or booleans are sent as such; everything else is a string.

Examples:
  falkordb-cli query social "CREATE (:Person {name: 'Ada'})"
  falkordb-cli query social "MATCH (p:Person {name: $name}) RETURN p" --param name=Ada --ro`

func newQueryCmd(v *viper.Viper) *cobra.Command {
	var (
		readOnly bool
		timeout  time.Duration
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "query <graph> <cypher>",
		Short: "Run a Cypher query",
		Long:  queryLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound, err := parseParams(params)
			if err != nil {
				return err
			}

			client, err := connect(cmd, v)
			if err != nil {
				return err
			}
			defer client.Close()

			graph := client.SelectGraph(args[0])
			opts := []falkordb.QueryOption{falkordb.WithParams(bound)}
			if timeout > 0 {
				opts = append(opts, falkordb.WithQueryTimeout(timeout))
			}

			run := graph.Query
			if readOnly {
				run = graph.ROQuery
			}

			reply, err := run(commandContext(cmd), args[1], opts...)
			if err != nil {
				return err
			}
			printReply(cmd.OutOrStdout(), reply, 0)
			return nil
		},
	}

	cmd.Flags().BoolVar(&readOnly, "ro", false, "run with GRAPH.RO_QUERY")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "server-side query timeout")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as name=value (repeatable)")
	return cmd
}

func newGraphsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "graphs",
		Short: "List graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(cmd, v)
			if err != nil {
				return err
			}
			defer client.Close()

			names, err := client.ListGraphs(commandContext(cmd))
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <graph>",
		Short: "Delete a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd, v)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.SelectGraph(args[0]).Delete(commandContext(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newHealthCmd(v *viper.Viper) *cobra.Command {
	var minModule string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report server health",
		Long: `Report server health: PING, the graph module version and, when TLS
files are configured, that they hold PEM data. When the connection fails a TCP
probe tells an unreachable server from a failed handshake. Exits non-zero when unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromViper(v)
			if err != nil {
				return err
			}

			var checks []types.HealthStatus
			for _, path := range []string{cfg.TLS.CACerts, cfg.TLS.CertFile, cfg.TLS.KeyFile} {
				if path != "" {
					checks = append(checks, health.FileCheck(path))
				}
			}

			client, err := connect(cmd, v)
			if err != nil {
				checks = append(checks, connectFailure(cmd, cfg, err)...)
			} else {
				defer client.Close()
				ctx := commandContext(cmd)
				checks = append(checks,
					client.Health(ctx),
					health.ModuleVersionCheck(ctx, client, minModule),
				)
			}

			out := cmd.OutOrStdout()
			for _, check := range checks {
				fmt.Fprintf(out, "  %s\n", check)
			}

			status := health.Combine(checks...)
			fmt.Fprintln(out, status)
			if status.IsUnhealthy() {
				return fmt.Errorf("server is unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&minModule, "min-module-version", "", "minimum graph module version, e.g. 4.0.0")
	return cmd
}

// connectFailure explains a failed connect. A TCP probe separates a server
// that cannot be reached from one that failed the handshake or AUTH.
func connectFailure(cmd *cobra.Command, cfg falkordb.Config, err error) []types.HealthStatus {
	failed := types.NewUnhealthyStatus("connection failed", map[string]any{"error": err.Error()})
	if cfg.UnixSocketPath != "" {
		return []types.HealthStatus{failed}
	}

	defaults := falkordb.DefaultConfig()
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = defaults.Host
	}
	if port == 0 {
		port = defaults.Port
	}

	probe := health.NetworkCheck(commandContext(cmd), host, port)
	if probe.IsHealthy() {
		failed = types.NewUnhealthyStatus(
			"connection failed after tcp connect (handshake or auth)",
			map[string]any{"error": err.Error()},
		)
	}
	return []types.HealthStatus{probe, failed}
}

// parseParams turns name=value pairs into query parameters.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected name=value", pair)
		}
		params[name] = parseParamValue(value)
	}
	return params, nil
}

func parseParamValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// printReply writes a nested reply as an indented tree.
func printReply(w io.Writer, reply any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch r := reply.(type) {
	case []any:
		if len(r) == 0 {
			fmt.Fprintf(w, "%s(empty)\n", indent)
			return
		}
		for i, item := range r {
			if nested, ok := item.([]any); ok {
				fmt.Fprintf(w, "%s%d)\n", indent, i+1)
				printReply(w, nested, depth+1)
				continue
			}
			fmt.Fprintf(w, "%s%d) %s\n", indent, i+1, scalar(item))
		}
	default:
		fmt.Fprintf(w, "%s%s\n", indent, scalar(r))
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "(nil)"
	case string:
		return strconv.Quote(t)
	case []byte:
		return strconv.Quote(string(t))
	default:
		return fmt.Sprint(t)
	}
}
