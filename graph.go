package falkordb

import (
	"context"
	"fmt"
	"time"
)

// Graph is a handle to a named graph. It holds no state beyond the name, so
// handles are cheap and may be created per request.
//
// Replies are returned as go-redis produced them, after response decoding.
// Interpreting result sets is left to the caller.
type Graph struct {
	client *Client
	name   string
}

// SelectGraph returns a handle to the named graph. The graph is created by
// the server on the first write.
func (c *Client) SelectGraph(name string) *Graph {
	return &Graph{client: c, name: name}
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// QueryOption configures a single query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	params  map[string]any
	timeout time.Duration
	compact bool
}

// WithParams binds query parameters. They are sent as a CYPHER header in
// front of the query text.
func WithParams(params map[string]any) QueryOption {
	return func(o *queryOptions) {
		o.params = params
	}
}

// WithQueryTimeout asks the server to abort the query after d. It is sent as
// TIMEOUT in milliseconds.
func WithQueryTimeout(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.timeout = d
	}
}

// WithCompact requests the compact result format, in which labels,
// relationship types and property keys are returned as ids.
func WithCompact() QueryOption {
	return func(o *queryOptions) {
		o.compact = true
	}
}

func (g *Graph) queryArgs(command, query string, opts []QueryOption) []any {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	args := []any{command, g.name, BuildParamsHeader(o.params) + query}
	if o.timeout > 0 {
		args = append(args, "TIMEOUT", o.timeout.Milliseconds())
	}
	if o.compact {
		args = append(args, "--compact")
	}
	return args
}

// Query runs a Cypher query with GRAPH.QUERY.
func (g *Graph) Query(ctx context.Context, query string, opts ...QueryOption) (any, error) {
	return g.client.do(ctx, "Graph.Query", g.queryArgs("GRAPH.QUERY", query, opts)...)
}

// ROQuery runs a read-only Cypher query with GRAPH.RO_QUERY. Read-only
// queries may be served by replicas.
func (g *Graph) ROQuery(ctx context.Context, query string, opts ...QueryOption) (any, error) {
	return g.client.do(ctx, "Graph.ROQuery", g.queryArgs("GRAPH.RO_QUERY", query, opts)...)
}

// Explain returns the execution plan of a query without running it, one
// operation per line.
func (g *Graph) Explain(ctx context.Context, query string, opts ...QueryOption) ([]string, error) {
	reply, err := g.client.do(ctx, "Graph.Explain", g.queryArgs("GRAPH.EXPLAIN", query, opts)[:3]...)
	if err != nil {
		return nil, err
	}
	return stringList("Graph.Explain", reply)
}

// Profile runs a query and returns its execution plan annotated with
// per-operation record counts and timings.
func (g *Graph) Profile(ctx context.Context, query string, opts ...QueryOption) ([]string, error) {
	reply, err := g.client.do(ctx, "Graph.Profile", g.queryArgs("GRAPH.PROFILE", query, opts)...)
	if err != nil {
		return nil, err
	}
	return stringList("Graph.Profile", reply)
}

// Delete removes the graph and all its entities.
func (g *Graph) Delete(ctx context.Context) error {
	_, err := g.client.do(ctx, "Graph.Delete", "GRAPH.DELETE", g.name)
	return err
}

// Copy duplicates the graph under a new name and returns a handle to it.
func (g *Graph) Copy(ctx context.Context, dest string) (*Graph, error) {
	if _, err := g.client.do(ctx, "Graph.Copy", "GRAPH.COPY", g.name, dest); err != nil {
		return nil, err
	}
	return g.client.SelectGraph(dest), nil
}

// SlowLogEntry is one record of GRAPH.SLOWLOG.
type SlowLogEntry struct {
	Timestamp time.Time
	Command   string
	Query     string
	Duration  time.Duration
}

// SlowLog returns the slowest recent queries run against the graph.
func (g *Graph) SlowLog(ctx context.Context) ([]SlowLogEntry, error) {
	const op = "Graph.SlowLog"

	reply, err := g.client.do(ctx, op, "GRAPH.SLOWLOG", g.name)
	if err != nil {
		return nil, err
	}

	rows, ok := reply.([]any)
	if !ok && reply != nil {
		return nil, newError(op, KindDecode, fmt.Errorf("unexpected reply type %T", reply))
	}

	entries := make([]SlowLogEntry, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.([]any)
		if !ok || len(fields) < 4 {
			return nil, newError(op, KindDecode, fmt.Errorf("malformed slowlog entry %v", row))
		}

		var ts int64
		var ms float64
		if _, err := fmt.Sscan(replyText(fields[0]), &ts); err != nil {
			return nil, newError(op, KindDecode, fmt.Errorf("invalid slowlog timestamp: %w", err))
		}
		if _, err := fmt.Sscan(replyText(fields[3]), &ms); err != nil {
			return nil, newError(op, KindDecode, fmt.Errorf("invalid slowlog duration: %w", err))
		}

		entries = append(entries, SlowLogEntry{
			Timestamp: time.Unix(ts, 0),
			Command:   replyText(fields[1]),
			Query:     replyText(fields[2]),
			Duration:  time.Duration(ms * float64(time.Millisecond)),
		})
	}
	return entries, nil
}

// ListGraphs returns the names of all graphs on the server.
func (c *Client) ListGraphs(ctx context.Context) ([]string, error) {
	reply, err := c.do(ctx, "Client.ListGraphs", "GRAPH.LIST")
	if err != nil {
		return nil, err
	}
	return stringList("Client.ListGraphs", reply)
}

// ConfigGet reads a module configuration value with GRAPH.CONFIG GET. The
// reply is a name/value pair, or a list of pairs when name is "*".
func (c *Client) ConfigGet(ctx context.Context, name string) (any, error) {
	return c.do(ctx, "Client.ConfigGet", "GRAPH.CONFIG", "GET", name)
}

// ConfigSet changes a module configuration value with GRAPH.CONFIG SET.
func (c *Client) ConfigSet(ctx context.Context, name string, value any) error {
	_, err := c.do(ctx, "Client.ConfigSet", "GRAPH.CONFIG", "SET", name, value)
	return err
}

// stringList converts an array reply to strings, accepting both decoded and
// raw elements.
func stringList(op string, reply any) ([]string, error) {
	if reply == nil {
		return []string{}, nil
	}
	items, ok := reply.([]any)
	if !ok {
		return nil, newError(op, KindDecode, fmt.Errorf("unexpected reply type %T", reply))
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = replyText(item)
	}
	return out, nil
}

func replyText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
