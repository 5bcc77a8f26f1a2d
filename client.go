package falkordb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/zero-day-ai/falkordb-go/health"
	"github.com/zero-day-ai/falkordb-go/types"
)

// Mode is the server topology a Client talks to.
type Mode string

// Topologies reported by Client.Mode.
const (
	ModeStandalone Mode = "standalone"
	ModeCluster    Mode = "cluster"
	ModeSentinel   Mode = "sentinel"
)

// Client holds a FalkorDB connection.
//
// Construction maps Config onto go-redis options and connects eagerly, so a
// Client returned without error has completed at least one round trip.
// Pooling, retries, TLS and cluster routing are all handled by go-redis.
// A Client is safe for concurrent use.
type Client struct {
	mu   sync.RWMutex
	conn redis.UniversalClient
	mode Mode

	decoder *responseDecoder
	inst    *instrumentation
	logger  *slog.Logger

	// owned is false when the connection was supplied through Config.Conn.
	owned  bool
	closed atomic.Bool
}

// New creates a client from cfg and connects to the server.
//
// Zero-valued fields of cfg take their defaults (see Config). Errors
// reaching the server are returned wrapped in ErrConnectionFailed with the
// go-redis error kept in the chain.
func New(cfg Config, opts ...Option) (*Client, error) {
	return NewWithContext(context.Background(), cfg, opts...)
}

// NewWithContext is New with a context bounding the eager connection,
// startup-node discovery and topology detection.
func NewWithContext(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	const op = "Client.New"

	cfg.applyDefaults()
	o := newClientOptions(opts)

	decoder, err := newResponseDecoder(&cfg)
	if err != nil {
		return nil, newError(op, KindConfiguration, err)
	}

	inst, err := newInstrumentation(o, cfg.EventListener)
	if err != nil {
		return nil, newError(op, KindConfiguration, err)
	}

	c := &Client{
		decoder: decoder,
		inst:    inst,
		logger:  o.logger,
	}
	cfg.logIgnored(ctx, c.logger)

	if cfg.Conn != nil {
		c.conn = cfg.Conn
		c.mode = modeOf(cfg.Conn)
		if err := c.conn.Ping(ctx).Err(); err != nil {
			return nil, newError(op, KindNetwork, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		}
		c.logger.DebugContext(ctx, "using supplied connection", "mode", c.mode)
		return c, nil
	}

	b, err := newConnBuilder(&cfg, inst)
	if err != nil {
		return nil, newError(op, KindConfiguration, err)
	}

	if cfg.Discovery != nil && len(cfg.StartupNodes) == 0 {
		nodes, err := cfg.Discovery.StartupNodes(ctx)
		if err != nil {
			return nil, newError(op, KindNetwork, fmt.Errorf("%w: %w", ErrNoStartupNodes, err))
		}
		if len(nodes) == 0 {
			return nil, newError(op, KindConfiguration, ErrNoStartupNodes)
		}
		cfg.StartupNodes = nodes
		c.logger.DebugContext(ctx, "resolved startup nodes", "count", len(nodes))
	}

	c.owned = true
	if len(cfg.StartupNodes) > 0 {
		addrs := make([]string, len(cfg.StartupNodes))
		for i, n := range cfg.StartupNodes {
			addrs[i] = n.String()
		}
		c.conn, c.mode = b.cluster(addrs), ModeCluster
	} else {
		c.conn, c.mode = b.standalone(), ModeStandalone
	}

	if err := c.conn.Ping(ctx).Err(); err != nil {
		_ = c.conn.Close()
		return nil, newError(op, KindNetwork, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}
	c.logger.DebugContext(ctx, "connected", "mode", c.mode)

	if c.mode == ModeStandalone && cfg.UnixSocketPath == "" {
		if err := c.detectTopology(ctx, &cfg, b); err != nil {
			_ = c.conn.Close()
			return nil, newError(op, KindNetwork, err)
		}
	}

	if c.mode == ModeCluster && cfg.RequireFullCoverage {
		if err := checkCoverage(ctx, c.conn); err != nil {
			_ = c.conn.Close()
			return nil, newError(op, KindConfiguration, err)
		}
	}

	return c, nil
}

// FromURL creates a client from a connection URL. See ConfigFromURL for the
// accepted format.
func FromURL(rawURL string, opts ...Option) (*Client, error) {
	cfg, err := ConfigFromURL(rawURL)
	if err != nil {
		return nil, newError("Client.FromURL", KindConfiguration, err)
	}
	return New(cfg, opts...)
}

// Conn returns the underlying go-redis connection. It is a *redis.Client
// for standalone and sentinel topologies and a *redis.ClusterClient for clusters.
func (c *Client) Conn() redis.UniversalClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Mode returns the detected server topology.
func (c *Client) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Execute sends an arbitrary command and returns its reply with the
// configured response decoding applied. A nil reply yields (nil, nil).
func (c *Client) Execute(ctx context.Context, args ...any) (any, error) {
	return c.do(ctx, "Client.Execute", args...)
}

func (c *Client) do(ctx context.Context, op string, args ...any) (any, error) {
	if c.closed.Load() {
		return nil, newError(op, KindConfiguration, ErrClientClosed)
	}

	reply, err := c.Conn().Do(ctx, args...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, newError(op, errorKind(err), err)
	}

	decoded, err := c.decoder.decode(reply)
	if err != nil {
		return nil, newError(op, KindDecode, err)
	}
	return decoded, nil
}

// Ping sends PING to the server.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return newError("Client.Ping", KindConfiguration, ErrClientClosed)
	}
	if err := c.Conn().Ping(ctx).Err(); err != nil {
		return newError("Client.Ping", errorKind(err), err)
	}
	return nil
}

// Health reports whether the server answers PING.
func (c *Client) Health(ctx context.Context) types.HealthStatus {
	return health.PingCheck(ctx, c)
}

// Close releases the connection pool. A connection supplied through
// Config.Conn is left open. Close is idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if !c.owned {
		return nil
	}
	return c.Conn().Close()
}

// errorKind separates server replies from transport failures.
func errorKind(err error) string {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return KindCommand
	}
	return KindNetwork
}

func modeOf(conn redis.UniversalClient) Mode {
	if _, ok := conn.(*redis.ClusterClient); ok {
		return ModeCluster
	}
	return ModeStandalone
}
