package falkordb

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// clusterSlots is the number of hash slots in a FalkorDB cluster.
const clusterSlots = 16384

// connBuilder creates go-redis clients of any topology from one Config, all
// sharing the same TLS setup, handshake and instrumentation.
type connBuilder struct {
	cfg       *Config
	tls       *tlsDialConfig
	inst      *instrumentation
	onConnect func(context.Context, *redis.Conn) error
}

func newConnBuilder(cfg *Config, inst *instrumentation) (*connBuilder, error) {
	tlsConfig, err := cfg.TLS.build(cfg.Host)
	if err != nil {
		return nil, err
	}
	return &connBuilder{
		cfg:       cfg,
		tls:       tlsConfig,
		inst:      inst,
		onConnect: cfg.onConnect(),
	}, nil
}

func (b *connBuilder) standalone() *redis.Client {
	rdb := redis.NewClient(b.cfg.redisOptions(b.tls, b.onConnect))
	rdb.AddHook(b.inst)
	return rdb
}

func (b *connBuilder) cluster(addrs []string) *redis.ClusterClient {
	cc := redis.NewClusterClient(b.cfg.clusterOptions(addrs, b.tls, b.onConnect))
	cc.AddHook(b.inst)
	cc.OnNewNode(func(node *redis.Client) {
		node.AddHook(dialHook{b.inst})
	})
	return cc
}

func (b *connBuilder) failover(master string, sentinels []string) *redis.Client {
	rdb := redis.NewFailoverClient(b.cfg.failoverOptions(master, sentinels, b.tls, b.onConnect))
	rdb.AddHook(b.inst)
	return rdb
}

// onConnect identifies every new connection with CLIENT SETINFO. LIB-NAME and
// LIB-VER are sent separately, and errors are ignored because servers
// predating the command reject it. go-redis's own identity handshake is
// disabled in every option set so these are the values the server records.
func (c *Config) onConnect() func(context.Context, *redis.Conn) error {
	libName, libVersion := c.LibName, c.LibVersion
	return func(ctx context.Context, cn *redis.Conn) error {
		_ = cn.ClientSetInfo(ctx, redis.WithLibraryName(libName)).Err()
		_ = cn.ClientSetInfo(ctx, redis.WithLibraryVersion(libVersion)).Err()
		return nil
	}
}

// logIgnored records options that are accepted for compatibility but have no
// go-redis counterpart.
func (c *Config) logIgnored(ctx context.Context, logger *slog.Logger) {
	if c.StaticStartupNodes {
		logger.DebugContext(ctx, "static_startup_nodes has no effect; cluster nodes are always learned from CLUSTER SLOTS")
	}
	if c.ReinitializeSteps != DefaultReinitializeSteps {
		logger.DebugContext(ctx, "reinitialize_steps has no effect; the slot table is reloaded on every MOVED reply",
			"reinitialize_steps", c.ReinitializeSteps)
	}
}

// detectTopology asks the server which mode it runs in and swaps the
// standalone connection for a cluster or failover client when needed. A
// server that cannot answer INFO server is treated as standalone.
func (c *Client) detectTopology(ctx context.Context, cfg *Config, b *connBuilder) error {
	info, err := c.conn.Info(ctx, "server").Result()
	if err != nil {
		c.logger.DebugContext(ctx, "topology detection skipped", "error", err)
		return nil
	}

	switch parseRedisMode(info) {
	case "cluster":
		c.logger.DebugContext(ctx, "server runs in cluster mode")
		return c.swap(ctx, b.cluster([]string{cfg.Addr()}), ModeCluster)

	case "sentinel":
		reply, err := c.conn.Do(ctx, "SENTINEL", "MASTERS").Result()
		if err != nil {
			return fmt.Errorf("failed to list sentinel masters: %w", err)
		}
		master, ok := firstMasterName(reply)
		if !ok {
			return fmt.Errorf("%w: sentinel monitors no masters", ErrConnectionFailed)
		}
		c.logger.DebugContext(ctx, "server is a sentinel", "master", master)
		return c.swap(ctx, b.failover(master, []string{cfg.Addr()}), ModeSentinel)

	default:
		return nil
	}
}

// swap replaces the standalone connection after the new one answers PING.
func (c *Client) swap(ctx context.Context, next redis.UniversalClient, mode Mode) error {
	if err := next.Ping(ctx).Err(); err != nil {
		_ = next.Close()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	prev := c.conn
	c.conn, c.mode = next, mode
	c.mu.Unlock()
	_ = prev.Close()

	c.inst.emit(ctx, Event{Kind: EventTopologyChanged, Mode: mode})
	return nil
}

// parseRedisMode extracts redis_mode from an INFO reply.
func parseRedisMode(info string) string {
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "redis_mode:"); ok {
			return strings.TrimSpace(value)
		}
	}
	return "standalone"
}

// firstMasterName reads the name of the first master from a SENTINEL MASTERS
// reply. RESP2 returns flat field/value arrays, RESP3 returns maps.
func firstMasterName(reply any) (string, bool) {
	masters, ok := reply.([]any)
	if !ok || len(masters) == 0 {
		return "", false
	}

	switch m := masters[0].(type) {
	case []any:
		for i := 0; i+1 < len(m); i += 2 {
			if k, _ := m[i].(string); k == "name" {
				name, ok := m[i+1].(string)
				return name, ok
			}
		}
	case map[any]any:
		name, ok := m["name"].(string)
		return name, ok
	case map[string]any:
		name, ok := m["name"].(string)
		return name, ok
	}
	return "", false
}

// checkCoverage fails unless the cluster serves every hash slot.
func checkCoverage(ctx context.Context, conn redis.UniversalClient) error {
	slots, err := conn.ClusterSlots(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to read cluster slots: %w", err)
	}
	if covered := coveredSlots(slots); covered < clusterSlots {
		return fmt.Errorf("%w: %d of %d slots served", ErrIncompleteCoverage, covered, clusterSlots)
	}
	return nil
}

func coveredSlots(slots []redis.ClusterSlot) int {
	var seen [clusterSlots]bool
	covered := 0
	for _, s := range slots {
		for i := max(s.Start, 0); i <= s.End && i < clusterSlots; i++ {
			if !seen[i] {
				seen[i] = true
				covered++
			}
		}
	}
	return covered
}
