package health

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zero-day-ai/falkordb-go/types"
)

// DefaultDialTimeout bounds NetworkCheck when the context has no deadline.
const DefaultDialTimeout = 5 * time.Second

// GraphModuleName is the name FalkorDB registers its module under in MODULE LIST.
const GraphModuleName = "graph"

// Pinger is anything that can send PING. *falkordb.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Executor sends an arbitrary command. *falkordb.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, args ...any) (any, error)
}

// PingCheck reports healthy when the server answers PING, with the round
// trip recorded as Latency.
//
// Example:
//
//	status := health.PingCheck(ctx, client)
//	if status.IsUnhealthy() {
//	    log.Println("FalkorDB is unreachable:", status.Details["error"])
//	}
func PingCheck(ctx context.Context, p Pinger) types.HealthStatus {
	if p == nil {
		return types.NewUnhealthyStatus("no client to ping", nil)
	}

	start := time.Now()
	err := p.Ping(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return types.NewUnhealthyStatus(
			"PING failed",
			map[string]any{"error": err.Error()},
		).WithLatency(elapsed)
	}

	return types.NewHealthyStatus("PONG").WithLatency(elapsed)
}

// ModuleVersionCheck verifies that the graph module is loaded and meets a
// minimum version such as "4.2.0". A server without MODULE LIST, or without
// the graph module, is unhealthy. An older module is degraded.
func ModuleVersionCheck(ctx context.Context, e Executor, minVersion string) types.HealthStatus {
	if e == nil {
		return types.NewUnhealthyStatus("no client to query", nil)
	}

	reply, err := e.Execute(ctx, "MODULE", "LIST")
	if err != nil {
		return types.NewUnhealthyStatus(
			"MODULE LIST failed",
			map[string]any{"error": err.Error()},
		)
	}

	version, ok := moduleVersion(reply, GraphModuleName)
	if !ok {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("module '%s' is not loaded", GraphModuleName),
			map[string]any{"module": GraphModuleName},
		)
	}

	if minVersion != "" && !versionMeetsMinimum(version, minVersion) {
		return types.NewDegradedStatus(
			fmt.Sprintf("module '%s' version %s does not meet minimum requirement %s", GraphModuleName, version, minVersion),
			map[string]any{
				"module":      GraphModuleName,
				"version":     version,
				"min_version": minVersion,
			},
		)
	}

	return types.NewHealthyStatus(
		fmt.Sprintf("module '%s' version %s loaded", GraphModuleName, version),
	)
}

// NetworkCheck dials host:port over TCP and closes the connection at once.
// It tells an unreachable server apart from one that accepts connections but
// then fails the handshake or authentication. Without a deadline on ctx the
// dial gives up after DefaultDialTimeout.
func NetworkCheck(ctx context.Context, host string, port int) types.HealthStatus {
	if host == "" {
		return types.NewUnhealthyStatus("host cannot be empty", nil)
	}
	if port <= 0 || port > 65535 {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	elapsed := time.Since(start)
	if err != nil {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("tcp %s unreachable", address),
			map[string]any{"address": address, "error": err.Error()},
		).WithLatency(elapsed)
	}
	_ = conn.Close()

	return types.NewHealthyStatus(fmt.Sprintf("tcp %s reachable", address)).WithLatency(elapsed)
}

// FileCheck verifies that path names readable PEM material, such as the CA
// bundle, certificate or key files of a TLS configuration. Directories and
// files without a PEM block are unhealthy.
func FileCheck(path string) types.HealthStatus {
	if path == "" {
		return types.NewUnhealthyStatus("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		msg := fmt.Sprintf("cannot stat '%s'", path)
		if errors.Is(err, fs.ErrNotExist) {
			msg = fmt.Sprintf("'%s' does not exist", path)
		}
		return types.NewUnhealthyStatus(msg, map[string]any{"path": path, "error": err.Error()})
	}
	if info.IsDir() {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("'%s' is a directory", path),
			map[string]any{"path": path},
		)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("'%s' is not readable", path),
			map[string]any{"path": path, "error": err.Error()},
		)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("'%s' contains no PEM data", path),
			map[string]any{"path": path, "size": len(data)},
		)
	}

	return types.NewHealthyStatus(fmt.Sprintf("'%s' holds %s", path, block.Type))
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
//
// Example:
//
//	status := health.Combine(
//	    health.PingCheck(ctx, client),
//	    health.ModuleVersionCheck(ctx, client, "4.0.0"),
//	    health.FileCheck("/etc/falkordb/ca.pem"),
//	)
func Combine(checks ...types.HealthStatus) types.HealthStatus {
	if len(checks) == 0 {
		return types.NewHealthyStatus("no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case types.StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, msg)
		case types.StatusDegraded:
			degradedChecks = append(degradedChecks, msg)
		case types.StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthyChecks),
				"degraded":      len(degradedChecks),
				"healthy":       healthyCount,
				"failed_checks": unhealthyChecks,
			},
		)
	}

	if len(degradedChecks) > 0 {
		return types.NewDegradedStatus(
			fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		)
	}

	return types.NewHealthyStatus(
		fmt.Sprintf("all %d check(s) passed", len(checks)),
	)
}

// moduleVersion finds a module in a MODULE LIST reply and returns its
// version as "major.minor.patch". RESP2 entries are flat field/value arrays,
// RESP3 entries are maps.
func moduleVersion(reply any, name string) (string, bool) {
	modules, ok := reply.([]any)
	if !ok {
		return "", false
	}

	for _, entry := range modules {
		fields := moduleFields(entry)
		if text(fields["name"]) != name {
			continue
		}
		ver, ok := fields["ver"].(int64)
		if !ok {
			return "", false
		}
		return formatModuleVersion(ver), true
	}
	return "", false
}

func moduleFields(entry any) map[string]any {
	fields := make(map[string]any)
	switch e := entry.(type) {
	case []any:
		for i := 0; i+1 < len(e); i += 2 {
			fields[text(e[i])] = e[i+1]
		}
	case map[any]any:
		for k, v := range e {
			fields[text(k)] = v
		}
	}
	return fields
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

// formatModuleVersion expands the integer version modules report
// (major*10000 + minor*100 + patch).
func formatModuleVersion(v int64) string {
	return fmt.Sprintf("%d.%d.%d", v/10000, v/100%100, v%100)
}

// versionMeetsMinimum performs basic semantic version comparison.
// Returns true if version >= minVersion.
func versionMeetsMinimum(version, minVersion string) bool {
	vParts := strings.Split(version, ".")
	minParts := strings.Split(minVersion, ".")

	maxLen := max(len(vParts), len(minParts))

	for i := 0; i < maxLen; i++ {
		vPart := 0
		minPart := 0

		if i < len(vParts) {
			vPart, _ = strconv.Atoi(strings.TrimSpace(vParts[i]))
		}
		if i < len(minParts) {
			minPart, _ = strconv.Atoi(strings.TrimSpace(minParts[i]))
		}

		if vPart > minPart {
			return true
		} else if vPart < minPart {
			return false
		}
	}

	return true
}
