package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/falkordb-go/types"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type executorFunc func(ctx context.Context, args ...any) (any, error)

func (f executorFunc) Execute(ctx context.Context, args ...any) (any, error) { return f(ctx, args...) }

func TestPingCheck(t *testing.T) {
	t.Run("server answers", func(t *testing.T) {
		status := PingCheck(context.Background(), pingerFunc(func(context.Context) error { return nil }))

		assert.True(t, status.IsHealthy())
		assert.Equal(t, "PONG", status.Message)
	})

	t.Run("server unreachable", func(t *testing.T) {
		status := PingCheck(context.Background(), pingerFunc(func(context.Context) error {
			return errors.New("connection refused")
		}))

		assert.True(t, status.IsUnhealthy())
		assert.Equal(t, "connection refused", status.Details["error"])
	})

	t.Run("nil pinger", func(t *testing.T) {
		assert.True(t, PingCheck(context.Background(), nil).IsUnhealthy())
	})
}

func TestModuleVersionCheck(t *testing.T) {
	resp2 := []any{
		[]any{"name", "graph", "ver", int64(41002), "path", "/var/lib/falkordb/falkordb.so", "args", []any{}},
	}
	resp3 := []any{
		map[any]any{"name": "graph", "ver": int64(40800)},
	}

	tests := []struct {
		name       string
		reply      any
		err        error
		minVersion string
		want       string
	}{
		{name: "resp2 reply meets minimum", reply: resp2, minVersion: "4.10.0", want: types.StatusHealthy},
		{name: "resp3 reply meets minimum", reply: resp3, minVersion: "4.8", want: types.StatusHealthy},
		{name: "no minimum", reply: resp3, want: types.StatusHealthy},
		{name: "outdated module", reply: resp3, minVersion: "4.10.0", want: types.StatusDegraded},
		{name: "module missing", reply: []any{[]any{"name", "search", "ver", int64(20800)}}, want: types.StatusUnhealthy},
		{name: "command rejected", err: errors.New("ERR unknown command 'MODULE'"), want: types.StatusUnhealthy},
		{name: "unexpected reply", reply: "OK", want: types.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := executorFunc(func(_ context.Context, args ...any) (any, error) {
				assert.Equal(t, []any{"MODULE", "LIST"}, args)
				return tt.reply, tt.err
			})

			status := ModuleVersionCheck(context.Background(), exec, tt.minVersion)
			assert.Equal(t, tt.want, status.Status, status.Message)
		})
	}
}

func TestFormatModuleVersion(t *testing.T) {
	assert.Equal(t, "4.10.2", formatModuleVersion(41002))
	assert.Equal(t, "2.12.0", formatModuleVersion(21200))
}

func TestNetworkCheck(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	testPort := listener.Addr().(*net.TCPAddr).Port

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	tests := []struct {
		name          string
		host          string
		port          int
		expectHealthy bool
		message       string
	}{
		{name: "listening server", host: "127.0.0.1", port: testPort, expectHealthy: true, message: "reachable"},
		{name: "negative port", host: "127.0.0.1", port: -1, message: "invalid port number"},
		{name: "port too large", host: "127.0.0.1", port: 70000, message: "invalid port number"},
		{name: "empty host", host: "", port: 6379, message: "host cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			status := NetworkCheck(ctx, tt.host, tt.port)
			assert.Equal(t, tt.expectHealthy, status.IsHealthy(), status.Message)
			assert.Contains(t, status.Message, tt.message)
		})
	}
}

func TestNetworkCheckClosedPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	status := NetworkCheck(context.Background(), "127.0.0.1", port)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, fmt.Sprintf("tcp 127.0.0.1:%d unreachable", port), status.Message)
}

func TestFileCheck(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ca.pem")
	block := "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"
	require.NoError(t, os.WriteFile(file, []byte(block), 0o600))
	notPEM := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notPEM, []byte("just text"), 0o600))

	tests := []struct {
		name          string
		path          string
		expectHealthy bool
		message       string
	}{
		{name: "pem file", path: file, expectHealthy: true, message: "CERTIFICATE"},
		{name: "directory", path: dir, message: "is a directory"},
		{name: "no pem block", path: notPEM, message: "no PEM data"},
		{name: "missing file", path: filepath.Join(dir, "missing.pem"), message: "does not exist"},
		{name: "empty path", path: "", message: "cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := FileCheck(tt.path)
			assert.Equal(t, tt.expectHealthy, status.IsHealthy(), status.Message)
			assert.Contains(t, status.Message, tt.message)
		})
	}
}

func TestCombine(t *testing.T) {
	healthy := types.NewHealthyStatus("PONG")
	degraded := types.NewDegradedStatus("module outdated", nil)
	unhealthy := types.NewUnhealthyStatus("PING failed", nil)

	tests := []struct {
		name   string
		checks []types.HealthStatus
		want   string
	}{
		{name: "no checks", want: types.StatusHealthy},
		{name: "all healthy", checks: []types.HealthStatus{healthy, healthy}, want: types.StatusHealthy},
		{name: "one degraded", checks: []types.HealthStatus{healthy, degraded}, want: types.StatusDegraded},
		{name: "unhealthy wins", checks: []types.HealthStatus{degraded, unhealthy, healthy}, want: types.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(tt.checks...).Status)
		})
	}

	combined := Combine(healthy, unhealthy, types.HealthStatus{Status: types.StatusUnhealthy})
	assert.Equal(t, []string{"PING failed", "unnamed check"}, combined.Details["failed_checks"])
}

func TestVersionMeetsMinimum(t *testing.T) {
	tests := []struct {
		version, min string
		want         bool
	}{
		{"4.10.2", "4.10.2", true},
		{"4.10.2", "4.2.0", true},
		{"4.2.0", "4.10.0", false},
		{"4.10", "4.10.1", false},
		{"5", "4.99.99", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, versionMeetsMinimum(tt.version, tt.min), "%s >= %s", tt.version, tt.min)
	}
}
