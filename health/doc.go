// Package health provides health checks for FalkorDB servers.
//
// Checks return a types.HealthStatus and never fail with an error; a check
// that cannot complete reports itself unhealthy instead.
//
//   - PingCheck: the server answers PING
//   - ModuleVersionCheck: the graph module is loaded and recent enough
//   - NetworkCheck: a host:port accepts TCP connections
//   - FileCheck: a file such as a CA certificate exists
//   - Combine: aggregate several checks into one status
//
// # Usage Example
//
//	status := health.Combine(
//	    health.PingCheck(ctx, client),
//	    health.ModuleVersionCheck(ctx, client, "4.0.0"),
//	)
//	if !status.IsHealthy() {
//	    log.Println(status)
//	}
package health
