// Package types holds values shared between the falkordb client and its
// health package.
//
//	status := types.NewHealthyStatus("PONG")
//	if status.IsHealthy() {
//	    // server is reachable
//	}
//
//	degraded := types.NewDegradedStatus("graph module is outdated", map[string]any{
//	    "version": "2.12.0",
//	})
package types
