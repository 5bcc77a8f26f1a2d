// Package falkordb is a Go client for FalkorDB, the graph database served
// over the Redis protocol.
//
// The package is a thin layer over go-redis. A Config describes the
// connection (host and port, Unix socket, TLS, credentials, timeouts, pool
// size, retry policy, RESP version, response decoding and cluster options)
// and New maps it onto the matching go-redis client, connects eagerly and
// detects whether the server is standalone, a cluster or a sentinel.
//
// # Connecting
//
//	client, err := falkordb.New(falkordb.Config{
//	    Host:     "falkordb.internal",
//	    Password: os.Getenv("FALKORDB_PASSWORD"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Or from a URL, where falkor:// and falkors:// stand for redis:// and
// rediss:// respectively:
//
//	client, err := falkordb.FromURL("falkors://:secret@falkordb.internal:6379/0")
//
// # Graphs
//
// SelectGraph returns a handle that sends GRAPH.* commands:
//
//	g := client.SelectGraph("social")
//	reply, err := g.Query(ctx, "MATCH (p:Person {name: $name}) RETURN p",
//	    falkordb.WithParams(map[string]any{"name": "Alice"}))
//
// Replies are returned as go-redis produced them, with string values decoded
// according to Config.Encoding and Config.EncodingErrors, or left as []byte
// when Config.RawResponses is set. Node, Edge and Path model graph entities
// and render them as Cypher patterns.
//
// # Errors
//
// Operations return *Error, which carries the failed operation and a kind
// (KindConfiguration, KindNetwork, KindCommand or KindDecode) and wraps the
// underlying error. Sentinels such as ErrConnectionFailed and ErrClientClosed
// are matched with errors.Is.
//
// # Observability
//
// Every command is traced and counted with OpenTelemetry, using the global
// providers unless WithTracerProvider and WithMeterProvider say otherwise.
// Debug logs go to the slog.Logger given with WithLogger, and
// Config.EventListener receives connection and command events.
package falkordb
