// Package falkordbtest runs an in-process server that answers the FalkorDB
// graph commands well enough to test clients against. It is miniredis with
// GRAPH.* and MODULE LIST registered on top; queries are recorded, not run.
package falkordbtest

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/alicebob/miniredis/v2/server"
)

// ModuleVersion is the graph module version reported by MODULE LIST (4.10.2).
const ModuleVersion = 41002

// SlowLogTimestamp is the Unix time reported for every GRAPH.SLOWLOG entry.
const SlowLogTimestamp = 1700000000

// Server is a miniredis instance that understands graph commands.
type Server struct {
	*miniredis.Miniredis

	mu      sync.Mutex
	graphs  map[string][]string // graph name -> queries run against it
	config  map[string]int
	calls   map[string][][]string
	failing map[string]string
}

// NewServer starts a server that is shut down when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		Miniredis: miniredis.RunT(t),
		graphs:    make(map[string][]string),
		config:    map[string]int{"TIMEOUT": 0, "RESULTSET_SIZE": -1, "QUERY_MEM_CAPACITY": 0},
		calls:     make(map[string][][]string),
		failing:   make(map[string]string),
	}

	handlers := map[string]server.Cmd{
		"GRAPH.QUERY":    s.query,
		"GRAPH.RO_QUERY": s.query,
		"GRAPH.EXPLAIN":  s.explain,
		"GRAPH.PROFILE":  s.profile,
		"GRAPH.DELETE":   s.delete,
		"GRAPH.COPY":     s.copy,
		"GRAPH.LIST":     s.list,
		"GRAPH.SLOWLOG":  s.slowlog,
		"GRAPH.CONFIG":   s.configCmd,
		"MODULE":         s.module,
	}
	for name, h := range handlers {
		if err := s.Server().Register(name, s.recorded(name, h)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return s
}

// AddGraph creates an empty graph.
func (s *Server) AddGraph(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[name]; !ok {
		s.graphs[name] = nil
	}
}

// HasGraph reports whether the graph exists.
func (s *Server) HasGraph(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.graphs[name]
	return ok
}

// Calls returns the arguments of every call of a command, excluding the
// command name itself.
func (s *Server) Calls(cmd string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls[strings.ToUpper(cmd)])
}

// LastCall returns the arguments of the most recent call of cmd.
func (s *Server) LastCall(cmd string) []string {
	calls := s.Calls(cmd)
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// FailWith makes every following call of cmd reply with the given error.
func (s *Server) FailWith(cmd, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[strings.ToUpper(cmd)] = msg
}

func (s *Server) recorded(name string, h server.Cmd) server.Cmd {
	return func(c *server.Peer, cmd string, args []string) {
		s.mu.Lock()
		s.calls[name] = append(s.calls[name], slices.Clone(args))
		msg, failing := s.failing[name]
		s.mu.Unlock()

		if failing {
			c.WriteError(msg)
			return
		}
		h(c, cmd, args)
	}
}

func (s *Server) query(c *server.Peer, cmd string, args []string) {
	if len(args) < 2 {
		c.WriteError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd)))
		return
	}
	graph, query := args[0], args[1]

	if strings.EqualFold(cmd, "GRAPH.RO_QUERY") && strings.Contains(strings.ToUpper(query), "CREATE") {
		c.WriteError("graph.RO_QUERY is to be executed only on read-only queries")
		return
	}

	s.mu.Lock()
	s.graphs[graph] = append(s.graphs[graph], query)
	s.mu.Unlock()

	// [header, rows, statistics] echoing the query text back.
	c.WriteLen(3)
	c.WriteLen(1)
	c.WriteBulk("query")
	c.WriteLen(1)
	c.WriteLen(1)
	c.WriteBulk(query)
	c.WriteLen(1)
	c.WriteBulk("Query internal execution time: 0.010000 milliseconds")
}

func (s *Server) explain(c *server.Peer, _ string, args []string) {
	if len(args) != 2 {
		c.WriteError("ERR wrong number of arguments for 'graph.explain' command")
		return
	}
	plan := []string{"Results", "    Project", "        All Node Scan | (n)"}
	c.WriteLen(len(plan))
	for _, line := range plan {
		c.WriteBulk(line)
	}
}

func (s *Server) profile(c *server.Peer, _ string, args []string) {
	if len(args) < 2 {
		c.WriteError("ERR wrong number of arguments for 'graph.profile' command")
		return
	}
	s.mu.Lock()
	s.graphs[args[0]] = append(s.graphs[args[0]], args[1])
	s.mu.Unlock()

	plan := []string{
		"Results | Records produced: 1, Execution time: 0.001 ms",
		"    Project | Records produced: 1, Execution time: 0.002 ms",
	}
	c.WriteLen(len(plan))
	for _, line := range plan {
		c.WriteBulk(line)
	}
}

func (s *Server) delete(c *server.Peer, _ string, args []string) {
	if len(args) != 1 {
		c.WriteError("ERR wrong number of arguments for 'graph.delete' command")
		return
	}

	s.mu.Lock()
	_, ok := s.graphs[args[0]]
	delete(s.graphs, args[0])
	s.mu.Unlock()

	if !ok {
		c.WriteError("ERR Invalid graph operation on empty key")
		return
	}
	c.WriteBulk("Graph removed, internal execution time: 0.100000 milliseconds")
}

func (s *Server) copy(c *server.Peer, _ string, args []string) {
	if len(args) != 2 {
		c.WriteError("ERR wrong number of arguments for 'graph.copy' command")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queries, ok := s.graphs[args[0]]
	if !ok {
		c.WriteError("ERR Invalid graph operation on empty key")
		return
	}
	if _, exists := s.graphs[args[1]]; exists {
		c.WriteError("ERR destination key already exists")
		return
	}
	s.graphs[args[1]] = slices.Clone(queries)
	c.WriteOK()
}

func (s *Server) list(c *server.Peer, _ string, _ []string) {
	s.mu.Lock()
	names := make([]string, 0, len(s.graphs))
	for name := range s.graphs {
		names = append(names, name)
	}
	s.mu.Unlock()

	slices.Sort(names)
	c.WriteLen(len(names))
	for _, name := range names {
		c.WriteBulk(name)
	}
}

func (s *Server) slowlog(c *server.Peer, _ string, args []string) {
	if len(args) != 1 {
		c.WriteError("ERR wrong number of arguments for 'graph.slowlog' command")
		return
	}

	s.mu.Lock()
	queries := slices.Clone(s.graphs[args[0]])
	s.mu.Unlock()

	c.WriteLen(len(queries))
	for _, q := range queries {
		c.WriteLen(4)
		c.WriteBulk(strconv.Itoa(SlowLogTimestamp))
		c.WriteBulk("GRAPH.QUERY")
		c.WriteBulk(q)
		c.WriteBulk("0.500000")
	}
}

func (s *Server) configCmd(c *server.Peer, _ string, args []string) {
	if len(args) < 2 {
		c.WriteError("ERR wrong number of arguments for 'graph.config' command")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToUpper(args[1])
	switch strings.ToUpper(args[0]) {
	case "GET":
		if name == "*" {
			names := make([]string, 0, len(s.config))
			for n := range s.config {
				names = append(names, n)
			}
			slices.Sort(names)
			c.WriteLen(len(names))
			for _, n := range names {
				c.WriteLen(2)
				c.WriteBulk(n)
				c.WriteInt(s.config[n])
			}
			return
		}
		value, ok := s.config[name]
		if !ok {
			c.WriteError("ERR Unknown configuration field")
			return
		}
		c.WriteLen(2)
		c.WriteBulk(name)
		c.WriteInt(value)

	case "SET":
		if len(args) != 3 {
			c.WriteError("ERR wrong number of arguments for 'graph.config' command")
			return
		}
		if _, ok := s.config[name]; !ok {
			c.WriteError("ERR Unknown configuration field")
			return
		}
		value, err := strconv.Atoi(args[2])
		if err != nil {
			c.WriteError("ERR Failed to set config value")
			return
		}
		s.config[name] = value
		c.WriteOK()

	default:
		c.WriteError("ERR Unknown subcommand for GRAPH.CONFIG")
	}
}

func (s *Server) module(c *server.Peer, _ string, args []string) {
	if len(args) != 1 || !strings.EqualFold(args[0], "LIST") {
		c.WriteError("ERR unknown subcommand")
		return
	}
	c.WriteLen(1)
	c.WriteLen(8)
	c.WriteBulk("name")
	c.WriteBulk("graph")
	c.WriteBulk("ver")
	c.WriteInt(ModuleVersion)
	c.WriteBulk("path")
	c.WriteBulk("/var/lib/falkordb/bin/falkordb.so")
	c.WriteBulk("args")
	c.WriteLen(0)
}
