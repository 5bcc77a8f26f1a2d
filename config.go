package falkordb

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultHost                      = "localhost"
	DefaultPort                      = 6379
	DefaultProtocol                  = 2
	DefaultEncoding                  = "utf-8"
	DefaultLibName                   = "FalkorDB"
	DefaultClusterErrorRetryAttempts = 3
	DefaultReinitializeSteps         = 5
)

// go-redis applies its own DialTimeout only to its built-in dialer.
const defaultDialTimeout = 5 * time.Second

// Encoding error modes for Config.EncodingErrors.
const (
	EncodingErrorsStrict  = "strict"
	EncodingErrorsReplace = "replace"
	EncodingErrorsIgnore  = "ignore"
)

// Address is a host and port pair.
type Address struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// String returns the address in host:port form.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress parses host:port into an Address.
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return Address{Host: host, Port: port}, nil
}

// CredentialProvider supplies credentials each time a connection authenticates.
type CredentialProvider interface {
	Credentials(ctx context.Context) (username, password string, err error)
}

// StartupNodeResolver supplies cluster startup nodes at construction time.
// discovery.Resolver implements it.
type StartupNodeResolver interface {
	StartupNodes(ctx context.Context) ([]Address, error)
}

// KeepaliveOptions tunes TCP keepalive probes when SocketKeepalive is set.
// They follow net.KeepAliveConfig: zero fields take Go's defaults (15s idle,
// 15s interval, 9 probes) and negative fields keep the operating system's
// setting.
type KeepaliveOptions struct {
	Idle     time.Duration `yaml:"idle,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	Count    int           `yaml:"count,omitempty"`
}

// Config holds every connection option of the client.
//
// The zero value is usable: it connects to localhost:6379 over RESP2 with the
// default retry policy and decoded UTF-8 replies. Options with a "true"
// default in other FalkorDB clients are expressed here as their negation
// (RawResponses, TLS.SkipHostnameCheck, StaticStartupNodes) so that the zero
// value keeps those defaults.
type Config struct {
	// Network target.
	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	UnixSocketPath string `yaml:"unix_socket_path,omitempty"`
	DB             int    `yaml:"db,omitempty"`

	// Authentication. CredentialProvider takes precedence over Username/Password.
	Username           string             `yaml:"username,omitempty"`
	Password           string             `yaml:"password,omitempty"`
	CredentialProvider CredentialProvider `yaml:"-"`

	// Transport security.
	TLS TLSConfig `yaml:"tls,omitempty"`

	// SocketTimeout bounds each read and write. Zero means no timeout.
	SocketTimeout time.Duration `yaml:"socket_timeout,omitempty"`
	// ConnectTimeout bounds dialing. Zero uses the go-redis default (5s).
	ConnectTimeout   time.Duration    `yaml:"connect_timeout,omitempty"`
	SocketKeepalive  bool             `yaml:"socket_keepalive,omitempty"`
	KeepaliveOptions KeepaliveOptions `yaml:"keepalive_options,omitempty"`

	// MaxConnections caps the pool. Zero uses the go-redis default.
	MaxConnections int `yaml:"max_connections,omitempty"`
	// SingleConnection restricts the pool to one connection.
	SingleConnection bool `yaml:"single_connection,omitempty"`
	// Conn, when set, is used as the connection instead of dialing. The client
	// does not close a connection it did not create.
	Conn redis.UniversalClient `yaml:"-"`

	// Retry is forwarded to go-redis. Nil means DefaultRetry().
	Retry *Retry `yaml:"-"`

	// Protocol selects RESP2 or RESP3. Zero means 2.
	Protocol int `yaml:"protocol,omitempty"`

	// RawResponses returns string replies as []byte instead of decoded text.
	RawResponses bool `yaml:"raw_responses,omitempty"`
	// Encoding names the character set of string replies. Zero means "utf-8".
	Encoding string `yaml:"encoding,omitempty"`
	// EncodingErrors is "strict", "replace" or "ignore". Zero means "strict".
	EncodingErrors string `yaml:"encoding_errors,omitempty"`

	// Client identification, sent with CLIENT SETNAME and CLIENT SETINFO.
	ClientName string `yaml:"client_name,omitempty"`
	LibName    string `yaml:"lib_name,omitempty"`
	LibVersion string `yaml:"lib_version,omitempty"`

	// HealthCheckInterval retires pooled connections idle for longer than this,
	// so a stale connection is never handed out. Zero uses the go-redis default.
	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty"`

	// EventListener receives connection and command events.
	EventListener EventListener `yaml:"-"`

	// Cluster mode. Setting StartupNodes (directly or through Discovery)
	// selects a cluster client without waiting for topology detection.
	StartupNodes []Address          `yaml:"startup_nodes,omitempty"`
	Discovery    StartupNodeResolver `yaml:"-"`
	// StaticStartupNodes is accepted for compatibility. go-redis always
	// learns the node set from CLUSTER SLOTS.
	StaticStartupNodes  bool `yaml:"static_startup_nodes,omitempty"`
	RequireFullCoverage bool `yaml:"require_full_coverage,omitempty"`
	// ClusterErrorRetryAttempts bounds MOVED/ASK redirects. Zero means 3.
	ClusterErrorRetryAttempts int `yaml:"cluster_error_retry_attempts,omitempty"`
	// ReinitializeSteps is accepted for compatibility. go-redis reloads its
	// slot table on every MOVED reply. Zero means 5.
	ReinitializeSteps int  `yaml:"reinitialize_steps,omitempty"`
	ReadFromReplicas  bool `yaml:"read_from_replicas,omitempty"`
	// AddressRemap rewrites node addresses announced by the cluster before dialing.
	AddressRemap func(Address) Address `yaml:"-"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML configuration file. Durations are written as Go
// duration strings ("5s", "250ms").
//
// Example:
//
//	host: falkordb.internal
//	port: 6380
//	password: secret
//	socket_timeout: 30s
//	tls:
//	  enabled: true
//	  ca_certs: /etc/falkordb/ca.pem
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Retry == nil {
		c.Retry = DefaultRetry()
	}
	if c.Protocol == 0 {
		c.Protocol = DefaultProtocol
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.EncodingErrors == "" {
		c.EncodingErrors = EncodingErrorsStrict
	}
	if c.LibName == "" {
		c.LibName = DefaultLibName
	}
	if c.LibVersion == "" {
		c.LibVersion = Version
	}
	if c.ClusterErrorRetryAttempts == 0 {
		c.ClusterErrorRetryAttempts = DefaultClusterErrorRetryAttempts
	}
	if c.ReinitializeSteps == 0 {
		c.ReinitializeSteps = DefaultReinitializeSteps
	}
	if c.TLS.CertReqs == "" {
		c.TLS.CertReqs = CertRequired
	}
}

// Addr returns the standalone target as host:port.
func (c *Config) Addr() string {
	return Address{Host: c.Host, Port: c.Port}.String()
}

// readTimeout maps SocketTimeout to go-redis, where -1 disables the deadline.
func (c *Config) readTimeout() time.Duration {
	if c.SocketTimeout <= 0 {
		return -1
	}
	return c.SocketTimeout
}

func (c *Config) poolSize() (size, maxActive int) {
	if c.SingleConnection {
		return 1, 1
	}
	return c.MaxConnections, c.MaxConnections
}

func (c *Config) credentials() func(ctx context.Context) (string, string, error) {
	if c.CredentialProvider == nil {
		return nil
	}
	return c.CredentialProvider.Credentials
}

// dialer builds the function go-redis uses to open connections. TLS and
// address remapping happen here, so go-redis is never given a TLSConfig of
// its own.
func (c *Config) dialer(tlsConfig *tlsDialConfig) func(ctx context.Context, network, addr string) (net.Conn, error) {
	nd := c.netDialer()
	remap := c.AddressRemap

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if remap != nil && network != "unix" {
			if a, err := ParseAddress(addr); err == nil {
				addr = remap(a).String()
			}
		}
		if tlsConfig != nil {
			return tlsConfig.dial(ctx, nd, network, addr)
		}
		return nd.DialContext(ctx, network, addr)
	}
}

func (c *Config) netDialer() *net.Dialer {
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	nd := &net.Dialer{Timeout: timeout, KeepAlive: -1}
	if c.SocketKeepalive {
		nd.KeepAlive = 0
		nd.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     c.KeepaliveOptions.Idle,
			Interval: c.KeepaliveOptions.Interval,
			Count:    c.KeepaliveOptions.Count,
		}
	}
	return nd
}

// redisOptions maps the configuration onto a standalone go-redis client.
func (c *Config) redisOptions(tlsConfig *tlsDialConfig, onConnect func(context.Context, *redis.Conn) error) *redis.Options {
	maxRetries, minBackoff, maxBackoff := c.Retry.redisRetries()
	poolSize, maxActive := c.poolSize()

	opts := &redis.Options{
		Network:                    "tcp",
		Addr:                       c.Addr(),
		DB:                         c.DB,
		Username:                   c.Username,
		Password:                   c.Password,
		CredentialsProviderContext: c.credentials(),
		Dialer:                     c.dialer(tlsConfig),
		OnConnect:                  onConnect,
		DisableIdentity:            true,
		Protocol:                   c.Protocol,
		ClientName:                 c.ClientName,
		MaxRetries:                 maxRetries,
		MinRetryBackoff:            minBackoff,
		MaxRetryBackoff:            maxBackoff,
		DialTimeout:                c.ConnectTimeout,
		ReadTimeout:                c.readTimeout(),
		WriteTimeout:               c.readTimeout(),
		PoolSize:                   poolSize,
		MaxActiveConns:             maxActive,
		ConnMaxIdleTime:            c.HealthCheckInterval,
	}
	if c.UnixSocketPath != "" {
		opts.Network = "unix"
		opts.Addr = c.UnixSocketPath
	}
	return opts
}

// clusterOptions maps the configuration onto a go-redis cluster client.
func (c *Config) clusterOptions(addrs []string, tlsConfig *tlsDialConfig, onConnect func(context.Context, *redis.Conn) error) *redis.ClusterOptions {
	maxRetries, minBackoff, maxBackoff := c.Retry.redisRetries()
	poolSize, _ := c.poolSize()

	opts := &redis.ClusterOptions{
		Addrs:           addrs,
		ClientName:      c.ClientName,
		Dialer:          c.dialer(tlsConfig),
		OnConnect:       onConnect,
		DisableIdentity: true,
		Protocol:        c.Protocol,
		Username:        c.Username,
		Password:        c.Password,
		MaxRedirects:    c.ClusterErrorRetryAttempts,
		ReadOnly:        c.ReadFromReplicas,
		MaxRetries:      maxRetries,
		MinRetryBackoff: minBackoff,
		MaxRetryBackoff: maxBackoff,
		DialTimeout:     c.ConnectTimeout,
		ReadTimeout:     c.readTimeout(),
		WriteTimeout:    c.readTimeout(),
		PoolSize:        poolSize,
		ConnMaxIdleTime: c.HealthCheckInterval,
	}
	if creds := c.credentials(); creds != nil {
		// Per-node clients are plain redis.Clients; the provider is set on each.
		opts.NewClient = func(nodeOpts *redis.Options) *redis.Client {
			nodeOpts.CredentialsProviderContext = creds
			return redis.NewClient(nodeOpts)
		}
	}
	return opts
}

// failoverOptions maps the configuration onto a sentinel-backed go-redis client.
func (c *Config) failoverOptions(master string, sentinels []string, tlsConfig *tlsDialConfig, onConnect func(context.Context, *redis.Conn) error) *redis.FailoverOptions {
	maxRetries, minBackoff, maxBackoff := c.Retry.redisRetries()
	poolSize, _ := c.poolSize()

	return &redis.FailoverOptions{
		MasterName:       master,
		SentinelAddrs:    sentinels,
		SentinelUsername: c.Username,
		SentinelPassword: c.Password,
		ReplicaOnly:      c.ReadFromReplicas,
		ClientName:       c.ClientName,
		Dialer:           c.dialer(tlsConfig),
		OnConnect:        onConnect,
		DisableIdentity:  true,
		Protocol:         c.Protocol,
		Username:         c.Username,
		Password:         c.Password,
		DB:               c.DB,
		MaxRetries:       maxRetries,
		MinRetryBackoff:  minBackoff,
		MaxRetryBackoff:  maxBackoff,
		DialTimeout:      c.ConnectTimeout,
		ReadTimeout:      c.readTimeout(),
		WriteTimeout:     c.readTimeout(),
		PoolSize:         poolSize,
		ConnMaxIdleTime:  c.HealthCheckInterval,
	}
}
