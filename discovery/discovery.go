// Package discovery publishes FalkorDB endpoints in etcd and reads them back
// as cluster startup nodes.
//
// Servers (or the sidecars that run next to them) register an Endpoint under
// a lease that is renewed in the background, so an endpoint disappears when
// its process stops renewing. Clients build a Resolver over the registry and
// hand it to falkordb.Config.Discovery:
//
//	reg, err := discovery.NewClient(discovery.Config{Endpoints: []string{"etcd:2379"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Close()
//
//	client, err := falkordb.New(falkordb.Config{
//	    Discovery: discovery.NewResolver(reg, nil, nil),
//	})
//
// Keys are laid out as /{namespace}/falkordb/{instance-id} with the JSON
// encoded Endpoint as the value.
package discovery

import (
	"context"
	"time"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultNamespace   = "default"
	DefaultTTL         = 30
	DefaultDialTimeout = 5 * time.Second
)

// Roles an endpoint may advertise.
const (
	RolePrimary = "primary"
	RoleReplica = "replica"
)

// Endpoint describes a registered FalkorDB node.
type Endpoint struct {
	// InstanceID uniquely identifies the registration. Register fills it with
	// a random UUID when empty.
	InstanceID string `json:"instance_id"`

	// Address is the node's client address in host:port form.
	Address string `json:"address"`

	// Role is RolePrimary or RoleReplica. Empty is treated as primary.
	Role string `json:"role,omitempty"`

	// Version is the FalkorDB version the node runs, if known.
	Version string `json:"version,omitempty"`

	// Metadata holds free-form attributes such as the availability zone.
	Metadata map[string]string `json:"metadata,omitempty"`

	// RegisteredAt is set by Register.
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is the registration and discovery interface implemented by Client.
type Registry interface {
	// Register publishes an endpoint and keeps its lease alive until
	// Deregister or Close. Registering the same InstanceID again replaces
	// the entry. It returns the endpoint as stored.
	Register(ctx context.Context, ep Endpoint) (Endpoint, error)

	// Deregister revokes the endpoint's lease, removing it immediately.
	// Deregistering an unknown endpoint is a no-op.
	Deregister(ctx context.Context, ep Endpoint) error

	// Discover returns every registered endpoint in arbitrary order.
	Discover(ctx context.Context) ([]Endpoint, error)

	// Watch sends the current endpoint list immediately and again after
	// every change. The channel closes when ctx is done or Close is called.
	Watch(ctx context.Context) (<-chan []Endpoint, error)

	// Close stops keepalives and watches and closes the etcd connection.
	Close() error
}

// Config holds registry connection configuration.
type Config struct {
	// Endpoints is the list of etcd endpoints ("host:2379").
	Endpoints []string `yaml:"endpoints"`

	// Namespace is the first key segment. Default: "default".
	Namespace string `yaml:"namespace,omitempty"`

	// TTL is the lease time-to-live in seconds. Leases are renewed every
	// TTL/3. Default: 30.
	TTL int `yaml:"ttl,omitempty"`

	// DialTimeout bounds the initial etcd connection. Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`

	// Username and Password authenticate against etcd when set.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// TLS secures the etcd connection. Nil disables TLS.
	TLS *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds mutual TLS settings for the etcd connection.
type TLSConfig struct {
	// Enabled determines whether TLS is active.
	// If false, all other fields are ignored.
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are the client certificate and key (PEM).
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// CAFile verifies the etcd server certificate (PEM).
	CAFile string `yaml:"ca_file"`
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}
