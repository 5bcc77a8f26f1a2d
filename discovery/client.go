package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
)

// ErrClosed is returned by every method of a closed Client.
var ErrClosed = errors.New("discovery client is closed")

const userAgent = "falkordb-go-discovery"

// Client implements Registry over etcd.
//
// Leases are renewed every TTL/3 by one goroutine per registered endpoint.
// All methods are safe for concurrent use.
type Client struct {
	kv      clientv3.KV
	lease   clientv3.Lease
	watcher clientv3.Watcher
	closer  io.Closer

	namespace string
	ttl       int

	mu         sync.RWMutex
	leases     map[string]clientv3.LeaseID // key: instance ID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

var _ Registry = (*Client)(nil)

// NewClient connects to etcd and verifies the connection with a read.
//
// The client must be closed using Close() to release the connection and stop
// keepalive goroutines.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("discovery endpoints cannot be empty")
	}
	cfg.applyDefaults()

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialOptions: []grpc.DialOption{grpc.WithUserAgent(userAgent)},
	}

	tlsConfig, err := clientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	clientCfg.TLS = tlsConfig

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return newClient(cli.KV, cli.Lease, cli.Watcher, cli, cfg), nil
}

func newClient(kv clientv3.KV, lease clientv3.Lease, watcher clientv3.Watcher, closer io.Closer, cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		kv:         kv,
		lease:      lease,
		watcher:    watcher,
		closer:     closer,
		namespace:  cfg.Namespace,
		ttl:        cfg.TTL,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}
}

// Register publishes ep under a new lease and starts renewing it.
func (c *Client) Register(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if ep.Address == "" {
		return Endpoint{}, fmt.Errorf("endpoint address cannot be empty")
	}
	if ep.InstanceID == "" {
		ep.InstanceID = uuid.NewString()
	}
	if ep.Role == "" {
		ep.Role = RolePrimary
	}
	ep.RegisteredAt = time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Endpoint{}, ErrClosed
	}

	data, err := json.Marshal(ep)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to marshal endpoint: %w", err)
	}

	leaseResp, err := c.lease.Grant(ctx, int64(c.ttl))
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to create lease: %w", err)
	}

	// A previous registration of this instance stays live until the new
	// key is written.
	if _, err := c.kv.Put(ctx, c.key(ep.InstanceID), string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		_, _ = c.lease.Revoke(context.WithoutCancel(ctx), leaseResp.ID)
		return Endpoint{}, fmt.Errorf("failed to register endpoint: %w", err)
	}

	if cancelFn, exists := c.cancelFns[ep.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, ep.InstanceID)
	}
	if old, exists := c.leases[ep.InstanceID]; exists && old != leaseResp.ID {
		// The key moved to the new lease; the old one holds nothing now.
		_, _ = c.lease.Revoke(ctx, old)
	}
	c.leases[ep.InstanceID] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[ep.InstanceID] = cancel

	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, leaseResp.ID, ep.InstanceID)

	return ep, nil
}

// Deregister stops renewing the endpoint's lease and revokes it.
func (c *Client) Deregister(ctx context.Context, ep Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cancelFn, exists := c.cancelFns[ep.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, ep.InstanceID)
	}

	leaseID, exists := c.leases[ep.InstanceID]
	if !exists {
		return nil
	}

	if _, err := c.lease.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	delete(c.leases, ep.InstanceID)

	return nil
}

// Discover returns every registered endpoint. Entries that do not decode
// are skipped.
func (c *Client) Discover(ctx context.Context) ([]Endpoint, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	return c.discover(ctx)
}

func (c *Client) discover(ctx context.Context) ([]Endpoint, error) {
	resp, err := c.kv.Get(ctx, c.prefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover endpoints: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch sends the endpoint list now and after every change under the prefix.
func (c *Client) Watch(ctx context.Context) (<-chan []Endpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	endpoints, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan []Endpoint, 1)
	ch <- endpoints

	watchChan := c.watcher.Watch(ctx, c.prefix(), clientv3.WithPrefix())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok || watchResp.Err() != nil {
					return
				}

				endpoints, err := c.discover(ctx)
				if err != nil {
					continue
				}

				select {
				case ch <- endpoints:
				case <-ctx.Done():
					return
				case <-c.closedChan:
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close stops all keepalives and watches, then closes the etcd connection.
// Registered endpoints are left to expire with their leases.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)

	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()

	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// keepalive renews the lease every TTL/3 until cancelled or the lease is lost.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, instanceID string) {
	defer c.wg.Done()

	interval := time.Duration(c.ttl) * time.Second / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.lease.KeepAliveOnce(ctx, leaseID); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.mu.Lock()
				if c.leases[instanceID] == leaseID {
					delete(c.leases, instanceID)
					delete(c.cancelFns, instanceID)
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

func (c *Client) prefix() string {
	return fmt.Sprintf("/%s/falkordb/", c.namespace)
}

func (c *Client) key(instanceID string) string {
	return c.prefix() + instanceID
}
