package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeEtcd is an in-memory stand-in for the parts of etcd the client uses.
// Keys written by Put belong to the most recently granted lease.
type fakeEtcd struct {
	mu         sync.Mutex
	data       map[string]string
	leaseOf    map[string]clientv3.LeaseID
	live       map[clientv3.LeaseID]bool
	nextLease  clientv3.LeaseID
	lastGrant  clientv3.LeaseID
	keepalives map[clientv3.LeaseID]int
	watchCh    chan clientv3.WatchResponse
	closed     int
	putErr     error
}

func newFakeEtcd() *fakeEtcd {
	return &fakeEtcd{
		data:       make(map[string]string),
		leaseOf:    make(map[string]clientv3.LeaseID),
		live:       make(map[clientv3.LeaseID]bool),
		keepalives: make(map[clientv3.LeaseID]int),
		watchCh:    make(chan clientv3.WatchResponse, 4),
	}
}

func (f *fakeEtcd) client(ttl int) *Client {
	return newClient(fakeKV{f: f}, fakeLease{f: f}, fakeWatcher{f: f}, fakeCloser{f: f}, Config{TTL: ttl})
}

func (f *fakeEtcd) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeEtcd) keepaliveCount(id clientv3.LeaseID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepalives[id]
}

func (f *fakeEtcd) expire(id clientv3.LeaseID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeLocked(id)
}

func (f *fakeEtcd) revokeLocked(id clientv3.LeaseID) {
	delete(f.live, id)
	for k, l := range f.leaseOf {
		if l == id {
			delete(f.data, k)
			delete(f.leaseOf, k)
		}
	}
}

type fakeKV struct {
	clientv3.KV
	f *fakeEtcd
}

func (kv fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	kv.f.mu.Lock()
	defer kv.f.mu.Unlock()
	if kv.f.putErr != nil {
		return nil, kv.f.putErr
	}
	kv.f.data[key] = val
	kv.f.leaseOf[key] = kv.f.lastGrant
	return &clientv3.PutResponse{}, nil
}

func (kv fakeKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	end := string(clientv3.OpGet(key, opts...).RangeBytes())

	kv.f.mu.Lock()
	defer kv.f.mu.Unlock()

	resp := &clientv3.GetResponse{}
	for k, v := range kv.f.data {
		match := k == key
		if end != "" {
			match = k >= key && k < end
		}
		if match {
			resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(v)})
		}
	}
	return resp, nil
}

type fakeLease struct {
	clientv3.Lease
	f *fakeEtcd
}

func (l fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	l.f.nextLease++
	l.f.lastGrant = l.f.nextLease
	l.f.live[l.f.nextLease] = true
	return &clientv3.LeaseGrantResponse{ID: l.f.nextLease, TTL: ttl}, nil
}

func (l fakeLease) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	l.f.revokeLocked(id)
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (l fakeLease) KeepAliveOnce(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if !l.f.live[id] {
		return nil, errors.New("requested lease not found")
	}
	l.f.keepalives[id]++
	return &clientv3.LeaseKeepAliveResponse{ID: id}, nil
}

type fakeWatcher struct {
	clientv3.Watcher
	f *fakeEtcd
}

func (w fakeWatcher) Watch(_ context.Context, _ string, _ ...clientv3.OpOption) clientv3.WatchChan {
	return w.f.watchCh
}

type fakeCloser struct {
	f *fakeEtcd
}

func (c fakeCloser) Close() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	c.f.closed++
	return nil
}

func TestNewClientRequiresEndpoints(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoints cannot be empty")
}

func TestRegisterAndDiscover(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(30)
	defer c.Close()
	ctx := context.Background()

	first, err := c.Register(ctx, Endpoint{Address: "10.0.0.1:6379"})
	require.NoError(t, err)
	second, err := c.Register(ctx, Endpoint{InstanceID: "replica-1", Address: "10.0.0.2:6379", Role: RoleReplica})
	require.NoError(t, err)

	_, err = uuid.Parse(first.InstanceID)
	assert.NoError(t, err, "generated instance id should be a UUID")
	assert.Equal(t, RolePrimary, first.Role)
	assert.False(t, first.RegisteredAt.IsZero())
	assert.Equal(t, "replica-1", second.InstanceID)

	assert.Contains(t, etcd.keys(), "/default/falkordb/replica-1")
	assert.Contains(t, etcd.keys(), "/default/falkordb/"+first.InstanceID)

	endpoints, err := c.Discover(ctx)
	require.NoError(t, err)

	addrs := make([]string, len(endpoints))
	for i, ep := range endpoints {
		addrs[i] = ep.Address
	}
	assert.ElementsMatch(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, addrs)
}

func TestRegisterRequiresAddress(t *testing.T) {
	c := newFakeEtcd().client(30)
	defer c.Close()

	_, err := c.Register(context.Background(), Endpoint{InstanceID: "a"})
	assert.Error(t, err)
}

func TestRegisterTwiceReplacesLease(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(30)
	defer c.Close()
	ctx := context.Background()

	ep := Endpoint{InstanceID: "node-1", Address: "10.0.0.1:6379"}
	_, err := c.Register(ctx, ep)
	require.NoError(t, err)
	ep.Address = "10.0.0.1:6380"
	_, err = c.Register(ctx, ep)
	require.NoError(t, err)

	endpoints, err := c.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "10.0.0.1:6380", endpoints[0].Address)

	etcd.mu.Lock()
	assert.False(t, etcd.live[1], "first lease should be revoked")
	assert.True(t, etcd.live[2])
	etcd.mu.Unlock()
}

func TestFailedReregisterKeepsExistingRegistration(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(1)
	defer c.Close()
	ctx := context.Background()

	ep := Endpoint{InstanceID: "node-1", Address: "10.0.0.1:6379"}
	_, err := c.Register(ctx, ep)
	require.NoError(t, err)

	etcd.mu.Lock()
	etcd.putErr = errors.New("etcdserver: request timed out")
	etcd.mu.Unlock()

	ep.Address = "10.0.0.1:6380"
	_, err = c.Register(ctx, ep)
	require.ErrorContains(t, err, "request timed out")

	etcd.mu.Lock()
	assert.False(t, etcd.live[2], "lease granted for the failed write is revoked")
	assert.True(t, etcd.live[1])
	etcd.mu.Unlock()

	c.mu.RLock()
	assert.Equal(t, clientv3.LeaseID(1), c.leases["node-1"])
	c.mu.RUnlock()

	before := etcd.keepaliveCount(1)
	require.Eventually(t, func() bool {
		return etcd.keepaliveCount(1) > before
	}, 3*time.Second, 50*time.Millisecond, "original lease is still renewed")

	endpoints, err := c.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "10.0.0.1:6379", endpoints[0].Address)
}

func TestDeregister(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(30)
	defer c.Close()
	ctx := context.Background()

	ep, err := c.Register(ctx, Endpoint{Address: "10.0.0.1:6379"})
	require.NoError(t, err)

	require.NoError(t, c.Deregister(ctx, ep))
	assert.Empty(t, etcd.keys())

	// Unknown endpoints are a no-op.
	assert.NoError(t, c.Deregister(ctx, Endpoint{InstanceID: "unknown"}))
}

func TestDiscoverSkipsUndecodableEntries(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(30)
	defer c.Close()

	valid, err := json.Marshal(Endpoint{InstanceID: "ok", Address: "10.0.0.1:6379"})
	require.NoError(t, err)
	etcd.data["/default/falkordb/ok"] = string(valid)
	etcd.data["/default/falkordb/bad"] = "{not json"
	etcd.data["/other/falkordb/ok"] = string(valid)

	endpoints, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "ok", endpoints[0].InstanceID)
}

func TestKeepaliveRenewsLease(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(1)
	defer c.Close()

	_, err := c.Register(context.Background(), Endpoint{Address: "10.0.0.1:6379"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return etcd.keepaliveCount(1) >= 2
	}, 3*time.Second, 50*time.Millisecond)
}

func TestKeepaliveStopsWhenLeaseIsLost(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(1)
	defer c.Close()

	ep, err := c.Register(context.Background(), Endpoint{Address: "10.0.0.1:6379"})
	require.NoError(t, err)

	etcd.expire(1)

	require.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		_, tracked := c.leases[ep.InstanceID]
		return !tracked
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatch(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(30)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := c.Register(ctx, Endpoint{Address: "10.0.0.1:6379"})
	require.NoError(t, err)

	ch, err := c.Watch(ctx)
	require.NoError(t, err)

	initial := <-ch
	assert.Len(t, initial, 1)

	_, err = c.Register(ctx, Endpoint{Address: "10.0.0.2:6379"})
	require.NoError(t, err)
	etcd.watchCh <- clientv3.WatchResponse{}

	select {
	case updated := <-ch:
		assert.Len(t, updated, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no update after watch event")
	}

	cancel()
	for range ch {
	}
}

func TestClose(t *testing.T) {
	etcd := newFakeEtcd()
	c := etcd.client(30)
	ctx := context.Background()

	_, err := c.Register(ctx, Endpoint{Address: "10.0.0.1:6379"})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, etcd.closed)

	_, err = c.Register(ctx, Endpoint{Address: "10.0.0.1:6379"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Discover(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Watch(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Deregister(ctx, Endpoint{}), ErrClosed)
}

func TestClientTLSConfig(t *testing.T) {
	cfg, err := clientTLSConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = clientTLSConfig(&TLSConfig{Enabled: false, CertFile: "ignored"})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	tests := []struct {
		name string
		cfg  TLSConfig
		want string
	}{
		{name: "missing cert", cfg: TLSConfig{Enabled: true}, want: "cert file"},
		{name: "missing key", cfg: TLSConfig{Enabled: true, CertFile: "c.pem"}, want: "key file"},
		{name: "missing ca", cfg: TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem"}, want: "CA file"},
		{name: "unreadable cert", cfg: TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem", CAFile: "ca.pem"}, want: "client certificate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := clientTLSConfig(&tt.cfg)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
