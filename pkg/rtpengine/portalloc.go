package rtpengine

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/sonorad/pkg/commons"
)

// PortAllocator hands out UDP ports for RTP/RAOP sessions (spec.md
// §4.J/§4.K): one even port per RTP stream, the next odd port
// reserved for its RTCP companion per RFC 3550.
type PortAllocator interface {
	Allocate(ctx context.Context) (int, error)
	Release(ctx context.Context, port int)
	InUse(ctx context.Context) (int, error)
}

// --- distributed, Redis-backed allocator ---

const (
	// Hash-tagged so every key for this pool lands on the same Redis
	// Cluster slot, adapted directly from sip/infra/rtp_port_allocator.go.
	rtpAvailableKey    = "{sonorad:rtp:ports}:available"
	rtpAllocatedPrefix = "{sonorad:rtp:ports}:allocated:"
	rtpAllocatedTTL    = 10 * time.Minute
)

var initLuaScript = redis.NewScript(`
	local key = KEYS[1]
	local exists = redis.call('EXISTS', key)
	if exists == 0 then
		for i = 1, #ARGV do
			redis.call('SADD', key, ARGV[i])
		end
		return #ARGV
	end
	return 0
`)

var allocateLuaScript = redis.NewScript(`
	local port = redis.call('SPOP', KEYS[1])
	if port == false then
		return -1
	end
	redis.call('SADD', KEYS[2], port)
	return port
`)

var releaseLuaScript = redis.NewScript(`
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
`)

// RedisPortAllocator is the multi-instance-safe allocator: every
// sonorad daemon sharing the same Redis draws from one pool, with
// crash recovery via a per-instance tracking set.
type RedisPortAllocator struct {
	client     *redis.Client
	log        commons.Logger
	portStart  int
	portEnd    int
	instanceID string
}

// NewRedisPortAllocator constructs an allocator over [portStart,
// portEnd) and ensures the pool is populated (idempotent: safe to call
// on every startup).
func NewRedisPortAllocator(ctx context.Context, client *redis.Client, log commons.Logger, portStart, portEnd int) (*RedisPortAllocator, error) {
	hostname, _ := os.Hostname()
	a := &RedisPortAllocator{
		client:     client,
		log:        log,
		portStart:  portStart,
		portEnd:    portEnd,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
	if err := a.init(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func evenPorts(start, end int) []any {
	if start%2 != 0 {
		start++
	}
	ports := make([]any, 0, (end-start)/2)
	for p := start; p < end; p += 2 {
		ports = append(ports, p)
	}
	return ports
}

func (a *RedisPortAllocator) init(ctx context.Context) error {
	ports := evenPorts(a.portStart, a.portEnd)
	if len(ports) == 0 {
		return fmt.Errorf("rtpengine: no valid RTP ports in range %d-%d", a.portStart, a.portEnd)
	}
	added, err := initLuaScript.Run(ctx, a.client, []string{rtpAvailableKey}, ports...).Int()
	if err != nil {
		return fmt.Errorf("rtpengine: init redis port pool: %w", err)
	}
	if added > 0 {
		a.log.Info("initialized RTP port pool", "ports_added", added, "range_start", a.portStart, "range_end", a.portEnd)
	}
	a.reclaimCrashedPorts(ctx)
	return nil
}

func (a *RedisPortAllocator) instanceKey() string { return rtpAllocatedPrefix + a.instanceID }

func (a *RedisPortAllocator) Allocate(ctx context.Context) (int, error) {
	result, err := allocateLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, a.instanceKey()}).Int()
	if err != nil {
		return 0, fmt.Errorf("rtpengine: allocate port: %w", err)
	}
	if result == -1 {
		inUse, _ := a.InUse(ctx)
		return 0, fmt.Errorf("rtpengine: no RTP ports available in range %d-%d (%d in use)", a.portStart, a.portEnd, inUse)
	}
	a.client.Expire(ctx, a.instanceKey(), rtpAllocatedTTL)
	return result, nil
}

func (a *RedisPortAllocator) Release(ctx context.Context, port int) {
	if _, err := releaseLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, a.instanceKey()}, port).Result(); err != nil {
		a.log.Error("failed to release RTP port", "port", port, "error", err)
	}
}

func (a *RedisPortAllocator) InUse(ctx context.Context) (int, error) {
	total := len(evenPorts(a.portStart, a.portEnd))
	available, err := a.client.SCard(ctx, rtpAvailableKey).Result()
	if err != nil {
		return 0, fmt.Errorf("rtpengine: scard: %w", err)
	}
	return total - int(available), nil
}

// reclaimCrashedPorts moves ports orphaned by a previous process with
// the same hostname:pid back into the available pool.
func (a *RedisPortAllocator) reclaimCrashedPorts(ctx context.Context) {
	ports, err := a.client.SMembers(ctx, a.instanceKey()).Result()
	if err != nil || len(ports) == 0 {
		return
	}
	a.log.Warn("reclaiming ports from crashed instance", "instance", a.instanceID, "count", len(ports))
	for _, ps := range ports {
		p, err := strconv.Atoi(ps)
		if err != nil {
			continue
		}
		a.Release(ctx, p)
	}
}

// ReleaseAll returns every port this instance holds, for graceful
// shutdown.
func (a *RedisPortAllocator) ReleaseAll(ctx context.Context) {
	ports, err := a.client.SMembers(ctx, a.instanceKey()).Result()
	if err != nil {
		return
	}
	for _, ps := range ports {
		if p, err := strconv.Atoi(ps); err == nil {
			a.Release(ctx, p)
		}
	}
	a.client.Del(ctx, a.instanceKey())
}

// --- in-process fallback allocator ---

// LocalPortAllocator is the single-instance allocator used when no
// Redis address is configured: an in-memory pool, same even-port
// convention.
type LocalPortAllocator struct {
	mu        sync.Mutex
	total     int
	available map[int]struct{}
}

func NewLocalPortAllocator(portStart, portEnd int) *LocalPortAllocator {
	avail := make(map[int]struct{})
	for _, p := range evenPorts(portStart, portEnd) {
		avail[p.(int)] = struct{}{}
	}
	return &LocalPortAllocator{total: len(avail), available: avail}
}

func (a *LocalPortAllocator) Allocate(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := range a.available {
		delete(a.available, p)
		return p, nil
	}
	return 0, fmt.Errorf("rtpengine: no RTP ports available")
}

func (a *LocalPortAllocator) Release(_ context.Context, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available[port] = struct{}{}
}

func (a *LocalPortAllocator) InUse(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total - len(a.available), nil
}
