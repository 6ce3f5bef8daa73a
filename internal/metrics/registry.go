package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counter names persisted across restarts by the audit worker.
const (
	SMSReceived      = "sms_received"
	SMSVerified      = "sms_verified"
	SMSRejected      = "sms_rejected"
	SyncPushed       = "sync_pushed"
	SyncFailed       = "sync_failed"
	RecoveryRuns     = "recovery_runs"
	AuditFlushed     = "audit_flushed"
	BlacklistRefresh = "blacklist_refresh"
)

// Registry is a process-local set of named monotonic counters. The audit
// worker snapshots it every minute into Scylla so counts survive restarts.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*atomic.Int64)}
}

func (r *Registry) counter(name string) *atomic.Int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = &atomic.Int64{}
	r.counters[name] = c
	return c
}

func (r *Registry) Inc(name string) {
	r.counter(name).Add(1)
}

func (r *Registry) Add(name string, delta int64) {
	r.counter(name).Add(delta)
}

func (r *Registry) Get(name string) int64 {
	return r.counter(name).Load()
}

// Restore seeds a counter from its persisted value at startup.
func (r *Registry) Restore(name string, value int64) {
	r.counter(name).Store(value)
}

// Snapshot returns all counters in stable name order.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Load()
	}
	return out
}

// Names returns the registered counter names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
