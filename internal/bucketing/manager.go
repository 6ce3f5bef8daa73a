package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// DefaultBuckets spreads backup rows across enough partitions to avoid
// Scylla hot spots without fragmenting small deployments.
const DefaultBuckets = 64

// Manager assigns mobiles to stable partition buckets using murmur3, so a
// backup row can be located again without scanning every partition.
type Manager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewManager(buckets int) *Manager {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}

	m := &Manager{buckets: buckets}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

// MobileBucket returns the stable bucket for a mobile (0 to buckets-1).
func (m *Manager) MobileBucket(mobile string) int {
	return int(m.sum(mobile) % uint64(m.buckets))
}

// DateBucket returns the UTC date partition used by the audit log.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (m *Manager) Buckets() int {
	return m.buckets
}

func (m *Manager) sum(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
