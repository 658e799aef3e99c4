package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"sms-auth-service/internal/config"
)

// Manager assigns rows to partition buckets so that the users and
// security_events tables spread evenly across the cluster.
type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hashers to avoid allocation on every lookup
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// UserBucket returns a stable bucket (0 to userBuckets-1) for a user key.
// The same key always maps to the same bucket.
func (m *Manager) UserBucket(key string) int {
	return m.bucket(key, m.userBuckets)
}

// EventBucket returns the bucket for a security event identifier.
func (m *Manager) EventBucket(identifier string) int {
	return m.bucket(identifier, m.eventBuckets)
}

// DateBucket returns the UTC date partition for event tables.
func (m *Manager) DateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (m *Manager) UserBuckets() int  { return m.userBuckets }
func (m *Manager) EventBuckets() int { return m.eventBuckets }

func (m *Manager) bucket(key string, numBuckets int) int {
	return int(m.hash(key) % uint64(numBuckets))
}

func (m *Manager) hash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
