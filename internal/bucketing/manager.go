package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"securehealth/internal/config"
)

// BucketingManager assigns stable storage partition buckets for users,
// patients and access events so wide tables stay balanced across nodes.
// These buckets are a storage concern only; the 15-minute behavioral
// buckets live in the feature extractor.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hash states to avoid per-call allocation
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// UserBucket returns a consistent bucket in [0, userBuckets) for an ID.
func (bm *BucketingManager) UserBucket(id string) int {
	return bm.bucketFor(id, bm.userBuckets)
}

// EventBucket partitions events by actor and day so one actor's audit trail
// for a day lands in a single partition.
func (bm *BucketingManager) EventBucket(userID string, ts time.Time) int {
	key := fmt.Sprintf("%s:%s", userID, ts.UTC().Format("2006-01-02"))
	return bm.bucketFor(key, bm.eventBuckets)
}

// NewID returns a fresh UUID string; a single place to swap ID schemes.
func (bm *BucketingManager) NewID() string {
	return uuid.New().String()
}

func (bm *BucketingManager) bucketFor(key string, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	h := bm.hasherPool.Get().(hash.Hash64)
	defer func() {
		h.Reset()
		bm.hasherPool.Put(h)
	}()

	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(buckets))
}
