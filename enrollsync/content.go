package enrollsync

import (
	"context"
	"time"

	"github.com/bluele/gcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/logging"

	"github.com/courseops/commerce-sync/sailthru"
)

// The course-id keyspace is small and long-lived relative to the process, so
// a generous LRU bound behaves like an unbounded TTL cache.
const contentCacheSize = 4096

var contentCacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "commerce_sync",
	Name:      "content_cache",
	Help:      "Reports content fetches that miss the local cache.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(contentCacheCounter)
}

// contentCache memoizes Sailthru content lookups by course id. It is shared
// across all events processed in this process and safe for concurrent use;
// on racing refreshes the last writer wins, which is fine because entries
// only need to be approximately fresh.
type contentCache struct {
	log    logging.Interface
	client sailthru.Client
	cache  gcache.Cache
}

func newContentCache(log logging.Interface, client sailthru.Client) *contentCache {
	return &contentCache{
		log:    log,
		client: client,
		cache:  gcache.New(contentCacheSize).LRU().Build(),
	}
}

// content returns the course's content mapping, fetching it from Sailthru
// when there is no entry fresher than ttl. Failed fetches are logged and come
// back as an empty mapping without being cached, so callers must tolerate
// missing fields.
func (c *contentCache) content(ctx context.Context, courseID string, ttl time.Duration) map[string]interface{} {
	if cached, err := c.cache.Get(courseID); err == nil {
		contentCacheCounter.WithLabelValues("hit").Inc()
		return cached.(map[string]interface{})
	}
	contentCacheCounter.WithLabelValues("miss").Inc()

	body, err := c.client.GetContent(ctx, courseID)
	if err != nil {
		c.log.WithField("course_id", courseID).Errorf("Error fetching course content: %v", err)
		return map[string]interface{}{}
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	if err := c.cache.SetWithExpire(courseID, body, ttl); err != nil {
		c.log.WithField("course_id", courseID).Warnf("Cannot cache course content: %v", err)
	}
	return body
}
