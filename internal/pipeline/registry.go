package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const DefaultPendingTTL = 24 * time.Hour

// ErrUnknownRequest is returned for feedback on a request that was never
// published or has expired.
var ErrUnknownRequest = errors.New("unknown or expired request")

// Pending is what a feedback vote needs to know about a published request.
type Pending struct {
	Request Request
	Program string
}

// Registry holds published requests awaiting feedback, keyed by request ID.
type Registry struct {
	cache *ttlcache.Cache[string, Pending]
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Registry{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Pending](ttl),
			ttlcache.WithDisableTouchOnHit[string, Pending](),
		),
	}
}

func (r *Registry) Put(id string, p Pending) {
	r.cache.Set(id, p, ttlcache.DefaultTTL)
}

// Get returns the pending request. Entries stay registered after a lookup, so
// repeated votes on the same message resolve to the same request.
func (r *Registry) Get(id string) (Pending, bool) {
	item := r.cache.Get(id)
	if item == nil {
		return Pending{}, false
	}
	return item.Value(), true
}

func (r *Registry) Len() int {
	return r.cache.Len()
}

// StartCleanup evicts expired entries periodically until ctx is done.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cache.DeleteExpired()
			}
		}
	}()
}
