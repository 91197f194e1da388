package webhook

import (
	"sync"
	"time"
)

// maxDedupEntries bounds the cache so a flood of unique messages
// cannot grow it without limit.
const maxDedupEntries = 8192

// DedupCache suppresses Meta's webhook re-deliveries. Entries expire
// after the configured window, which must exceed Meta's retry interval.
type DedupCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time

	now func() time.Time // test hook
}

func NewDedupCache(window time.Duration) *DedupCache {
	return &DedupCache{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func dedupKey(senderID, messageID string) string {
	return senderID + "\x00" + messageID
}

// Seen reports whether this delivery is a duplicate, without recording it.
// The gate uses this for its read-only admission check.
func (d *DedupCache) Seen(senderID, messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.entries[dedupKey(senderID, messageID)]
	return ok && d.now().Sub(at) < d.window
}

// Record marks the delivery as handled. It returns false when another
// delivery of the same message won the race, in which case the caller
// must drop this one.
func (d *DedupCache) Record(senderID, messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	key := dedupKey(senderID, messageID)
	if at, ok := d.entries[key]; ok && now.Sub(at) < d.window {
		return false
	}

	if len(d.entries) >= maxDedupEntries {
		d.prune(now)
	}
	d.entries[key] = now
	return true
}

// prune drops expired entries; if everything is still live it evicts the
// oldest ones to stay under the cap. Callers hold the lock.
func (d *DedupCache) prune(now time.Time) {
	for k, at := range d.entries {
		if now.Sub(at) >= d.window {
			delete(d.entries, k)
		}
	}
	if len(d.entries) < maxDedupEntries {
		return
	}
	// Still full: evict roughly the oldest quarter.
	evict := maxDedupEntries / 4
	for k, at := range d.entries {
		if evict == 0 {
			break
		}
		if now.Sub(at) > d.window/2 {
			delete(d.entries, k)
			evict--
		}
	}
	for k := range d.entries {
		if len(d.entries) < maxDedupEntries {
			break
		}
		delete(d.entries, k)
	}
}
