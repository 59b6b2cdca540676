package mutypes

import (
	"sort"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestQueueItemIDOrderIsFIFO(t *testing.T) {
	t0 := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	ids := []string{
		NewQueueItemID(t0.Add(2*time.Second), "conn1", "journal:a"),
		NewQueueItemID(t0, "conn1", "journal:b"),
		NewQueueItemID(t0.Add(1*time.Second), "conn2", "journal:a"),
	}

	sorted := append([]string{}, ids...)
	sort.Strings(sorted)

	assert.EqualString(t, sorted[0], ids[1])
	assert.EqualString(t, sorted[1], ids[2])
	assert.EqualString(t, sorted[2], ids[0])
}

func TestTerminal(t *testing.T) {
	item := SyncQueueItem{Status: ItemError, RetryCount: MaxItemRetries}
	assert.Assert(t, item.Terminal())

	// error status alone isn't terminal while retry budget remains
	assert.Assert(t, !(&SyncQueueItem{Status: ItemError, RetryCount: 1}).Terminal())
	assert.Assert(t, !(&SyncQueueItem{Status: ItemPending, RetryCount: MaxItemRetries}).Terminal())
}

func TestTokenSetExpired(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	assert.Assert(t, (&OAuthTokenSet{Expiry: now.Add(-time.Minute)}).Expired(now))
	assert.Assert(t, !(&OAuthTokenSet{Expiry: now.Add(time.Minute)}).Expired(now))

	// zero expiry = provider never told us, treat as non-expiring
	assert.Assert(t, !(&OAuthTokenSet{}).Expired(now))
}

func TestNeedsSync(t *testing.T) {
	now := time.Now()

	assert.Assert(t, (&RecordMeta{Updated: now}).NeedsSync())
	assert.Assert(t, (&RecordMeta{Updated: now, SyncedAt: now.Add(-time.Hour)}).NeedsSync())
	assert.Assert(t, !(&RecordMeta{Updated: now.Add(-time.Hour), SyncedAt: now}).NeedsSync())
}
