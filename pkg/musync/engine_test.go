package musync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/muconnection"
	"github.com/muisto-app/muisto/pkg/mudb"
	"github.com/muisto-app/muisto/pkg/muprovider"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"go.etcd.io/bbolt"
)

type testAdapter struct {
	recordType string

	mu       sync.Mutex
	contents map[string][]byte
	saved    map[string][]byte
	synced   map[string]time.Time
}

func newTestAdapter(recordType string) *testAdapter {
	return &testAdapter{
		recordType: recordType,
		contents:   map[string][]byte{},
		saved:      map[string][]byte{},
		synced:     map[string]time.Time{},
	}
}

func (a *testAdapter) RecordType() string { return a.recordType }

func (a *testAdapter) LoadContent(localID string) ([]byte, string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, found := a.contents[localID]
	return content, "application/json", found, nil
}

func (a *testAdapter) SaveContent(localID string, content []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.saved[localID] = content
	return nil
}

func (a *testAdapter) MarkSynced(localID string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.synced[localID] = at
	return nil
}

func (a *testAdapter) syncedAt(localID string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.synced[localID]
}

type engineFixture struct {
	engine      *Engine
	mem         *muprovider.Memory
	adapter     *testAdapter
	connections *muconnection.Store
	db          *bbolt.DB
}

func testEngine(t *testing.T) *engineFixture {
	t.Helper()

	db, _ := testDb(t)

	connections := muconnection.NewStore(db, muprovider.OAuthAppConfig{}, logex.Discard)
	assert.Assert(t, connections.Save(&mutypes.Connection{
		ID:       "c1",
		UserID:   "u1",
		Kind:     mutypes.ProviderKindS3,
		SyncRoot: "/Apps/muisto",
	}) == nil)

	adapter := newTestAdapter("journal")

	adapters := NewAdapterRegistry()
	adapters.Register(adapter)

	engine := NewEngine(db, connections, adapters, logex.Discard)

	mem := muprovider.NewMemory()
	engine.liveProvider = func(ctx context.Context, connectionID string) (muprovider.Provider, error) {
		return mem, nil
	}

	return &engineFixture{engine, mem, adapter, connections, db}
}

func TestFreshUpload(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	f.adapter.contents["entry1"] = []byte(`{"text":"hello"}`)

	_, err := f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/Apps/muisto/entry1.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	remote, err := f.mem.GetByPath(ctx, "/Apps/muisto/entry1.json")
	assert.Assert(t, err == nil)
	assert.EqualString(t, remote.Checksum, f.mem.Checksum([]byte(`{"text":"hello"}`)))

	items, err := f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 0)

	assert.Assert(t, !f.adapter.syncedAt("entry1").IsZero())

	conn, err := f.connections.ByID("c1")
	assert.Assert(t, err == nil)
	assert.Assert(t, !conn.LastSyncAt.IsZero())

	status, err := f.engine.OverallStatus()
	assert.Assert(t, err == nil)
	assert.Assert(t, status == mutypes.StatusSynced)
}

func TestUploadFromFileCache(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	// adapter has nothing; buffered cache serves the bytes
	assert.Assert(t, f.engine.Queue().PutCachedContent("journal:entry1", []byte("buffered"), "application/json") == nil)

	_, err := f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/entry1.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	remote, err := f.mem.GetByPath(ctx, "/entry1.json")
	assert.Assert(t, err == nil)
	assert.EqualString(t, remote.Checksum, f.mem.Checksum([]byte("buffered")))

	// cache row consumed
	_, err = f.engine.Queue().CachedContent("journal:entry1")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorNotFound))
}

func TestConflictCreateCopy(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	f.engine.now = func() time.Time {
		return time.Date(2026, 5, 1, 12, 23, 11, 0, time.UTC)
	}

	// remote diverged from local
	_, err := f.mem.Write(ctx, "/entry1.json", []byte("remote edit"), false)
	assert.Assert(t, err == nil)

	f.adapter.contents["entry1"] = []byte("local edit")

	_, err = f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/entry1.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	// remote object untouched, local content landed in a timestamped sibling
	original, err := f.mem.GetByPath(ctx, "/entry1.json")
	assert.Assert(t, err == nil)
	assert.EqualString(t, original.Checksum, f.mem.Checksum([]byte("remote edit")))

	sibling, err := f.mem.GetByPath(ctx, "/entry1 (conflicted copy 2026-05-01 122311).json")
	assert.Assert(t, err == nil)
	assert.EqualString(t, sibling.Checksum, f.mem.Checksum([]byte("local edit")))

	items, err := f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 0)
}

func TestConflictPreferLocal(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	assert.Assert(t, f.db.Update(func(tx *bbolt.Tx) error {
		return mudb.CfgConflictPolicy.Set(string(mutypes.PolicyPreferLocal), tx)
	}) == nil)

	_, err := f.mem.Write(ctx, "/entry1.json", []byte("remote edit"), false)
	assert.Assert(t, err == nil)

	f.adapter.contents["entry1"] = []byte("local edit")

	_, err = f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/entry1.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	// local side won, no sibling copy
	remote, err := f.mem.GetByPath(ctx, "/entry1.json")
	assert.Assert(t, err == nil)
	assert.EqualString(t, remote.Checksum, f.mem.Checksum([]byte("local edit")))
	assert.Assert(t, f.mem.ObjectCount() == 1)
}

func TestUploadAlreadyInSync(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	_, err := f.mem.Write(ctx, "/entry1.json", []byte("same"), false)
	assert.Assert(t, err == nil)

	f.adapter.contents["entry1"] = []byte("same")

	_, err = f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/entry1.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	assert.Assert(t, f.mem.ObjectCount() == 1)

	items, err := f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 0)
}

func TestDownload(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	_, err := f.mem.Write(ctx, "/entry1.json", []byte("from remote"), false)
	assert.Assert(t, err == nil)

	_, err = f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionDownload, "/entry1.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	f.adapter.mu.Lock()
	saved := f.adapter.saved["entry1"]
	f.adapter.mu.Unlock()
	assert.EqualString(t, string(saved), "from remote")
	assert.Assert(t, !f.adapter.syncedAt("entry1").IsZero())
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	// nothing at the path, delete still succeeds
	_, err := f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionDelete, "/never-existed.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	items, err := f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 0)
}

func TestRetryCeiling(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	f.adapter.contents["entry1"] = []byte("x")

	f.mem.FailOp = func(op string) error {
		return mutypes.TransientErrorf("backend flaking on %s", op)
	}

	_, err := f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/entry1.json", true)
	assert.Assert(t, err == nil)

	for i := 0; i < mutypes.MaxItemRetries; i++ {
		assert.Assert(t, f.engine.Drain(ctx) == nil)
	}

	items, err := f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 1)
	assert.Assert(t, items[0].Terminal())
	assert.Assert(t, items[0].RetryCount == mutypes.MaxItemRetries)
	assert.Assert(t, items[0].LastError != "")

	status, err := f.engine.OverallStatus()
	assert.Assert(t, err == nil)
	assert.Assert(t, status == mutypes.StatusError)

	// terminal items are skipped by subsequent drains
	assert.Assert(t, f.engine.Drain(ctx) == nil)
	items, err = f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, items[0].RetryCount == mutypes.MaxItemRetries)

	// manual retry with a healthy backend recovers
	f.mem.FailOp = nil
	assert.Assert(t, f.engine.Queue().ResetForRetry(items[0].ID) == nil)
	assert.Assert(t, f.engine.Drain(ctx) == nil)

	items, err = f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 0)
}

func TestConfigurationErrorGoesTerminalImmediately(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	// no adapter for this record type
	_, err := f.engine.Queue().Enqueue("tasks:t1", "c1", mutypes.ActionUpload, "/t1.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	items, err := f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 1)
	assert.Assert(t, items[0].Terminal())
}

func TestProviderUnavailableLeavesOthersAlone(t *testing.T) {
	f := testEngine(t)
	ctx := context.Background()

	assert.Assert(t, f.connections.Save(&mutypes.Connection{
		ID:       "c2",
		UserID:   "u1",
		Kind:     mutypes.ProviderKindS3,
		SyncRoot: "/Apps/muisto",
	}) == nil)

	mem := f.mem
	f.engine.liveProvider = func(ctx context.Context, connectionID string) (muprovider.Provider, error) {
		if connectionID == "c2" {
			return nil, mutypes.TransientErrorf("endpoint unreachable")
		}
		return mem, nil
	}

	f.adapter.contents["a"] = []byte("a")
	f.adapter.contents["b"] = []byte("b")

	_, err := f.engine.Queue().Enqueue("journal:a", "c1", mutypes.ActionUpload, "/a.json", true)
	assert.Assert(t, err == nil)
	_, err = f.engine.Queue().Enqueue("journal:b", "c2", mutypes.ActionUpload, "/b.json", true)
	assert.Assert(t, err == nil)

	assert.Assert(t, f.engine.Drain(ctx) == nil)

	// healthy connection synced
	_, err = mem.GetByPath(ctx, "/a.json")
	assert.Assert(t, err == nil)

	// broken connection's item got retry-accounted, not lost
	items, err := f.engine.Queue().ByConnection("c2")
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 1)
	assert.Assert(t, items[0].RetryCount == 1)
}

func TestOfflineEnqueueThenReconnect(t *testing.T) {
	f := testEngine(t)

	f.engine.SetOnline(false)

	f.adapter.contents["entry1"] = []byte("queued while offline")

	item, err := f.engine.Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/entry1.json")
	assert.Assert(t, err == nil)
	assert.Assert(t, item.Status == mutypes.ItemOffline)

	status, err := f.engine.OverallStatus()
	assert.Assert(t, err == nil)
	assert.Assert(t, status == mutypes.StatusOffline)

	f.engine.SetOnline(true)

	// reconnect kicks an async drain; wait for it to land
	deadline := time.Now().Add(2 * time.Second)
	for {
		items, err := f.engine.Queue().All()
		assert.Assert(t, err == nil)

		if len(items) == 0 {
			break
		}

		if time.Now().After(deadline) {
			t.Fatal("queue never drained after reconnect")
		}

		time.Sleep(10 * time.Millisecond)
	}

	_, err = f.mem.GetByPath(context.Background(), "/entry1.json")
	assert.Assert(t, err == nil)
}

func TestStatusPrecedence(t *testing.T) {
	f := testEngine(t)

	// empty queue, online => synced
	status, err := f.engine.OverallStatus()
	assert.Assert(t, err == nil)
	assert.Assert(t, status == mutypes.StatusSynced)

	// pending item => pending
	item, err := f.engine.Queue().Enqueue("journal:a", "c1", mutypes.ActionUpload, "/a", true)
	assert.Assert(t, err == nil)

	status, err = f.engine.OverallStatus()
	assert.Assert(t, err == nil)
	assert.Assert(t, status == mutypes.StatusPending)

	// terminal item outranks pending
	item.Status = mutypes.ItemError
	item.RetryCount = mutypes.MaxItemRetries
	assert.Assert(t, f.engine.Queue().Update(item) == nil)

	status, err = f.engine.OverallStatus()
	assert.Assert(t, err == nil)
	assert.Assert(t, status == mutypes.StatusError)

	// offline outranks everything
	f.engine.SetOnline(false)

	status, err = f.engine.OverallStatus()
	assert.Assert(t, err == nil)
	assert.Assert(t, status == mutypes.StatusOffline)
}

func TestDrainIsSingleFlight(t *testing.T) {
	f := testEngine(t)

	f.adapter.contents["entry1"] = []byte("x")
	_, err := f.engine.Queue().Enqueue("journal:entry1", "c1", mutypes.ActionUpload, "/entry1.json", true)
	assert.Assert(t, err == nil)

	// someone else is draining
	unlock := f.engine.locks.Lock(drainLockName)

	assert.Assert(t, f.engine.Drain(context.Background()) == nil)

	// our drain was a no-op, item still queued
	items, err := f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 1)

	unlock()

	assert.Assert(t, f.engine.Drain(context.Background()) == nil)

	items, err = f.engine.Queue().All()
	assert.Assert(t, err == nil)
	assert.Assert(t, len(items) == 0)
}

func TestObserver(t *testing.T) {
	f := testEngine(t)

	sub := f.engine.Subscribe()

	f.engine.SetOnline(false)

	select {
	case status := <-sub.C:
		assert.Assert(t, status == mutypes.StatusOffline)
	case <-time.After(time.Second):
		t.Fatal("no status notification")
	}

	sub.Close()
	sub.Close() // idempotent

	// notification after unsubscribe must not panic
	f.engine.SetOnline(true)
}

func TestConflictCopyPath(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 23, 11, 0, time.UTC)

	assert.EqualString(t,
		conflictCopyPath("/App/journal/r1.json", at),
		"/App/journal/r1 (conflicted copy 2026-05-01 122311).json")

	assert.EqualString(t,
		conflictCopyPath("/r1.json", at),
		"/r1 (conflicted copy 2026-05-01 122311).json")

	// no extension
	assert.EqualString(t,
		conflictCopyPath("/notes/README", at),
		"/notes/README (conflicted copy 2026-05-01 122311)")
}
