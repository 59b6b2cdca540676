package musync

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/muconnection"
	"github.com/muisto-app/muisto/pkg/mudb"
	"github.com/muisto-app/muisto/pkg/muprovider"
	"github.com/muisto-app/muisto/pkg/mutexmap"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"go.etcd.io/bbolt"
)

const (
	// ceiling for any one provider round trip so a hung request can't wedge a drain
	opTimeout = 30 * time.Second

	drainLockName = "drain"
)

// drains the durable queue to live providers. one Engine per process; all sync
// triggers funnel into Drain() which is single-flight
type Engine struct {
	db          *bbolt.DB
	queue       *Queue
	connections *muconnection.Store
	adapters    *AdapterRegistry
	metrics     *engineMetrics
	logl        *logex.Leveled

	// indirection over the connection store's provider resolution, so tests can
	// substitute the in-memory provider
	liveProvider func(ctx context.Context, connectionID string) (muprovider.Provider, error)

	// single-flight for the drain itself plus per-connection serialization
	locks *mutexmap.M

	mu       sync.Mutex
	online   bool
	draining bool
	subs     map[*Subscription]struct{}

	now func() time.Time
}

func NewEngine(
	db *bbolt.DB,
	connections *muconnection.Store,
	adapters *AdapterRegistry,
	logger *log.Logger,
) *Engine {
	e := &Engine{
		db:          db,
		queue:       NewQueue(db),
		connections: connections,
		adapters:    adapters,
		metrics:     newEngineMetrics(),
		logl:        logex.Levels(logex.NonNil(logger)),
		locks:       mutexmap.New(),
		online:      true,
		subs:        map[*Subscription]struct{}{},
		now:         time.Now,
	}
	e.liveProvider = connections.LiveProvider

	return e
}

func (e *Engine) Queue() *Queue {
	return e.queue
}

// records an intent and, when online, kicks an async drain. offline intents park
// in the queue until connectivity returns
func (e *Engine) Enqueue(
	recordID string,
	connectionID string,
	action mutypes.SyncAction,
	remotePath string,
) (*mutypes.SyncQueueItem, error) {
	item, err := e.queue.Enqueue(recordID, connectionID, action, remotePath, e.Online())
	if err != nil {
		return nil, err
	}

	e.notifyStatus()

	if e.Online() {
		e.kickDrain("enqueue")
	}

	return item, nil
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.online
}

// connectivity signal from the platform. the offline -> online edge wakes parked
// items and starts a drain
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	if online && !wasOnline {
		if woken, err := e.queue.WakeOfflineItems(); err != nil {
			e.logl.Error.Printf("waking offline items: %v", err)
		} else if woken > 0 {
			e.logl.Info.Printf("back online, %d parked item(s) woken", woken)
		}

		e.kickDrain("reconnect")
	}

	e.notifyStatus()
}

// explicit user-initiated sync
func (e *Engine) SyncNow(ctx context.Context) error {
	return e.Drain(ctx)
}

// app losing focus is a natural moment to flush. fire-and-forget
func (e *Engine) FocusLost() {
	e.kickDrain("focus lost")
}

func (e *Engine) kickDrain(reason string) {
	go func() {
		if err := e.Drain(context.Background()); err != nil {
			e.logl.Error.Printf("drain (%s): %v", reason, err)
		}
	}()
}

// processes every eligible queue item. single-flight: a Drain starting while one is
// in progress returns immediately without doing anything. items of different
// connections proceed concurrently, items of the same connection in FIFO order.
// only local storage failure propagates - per-item errors become queue item state
func (e *Engine) Drain(ctx context.Context) error {
	unlock, got := e.locks.TryLock(drainLockName)
	if !got {
		return nil
	}
	defer unlock()

	if !e.Online() {
		return nil
	}

	e.metrics.drains.Inc()

	e.setDraining(true)
	defer e.setDraining(false)

	policy := e.conflictPolicy()

	items, err := e.queue.ItemsForDrain()
	if err != nil {
		return err
	}

	// group by connection, preserving FIFO within each group
	connOrder := []string{}
	byConn := map[string][]mutypes.SyncQueueItem{}
	for _, item := range items {
		if _, seen := byConn[item.ConnectionID]; !seen {
			connOrder = append(connOrder, item.ConnectionID)
		}

		byConn[item.ConnectionID] = append(byConn[item.ConnectionID], item)
	}

	storageFailure := make(chan error, len(connOrder))

	wg := sync.WaitGroup{}
	for _, connectionID := range connOrder {
		wg.Add(1)

		go func(connectionID string, items []mutypes.SyncQueueItem) {
			defer wg.Done()

			if err := e.drainConnection(ctx, connectionID, items, policy); err != nil {
				storageFailure <- err
			}
		}(connectionID, byConn[connectionID])
	}
	wg.Wait()
	close(storageFailure)

	e.refreshQueueDepth()
	e.notifyStatus()

	// first storage failure wins, others look identical anyway
	return <-storageFailure
}

func (e *Engine) drainConnection(
	ctx context.Context,
	connectionID string,
	items []mutypes.SyncQueueItem,
	policy mutypes.ConflictPolicy,
) error {
	unlock := e.locks.Lock("connection:" + connectionID)
	defer unlock()

	prov, err := e.liveProvider(ctx, connectionID)
	if err != nil {
		if mutypes.IsKind(err, mutypes.ErrorStorageUnavailable) {
			return err
		}

		// no provider = every one of this connection's items fails this pass, but
		// other connections keep draining
		e.logl.Error.Printf("connection %s: %v", connectionID, err)

		for _, item := range items {
			item := item // pin
			if err := e.failItem(&item, err); err != nil {
				return err
			}
		}

		return nil
	}

	allOk := true

	for _, item := range items {
		item := item // pin

		outcome, opErr := e.processItem(ctx, prov, &item, policy)
		if opErr != nil {
			allOk = false

			if mutypes.IsKind(opErr, mutypes.ErrorAuth) {
				if err := e.connections.MarkDisconnected(connectionID, opErr.Error()); err != nil {
					e.logl.Error.Printf("demoting connection %s: %v", connectionID, err)
				}
			}

			if err := e.failItem(&item, opErr); err != nil {
				return err
			}

			continue
		}

		if err := e.finishItem(&item, outcome); err != nil {
			return err
		}
	}

	if allOk && len(items) > 0 {
		if err := e.connections.TouchSynced(connectionID, e.now()); err != nil {
			e.logl.Error.Printf("touch synced %s: %v", connectionID, err)
		}
	}

	return nil
}

func (e *Engine) processItem(
	ctx context.Context,
	prov muprovider.Provider,
	item *mutypes.SyncQueueItem,
	policy mutypes.ConflictPolicy,
) (mutypes.ItemOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch item.Action {
	case mutypes.ActionUpload:
		return e.processUpload(ctx, prov, item, policy)
	case mutypes.ActionDownload:
		return e.processDownload(ctx, prov, item)
	case mutypes.ActionDelete:
		return e.processDelete(ctx, prov, item)
	default:
		return mutypes.OutcomeFailed, mutypes.ConfigurationErrorf("unknown action %q", item.Action)
	}
}

func (e *Engine) processUpload(
	ctx context.Context,
	prov muprovider.Provider,
	item *mutypes.SyncQueueItem,
	policy mutypes.ConflictPolicy,
) (mutypes.ItemOutcome, error) {
	adapter, localID, err := e.adapters.ForRecord(item.RecordID)
	if err != nil {
		return mutypes.OutcomeFailed, err
	}

	content, _, err := e.loadUploadContent(adapter, localID, item.RecordID)
	if err != nil {
		return mutypes.OutcomeFailed, err
	}

	outcome := mutypes.OutcomeUploaded

	remote, err := prov.GetByPath(ctx, item.RemotePath)
	switch {
	case mutypes.IsKind(err, mutypes.ErrorNotFound):
		if _, err := prov.Write(ctx, item.RemotePath, content, false); err != nil {
			return mutypes.OutcomeFailed, err
		}
	case err != nil:
		return mutypes.OutcomeFailed, err
	case remote.Checksum == prov.Checksum(content):
		// remote already has exactly this content, nothing to transfer
	default:
		// remote changed under us. policy decides who wins
		outcome = mutypes.OutcomeConflict

		switch policy {
		case mutypes.PolicyCreateCopy:
			copyPath := conflictCopyPath(item.RemotePath, e.now())

			e.logl.Info.Printf("conflict at %s, keeping both (local copy at %s)", item.RemotePath, copyPath)

			if _, err := prov.Write(ctx, copyPath, content, false); err != nil {
				return mutypes.OutcomeFailed, err
			}
		case mutypes.PolicyPreferLocal, mutypes.PolicyAskUser:
			// ask_user degrades to prefer_local here: prompting is a UI concern and
			// this engine has no interactive surface
			if _, err := prov.Write(ctx, item.RemotePath, content, true); err != nil {
				return mutypes.OutcomeFailed, err
			}
		default:
			return mutypes.OutcomeFailed, mutypes.ConfigurationErrorf("unknown conflict policy %q", policy)
		}
	}

	if err := adapter.MarkSynced(localID, e.now()); err != nil {
		return mutypes.OutcomeFailed, err
	}

	if err := e.queue.DropCachedContent(item.RecordID); err != nil {
		e.logl.Error.Printf("dropping cached content for %s: %v", item.RecordID, err)
	}

	return outcome, nil
}

// adapter first, buffered file cache second
func (e *Engine) loadUploadContent(adapter RecordAdapter, localID string, recordID string) ([]byte, string, error) {
	content, mimeType, found, err := adapter.LoadContent(localID)
	if err != nil {
		return nil, "", err
	}
	if found {
		return content, mimeType, nil
	}

	cached, err := e.queue.CachedContent(recordID)
	if err != nil {
		if mutypes.IsKind(err, mutypes.ErrorNotFound) {
			return nil, "", mutypes.ConfigurationErrorf("record %s: no content from adapter nor cache", recordID)
		}

		return nil, "", err
	}

	return cached.Content, cached.MimeType, nil
}

func (e *Engine) processDownload(
	ctx context.Context,
	prov muprovider.Provider,
	item *mutypes.SyncQueueItem,
) (mutypes.ItemOutcome, error) {
	adapter, localID, err := e.adapters.ForRecord(item.RecordID)
	if err != nil {
		return mutypes.OutcomeFailed, err
	}

	remote, err := prov.GetByPath(ctx, item.RemotePath)
	if err != nil {
		return mutypes.OutcomeFailed, err
	}

	content, err := prov.Read(ctx, remote.ID)
	if err != nil {
		return mutypes.OutcomeFailed, err
	}

	if err := adapter.SaveContent(localID, content); err != nil {
		return mutypes.OutcomeFailed, err
	}

	if err := adapter.MarkSynced(localID, e.now()); err != nil {
		return mutypes.OutcomeFailed, err
	}

	return mutypes.OutcomeDownloaded, nil
}

// delete of an already-absent remote object counts as success, so replaying the
// same intent is harmless
func (e *Engine) processDelete(
	ctx context.Context,
	prov muprovider.Provider,
	item *mutypes.SyncQueueItem,
) (mutypes.ItemOutcome, error) {
	remote, err := prov.GetByPath(ctx, item.RemotePath)
	if mutypes.IsKind(err, mutypes.ErrorNotFound) {
		return mutypes.OutcomeDeleted, nil
	}
	if err != nil {
		return mutypes.OutcomeFailed, err
	}

	if err := prov.Delete(ctx, remote.ID); err != nil {
		if mutypes.IsKind(err, mutypes.ErrorNotFound) {
			return mutypes.OutcomeDeleted, nil
		}

		return mutypes.OutcomeFailed, err
	}

	return mutypes.OutcomeDeleted, nil
}

func (e *Engine) finishItem(item *mutypes.SyncQueueItem, outcome mutypes.ItemOutcome) error {
	e.metrics.itemOutcomes.WithLabelValues(string(outcome)).Inc()

	return e.queue.Remove(item.ID)
}

// retry accounting. configuration errors are hopeless to retry so they go terminal
// immediately; everything else gets the full retry budget
func (e *Engine) failItem(item *mutypes.SyncQueueItem, opErr error) error {
	e.metrics.itemOutcomes.WithLabelValues(string(mutypes.OutcomeFailed)).Inc()

	item.LastAttempt = e.now()
	item.LastError = opErr.Error()

	if mutypes.IsKind(opErr, mutypes.ErrorConfiguration) {
		item.RetryCount = mutypes.MaxItemRetries
	} else {
		item.RetryCount++
	}

	if item.RetryCount >= mutypes.MaxItemRetries {
		item.Status = mutypes.ItemError
		e.logl.Error.Printf("item %s terminal after %d attempts: %v", item.ID, item.RetryCount, opErr)
	} else {
		item.Status = mutypes.ItemPending
	}

	return e.queue.Update(item)
}

// aggregated engine status with fixed precedence:
// offline > syncing > error > pending > synced
func (e *Engine) OverallStatus() (mutypes.SyncStatus, error) {
	if !e.Online() {
		return mutypes.StatusOffline, nil
	}

	e.mu.Lock()
	draining := e.draining
	e.mu.Unlock()

	if draining {
		return mutypes.StatusSyncing, nil
	}

	items, err := e.queue.All()
	if err != nil {
		return "", err
	}

	anyError := false
	anyPending := false
	for _, item := range items {
		item := item // pin
		if item.Terminal() {
			anyError = true
		} else {
			anyPending = true
		}
	}

	switch {
	case anyError:
		return mutypes.StatusError, nil
	case anyPending:
		return mutypes.StatusPending, nil
	default:
		return mutypes.StatusSynced, nil
	}
}

func (e *Engine) setDraining(draining bool) {
	e.mu.Lock()
	e.draining = draining
	e.mu.Unlock()

	e.notifyStatus()
}

func (e *Engine) conflictPolicy() mutypes.ConflictPolicy {
	policy := mutypes.PolicyCreateCopy // the safe default: never lose either side

	if err := e.db.View(func(tx *bbolt.Tx) error {
		configured, err := mudb.CfgConflictPolicy.GetOptional(tx)
		if err != nil {
			return err
		}

		if configured != "" {
			policy = mutypes.ConflictPolicy(configured)
		}

		return nil
	}); err != nil {
		e.logl.Error.Printf("reading conflict policy: %v", err)
	}

	return policy
}

func (e *Engine) refreshQueueDepth() {
	items, err := e.queue.All()
	if err != nil {
		return
	}

	depth := 0
	for _, item := range items {
		item := item // pin
		if !item.Terminal() {
			depth++
		}
	}

	e.metrics.queueDepth.Set(float64(depth))
}

// "/App/journal/r1.json" => "/App/journal/r1 (conflicted copy 2026-08-28 152311).json"
func conflictCopyPath(path string, now time.Time) string {
	parent, leaf := muprovider.ParentAndLeaf(path)

	ext := ""
	if idx := strings.LastIndex(leaf, "."); idx > 0 {
		ext = leaf[idx:]
		leaf = leaf[:idx]
	}

	stamped := leaf + " (conflicted copy " + now.Format("2006-01-02 150405") + ")" + ext

	if parent == "/" {
		return "/" + stamped
	}

	return parent + "/" + stamped
}
