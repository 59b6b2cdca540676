// Durable outbound sync intents plus the engine that drains them to providers
package musync

import (
	"errors"
	"time"

	"github.com/muisto-app/muisto/pkg/blorm"
	"github.com/muisto-app/muisto/pkg/mudb"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"go.etcd.io/bbolt"
)

// persistence wrapper around the sync_queue and file_cache buckets. every mutation
// is a committed bbolt tx, so intents survive process death
type Queue struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewQueue(db *bbolt.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// records a transfer intent. status starts as offline when we know connectivity is
// down, so the drain doesn't even try it until we're told we're back online
func (q *Queue) Enqueue(
	recordID string,
	connectionID string,
	action mutypes.SyncAction,
	remotePath string,
	online bool,
) (*mutypes.SyncQueueItem, error) {
	status := mutypes.ItemPending
	if !online {
		status = mutypes.ItemOffline
	}

	now := q.now()

	item := &mutypes.SyncQueueItem{
		ID:           mutypes.NewQueueItemID(now, connectionID, recordID),
		RecordID:     recordID,
		ConnectionID: connectionID,
		Action:       action,
		RemotePath:   remotePath,
		Status:       status,
		Created:      now,
	}

	if err := q.inTx(func(tx *bbolt.Tx) error {
		return mudb.SyncQueueRepository.Update(item, tx)
	}); err != nil {
		return nil, err
	}

	return item, nil
}

// items eligible for the next drain pass, in FIFO enqueue order (primary key order,
// since the key embeds creation instant first). terminal errors are skipped
func (q *Queue) ItemsForDrain() ([]mutypes.SyncQueueItem, error) {
	items := []mutypes.SyncQueueItem{}

	if err := q.inReadTx(func(tx *bbolt.Tx) error {
		return mudb.SyncQueueRepository.Each(func(record interface{}) error {
			item := record.(*mutypes.SyncQueueItem)

			if item.Status == mutypes.ItemPending {
				items = append(items, *item)
			}

			return nil
		}, tx)
	}); err != nil {
		return nil, err
	}

	return items, nil
}

func (q *Queue) All() ([]mutypes.SyncQueueItem, error) {
	items := []mutypes.SyncQueueItem{}

	if err := q.inReadTx(func(tx *bbolt.Tx) error {
		return mudb.SyncQueueRepository.Each(mudb.QueueItemAppender(&items), tx)
	}); err != nil {
		return nil, err
	}

	return items, nil
}

func (q *Queue) ByConnection(connectionID string) ([]mutypes.SyncQueueItem, error) {
	items := []mutypes.SyncQueueItem{}

	if err := q.inReadTx(func(tx *bbolt.Tx) error {
		var err error
		items, err = mudb.Read(tx).QueueItemsByConnection(connectionID)
		return err
	}); err != nil {
		return nil, err
	}

	return items, nil
}

func (q *Queue) Update(item *mutypes.SyncQueueItem) error {
	return q.inTx(func(tx *bbolt.Tx) error {
		return mudb.SyncQueueRepository.Update(item, tx)
	})
}

// removing an already-removed item is a no-op, so completion races stay harmless
func (q *Queue) Remove(itemID string) error {
	return q.inTx(func(tx *bbolt.Tx) error {
		item, err := mudb.Read(tx).SyncQueueItem(itemID)
		if err == blorm.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return mudb.SyncQueueRepository.Delete(item, tx)
	})
}

// manual retry of a terminal item: zero the retry count and put it back in line
func (q *Queue) ResetForRetry(itemID string) error {
	return q.inTx(func(tx *bbolt.Tx) error {
		item, err := mudb.Read(tx).SyncQueueItem(itemID)
		if err == blorm.ErrNotFound {
			return mutypes.NotFoundErrorf("queue item %s not found", itemID)
		}
		if err != nil {
			return err
		}

		item.Status = mutypes.ItemPending
		item.RetryCount = 0
		item.LastError = ""

		return mudb.SyncQueueRepository.Update(item, tx)
	})
}

// flips offline-parked items back to pending. called on the offline -> online edge
func (q *Queue) WakeOfflineItems() (int, error) {
	woken := 0

	err := q.inTx(func(tx *bbolt.Tx) error {
		items, err := mudb.Read(tx).QueueItemsByStatus(mutypes.ItemOffline)
		if err != nil {
			return err
		}

		for _, item := range items {
			item := item // pin
			item.Status = mutypes.ItemPending

			if err := mudb.SyncQueueRepository.Update(&item, tx); err != nil {
				return err
			}

			woken++
		}

		return nil
	})

	return woken, err
}

// buffered content for records whose adapter can't produce content at drain time
func (q *Queue) PutCachedContent(recordID string, content []byte, mimeType string) error {
	return q.inTx(func(tx *bbolt.Tx) error {
		return mudb.FileCacheRepository.Update(&mutypes.CachedFile{
			RecordID: recordID,
			Content:  content,
			MimeType: mimeType,
			Created:  q.now(),
		}, tx)
	})
}

func (q *Queue) CachedContent(recordID string) (*mutypes.CachedFile, error) {
	var cached *mutypes.CachedFile

	if err := q.inReadTx(func(tx *bbolt.Tx) error {
		var err error
		cached, err = mudb.Read(tx).CachedFile(recordID)
		return err
	}); err != nil {
		if err == blorm.ErrNotFound {
			return nil, mutypes.NotFoundErrorf("no cached content for record %s", recordID)
		}

		return nil, err
	}

	return cached, nil
}

func (q *Queue) DropCachedContent(recordID string) error {
	return q.inTx(func(tx *bbolt.Tx) error {
		cached, err := mudb.Read(tx).CachedFile(recordID)
		if err == blorm.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return mudb.FileCacheRepository.Delete(cached, tx)
	})
}

func (q *Queue) inTx(fn func(tx *bbolt.Tx) error) error {
	if err := q.db.Update(fn); err != nil {
		// already-classified errors pass through, raw storage failures get classified here
		opErr := &mutypes.OpError{}
		if err == blorm.ErrNotFound || errors.As(err, &opErr) {
			return err
		}

		return mutypes.StorageUnavailablef("sync queue: %v", err)
	}

	return nil
}

func (q *Queue) inReadTx(fn func(tx *bbolt.Tx) error) error {
	tx, err := q.db.Begin(false)
	if err != nil {
		return mutypes.StorageUnavailablef("sync queue: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}
