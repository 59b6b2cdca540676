package mudb

import (
	"github.com/muisto-app/muisto/pkg/mutypes"
	"go.etcd.io/bbolt"
)

type dbQueries struct {
	tx *bbolt.Tx
}

func Read(tx *bbolt.Tx) *dbQueries {
	return &dbQueries{tx}
}

func (d *dbQueries) Connection(id string) (*mutypes.Connection, error) {
	record := &mutypes.Connection{}
	if err := ConnectionRepository.OpenByPrimaryKey([]byte(id), record, d.tx); err != nil {
		return nil, err
	}

	return record, nil
}

func (d *dbQueries) ConnectionsByUser(userID string) ([]mutypes.Connection, error) {
	connections := []mutypes.Connection{}

	return connections, ConnectionsByUserIndex.Query([]byte(userID), StartFromFirst, func(id []byte) error {
		conn, err := d.Connection(string(id))
		if err != nil {
			return err
		}

		connections = append(connections, *conn)

		return nil
	}, d.tx)
}

func (d *dbQueries) SyncQueueItem(id string) (*mutypes.SyncQueueItem, error) {
	record := &mutypes.SyncQueueItem{}
	if err := SyncQueueRepository.OpenByPrimaryKey([]byte(id), record, d.tx); err != nil {
		return nil, err
	}

	return record, nil
}

func (d *dbQueries) QueueItemsByConnection(connectionID string) ([]mutypes.SyncQueueItem, error) {
	items := []mutypes.SyncQueueItem{}

	return items, QueueByConnectionIndex.Query([]byte(connectionID), StartFromFirst, func(id []byte) error {
		item, err := d.SyncQueueItem(string(id))
		if err != nil {
			return err
		}

		items = append(items, *item)

		return nil
	}, d.tx)
}

func (d *dbQueries) QueueItemsByStatus(status mutypes.QueueItemStatus) ([]mutypes.SyncQueueItem, error) {
	items := []mutypes.SyncQueueItem{}

	return items, QueueByStatusIndex.Query([]byte(status), StartFromFirst, func(id []byte) error {
		item, err := d.SyncQueueItem(string(id))
		if err != nil {
			return err
		}

		items = append(items, *item)

		return nil
	}, d.tx)
}

func (d *dbQueries) CachedFile(recordID string) (*mutypes.CachedFile, error) {
	record := &mutypes.CachedFile{}
	if err := FileCacheRepository.OpenByPrimaryKey([]byte(recordID), record, d.tx); err != nil {
		return nil, err
	}

	return record, nil
}
