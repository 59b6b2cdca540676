// Encapsulates access to the local metadata database
package mudb

import (
	"github.com/muisto-app/muisto/pkg/blorm"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

// re-export so not all mudb-importing packages have to import blorm
var (
	StartFromFirst = blorm.StartFromFirst
	StopIteration  = blorm.StopIteration
)

var ConnectionRepository = register("Connection", blorm.NewSimpleRepo(
	"connections",
	func() interface{} { return &mutypes.Connection{} },
	func(record interface{}) []byte { return []byte(record.(*mutypes.Connection).ID) }))

var ConnectionsByUserIndex = blorm.NewValueIndex("by_user", ConnectionRepository, func(record interface{}, push func(partition []byte)) {
	conn := record.(*mutypes.Connection)

	push([]byte(conn.UserID))
})

var SyncQueueRepository = register("SyncQueueItem", blorm.NewSimpleRepo(
	"sync_queue",
	func() interface{} { return &mutypes.SyncQueueItem{} },
	func(record interface{}) []byte { return []byte(record.(*mutypes.SyncQueueItem).ID) }))

var QueueByConnectionIndex = blorm.NewValueIndex("by_connection", SyncQueueRepository, func(record interface{}, push func(partition []byte)) {
	item := record.(*mutypes.SyncQueueItem)

	push([]byte(item.ConnectionID))
})

var QueueByStatusIndex = blorm.NewValueIndex("by_status", SyncQueueRepository, func(record interface{}, push func(partition []byte)) {
	item := record.(*mutypes.SyncQueueItem)

	push([]byte(item.Status))
})

var FileCacheRepository = register("CachedFile", blorm.NewSimpleRepo(
	"file_cache",
	func() interface{} { return &mutypes.CachedFile{} },
	func(record interface{}) []byte { return []byte(record.(*mutypes.CachedFile).RecordID) }))

var configRepository = register("Config", blorm.NewSimpleRepo(
	"config",
	func() interface{} { return &mutypes.Config{} },
	func(record interface{}) []byte { return []byte(record.(*mutypes.Config).Key) }))

// appenders. Go surely would need some generic love..

func ConnectionAppender(slice *[]mutypes.Connection) func(record interface{}) error {
	return func(record interface{}) error {
		*slice = append(*slice, *record.(*mutypes.Connection))
		return nil
	}
}

func QueueItemAppender(slice *[]mutypes.SyncQueueItem) func(record interface{}) error {
	return func(record interface{}) error {
		*slice = append(*slice, *record.(*mutypes.SyncQueueItem))
		return nil
	}
}

// key is the heading under which records are dumped in DB exports
var RepoByRecordType = map[string]blorm.Repository{}

func register(exportImportKey string, repo *blorm.SimpleRepository) *blorm.SimpleRepository {
	RepoByRecordType[exportImportKey] = repo
	return repo
}
