package blorm

import (
	"bytes"

	"go.etcd.io/bbolt"
)

/*	types of indices
	================

	setIndex (example: queue items in terminal error state)
	--------
	(" ", id) = nil

	valueIndex (example: queue items by connection)
	----------
	(connectionId, id) = nil
*/

var (
	StartFromFirst = []byte("")
)

type Index interface {
	// only for our internal use
	extractIndexRefs(record interface{}) []qualifiedIndexRef
}

// fully qualified index reference, including the index name
type qualifiedIndexRef struct {
	indexName []byte // looks like sync_queue:by_connection
	partition []byte // for setIndex this is always " "
	sortKey   []byte // primary key of the record the index entry refers to
}

func (i *qualifiedIndexRef) Equals(other *qualifiedIndexRef) bool {
	return bytes.Equal(i.indexName, other.indexName) &&
		bytes.Equal(i.partition, other.partition) &&
		bytes.Equal(i.sortKey, other.sortKey)
}

func (i *qualifiedIndexRef) Write(tx *bbolt.Tx) error {
	return indexBucketRefForWrite(i, tx).Put(i.sortKey, nil)
}

func (i *qualifiedIndexRef) Drop(tx *bbolt.Tx) error {
	return indexBucketRefForWrite(i, tx).Delete(i.sortKey)
}

func indexBucketRefForWrite(ref *qualifiedIndexRef, tx *bbolt.Tx) *bbolt.Bucket {
	indexBucket, err := tx.CreateBucketIfNotExists(ref.indexName)
	if err != nil {
		panic(err)
	}

	partitionBucket, err := indexBucket.CreateBucketIfNotExists(ref.partition)
	if err != nil {
		panic(err)
	}

	return partitionBucket
}

type SetIndexAPI interface {
	// return StopIteration if you want to stop mid-iteration (nil error will be
	// returned by Query() )
	Query(start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error
	Index
}

type ValueIndexAPI interface {
	// rules of SetIndexAPI.Query() apply here
	Query(partition []byte, start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error
	Index
}

type setIndex struct {
	repo            *SimpleRepository
	indexName       []byte // looks like <repoBucketName>:<indexName>
	memberEvaluator func(record interface{}) bool
}

func NewSetIndex(name string, repo *SimpleRepository, memberEvaluator func(record interface{}) bool) SetIndexAPI {
	idx := &setIndex{repo, mkIndexName(name, repo), memberEvaluator}

	repo.indices = append(repo.indices, idx)

	return idx
}

func (s *setIndex) extractIndexRefs(record interface{}) []qualifiedIndexRef {
	if s.memberEvaluator(record) {
		return []qualifiedIndexRef{
			{s.indexName, []byte(" "), s.repo.idExtractor(record)},
		}
	}

	return []qualifiedIndexRef{}
}

func (s *setIndex) Query(start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error {
	// " " because empty bucket name is not supported
	return indexQueryShared(s.indexName, []byte(" "), start, fn, tx)
}

type valueIndex struct {
	repo            *SimpleRepository
	indexName       []byte // looks like <repoBucketName>:<indexName>
	memberEvaluator func(record interface{}, push func(partition []byte))
}

func NewValueIndex(name string, repo *SimpleRepository, memberEvaluator func(record interface{}, push func(partition []byte))) ValueIndexAPI {
	idx := &valueIndex{repo, mkIndexName(name, repo), memberEvaluator}

	repo.indices = append(repo.indices, idx)

	return idx
}

func (v *valueIndex) extractIndexRefs(record interface{}) []qualifiedIndexRef {
	refs := []qualifiedIndexRef{}
	v.memberEvaluator(record, func(partition []byte) {
		if len(partition) == 0 {
			panic("cannot index by empty value")
		}

		refs = append(refs, qualifiedIndexRef{v.indexName, partition, v.repo.idExtractor(record)})
	})

	return refs
}

func (v *valueIndex) Query(partition []byte, start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error {
	return indexQueryShared(v.indexName, partition, start, fn, tx)
}

// used both by valueIndex and by setIndex
func indexQueryShared(
	indexName []byte,
	partition []byte,
	sortKeyStartInclusive []byte,
	fn func(sortKey []byte) error,
	tx *bbolt.Tx,
) error {
	indexBucket := tx.Bucket(indexName)
	if indexBucket == nil {
		return nil // index doesn't exist => no matching entries
	}

	partitionBucket := indexBucket.Bucket(partition)
	if partitionBucket == nil {
		return nil // partition bucket doesn't exist => no matching entries
	}

	idx := partitionBucket.Cursor()

	var sortKey []byte
	if bytes.Equal(sortKeyStartInclusive, StartFromFirst) {
		sortKey, _ = idx.First()
	} else {
		sortKey, _ = idx.Seek(sortKeyStartInclusive)
	}

	for ; sortKey != nil; sortKey, _ = idx.Next() {
		if err := fn(makeCopy(sortKey)); err != nil {
			if err == StopIteration {
				return nil
			}

			return err
		}
	}

	return nil
}

func indexRefExistsIn(ir qualifiedIndexRef, coll []qualifiedIndexRef) bool {
	for _, other := range coll {
		other := other // pin
		if ir.Equals(&other) {
			return true
		}
	}

	return false
}

// https://github.com/boltdb/bolt/issues/658#issuecomment-277898467
func makeCopy(from []byte) []byte {
	copied := make([]byte, len(from))
	copy(copied, from)
	return copied
}

func mkIndexName(name string, repo *SimpleRepository) []byte {
	return []byte(string(repo.bucketName) + ":" + name)
}
