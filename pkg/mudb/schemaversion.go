package mudb

import (
	"encoding/binary"

	"github.com/muisto-app/muisto/pkg/blorm"
	"go.etcd.io/bbolt"
)

const (
	CurrentSchemaVersion = 1
)

var (
	metaBucketKey    = []byte("_meta")
	schemaVersionKey = []byte("schemaVersion")
)

// returns blorm.ErrBucketNotFound if version not found
func ReadSchemaVersion(tx *bbolt.Tx) (uint32, error) {
	metaBucket := tx.Bucket(metaBucketKey)
	if metaBucket == nil {
		return 0, blorm.ErrBucketNotFound
	}

	return binary.LittleEndian.Uint32(metaBucket.Get(schemaVersionKey)), nil
}

func WriteSchemaVersion(version uint32, tx *bbolt.Tx) error {
	metaBucket, err := tx.CreateBucketIfNotExists(metaBucketKey)
	if err != nil {
		return err
	}

	schemaVersionInDb := make([]byte, 4)
	binary.LittleEndian.PutUint32(schemaVersionInDb, version)

	return metaBucket.Put(schemaVersionKey, schemaVersionInDb)
}
