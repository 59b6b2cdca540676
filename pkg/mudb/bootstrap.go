package mudb

import (
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/cryptorandombytes"
	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/blorm"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"go.etcd.io/bbolt"
)

// opens the BoltDB database. failure here means "cannot reach local storage" and is
// reported as such to callers
func Open(dbLocation string) (*bbolt.DB, error) {
	db, err := bbolt.Open(dbLocation, 0700, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, mutypes.StorageUnavailablef("open %s: %v", dbLocation, err)
	}

	return db, nil
}

// set up buckets and seed data for an empty database
func Bootstrap(db *bbolt.DB, logger *log.Logger) error {
	logl := logex.Levels(logex.NonNil(logger))

	tx, err := db.Begin(true)
	if err != nil {
		return err
	}
	defer func() { ignoreError(tx.Rollback()) }()

	// be extra safe and scan the DB to see that it is totally empty
	if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		return fmt.Errorf("DB not empty, found bucket: %s", name)
	}); err != nil {
		return err
	}

	if err := BootstrapRepos(tx); err != nil {
		return err
	}

	deviceID := cryptorandombytes.Base64UrlWithoutLeadingDash(8)

	logl.Info.Printf("generated deviceId: %s", deviceID)

	results := []error{
		CfgDeviceID.Set(deviceID, tx),
		CfgDrainSchedule.Set("@every 5m", tx),
		CfgTokenSweepSchedule.Set("@every 30m", tx),
		CfgOAuthStateKey.Set(cryptorandombytes.Hex(32), tx),
		CfgConflictPolicy.Set(string(mutypes.PolicyCreateCopy), tx),
		WriteSchemaVersion(CurrentSchemaVersion, tx),
	}

	if err := allOk(results); err != nil {
		return err
	}

	return tx.Commit()
}

func BootstrapRepos(tx *bbolt.Tx) error {
	for _, repo := range RepoByRecordType {
		if err := repo.Bootstrap(tx); err != nil {
			return err
		}
	}

	return nil
}

// errors with blorm.ErrBucketNotFound for a virgin database (=> run Bootstrap)
func ValidateSchemaVersion(tx *bbolt.Tx) error {
	version, err := ReadSchemaVersion(tx)
	if err != nil {
		return err
	}

	if version != CurrentSchemaVersion {
		return fmt.Errorf("schema version %d not supported (expecting %d)", version, CurrentSchemaVersion)
	}

	return nil
}

// ErrNeedsBootstrap convenience for callers that don't want to import blorm
var ErrNeedsBootstrap = blorm.ErrBucketNotFound

func allOk(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func ignoreError(err error) {
	// no-op
}
