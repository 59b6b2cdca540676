package mudb

import (
	"path/filepath"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"go.etcd.io/bbolt"
)

func TestBootstrap(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "muisto.db"))
	assert.Assert(t, err == nil)
	defer db.Close()

	// virgin database asks for bootstrap
	err = db.View(func(tx *bbolt.Tx) error {
		return ValidateSchemaVersion(tx)
	})
	assert.Assert(t, err == ErrNeedsBootstrap)

	assert.Assert(t, Bootstrap(db, logex.Discard) == nil)

	assert.Assert(t, db.View(func(tx *bbolt.Tx) error {
		if err := ValidateSchemaVersion(tx); err != nil {
			return err
		}

		deviceID, err := CfgDeviceID.GetRequired(tx)
		assert.Assert(t, err == nil)
		assert.Assert(t, deviceID != "")

		schedule, err := CfgDrainSchedule.GetRequired(tx)
		assert.Assert(t, err == nil)
		assert.EqualString(t, schedule, "@every 5m")

		policy, err := CfgConflictPolicy.GetRequired(tx)
		assert.Assert(t, err == nil)
		assert.EqualString(t, policy, string(mutypes.PolicyCreateCopy))

		stateKey, err := CfgOAuthStateKey.GetRequired(tx)
		assert.Assert(t, err == nil)
		assert.Assert(t, len(stateKey) == 64) // 32 bytes hex-encoded

		return nil
	}) == nil)

	// double bootstrap refuses
	assert.Assert(t, Bootstrap(db, logex.Discard) != nil)
}

func TestConfigAccessor(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "muisto.db"))
	assert.Assert(t, err == nil)
	defer db.Close()

	assert.Assert(t, Bootstrap(db, logex.Discard) == nil)

	accessor := ConfigAccessor("testKey")

	assert.Assert(t, db.View(func(tx *bbolt.Tx) error {
		val, err := accessor.GetOptional(tx)
		assert.Assert(t, err == nil)
		assert.EqualString(t, val, "")

		_, err = accessor.GetRequired(tx)
		assert.Assert(t, err != nil)

		return nil
	}) == nil)

	assert.Assert(t, db.Update(func(tx *bbolt.Tx) error {
		return accessor.Set("testValue", tx)
	}) == nil)

	assert.Assert(t, db.View(func(tx *bbolt.Tx) error {
		val, err := accessor.GetRequired(tx)
		assert.Assert(t, err == nil)
		assert.EqualString(t, val, "testValue")

		return nil
	}) == nil)
}
