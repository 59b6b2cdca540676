package musync

import (
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

func TestRecordIDRoundTrip(t *testing.T) {
	recordID := RecordID("journal", "2026-05-01-entry")
	assert.EqualString(t, recordID, "journal:2026-05-01-entry")

	recordType, localID := splitRecordID(recordID)
	assert.EqualString(t, recordType, "journal")
	assert.EqualString(t, localID, "2026-05-01-entry")

	// local ids may themselves contain the separator
	_, localID = splitRecordID("journal:weird:id")
	assert.EqualString(t, localID, "weird:id")
}

func TestAdapterRegistry(t *testing.T) {
	registry := NewAdapterRegistry()
	registry.Register(newTestAdapter("journal"))

	adapter, localID, err := registry.ForRecord("journal:entry1")
	assert.Assert(t, err == nil)
	assert.EqualString(t, adapter.RecordType(), "journal")
	assert.EqualString(t, localID, "entry1")

	_, _, err = registry.ForRecord("tasks:t1")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorConfiguration))
}
