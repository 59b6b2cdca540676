package murecord

import (
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestSaveAndLoad(t *testing.T) {
	adapter := NewDirAdapter("journal", t.TempDir(), "application/json")

	content, _, found, err := adapter.LoadContent("entry1.json")
	assert.Assert(t, err == nil)
	assert.Assert(t, !found)

	assert.Assert(t, adapter.SaveContent("entry1.json", []byte(`{"text":"hi"}`)) == nil)

	content, mimeType, found, err := adapter.LoadContent("entry1.json")
	assert.Assert(t, err == nil)
	assert.Assert(t, found)
	assert.EqualString(t, string(content), `{"text":"hi"}`)
	assert.EqualString(t, mimeType, "application/json")
}

func TestMarkSynced(t *testing.T) {
	adapter := NewDirAdapter("journal", t.TempDir(), "application/json")

	assert.Assert(t, adapter.SaveContent("entry1.json", []byte("x")) == nil)

	syncedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Assert(t, adapter.MarkSynced("entry1.json", syncedAt) == nil)

	meta, err := adapter.Meta("entry1.json")
	assert.Assert(t, err == nil)
	assert.Assert(t, meta.SyncedAt.Equal(syncedAt))
	assert.Assert(t, meta.Checksum != "")
	assert.Assert(t, !meta.Deleted)
}

func TestMetaForAbsentRecord(t *testing.T) {
	adapter := NewDirAdapter("journal", t.TempDir(), "application/json")

	meta, err := adapter.Meta("never-created.json")
	assert.Assert(t, err == nil)
	assert.Assert(t, meta.Deleted)
}

func TestRejectsTraversalIds(t *testing.T) {
	adapter := NewDirAdapter("journal", t.TempDir(), "application/json")

	for _, evil := range []string{"", "../../etc/passwd", "a/b", `a\b`, "a..b"} {
		_, _, _, err := adapter.LoadContent(evil)
		assert.Assert(t, err != nil)
	}
}
