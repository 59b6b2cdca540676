package muprovider

import (
	"context"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

func TestMemoryWriteAndRead(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	written, err := mem.Write(ctx, "/App/journal/r1.json", []byte(`{"hello":1}`), false)
	assert.Assert(t, err == nil)
	assert.EqualString(t, written.Path, "/App/journal/r1.json")
	assert.EqualString(t, written.Checksum, mem.Checksum([]byte(`{"hello":1}`)))

	content, err := mem.Read(ctx, written.ID)
	assert.Assert(t, err == nil)
	assert.EqualString(t, string(content), `{"hello":1}`)
}

func TestMemoryNoOverwrite(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	_, err := mem.Write(ctx, "/r1", []byte("one"), false)
	assert.Assert(t, err == nil)

	_, err = mem.Write(ctx, "/r1", []byte("two"), false)
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorConflict))

	_, err = mem.Write(ctx, "/r1", []byte("two"), true)
	assert.Assert(t, err == nil)
}

func TestMemoryGetByPathNotFound(t *testing.T) {
	mem := NewMemory()

	_, err := mem.GetByPath(context.Background(), "/nope")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorNotFound))
}

func TestMemoryDelete(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	written, err := mem.Write(ctx, "/r1", []byte("x"), false)
	assert.Assert(t, err == nil)
	assert.Assert(t, mem.ObjectCount() == 1)

	assert.Assert(t, mem.Delete(ctx, written.ID) == nil)
	assert.Assert(t, mem.ObjectCount() == 0)

	// second delete reports not_found (the engine treats that as success)
	err = mem.Delete(ctx, written.ID)
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorNotFound))
}

func TestMemoryList(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for _, path := range []string{"/App/a", "/App/b", "/Other/c"} {
		_, err := mem.Write(ctx, path, []byte("x"), false)
		assert.Assert(t, err == nil)
	}

	files, cursor, err := mem.List(ctx, "/App", "")
	assert.Assert(t, err == nil)
	assert.EqualString(t, cursor, "")
	assert.Assert(t, len(files) == 2)
}

func TestMemoryOAuthOpsNotSupported(t *testing.T) {
	mem := NewMemory()

	_, err := mem.AuthorizationURL("http://localhost/cb", "state")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorNotSupported))

	_, err = mem.Refresh(context.Background(), "rt")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorNotSupported))
}
