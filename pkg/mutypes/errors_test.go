package mutypes

import (
	"errors"
	"fmt"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestKindOf(t *testing.T) {
	assert.Assert(t, KindOf(AuthErrorf("denied")) == ErrorAuth)
	assert.Assert(t, KindOf(NotFoundErrorf("gone")) == ErrorNotFound)

	// unclassified errors are treated as retryable
	assert.Assert(t, KindOf(errors.New("flaky socket")) == ErrorTransientNetwork)

	// classification survives wrapping
	wrapped := fmt.Errorf("while syncing: %w", ConflictErrorf("checksums differ"))
	assert.Assert(t, KindOf(wrapped) == ErrorConflict)
}

func TestIsKind(t *testing.T) {
	assert.Assert(t, IsKind(StorageUnavailablef("disk on fire"), ErrorStorageUnavailable))
	assert.Assert(t, !IsKind(nil, ErrorStorageUnavailable))
	assert.Assert(t, !IsKind(AuthErrorf("nope"), ErrorNotFound))
}

func TestWithCode(t *testing.T) {
	err := WithCode(TransientErrorf("rate limited"), "429")

	assert.EqualString(t, err.Error(), "transient_network (429): rate limited")
	assert.Assert(t, KindOf(err) == ErrorTransientNetwork)

	// non-taxonomy errors pass through unchanged
	plain := errors.New("plain")
	assert.Assert(t, WithCode(plain, "500") == plain)
}
