package muserver

import (
	"net/http/httptest"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

func TestHttpErrorMapping(t *testing.T) {
	statusFor := func(err error) int {
		rec := httptest.NewRecorder()
		httpError(rec, err)
		return rec.Code
	}

	assert.Assert(t, statusFor(mutypes.NotFoundErrorf("gone")) == 404)
	assert.Assert(t, statusFor(mutypes.AuthErrorf("denied")) == 403)
	assert.Assert(t, statusFor(mutypes.ConfigurationErrorf("bad")) == 400)
	assert.Assert(t, statusFor(mutypes.ConflictErrorf("exists")) == 409)
	assert.Assert(t, statusFor(mutypes.StorageUnavailablef("disk")) == 503)
	assert.Assert(t, statusFor(mutypes.TransientErrorf("flaky")) == 500)
}

func TestOrDefaultSyncRoot(t *testing.T) {
	assert.EqualString(t, orDefaultSyncRoot(""), "/Apps/muisto")
	assert.EqualString(t, orDefaultSyncRoot("/custom"), "/custom")
}
