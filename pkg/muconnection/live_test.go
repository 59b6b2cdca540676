package muconnection

import (
	"context"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

func TestExpiredTokensWithoutRefreshTokenDisconnects(t *testing.T) {
	store, _ := testStore(t)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	assert.Assert(t, store.Save(&mutypes.Connection{
		ID:     "gd1",
		UserID: "u1",
		Kind:   mutypes.ProviderKindGoogleDrive,
		Tokens: &mutypes.OAuthTokenSet{
			AccessToken: "stale",
			Expiry:      now.Add(-time.Hour),
			// no refresh token granted
		},
		Connected: true,
	}) == nil)

	_, err := store.LiveProvider(context.Background(), "gd1")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorAuth))

	// demotion is persisted: user sees why syncing stopped
	conn, getErr := store.ByID("gd1")
	assert.Assert(t, getErr == nil)
	assert.Assert(t, !conn.Connected)
	assert.Assert(t, conn.LastError != "")
}

func TestMissingTokensDisconnects(t *testing.T) {
	store, _ := testStore(t)

	assert.Assert(t, store.Save(&mutypes.Connection{
		ID:        "gd2",
		UserID:    "u1",
		Kind:      mutypes.ProviderKindGoogleDrive,
		Connected: true,
	}) == nil)

	_, err := store.LiveProvider(context.Background(), "gd2")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorAuth))
}

func TestLiveProviderUnknownConnection(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.LiveProvider(context.Background(), "ghost")
	assert.Assert(t, mutypes.IsKind(err, mutypes.ErrorNotFound))
}
