package muconnection

import (
	"context"
	"errors"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/muprovider"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

// returned when a connection exists but can't currently yield a usable provider
// (tokens expired without refresh token, refresh denied, endpoint unreachable).
// the connection record's LastError carries the human-readable reason
var ErrNoProvider = errors.New("no provider available for connection")

// refresh this much before actual expiry so in-flight ops don't race the deadline
const tokenRefreshMargin = 2 * time.Minute

// resolves a connection id into a ready-to-use provider instance. cached instances
// are reused while they report authenticated; otherwise one is rebuilt from the
// stored auth material, refreshing OAuth tokens when they're stale
func (s *Store) LiveProvider(ctx context.Context, connectionID string) (muprovider.Provider, error) {
	s.mu.Lock()
	cached := s.live[connectionID]
	s.mu.Unlock()

	if cached != nil && cached.IsAuthenticated(ctx) {
		return cached, nil
	}

	conn, err := s.ByID(connectionID)
	if err != nil {
		return nil, err
	}

	if conn.Kind.OAuthFamily() {
		if err := s.ensureFreshTokens(ctx, conn); err != nil {
			return nil, err
		}
	}

	prov, err := muprovider.ForConnection(conn, s.app, logex.Prefix(string(conn.Kind), s.logger))
	if err != nil {
		if mutypes.IsKind(err, mutypes.ErrorAuth) {
			s.markDisconnected(conn, err.Error())
		}

		return nil, err
	}

	s.mu.Lock()
	s.live[connectionID] = prov
	s.mu.Unlock()

	return prov, nil
}

func (s *Store) Evict(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.live, connectionID)
}

// rotates the connection's token set if it's expired or about to. a refresh failure
// (or expiry without a refresh token) demotes the connection to disconnected instead
// of letting every sync op fail with the same auth error
func (s *Store) ensureFreshTokens(ctx context.Context, conn *mutypes.Connection) error {
	if conn.Tokens == nil {
		reason := "no OAuth tokens stored, authorization flow not completed"
		s.markDisconnected(conn, reason)
		return mutypes.AuthErrorf("%s: %v", conn.ID, ErrNoProvider)
	}

	if !conn.Tokens.Expired(s.now().Add(tokenRefreshMargin)) {
		return nil
	}

	if conn.Tokens.RefreshToken == "" {
		reason := "access token expired and provider granted no refresh token, re-authorization required"
		s.markDisconnected(conn, reason)
		return mutypes.AuthErrorf("%s: %v", conn.ID, ErrNoProvider)
	}

	prov, err := muprovider.ForConnection(conn, s.app, logex.Prefix(string(conn.Kind), s.logger))
	if err != nil {
		return err
	}

	rotated, err := prov.Refresh(ctx, conn.Tokens.RefreshToken)
	if err != nil {
		s.markDisconnected(conn, "token refresh: "+err.Error())
		return mutypes.AuthErrorf("%s: %v", conn.ID, ErrNoProvider)
	}

	s.logl.Info.Printf("rotated OAuth tokens for connection %s", conn.ID)

	conn.Tokens = rotated
	conn.Connected = true
	conn.LastError = ""

	if err := s.Save(conn); err != nil {
		return err
	}

	s.Evict(conn.ID) // force rebuild on the new token set

	return nil
}

// periodic sweep (scheduler job) that proactively rotates token sets nearing expiry,
// so interactive syncs rarely pay the refresh round trip
func (s *Store) RefreshExpiringTokens(ctx context.Context, userID string) error {
	connections, err := s.ListByUser(userID)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		conn := conn // pin
		if !conn.Kind.OAuthFamily() || !conn.Connected || conn.Tokens == nil {
			continue
		}

		if !conn.Tokens.Expired(s.now().Add(10 * time.Minute)) {
			continue
		}

		if err := s.ensureFreshTokens(ctx, &conn); err != nil {
			// already reflected in the connection record, sweep moves on
			s.logl.Error.Printf("token sweep %s: %v", conn.ID, err)
		}
	}

	return nil
}
