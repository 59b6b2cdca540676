// Durable record of each user's configured backend connections, plus the lifecycle
// that keeps their live provider instances usable
package muconnection

import (
	"log"
	"sync"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/blorm"
	"github.com/muisto-app/muisto/pkg/mudb"
	"github.com/muisto-app/muisto/pkg/muprovider"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"go.etcd.io/bbolt"
)

type Store struct {
	db     *bbolt.DB
	app    muprovider.OAuthAppConfig
	logger *log.Logger
	logl   *logex.Leveled

	// live provider instances, keyed by connection id. owned by this store instance
	// (not a module-level singleton), invalidated explicitly on disconnect/remove
	mu   sync.Mutex
	live map[string]muprovider.Provider

	now func() time.Time
}

func NewStore(db *bbolt.DB, app muprovider.OAuthAppConfig, logger *log.Logger) *Store {
	return &Store{
		db:     db,
		app:    app,
		logger: logger,
		logl:   logex.Levels(logex.NonNil(logger)),
		live:   map[string]muprovider.Provider{},
		now:    time.Now,
	}
}

// persists a connection. if it's flagged default, every other connection of the same
// user gets its default flag cleared first (sequential per record, no cross-record
// transaction required by our isolation model - but bbolt gives us one anyway)
func (s *Store) Save(conn *mutypes.Connection) error {
	if err := validateAuthPayload(conn); err != nil {
		return err
	}

	tx, err := s.db.Begin(true)
	if err != nil {
		return mutypes.StorageUnavailablef("save connection: %v", err)
	}
	defer func() { ignoreError(tx.Rollback()) }()

	if conn.Created.IsZero() {
		conn.Created = s.now()
	}
	conn.Updated = s.now()

	if conn.Default {
		others, err := mudb.Read(tx).ConnectionsByUser(conn.UserID)
		if err != nil {
			return err
		}

		for _, other := range others {
			other := other // pin
			if other.ID == conn.ID || !other.Default {
				continue
			}

			other.Default = false
			other.Updated = s.now()

			if err := mudb.ConnectionRepository.Update(&other, tx); err != nil {
				return err
			}
		}
	}

	if err := mudb.ConnectionRepository.Update(conn, tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ByID(id string) (*mutypes.Connection, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, mutypes.StorageUnavailablef("read connection: %v", err)
	}
	defer func() { ignoreError(tx.Rollback()) }()

	conn, err := mudb.Read(tx).Connection(id)
	if err == blorm.ErrNotFound {
		return nil, mutypes.NotFoundErrorf("connection %s not found", id)
	}

	return conn, err
}

func (s *Store) ListByUser(userID string) ([]mutypes.Connection, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, mutypes.StorageUnavailablef("list connections: %v", err)
	}
	defer func() { ignoreError(tx.Rollback()) }()

	return mudb.Read(tx).ConnectionsByUser(userID)
}

// the connection flagged default, else the first one, else not_found
func (s *Store) GetDefault(userID string) (*mutypes.Connection, error) {
	connections, err := s.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	for _, conn := range connections {
		conn := conn // pin
		if conn.Default {
			return &conn, nil
		}
	}

	if len(connections) > 0 {
		first := connections[0]
		return &first, nil
	}

	return nil, mutypes.NotFoundErrorf("user %s has no connections", userID)
}

// deletes the record and evicts any cached live provider for it
func (s *Store) Remove(id string) error {
	tx, err := s.db.Begin(true)
	if err != nil {
		return mutypes.StorageUnavailablef("remove connection: %v", err)
	}
	defer func() { ignoreError(tx.Rollback()) }()

	conn, err := mudb.Read(tx).Connection(id)
	if err == blorm.ErrNotFound {
		return nil // remove of absent = success
	}
	if err != nil {
		return err
	}

	if err := mudb.ConnectionRepository.Delete(conn, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.Evict(id)

	return nil
}

// notes a successful sync pass for the connection
func (s *Store) TouchSynced(id string, at time.Time) error {
	conn, err := s.ByID(id)
	if err != nil {
		return err
	}

	conn.LastSyncAt = at
	conn.Connected = true
	conn.LastError = ""

	return s.Save(conn)
}

// demotes a connection after an irrecoverable auth failure observed mid-operation
// (expired grant revoked upstream etc.)
func (s *Store) MarkDisconnected(id string, reason string) error {
	conn, err := s.ByID(id)
	if err != nil {
		return err
	}

	s.markDisconnected(conn, reason)

	return nil
}

func (s *Store) markDisconnected(conn *mutypes.Connection, reason string) {
	s.logl.Error.Printf("connection %s disconnected: %s", conn.ID, reason)

	conn.Connected = false
	conn.LastError = reason

	if err := s.Save(conn); err != nil {
		s.logl.Error.Printf("markDisconnected save: %v", err)
	}

	s.Evict(conn.ID)
}

// a connection's auth payload must stay consistent with its provider kind - never
// both OAuth tokens and static credentials meaningfully populated
func validateAuthPayload(conn *mutypes.Connection) error {
	if conn.Kind.OAuthFamily() {
		if conn.Credentials != nil {
			return mutypes.ConfigurationErrorf("%s: OAuth-family connection can't carry static credentials", conn.Kind)
		}
	} else {
		if conn.Tokens != nil {
			return mutypes.ConfigurationErrorf("%s: credential-family connection can't carry OAuth tokens", conn.Kind)
		}
	}

	return nil
}

func ignoreError(err error) {
	// no-op
}
