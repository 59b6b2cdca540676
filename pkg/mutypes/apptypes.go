package mutypes

import (
	"time"
)

// provider-reported metadata for one remote object. used transiently for conflict
// comparison and existence checks - the provider stays the source of truth
type RemoteFile struct {
	ID       string // provider-assigned
	Path     string
	Checksum string // provider-specific content hash
	Size     int64
	Folder   bool
	Modified time.Time
}

// metadata the engine needs about a local record. content itself is owned by the
// record adapters and stays opaque to the sync core
type RecordMeta struct {
	ID       string
	Checksum string
	Created  time.Time
	Updated  time.Time
	SyncedAt time.Time // zero = never synced
	Deleted  bool
}

func (r *RecordMeta) NeedsSync() bool {
	return r.SyncedAt.IsZero() || r.Updated.After(r.SyncedAt)
}

// aggregated engine status, in order of display precedence
type SyncStatus string

const (
	StatusOffline SyncStatus = "offline"
	StatusSyncing SyncStatus = "syncing"
	StatusError   SyncStatus = "error"
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
)

type ConflictPolicy string

const (
	// write local content to a timestamped sibling path, leave remote object untouched
	PolicyCreateCopy ConflictPolicy = "create_copy"
	// overwrite the remote object
	PolicyPreferLocal ConflictPolicy = "prefer_local"
	// the engine has no interactive surface, so this degrades to prefer_local here.
	// prompting belongs to the UI layer
	PolicyAskUser ConflictPolicy = "ask_user"
)

// what the engine reports for one drained queue item
type ItemOutcome string

const (
	OutcomeUploaded   ItemOutcome = "uploaded"
	OutcomeDownloaded ItemOutcome = "downloaded"
	OutcomeDeleted    ItemOutcome = "deleted"
	OutcomeConflict   ItemOutcome = "conflict"
	OutcomeFailed     ItemOutcome = "failed"
)
