package musync

import (
	"strings"
	"sync"
	"time"

	"github.com/muisto-app/muisto/pkg/mutypes"
)

// Bridge between the engine and one local record collection (journal entries,
// project lists, ..). The engine never interprets record content - adapters own the
// local representation, the engine just moves opaque bytes
type RecordAdapter interface {
	// record type this adapter serves, e.g. "journal"
	RecordType() string

	// found=false (with nil error) means the adapter can't produce content right
	// now - the engine then falls back to the buffered file cache
	LoadContent(localID string) (content []byte, mimeType string, found bool, err error)

	SaveContent(localID string, content []byte) error

	// called after a successful upload so the local record's SyncedAt advances
	MarkSynced(localID string, at time.Time) error
}

// record ids are "<type>:<localID>" so one queue serves all record collections
func RecordID(recordType string, localID string) string {
	return recordType + ":" + localID
}

func splitRecordID(recordID string) (string, string) {
	parts := strings.SplitN(recordID, ":", 2)
	if len(parts) != 2 {
		return "", recordID
	}

	return parts[0], parts[1]
}

type AdapterRegistry struct {
	mu     sync.Mutex
	byType map[string]RecordAdapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{byType: map[string]RecordAdapter{}}
}

func (a *AdapterRegistry) Register(adapter RecordAdapter) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.byType[adapter.RecordType()] = adapter
}

func (a *AdapterRegistry) ForRecord(recordID string) (RecordAdapter, string, error) {
	recordType, localID := splitRecordID(recordID)

	a.mu.Lock()
	adapter, found := a.byType[recordType]
	a.mu.Unlock()

	if !found {
		return nil, "", mutypes.ConfigurationErrorf("no adapter registered for record type %q", recordType)
	}

	return adapter, localID, nil
}
