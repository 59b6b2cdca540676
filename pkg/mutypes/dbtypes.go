package mutypes

import (
	"fmt"
	"time"
)

type ProviderKind string

const (
	ProviderKindGoogleDrive ProviderKind = "googledrive"
	ProviderKindS3          ProviderKind = "s3"
)

// OAuthFamily tells whether the provider authenticates with OAuth tokens
// (as opposed to static credentials)
func (p ProviderKind) OAuthFamily() bool {
	return p == ProviderKindGoogleDrive
}

type OAuthTokenSet struct {
	AccessToken  string
	RefreshToken string // empty if the provider didn't grant one
	TokenType    string
	Expiry       time.Time
}

func (t *OAuthTokenSet) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

type StaticCredentials struct {
	Endpoint   string // example: "https://minio.example.com"
	Username   string // access key for S3-family endpoints
	Secret     string
	PrivateKey string // optional, for endpoints that authenticate with a keypair
	BasePath   string // example: "mybucket/muisto"
}

// one configured link between a user and one cloud backend instance
type Connection struct {
	ID          string
	UserID      string
	Kind        ProviderKind
	Tokens      *OAuthTokenSet     // set only for OAuth-family kinds
	Credentials *StaticCredentials // set only for credential-family kinds
	SyncRoot    string             // path in the remote namespace under which records live
	Default     bool               // at most one per user, enforced by the connection store
	Connected   bool
	LastError   string
	LastSyncAt  time.Time
	Created     time.Time
	Updated     time.Time
}

type SyncAction string

const (
	ActionUpload   SyncAction = "upload"
	ActionDownload SyncAction = "download"
	ActionDelete   SyncAction = "delete"
)

type QueueItemStatus string

const (
	ItemPending QueueItemStatus = "pending"
	ItemOffline QueueItemStatus = "offline"
	ItemError   QueueItemStatus = "error"
)

// retry ceiling after which a queue item is terminal and only manual retry revives it
const MaxItemRetries = 3

// one durable pending transfer intent
type SyncQueueItem struct {
	ID           string
	RecordID     string
	ConnectionID string
	Action       SyncAction
	RemotePath   string
	Status       QueueItemStatus
	RetryCount   int
	LastAttempt  time.Time
	LastError    string
	Created      time.Time
}

func (i *SyncQueueItem) Terminal() bool {
	return i.Status == ItemError && i.RetryCount >= MaxItemRetries
}

// id embeds creation instant first so that primary key iteration order is FIFO
// insertion order, and stays unique even for rapid repeat edits of the same record
func NewQueueItemID(created time.Time, connectionID string, recordID string) string {
	return fmt.Sprintf("%020d-%s-%s", created.UnixNano(), connectionID, recordID)
}

// buffered record content pending upload, for when the adapter can't supply it
// at drain time
type CachedFile struct {
	RecordID string
	Content  []byte
	MimeType string
	Created  time.Time
}

type Config struct {
	Key   string
	Value string
}
