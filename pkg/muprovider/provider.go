// Uniform capability contract that every cloud backend must satisfy. Two auth
// families exist: OAuth (Drive-like services) and static credentials (protocol
// servers reached through an S3-speaking intermediary).
package muprovider

import (
	"context"
	"log"
	"strings"

	"github.com/muisto-app/muisto/pkg/mutypes"
)

type Provider interface {
	Kind() mutypes.ProviderKind

	// auth. OAuth-family ops fail with a not_supported error on credential-family
	// providers and vice versa
	IsAuthenticated(ctx context.Context) bool
	AuthorizationURL(redirect string, state string) (string, error)
	ExchangeCode(ctx context.Context, code string, redirect string) (*mutypes.OAuthTokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*mutypes.OAuthTokenSet, error)
	Connect(ctx context.Context, creds mutypes.StaticCredentials) error
	TestConnection(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// file operations. absent remote objects report a not_found error kind
	List(ctx context.Context, path string, cursor string) ([]mutypes.RemoteFile, string, error)
	Get(ctx context.Context, id string) (*mutypes.RemoteFile, error)
	GetByPath(ctx context.Context, path string) (*mutypes.RemoteFile, error)
	Read(ctx context.Context, id string) ([]byte, error)
	Write(ctx context.Context, path string, content []byte, overwrite bool) (*mutypes.RemoteFile, error)
	Delete(ctx context.Context, id string) error
	Move(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error)
	Copy(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error)
	CreateFolder(ctx context.Context, path string) (*mutypes.RemoteFile, error)

	// the hash this provider reports in RemoteFile.Checksum, computed over given
	// content. lets the engine compare local vs. remote without knowing the algorithm
	Checksum(content []byte) string
}

// OAuth application config (not per-user - per-deployment)
type OAuthAppConfig struct {
	GoogleClientID     string `json:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret"`
}

// construction is keyed by provider kind plus available secrets. explicit error
// instead of nil when the kind can't be served
func ForConnection(conn *mutypes.Connection, app OAuthAppConfig, logger *log.Logger) (Provider, error) {
	switch conn.Kind {
	case mutypes.ProviderKindGoogleDrive:
		if app.GoogleClientID == "" || app.GoogleClientSecret == "" {
			return nil, mutypes.ConfigurationErrorf("googledrive: OAuth app not configured")
		}

		return newGoogleDrive(app, conn.Tokens, logger)
	case mutypes.ProviderKindS3:
		if conn.Credentials == nil {
			return nil, mutypes.ConfigurationErrorf("s3: connection has no credentials")
		}

		return newS3(*conn.Credentials, logger)
	default:
		return nil, mutypes.ConfigurationErrorf("unknown provider kind: %s", conn.Kind)
	}
}

// "/App/journal/r1.json" => ["App", "journal", "r1.json"]
func SplitPath(path string) []string {
	parts := []string{}
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}

	return parts
}

// parent path and leaf name. ParentAndLeaf("/App/journal/r1.json") => "/App/journal", "r1.json"
func ParentAndLeaf(path string) (string, string) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return "/", ""
	}

	return "/" + strings.Join(parts[0:len(parts)-1], "/"), parts[len(parts)-1]
}
