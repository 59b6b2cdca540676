package muprovider

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Drive reports md5 as its content hash, not used for security
	"encoding/hex"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType  = "application/vnd.google-apps.folder"
	driveFileFields = "id, name, md5Checksum, mimeType, size, modifiedTime, parents"
)

type googleDrive struct {
	conf  *oauth2.Config
	token *oauth2.Token // nil when not connected
	srv   *drive.Service
	logl  *logex.Leveled
}

func newGoogleDrive(app OAuthAppConfig, tokens *mutypes.OAuthTokenSet, logger *log.Logger) (*googleDrive, error) {
	conf := &oauth2.Config{
		ClientID:     app.GoogleClientID,
		ClientSecret: app.GoogleClientSecret,
		Scopes:       []string{drive.DriveFileScope},
		Endpoint:     google.Endpoint,
	}

	g := &googleDrive{
		conf: conf,
		logl: logex.Levels(logex.NonNil(logger)),
	}

	if tokens != nil {
		if err := g.useTokens(tokens); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *googleDrive) useTokens(tokens *mutypes.OAuthTokenSet) error {
	g.token = &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Expiry:       tokens.Expiry,
	}

	// static source on purpose: token refresh is the lifecycle manager's job, so
	// rotated tokens always get persisted instead of silently living in memory only
	srv, err := drive.NewService(
		context.Background(),
		option.WithTokenSource(oauth2.StaticTokenSource(g.token)))
	if err != nil {
		return fmt.Errorf("drive service: %v", err)
	}

	g.srv = srv

	return nil
}

func (g *googleDrive) Kind() mutypes.ProviderKind {
	return mutypes.ProviderKindGoogleDrive
}

func (g *googleDrive) IsAuthenticated(ctx context.Context) bool {
	return g.token != nil && g.token.Valid()
}

func (g *googleDrive) AuthorizationURL(redirect string, state string) (string, error) {
	conf := *g.conf
	conf.RedirectURL = redirect

	// access_type=offline + consent prompt so Google hands out a refresh token
	return conf.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent")), nil
}

func (g *googleDrive) ExchangeCode(ctx context.Context, code string, redirect string) (*mutypes.OAuthTokenSet, error) {
	conf := *g.conf
	conf.RedirectURL = redirect

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, mutypes.AuthErrorf("code exchange: %v", err)
	}

	tokens := tokenSetFrom(token)

	if err := g.useTokens(tokens); err != nil {
		return nil, err
	}

	return tokens, nil
}

func (g *googleDrive) Refresh(ctx context.Context, refreshToken string) (*mutypes.OAuthTokenSet, error) {
	if refreshToken == "" {
		return nil, mutypes.AuthErrorf("no refresh token")
	}

	token, err := g.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, mutypes.AuthErrorf("token refresh: %v", err)
	}

	tokens := tokenSetFrom(token)
	if tokens.RefreshToken == "" { // Google doesn't re-send it on refresh
		tokens.RefreshToken = refreshToken
	}

	if err := g.useTokens(tokens); err != nil {
		return nil, err
	}

	return tokens, nil
}

func (g *googleDrive) Connect(ctx context.Context, creds mutypes.StaticCredentials) error {
	return mutypes.NotSupportedErrorf("googledrive: connect with static credentials")
}

func (g *googleDrive) TestConnection(ctx context.Context) error {
	if g.srv == nil {
		return mutypes.AuthErrorf("googledrive: not connected")
	}

	// cheapest possible round trip that still exercises auth
	_, err := g.srv.Files.List().PageSize(1).Fields("files(id)").Context(ctx).Do()

	return mapDriveError(err, "test connection")
}

func (g *googleDrive) Disconnect(ctx context.Context) error {
	g.token = nil
	g.srv = nil

	return nil
}

func (g *googleDrive) List(ctx context.Context, path string, cursor string) ([]mutypes.RemoteFile, string, error) {
	folderID, err := g.resolveFolder(ctx, path, false)
	if err != nil {
		return nil, "", err
	}

	listCall := g.srv.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
		PageSize(100).
		Fields(googleapi.Field("nextPageToken, files(" + driveFileFields + ")"))
	if cursor != "" {
		listCall = listCall.PageToken(cursor)
	}

	res, err := listCall.Context(ctx).Do()
	if err != nil {
		return nil, "", mapDriveError(err, "list")
	}

	files := []mutypes.RemoteFile{}
	for _, f := range res.Files {
		files = append(files, remoteFileFromDrive(f, path+"/"+f.Name))
	}

	return files, res.NextPageToken, nil
}

func (g *googleDrive) Get(ctx context.Context, id string) (*mutypes.RemoteFile, error) {
	f, err := g.srv.Files.Get(id).Fields(driveFileFields).Context(ctx).Do()
	if err != nil {
		return nil, mapDriveError(err, "get")
	}

	file := remoteFileFromDrive(f, f.Name)

	return &file, nil
}

func (g *googleDrive) GetByPath(ctx context.Context, path string) (*mutypes.RemoteFile, error) {
	parent, leaf := ParentAndLeaf(path)
	if leaf == "" {
		return nil, mutypes.NotFoundErrorf("empty path")
	}

	parentID, err := g.resolveFolder(ctx, parent, false)
	if err != nil {
		return nil, err
	}

	f, err := g.findChild(ctx, parentID, leaf)
	if err != nil {
		return nil, err
	}

	file := remoteFileFromDrive(f, path)

	return &file, nil
}

func (g *googleDrive) Read(ctx context.Context, id string) ([]byte, error) {
	res, err := g.srv.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, mapDriveError(err, "read")
	}
	defer res.Body.Close()

	content, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, mutypes.TransientErrorf("read body: %v", err)
	}

	return content, nil
}

func (g *googleDrive) Write(ctx context.Context, path string, content []byte, overwrite bool) (*mutypes.RemoteFile, error) {
	parent, leaf := ParentAndLeaf(path)

	parentID, err := g.resolveFolder(ctx, parent, true)
	if err != nil {
		return nil, err
	}

	// Drive allows >1 files with the same name in the same folder, so we've to probe
	// first to get update-instead-of-duplicate semantics
	existing, errFind := g.findChild(ctx, parentID, leaf)
	switch {
	case errFind == nil && !overwrite:
		return nil, mutypes.ConflictErrorf("%s already exists", path)
	case errFind == nil: // overwrite
		updated, err := g.srv.Files.Update(existing.Id, &drive.File{}).
			Media(bytes.NewReader(content)).
			Fields(driveFileFields).
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapDriveError(err, "update")
		}

		file := remoteFileFromDrive(updated, path)

		return &file, nil
	case mutypes.IsKind(errFind, mutypes.ErrorNotFound): // create
		created, err := g.srv.Files.Create(&drive.File{
			Name:    leaf,
			Parents: []string{parentID},
		}).
			Media(bytes.NewReader(content)).
			Fields(driveFileFields).
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapDriveError(err, "create")
		}

		file := remoteFileFromDrive(created, path)

		return &file, nil
	default:
		return nil, errFind
	}
}

func (g *googleDrive) Delete(ctx context.Context, id string) error {
	if err := g.srv.Files.Delete(id).Context(ctx).Do(); err != nil {
		return mapDriveError(err, "delete")
	}

	return nil
}

func (g *googleDrive) Move(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error) {
	parent, leaf := ParentAndLeaf(newPath)

	parentID, err := g.resolveFolder(ctx, parent, true)
	if err != nil {
		return nil, err
	}

	current, err := g.srv.Files.Get(id).Fields("parents").Context(ctx).Do()
	if err != nil {
		return nil, mapDriveError(err, "move")
	}

	updated, err := g.srv.Files.Update(id, &drive.File{Name: leaf}).
		AddParents(parentID).
		RemoveParents(strings.Join(current.Parents, ",")).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapDriveError(err, "move")
	}

	file := remoteFileFromDrive(updated, newPath)

	return &file, nil
}

func (g *googleDrive) Copy(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error) {
	parent, leaf := ParentAndLeaf(newPath)

	parentID, err := g.resolveFolder(ctx, parent, true)
	if err != nil {
		return nil, err
	}

	copied, err := g.srv.Files.Copy(id, &drive.File{
		Name:    leaf,
		Parents: []string{parentID},
	}).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapDriveError(err, "copy")
	}

	file := remoteFileFromDrive(copied, newPath)

	return &file, nil
}

func (g *googleDrive) CreateFolder(ctx context.Context, path string) (*mutypes.RemoteFile, error) {
	folderID, err := g.resolveFolder(ctx, path, true)
	if err != nil {
		return nil, err
	}

	return &mutypes.RemoteFile{
		ID:     folderID,
		Path:   path,
		Folder: true,
	}, nil
}

func (g *googleDrive) Checksum(content []byte) string {
	sum := md5.Sum(content) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Drive's namespace is object-id based, so paths are implemented by walking the
// segments and resolving (optionally creating) intermediate folders. O(depth) round
// trips - known inefficiency we accept
func (g *googleDrive) resolveFolder(ctx context.Context, path string, create bool) (string, error) {
	if g.srv == nil {
		return "", mutypes.AuthErrorf("googledrive: not connected")
	}

	currentID := "root"

	for _, segment := range SplitPath(path) {
		child, err := g.findChild(ctx, currentID, segment)
		switch {
		case err == nil:
			currentID = child.Id
		case mutypes.IsKind(err, mutypes.ErrorNotFound) && create:
			created, errCreate := g.srv.Files.Create(&drive.File{
				Name:     segment,
				MimeType: folderMimeType,
				Parents:  []string{currentID},
			}).Fields("id").Context(ctx).Do()
			if errCreate != nil {
				return "", mapDriveError(errCreate, "create folder")
			}

			currentID = created.Id
		default:
			return "", err
		}
	}

	return currentID, nil
}

func (g *googleDrive) findChild(ctx context.Context, parentID string, name string) (*drive.File, error) {
	// searching an exact name in an exact folder, so we should get at most one result
	res, err := g.srv.Files.List().
		Q(fmt.Sprintf(
			"name = '%s' and '%s' in parents and trashed = false",
			strings.ReplaceAll(name, "'", "\\'"),
			parentID)).
		PageSize(2).
		Fields(googleapi.Field("files(" + driveFileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapDriveError(err, "find child")
	}

	if len(res.Files) == 0 {
		return nil, mutypes.NotFoundErrorf("%s not found", name)
	}

	return res.Files[0], nil
}

func remoteFileFromDrive(f *drive.File, path string) mutypes.RemoteFile {
	modified, _ := time.Parse(time.RFC3339, f.ModifiedTime)

	return mutypes.RemoteFile{
		ID:       f.Id,
		Path:     path,
		Checksum: f.Md5Checksum,
		Size:     f.Size,
		Folder:   f.MimeType == folderMimeType,
		Modified: modified,
	}
}

func tokenSetFrom(token *oauth2.Token) *mutypes.OAuthTokenSet {
	return &mutypes.OAuthTokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
}

func mapDriveError(err error, what string) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		taxonomyErr := func() error {
			switch {
			case gerr.Code == 401 || gerr.Code == 403:
				return mutypes.AuthErrorf("drive %s: %v", what, err)
			case gerr.Code == 404:
				return mutypes.NotFoundErrorf("drive %s: %v", what, err)
			default:
				return mutypes.TransientErrorf("drive %s: %v", what, err)
			}
		}()

		return mutypes.WithCode(taxonomyErr, strconv.Itoa(gerr.Code))
	}

	return mutypes.TransientErrorf("drive %s: %v", what, err)
}
