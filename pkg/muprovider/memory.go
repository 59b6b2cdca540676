package muprovider

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

// in-process reference implementation of the capability contract. backs the engine's
// tests, and documents the exact semantics (idempotency, not_found reporting, path
// handling) real drivers must copy
type Memory struct {
	mu      sync.Mutex
	objects map[string]*memoryObject // keyed by path
	folders map[string]bool
	nextID  int
	authed  bool

	// fault injection: when non-nil, consulted before every file operation. returning
	// a non-nil error fails that operation
	FailOp func(op string) error

	// observable clock so tests can pin Modified instants
	Now func() time.Time
}

type memoryObject struct {
	id       string
	path     string
	content  []byte
	modified time.Time
}

func NewMemory() *Memory {
	return &Memory{
		objects: map[string]*memoryObject{},
		folders: map[string]bool{"/": true},
		authed:  true,
		Now:     time.Now,
	}
}

func (m *Memory) Kind() mutypes.ProviderKind {
	return mutypes.ProviderKindS3 // behaves like the credential family
}

func (m *Memory) IsAuthenticated(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.authed
}

func (m *Memory) AuthorizationURL(redirect string, state string) (string, error) {
	return "", mutypes.NotSupportedErrorf("memory: authorization URL")
}

func (m *Memory) ExchangeCode(ctx context.Context, code string, redirect string) (*mutypes.OAuthTokenSet, error) {
	return nil, mutypes.NotSupportedErrorf("memory: code exchange")
}

func (m *Memory) Refresh(ctx context.Context, refreshToken string) (*mutypes.OAuthTokenSet, error) {
	return nil, mutypes.NotSupportedErrorf("memory: token refresh")
}

func (m *Memory) Connect(ctx context.Context, creds mutypes.StaticCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authed = true

	return nil
}

func (m *Memory) TestConnection(ctx context.Context) error {
	if err := m.failOp("test"); err != nil {
		return err
	}

	return nil
}

func (m *Memory) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authed = false

	return nil
}

func (m *Memory) List(ctx context.Context, path string, cursor string) ([]mutypes.RemoteFile, string, error) {
	if err := m.failOp("list"); err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := canonical(path) + "/"

	files := []mutypes.RemoteFile{}
	for _, obj := range m.objects {
		if len(obj.path) > len(prefix) && obj.path[0:len(prefix)] == prefix {
			files = append(files, m.describeLocked(obj))
		}
	}

	return files, "", nil // small enough to never paginate
}

func (m *Memory) Get(ctx context.Context, id string) (*mutypes.RemoteFile, error) {
	if err := m.failOp("get"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, obj := range m.objects {
		if obj.id == id {
			file := m.describeLocked(obj)
			return &file, nil
		}
	}

	return nil, mutypes.NotFoundErrorf("object %s not found", id)
}

func (m *Memory) GetByPath(ctx context.Context, path string) (*mutypes.RemoteFile, error) {
	if err := m.failOp("getByPath"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, found := m.objects[canonical(path)]
	if !found {
		return nil, mutypes.NotFoundErrorf("%s not found", path)
	}

	file := m.describeLocked(obj)

	return &file, nil
}

func (m *Memory) Read(ctx context.Context, id string) ([]byte, error) {
	if err := m.failOp("read"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, obj := range m.objects {
		if obj.id == id {
			content := make([]byte, len(obj.content))
			copy(content, obj.content)
			return content, nil
		}
	}

	return nil, mutypes.NotFoundErrorf("object %s not found", id)
}

func (m *Memory) Write(ctx context.Context, path string, content []byte, overwrite bool) (*mutypes.RemoteFile, error) {
	if err := m.failOp("write"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path = canonical(path)

	existing, found := m.objects[path]
	if found && !overwrite {
		return nil, mutypes.ConflictErrorf("%s already exists", path)
	}

	obj := existing
	if obj == nil {
		m.nextID++
		obj = &memoryObject{
			id:   fmt.Sprintf("mem-%d", m.nextID),
			path: path,
		}
		m.objects[path] = obj
	}

	obj.content = append([]byte{}, content...)
	obj.modified = m.Now()

	// intermediate folders materialize implicitly
	parent, _ := ParentAndLeaf(path)
	m.folders[parent] = true

	file := m.describeLocked(obj)

	return &file, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := m.failOp("delete"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for path, obj := range m.objects {
		if obj.id == id {
			delete(m.objects, path)
			return nil
		}
	}

	return mutypes.NotFoundErrorf("object %s not found", id)
}

func (m *Memory) Move(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error) {
	moved, err := m.Copy(ctx, id, newPath)
	if err != nil {
		return nil, err
	}

	if err := m.Delete(ctx, id); err != nil {
		return nil, err
	}

	return moved, nil
}

func (m *Memory) Copy(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error) {
	if err := m.failOp("copy"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, obj := range m.objects {
		if obj.id == id {
			m.nextID++
			copied := &memoryObject{
				id:       fmt.Sprintf("mem-%d", m.nextID),
				path:     canonical(newPath),
				content:  append([]byte{}, obj.content...),
				modified: m.Now(),
			}
			m.objects[copied.path] = copied

			file := m.describeLocked(copied)

			return &file, nil
		}
	}

	return nil, mutypes.NotFoundErrorf("object %s not found", id)
}

func (m *Memory) CreateFolder(ctx context.Context, path string) (*mutypes.RemoteFile, error) {
	if err := m.failOp("createFolder"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path = canonical(path)
	m.folders[path] = true

	return &mutypes.RemoteFile{
		ID:     "folder:" + path,
		Path:   path,
		Folder: true,
	}, nil
}

func (m *Memory) Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// how many objects currently exist - for test assertions
func (m *Memory) ObjectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}

func (m *Memory) describeLocked(obj *memoryObject) mutypes.RemoteFile {
	return mutypes.RemoteFile{
		ID:       obj.id,
		Path:     obj.path,
		Checksum: m.Checksum(obj.content),
		Size:     int64(len(obj.content)),
		Modified: obj.modified,
	}
}

func (m *Memory) failOp(op string) error {
	if m.FailOp != nil {
		return m.FailOp(op)
	}

	return nil
}

func canonical(path string) string {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return "/"
	}

	out := ""
	for _, part := range parts {
		out += "/" + part
	}

	return out
}
