// Filesystem-backed record collection: each record is one file under a base
// directory, with a sidecar meta file carrying sync bookkeeping
package murecord

import (
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/function61/gokit/atomicfilewrite"
	"github.com/function61/gokit/jsonfile"
	"github.com/minio/sha256-simd"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

type DirAdapter struct {
	recordType string
	baseDir    string
	mimeType   string
}

func NewDirAdapter(recordType string, baseDir string, mimeType string) *DirAdapter {
	return &DirAdapter{
		recordType: recordType,
		baseDir:    baseDir,
		mimeType:   mimeType,
	}
}

func (d *DirAdapter) RecordType() string {
	return d.recordType
}

func (d *DirAdapter) LoadContent(localID string) ([]byte, string, bool, error) {
	path, err := d.contentPath(localID)
	if err != nil {
		return nil, "", false, err
	}

	content, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}

	return content, d.mimeType, true, nil
}

func (d *DirAdapter) SaveContent(localID string, content []byte) error {
	path, err := d.contentPath(localID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return atomicfilewrite.Write(path, func(writer io.Writer) error {
		_, err := writer.Write(content)
		return err
	})
}

func (d *DirAdapter) MarkSynced(localID string, at time.Time) error {
	path, err := d.metaPath(localID)
	if err != nil {
		return err
	}

	meta := sidecarMeta{}
	if _, err := os.Stat(path); err == nil {
		if err := jsonfile.Read(path, &meta, true); err != nil {
			return err
		}
	}

	meta.SyncedAt = at

	return jsonfile.Write(path, &meta)
}

// local-side view the sync planner compares against remote state
func (d *DirAdapter) Meta(localID string) (*mutypes.RecordMeta, error) {
	contentPath, err := d.contentPath(localID)
	if err != nil {
		return nil, err
	}

	content, err := ioutil.ReadFile(contentPath)
	if os.IsNotExist(err) {
		return &mutypes.RecordMeta{ID: localID, Deleted: true}, nil
	}
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(contentPath)
	if err != nil {
		return nil, err
	}

	meta := sidecarMeta{}
	metaPath, err := d.metaPath(localID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(metaPath); err == nil {
		if err := jsonfile.Read(metaPath, &meta, true); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(content)

	return &mutypes.RecordMeta{
		ID:       localID,
		Checksum: hex.EncodeToString(sum[:]),
		Updated:  stat.ModTime(),
		SyncedAt: meta.SyncedAt,
	}, nil
}

// record ids double as filenames, so traversal characters are rejected outright
func (d *DirAdapter) contentPath(localID string) (string, error) {
	if localID == "" || strings.ContainsAny(localID, "/\\") || strings.Contains(localID, "..") {
		return "", mutypes.ConfigurationErrorf("invalid record id %q", localID)
	}

	return filepath.Join(d.baseDir, localID), nil
}

func (d *DirAdapter) metaPath(localID string) (string, error) {
	path, err := d.contentPath(localID)
	if err != nil {
		return "", err
	}

	return path + ".musync.json", nil
}

type sidecarMeta struct {
	SyncedAt time.Time `json:"synced_at"`
}
