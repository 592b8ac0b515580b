package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// PathStore persists objects on the local filesystem as root/bucket/key.
// Buckets are directories that must exist before the first write.
type PathStore struct {
	root string
}

// NewPathStore returns a Client rooted at root.
func NewPathStore(root string) (*PathStore, error) {
	if root == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "PathStore", "root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "PathStore.mkdir", root, err)
	}
	return &PathStore{root: root}, nil
}

// MakeBucket creates the bucket directory if it is missing.
func (p *PathStore) MakeBucket(bucket string) error {
	dir, err := p.bucketDir(bucket)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "PathStore.mkbucket", bucket, err)
	}
	return nil
}

// Put writes data through a temp file and renames it into place so readers
// never observe a partial object.
func (p *PathStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "PathStore.put", bucket+"/"+key, err)
	}
	finalPath, err := p.pathFor(bucket, key)
	if err != nil {
		return err
	}
	dir, _ := p.bucketDir(bucket)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return xerrors.E(xerrors.KindNotFound, "PathStore.put", "bucket "+bucket)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "PathStore.put", bucket+"/"+key, err)
	}
	file, err := os.CreateTemp(filepath.Dir(finalPath), ".upload-*")
	if err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "PathStore.put", bucket+"/"+key, err)
	}
	tmpName := file.Name()
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindInternal, "PathStore.put", bucket+"/"+key, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindInternal, "PathStore.put", bucket+"/"+key, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindInternal, "PathStore.put", bucket+"/"+key, err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.KindInternal, "PathStore.put", bucket+"/"+key, err)
	}
	return nil
}

// Get reads an object back.
func (p *PathStore) Get(bucket, key string) ([]byte, error) {
	path, err := p.pathFor(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindOf(err), "PathStore.get", bucket+"/"+key, err)
	}
	return data, nil
}

func (p *PathStore) bucketDir(bucket string) (string, error) {
	if bucket == "" || bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return "", xerrors.E(xerrors.KindInvalid, "PathStore", "bucket "+bucket)
	}
	return filepath.Join(p.root, bucket), nil
}

func (p *PathStore) pathFor(bucket, key string) (string, error) {
	dir, err := p.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	cleaned := filepath.Clean("/" + key)
	if cleaned == "/" {
		return "", xerrors.E(xerrors.KindInvalid, "PathStore", "key "+key)
	}
	return filepath.Join(dir, filepath.FromSlash(cleaned)), nil
}
