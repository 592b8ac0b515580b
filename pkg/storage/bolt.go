package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

// bucketsMeta records bucket creation times. Underscores are not valid in
// S3 bucket names so it can never collide with a user bucket.
var bucketsMeta = []byte("_buckets")

var (
	// ErrBucketExists is returned by MakeBucket for an existing bucket.
	ErrBucketExists = errors.New("bucket already exists")
	// ErrBucketNotEmpty is returned by DeleteBucket for a non-empty bucket.
	ErrBucketNotEmpty = errors.New("bucket not empty")
)

// Bolt stores objects in a bbolt database: one bolt bucket per storage
// bucket, each value prefixed with its modification time.
type Bolt struct {
	db  *bbolt.DB
	now func() time.Time
}

// Object is a stored value with its metadata.
type Object struct {
	Key     string
	Data    []byte
	Size    int64
	ModTime time.Time
}

// BucketInfo describes a bucket.
type BucketInfo struct {
	Name    string
	Created time.Time
}

// OpenBolt opens or creates the database file at path, creating parent
// directories as needed.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "bolt.open", "path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "bolt.open", path, err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindUnavailable, "bolt.open", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketsMeta)
		return err
	}); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.KindInternal, "bolt.open", path, err)
	}
	return &Bolt{db: db, now: time.Now}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// MakeBucket creates a bucket.
func (b *Bolt) MakeBucket(name string) error {
	if !validBoltBucket(name) {
		return xerrors.E(xerrors.KindInvalid, "bolt.mkbucket", name)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(name)) != nil {
			return xerrors.Wrap(xerrors.KindInvalid, "bolt.mkbucket", name, ErrBucketExists)
		}
		if _, err := tx.CreateBucket([]byte(name)); err != nil {
			return xerrors.Wrap(xerrors.KindInternal, "bolt.mkbucket", name, err)
		}
		return tx.Bucket(bucketsMeta).Put([]byte(name), encodeTime(b.now()))
	})
}

// BucketExists reports whether name has been created.
func (b *Bolt) BucketExists(name string) (bool, error) {
	if !validBoltBucket(name) {
		return false, nil
	}
	var ok bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return ok, err
}

// Buckets lists all buckets in name order.
func (b *Bolt) Buckets() ([]BucketInfo, error) {
	var out []BucketInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketsMeta).ForEach(func(k, v []byte) error {
			out = append(out, BucketInfo{Name: string(k), Created: decodeTime(v)})
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// DeleteBucket removes a bucket. Without force the bucket must be empty.
func (b *Bolt) DeleteBucket(name string, force bool) error {
	if !validBoltBucket(name) {
		return xerrors.E(xerrors.KindNotFound, "bolt.rmbucket", name)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(name))
		if bkt == nil {
			return xerrors.E(xerrors.KindNotFound, "bolt.rmbucket", name)
		}
		if !force {
			if k, _ := bkt.Cursor().First(); k != nil {
				return xerrors.Wrap(xerrors.KindInvalid, "bolt.rmbucket", name, ErrBucketNotEmpty)
			}
		}
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return xerrors.Wrap(xerrors.KindInternal, "bolt.rmbucket", name, err)
		}
		return tx.Bucket(bucketsMeta).Delete([]byte(name))
	})
}

// Put writes data under bucket/key. The bucket must exist.
func (b *Bolt) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.KindOf(err), "bolt.put", bucket+"/"+key, err)
	}
	if key == "" {
		return xerrors.E(xerrors.KindInvalid, "bolt.put", bucket+"/")
	}
	value := make([]byte, 8+len(data))
	copy(value, encodeTime(b.now()))
	copy(value[8:], data)
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := b.bucket(tx, bucket)
		if bkt == nil {
			return xerrors.E(xerrors.KindNotFound, "bolt.put", "bucket "+bucket)
		}
		if err := bkt.Put([]byte(key), value); err != nil {
			return xerrors.Wrap(xerrors.KindInvalid, "bolt.put", bucket+"/"+key, err)
		}
		return nil
	})
}

// Get returns a copy of the object at bucket/key.
func (b *Bolt) Get(bucket, key string) (*Object, error) {
	var obj *Object
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := b.bucket(tx, bucket)
		if bkt == nil {
			return xerrors.E(xerrors.KindNotFound, "bolt.get", "bucket "+bucket)
		}
		v := bkt.Get([]byte(key))
		if v == nil {
			return xerrors.E(xerrors.KindNotFound, "bolt.get", bucket+"/"+key)
		}
		obj = decodeObject(key, v, true)
		return nil
	})
	return obj, err
}

// Delete removes bucket/key. Missing keys are not an error.
func (b *Bolt) Delete(bucket, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := b.bucket(tx, bucket)
		if bkt == nil {
			return xerrors.E(xerrors.KindNotFound, "bolt.delete", "bucket "+bucket)
		}
		return bkt.Delete([]byte(key))
	})
}

// List returns object metadata (without data) in key order.
func (b *Bolt) List(bucket, prefix string) ([]Object, error) {
	var out []Object
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := b.bucket(tx, bucket)
		if bkt == nil {
			return xerrors.E(xerrors.KindNotFound, "bolt.list", "bucket "+bucket)
		}
		c := bkt.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			out = append(out, *decodeObject(string(k), v, false))
		}
		return nil
	})
	return out, err
}

func (b *Bolt) bucket(tx *bbolt.Tx, name string) *bbolt.Bucket {
	if !validBoltBucket(name) {
		return nil
	}
	return tx.Bucket([]byte(name))
}

func validBoltBucket(name string) bool {
	return name != "" && name != string(bucketsMeta)
}

func decodeObject(key string, v []byte, withData bool) *Object {
	obj := &Object{Key: key}
	if len(v) < 8 {
		return obj
	}
	obj.ModTime = decodeTime(v[:8])
	obj.Size = int64(len(v) - 8)
	if withData {
		obj.Data = append([]byte(nil), v[8:]...)
	}
	return obj
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeTime(b []byte) time.Time {
	if len(b) < 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b))).UTC()
}
