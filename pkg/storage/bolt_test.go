package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jacktea/sumgate/pkg/xerrors"
)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()
	db, err := OpenBolt(filepath.Join(t.TempDir(), "objects.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBoltPutRequiresBucket(t *testing.T) {
	db := openTestBolt(t)
	err := db.Put(context.Background(), "b1", "key", []byte("x"))
	if xerrors.KindOf(err) != xerrors.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBoltPutGetList(t *testing.T) {
	db := openTestBolt(t)
	ctx := context.Background()
	if err := db.MakeBucket("b1"); err != nil {
		t.Fatalf("make bucket: %v", err)
	}
	if err := db.MakeBucket("b1"); !errors.Is(err, ErrBucketExists) {
		t.Fatalf("expected ErrBucketExists, got %v", err)
	}
	for _, key := range []string{"validation-b.bin", "validation-a.bin", "other"} {
		if err := db.Put(ctx, "b1", key, []byte(key)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	obj, err := db.Get("b1", "validation-a.bin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(obj.Data) != "validation-a.bin" || obj.Size != int64(len("validation-a.bin")) {
		t.Fatalf("unexpected object %+v", obj)
	}
	if obj.ModTime.IsZero() {
		t.Fatalf("expected modification time")
	}
	listed, err := db.List("b1", "validation-")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].Key != "validation-a.bin" || listed[1].Key != "validation-b.bin" {
		t.Fatalf("unexpected listing %+v", listed)
	}
	if listed[0].Data != nil {
		t.Fatalf("listing should not carry data")
	}
}

func TestBoltDeleteBucket(t *testing.T) {
	db := openTestBolt(t)
	if err := db.MakeBucket("b1"); err != nil {
		t.Fatalf("make bucket: %v", err)
	}
	if err := db.Put(context.Background(), "b1", "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.DeleteBucket("b1", false); !errors.Is(err, ErrBucketNotEmpty) {
		t.Fatalf("expected ErrBucketNotEmpty, got %v", err)
	}
	if err := db.DeleteBucket("b1", true); err != nil {
		t.Fatalf("force delete: %v", err)
	}
	buckets, err := db.Buckets()
	if err != nil {
		t.Fatalf("buckets: %v", err)
	}
	if len(buckets) != 0 {
		t.Fatalf("expected no buckets, got %+v", buckets)
	}
}
