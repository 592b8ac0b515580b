package devs3

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"io"
	"net/http"

	"github.com/johannesboyne/gofakes3"

	"github.com/jacktea/sumgate/pkg/storage"
	"github.com/jacktea/sumgate/pkg/xerrors"
)

// Backend implements gofakes3.Backend on top of a bbolt store.
type Backend struct {
	db *storage.Bolt
}

var _ gofakes3.Backend = (*Backend)(nil)

// NewBackend wraps db with an S3-compatible backend.
func NewBackend(db *storage.Bolt) *Backend {
	return &Backend{db: db}
}

func (b *Backend) ListBuckets() ([]gofakes3.BucketInfo, error) {
	infos, err := b.db.Buckets()
	if err != nil {
		return nil, err
	}
	buckets := make([]gofakes3.BucketInfo, 0, len(infos))
	for _, info := range infos {
		buckets = append(buckets, gofakes3.BucketInfo{
			Name:         info.Name,
			CreationDate: gofakes3.NewContentTime(info.Created),
		})
	}
	return buckets, nil
}

func (b *Backend) ListBucket(name string, prefix *gofakes3.Prefix, page gofakes3.ListBucketPage) (*gofakes3.ObjectList, error) {
	if err := b.ensureBucket(name); err != nil {
		return nil, err
	}
	if prefix == nil {
		prefix = &gofakes3.Prefix{}
	}
	objects, err := b.db.List(name, prefix.Prefix)
	if err != nil {
		return nil, err
	}
	limit := int(page.MaxKeys)
	if limit <= 0 {
		limit = gofakes3.DefaultMaxBucketKeys
	}
	results := gofakes3.NewObjectList()
	seenPrefixes := make(map[string]struct{})
	marker := page.Marker
	var lastKey string
	count := 0
	for _, item := range objects {
		if marker != "" && item.Key <= marker {
			continue
		}
		match := gofakes3.PrefixMatch{Key: item.Key, MatchedPart: item.Key}
		if prefix.HasPrefix || prefix.HasDelimiter {
			if !prefix.Match(item.Key, &match) {
				continue
			}
		}
		if match.CommonPrefix {
			if _, ok := seenPrefixes[match.MatchedPart]; ok {
				continue
			}
			seenPrefixes[match.MatchedPart] = struct{}{}
			if count >= limit {
				results.IsTruncated = true
				break
			}
			results.AddPrefix(match.MatchedPart)
			lastKey = match.MatchedPart
			count++
			continue
		}
		if count >= limit {
			results.IsTruncated = true
			break
		}
		content, err := b.content(name, item)
		if err != nil {
			return nil, err
		}
		results.Add(content)
		lastKey = item.Key
		count++
	}
	if results.IsTruncated {
		results.NextMarker = lastKey
	}
	return results, nil
}

func (b *Backend) CreateBucket(name string) error {
	if err := gofakes3.ValidateBucketName(name); err != nil {
		return err
	}
	if err := b.db.MakeBucket(name); err != nil {
		if errors.Is(err, storage.ErrBucketExists) {
			return gofakes3.ResourceError(gofakes3.ErrBucketAlreadyExists, name)
		}
		return err
	}
	return nil
}

func (b *Backend) BucketExists(name string) (bool, error) {
	return b.db.BucketExists(name)
}

func (b *Backend) DeleteBucket(name string) error {
	return b.deleteBucket(name, false)
}

func (b *Backend) ForceDeleteBucket(name string) error {
	return b.deleteBucket(name, true)
}

func (b *Backend) deleteBucket(name string, force bool) error {
	err := b.db.DeleteBucket(name, force)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrBucketNotEmpty):
		return gofakes3.ResourceError(gofakes3.ErrBucketNotEmpty, name)
	case xerrors.KindOf(err) == xerrors.KindNotFound:
		return gofakes3.BucketNotFound(name)
	default:
		return err
	}
}

func (b *Backend) GetObject(bucket, object string, rangeRequest *gofakes3.ObjectRangeRequest) (*gofakes3.Object, error) {
	obj, err := b.get(bucket, object)
	if err != nil {
		return nil, err
	}
	var rng *gofakes3.ObjectRange
	if rangeRequest != nil {
		if rng, err = rangeRequest.Range(obj.Size); err != nil {
			return nil, err
		}
	}
	return b.objectResponse(obj, rng, false), nil
}

func (b *Backend) HeadObject(bucket, object string) (*gofakes3.Object, error) {
	obj, err := b.get(bucket, object)
	if err != nil {
		return nil, err
	}
	return b.objectResponse(obj, nil, true), nil
}

func (b *Backend) DeleteObject(bucket, object string) (gofakes3.ObjectDeleteResult, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return gofakes3.ObjectDeleteResult{}, err
	}
	if err := b.db.Delete(bucket, object); err != nil {
		return gofakes3.ObjectDeleteResult{}, err
	}
	return gofakes3.ObjectDeleteResult{}, nil
}

func (b *Backend) PutObject(bucket, key string, _ map[string]string, input io.Reader, _ int64, conditions *gofakes3.PutConditions) (gofakes3.PutObjectResult, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return gofakes3.PutObjectResult{}, err
	}
	if conditions != nil {
		info, err := b.objectInfo(bucket, key)
		if err != nil {
			return gofakes3.PutObjectResult{}, err
		}
		if err := gofakes3.CheckPutConditions(conditions, info); err != nil {
			return gofakes3.PutObjectResult{}, err
		}
	}
	data, err := io.ReadAll(input)
	if err != nil {
		return gofakes3.PutObjectResult{}, err
	}
	if err := b.db.Put(context.Background(), bucket, key, data); err != nil {
		return gofakes3.PutObjectResult{}, err
	}
	return gofakes3.PutObjectResult{}, nil
}

func (b *Backend) DeleteMulti(bucket string, objects ...string) (gofakes3.MultiDeleteResult, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return gofakes3.MultiDeleteResult{}, err
	}
	var result gofakes3.MultiDeleteResult
	for _, key := range objects {
		if _, err := b.DeleteObject(bucket, key); err != nil {
			result.Error = append(result.Error, gofakes3.ErrorResultFromError(err))
		} else {
			result.Deleted = append(result.Deleted, gofakes3.ObjectID{Key: key})
		}
	}
	return result, result.AsError()
}

func (b *Backend) CopyObject(srcBucket, srcKey, dstBucket, dstKey string, _ map[string]string) (gofakes3.CopyObjectResult, error) {
	src, err := b.get(srcBucket, srcKey)
	if err != nil {
		return gofakes3.CopyObjectResult{}, err
	}
	if err := b.ensureBucket(dstBucket); err != nil {
		return gofakes3.CopyObjectResult{}, err
	}
	if err := b.db.Put(context.Background(), dstBucket, dstKey, src.Data); err != nil {
		return gofakes3.CopyObjectResult{}, err
	}
	dst, err := b.db.Get(dstBucket, dstKey)
	if err != nil {
		return gofakes3.CopyObjectResult{}, err
	}
	return gofakes3.CopyObjectResult{
		ETag:         gofakes3.FormatETag(hashOf(src.Data)),
		LastModified: gofakes3.NewContentTime(dst.ModTime),
	}, nil
}

func (b *Backend) ensureBucket(name string) error {
	ok, err := b.db.BucketExists(name)
	if err != nil {
		return err
	}
	if !ok {
		return gofakes3.BucketNotFound(name)
	}
	return nil
}

func (b *Backend) get(bucket, key string) (*storage.Object, error) {
	if err := b.ensureBucket(bucket); err != nil {
		return nil, err
	}
	obj, err := b.db.Get(bucket, key)
	if err != nil {
		if xerrors.KindOf(err) == xerrors.KindNotFound {
			return nil, gofakes3.KeyNotFound(key)
		}
		return nil, err
	}
	return obj, nil
}

// content describes a listed object. List omits data, so the ETag needs a
// second read.
func (b *Backend) content(bucket string, item storage.Object) (*gofakes3.Content, error) {
	obj, err := b.db.Get(bucket, item.Key)
	if err != nil {
		return nil, err
	}
	return &gofakes3.Content{
		Key:          item.Key,
		LastModified: gofakes3.NewContentTime(item.ModTime),
		Size:         item.Size,
		ETag:         gofakes3.FormatETag(hashOf(obj.Data)),
	}, nil
}

func (b *Backend) objectResponse(obj *storage.Object, rng *gofakes3.ObjectRange, head bool) *gofakes3.Object {
	body := obj.Data
	switch {
	case head:
		body = nil
	case rng != nil:
		body = body[rng.Start : rng.Start+rng.Length]
	}
	return &gofakes3.Object{
		Name: obj.Key,
		Metadata: map[string]string{
			"Last-Modified": obj.ModTime.UTC().Format(http.TimeFormat),
		},
		Size:     obj.Size,
		Contents: io.NopCloser(bytes.NewReader(body)),
		Hash:     hashOf(obj.Data),
		Range:    rng,
	}
}

func (b *Backend) objectInfo(bucket, key string) (*gofakes3.ConditionalObjectInfo, error) {
	obj, err := b.db.Get(bucket, key)
	if err != nil {
		if xerrors.KindOf(err) == xerrors.KindNotFound {
			return &gofakes3.ConditionalObjectInfo{Exists: false}, nil
		}
		return nil, err
	}
	return &gofakes3.ConditionalObjectInfo{
		Exists: true,
		Hash:   hashOf(obj.Data),
	}, nil
}

func hashOf(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}
