package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/sumgate/pkg/metrics"
	"github.com/jacktea/sumgate/pkg/storage"
	"github.com/jacktea/sumgate/pkg/xerrors"
)

const testDataSum = "a186000422feab857329c684e9fe91412b1a5db084100b37a98cfc95b62aa867"

type putCall struct {
	bucket, key string
	data        []byte
}

// recordingStore records every put and fails with err when set.
type recordingStore struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (r *recordingStore) Put(_ context.Context, bucket, key string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, putCall{bucket: bucket, key: key, data: append([]byte(nil), data...)})
	return r.err
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func strPtr(s string) *string { return &s }

func TestValidate_StoresWithoutExpectation(t *testing.T) {
	store := &recordingStore{}
	v := New(store, Options{})

	resp, err := v.Validate(context.Background(), Request{Data: []byte("test-data"), Bucket: "b1"})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, testDataSum, resp.Checksum)
	assert.Equal(t, "b1/validation-"+testDataSum+".bin", resp.ObjectPath)
	assert.Empty(t, resp.ValidationError)

	require.Len(t, store.calls, 1)
	assert.Equal(t, "b1", store.calls[0].bucket)
	assert.Equal(t, "validation-"+testDataSum+".bin", store.calls[0].key)
	assert.Equal(t, []byte("test-data"), store.calls[0].data)
}

func TestValidate_StoresOnMatch(t *testing.T) {
	store := &recordingStore{}
	v := New(store, Options{})

	resp, err := v.Validate(context.Background(), Request{
		Data:             []byte("test-data"),
		ExpectedChecksum: strPtr(testDataSum),
		Bucket:           "b1",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, store.count())
}

func TestValidate_HelloInBucketB1(t *testing.T) {
	const helloSum = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	store := &recordingStore{}
	v := New(store, Options{})

	resp, err := v.Validate(context.Background(), Request{Data: []byte("hello"), Bucket: "b1"})
	require.NoError(t, err)

	assert.Equal(t, Response{
		Success:    true,
		Checksum:   helloSum,
		ObjectPath: "b1/validation-" + helloSum + ".bin",
	}, resp)
	require.Len(t, store.calls, 1)
	assert.Equal(t, putCall{bucket: "b1", key: "validation-" + helloSum + ".bin", data: []byte("hello")}, store.calls[0])
}

func TestValidate_MismatchSkipsStorage(t *testing.T) {
	store := &recordingStore{err: errors.New("must not be called")}
	v := New(store, Options{RejectEmptyBucket: true})

	tests := []struct {
		name     string
		expected string
		bucket   string
	}{
		{"wrong digest", "0000", "b1"},
		{"empty expectation", "", "b1"},
		{"uppercase digest", "A186000422FEAB857329C684E9FE91412B1A5DB084100B37A98CFC95B62AA867", "b1"},
		{"mismatch wins over empty bucket", "0000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := v.Validate(context.Background(), Request{
				Data:             []byte("test-data"),
				ExpectedChecksum: strPtr(tt.expected),
				Bucket:           tt.bucket,
			})
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, testDataSum, resp.Checksum)
			assert.Empty(t, resp.ObjectPath)
			assert.Equal(t,
				fmt.Sprintf("Checksum mismatch: expected %s, got %s", tt.expected, testDataSum),
				resp.ValidationError)
		})
	}
	assert.Zero(t, store.count())
}

func TestValidate_EmptyPayload(t *testing.T) {
	store := &recordingStore{}
	v := New(store, Options{})

	const emptySum = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	resp, err := v.Validate(context.Background(), Request{Data: nil, Bucket: "b1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, emptySum, resp.Checksum)
	assert.Equal(t, "b1/validation-"+emptySum+".bin", resp.ObjectPath)
}

func TestValidate_StorageFailure(t *testing.T) {
	backendErr := xerrors.E(xerrors.KindNotFound, "storage.put", "bucket missing")
	store := &recordingStore{err: backendErr}
	v := New(store, Options{})

	resp, err := v.Validate(context.Background(), Request{Data: []byte("test-data"), Bucket: "missing"})
	require.Error(t, err)
	assert.Equal(t, Response{}, resp)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "missing", se.Bucket)
	assert.Equal(t, "validation-"+testDataSum+".bin", se.Key)
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, xerrors.KindNotFound, xerrors.KindOf(err))
	assert.Equal(t, "storage upload failed: "+backendErr.Error(), err.Error())
	assert.True(t, IsStorageError(err))
	assert.Equal(t, 1, store.count())
}

func TestValidate_EmptyBucket(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		store := &recordingStore{}
		v := New(store, Options{RejectEmptyBucket: true})

		_, err := v.Validate(context.Background(), Request{Data: []byte("x")})
		require.ErrorIs(t, err, ErrEmptyBucket)
		assert.Equal(t, xerrors.KindInvalid, xerrors.KindOf(err))
		assert.False(t, IsStorageError(err))
		assert.Zero(t, store.count())
	})
	t.Run("passed through", func(t *testing.T) {
		store := &recordingStore{err: errors.New("invalid bucket name")}
		v := New(store, Options{})

		_, err := v.Validate(context.Background(), Request{Data: []byte("x")})
		require.Error(t, err)
		assert.True(t, IsStorageError(err))
		assert.Equal(t, 1, store.count())
	})
}

func TestValidate_Idempotent(t *testing.T) {
	store := storage.NewMemory()
	v := New(store, Options{})

	req := Request{Data: []byte("test-data"), Bucket: "b1"}
	first, err := v.Validate(context.Background(), req)
	require.NoError(t, err)
	second, err := v.Validate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"validation-" + testDataSum + ".bin"}, store.Keys("b1"))
}

func TestValidate_Concurrent(t *testing.T) {
	store := storage.NewMemory()
	v := New(store, Options{})

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := []byte(fmt.Sprintf("payload-%d", i))
			resp, err := v.Validate(context.Background(), Request{Data: data, Bucket: "b1"})
			if err != nil {
				errs <- err
				return
			}
			if !resp.Success {
				errs <- fmt.Errorf("payload %d: %s", i, resp.ValidationError)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, store.Keys("b1"), n)
}

func TestValidate_Metrics(t *testing.T) {
	v := New(&recordingStore{}, Options{})

	stored := testutil.ToFloat64(metrics.Validations.WithLabelValues(string(Stored)))
	mismatched := testutil.ToFloat64(metrics.Validations.WithLabelValues(string(Mismatch)))

	_, err := v.Validate(context.Background(), Request{Data: []byte("a"), Bucket: "b"})
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), Request{Data: []byte("a"), ExpectedChecksum: strPtr("x"), Bucket: "b"})
	require.NoError(t, err)

	assert.Equal(t, stored+1, testutil.ToFloat64(metrics.Validations.WithLabelValues(string(Stored))))
	assert.Equal(t, mismatched+1, testutil.ToFloat64(metrics.Validations.WithLabelValues(string(Mismatch))))
}
