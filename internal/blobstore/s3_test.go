package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bobrenjc93/count/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeS3 is an in-memory stand-in for the AWS SDK v2 S3 client,
// implementing just the S3API subset S3Store calls.
type fakeS3 struct {
	objects       map[string][]byte
	headBucketErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucketErr != nil {
		return nil, f.headBucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if in.Prefix == nil || strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		kk := k
		out.Contents = append(out.Contents, s3types.Object{Key: &kk})
	}
	return out, nil
}

func TestS3Store_PutGetRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "bucket", "prefix", zap.NewNop())

	require.NoError(t, store.Put(context.Background(), "series/cpu/manifest.json", []byte("data")))
	got, err := store.Get(context.Background(), "series/cpu/manifest.json")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), got)

	require.Equal(t, []byte("data"), fake.objects["prefix/series/cpu/manifest.json"])
}

func TestS3Store_GetMissingWrapsErrNotFound(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "bucket", "", zap.NewNop())

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestS3Store_ListStripsPrefix(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "bucket", "archive", zap.NewNop())

	require.NoError(t, store.Put(context.Background(), "a", []byte("1")))
	require.NoError(t, store.Put(context.Background(), "b", []byte("1")))

	keys, err := store.List(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestS3Store_PingReflectsHeadBucket(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "bucket", "", zap.NewNop())
	require.NoError(t, store.Ping(context.Background()))

	fake.headBucketErr = context.DeadlineExceeded
	require.Error(t, store.Ping(context.Background()))
}
