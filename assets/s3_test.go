package assets

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]string{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = string(data)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	client := newFakeS3()
	store := NewS3Store(client, "media", "profiles")
	exerciseStore(t, store)

	require.NoError(t, store.Put(context.Background(), "avatars/a.png", []byte("img"), "image/png"))
	assert.Equal(t, "img", client.objects["media/profiles/avatars/a.png"])
	assert.Equal(t, "image/png", client.types["media/profiles/avatars/a.png"])
}

func TestS3StoreHeadErrors(t *testing.T) {
	client := newFakeS3()
	store := NewS3Store(client, "media", "")

	client.headErr = &types.NoSuchKey{}
	ok, err := store.Exists(context.Background(), "a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	client.headErr = errors.New("access denied")
	_, err = store.Exists(context.Background(), "a.png")
	assert.Error(t, err)
}

func TestNewS3StoreFromConfigRequiresBucket(t *testing.T) {
	_, err := NewS3StoreFromConfig(context.Background(), S3Config{})
	assert.Error(t, err)
}
