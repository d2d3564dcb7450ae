package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in a map. Unset methods of the embedded interface
// panic if called.
type fakeS3 struct {
	s3API
	mu      sync.Mutex
	objects map[string][]byte
	copyErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.CopySource]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	exerciseStore(t, &S3Store{client: fake, bucket: "feeds", prefix: "content/"})
	assert.Empty(t, fake.keys(), "pending objects are cleaned up")
}

func TestS3Store_CommitFailureKeepsPending(t *testing.T) {
	fake := newFakeS3()
	fake.copyErr = errors.New("copy failed")
	s := &S3Store{client: fake, bucket: "feeds"}
	ctx := context.Background()

	tx, err := s.Put(ctx, "acme/widgets/100@aa", "text/xml", []byte("x"))
	require.NoError(t, err)
	err = tx.Commit(ctx)
	require.ErrorContains(t, err, "copy failed")
	require.Len(t, fake.keys(), 1)
	assert.Contains(t, fake.keys()[0], "feeds/pending/")
}

func TestNewS3Store_UsesSeams(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	defer func() { loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew }()

	var gotOpts s3.Options
	fake := newFakeS3()
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		var lo config.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				return aws.Config{}, err
			}
		}
		assert.Equal(t, "us-east-1", lo.Region)
		assert.NotNil(t, lo.Credentials)
		return aws.Config{Region: lo.Region}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		for _, fn := range optFns {
			fn(&gotOpts)
		}
		return fake
	}

	s, err := NewS3Store(context.Background(), S3Config{
		Region:       "us-east-1",
		BaseEndpoint: "http://localhost:9000",
		AccessKey:    "minio",
		SecretKey:    "minio123",
		Bucket:       "feeds",
	})
	require.NoError(t, err)
	assert.Equal(t, "feeds", s.bucket)
	assert.Equal(t, "http://localhost:9000", aws.ToString(gotOpts.BaseEndpoint))
	assert.True(t, gotOpts.UsePathStyle)
}

func TestNewS3Store_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	defer func() { loadDefaultAWSConfig = orig }()
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err := NewS3Store(context.Background(), S3Config{Region: "x"})
	require.ErrorContains(t, err, "no config")
}
