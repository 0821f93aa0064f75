package objectstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	sc "github.com/dmitrijs2005/bhopmaps/internal/server/config"
)

type fakeS3 struct {
	putFn    func(ctx context.Context, in *s3.PutObjectInput) error
	headFn   func(ctx context.Context, in *s3.HeadObjectInput) error
	deleteFn func(ctx context.Context, in *s3.DeleteObjectInput) error
	pages    [][]types.Object
	listErr  error

	puts    []*s3.PutObjectInput
	deletes []string
	listed  int
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	if f.putFn != nil {
		if err := f.putFn(ctx, in); err != nil {
			return nil, err
		}
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headFn != nil {
		if err := f.headFn(ctx, in); err != nil {
			return nil, err
		}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, aws.ToString(in.Key))
	if f.deleteFn != nil {
		if err := f.deleteFn(ctx, in); err != nil {
			return nil, err
		}
	}
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &s3.ListObjectsV2Output{Contents: f.pages[f.listed]}
	f.listed++
	if f.listed < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

type fakePresigner struct {
	gotTTL time.Duration
	err    error
}

func (p *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.gotTTL = opts.Expires
	if p.err != nil {
		return nil, p.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed/" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)}, nil
}

func newTestStore(client *fakeS3, presigner *fakePresigner) *S3Store {
	return &S3Store{
		client:     client,
		presigner:  presigner,
		bucket:     "bhopmaps",
		publicBase: "http://minio:9000/bhopmaps",
		timeout:    time.Second,
		defaultTTL: 15 * time.Minute,
	}
}

func TestNewS3Store_AppliesConfig(t *testing.T) {
	origLoad, origNew, origPresign := loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient = origLoad, origNew, origPresign
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-central-1", lo.Region)
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }

	cfg := &sc.Config{}
	cfg.LoadDefaults()

	store, err := NewS3Store(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://127.0.0.1:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)
	assert.Equal(t, "http://127.0.0.1:9000/bhopmaps/maps/a.zip", store.PublicURL("maps/a.zip"))

	cfg.S3PublicBaseURL = "https://cdn.example.com/"
	store, err = NewS3Store(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/images/x.png", store.PublicURL("images/x.png"))
}

func TestNewS3Store_LoadError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}

	_, err := NewS3Store(context.Background(), &sc.Config{})
	assert.ErrorContains(t, err, "load-fail")
}

func TestPutObject_KeyAndLength(t *testing.T) {
	client := &fakeS3{}
	store := newTestStore(client, &fakePresigner{})

	data := []byte("PK\x03\x04 map package")
	key, err := store.PutObject(context.Background(), data, ".zip")
	require.NoError(t, err)

	assert.Regexp(t, `^maps/[0-9a-f-]{36}\.zip$`, key)
	require.Len(t, client.puts, 1)
	in := client.puts[0]
	assert.Equal(t, key, aws.ToString(in.Key))
	assert.Equal(t, "bhopmaps", aws.ToString(in.Bucket))
	assert.Equal(t, int64(len(data)), aws.ToInt64(in.ContentLength))

	body, err := io.ReadAll(in.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
}

func TestPutObject_FailureIsUnavailable(t *testing.T) {
	client := &fakeS3{putFn: func(ctx context.Context, in *s3.PutObjectInput) error { return errors.New("connection refused") }}
	store := newTestStore(client, &fakePresigner{})

	key, err := store.PutObject(context.Background(), []byte("x"), ".zip")
	assert.Empty(t, key)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
}

func TestPutObject_TimeoutIsUnavailable(t *testing.T) {
	client := &fakeS3{putFn: func(ctx context.Context, in *s3.PutObjectInput) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	store := newTestStore(client, &fakePresigner{})
	store.timeout = 10 * time.Millisecond

	_, err := store.PutObject(context.Background(), []byte("x"), ".zip")
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPutPublicImage(t *testing.T) {
	client := &fakeS3{}
	store := newTestStore(client, &fakePresigner{})

	url, err := store.PutPublicImage(context.Background(), "abc.png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/bhopmaps/images/abc.png", url)

	require.Len(t, client.puts, 1)
	assert.Equal(t, "images/abc.png", aws.ToString(client.puts[0].Key))
	assert.Equal(t, types.ObjectCannedACLPublicRead, client.puts[0].ACL)
	assert.Equal(t, "image/png", aws.ToString(client.puts[0].ContentType))
}

func TestSignedDownloadURL_TTL(t *testing.T) {
	presigner := &fakePresigner{}
	store := newTestStore(&fakeS3{}, presigner)

	url, err := store.SignedDownloadURL(context.Background(), "maps/a.zip", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://signed/bhopmaps/maps/a.zip", url)
	assert.Equal(t, 15*time.Minute, presigner.gotTTL)

	_, err = store.SignedDownloadURL(context.Background(), "maps/a.zip", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, presigner.gotTTL)

	presigner.err = errors.New("bad creds")
	_, err = store.SignedDownloadURL(context.Background(), "maps/a.zip", -time.Second)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.Equal(t, 15*time.Minute, presigner.gotTTL)
}

func TestDeleteObject(t *testing.T) {
	t.Run("existing", func(t *testing.T) {
		client := &fakeS3{}
		store := newTestStore(client, &fakePresigner{})

		require.NoError(t, store.DeleteObject(context.Background(), "maps/a.zip"))
		assert.Equal(t, []string{"maps/a.zip"}, client.deletes)
	})

	t.Run("missing", func(t *testing.T) {
		client := &fakeS3{headFn: func(ctx context.Context, in *s3.HeadObjectInput) error { return &types.NotFound{} }}
		store := newTestStore(client, &fakePresigner{})

		err := store.DeleteObject(context.Background(), "maps/gone.zip")
		assert.ErrorIs(t, err, common.ErrObjectNotFound)
		assert.Empty(t, client.deletes)
	})

	t.Run("head transport failure", func(t *testing.T) {
		client := &fakeS3{headFn: func(ctx context.Context, in *s3.HeadObjectInput) error { return errors.New("dial tcp") }}
		store := newTestStore(client, &fakePresigner{})

		err := store.DeleteObject(context.Background(), "maps/a.zip")
		assert.ErrorIs(t, err, common.ErrStoreUnavailable)
		assert.Empty(t, client.deletes)
	})

	t.Run("delete failure", func(t *testing.T) {
		client := &fakeS3{deleteFn: func(ctx context.Context, in *s3.DeleteObjectInput) error { return errors.New("503") }}
		store := newTestStore(client, &fakePresigner{})

		err := store.DeleteObject(context.Background(), "maps/a.zip")
		assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	})
}

func TestListObjects_Paginates(t *testing.T) {
	now := time.Now()
	client := &fakeS3{pages: [][]types.Object{
		{{Key: aws.String("maps/a.zip"), Size: aws.Int64(10), LastModified: aws.Time(now)}},
		{{Key: aws.String("maps/b.zip"), Size: aws.Int64(20)}},
	}}
	store := newTestStore(client, &fakePresigner{})

	got, err := store.ListObjects(context.Background(), "maps/")
	require.NoError(t, err)
	assert.Equal(t, []ObjectInfo{
		{Key: "maps/a.zip", Size: 10, LastModified: now},
		{Key: "maps/b.zip", Size: 20},
	}, got)
}

func TestListObjects_Error(t *testing.T) {
	store := newTestStore(&fakeS3{listErr: errors.New("boom")}, &fakePresigner{})

	_, err := store.ListObjects(context.Background(), "maps/")
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
}
