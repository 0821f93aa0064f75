package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	sc "github.com/dmitrijs2005/bhopmaps/internal/server/config"
	"github.com/dmitrijs2005/bhopmaps/internal/server/metrics"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	newObjectKey = func(ext string) string {
		return common.MapKeyPrefix + uuid.NewString() + ext
	}
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store implements Store on aws-sdk-go-v2.
type S3Store struct {
	client     s3API
	presigner  presignAPI
	bucket     string
	publicBase string
	timeout    time.Duration
	defaultTTL time.Duration
}

// NewS3Store builds the SDK clients from cfg. Static credentials and the
// base endpoint make it work against MinIO as well as AWS.
func NewS3Store(ctx context.Context, cfg *sc.Config) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	publicBase := cfg.S3PublicBaseURL
	if publicBase == "" {
		publicBase = strings.TrimRight(cfg.S3BaseEndpoint, "/") + "/" + cfg.S3Bucket
	}

	return &S3Store{
		client:     client,
		presigner:  newS3PresignClient(client),
		bucket:     cfg.S3Bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		timeout:    cfg.ObjectStoreTimeout,
		defaultTTL: cfg.SignedURLTTL,
	}, nil
}

func (s *S3Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func observe(op string, start time.Time, err error) {
	metrics.ObjectStoreDuration.WithLabelValues(op, metrics.Result(err)).Observe(time.Since(start).Seconds())
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStoreUnavailable, op, err)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// PutObject uploads data with an explicit content length. The key is chosen
// before the first attempt, so SDK retries overwrite the same object.
func (s *S3Store) PutObject(ctx context.Context, data []byte, ext string) (key string, err error) {
	start := time.Now()
	defer func() { observe("put", start, err) }()

	key = newObjectKey(ext)

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return "", unavailable("put object", err)
	}
	return key, nil
}

// PutPublicImage uploads data under images/<key> with a public-read ACL.
func (s *S3Store) PutPublicImage(ctx context.Context, key string, data []byte) (url string, err error) {
	start := time.Now()
	defer func() { observe("put_image", start, err) }()

	fullKey := common.ImageKeyPrefix + key

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(fullKey)),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", unavailable("put image", err)
	}
	return s.PublicURL(fullKey), nil
}

// SignedDownloadURL presigns a GET of key valid for ttl.
func (s *S3Store) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (url string, err error) {
	start := time.Now()
	defer func() { observe("presign", start, err) }()

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", unavailable("presign get", err)
	}
	return req.URL, nil
}

// DeleteObject checks the object exists before deleting it, since S3 reports
// success for deletes of missing keys.
func (s *S3Store) DeleteObject(ctx context.Context, key string) (err error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	start := time.Now()
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	observe("head", start, err)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", common.ErrObjectNotFound, key)
		}
		return unavailable("head object", err)
	}

	start = time.Now()
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	observe("delete", start, err)
	if err != nil {
		return unavailable("delete object", err)
	}
	return nil
}

// PublicURL returns the unsigned link of key under the public base.
func (s *S3Store) PublicURL(key string) string {
	return s.publicBase + "/" + strings.TrimLeft(key, "/")
}

// ListObjects returns every object under prefix, following continuation tokens.
func (s *S3Store) ListObjects(ctx context.Context, prefix string) (objects []ObjectInfo, err error) {
	start := time.Now()
	defer func() { observe("list", start, err) }()

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, unavailable("list objects", err)
		}
		for _, o := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return objects, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
