package ttscache

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is the object-store tier, backed by AWS S3. Credentials come
// from the SDK's default chain (env, instance profile, shared config);
// only the bucket/region are explicit here.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	maxAge   string
}

// NewS3Store builds an S3Store for bucket in region, with a long
// Cache-Control max-age on every write-back (the greeting/filler audio is
// immutable per key).
func NewS3Store(ctx context.Context, region, bucket string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		maxAge:   "public, max-age=31536000, immutable",
	}, nil
}

// Get fetches name from the bucket. A not-found response is reported as
// (nil, false, nil), not an error: it's the expected cache-miss path.
func (s *S3Store) Get(ctx context.Context, name string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put writes name with data and the cache's standard max-age header.
func (s *S3Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(name),
		Body:         bytes.NewReader(data),
		CacheControl: aws.String(s.maxAge),
		ContentType:  aws.String("audio/basic"),
	})
	return err
}
