package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
	"golang.org/x/sync/errgroup"
)

// S3Store keeps artifacts in any S3 compatible service. Selected with ARTIFACT_DRIVER=s3.
type S3Store struct {
	Client *s3.Client
	Region string
}

func InitS3Store(cfg *config.EnvConfig) *S3Store {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3.Region),
	}
	if cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load S3 configuration: %v", err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		Client: client,
		Region: cfg.S3.Region,
	}
}

func (s *S3Store) EnsureBuckets(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, bucket := range utils.ArtifactBuckets {
		g.Go(func() error {
			if _, err := s.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
				return nil
			}

			input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
			if s.Region != "" && s.Region != "us-east-1" {
				input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
					LocationConstraint: types.BucketLocationConstraint(s.Region),
				}
			}
			if _, err := s.Client.CreateBucket(ctx, input); err != nil {
				var owned *types.BucketAlreadyOwnedByYou
				if errors.As(err, &owned) {
					return nil
				}
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *S3Store) Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) (string, error) {
	if bucket == "" || object == "" {
		return "", fmt.Errorf("bucket and object cannot be empty")
	}

	// the SDK needs a seekable body to sign the payload
	body, ok := reader.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(reader)
		if err != nil {
			return "", fmt.Errorf("failed to buffer object %s/%s: %w", bucket, object, err)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(object),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to put object %s/%s: %w", bucket, object, s.mapError(err))
	}

	return utils.FormatRef(bucket, object), nil
}

func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	body, err := s.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", ref, err)
	}
	return data, nil
}

func (s *S3Store) Download(ctx context.Context, ref, localPath string) error {
	body, err := s.open(ctx, ref)
	if err != nil {
		return err
	}
	defer body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to download object %s: %w", ref, err)
	}
	return file.Close()
}

func (s *S3Store) Upload(ctx context.Context, bucket, object, localPath, contentType string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	return s.Put(ctx, bucket, object, file, info.Size(), contentType)
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	bucket, object, err := utils.ParseRef(ref)
	if err != nil {
		return err
	}

	_, err = s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", ref, s.mapError(err))
	}
	return nil
}

func (s *S3Store) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, object, err := utils.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", ref, s.mapError(err))
	}
	return out.Body, nil
}

func (s *S3Store) mapError(err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return errors.Join(utils.ErrArtifactNotFound, err)
	}
	return err
}
