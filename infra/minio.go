package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
	"golang.org/x/sync/errgroup"
)

// MinioStore is the default artifact store.
type MinioStore struct {
	Client   *minio.Client
	Endpoint string
}

func InitMinioStore(cfg *config.EnvConfig) *MinioStore {
	endpoint := cfg.Minio.Endpoint
	if endpoint == "" {
		panic("MinIO endpoint is not configured")
	}

	rootUser := cfg.Minio.RootUser
	if rootUser == "" {
		panic("MinIO root user is not configured")
	}

	rootPassword := cfg.Minio.RootPassword
	if rootPassword == "" {
		panic("MinIO root password is not configured")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(rootUser, rootPassword, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize MinIO client: %v", err))
	}

	return &MinioStore{
		Client:   minioClient,
		Endpoint: endpoint,
	}
}

// EnsureBuckets creates the artifact buckets that do not exist yet.
func (m *MinioStore) EnsureBuckets(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, bucket := range utils.ArtifactBuckets {
		g.Go(func() error {
			exists, err := m.Client.BucketExists(ctx, bucket)
			if err != nil {
				return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
			}
			if exists {
				return nil
			}
			if err := m.Client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				// another process may have created it in the meantime
				if exists, errExists := m.Client.BucketExists(ctx, bucket); errExists == nil && exists {
					return nil
				}
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *MinioStore) Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) (string, error) {
	if bucket == "" || object == "" {
		return "", fmt.Errorf("bucket and object cannot be empty")
	}

	_, err := m.Client.PutObject(ctx, bucket, object, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s/%s: %w", bucket, object, m.mapError(err))
	}

	return utils.FormatRef(bucket, object), nil
}

func (m *MinioStore) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, object, err := utils.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	obj, err := m.Client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", ref, m.mapError(err))
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", ref, m.mapError(err))
	}

	return buf.Bytes(), nil
}

func (m *MinioStore) Download(ctx context.Context, ref, localPath string) error {
	bucket, object, err := utils.ParseRef(ref)
	if err != nil {
		return err
	}

	if err := m.Client.FGetObject(ctx, bucket, object, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download object %s: %w", ref, m.mapError(err))
	}

	return nil
}

func (m *MinioStore) Upload(ctx context.Context, bucket, object, localPath, contentType string) (string, error) {
	_, err := m.Client.FPutObject(ctx, bucket, object, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s/%s: %w", bucket, object, m.mapError(err))
	}

	return utils.FormatRef(bucket, object), nil
}

func (m *MinioStore) Delete(ctx context.Context, ref string) error {
	bucket, object, err := utils.ParseRef(ref)
	if err != nil {
		return err
	}

	if err := m.Client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", ref, m.mapError(err))
	}

	return nil
}

func (m *MinioStore) mapError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.Join(utils.ErrArtifactNotFound, err)
	}
	return err
}
