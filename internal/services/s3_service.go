package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/logging"
	"github.com/meshlift/backend/internal/config"
)

// S3Service mirrors artifact bytes to S3-compatible object storage. Local
// disk stays the read path; the mirror exists for durability and is written
// best-effort by the pipeline.
type S3Service struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3Service(cfg *config.Config) (*S3Service, error) {
	client, err := buildClient(cfg.MediaS3Endpoint, cfg.MediaS3Region, cfg.MediaS3AccessKeyID, cfg.MediaS3SecretAccessKey, cfg.MediaS3UsePathStyle)
	if err != nil {
		return nil, err
	}
	return &S3Service{client: client, cfg: cfg}, nil
}

func buildClient(endpoint, region, key, secret string, pathStyle bool) (*s3.Client, error) {
	resolver := awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
		func(service, rgn string, options ...interface{}) (aws.Endpoint, error) {
			if endpoint != "" {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}))
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		resolver,
		awsconfig.WithLogger(logging.NewStandardLogger(nil)),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})
	return client, nil
}

// bucketFor maps a storage namespace to its mirror bucket. Diagnostics are
// not mirrored.
func (s *S3Service) bucketFor(kind ArtifactKind) string {
	switch kind {
	case ArtifactImage:
		return s.cfg.MediaImagesBucket
	case ArtifactMesh:
		return s.cfg.MediaMeshesBucket
	default:
		return ""
	}
}

// UploadArtifact mirrors one artifact under its storage key.
func (s *S3Service) UploadArtifact(ctx context.Context, kind ArtifactKind, key string, data []byte, contentType string) error {
	bucket := s.bucketFor(kind)
	if bucket == "" {
		return fmt.Errorf("no mirror bucket for namespace %q", kind)
	}
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		ACL:         s3types.ObjectCannedACLPrivate,
	}, func(u *manager.Uploader) { u.PartSize = 10 * 1024 * 1024 })
	return err
}

// DeleteArtifact removes a mirrored artifact.
func (s *S3Service) DeleteArtifact(ctx context.Context, kind ArtifactKind, key string) error {
	bucket := s.bucketFor(kind)
	if bucket == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	return err
}

// PresignArtifactGet generates a presigned download URL for a mirrored
// artifact.
func (s *S3Service) PresignArtifactGet(ctx context.Context, kind ArtifactKind, key string, ttl time.Duration) (string, error) {
	bucket := s.bucketFor(kind)
	if bucket == "" {
		return "", fmt.Errorf("no mirror bucket for namespace %q", kind)
	}
	presigner := s3.NewPresignClient(s.client)
	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return out.URL, nil
}
