package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

type Config struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

// Storage puts and removes public objects in an R2 bucket through its S3 API.
type Storage struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.AccountID == "" || cfg.Bucket == "" {
		return nil, errors.New("r2 account id and bucket are required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
		o.UsePathStyle = true
	})

	return &Storage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// UploadAvatar stores a WEBP avatar and returns its public URL.
func (s *Storage) UploadAvatar(ctx context.Context, userID uint, displayName string, body io.Reader) (string, error) {
	key := AvatarKey(userID, displayName, uuid.NewString())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         body,
		ContentType:  aws.String("image/webp"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("could not upload file to R2: %w", err)
	}

	return s.publicURL + "/" + key, nil
}

// Delete removes the object behind a URL previously returned by UploadAvatar.
// URLs outside this bucket's public prefix are ignored.
func (s *Storage) Delete(ctx context.Context, url string) error {
	key, ok := ObjectKey(s.publicURL, url)
	if !ok {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("could not delete file from R2: %w", err)
	}
	return nil
}

// AvatarKey builds avatars/<id>-<slug>/<objectID>.webp.
func AvatarKey(userID uint, displayName, objectID string) string {
	dir := fmt.Sprintf("%d", userID)
	if s := slug.Make(displayName); s != "" {
		dir += "-" + s
	}
	return path.Join("avatars", dir, objectID+".webp")
}

func ObjectKey(publicURL, url string) (string, bool) {
	prefix := strings.TrimRight(publicURL, "/") + "/"
	if publicURL == "" || !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	return key, key != ""
}
