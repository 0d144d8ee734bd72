package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sdko-org/dashboard-proxy/internal/config"
	"github.com/sdko-org/dashboard-proxy/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// S3Backend keeps payloads in a bucket and their expiry in postgres.
type S3Backend struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	db       *gorm.DB
	log      *logrus.Entry
}

func NewS3Backend(logger *logrus.Logger, cfg *config.Config, db *gorm.DB) *S3Backend {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.S3Region),
		Credentials:      credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}

	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
	}

	sess := session.Must(session.NewSession(awsConfig))

	return &S3Backend{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.S3Bucket,
		db:       db,
		log:      logger.WithFields(logrus.Fields{"component": "s3_backend", "bucket": cfg.S3Bucket}),
	}
}

func (s *S3Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry models.RenderCacheEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup cache entry: %w", err)
	}

	if time.Now().After(entry.ExpiresAt) {
		if err := s.Delete(ctx, key); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Failed to delete expired cache entry")
		}
		return nil, false, nil
	}

	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, false, fmt.Errorf("s3 get %q: %w", key, err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("s3 read %q: %w", key, err)
	}

	if err := s.db.WithContext(ctx).Model(&models.RenderCacheEntry{}).
		Where("key = ?", key).
		Update("last_access", time.Now()).Error; err != nil {
		s.log.WithError(err).Debug("Failed to update last access")
	}

	return content, true, nil
}

func (s *S3Backend) Set(ctx context.Context, key string, content []byte, ttl time.Duration) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}

	now := time.Now()
	entry := models.RenderCacheEntry{
		Key:        key,
		StoredAt:   now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
		SizeBytes:  int64(len(content)),
	}

	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}

	return nil
}

func (s *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	if dbErr := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.RenderCacheEntry{}).Error; dbErr != nil {
		s.log.WithError(dbErr).WithField("key", key).Warn("Failed to delete cache entry row")
	}

	return err
}

// Expired lists keys whose TTL has elapsed.
func (s *S3Backend) Expired(ctx context.Context, now time.Time) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&models.RenderCacheEntry{}).
		Where("expires_at < ?", now).
		Pluck("key", &keys).Error
	return keys, err
}

func (s *S3Backend) Close() error {
	return nil
}
