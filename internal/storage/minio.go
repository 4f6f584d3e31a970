package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// maxCaptureRead bounds how much of a stored photo is read back for EXIF
const maxCaptureRead = 10 << 20

// UploadedImage is a stored photo plus the evidence read from it
type UploadedImage struct {
	Key     string                 `json:"key"`
	URL     string                 `json:"url"`
	Capture models.CaptureMetadata `json:"capture"`
}

// MinIOStorage keeps request and report photos
type MinIOStorage struct {
	client         *minio.Client
	bucketName     string
	publicEndpoint string
}

// NewMinIOStorage creates a new MinIO storage client and makes sure the bucket exists
func NewMinIOStorage(endpoint, publicEndpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIOStorage, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	if publicEndpoint == "" {
		publicEndpoint = endpoint
		if !useSSL {
			publicEndpoint = "http://" + endpoint
		}
	}

	s := &MinIOStorage{
		client:         minioClient,
		bucketName:     bucketName,
		publicEndpoint: cleanEndpoint(publicEndpoint),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := minioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to check bucket existence for %s (will continue)", bucketName)
	} else if !exists {
		if err := minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Error().Err(err).Msgf("Failed to create bucket %s", bucketName)
		} else {
			log.Info().Msgf("Bucket %s created", bucketName)
			policy := fmt.Sprintf(`{"Version": "2012-10-17","Statement": [{"Action": ["s3:GetObject"],"Effect": "Allow","Principal": {"AWS": ["*"]},"Resource": ["arn:aws:s3:::%s/*"],"Sid": ""}]}`, bucketName)
			if err := minioClient.SetBucketPolicy(ctx, bucketName, policy); err != nil {
				log.Error().Err(err).Msg("Failed to set bucket policy")
			}
		}
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("public_endpoint", s.publicEndpoint).
		Str("bucket", bucketName).
		Msg("MinIO storage initialized")

	return s, nil
}

func cleanEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.Trim(endpoint, `"'=`)
	return strings.TrimSuffix(endpoint, "/")
}

// UploadImage stores the photo and extracts its capture metadata
func (s *MinIOStorage) UploadImage(ctx context.Context, data []byte, filename, contentType string) (*UploadedImage, error) {
	key := objectKey(filename, time.Now())

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	img := &UploadedImage{
		Key:     key,
		URL:     s.ImageURL(key),
		Capture: ExtractCapture(data),
	}

	log.Info().
		Str("filename", filename).
		Str("key", key).
		Bool("has_gps", img.Capture.Latitude != nil).
		Bool("has_timestamp", img.Capture.TakenAt != nil).
		Msg("Image uploaded")

	return img, nil
}

// DeleteImage removes a stored photo by its public URL
func (s *MinIOStorage) DeleteImage(ctx context.Context, imageURL string) error {
	key := s.KeyFromURL(imageURL)
	if key == "" {
		return fmt.Errorf("could not extract key from URL")
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	log.Info().Str("key", key).Msg("Image deleted")
	return nil
}

// CaptureMetadata re-reads a stored photo and extracts its capture metadata.
// Only objects in this bucket are trusted as evidence.
func (s *MinIOStorage) CaptureMetadata(ctx context.Context, imageURL string) (models.CaptureMetadata, error) {
	key, ok := s.ownKey(imageURL)
	if !ok {
		return models.CaptureMetadata{}, fmt.Errorf("image %s is not stored in bucket %s", imageURL, s.bucketName)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return models.CaptureMetadata{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxCaptureRead))
	if err != nil {
		return models.CaptureMetadata{}, fmt.Errorf("failed to read image: %w", err)
	}
	return ExtractCapture(data), nil
}

// ownKey returns the object key when imageURL points into this bucket
func (s *MinIOStorage) ownKey(imageURL string) (string, bool) {
	prefix := s.ImageURL("")
	if !strings.HasPrefix(imageURL, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(imageURL, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func objectKey(filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("uploads/%s/%s%s", now.UTC().Format("2006-01-02"), uuid.New().String(), ext)
}

// ImageURL returns the public URL for an object key
func (s *MinIOStorage) ImageURL(key string) string {
	if strings.Contains(s.publicEndpoint, "://") {
		return fmt.Sprintf("%s/%s/%s", s.publicEndpoint, s.bucketName, key)
	}
	return fmt.Sprintf("https://%s/%s/%s", s.publicEndpoint, s.bucketName, key)
}

// KeyFromURL extracts the object key from a public URL
func (s *MinIOStorage) KeyFromURL(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	prefix := s.bucketName + "/"
	if idx := strings.LastIndex(path, prefix); idx != -1 {
		return path[idx+len(prefix):]
	}
	return path
}

// HealthCheck verifies the MinIO connection
func (s *MinIOStorage) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("MinIO health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket '%s' does not exist", s.bucketName)
	}
	return nil
}
