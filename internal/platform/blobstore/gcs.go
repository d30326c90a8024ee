package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCSStore writes images to a Google Cloud Storage bucket whose objects are
// publicly readable.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Upload(ctx context.Context, meta ImageMetadata, content io.Reader) (*StoredImage, error) {
	data, contentType, hash, err := readImage(meta, content)
	if err != nil {
		return nil, err
	}
	format, _ := ImageFormat(meta.FileName)

	name := uuid.New().String() + "." + format
	if meta.Folder != "" {
		name = meta.Folder + "/" + name
	}

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close object %s: %w", name, err)
	}

	return &StoredImage{
		ID:          name,
		URL:         fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, name),
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
