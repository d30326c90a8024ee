// Package blobstore stores medicine images. It defines the ImageStore
// interface and three backends: Cloudinary, Google Cloud Storage and an
// in-memory store for development that serves its own /uploads route.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("image must be jpg, jpeg, png or webp")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxImageSize is the largest image any backend accepts (10 MB).
const MaxImageSize = 10 * 1024 * 1024

// AllowedFormats lists the accepted image extensions.
var AllowedFormats = []string{"jpg", "jpeg", "png", "webp"}

var formatContentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// ImageFormat returns the lower-cased extension of fileName if it is one of
// AllowedFormats.
func ImageFormat(fileName string) (string, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", ErrMissingFileName
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	if _, ok := formatContentTypes[ext]; !ok {
		return "", ErrInvalidContentType
	}
	return ext, nil
}

// ImageMetadata describes an upload before it is stored.
type ImageMetadata struct {
	FileName string
	// Folder groups related images, e.g. by medicine id.
	Folder string
}

// StoredImage is the result of a successful upload. URL is publicly
// fetchable.
type StoredImage struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ImageStore is implemented by every image backend.
type ImageStore interface {
	Upload(ctx context.Context, meta ImageMetadata, content io.Reader) (*StoredImage, error)
}

// readImage validates the file name, reads at most MaxImageSize bytes and
// returns the content together with its content type and SHA-256 hash.
func readImage(meta ImageMetadata, content io.Reader) (data []byte, contentType, hash string, err error) {
	format, err := ImageFormat(meta.FileName)
	if err != nil {
		return nil, "", "", err
	}
	data, err = io.ReadAll(io.LimitReader(content, MaxImageSize+1))
	if err != nil {
		return nil, "", "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxImageSize {
		return nil, "", "", ErrFileTooLarge
	}
	return data, formatContentTypes[format], fmt.Sprintf("%x", sha256.Sum256(data)), nil
}
