package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type storedBlob struct {
	image   StoredImage
	content []byte
}

// InMemoryImageStore keeps images in process memory and serves them under
// /uploads/:id. Contents are lost on restart.
type InMemoryImageStore struct {
	mu      sync.RWMutex
	baseURL string
	blobs   map[string]*storedBlob
}

// NewInMemoryImageStore returns a store whose URLs are rooted at baseURL,
// e.g. "http://localhost:5000".
func NewInMemoryImageStore(baseURL string) *InMemoryImageStore {
	return &InMemoryImageStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]*storedBlob),
	}
}

func (s *InMemoryImageStore) Upload(_ context.Context, meta ImageMetadata, content io.Reader) (*StoredImage, error) {
	data, contentType, hash, err := readImage(meta, content)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	img := StoredImage{
		ID:          id,
		URL:         s.baseURL + "/uploads/" + id,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[id] = &storedBlob{image: img, content: data}
	s.mu.Unlock()

	out := img
	return &out, nil
}

// Download returns the image content and its metadata.
func (s *InMemoryImageStore) Download(_ context.Context, id string) (io.ReadCloser, *StoredImage, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	img := blob.image
	return io.NopCloser(bytes.NewReader(blob.content)), &img, nil
}

// RegisterRoutes mounts GET /uploads/:id on the root router.
func (s *InMemoryImageStore) RegisterRoutes(e *echo.Echo) {
	e.GET("/uploads/:id", s.handleDownload)
}

func (s *InMemoryImageStore) handleDownload(c echo.Context) error {
	rc, img, err := s.Download(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Image not found")
	}
	if err != nil {
		return err
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, img.ContentType, rc)
}
