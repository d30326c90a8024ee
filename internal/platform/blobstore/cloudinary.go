package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// cloudinaryTransformation bounds stored images to 500x500 without upscaling.
const cloudinaryTransformation = "c_limit,w_500,h_500"

// CloudinaryStore uploads images to a Cloudinary folder.
type CloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryStore(cloudName, apiKey, apiSecret, folder string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("configure cloudinary: %w", err)
	}
	return &CloudinaryStore{cld: cld, folder: folder}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, meta ImageMetadata, content io.Reader) (*StoredImage, error) {
	data, contentType, hash, err := readImage(meta, content)
	if err != nil {
		return nil, err
	}

	folder := s.folder
	if meta.Folder != "" {
		folder = folder + "/" + meta.Folder
	}
	resp, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:         folder,
		AllowedFormats: api.CldAPIArray(AllowedFormats),
		Transformation: cloudinaryTransformation,
	})
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary upload: %w", errors.New(resp.Error.Message))
	}

	return &StoredImage{
		ID:          resp.PublicID,
		URL:         resp.SecureURL,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
