package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/media"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// Store is the subset of Client the uploader needs.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	ObjectURL(key string) string
}

// ImageUploader stores item photos under content-addressed keys:
//
//	items/<entity id>/<sha256>.jpg
//	items/<entity id>/<sha256>_thumb.jpg
//
// Re-uploading the same bytes for the same item reuses the stored object.
type ImageUploader struct {
	store         Store
	thumbnailSize int
	log           *logging.Logger
}

// NewImageUploader creates an uploader. A thumbnailSize of 0 uses
// media.ThumbnailSize; a negative size disables thumbnails.
func NewImageUploader(store Store, thumbnailSize int) *ImageUploader {
	if thumbnailSize == 0 {
		thumbnailSize = media.ThumbnailSize
	}
	return &ImageUploader{
		store:         store,
		thumbnailSize: thumbnailSize,
		log:           logging.Get().Component("objectstore"),
	}
}

// Upload stores a buffered photo and returns where it can be fetched.
// A thumbnail failure is logged and the reference returned without one.
func (u *ImageUploader) Upload(ctx context.Context, data []byte, mime, entityID string) (models.ImageRef, error) {
	if len(data) == 0 {
		return models.ImageRef{}, apperrors.New(apperrors.ErrImageInvalid, "image buffer is empty")
	}
	if entityID == "" {
		return models.ImageRef{}, apperrors.New(apperrors.ErrInvalid, "entity id is required")
	}

	hash := CalculateHash(data)
	key := ImageKey(entityID, hash, mime)
	if err := u.putOnce(ctx, key, data, mime); err != nil {
		return models.ImageRef{}, apperrors.Wrap(apperrors.ErrImageUpload, "failed to upload image", err)
	}
	ref := models.ImageRef{URL: u.store.ObjectURL(key)}

	if u.thumbnailSize > 0 {
		thumbKey := fmt.Sprintf("items/%s/%s_thumb.jpg", entityID, hash)
		thumb, err := media.Thumbnail(data, u.thumbnailSize)
		if err == nil {
			err = u.putOnce(ctx, thumbKey, thumb, media.MIMEType)
		}
		if err != nil {
			u.log.Warn("thumbnail upload skipped", map[string]interface{}{
				"entity_id": entityID,
				"error":     err.Error(),
			})
		} else {
			ref.ThumbnailURL = u.store.ObjectURL(thumbKey)
		}
	}

	u.log.Debug("image uploaded", map[string]interface{}{
		"entity_id": entityID,
		"key":       key,
		"bytes":     len(data),
	})
	return ref, nil
}

func (u *ImageUploader) putOnce(ctx context.Context, key string, data []byte, mime string) error {
	exists, err := u.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return u.store.Put(ctx, key, data, mime)
}

// ImageKey returns the object key for a photo of entityID with content hash.
func ImageKey(entityID, hash, mime string) string {
	return fmt.Sprintf("items/%s/%s%s", entityID, hash, extension(mime))
}

// CalculateHash returns the hex SHA-256 of data.
func CalculateHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func extension(mime string) string {
	switch mime {
	case "image/jpeg", "":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
