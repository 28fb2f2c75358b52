// Package media turns captured photos into bounded-size JPEGs for local buffering and upload.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
)

const (
	// MaxDimension bounds the longest edge of a compressed photo.
	MaxDimension = 1024
	// TargetSize is the encoded size the quality search aims for.
	TargetSize = 200 * 1024
	// InitialQuality is the first JPEG quality tried.
	InitialQuality = 85
	// MinQuality is the floor; its encoding is returned even when over TargetSize.
	MinQuality = 40
	// QualityStep is how much quality drops per attempt.
	QualityStep = 10
	// ThumbnailSize is the square edge of generated thumbnails.
	ThumbnailSize = 200

	// MIMEType of every encoded output.
	MIMEType = "image/jpeg"
)

// Result is a compressed photo.
type Result struct {
	Data    []byte
	MIME    string
	Width   int
	Height  int
	Quality int
	Format  string // decoded input format
}

// Options overrides the compression bounds. Zero fields use the package defaults.
type Options struct {
	MaxDimension int
	TargetSize   int
}

// Compress decodes a JPEG, PNG, GIF or WebP photo, fits it within
// MaxDimension, and encodes JPEG at the highest quality in
// 85, 75, 65, 55, 45 whose output fits TargetSize, else at MinQuality.
func Compress(r io.Reader) (*Result, error) {
	return CompressWithOptions(r, Options{})
}

// CompressWithOptions is Compress with custom bounds.
func CompressWithOptions(r io.Reader, opts Options) (*Result, error) {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = MaxDimension
	}
	if opts.TargetSize <= 0 {
		opts.TargetSize = TargetSize
	}

	img, format, err := decode(r)
	if err != nil {
		return nil, err
	}

	fitted := imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
	flat := flatten(fitted)
	bounds := flat.Bounds()

	var data []byte
	quality := InitialQuality
	for ; quality >= MinQuality; quality -= QualityStep {
		data, err = encode(flat, quality)
		if err != nil {
			return nil, err
		}
		if len(data) <= opts.TargetSize {
			break
		}
	}
	if quality < MinQuality {
		quality = MinQuality
		if data, err = encode(flat, quality); err != nil {
			return nil, err
		}
	}

	return &Result{
		Data:    data,
		MIME:    MIMEType,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Quality: quality,
		Format:  format,
	}, nil
}

// Thumbnail crops the center of an encoded photo to a size×size square.
func Thumbnail(data []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = ThumbnailSize
	}
	img, _, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	return encode(flatten(thumb), InitialQuality)
}

func decode(r io.Reader) (image.Image, string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrImageInvalid, "failed to read image", err)
	}
	if buf.Len() == 0 {
		return nil, "", apperrors.New(apperrors.ErrImageInvalid, "image is empty")
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrImageInvalid, "unsupported image format", err)
	}

	// Phone cameras store rotation in EXIF; apply it before resizing.
	img, err := imaging.Decode(&buf, imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrImageInvalid, fmt.Sprintf("failed to decode %s image", format), err)
	}
	return img, format, nil
}

// flatten composites onto white so transparent PNG/GIF/WebP areas don't turn black in JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func encode(img image.Image, quality int) ([]byte, error) {
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrImageInvalid, "failed to encode jpeg", err)
	}
	return out.Bytes(), nil
}
