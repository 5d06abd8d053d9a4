package ioutils

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder registration

	"golang.org/x/image/draw"
)

// ImageService prepares episode artwork for embedding in ID3 tags.
type ImageService struct{}

// NewImageService creates a new ImageService.
func NewImageService() *ImageService {
	return &ImageService{}
}

// ResizeImage resizes an image to fit within the specified maximum dimensions.
//
// The aspect ratio is preserved. Images already within bounds are re-encoded
// without scaling. The result is JPEG encoded. Catmull-Rom is used for
// high-quality resizing.
//
// Example:
//
//	// A 3000x3000 podcast cover becomes 600x600
//	resized, err := svc.ResizeImage(ctx, imageData, 600, 600)
func (s *ImageService) ResizeImage(ctx context.Context, data []byte, maxWidth, maxHeight int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width > maxWidth || height > maxHeight {
		ratio := float64(width) / float64(height)
		if float64(maxWidth)/float64(maxHeight) > ratio {
			// Height is the limiting factor
			width = int(float64(maxHeight) * ratio)
			height = maxHeight
		} else {
			width = maxWidth
			height = int(float64(maxWidth) / ratio)
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	return encodeJPEG(dst)
}

// ConvertToJPEG converts an image to JPEG format with 90% quality.
func (s *ImageService) ConvertToJPEG(ctx context.Context, data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return encodeJPEG(img)
}

// PrepareArtwork converts artwork to JPEG and, when maxSize is positive,
// scales it to fit a maxSize square.
func (s *ImageService) PrepareArtwork(ctx context.Context, data []byte, maxSize int) ([]byte, error) {
	if maxSize > 0 {
		return s.ResizeImage(ctx, data, maxSize, maxSize)
	}
	return s.ConvertToJPEG(ctx, data)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
