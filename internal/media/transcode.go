package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

const (
	DefaultMaxDimension = 1920
	DefaultJPEGQuality  = 82

	// pixelBudgetFactor sizes the default decode budget relative to the
	// output bound: sources up to twice MaxDimension on each side decode.
	pixelBudgetFactor = 4
)

var ErrUndecodableImage = errors.New("image could not be decoded")

// Transcoder bounds image dimensions and recompresses the result.
type Transcoder struct {
	MaxDimension uint
	JPEGQuality  int
	// MaxPixels caps width*height of a source before it is decoded.
	MaxPixels int64
}

func NewTranscoder(maxDimension int, jpegQuality int) *Transcoder {
	t := &Transcoder{MaxDimension: DefaultMaxDimension, JPEGQuality: DefaultJPEGQuality}
	if maxDimension > 0 {
		t.MaxDimension = uint(maxDimension)
	}
	if jpegQuality > 0 && jpegQuality <= 100 {
		t.JPEGQuality = jpegQuality
	}
	side := int64(t.MaxDimension)
	t.MaxPixels = side * side * pixelBudgetFactor
	return t
}

// Transcode returns the processed image and the extension it should be stored
// under. GIFs are validated but kept byte for byte so animations survive.
func (t *Transcoder) Transcode(data []byte) ([]byte, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty dimensions", ErrUndecodableImage)
	}
	if t.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > t.MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUndecodableImage, cfg.Width, cfg.Height, t.MaxPixels)
	}

	if format == "gif" {
		if _, err := gif.DecodeAll(bytes.NewReader(data)); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUndecodableImage, err)
		}
		return data, ".gif", nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}

	if uint(cfg.Width) > t.MaxDimension || uint(cfg.Height) > t.MaxDimension {
		img = resize.Thumbnail(t.MaxDimension, t.MaxDimension, img, resize.Lanczos3)
	}

	var out bytes.Buffer
	switch format {
	case "png":
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		if err := encoder.Encode(&out, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return out.Bytes(), ".png", nil
	default:
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: t.JPEGQuality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return out.Bytes(), ".jpg", nil
	}
}
