package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/chai2010/webp"
)

const (
	MaxDimension  = 4096
	avatarQuality = 82
)

var ErrTooLarge = errors.New("image dimensions exceed 4096px")

// ToWebP decodes a JPEG, PNG or WEBP image and re-encodes it as lossy WEBP.
// Re-encoding drops any metadata the upload carried.
func ToWebP(r io.Reader) (*bytes.Buffer, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}
	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return nil, ErrTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("could not decode %s image: %w", format, err)
	}

	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, &webp.Options{Lossless: false, Quality: avatarQuality}); err != nil {
		return nil, fmt.Errorf("could not encode image: %w", err)
	}
	return buf, nil
}
