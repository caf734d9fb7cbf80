// Package imaging holds small in-process image conversions used by the
// generation pipeline.
package imaging

import (
	"bytes"
	"fmt"
	"image/png"

	"golang.org/x/image/webp"
)

// WebPToPNG re-encodes a WebP image as PNG. The mesh generation service does
// not accept WebP input, so segmented images coming back in that format are
// converted before being forwarded.
func WebPToPNG(data []byte) ([]byte, error) {
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode webp: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
