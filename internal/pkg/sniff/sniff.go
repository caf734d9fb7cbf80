package sniff

import "bytes"

// Format is a payload format detected from leading magic bytes.
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatWebP    Format = "webp"
	FormatGLB     Format = "glb"
	FormatUnknown Format = "unknown"
)

// minSignatureLen is the longest prefix we need to inspect (RIFF....WEBP).
const minSignatureLen = 12

var (
	pngSignature  = []byte{0x89, 0x50, 0x4E, 0x47}
	jpegSignature = []byte{0xFF, 0xD8}
	riffSignature = []byte("RIFF")
	webpSignature = []byte("WEBP")
	glbSignature  = []byte("glTF")
)

// Classify inspects the leading bytes of data and returns the detected format.
// Declared content types and file extensions are deliberately ignored; the
// bytes are the only trusted source. Buffers shorter than the minimum
// signature length classify as unknown.
func Classify(data []byte) Format {
	if len(data) < minSignatureLen {
		return FormatUnknown
	}
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return FormatPNG
	case bytes.HasPrefix(data, jpegSignature):
		return FormatJPEG
	case bytes.HasPrefix(data, riffSignature) && bytes.Equal(data[8:12], webpSignature):
		return FormatWebP
	case bytes.HasPrefix(data, glbSignature):
		return FormatGLB
	default:
		return FormatUnknown
	}
}

// IsImage reports whether f is one of the supported raster image formats.
func IsImage(f Format) bool {
	return f == FormatPNG || f == FormatJPEG || f == FormatWebP
}

// Ext returns the canonical file extension for f, or ".bin" when unknown.
func Ext(f Format) string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatJPEG:
		return ".jpg"
	case FormatWebP:
		return ".webp"
	case FormatGLB:
		return ".glb"
	default:
		return ".bin"
	}
}

// ContentType returns the MIME type to serve f with.
func ContentType(f Format) string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatGLB:
		return "model/gltf-binary"
	default:
		return "application/octet-stream"
	}
}
