/**
 * Image preparation for OCR
 *
 * Photos of study sheets arrive in whatever format the phone or scanner
 * produced. Before OCR they are:
 * - identified by magic bytes (file names and MIME headers are unreliable)
 * - converted to grayscale
 * - shrunk so the longer side fits the OCR engine's sweet spot
 * - re-encoded as PNG
 */

package imageprep

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	kgerrors "github.com/kangen/kangen/internal/errors"
)

// Format is a supported input image format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
	FormatWebP Format = "webp"
)

// MimeType returns the IANA media type of the format.
func (f Format) MimeType() string {
	if f == "" {
		return "application/octet-stream"
	}
	return "image/" + string(f)
}

// Options controls Prepare.
type Options struct {
	// MaxDimension bounds the longer side in pixels; 0 disables scaling.
	MaxDimension int
	Grayscale    bool
	// MaxFileSize rejects larger inputs; 0 disables the check.
	MaxFileSize int64
}

// Info describes what Prepare did.
type Info struct {
	Format         Format `json:"format"`
	OriginalWidth  int    `json:"originalWidth"`
	OriginalHeight int    `json:"originalHeight"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Scaled         bool   `json:"scaled"`
}

// Scale is the factor from prepared to original pixel coordinates.
func (i Info) Scale() float64 {
	if i.Width == 0 {
		return 1
	}
	return float64(i.OriginalWidth) / float64(i.Width)
}

// DetectFormat identifies the image format from its leading bytes.
// It returns "" for anything it does not recognise.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return ""
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return FormatPNG
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return FormatJPEG
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return FormatGIF
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return FormatWebP
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return FormatTIFF
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return FormatBMP
	}

	return ""
}

// Decode decodes data in the detected format.
func Decode(data []byte) (image.Image, Format, error) {
	format := DetectFormat(data)
	r := bytes.NewReader(data)

	var (
		img image.Image
		err error
	)
	switch format {
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatGIF:
		img, err = gif.Decode(r)
	case FormatBMP:
		img, err = bmp.Decode(r)
	case FormatTIFF:
		img, err = tiff.Decode(r)
	case FormatWebP:
		img, err = webp.Decode(r)
	default:
		return nil, "", kgerrors.ErrUnsupportedFormat
	}
	if err != nil {
		return nil, format, fmt.Errorf("decode %s: %w", format, err)
	}
	return img, format, nil
}

// Prepare decodes an image, normalises it for OCR and returns PNG bytes.
func Prepare(data []byte, opts Options) ([]byte, Info, error) {
	if len(data) == 0 {
		return nil, Info{}, fmt.Errorf("empty image: %w", kgerrors.ErrInvalidInput)
	}
	if opts.MaxFileSize > 0 && int64(len(data)) > opts.MaxFileSize {
		return nil, Info{}, fmt.Errorf("image of %d bytes exceeds limit of %d: %w",
			len(data), opts.MaxFileSize, kgerrors.ErrInvalidInput)
	}

	img, format, err := Decode(data)
	if err != nil {
		return nil, Info{Format: format}, err
	}

	b := img.Bounds()
	info := Info{
		Format:         format,
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
		Width:          b.Dx(),
		Height:         b.Dy(),
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, info, fmt.Errorf("image has no pixels: %w", kgerrors.ErrInvalidInput)
	}

	if w, h, ok := fit(info.Width, info.Height, opts.MaxDimension); ok {
		img = resize(img, w, h, opts.Grayscale)
		info.Width, info.Height, info.Scaled = w, h, true
	} else if opts.Grayscale {
		img = toGray(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, info, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), info, nil
}

// fit returns the size that brings the longer side down to limit, keeping
// the aspect ratio. ok is false when no scaling is needed.
func fit(w, h, limit int) (int, int, bool) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h, false
	}
	if w >= h {
		return limit, max(1, h*limit/w), true
	}
	return max(1, w*limit/h), limit, true
}

func resize(src image.Image, w, h int, gray bool) image.Image {
	rect := image.Rect(0, 0, w, h)
	var dst draw.Image
	if gray {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.CatmullRom.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

func toGray(src image.Image) image.Image {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
