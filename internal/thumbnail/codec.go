package thumbnail

import (
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

// FormatForExtension maps a file extension to its image format.
func FormatForExtension(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWEBP, true
	}
	return "", false
}

func (f Format) MIME() string {
	return "image/" + string(f)
}

var ErrTooManyPixels = errors.New("image dimensions exceed limit")

// Codec is the image capability the engine depends on. CanEncode reports
// the formats Encode supports; decoding covers every Format.
type Codec interface {
	Decode(r io.ReadSeeker) (image.Image, error)
	Resize(img image.Image, width, height int) image.Image
	Encode(w io.Writer, img image.Image, format Format) error
	CanEncode(format Format) bool
}

const DefaultMaxPixels = 64_000_000

type ImagingCodec struct {
	filter      imaging.ResampleFilter
	jpegQuality int
	maxPixels   int
}

// NewImagingCodec resizes with the named filter: linear (default),
// catmullrom or lanczos.
func NewImagingCodec(filter string, jpegQuality int) (*ImagingCodec, error) {
	var f imaging.ResampleFilter
	switch strings.ToLower(filter) {
	case "", "linear", "bilinear":
		f = imaging.Linear
	case "catmullrom", "bicubic":
		f = imaging.CatmullRom
	case "lanczos":
		f = imaging.Lanczos
	default:
		return nil, fmt.Errorf("unknown resample filter %q", filter)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 85
	}
	return &ImagingCodec{filter: f, jpegQuality: jpegQuality, maxPixels: DefaultMaxPixels}, nil
}

// Decode reads the header first so oversized dimensions are refused before
// any pixel buffer is allocated.
func (c *ImagingCodec) Decode(r io.ReadSeeker) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if cfg.Width*cfg.Height > c.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

func (c *ImagingCodec) Resize(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, c.filter)
}

func (c *ImagingCodec) Encode(w io.Writer, img image.Image, format Format) error {
	switch format {
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(c.jpegQuality))
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	}
	return fmt.Errorf("no encoder for %s", format)
}

func (c *ImagingCodec) CanEncode(format Format) bool {
	return format == FormatJPEG || format == FormatPNG
}
