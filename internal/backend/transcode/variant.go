package transcode

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
)

const (
	SizeThumbnail = "thumbnail"
	SizeSmall     = "small"
	SizeMedium    = "medium"
	SizeLarge     = "large"

	FormatJPEG = "jpeg"
	FormatWebP = "webp"
	FormatAVIF = "avif"
)

// Size is a bounding box a derivative must fit inside.
type Size struct {
	Label  string
	Width  int
	Height int
}

// Sizes lists the resized derivatives in ascending order.
var Sizes = []Size{
	{Label: SizeThumbnail, Width: 150, Height: 150},
	{Label: SizeSmall, Width: 300, Height: 300},
	{Label: SizeMedium, Width: 600, Height: 600},
	{Label: SizeLarge, Width: 1200, Height: 1200},
}

// Formats lists the full resolution re-encodes.
var Formats = []string{FormatJPEG, FormatWebP, FormatAVIF}

var mimeTypes = map[string]string{
	FormatJPEG: "image/jpeg",
	FormatWebP: "image/webp",
	FormatAVIF: "image/avif",
}

// MIMEType returns the content type of a format label, or "" for unknown labels.
func MIMEType(format string) string {
	return mimeTypes[format]
}

// Variant renders one derivative from a decoded image. Implementations must not
// modify src, since variants of the same image render concurrently.
type Variant interface {
	Name() string
	Render(src image.Image) ([]byte, error)
}

// ResizeVariant fits the image inside a bounding box without enlarging it and encodes JPEG.
type ResizeVariant struct {
	size    Size
	quality int
}

func NewResizeVariant(size Size, quality int) (*ResizeVariant, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("size %s: bounds must be positive, got %dx%d", size.Label, size.Width, size.Height)
	}
	if err := validateQuality(quality); err != nil {
		return nil, err
	}
	return &ResizeVariant{size: size, quality: quality}, nil
}

func (v *ResizeVariant) Name() string {
	return v.size.Label
}

func (v *ResizeVariant) Render(src image.Image) ([]byte, error) {
	// Fit returns a copy unchanged when src already fits the box.
	resized := imaging.Fit(src, v.size.Width, v.size.Height, imaging.Lanczos)
	return encodeJPEG(resized, v.quality)
}

// FormatVariant re-encodes the image at its original resolution.
type FormatVariant struct {
	format    string
	quality   int
	avifSpeed int
}

func NewFormatVariant(format string, quality, avifSpeed int) (*FormatVariant, error) {
	if _, ok := mimeTypes[format]; !ok {
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err := validateQuality(quality); err != nil {
		return nil, err
	}
	if avifSpeed < 0 || avifSpeed > 10 {
		return nil, fmt.Errorf("avif speed must be in [0,10], got %d", avifSpeed)
	}
	return &FormatVariant{format: format, quality: quality, avifSpeed: avifSpeed}, nil
}

func (v *FormatVariant) Name() string {
	return v.format
}

func (v *FormatVariant) Render(src image.Image) ([]byte, error) {
	switch v.format {
	case FormatJPEG:
		return encodeJPEG(src, v.quality)
	case FormatWebP:
		var buf bytes.Buffer
		if err := webp.Encode(&buf, src, webp.Options{Quality: v.quality}); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
		return buf.Bytes(), nil
	case FormatAVIF:
		var buf bytes.Buffer
		opts := avif.Options{Quality: v.quality, QualityAlpha: v.quality, Speed: v.avifSpeed}
		if err := avif.Encode(&buf, src, opts); err != nil {
			return nil, fmt.Errorf("failed to encode avif: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", v.format)
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	bb := img.Bounds()
	// rough heuristic: JPEG at q80 rarely exceeds half a byte per pixel
	buf.Grow(bb.Dx() * bb.Dy() / 2)
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func validateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return fmt.Errorf("quality must be in [1,100], got %d", quality)
	}
	return nil
}
