package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultQuality   = 80
	DefaultAVIFSpeed = 6
	// DefaultMaxPixels matches the 0x3FFF square limit common to image servers.
	DefaultMaxPixels = 0x3FFF * 0x3FFF
)

// ErrDecode marks input that could not be decoded as an image.
var ErrDecode = errors.New("cannot decode image")

type Options struct {
	// Quality applies to every encoded variant, in [1,100].
	Quality int
	// AVIFSpeed trades encode time for size, in [1,10]; zero means DefaultAVIFSpeed.
	AVIFSpeed int
	// Workers bounds concurrent variant renders; zero means GOMAXPROCS.
	Workers int
	// MaxPixels rejects inputs whose declared width*height exceeds it; zero means DefaultMaxPixels.
	MaxPixels int64
}

// Result holds every derivative of one input. It is only returned complete.
type Result struct {
	Width      int
	Height     int
	Size       int64
	Thumbnails map[string][]byte
	Formats    map[string][]byte
}

type Transcoder struct {
	thumbnails []Variant
	formats    []Variant
	workers    int
	maxPixels  int64
}

func New(opts Options) (*Transcoder, error) {
	if opts.Quality == 0 {
		opts.Quality = DefaultQuality
	}
	if opts.AVIFSpeed == 0 {
		opts.AVIFSpeed = DefaultAVIFSpeed
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.MaxPixels < 0 {
		return nil, fmt.Errorf("max pixels must not be negative, got %d", opts.MaxPixels)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	t := &Transcoder{workers: workers, maxPixels: opts.MaxPixels}
	for _, size := range Sizes {
		v, err := NewResizeVariant(size, opts.Quality)
		if err != nil {
			return nil, err
		}
		t.thumbnails = append(t.thumbnails, v)
	}
	for _, format := range Formats {
		v, err := NewFormatVariant(format, opts.Quality, opts.AVIFSpeed)
		if err != nil {
			return nil, err
		}
		t.formats = append(t.formats, v)
	}
	return t, nil
}

// Transcode decodes data once and renders every size and format variant from it.
func (t *Transcoder) Transcode(data []byte) (*Result, error) {
	slog.Debug("Transcoder: decoding image", "input_size_bytes", len(data))

	src, err := t.decode(data)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	slog.Debug("Transcoder: decoded image", "width", bounds.Dx(), "height", bounds.Dy())

	thumbnails := make([][]byte, len(t.thumbnails))
	formats := make([][]byte, len(t.formats))

	var g errgroup.Group
	g.SetLimit(t.workers)
	schedule := func(variants []Variant, out [][]byte) {
		for i, v := range variants {
			g.Go(func() error {
				payload, err := v.Render(src)
				if err != nil {
					return fmt.Errorf("variant %s: %w", v.Name(), err)
				}
				out[i] = payload
				return nil
			})
		}
	}
	schedule(t.thumbnails, thumbnails)
	schedule(t.formats, formats)
	if err := g.Wait(); err != nil {
		slog.Error("Transcoder: failed to render variants", "error", err)
		return nil, err
	}

	result := &Result{
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Size:       int64(len(data)),
		Thumbnails: make(map[string][]byte, len(t.thumbnails)),
		Formats:    make(map[string][]byte, len(t.formats)),
	}
	for i, v := range t.thumbnails {
		result.Thumbnails[v.Name()] = thumbnails[i]
	}
	for i, v := range t.formats {
		result.Formats[v.Name()] = formats[i]
	}

	slog.Debug("Transcoder: transcoding complete",
		"width", result.Width,
		"height", result.Height,
		"variants", len(result.Thumbnails)+len(result.Formats))
	return result, nil
}

// decode checks the declared dimensions before any pixel buffer is allocated.
func (t *Transcoder) decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if isSVG(data) {
		if width, height, ok := svgIntrinsicSize(data); ok {
			if err := t.checkPixels(width, height); err != nil {
				return nil, err
			}
		}
		img, err := rasterizeSVG(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return img, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := t.checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	return img, nil
}

func (t *Transcoder) checkPixels(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	if pixels := int64(width) * int64(height); pixels > t.maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, width, height, t.maxPixels)
	}
	return nil
}
