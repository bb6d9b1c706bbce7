package transcode

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// gradientImage builds a deterministic, non-uniform test image.
func gradientImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradientImage(width, height), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradientImage(width, height)); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func isJPEG(data []byte) bool {
	return len(data) > 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

func isWebP(data []byte) bool {
	return len(data) > 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

func isAVIF(data []byte) bool {
	if len(data) < 32 || string(data[4:8]) != "ftyp" {
		return false
	}
	return bytes.Contains(data[8:32], []byte("avif"))
}

// forgedPNG encodes a 1x1 PNG and rewrites its IHDR to declare width x height.
// The pixel data stays a single pixel, so only a size check can reject it cheaply.
func forgedPNG(t *testing.T, width, height uint32) []byte {
	t.Helper()
	data := pngBytes(t, 1, 1)
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc follows 13 data bytes
	const ihdrType, ihdrData = 12, 16
	binary.BigEndian.PutUint32(data[ihdrData:], width)
	binary.BigEndian.PutUint32(data[ihdrData+4:], height)
	crc := crc32.ChecksumIEEE(data[ihdrType : ihdrData+13])
	binary.BigEndian.PutUint32(data[ihdrData+13:], crc)
	return data
}
