package transcode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"regexp"
	"strconv"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Only the head of a document is inspected when sniffing or reading the root element.
const svgSniffLen = 4096

var (
	svgRootTag  = regexp.MustCompile(`(?is)<svg\b[^>]*>`)
	svgSizeAttr = regexp.MustCompile(`(?i)(?:^|\s)(width|height)\s*=\s*["']\s*([0-9]+(?:\.[0-9]+)?)\s*(px)?\s*["']`)
)

// isSVG reports whether data looks like an SVG document rather than a raster image.
func isSVG(data []byte) bool {
	head := data
	if len(head) > svgSniffLen {
		head = head[:svgSniffLen]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(head, []byte("<svg")) ||
		(bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head, []byte("<svg"))) ||
		bytes.Contains(head, []byte("xmlns=\"http://www.w3.org/2000/svg\""))
}

// svgIntrinsicSize reads absolute width/height attributes from the root element.
// Percentages, other units and viewBox-only documents report ok=false.
func svgIntrinsicSize(data []byte) (width, height int, ok bool) {
	head := data
	if len(head) > svgSniffLen*2 {
		head = head[:svgSniffLen*2]
	}
	root := svgRootTag.Find(head)
	if root == nil {
		return 0, 0, false
	}
	for _, m := range svgSizeAttr.FindAllSubmatch(root, -1) {
		v, err := strconv.ParseFloat(string(m[2]), 64)
		if err != nil || v < 1 {
			continue
		}
		switch string(bytes.ToLower(m[1])) {
		case "width":
			width = int(v + 0.5)
		case "height":
			height = int(v + 0.5)
		}
	}
	return width, height, width > 0 && height > 0
}

// rasterizeSVG renders an SVG document at its intrinsic size onto a white canvas.
func rasterizeSVG(data []byte) (image.Image, error) {
	width, height, ok := svgIntrinsicSize(data)
	if !ok {
		return nil, fmt.Errorf("svg has no explicit pixel width and height")
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(width, height, dst, dst.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	icon.Draw(dasher, 1.0)
	return dst, nil
}
