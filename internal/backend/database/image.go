package database

import "time"

// StoredImage is one uploaded image together with every derivative generated at ingestion.
// Documents are written once and never updated.
type StoredImage struct {
	ID          string
	Data        []byte // original upload, byte-identical
	ContentType string
	Filename    string
	Width       int
	Height      int
	Size        int64

	// Thumbnails maps a size label (thumbnail, small, medium, large) to a JPEG payload.
	Thumbnails map[string][]byte
	// Formats maps a format label (jpeg, webp, avif) to the full resolution re-encode.
	Formats map[string][]byte

	CreatedAt time.Time
}

// PayloadBytes sums the original and every derivative.
func (i *StoredImage) PayloadBytes() int {
	total := len(i.Data)
	for _, data := range i.Thumbnails {
		total += len(data)
	}
	for _, data := range i.Formats {
		total += len(data)
	}
	return total
}
