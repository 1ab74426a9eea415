package models

import (
	"time"

	"github.com/dustin/go-humanize"
)

// StoredAsset is an original that has been validated and written. It is never
// mutated; replacing an image means deleting it and storing a new one.
type StoredAsset struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"sizeBytes"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Derivative is one resized copy of a StoredAsset. EncodedAs differs from the
// original's format when the source format has no encoder available.
type Derivative struct {
	Original  string `json:"original"`
	Spec      string `json:"spec"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"sizeBytes"`
	EncodedAs string `json:"encodedAs"`
	Reference string `json:"reference"`
}

// FileInfo is computed on every call and never cached.
type FileInfo struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"sizeBytes"`
	MIME      string    `json:"mime"`
	Reference string    `json:"reference"`
	ModTime   time.Time `json:"modTime"`
}

func (f FileInfo) FormattedSize() string {
	return humanize.IBytes(uint64(f.SizeBytes))
}
