// videocursor/asset/asset.go
package asset

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a stored media file.
type Kind string

const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindSubtitle Kind = "subtitle"
	KindUnknown  Kind = "unknown"
)

const (
	OriginUpload = "upload"
	OriginEdit   = "edit"
)

// Asset is one uploaded or derived media file. Rows are immutable after
// creation except for lazily probed metadata; deletion is explicit.
type Asset struct {
	ID          string    `gorm:"primaryKey" json:"file_id"`
	Kind        Kind      `json:"kind"`
	StoragePath string    `json:"-"` // relative to the data dir, owned by the Store
	DisplayName string    `json:"filename"`
	Size        int64     `json:"size"`
	Duration    float64   `json:"duration,omitempty"`
	DerivedFrom string    `gorm:"index" json:"derived_from,omitempty"`
	Origin      string    `json:"-"` // "upload" or "edit"
	CreatedAt   time.Time `json:"created_at"`
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".flv": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".aac": true, ".flac": true, ".ogg": true, ".m4a": true,
}

var subtitleExts = map[string]bool{
	".srt": true, ".vtt": true, ".ass": true, ".ssa": true,
}

// KindForExt maps a file extension to an asset kind.
func KindForExt(ext string) Kind {
	ext = strings.ToLower(ext)
	switch {
	case videoExts[ext]:
		return KindVideo
	case audioExts[ext]:
		return KindAudio
	case subtitleExts[ext]:
		return KindSubtitle
	}
	return KindUnknown
}

// ContentType returns a serving media type for the asset's extension.
func (a *Asset) ContentType() string {
	switch strings.ToLower(filepath.Ext(a.StoragePath)) {
	case ".mp4", ".mov", ".avi":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".gif":
		return "image/gif"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".aac", ".m4a":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	}
	return "application/octet-stream"
}

// Ext returns the asset's file extension, dot included.
func (a *Asset) Ext() string {
	return filepath.Ext(a.StoragePath)
}
