// Package library manages the music library: the persistent track and
// collection store, file probing, and filesystem scanning.
package library

import (
	"time"

	"github.com/klucsik/rpg-music-sub000/playback"
)

const (
	SourceScan     = "scan"
	SourceDownload = "download"
)

// Track is one playable file known to the library. Identity is stable across
// rescans: the path-to-id mapping is persisted alongside the track.
type Track struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist,omitempty"`
	Album    string    `json:"album,omitempty"`
	Duration float64   `json:"duration"`
	Path     string    `json:"path"`
	Source   string    `json:"source"`
	Size     int64     `json:"size,omitempty"`
	ModTime  time.Time `json:"modTime,omitempty"`
	AddedAt  time.Time `json:"addedAt"`
}

// Ref converts the track to the reference shape the playback engine works
// with.
func (t Track) Ref() playback.TrackRef {
	return playback.TrackRef{
		ID:       t.ID,
		Title:    t.Title,
		Artist:   t.Artist,
		Album:    t.Album,
		Duration: t.Duration,
	}
}

// Collection is an ordered playlist of track ids.
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TrackIDs  []string  `json:"trackIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Folder is a derived view: one directory holding tracks, relative to a
// library root.
type Folder struct {
	Path   string `json:"path"`
	Tracks int    `json:"tracks"`
}
