package library

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

var supportedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
}

// IsAudioFile reports whether the path has a supported audio extension.
func IsAudioFile(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// ProbeFile opens an audio file and builds a Track from it: tags when
// present, filename as title fallback, and the decoded duration. A file
// whose duration cannot be determined is not playable and fails the probe.
func ProbeFile(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return Track{}, fmt.Errorf("open %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Track{}, fmt.Errorf("stat %q: %w", path, err)
	}

	t := Track{
		Path:    path,
		Source:  SourceScan,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	// Tags are optional; unreadable tags just mean filename metadata.
	if m, err := tag.ReadFrom(f); err == nil {
		t.Title = m.Title()
		t.Artist = m.Artist()
		t.Album = m.Album()
	}
	if t.Title == "" {
		base := filepath.Base(path)
		t.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Track{}, fmt.Errorf("rewind %q: %w", path, err)
	}
	dur, err := probeDuration(f, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return Track{}, fmt.Errorf("decode %q: %w", path, err)
	}
	t.Duration = dur
	return t, nil
}

func probeDuration(f *os.File, ext string) (float64, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	default:
		return 0, fmt.Errorf("unsupported audio format %q", ext)
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = streamer.Close() }()

	n := streamer.Len()
	if n < 0 {
		return 0, nil
	}
	return format.SampleRate.D(n).Seconds(), nil
}
