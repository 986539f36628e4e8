package library

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeWAV writes a silent 16-bit mono PCM file of roughly the given length.
func writeWAV(t *testing.T, path string, seconds float64) {
	t.Helper()
	const (
		sampleRate = 8000
		channels   = 1
		bits       = 16
	)
	samples := int(seconds * sampleRate)
	dataLen := samples * channels * bits / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestIsAudioFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"song.mp3", true},
		{"song.MP3", true},
		{"song.wav", true},
		{"song.flac", true},
		{"song.ogg", true},
		{"song.txt", false},
		{"song.m4a", false},
		{"song", false},
	}
	for _, tt := range tests {
		if got := IsAudioFile(tt.path); got != tt.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestProbeWAVDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ambience.wav")
	writeWAV(t, path, 2.0)

	tr, err := ProbeFile(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if math.Abs(tr.Duration-2.0) > 0.05 {
		t.Fatalf("duration = %v, want ~2.0", tr.Duration)
	}
	if tr.Path != path {
		t.Fatalf("path = %q, want %q", tr.Path, path)
	}
	if tr.Size == 0 {
		t.Fatal("size not recorded")
	}
	if tr.ModTime.IsZero() {
		t.Fatal("mod time not recorded")
	}
	if tr.Source != SourceScan {
		t.Fatalf("source = %q, want %q", tr.Source, SourceScan)
	}
}

func TestProbeFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forest walk.wav")
	writeWAV(t, path, 0.5)

	tr, err := ProbeFile(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if tr.Title != "forest walk" {
		t.Fatalf("title = %q, want %q", tr.Title, "forest walk")
	}
}

func TestProbeRejectsUndecodableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.mp3")
	if err := os.WriteFile(path, []byte("this is not audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ProbeFile(path); err == nil {
		t.Fatal("expected probe error for garbage file")
	}
}

func TestProbeMissingFile(t *testing.T) {
	if _, err := ProbeFile(filepath.Join(t.TempDir(), "ghost.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
