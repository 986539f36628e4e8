package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/google/uuid"

	"github.com/klucsik/rpg-music-sub000/playback"
)

// ErrNotFound is returned for unknown track or collection ids.
var ErrNotFound = errors.New("not found")

const (
	trackPrefix = "track:"
	pathPrefix  = "path:"
	collPrefix  = "coll:"
)

// Store persists tracks and collections in a PebbleDB key-value store.
// Values are JSON; the path index maps file paths back to track ids so that
// rescans keep track identity stable.
type Store struct {
	db *pebble.DB

	// mu serializes read-modify-write updates (upserts, collection edits);
	// plain reads go straight to pebble.
	mu sync.Mutex
}

// Open opens (or creates) the library database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(filepath.Join(dir, "library"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string, v interface{}) error {
	val, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer func() { _ = closer.Close() }()
	return json.Unmarshal(val, v)
}

func (s *Store) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(key), data, pebble.Sync)
}

func (s *Store) scanPrefix(prefix string, fn func(key string, val []byte) error) error {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for it.First(); it.Valid(); it.Next() {
		if err := fn(string(it.Key()), it.Value()); err != nil {
			return err
		}
	}
	return nil
}

// UpsertTrack inserts or updates a track keyed by its path. An existing path
// keeps its id, added-at time and source; metadata is refreshed.
func (s *Store) UpsertTrack(t Track) (Track, error) {
	if t.Path == "" {
		return Track{}, errors.New("track path required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID string
	if err := s.get(pathPrefix+t.Path, &existingID); err == nil {
		var existing Track
		if err := s.get(trackPrefix+existingID, &existing); err == nil {
			t.ID = existing.ID
			t.AddedAt = existing.AddedAt
			if existing.Source != "" {
				t.Source = existing.Source
			}
		} else {
			t.ID = existingID
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Track{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.AddedAt.IsZero() {
		t.AddedAt = time.Now()
	}
	if t.Source == "" {
		t.Source = SourceScan
	}
	if err := s.put(trackPrefix+t.ID, t); err != nil {
		return Track{}, err
	}
	if err := s.put(pathPrefix+t.Path, t.ID); err != nil {
		return Track{}, err
	}
	return t, nil
}

// Track returns one track by id.
func (s *Store) Track(id string) (Track, error) {
	var t Track
	if err := s.get(trackPrefix+id, &t); err != nil {
		return Track{}, fmt.Errorf("track %q: %w", id, err)
	}
	return t, nil
}

// TrackByPath returns the track stored for a file path.
func (s *Store) TrackByPath(path string) (Track, error) {
	var id string
	if err := s.get(pathPrefix+path, &id); err != nil {
		return Track{}, fmt.Errorf("path %q: %w", path, err)
	}
	return s.Track(id)
}

// Tracks lists tracks sorted by title, optionally filtered by a path prefix
// and a case-insensitive substring over title, artist and album.
func (s *Store) Tracks(folder, query string) ([]Track, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]Track, 0, 64)
	err := s.scanPrefix(trackPrefix, func(_ string, val []byte) error {
		var t Track
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		if folder != "" && !strings.HasPrefix(t.Path, folder) {
			return nil
		}
		if query != "" {
			haystack := strings.ToLower(t.Title + " " + t.Artist + " " + t.Album)
			if !strings.Contains(haystack, query) {
				return nil
			}
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// DeleteTrack removes a track and prunes it from every collection. It
// returns the ids of the collections that referenced it.
func (s *Store) DeleteTrack(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Track
	if err := s.get(trackPrefix+id, &t); err != nil {
		return nil, fmt.Errorf("track %q: %w", id, err)
	}
	if err := s.db.Delete([]byte(trackPrefix+id), pebble.Sync); err != nil {
		return nil, err
	}
	if err := s.db.Delete([]byte(pathPrefix+t.Path), pebble.Sync); err != nil {
		return nil, err
	}
	return s.pruneFromCollections(id)
}

// pruneFromCollections removes a track id from every collection holding it.
// Caller holds mu.
func (s *Store) pruneFromCollections(trackID string) ([]string, error) {
	var affected []string
	colls := make([]Collection, 0, 8)
	if err := s.scanPrefix(collPrefix, func(_ string, val []byte) error {
		var c Collection
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		colls = append(colls, c)
		return nil
	}); err != nil {
		return nil, err
	}
	for _, c := range colls {
		kept := c.TrackIDs[:0]
		removed := false
		for _, tid := range c.TrackIDs {
			if tid == trackID {
				removed = true
				continue
			}
			kept = append(kept, tid)
		}
		if !removed {
			continue
		}
		c.TrackIDs = kept
		c.UpdatedAt = time.Now()
		if err := s.put(collPrefix+c.ID, c); err != nil {
			return nil, err
		}
		affected = append(affected, c.ID)
	}
	return affected, nil
}

// CreateCollection makes a new empty playlist collection.
func (s *Store) CreateCollection(name string) (Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Collection{}, errors.New("collection name required")
	}
	now := time.Now()
	c := Collection{
		ID:        uuid.NewString(),
		Name:      name,
		TrackIDs:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(collPrefix+c.ID, c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// Collection returns one collection by id.
func (s *Store) Collection(id string) (Collection, error) {
	var c Collection
	if err := s.get(collPrefix+id, &c); err != nil {
		return Collection{}, fmt.Errorf("collection %q: %w", id, err)
	}
	return c, nil
}

// Collections lists all collections sorted by name.
func (s *Store) Collections() ([]Collection, error) {
	out := make([]Collection, 0, 16)
	err := s.scanPrefix(collPrefix, func(_ string, val []byte) error {
		var c Collection
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateCollection renames a collection and/or replaces its track list.
// A nil name or nil trackIDs leaves that part unchanged; every replacement
// track id must exist.
func (s *Store) UpdateCollection(id string, name *string, trackIDs []string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Collection(id)
	if err != nil {
		return Collection{}, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return Collection{}, errors.New("collection name required")
		}
		c.Name = trimmed
	}
	if trackIDs != nil {
		for _, tid := range trackIDs {
			if _, err := s.Track(tid); err != nil {
				return Collection{}, err
			}
		}
		c.TrackIDs = append([]string{}, trackIDs...)
	}
	c.UpdatedAt = time.Now()
	if err := s.put(collPrefix+c.ID, c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// DeleteCollection removes a collection.
func (s *Store) DeleteCollection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Collection(id); err != nil {
		return err
	}
	return s.db.Delete([]byte(collPrefix+id), pebble.Sync)
}

// AddToCollection appends a track to the end of a collection.
func (s *Store) AddToCollection(collectionID, trackID string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Collection(collectionID)
	if err != nil {
		return Collection{}, err
	}
	if _, err := s.Track(trackID); err != nil {
		return Collection{}, err
	}
	c.TrackIDs = append(c.TrackIDs, trackID)
	c.UpdatedAt = time.Now()
	if err := s.put(collPrefix+c.ID, c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// RemoveFromCollection removes every occurrence of a track from a collection.
func (s *Store) RemoveFromCollection(collectionID, trackID string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Collection(collectionID)
	if err != nil {
		return Collection{}, err
	}
	kept := make([]string, 0, len(c.TrackIDs))
	for _, tid := range c.TrackIDs {
		if tid != trackID {
			kept = append(kept, tid)
		}
	}
	c.TrackIDs = kept
	c.UpdatedAt = time.Now()
	if err := s.put(collPrefix+c.ID, c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// Folders derives the directory view: every directory holding at least one
// track, with its track count.
func (s *Store) Folders() ([]Folder, error) {
	counts := make(map[string]int)
	err := s.scanPrefix(trackPrefix, func(_ string, val []byte) error {
		var t Track
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		counts[filepath.Dir(t.Path)]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Folder, 0, len(counts))
	for dir, n := range counts {
		out = append(out, Folder{Path: dir, Tracks: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Resolve implements playback.TrackStore.
func (s *Store) Resolve(_ context.Context, trackID string) (playback.TrackRef, error) {
	t, err := s.Track(trackID)
	if err != nil {
		return playback.TrackRef{}, err
	}
	return t.Ref(), nil
}

// TrackAt implements playback.PlaylistStore.
func (s *Store) TrackAt(_ context.Context, collectionID string, index int) (playback.TrackRef, error) {
	c, err := s.Collection(collectionID)
	if err != nil {
		return playback.TrackRef{}, err
	}
	if index < 0 || index >= len(c.TrackIDs) {
		return playback.TrackRef{}, fmt.Errorf("index %d out of range in collection %q", index, collectionID)
	}
	t, err := s.Track(c.TrackIDs[index])
	if err != nil {
		return playback.TrackRef{}, err
	}
	return t.Ref(), nil
}

// AdjacentIndex implements playback.PlaylistStore. A missing collection or a
// neighbour outside the list reports no adjacent index, not an error.
func (s *Store) AdjacentIndex(_ context.Context, collectionID string, index, direction int) (int, bool, error) {
	c, err := s.Collection(collectionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n := index + direction
	if n < 0 || n >= len(c.TrackIDs) {
		return 0, false, nil
	}
	return n, true, nil
}

// Len implements playback.PlaylistStore. A missing collection has length 0.
func (s *Store) Len(_ context.Context, collectionID string) (int, error) {
	c, err := s.Collection(collectionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return len(c.TrackIDs), nil
}
