package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ErrScanInProgress is returned when a scan is requested while one is running.
var ErrScanInProgress = errors.New("scan already in progress")

const rescanDebounce = 2 * time.Second

// ScanSummary describes the most recent library scan.
type ScanSummary struct {
	Running  bool      `json:"running"`
	Started  time.Time `json:"started,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
	Scanned  int       `json:"scanned"`
	Added    int       `json:"added"`
	Updated  int       `json:"updated"`
	Removed  int       `json:"removed"`
	Skipped  int       `json:"skipped"`
}

// Scanner keeps the store in sync with the audio files under the library
// roots. Scans are incremental: unchanged files (same size and mtime) are not
// re-probed, and tracks whose files vanished are pruned from the store and
// from every collection referencing them.
type Scanner struct {
	store *Store
	roots []string

	// onCollectionsChanged receives the ids of collections whose membership
	// changed because tracks were pruned.
	onCollectionsChanged func(ids []string)

	mu      sync.Mutex
	running bool
	last    ScanSummary

	rescan   chan struct{}
	debounce *debouncer
	watcher  *fsnotify.Watcher
}

// NewScanner builds a scanner over the given library roots.
func NewScanner(store *Store, roots []string, onCollectionsChanged func(ids []string)) *Scanner {
	s := &Scanner{
		store:                store,
		roots:                roots,
		onCollectionsChanged: onCollectionsChanged,
		rescan:               make(chan struct{}, 1),
	}
	s.debounce = newDebouncer(rescanDebounce, s.Request)
	return s
}

// Status returns the latest scan summary.
func (s *Scanner) Status() ScanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Request asks for a rescan without blocking. Requests made while one is
// already queued collapse into it.
func (s *Scanner) Request() {
	select {
	case s.rescan <- struct{}{}:
	default:
	}
}

// Run serves queued rescan requests until the context ends.
func (s *Scanner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.rescan:
			if _, err := s.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("[library] rescan failed")
			}
		}
	}
}

// Scan walks every root once, probing new and modified audio files and
// pruning tracks whose files are gone.
func (s *Scanner) Scan(ctx context.Context) (ScanSummary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ScanSummary{}, ErrScanInProgress
	}
	s.running = true
	sum := ScanSummary{Running: true, Started: time.Now()}
	s.last = sum
	s.mu.Unlock()

	finish := func() ScanSummary {
		sum.Running = false
		sum.Finished = time.Now()
		s.mu.Lock()
		s.running = false
		s.last = sum
		s.mu.Unlock()
		return sum
	}

	seen := make(map[string]bool)
	for _, root := range s.roots {
		if err := s.scanRoot(ctx, root, &sum, seen); err != nil {
			return finish(), err
		}
	}

	affected, err := s.prune(seen, &sum)
	if err != nil {
		return finish(), err
	}
	if len(affected) > 0 && s.onCollectionsChanged != nil {
		s.onCollectionsChanged(affected)
	}

	sum = finish()
	log.Info().
		Int("scanned", sum.Scanned).
		Int("added", sum.Added).
		Int("updated", sum.Updated).
		Int("removed", sum.Removed).
		Int("skipped", sum.Skipped).
		Msg("[library] scan complete")
	return sum, nil
}

func (s *Scanner) scanRoot(ctx context.Context, root string, sum *ScanSummary, seen map[string]bool) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("[library] scan skipping unreadable entry")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			if s.watcher != nil {
				_ = s.watcher.Add(path)
			}
			return nil
		}
		if !IsAudioFile(path) {
			return nil
		}
		sum.Scanned++
		seen[path] = true

		info, err := d.Info()
		if err != nil {
			sum.Skipped++
			return nil
		}
		existing, lookupErr := s.store.TrackByPath(path)
		if lookupErr == nil && existing.Size == info.Size() && existing.ModTime.Equal(info.ModTime()) {
			return nil
		}

		t, err := ProbeFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("[library] probe failed, skipping")
			sum.Skipped++
			return nil
		}
		if _, err := s.store.UpsertTrack(t); err != nil {
			return err
		}
		if lookupErr == nil {
			sum.Updated++
		} else {
			sum.Added++
		}
		return nil
	})
}

// prune drops tracks whose files no longer exist on disk. It returns the ids
// of collections that lost members.
func (s *Scanner) prune(seen map[string]bool, sum *ScanSummary) ([]string, error) {
	tracks, err := s.store.Tracks("", "")
	if err != nil {
		return nil, err
	}
	affected := make(map[string]bool)
	for _, t := range tracks {
		if seen[t.Path] {
			continue
		}
		if _, err := os.Stat(t.Path); err == nil || !os.IsNotExist(err) {
			// Still there (or unknown); a track outside the roots, such as a
			// download dir not covered by the walk, is left alone.
			continue
		}
		collIDs, err := s.store.DeleteTrack(t.ID)
		if err != nil {
			return nil, err
		}
		sum.Removed++
		log.Info().Str("path", t.Path).Msg("[library] pruned vanished track")
		for _, id := range collIDs {
			affected[id] = true
		}
	}
	out := make([]string, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Watch starts filesystem watching over the roots. Directories discovered by
// later scans are added to the watch set as the walk passes them.
func (s *Scanner) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	s.watcher = w
	for _, root := range s.roots {
		if err := w.Add(root); err != nil {
			log.Warn().Err(err).Str("root", root).Msg("[library] cannot watch root")
		}
	}
	go s.watchLoop()
	return nil
}

func (s *Scanner) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = s.watcher.Add(event.Name)
					s.debounce.trigger()
					continue
				}
			}
			if !IsAudioFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.debounce.trigger()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("[library] watcher error")
		}
	}
}

// Close stops the debounce timer and the filesystem watcher.
func (s *Scanner) Close() {
	s.debounce.stop()
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

// debouncer collapses bursts of triggers into one callback after a quiet
// window.
type debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, fn func()) *debouncer {
	return &debouncer{window: window, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
