package playback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TrackStore resolves track references for playback. The library implements
// it; the engine treats any resolution failure as an invalid track.
type TrackStore interface {
	Resolve(ctx context.Context, trackID string) (TrackRef, error)
}

// PlaylistStore navigates the collection a room plays from. Stores are
// passive: they never learn about playback state.
type PlaylistStore interface {
	TrackAt(ctx context.Context, collectionID string, index int) (TrackRef, error)
	AdjacentIndex(ctx context.Context, collectionID string, index, direction int) (int, bool, error)
	Len(ctx context.Context, collectionID string) (int, error)
}

// Config carries the engine tunables. Zero values fall back to defaults,
// except EndGrace where zero disables the staleness window.
type Config struct {
	// Lead is how far ahead of server-now scheduled transitions are stamped.
	Lead time.Duration
	// DriftInterval is the period of the per-room drift monitor.
	DriftInterval time.Duration
	// MaxDrift is the advisory correction threshold sent with position checks.
	MaxDrift time.Duration
	// EndGrace bounds how far from a track's end a track-ended report is
	// still believed. Zero disables the check.
	EndGrace time.Duration
	// DefaultVolume is the volume new rooms start with.
	DefaultVolume float64
}

func (c Config) withDefaults() Config {
	if c.Lead <= 0 {
		c.Lead = 500 * time.Millisecond
	}
	if c.DriftInterval <= 0 {
		c.DriftInterval = 5 * time.Second
	}
	if c.MaxDrift <= 0 {
		c.MaxDrift = 3 * time.Second
	}
	if c.DefaultVolume <= 0 || c.DefaultVolume > 1 {
		c.DefaultVolume = 0.5
	}
	return c
}

// Engine is the synchronized playback core: a registry of independent room
// actors plus the command operations that mutate them. All commands are
// validated first and applied inside the target room's command loop, so a
// rejected command never leaves partial state and never broadcasts.
type Engine struct {
	cfg    Config
	tracks TrackStore
	lists  PlaylistStore

	mu       sync.RWMutex
	rooms    map[string]*room
	sessions map[string]*room
}

func NewEngine(cfg Config, tracks TrackStore, lists PlaylistStore) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		tracks:   tracks,
		lists:    lists,
		rooms:    make(map[string]*room),
		sessions: make(map[string]*room),
	}
}

// room returns the actor for a room key, creating it on first touch. Rooms
// are never rejected and live for the engine's lifetime.
func (e *Engine) room(id string) *room {
	e.mu.RLock()
	rm := e.rooms[id]
	e.mu.RUnlock()
	if rm != nil {
		return rm
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if rm = e.rooms[id]; rm == nil {
		rm = newRoom(id, e)
		e.rooms[id] = rm
	}
	return rm
}

// Rooms lists the keys of all live rooms.
func (e *Engine) Rooms() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.rooms))
	for id := range e.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Attach binds a session to a room, creating the room on first touch. A
// session already attached elsewhere is detached from its old room first;
// the new room immediately sends it room_joined and a full state_sync.
func (e *Engine) Attach(roomID string, s Session) {
	rm := e.room(roomID)
	e.mu.Lock()
	prev := e.sessions[s.ID()]
	e.sessions[s.ID()] = rm
	e.mu.Unlock()
	if prev != nil && prev != rm {
		id := s.ID()
		prev.post(func(r *room) { r.removeSession(id) })
	}
	rm.post(func(r *room) { r.addSession(s) })
}

// Detach removes a session from whatever room it is attached to.
func (e *Engine) Detach(sessionID string) {
	e.mu.Lock()
	rm := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	if rm != nil {
		rm.post(func(r *room) { r.removeSession(sessionID) })
	}
}

// Sync re-sends the full state snapshot to one attached session.
func (e *Engine) Sync(sessionID string) {
	e.mu.RLock()
	rm := e.sessions[sessionID]
	e.mu.RUnlock()
	if rm != nil {
		rm.post(func(r *room) { r.sendState(sessionID) })
	}
}

// SessionRoom reports which room a session is attached to.
func (e *Engine) SessionRoom(sessionID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rm, ok := e.sessions[sessionID]
	if !ok {
		return "", false
	}
	return rm.id, true
}

// Close shuts down every room actor. In-flight calls fail with a closed-room
// error; the engine is not reusable afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, rm := range e.rooms {
		rm.close()
		delete(e.rooms, id)
	}
	e.sessions = make(map[string]*room)
}

// PlayTrack starts playback of a track. collectionID and index carry the
// playlist context when playing from a collection; pass "" and -1 otherwise.
// The track is resolved before entering the room's command loop so a slow
// store lookup never holds up other commands for the room.
func (e *Engine) PlayTrack(ctx context.Context, roomID, trackID string, startPos float64, collectionID string, index int) (Snapshot, error) {
	ref, err := e.tracks.Resolve(ctx, trackID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %q (%v)", ErrInvalidTrack, trackID, err)
	}
	if collectionID == "" {
		index = -1
	}
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		return rm.applyPlay(ref, startPos, collectionID, index), nil
	})
}

// Pause freezes playback at the current extrapolated position. Pausing a
// room that is not playing changes nothing and returns the current state.
func (e *Engine) Pause(ctx context.Context, roomID string) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		now := time.Now()
		if rm.state.play != StatePlaying {
			return rm.state.snapshot(rm.id, now), nil
		}
		pos := rm.state.position(now)
		rm.state.basisTime = now
		rm.state.basisPos = pos
		rm.state.play = StatePaused
		rm.state.scheduledAt = time.Time{}
		rm.reconcileDrift()
		rm.broadcast(pauseEvent(pos))
		return rm.state.snapshot(rm.id, now), nil
	})
}

// Resume continues playback from the frozen position with a fresh schedule.
func (e *Engine) Resume(ctx context.Context, roomID string) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		if rm.state.play != StatePaused {
			return Snapshot{}, ErrNothingToResume
		}
		now := time.Now()
		rm.state.basisTime = now
		rm.state.play = StatePlaying
		rm.state.scheduledAt = e.scheduleFrom(now)
		rm.reconcileDrift()
		rm.broadcast(resumeEvent(rm.state.basisPos, rm.state.scheduledAt))
		return rm.state.snapshot(rm.id, now), nil
	})
}

// Stop halts playback and clears the current track.
func (e *Engine) Stop(ctx context.Context, roomID string) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		now := time.Now()
		if rm.state.play == StateStopped {
			return rm.state.snapshot(rm.id, now), nil
		}
		rm.applyStop(now)
		return rm.state.snapshot(rm.id, now), nil
	})
}

// Seek jumps to a position within the current track, clamped to its
// duration. An explicit seek always overrides loop bounds.
func (e *Engine) Seek(ctx context.Context, roomID string, pos float64) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		if rm.state.track == nil {
			return Snapshot{}, fmt.Errorf("%w: no current track", ErrInvalidTrack)
		}
		now := time.Now()
		rm.applySeek(now, pos)
		return rm.state.snapshot(rm.id, now), nil
	})
}

// SetVolume sets the room-wide default volume in [0, 1].
func (e *Engine) SetVolume(ctx context.Context, roomID string, volume float64) (Snapshot, error) {
	if volume < 0 || volume > 1 {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
	}
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		rm.state.volume = volume
		rm.broadcast(Event{Type: EventVolumeChange, Volume: fptr(volume)})
		return rm.state.snapshot(rm.id, time.Now()), nil
	})
}

// ToggleRepeat flips single-track repeat.
func (e *Engine) ToggleRepeat(ctx context.Context, roomID string) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		rm.state.repeatMode = !rm.state.repeatMode
		rm.broadcast(Event{Type: EventRepeatModeChange, RepeatMode: bptr(rm.state.repeatMode)})
		return rm.state.snapshot(rm.id, time.Now()), nil
	})
}

// ToggleLoop flips playlist wrap-around repeat. Repeat and loop are
// independent; single-track repeat wins at track end.
func (e *Engine) ToggleLoop(ctx context.Context, roomID string) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		rm.state.loopAll = !rm.state.loopAll
		rm.broadcast(Event{Type: EventLoopModeChange, LoopAll: bptr(rm.state.loopAll)})
		return rm.state.snapshot(rm.id, time.Now()), nil
	})
}

// SetLoopPoints stores an in/out range within the current track. Rapid
// successive calls are last-write-wins; callers coalesce drag updates.
func (e *Engine) SetLoopPoints(ctx context.Context, roomID string, start, end float64) (Snapshot, error) {
	if start < 0 || end <= start {
		return Snapshot{}, fmt.Errorf("%w: [%v, %v]", ErrInvalidLoopRange, start, end)
	}
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		if rm.state.track == nil {
			return Snapshot{}, fmt.Errorf("%w: no current track", ErrInvalidLoopRange)
		}
		if d := rm.state.track.Duration; d > 0 && end > d {
			return Snapshot{}, fmt.Errorf("%w: end %v beyond duration %v", ErrInvalidLoopRange, end, d)
		}
		rm.state.loop = &LoopPoints{Start: start, End: end}
		rm.broadcast(loopPointsEvent(rm.state.loop))
		return rm.state.snapshot(rm.id, time.Now()), nil
	})
}

// ClearLoopPoints removes the loop range. Clearing an already clear room is
// accepted and re-broadcast.
func (e *Engine) ClearLoopPoints(ctx context.Context, roomID string) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		rm.state.loop = nil
		rm.broadcast(loopPointsEvent(nil))
		return rm.state.snapshot(rm.id, time.Now()), nil
	})
}

// PlayNext advances to the next track in the room's collection.
func (e *Engine) PlayNext(ctx context.Context, roomID string) (Snapshot, error) {
	return e.playAdjacent(ctx, roomID, 1)
}

// PlayPrevious steps back to the previous track in the room's collection.
func (e *Engine) PlayPrevious(ctx context.Context, roomID string) (Snapshot, error) {
	return e.playAdjacent(ctx, roomID, -1)
}

func (e *Engine) playAdjacent(ctx context.Context, roomID string, direction int) (Snapshot, error) {
	rm := e.room(roomID)
	var (
		collectionID string
		index        int
		loopAll      bool
	)
	if _, err := rm.call(ctx, func(r *room) (Snapshot, error) {
		collectionID = r.state.collectionID
		index = r.state.playlistIndex
		loopAll = r.state.loopAll
		return Snapshot{}, nil
	}); err != nil {
		return Snapshot{}, err
	}
	if collectionID == "" {
		return Snapshot{}, fmt.Errorf("%w: no playlist context", ErrNoAdjacentTrack)
	}
	next, ref, err := e.resolveAdjacent(ctx, collectionID, index, direction, loopAll)
	if err != nil {
		return Snapshot{}, err
	}
	return rm.call(ctx, func(r *room) (Snapshot, error) {
		return r.applyPlay(ref, 0, collectionID, next), nil
	})
}

// resolveAdjacent finds the playable neighbour of index in a collection,
// wrapping at the boundary when loopAll is set. Runs outside any room's
// command loop.
func (e *Engine) resolveAdjacent(ctx context.Context, collectionID string, index, direction int, loopAll bool) (int, TrackRef, error) {
	next, ok, err := e.lists.AdjacentIndex(ctx, collectionID, index, direction)
	if err != nil {
		return 0, TrackRef{}, fmt.Errorf("adjacent index: %w", err)
	}
	if !ok {
		if !loopAll {
			return 0, TrackRef{}, ErrNoAdjacentTrack
		}
		n, err := e.lists.Len(ctx, collectionID)
		if err != nil {
			return 0, TrackRef{}, fmt.Errorf("collection length: %w", err)
		}
		if n == 0 {
			return 0, TrackRef{}, ErrNoAdjacentTrack
		}
		if direction > 0 {
			next = 0
		} else {
			next = n - 1
		}
	}
	ref, err := e.lists.TrackAt(ctx, collectionID, next)
	if err != nil {
		return 0, TrackRef{}, fmt.Errorf("%w: index %d (%v)", ErrNoAdjacentTrack, next, err)
	}
	return next, ref, nil
}

// State returns the room's current snapshot without mutating anything.
func (e *Engine) State(ctx context.Context, roomID string) (Snapshot, error) {
	return e.room(roomID).call(ctx, func(rm *room) (Snapshot, error) {
		return rm.state.snapshot(rm.id, time.Now()), nil
	})
}

// NotifyCollectionChanged tells every room playing from the collection that
// its backing playlist changed; attached clients re-fetch it.
func (e *Engine) NotifyCollectionChanged(collectionID string) {
	e.mu.RLock()
	rooms := make([]*room, 0, len(e.rooms))
	for _, rm := range e.rooms {
		rooms = append(rooms, rm)
	}
	e.mu.RUnlock()
	for _, rm := range rooms {
		rm.post(func(r *room) {
			if r.state.collectionID == collectionID {
				r.broadcast(Event{Type: EventPlaylistUpdate, CollectionID: collectionID})
			}
		})
	}
}

// applyPlay installs a new current track and starts it. Loop points never
// survive a track change.
func (rm *room) applyPlay(ref TrackRef, startPos float64, collectionID string, index int) Snapshot {
	now := time.Now()
	if startPos < 0 {
		startPos = 0
	}
	if ref.Duration > 0 && startPos > ref.Duration {
		startPos = ref.Duration
	}
	rm.state.track = &ref
	rm.state.collectionID = collectionID
	rm.state.playlistIndex = index
	rm.state.loop = nil
	rm.state.basisTime = now
	rm.state.basisPos = startPos
	rm.state.play = StatePlaying
	rm.state.scheduledAt = rm.engine.scheduleFrom(now)
	rm.reconcileDrift()
	rm.broadcast(playEvent(ref, startPos, rm.state.scheduledAt))
	return rm.state.snapshot(rm.id, now)
}

// applySeek re-bases the position within the current track. Requires a
// current track; scheduled only while playing.
func (rm *room) applySeek(now time.Time, pos float64) {
	if pos < 0 {
		pos = 0
	}
	if d := rm.state.track.Duration; d > 0 && pos > d {
		pos = d
	}
	rm.state.basisTime = now
	rm.state.basisPos = pos
	if rm.state.play == StatePlaying {
		rm.state.scheduledAt = rm.engine.scheduleFrom(now)
	} else {
		rm.state.scheduledAt = time.Time{}
	}
	rm.broadcast(seekEvent(pos, rm.state.scheduledAt))
}

func (rm *room) applyStop(now time.Time) {
	rm.state.track = nil
	rm.state.collectionID = ""
	rm.state.playlistIndex = -1
	rm.state.loop = nil
	rm.state.basisTime = now
	rm.state.basisPos = 0
	rm.state.play = StateStopped
	rm.state.scheduledAt = time.Time{}
	rm.reconcileDrift()
	rm.broadcast(Event{Type: EventStop})
}
