package playback

import "time"

type PlayState string

const (
	StateStopped PlayState = "stopped"
	StatePlaying PlayState = "playing"
	StatePaused  PlayState = "paused"
)

// TrackRef is the resolved metadata for a playable track.
type TrackRef struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration"`
}

// LoopPoints is an optional in/out range within the current track, in seconds.
type LoopPoints struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// roomState is the authoritative playback state of one room. It is owned by
// the room's command loop and never touched from outside it.
type roomState struct {
	track         *TrackRef
	collectionID  string
	playlistIndex int

	// basisTime/basisPos form the position basis: while playing, the current
	// position is basisPos plus the wall time elapsed since basisTime. While
	// paused or stopped the basis is frozen and basisPos is the position.
	basisTime time.Time
	basisPos  float64

	play        PlayState
	volume      float64
	repeatMode  bool
	loopAll     bool
	loop        *LoopPoints
	scheduledAt time.Time
}

func (st *roomState) reset(volume float64, now time.Time) {
	st.track = nil
	st.collectionID = ""
	st.playlistIndex = -1
	st.basisTime = now
	st.basisPos = 0
	st.play = StateStopped
	st.volume = volume
	st.repeatMode = false
	st.loopAll = false
	st.loop = nil
	st.scheduledAt = time.Time{}
}

// position extrapolates the current track position at the given instant.
// Loop points never clamp the extrapolation; they only matter to clients and
// to the auto-advance decision.
func (st *roomState) position(now time.Time) float64 {
	if st.play != StatePlaying {
		return st.basisPos
	}
	pos := st.basisPos + now.Sub(st.basisTime).Seconds()
	if pos < 0 {
		return 0
	}
	return pos
}

// Snapshot is the full room state as reported to clients and to the control
// surface. Positions and durations are seconds; timestamps are unix
// milliseconds of the server clock.
type Snapshot struct {
	Room               string      `json:"room"`
	PlaybackState      PlayState   `json:"playbackState"`
	CurrentTrack       *TrackRef   `json:"currentTrack,omitempty"`
	CollectionID       string      `json:"collectionId,omitempty"`
	PlaylistIndex      int         `json:"playlistIndex"`
	Position           float64     `json:"position"`
	Volume             float64     `json:"volume"`
	RepeatMode         bool        `json:"repeatMode"`
	LoopAll            bool        `json:"loopAll"`
	LoopPoints         *LoopPoints `json:"loopPoints,omitempty"`
	ScheduledStartTime int64       `json:"scheduledStartTime,omitempty"`
	ServerTime         int64       `json:"serverTime"`
}

func (st *roomState) snapshot(roomID string, now time.Time) Snapshot {
	snap := Snapshot{
		Room:          roomID,
		PlaybackState: st.play,
		CollectionID:  st.collectionID,
		PlaylistIndex: st.playlistIndex,
		Position:      st.position(now),
		Volume:        st.volume,
		RepeatMode:    st.repeatMode,
		LoopAll:       st.loopAll,
		ServerTime:    now.UnixMilli(),
	}
	if st.track != nil {
		t := *st.track
		snap.CurrentTrack = &t
	}
	if st.loop != nil {
		lp := *st.loop
		snap.LoopPoints = &lp
	}
	if !st.scheduledAt.IsZero() {
		snap.ScheduledStartTime = st.scheduledAt.UnixMilli()
	}
	return snap
}
