package playback

import "time"

type EventType string

const (
	EventStateSync        EventType = "state_sync"
	EventPlayTrack        EventType = "play_track"
	EventPause            EventType = "pause"
	EventResume           EventType = "resume"
	EventSeek             EventType = "seek"
	EventStop             EventType = "stop"
	EventVolumeChange     EventType = "volume_change"
	EventRepeatModeChange EventType = "repeat_mode_change"
	EventLoopModeChange   EventType = "loop_mode_change"
	EventLoopPointsChange EventType = "loop_points_change"
	EventPositionCheck    EventType = "position_check"
	EventRoomJoined       EventType = "room_joined"
	EventPlaylistUpdate   EventType = "playlist_update"
	EventTimePong         EventType = "time_pong"
)

// Event is the envelope pushed to attached sessions for any room update.
// Only the fields relevant to the event type are set; optional numeric and
// boolean payloads are pointers so that zero values survive marshalling.
type Event struct {
	Type EventType `json:"type"`
	Room string    `json:"room,omitempty"`

	TrackID  string  `json:"trackId,omitempty"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	StartPosition      *float64 `json:"startPosition,omitempty"`
	Position           *float64 `json:"position,omitempty"`
	ScheduledStartTime int64    `json:"scheduledStartTime,omitempty"`
	Volume             *float64 `json:"volume,omitempty"`
	RepeatMode         *bool    `json:"repeatMode,omitempty"`
	LoopAll            *bool    `json:"loopAll,omitempty"`
	LoopStart          *float64 `json:"loopStart,omitempty"`
	LoopEnd            *float64 `json:"loopEnd,omitempty"`
	ExpectedPosition   *float64 `json:"expectedPosition,omitempty"`
	MaxDrift           float64  `json:"maxDrift,omitempty"`
	CollectionID       string   `json:"collectionId,omitempty"`
	ClientTime         int64    `json:"clientTime,omitempty"`
	ServerTime         int64    `json:"serverTime,omitempty"`

	State *Snapshot `json:"state,omitempty"`
}

func playEvent(t TrackRef, startPos float64, scheduledAt time.Time) Event {
	return Event{
		Type:               EventPlayTrack,
		TrackID:            t.ID,
		Title:              t.Title,
		Artist:             t.Artist,
		Album:              t.Album,
		Duration:           t.Duration,
		StartPosition:      fptr(startPos),
		ScheduledStartTime: scheduledAt.UnixMilli(),
	}
}

func pauseEvent(pos float64) Event {
	return Event{Type: EventPause, Position: fptr(pos)}
}

func resumeEvent(pos float64, scheduledAt time.Time) Event {
	return Event{Type: EventResume, Position: fptr(pos), ScheduledStartTime: scheduledAt.UnixMilli()}
}

func seekEvent(pos float64, scheduledAt time.Time) Event {
	ev := Event{Type: EventSeek, Position: fptr(pos)}
	if !scheduledAt.IsZero() {
		ev.ScheduledStartTime = scheduledAt.UnixMilli()
	}
	return ev
}

func loopPointsEvent(lp *LoopPoints) Event {
	ev := Event{Type: EventLoopPointsChange}
	if lp != nil {
		ev.LoopStart = fptr(lp.Start)
		ev.LoopEnd = fptr(lp.End)
	}
	return ev
}

func positionCheckEvent(expected, maxDrift float64) Event {
	return Event{Type: EventPositionCheck, ExpectedPosition: fptr(expected), MaxDrift: maxDrift}
}

func stateSyncEvent(snap Snapshot) Event {
	return Event{Type: EventStateSync, State: &snap}
}

func fptr(v float64) *float64 { return &v }

func bptr(v bool) *bool { return &v }
