package playback

import "errors"

var (
	// ErrInvalidTrack is returned when a track reference cannot be resolved,
	// or when a position command targets a room with no current track.
	ErrInvalidTrack = errors.New("invalid track")
	// ErrNothingToResume is returned by Resume when the room is not paused.
	ErrNothingToResume = errors.New("nothing to resume")
	// ErrInvalidVolume is returned when a volume is outside [0, 1].
	ErrInvalidVolume = errors.New("invalid volume")
	// ErrInvalidLoopRange is returned for loop points that are out of order
	// or outside the current track.
	ErrInvalidLoopRange = errors.New("invalid loop range")
	// ErrNoAdjacentTrack is returned by PlayNext/PlayPrevious at a playlist
	// boundary when loop-all is off, or without a playlist context.
	ErrNoAdjacentTrack = errors.New("no adjacent track")

	errRoomClosed = errors.New("room closed")
)
