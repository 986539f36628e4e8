package playback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// TrackEnded processes a client's end-of-track report and decides what the
// room does next: restart for single-track repeat, advance in the playlist
// (wrapping when loop-all is set), or stop at the playlist end. Any one
// client's report is sufficient; duplicates and reports overtaken by another
// transition are silent no-ops. All decisions go through the same apply
// paths as external commands.
func (e *Engine) TrackEnded(ctx context.Context, roomID, trackID string) error {
	rm := e.room(roomID)

	var (
		advance      bool
		collectionID string
		index        int
		loopAll      bool
	)
	if _, err := rm.call(ctx, func(r *room) (Snapshot, error) {
		if r.endReportStale(trackID) {
			log.Debug().Str("room", r.id).Str("track", trackID).Msg("[playback] stale track-ended report ignored")
			return Snapshot{}, nil
		}
		if r.state.repeatMode {
			// single-track repeat wins over playlist advance
			target := 0.0
			if r.state.loop != nil {
				target = r.state.loop.Start
			}
			log.Debug().Str("room", r.id).Str("track", trackID).Float64("restartAt", target).Msg("[playback] track ended, repeating")
			r.applySeek(time.Now(), target)
			return Snapshot{}, nil
		}
		if r.state.collectionID == "" {
			log.Debug().Str("room", r.id).Str("track", trackID).Msg("[playback] track ended, no playlist, stopping")
			r.applyStop(time.Now())
			return Snapshot{}, nil
		}
		advance = true
		collectionID = r.state.collectionID
		index = r.state.playlistIndex
		loopAll = r.state.loopAll
		return Snapshot{}, nil
	}); err != nil {
		return err
	}
	if !advance {
		return nil
	}

	next, ref, err := e.resolveAdjacent(ctx, collectionID, index, 1, loopAll)
	if errors.Is(err, ErrNoAdjacentTrack) {
		_, err = rm.call(ctx, func(r *room) (Snapshot, error) {
			if !r.endReportStale(trackID) {
				log.Debug().Str("room", r.id).Str("track", trackID).Msg("[playback] playlist end, stopping")
				r.applyStop(time.Now())
			}
			return Snapshot{}, nil
		})
		return err
	}
	if err != nil {
		return err
	}
	_, err = rm.call(ctx, func(r *room) (Snapshot, error) {
		// the room may have moved on while the next track was resolved
		if r.endReportStale(trackID) {
			return Snapshot{}, nil
		}
		log.Debug().Str("room", r.id).Str("from", trackID).Str("to", ref.ID).Int("index", next).Msg("[playback] advancing playlist")
		r.applyPlay(ref, 0, collectionID, next)
		return Snapshot{}, nil
	})
	return err
}

// endReportStale reports whether a track-ended report no longer matches the
// room: the track changed, playback is not running, or the basis was moved
// away from the track's end since the report was generated (a repeat restart
// already handled it).
func (r *room) endReportStale(trackID string) bool {
	if r.state.play != StatePlaying || r.state.track == nil || r.state.track.ID != trackID {
		return true
	}
	grace := r.engine.cfg.EndGrace.Seconds()
	if grace <= 0 {
		return false
	}
	if d := r.state.track.Duration; d > 0 {
		if r.state.position(time.Now()) < d-grace {
			return true
		}
	}
	return false
}
