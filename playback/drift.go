package playback

import (
	"time"

	"github.com/rs/zerolog/log"
)

// The drift monitor ticks while a room is playing and broadcasts the
// position every client should be at, extrapolated from the room's basis.
// Clients hard-seek themselves when they are further than MaxDrift away.
// It is purely advisory: a tick never mutates room state, and the server
// never waits for acknowledgement.

// reconcileDrift starts or stops the drift ticker to match the playback
// state. Called on the command loop after every applied transition.
func (r *room) reconcileDrift() {
	playing := r.state.play == StatePlaying
	switch {
	case playing && r.driftStop == nil:
		r.startDrift()
	case !playing && r.driftStop != nil:
		r.stopDrift()
	}
}

func (r *room) startDrift() {
	stop := make(chan struct{})
	r.driftStop = stop
	interval := r.engine.cfg.DriftInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// ticks re-enter the command loop; a tick that finds the
				// room no longer playing is discarded there
				r.tryPost(func(rm *room) { rm.driftTick() })
			case <-stop:
				return
			case <-r.closing:
				return
			}
		}
	}()
	log.Debug().Str("room", r.id).Dur("interval", interval).Msg("[playback] drift monitor started")
}

func (r *room) stopDrift() {
	if r.driftStop == nil {
		return
	}
	close(r.driftStop)
	r.driftStop = nil
	log.Debug().Str("room", r.id).Msg("[playback] drift monitor stopped")
}

func (r *room) driftTick() {
	if r.state.play != StatePlaying {
		return
	}
	expected := r.state.position(time.Now())
	r.broadcast(positionCheckEvent(expected, r.engine.cfg.MaxDrift.Seconds()))
}
