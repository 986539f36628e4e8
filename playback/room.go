package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const commandBufferSize = 256

// Session is one attached listener for a room. The websocket layer
// implements it; tests use in-memory recorders.
type Session interface {
	ID() string
	Send(ev Event)
}

// room serializes every mutation of one room's state: commands, auto-advance
// decisions, drift ticks, and session membership all run on the command loop
// goroutine. Rooms share nothing with each other.
type room struct {
	id     string
	engine *Engine

	sessions map[string]Session

	commands chan func(*room)
	closing  chan struct{}

	state roomState

	driftStop chan struct{}
}

func newRoom(id string, e *Engine) *room {
	r := &room{
		id:       id,
		engine:   e,
		sessions: make(map[string]Session),
		commands: make(chan func(*room), commandBufferSize),
		closing:  make(chan struct{}),
	}
	r.state.reset(e.cfg.DefaultVolume, time.Now())
	go r.loop()
	log.Info().Str("room", id).Msg("[playback] room created")
	return r
}

func (r *room) loop() {
	for {
		select {
		case fn := <-r.commands:
			fn(r)
		case <-r.closing:
			r.stopDrift()
			return
		}
	}
}

// post enqueues fn on the command loop, blocking if the queue is full.
// Commands are never dropped; ordering follows enqueue order.
func (r *room) post(fn func(*room)) {
	select {
	case r.commands <- fn:
	case <-r.closing:
	}
}

// tryPost enqueues fn only if there is room in the queue. Used for advisory
// work (drift ticks) that may be dropped under load.
func (r *room) tryPost(fn func(*room)) {
	select {
	case r.commands <- fn:
	default:
	}
}

// call runs fn on the command loop and waits for its result. The context
// bounds the wait only; once enqueued, fn runs regardless.
func (r *room) call(ctx context.Context, fn func(*room) (Snapshot, error)) (Snapshot, error) {
	type result struct {
		snap Snapshot
		err  error
	}
	done := make(chan result, 1)
	select {
	case r.commands <- func(rm *room) {
		snap, err := fn(rm)
		done <- result{snap: snap, err: err}
	}:
	case <-r.closing:
		return Snapshot{}, errRoomClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case res := <-done:
		return res.snap, res.err
	case <-r.closing:
		return Snapshot{}, errRoomClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (r *room) close() {
	close(r.closing)
}

func (r *room) addSession(s Session) {
	r.sessions[s.ID()] = s
	s.Send(Event{Type: EventRoomJoined, Room: r.id})
	s.Send(stateSyncEvent(r.state.snapshot(r.id, time.Now())))
	log.Debug().Str("room", r.id).Str("session", s.ID()).Int("attached", len(r.sessions)).Msg("[playback] session joined")
}

func (r *room) removeSession(id string) {
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	log.Debug().Str("room", r.id).Str("session", id).Int("attached", len(r.sessions)).Msg("[playback] session left")
}

func (r *room) sendState(sessionID string) {
	if s, ok := r.sessions[sessionID]; ok {
		s.Send(stateSyncEvent(r.state.snapshot(r.id, time.Now())))
	}
}

func (r *room) broadcast(ev Event) {
	ev.Room = r.id
	for _, s := range r.sessions {
		s.Send(ev)
	}
}
