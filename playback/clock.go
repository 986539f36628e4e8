package playback

import "time"

// Transitions that must land simultaneously on every client are stamped with
// an absolute server timestamp a fixed lead ahead of server-now. Clients
// estimate their offset against the server clock (via ServerTime echoes) and
// arm a local timer; a client that receives an already-elapsed schedule
// executes immediately. The server never needs to know any client's latency,
// only to hand out timestamps from a single clock.

// ServerTime returns the server wall clock in unix milliseconds. It is the
// reference clients use for offset estimation.
func ServerTime() int64 {
	return time.Now().UnixMilli()
}

// scheduleFrom computes the start timestamp for a transition accepted at now.
func (e *Engine) scheduleFrom(now time.Time) time.Time {
	return now.Add(e.cfg.Lead)
}
