// Package server keeps connection state for recently disconnected sessions so
// that a quick reconnect resumes without touching the message log.
package server

import "time"

// DefaultRecoveryWindow is how long a disconnected session can be resumed.
const DefaultRecoveryWindow = 2 * time.Minute

type disconnectedSession struct {
	id string
	at time.Time
}

// stateRecovery holds recently broadcast packets and recently disconnected
// sessions. It is owned by the hub goroutine and is not safe for concurrent use.
type stateRecovery struct {
	window   time.Duration
	packets  []packet
	sessions map[string]disconnectedSession

	// floor is the highest offset no longer buffered. A session whose offset
	// is below it may have missed packets that are gone.
	floor int64
}

func newStateRecovery(window time.Duration, floor int64) *stateRecovery {
	return &stateRecovery{
		window:   window,
		sessions: make(map[string]disconnectedSession),
		floor:    floor,
	}
}

func (r *stateRecovery) enabled() bool {
	return r.window > 0
}

// record buffers a broadcast packet.
func (r *stateRecovery) record(p packet) {
	if !r.enabled() || p.offset <= 0 {
		return
	}
	r.packets = append(r.packets, p)
}

// persist remembers a disconnected session.
func (r *stateRecovery) persist(id string, at time.Time) {
	if !r.enabled() || id == "" {
		return
	}
	r.sessions[id] = disconnectedSession{id: id, at: at}
}

// restore consumes the session id and returns the packets the client missed.
// ok is false when the session is unknown, expired, or the buffer no longer
// reaches back to offset.
func (r *stateRecovery) restore(id string, offset int64, now time.Time) ([]packet, bool) {
	if !r.enabled() || id == "" {
		return nil, false
	}

	sess, found := r.sessions[id]
	if !found {
		return nil, false
	}
	delete(r.sessions, id)

	if now.Sub(sess.at) > r.window {
		return nil, false
	}

	r.prune(now)
	if offset < r.floor {
		return nil, false
	}

	var missed []packet
	for _, p := range r.packets {
		if p.offset > offset {
			missed = append(missed, p)
		}
	}
	return missed, true
}

// prune drops packets and sessions older than the window.
func (r *stateRecovery) prune(now time.Time) {
	cutoff := now.Add(-r.window)

	drop := 0
	for drop < len(r.packets) && r.packets[drop].at.Before(cutoff) {
		if r.packets[drop].offset > r.floor {
			r.floor = r.packets[drop].offset
		}
		drop++
	}
	if drop > 0 {
		r.packets = append(r.packets[:0:0], r.packets[drop:]...)
	}

	for id, sess := range r.sessions {
		if sess.at.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
