package engine

import "github.com/leaselock/auctiond/internal/domain"

// emit assigns sequence numbers and appends events to the log in order. It
// returns the stamped events so callers can hand exactly this operation's
// output to the journal and the bus. Must be called with e.mu held.
func (e *Engine) emit(events ...domain.Event) []domain.Event {
	for i := range events {
		e.seq++
		events[i].Seq = e.seq
	}
	e.log = append(e.log, events...)
	return events
}

// EventsSince returns up to limit events with Seq > cursor, in order. A zero
// cursor reads from the beginning; limit <= 0 means no limit. This is the
// monotonic-cursor read contract consumers resume from.
func (e *Engine) EventsSince(cursor uint64, limit int) []domain.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// Seq numbers are dense and 1-based while the engine owns the full log,
	// but a restored engine starts past the journaled history, so scan.
	i := 0
	for i < len(e.log) && e.log[i].Seq <= cursor {
		i++
	}
	rest := e.log[i:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]domain.Event, len(rest))
	copy(out, rest)
	return out
}

// LastSeq returns the sequence number of the most recently emitted event.
func (e *Engine) LastSeq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}
