// Package assembler reassembles fragmented messages.
//
// Partial messages are keyed by (session id, sender) so concurrent
// sessions from different senders never interleave. Completed messages are
// returned as the exact pre-fragmentation byte sequence and their partial
// state is discarded. Sessions that never complete are evicted after a
// configurable time-to-live.
package assembler

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshnet/network"
)

// ErrIndexOutOfRange indicates a fragment index at or beyond the session's
// fragment total.
var ErrIndexOutOfRange = errors.New("fragment index out of range")

// ErrTotalMismatch indicates a fragment whose total conflicts with the
// total recorded for its session.
var ErrTotalMismatch = errors.New("fragment total conflicts with session")

// DefaultTTL is how long a partial message may sit idle before eviction.
const DefaultTTL = 60 * time.Second

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// SessionKey identifies one reassembly session.
type SessionKey struct {
	Session uint64
	Sender  network.NodeID
}

// partialMessage holds the fragments received so far for one session.
type partialMessage struct {
	total    uint64
	chunks   map[uint64][]byte
	lastSeen time.Time
}

// Assembler reassembles chunked payloads. It is not safe for concurrent
// use; each node's event loop owns its assembler exclusively.
type Assembler struct {
	partials map[SessionKey]*partialMessage
	ttl      time.Duration
	clock    TimeProvider
}

// New creates an assembler with the given partial-session TTL. A
// non-positive TTL falls back to DefaultTTL.
func New(ttl time.Duration) *Assembler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Assembler{
		partials: make(map[SessionKey]*partialMessage),
		ttl:      ttl,
		clock:    DefaultTimeProvider{},
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (a *Assembler) SetTimeProvider(clock TimeProvider) {
	a.clock = clock
}

// AddFragment records one fragment of a session. It returns the complete
// payload and true once every fragment of the session has arrived;
// completion clears the session's partial state. Duplicate fragments are
// idempotent overwrites with no side effects.
func (a *Assembler) AddFragment(session uint64, sender network.NodeID, index, total uint64, data []byte) ([]byte, bool, error) {
	if total == 0 || index >= total {
		return nil, false, fmt.Errorf("index %d with total %d: %w", index, total, ErrIndexOutOfRange)
	}

	key := SessionKey{Session: session, Sender: sender}
	partial, ok := a.partials[key]
	if !ok {
		partial = &partialMessage{
			total:  total,
			chunks: make(map[uint64][]byte, total),
		}
		a.partials[key] = partial
	} else if partial.total != total {
		return nil, false, fmt.Errorf("session %d from %d: got total %d, recorded %d: %w",
			session, sender, total, partial.total, ErrTotalMismatch)
	}

	partial.chunks[index] = append([]byte(nil), data...)
	partial.lastSeen = a.clock.Now()

	if uint64(len(partial.chunks)) < partial.total {
		return nil, false, nil
	}

	payload := make([]byte, 0)
	for i := uint64(0); i < partial.total; i++ {
		payload = append(payload, partial.chunks[i]...)
	}
	delete(a.partials, key)

	logrus.WithFields(logrus.Fields{
		"function":  "AddFragment",
		"session":   session,
		"sender":    sender,
		"fragments": total,
		"bytes":     len(payload),
	}).Debug("Message reassembly complete")

	return payload, true, nil
}

// Pending returns the number of partial sessions currently held.
func (a *Assembler) Pending() int {
	return len(a.partials)
}

// Has reports whether a partial session exists for the key.
func (a *Assembler) Has(session uint64, sender network.NodeID) bool {
	_, ok := a.partials[SessionKey{Session: session, Sender: sender}]
	return ok
}

// SweepExpired evicts partial sessions idle longer than the TTL and
// returns their keys so the caller can report assembly timeouts.
func (a *Assembler) SweepExpired() []SessionKey {
	var expired []SessionKey
	for key, partial := range a.partials {
		if a.clock.Since(partial.lastSeen) >= a.ttl {
			expired = append(expired, key)
			delete(a.partials, key)
		}
	}
	if len(expired) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "SweepExpired",
			"evicted":  len(expired),
			"ttl":      a.ttl,
		}).Warn("Evicted abandoned reassembly sessions")
	}
	return expired
}
