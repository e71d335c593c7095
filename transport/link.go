package transport

import (
	"errors"
	"sync"
)

// ErrLinkClosed indicates a send on a link whose peer has gone away.
var ErrLinkClosed = errors.New("link closed")

// DefaultLinkBuffer is the packet capacity of a link channel.
const DefaultLinkBuffer = 64

// Link is the outbound edge to one neighbor, backed by a buffered channel.
// The receiving node drains Receive(); neighbors holding the link call
// Send. A send on a closed link fails with ErrLinkClosed and is treated by
// callers as an implicit neighbor departure, never as a fatal error.
type Link struct {
	ch   chan *Packet
	done chan struct{}
	once sync.Once
}

// NewLink creates a link with the given channel capacity. A non-positive
// buffer falls back to DefaultLinkBuffer.
func NewLink(buffer int) *Link {
	if buffer <= 0 {
		buffer = DefaultLinkBuffer
	}
	return &Link{
		ch:   make(chan *Packet, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers a packet to the link's owner. It blocks while the buffer
// is full and fails with ErrLinkClosed once the link is closed.
func (l *Link) Send(p *Packet) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.ch <- p:
		return nil
	case <-l.done:
		return ErrLinkClosed
	}
}

// Receive returns the channel the link's owner drains.
func (l *Link) Receive() <-chan *Packet {
	return l.ch
}

// Done returns a channel closed when the link is closed.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Close marks the link unavailable. Packets already buffered remain
// readable; subsequent sends fail with ErrLinkClosed. Close is idempotent.
func (l *Link) Close() {
	l.once.Do(func() {
		close(l.done)
	})
}

// Closed reports whether the link has been closed.
func (l *Link) Closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
