package orchestrator

import (
	"sync"
)

// PlayedReply is one segment's synthesized reply audio, delivered in
// segment id order.
type PlayedReply struct {
	SegmentID uint64
	PCM       []byte
}

// Playback reorders reply audio completed in arbitrary order back into
// segment id order. Segments finish their adapter pipelines whenever their
// backends respond, but a listener must hear replies in the order they
// spoke; Playback holds each completed reply until every lower id has been
// delivered or skipped.
//
// A failed segment must be skipped explicitly, otherwise every later reply
// waits forever behind the hole.
type Playback struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	pending map[uint64][]byte
	skipped map[uint64]bool
	closed  bool

	out chan PlayedReply
}

// NewPlayback returns a Playback whose first expected segment id is firstID
// (1 for a fresh session). The returned buffer starts its pump goroutine;
// callers must drain Out and call Close when the session ends.
func NewPlayback(firstID uint64) *Playback {
	p := &Playback{
		next:    firstID,
		pending: make(map[uint64][]byte),
		skipped: make(map[uint64]bool),
		out:     make(chan PlayedReply),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.pump()
	return p
}

// Out delivers replies in segment id order. The channel closes after Close
// once every in-order reply has been sent.
func (p *Playback) Out() <-chan PlayedReply {
	return p.out
}

// Deliver hands over a completed reply. Replies arriving ahead of the
// cursor are held; the reply for the cursor id unblocks the pump.
func (p *Playback) Deliver(id uint64, pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || id < p.next {
		return
	}
	p.pending[id] = pcm
	p.cond.Signal()
}

// Skip marks a segment as producing no audio, letting later replies pass.
func (p *Playback) Skip(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || id < p.next {
		return
	}
	p.skipped[id] = true
	p.cond.Signal()
}

// Close stops the pump after it has flushed everything deliverable at the
// cursor. Held replies beyond a hole are discarded.
func (p *Playback) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Signal()
	p.mu.Unlock()
}

// pump is the single sender on out, which is what guarantees ordering.
func (p *Playback) pump() {
	defer close(p.out)
	for {
		p.mu.Lock()
		for !p.closed && !p.readyLocked() {
			p.cond.Wait()
		}
		if p.skipped[p.next] {
			delete(p.skipped, p.next)
			p.next++
			p.mu.Unlock()
			continue
		}
		pcm, ok := p.pending[p.next]
		if !ok {
			// Closed with nothing deliverable at the cursor.
			p.mu.Unlock()
			return
		}
		delete(p.pending, p.next)
		id := p.next
		p.next++
		p.mu.Unlock()

		p.out <- PlayedReply{SegmentID: id, PCM: pcm}
	}
}

// readyLocked reports whether the cursor id has a reply or a skip waiting.
func (p *Playback) readyLocked() bool {
	if p.skipped[p.next] {
		return true
	}
	_, ok := p.pending[p.next]
	return ok
}
