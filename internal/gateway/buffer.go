package gateway

import (
	"sync"

	"github.com/ashureev/chatbroker/internal/broker"
)

// outboundCapacity bounds the number of envelopes queued per connection
// before the overflow policy kicks in.
const outboundCapacity = 256

// outboundBuffer is the bounded per-connection outbound queue described in
// spec §5: publish must never block on a slow subscriber, messages must
// never be dropped, but typing/presence events may be. On overflow we
// evict the oldest non-critical envelope to make room; if every queued
// envelope is critical and the new one isn't, the new one is dropped
// instead of growing the queue unbounded.
type outboundBuffer struct {
	mu     sync.Mutex
	queue  []broker.Envelope
	notify chan struct{}
}

func newOutboundBuffer() *outboundBuffer {
	return &outboundBuffer{notify: make(chan struct{}, 1)}
}

func (b *outboundBuffer) push(env broker.Envelope) {
	b.mu.Lock()
	if len(b.queue) >= outboundCapacity {
		evicted := false
		for i, e := range b.queue {
			if !broker.Critical(e.Event) {
				b.queue = append(b.queue[:i], b.queue[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted && !broker.Critical(env.Event) {
			b.mu.Unlock()
			return
		}
	}
	b.queue = append(b.queue, env)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *outboundBuffer) pop() (broker.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return broker.Envelope{}, false
	}
	e := b.queue[0]
	b.queue = b.queue[1:]
	return e, true
}
