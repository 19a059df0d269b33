package events

import "sync"

// Feed fans events out to subscribers. Slow subscribers are dropped-to, not
// waited-on: a full buffer loses the event for that subscriber only.
type Feed struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel and a cancel function. The
// channel is closed on cancel.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (f *Feed) Emit(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs {
		select {
		case ch <- e:
		default:
			// subscriber buffer full, drop
		}
	}
}

var _ Emitter = (*Feed)(nil)
