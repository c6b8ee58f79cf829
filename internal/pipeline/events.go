package pipeline

import (
	"sync"
	"time"
)

// Event is published on every job transition.
type Event struct {
	AnalysisID string       `json:"analysis_id"`
	Status     Status       `json:"status"`
	Error      *ErrorDetail `json:"error,omitempty"`
	At         time.Time    `json:"at"`
}

func eventFor(j *Job) Event {
	return Event{AnalysisID: j.ID, Status: j.Status, Error: j.Error, At: j.UpdatedAt}
}

// broker fans job events out to subscribers. Sends never block; a
// subscriber that falls behind loses events but always sees its channel
// closed once the job is terminal or evicted.
type broker struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[chan Event]struct{}
}

func newBroker(buffer int) *broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &broker{buffer: buffer, subs: make(map[string]map[chan Event]struct{})}
}

// subscribe registers a channel for id. lookup runs under the broker lock
// so a terminal publish cannot slip between the lookup and the
// registration.
func (b *broker) subscribe(id string, lookup func() (*Job, error)) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, err := lookup()
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Event, b.buffer)
	ch <- eventFor(job)
	if job.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	if b.subs[id] == nil {
		b.subs[id] = make(map[chan Event]struct{})
	}
	b.subs[id][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[id]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, id)
				}
			}
		})
	}
	return ch, cancel, nil
}

// publish delivers ev and, for terminal events, closes every subscriber.
func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.AnalysisID] {
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.Status.Terminal() {
		b.closeLocked(ev.AnalysisID)
	}
}

// close ends every subscription of id.
func (b *broker) close(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked(id)
}

func (b *broker) closeLocked(id string) {
	for ch := range b.subs[id] {
		close(ch)
	}
	delete(b.subs, id)
}
