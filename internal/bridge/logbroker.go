package bridge

import (
	"sync"
	"time"

	"github.com/seantiz/fnworker/internal/model"
)

// subscriberBufferSize is the channel buffer for each log subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// closedTopicRetention is how long a finished invocation's topic is kept
// after Close.
const closedTopicRetention = time.Minute

// LogBroker fans out log lines per invocation to subscribers.
// It is safe for concurrent use.
//
// A closed topic is kept as a marker for closedTopicRetention so a subscriber
// racing the end of the invocation receives a closed channel instead of
// blocking forever. After that it is evicted; later readers are expected to
// see the terminal status in the store and not subscribe at all.
type LogBroker struct {
	mu        sync.Mutex
	topics    map[string]*logTopic
	retention time.Duration
}

type logTopic struct {
	subs   map[int]chan model.LogLine
	nextID int
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return newLogBroker(closedTopicRetention)
}

func newLogBroker(retention time.Duration) *LogBroker {
	return &LogBroker{
		topics:    make(map[string]*logTopic),
		retention: retention,
	}
}

// Subscribe returns a channel that receives log lines for the given
// invocation and an unsubscribe function. If the invocation has already
// finished, the returned channel is closed.
func (b *LogBroker) Subscribe(invocationID string) (<-chan model.LogLine, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan model.LogLine)}
		b.topics[invocationID] = t
	}

	ch := make(chan model.LogLine, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a line to all subscribers of the invocation. Lines are
// dropped for subscribers whose buffers are full.
func (b *LogBroker) Publish(invocationID string, line model.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close marks the invocation's stream finished, closes every subscriber
// channel and schedules the topic for eviction.
func (b *LogBroker) Close(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan model.LogLine)}
		b.topics[invocationID] = t
	}
	if t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	time.AfterFunc(b.retention, func() { b.evict(invocationID, t) })
}

// evict drops a closed topic unless it was replaced in the meantime.
func (b *LogBroker) evict(invocationID string, t *logTopic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[invocationID] == t {
		delete(b.topics, invocationID)
	}
}
