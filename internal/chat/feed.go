package chat

import (
	"context"
	"sync"
)

// Feed fans conversation snapshots out to per-conversation subscribers.
// Every emission carries the full ordered message list, so a dropped
// intermediate emission is recovered by the next one.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan []Message
}

// NewFeed constructs an empty conversation feed.
func NewFeed() *Feed {
	return &Feed{
		subscribers: make(map[string]map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for the given conversation. The returned
// cancel function stops further delivery; events already buffered remain
// readable.
func (f *Feed) Subscribe(ctx context.Context, conversationKey string) (<-chan []Message, func()) {
	if conversationKey == "" {
		ch := make(chan []Message)
		close(ch)
		return ch, func() {}
	}
	subscriber := &feedSubscriber{
		id:     f.nextSequence(),
		stream: make(chan []Message, f.bufferSize),
	}
	f.register(conversationKey, subscriber)
	cleanup := func() {
		f.unregister(conversationKey, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the ordered snapshot to every subscriber of the
// conversation.
func (f *Feed) Publish(conversationKey string, messages []Message) {
	if conversationKey == "" {
		return
	}
	f.mu.RLock()
	subscribers := f.subscribers[conversationKey]
	if len(subscribers) == 0 {
		f.mu.RUnlock()
		return
	}
	copies := make([]*feedSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- messages:
		default:
		}
	}
}

func (f *Feed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *Feed) register(conversationKey string, subscriber *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[conversationKey]; !ok {
		f.subscribers[conversationKey] = make(map[int64]*feedSubscriber)
	}
	f.subscribers[conversationKey][subscriber.id] = subscriber
}

func (f *Feed) unregister(conversationKey string, subscriberID int64) {
	f.mu.Lock()
	subscribers := f.subscribers[conversationKey]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(f.subscribers, conversationKey)
		}
	}
	f.mu.Unlock()
}
