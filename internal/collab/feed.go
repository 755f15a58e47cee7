package collab

import (
	"context"
	"sync"
	"time"
)

// EventType enumerates request feed emissions.
type EventType string

const (
	EventRequestCreated EventType = "request-created"
	EventRequestUpdated EventType = "request-updated"
	EventRequestDeleted EventType = "request-deleted"
)

// Event is published to both parties of a request after every successful
// store write.
type Event struct {
	Type      EventType
	Request   CollaborationRequest
	Timestamp time.Time
}

// Feed fans request events out to per-user subscribers. Slow consumers drop
// events rather than blocking the publisher.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan Event
}

// NewFeed constructs an empty request feed.
func NewFeed() *Feed {
	return &Feed{
		subscribers: make(map[string]map[int64]*feedSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for events involving the given user. The
// returned cancel function is idempotent; cancellation stops further
// delivery without affecting events already consumed.
func (f *Feed) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &feedSubscriber{
		id:     f.nextSequence(),
		stream: make(chan Event, f.bufferSize),
	}
	f.register(userID, subscriber)
	cleanup := func() {
		f.unregister(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to subscribers of both parties.
func (f *Feed) Publish(event Event) {
	if event.Type == "" {
		return
	}
	f.deliver(event.Request.FromUserID, event)
	if event.Request.ToUserID != event.Request.FromUserID {
		f.deliver(event.Request.ToUserID, event)
	}
}

func (f *Feed) deliver(userID string, event Event) {
	if userID == "" {
		return
	}
	f.mu.RLock()
	subscribers := f.subscribers[userID]
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
		case subscriber.stream <- event:
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

func (f *Feed) register(userID string, subscriber *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[userID]; !ok {
		f.subscribers[userID] = make(map[int64]*feedSubscriber)
	}
	f.subscribers[userID][subscriber.id] = subscriber
}

func (f *Feed) unregister(userID string, subscriberID int64) {
	f.mu.Lock()
	subscribers := f.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(f.subscribers, userID)
		}
	}
	f.mu.Unlock()
}
