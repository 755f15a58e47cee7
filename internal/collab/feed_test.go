package collab

import (
	"context"
	"testing"
	"time"
)

func TestFeedDeliversToBothParties(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fromStream, fromCleanup := feed.Subscribe(ctx, "U1")
	defer fromCleanup()
	toStream, toCleanup := feed.Subscribe(ctx, "U2")
	defer toCleanup()

	feed.Publish(Event{
		Type:      EventRequestCreated,
		Request:   CollaborationRequest{ID: "req-1", FromUserID: "U1", ToUserID: "U2", Status: StatusPending},
		Timestamp: time.Now().UTC(),
	})

	for name, stream := range map[string]<-chan Event{"requester": fromStream, "responder": toStream} {
		select {
		case event := <-stream:
			if event.Type != EventRequestCreated {
				t.Fatalf("%s: expected created event, got %s", name, event.Type)
			}
			if event.Request.ID != "req-1" {
				t.Fatalf("%s: unexpected request id %s", name, event.Request.ID)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("%s: expected event within deadline", name)
		}
	}
}

func TestFeedIsolatesUnrelatedUsers(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := feed.Subscribe(ctx, "U3")
	defer cleanup()

	feed.Publish(Event{
		Type:    EventRequestUpdated,
		Request: CollaborationRequest{ID: "req-2", FromUserID: "U1", ToUserID: "U2"},
	})

	select {
	case <-stream:
		t.Fatal("did not expect event for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFeedCancellationStopsDelivery(t *testing.T) {
	feed := NewFeed()
	stream, cleanup := feed.Subscribe(context.Background(), "U1")
	cleanup()

	feed.Publish(Event{
		Type:    EventRequestCreated,
		Request: CollaborationRequest{ID: "req-3", FromUserID: "U1", ToUserID: "U2"},
	})

	select {
	case <-stream:
		t.Fatal("did not expect event after cancellation")
	case <-time.After(200 * time.Millisecond):
	}
}
