package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaycargo/relay/backend/internal/notify"
)

func TestEventsStreamDeliversBadgeUpdates(t *testing.T) {
	stack := newTestStack(t)
	server := httptest.NewServer(stack.handler)
	defer server.Close()

	shipper := stack.sessionCookie(t, "U1", "")
	carrier := stack.sessionCookie(t, "U2", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.AddCookie(carrier)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", response.StatusCode)
	}
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %s", response.Header.Get("Content-Type"))
	}

	badges := make(chan notify.Badge, 8)
	go func() {
		scanner := bufio.NewScanner(response.Body)
		expectBadge := false
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event:") {
				expectBadge = strings.TrimSpace(strings.TrimPrefix(line, "event:")) == realtimeEventBadge
				continue
			}
			if expectBadge && strings.HasPrefix(line, "data:") {
				var badge notify.Badge
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &badge); err == nil {
					badges <- badge
				}
				expectBadge = false
			}
		}
	}()

	// The stream opens with the current badge.
	select {
	case badge := <-badges:
		if badge != (notify.Badge{}) {
			t.Fatalf("unexpected initial badge %+v", badge)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected initial badge event")
	}

	// A request opened against the streaming user raises its pending count.
	recorder := stack.do(t, http.MethodPost, "/requests", gin.H{"to_user_id": "U2"}, shipper)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("open failed: %d %s", recorder.Code, recorder.Body.String())
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case badge := <-badges:
			if badge.PendingRequests == 1 {
				return
			}
		case <-deadline:
			t.Fatal("expected pending badge update on stream")
		}
	}
}
