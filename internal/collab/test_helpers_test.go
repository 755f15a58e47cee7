package collab

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memoryStore is an in-memory RequestStore standing in for the external
// collaborator in unit tests.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]CollaborationRequest
	feed    *Feed
	failing bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]CollaborationRequest)}
}

func (m *memoryStore) Create(_ context.Context, record *CollaborationRequest) error {
	if m.failing {
		return fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	m.mu.Lock()
	m.records[record.ID] = *record
	m.mu.Unlock()
	if m.feed != nil {
		m.feed.Publish(Event{Type: EventRequestCreated, Request: *record, Timestamp: time.Now().UTC()})
	}
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*CollaborationRequest, error) {
	if m.failing {
		return nil, fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &record, nil
}

func (m *memoryStore) Query(_ context.Context, filter QueryFilter) ([]CollaborationRequest, error) {
	if m.failing {
		return nil, fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []CollaborationRequest
	for _, record := range m.records {
		if filter.FromUserID != "" && record.FromUserID != filter.FromUserID {
			continue
		}
		if filter.ToUserID != "" && record.ToUserID != filter.ToUserID {
			continue
		}
		if filter.TargetTripID != "" && record.TargetTripID != filter.TargetTripID {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(record.Status, filter.Statuses) {
			continue
		}
		matches = append(matches, record)
	}
	return matches, nil
}

func (m *memoryStore) Update(_ context.Context, id string, fields UpdateFields) (*CollaborationRequest, error) {
	if m.failing {
		return nil, fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	m.mu.Lock()
	record, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrRequestNotFound
	}
	for field, value := range fields {
		switch field {
		case "status":
			record.Status = value.(RequestStatus)
		case "quote_price":
			price := value.(float64)
			record.QuotePrice = &price
		case "quote_note":
			record.QuoteNote = value.(string)
		case "responded_at":
			at := value.(time.Time)
			record.RespondedAt = &at
		case "completed_at":
			at := value.(time.Time)
			record.CompletedAt = &at
		default:
			m.mu.Unlock()
			return nil, fmt.Errorf("memory store: unsupported field %q", field)
		}
	}
	m.records[id] = record
	m.mu.Unlock()
	if m.feed != nil {
		m.feed.Publish(Event{Type: EventRequestUpdated, Request: record, Timestamp: time.Now().UTC()})
	}
	return &record, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	if m.failing {
		return fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	m.mu.Lock()
	record, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return ErrRequestNotFound
	}
	delete(m.records, id)
	m.mu.Unlock()
	if m.feed != nil {
		m.feed.Publish(Event{Type: EventRequestDeleted, Request: record, Timestamp: time.Now().UTC()})
	}
	return nil
}

func statusIn(status RequestStatus, statuses []RequestStatus) bool {
	for _, candidate := range statuses {
		if status == candidate {
			return true
		}
	}
	return false
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("req-%d", s.next), nil
}

func newTestService(t *testing.T, store RequestStore, clock func() time.Time) *Service {
	t.Helper()
	if clock == nil {
		clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	}
	service, err := NewService(ServiceConfig{
		Store:      store,
		Clock:      clock,
		IDProvider: &sequenceIDs{},
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service
}

func mustOpen(t *testing.T, service *Service, from, to string) *CollaborationRequest {
	t.Helper()
	record, err := service.Open(context.Background(), OpenRequest{FromUserID: from, ToUserID: to})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	return record
}
