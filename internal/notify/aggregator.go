package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/relaycargo/relay/backend/internal/chat"
	"github.com/relaycargo/relay/backend/internal/collab"
	"github.com/relaycargo/relay/backend/internal/partners"
	"go.uber.org/zap"
)

// Badge is the derived notification view pushed to a user session: requests
// awaiting the user's action and unread messages across all of the user's
// open conversations.
type Badge struct {
	PendingRequests int `json:"pending_requests"`
	UnreadMessages  int `json:"unread_messages"`
}

var (
	errMissingUserID   = errors.New("notify: user identifier is required")
	errMissingRequests = errors.New("notify: request service is required")
	errMissingFeed     = errors.New("notify: request feed is required")
	errMissingResolver = errors.New("notify: partner resolver is required")
	errMissingMessages = errors.New("notify: message log is required")
)

// AggregatorConfig describes the dependencies of a session aggregator.
type AggregatorConfig struct {
	UserID      string
	Requests    *collab.Service
	RequestFeed *collab.Feed
	Partners    *partners.Resolver
	Messages    chat.MessageLog
	Logger      *zap.Logger
}

// Aggregator owns the derived notification state for one user session. It
// fans every upstream feed into a single merge loop that exclusively owns
// the counters: one forwarder per conversation preserves per-conversation
// order, while independent conversations interleave freely, which is safe
// because the combined counter is additive over per-conversation counts.
// The aggregator is created at session start and torn down with Close.
type Aggregator struct {
	userID   string
	requests *collab.Service
	feed     *collab.Feed
	resolver *partners.Resolver
	messages chat.MessageLog
	logger   *zap.Logger

	events chan mergeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu             sync.RWMutex
	badge          Badge
	subscribers    map[int64]chan Badge
	nextSubscriber int64
}

type mergeEventKind int

const (
	eventRequestsChanged mergeEventKind = iota
	eventPartnersChanged
	eventConversationSnapshot
)

type mergeEvent struct {
	kind            mergeEventKind
	partners        []partners.Partner
	conversationKey string
	snapshot        []chat.Message
}

type conversationWorker struct {
	cancel context.CancelFunc
}

// NewAggregator constructs a session aggregator; call Start to begin.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.UserID == "" {
		return nil, errMissingUserID
	}
	if cfg.Requests == nil {
		return nil, errMissingRequests
	}
	if cfg.RequestFeed == nil {
		return nil, errMissingFeed
	}
	if cfg.Partners == nil {
		return nil, errMissingResolver
	}
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		userID:      cfg.UserID,
		requests:    cfg.Requests,
		feed:        cfg.RequestFeed,
		resolver:    cfg.Partners,
		messages:    cfg.Messages,
		logger:      logger,
		events:      make(chan mergeEvent, 64),
		done:        make(chan struct{}),
		subscribers: make(map[int64]chan Badge),
	}, nil
}

// Start launches the merge loop and the upstream forwarders. The aggregator
// stops when ctx is canceled or Close is called.
func (a *Aggregator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	requestEvents, requestCleanup := a.feed.Subscribe(runCtx, a.userID)
	partnerStream, partnerStop, err := a.resolver.Watch(runCtx, a.userID)
	if err != nil {
		requestCleanup()
		cancel()
		return err
	}

	go a.forwardRequestEvents(runCtx, requestEvents)
	go a.forwardPartnerUpdates(runCtx, partnerStream)
	go func() {
		defer close(a.done)
		defer requestCleanup()
		defer partnerStop()
		a.run(runCtx)
	}()
	return nil
}

// Close tears the session down. Prior badge values remain readable through
// Snapshot; no further mutation happens after Close returns and the merge
// loop has drained.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
	})
	<-a.done
}

// Snapshot returns the current badge.
func (a *Aggregator) Snapshot() Badge {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.badge
}

// Subscribe registers a badge listener. The current badge is delivered
// immediately; later updates follow. Slow consumers miss intermediate
// values, never final ones, because each delivery carries absolute counts.
func (a *Aggregator) Subscribe(ctx context.Context) (<-chan Badge, func()) {
	stream := make(chan Badge, 8)

	a.mu.Lock()
	a.nextSubscriber++
	id := a.nextSubscriber
	a.subscribers[id] = stream
	stream <- a.badge
	a.mu.Unlock()

	cleanup := func() {
		a.mu.Lock()
		delete(a.subscribers, id)
		a.mu.Unlock()
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-a.done:
		}
	}()
	return stream, cleanup
}

func (a *Aggregator) run(ctx context.Context) {
	// Owned exclusively by this loop.
	workers := make(map[string]*conversationWorker)
	unread := make(map[string]int)
	pending := 0

	defer func() {
		for _, worker := range workers {
			worker.cancel()
		}
	}()

	a.recountPending(ctx, &pending)
	a.publish(pending, unread)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-a.events:
			switch event.kind {
			case eventRequestsChanged:
				a.recountPending(ctx, &pending)
			case eventPartnersChanged:
				a.syncConversations(ctx, workers, unread, event.partners)
			case eventConversationSnapshot:
				if _, subscribed := workers[event.conversationKey]; !subscribed {
					continue
				}
				count := 0
				for _, message := range event.snapshot {
					if message.UnreadBy(a.userID) {
						count++
					}
				}
				unread[event.conversationKey] = count
			}
			a.publish(pending, unread)
		}
	}
}

func (a *Aggregator) recountPending(ctx context.Context, pending *int) {
	count, err := a.requests.PendingActionCount(ctx, a.userID)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("pending recount failed", zap.Error(err), zap.String("user_id", a.userID))
		}
		return
	}
	*pending = count
}

// syncConversations adds and removes per-conversation subscriptions to match
// the partner list. Unaffected conversations keep their counts.
func (a *Aggregator) syncConversations(ctx context.Context, workers map[string]*conversationWorker, unread map[string]int, list []partners.Partner) {
	desired := make(map[string]bool, len(list))
	for _, partner := range list {
		desired[partner.ConversationKey] = true
	}

	for key, worker := range workers {
		if desired[key] {
			continue
		}
		worker.cancel()
		delete(workers, key)
		delete(unread, key)
	}

	for key := range desired {
		if _, exists := workers[key]; exists {
			continue
		}
		workerCtx, workerCancel := context.WithCancel(ctx)
		stream, cleanup := a.messages.Subscribe(workerCtx, key)
		workers[key] = &conversationWorker{cancel: workerCancel}
		go func(key string) {
			defer cleanup()
			a.forwardConversation(workerCtx, key, stream)
		}(key)
	}
}

// forwardConversation primes the merge loop with the current snapshot, then
// relays feed emissions in order. Each emission is a full snapshot, so the
// last processed emission always reflects the latest write.
func (a *Aggregator) forwardConversation(ctx context.Context, key string, stream <-chan []chat.Message) {
	initial, err := a.messages.List(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("conversation prime failed", zap.Error(err), zap.String("conversation_key", key))
		}
	} else {
		a.send(ctx, mergeEvent{kind: eventConversationSnapshot, conversationKey: key, snapshot: initial})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-stream:
			if !ok {
				return
			}
			a.send(ctx, mergeEvent{kind: eventConversationSnapshot, conversationKey: key, snapshot: snapshot})
		}
	}
}

func (a *Aggregator) forwardRequestEvents(ctx context.Context, events <-chan collab.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			a.send(ctx, mergeEvent{kind: eventRequestsChanged})
		}
	}
}

func (a *Aggregator) forwardPartnerUpdates(ctx context.Context, stream <-chan []partners.Partner) {
	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-stream:
			if !ok {
				return
			}
			a.send(ctx, mergeEvent{kind: eventPartnersChanged, partners: list})
		}
	}
}

func (a *Aggregator) send(ctx context.Context, event mergeEvent) {
	select {
	case a.events <- event:
	case <-ctx.Done():
	}
}

func (a *Aggregator) publish(pending int, unread map[string]int) {
	total := 0
	for _, count := range unread {
		total += count
	}
	badge := Badge{PendingRequests: pending, UnreadMessages: total}

	a.mu.Lock()
	if badge == a.badge {
		a.mu.Unlock()
		return
	}
	a.badge = badge
	streams := make([]chan Badge, 0, len(a.subscribers))
	for _, stream := range a.subscribers {
		streams = append(streams, stream)
	}
	a.mu.Unlock()

	for _, stream := range streams {
		select {
		case stream <- badge:
		default:
			// Drop intermediate values for slow consumers; drain one slot so
			// the latest badge still lands.
			select {
			case <-stream:
			default:
			}
			select {
			case stream <- badge:
			default:
			}
		}
	}
}
