package partners

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/relaycargo/relay/backend/internal/chat"
	"github.com/relaycargo/relay/backend/internal/collab"
	"github.com/relaycargo/relay/backend/internal/users"
	"go.uber.org/zap"
)

// relationshipStatuses select the requests that establish a messaging
// relationship: a working (confirmed) or past (completed) collaboration,
// not a mere pending inquiry.
var relationshipStatuses = []collab.RequestStatus{collab.StatusConfirmed, collab.StatusCompleted}

// Partner is a counterpart user eligible for messaging, with the derived
// conversation key.
type Partner struct {
	UserID          string
	DisplayName     string
	Email           string
	AvatarURL       string
	Role            string
	ConversationKey string
}

// ProfileDirectory is the read-only user directory collaborator.
type ProfileDirectory interface {
	Get(ctx context.Context, userID string) (*users.AppUser, error)
}

// ResolverConfig describes the dependencies of the partner resolver.
type ResolverConfig struct {
	Store     collab.RequestStore
	Feed      *collab.Feed
	Directory ProfileDirectory
	Logger    *zap.Logger
}

// Resolver derives the partner list for a user from the confirmed and
// completed request set, deduplicated per counterpart.
type Resolver struct {
	store     collab.RequestStore
	feed      *collab.Feed
	directory ProfileDirectory
	logger    *zap.Logger
}

// NewResolver constructs the resolver. Feed is optional when Watch is not
// used.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("partners: request store is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("partners: profile directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: cfg.Store, feed: cfg.Feed, directory: cfg.Directory, logger: logger}, nil
}

// List resolves the current partner set for the user.
func (r *Resolver) List(ctx context.Context, userID string) ([]Partner, error) {
	if userID == "" {
		return nil, fmt.Errorf("partners: user identifier is required")
	}

	outgoing, err := r.store.Query(ctx, collab.QueryFilter{FromUserID: userID, Statuses: relationshipStatuses})
	if err != nil {
		return nil, err
	}
	incoming, err := r.store.Query(ctx, collab.QueryFilter{ToUserID: userID, Statuses: relationshipStatuses})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var counterparts []string
	for _, record := range append(outgoing, incoming...) {
		counterpart := record.Counterpart(userID)
		if counterpart == "" || seen[counterpart] {
			continue
		}
		seen[counterpart] = true
		counterparts = append(counterparts, counterpart)
	}
	sort.Strings(counterparts)

	partners := make([]Partner, 0, len(counterparts))
	for _, counterpart := range counterparts {
		partner := Partner{
			UserID:          counterpart,
			ConversationKey: chat.ConversationKey(userID, counterpart),
		}
		profile, err := r.directory.Get(ctx, counterpart)
		if err != nil && !errors.Is(err, users.ErrProfileNotFound) {
			return nil, err
		}
		if profile != nil {
			partner.DisplayName = profile.DisplayName
			partner.Email = profile.Email
			partner.AvatarURL = profile.AvatarURL
			partner.Role = profile.Role
		}
		partners = append(partners, partner)
	}
	return partners, nil
}

// Watch emits the partner list immediately and again whenever the
// relationship set changes. Emissions are deduplicated by counterpart set;
// the cancel function stops the watch.
func (r *Resolver) Watch(ctx context.Context, userID string) (<-chan []Partner, func(), error) {
	if r.feed == nil {
		return nil, nil, fmt.Errorf("partners: request feed is required for watch")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	events, cleanup := r.feed.Subscribe(watchCtx, userID)
	out := make(chan []Partner, 16)

	go func() {
		defer close(out)
		defer cleanup()

		emitted := false
		var lastKeys string
		emit := func() {
			partners, err := r.List(watchCtx, userID)
			if err != nil {
				if watchCtx.Err() == nil {
					r.logger.Warn("partner resolution failed", zap.Error(err), zap.String("user_id", userID))
				}
				return
			}
			keys := fingerprint(partners)
			if emitted && keys == lastKeys {
				return
			}
			emitted = true
			lastKeys = keys
			select {
			case out <- partners:
			case <-watchCtx.Done():
			}
		}

		emit()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				emit()
			}
		}
	}()

	return out, cancel, nil
}

func fingerprint(partners []Partner) string {
	keys := ""
	for _, partner := range partners {
		keys += partner.UserID + "\x00"
	}
	return keys
}
