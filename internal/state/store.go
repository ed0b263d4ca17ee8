// Package state holds the per-client shared state store. The store is the
// sole mutation entry point for session, queue and player state; it merges
// partial updates section by section, diffs against the previous snapshot
// and notifies local subscribers synchronously. No cross-client
// synchronization happens here.
package state

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/tunesync/client/internal/domain"
)

const (
	defaultDriftTolerance     = 1.5
	defaultHeartbeatFrequency = 2 * time.Second
	defaultVolume             = 100
)

// Partial carries whole-section replacements; nil sections are left as is.
type Partial struct {
	Session *domain.SessionState
	Queue   *domain.QueueState
	Player  *domain.PlayerState
}

// Changes names the sections that differed from the previous snapshot.
type Changes struct {
	Session bool
	Queue   bool
	Player  bool
}

func (c Changes) Any() bool {
	return c.Session || c.Queue || c.Player
}

// Update is delivered to subscribers on every effective state change.
type Update struct {
	Previous domain.State
	Current  domain.State
	Changes  Changes
}

type SubscriberFunc func(Update)

type Store struct {
	mu          sync.RWMutex
	localUserID string
	state       domain.State
	subscribers map[int]SubscriberFunc
	nextSubID   int
	logger      *slog.Logger
	closed      bool
}

func New(localUserID string, logger *slog.Logger) *Store {
	return &Store{
		localUserID: localUserID,
		state: domain.State{
			Session: domain.SessionState{
				ConnectionStatus: domain.ConnectionStatusDisconnected,
			},
			Queue: domain.QueueState{
				CurrentIndex: -1,
			},
			Player: domain.PlayerState{
				PlaybackState:      domain.PlaybackStatusStopped,
				DriftTolerance:     defaultDriftTolerance,
				HeartbeatFrequency: defaultHeartbeatFrequency,
				Volume:             defaultVolume,
			},
		},
		subscribers: make(map[int]SubscriberFunc),
		logger:      logger,
	}
}

func (s *Store) LocalUserID() string {
	return s.localUserID
}

// GetState returns a deep snapshot of the current state.
func (s *Store) GetState() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Clone()
}

// IsDJ reports whether the local user currently holds playback authority.
func (s *Store) IsDJ() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Session.DJUserID == s.localUserID
}

// UpdateState merges the given sections into the state, computes the diff and
// synchronously notifies all subscribers. Subscribers must not recursively
// update the same section from within the notification.
func (s *Store) UpdateState(partial Partial) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	previous := s.state.Clone()

	if partial.Session != nil {
		s.state.Session = partial.Session.Clone()
	}
	if partial.Queue != nil {
		s.state.Queue = partial.Queue.Clone()
	}
	if partial.Player != nil {
		s.state.Player = partial.Player.Clone()
	}

	current := s.state.Clone()
	changes := Changes{
		Session: !reflect.DeepEqual(previous.Session, current.Session),
		Queue:   !reflect.DeepEqual(previous.Queue, current.Queue),
		Player:  !reflect.DeepEqual(previous.Player, current.Player),
	}

	subscribers := make([]SubscriberFunc, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()

	if !changes.Any() {
		return
	}

	update := Update{Previous: previous, Current: current, Changes: changes}
	for _, fn := range subscribers {
		s.notify(fn, update)
	}
}

// Subscribe registers fn for state change notifications and returns an
// unsubscribe func.
func (s *Store) Subscribe(fn SubscriberFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.subscribers, id)
	}
}

// Close drops all subscribers and rejects further updates.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.subscribers = make(map[int]SubscriberFunc)
}

// one failing subscriber must not prevent the rest from being notified
func (s *Store) notify(fn SubscriberFunc, update Update) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state subscriber panicked", "panic", r)
		}
	}()

	fn(update)
}
