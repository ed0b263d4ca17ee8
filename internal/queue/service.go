// Package queue implements DJ-authoritative queue mutation replicated to
// listeners as full-queue snapshots. Snapshots are idempotent under
// duplication and reordering, which keeps the queue convergent over an
// unreliable transport; queue sizes are small and mutations human-paced, so
// the bandwidth cost is acceptable.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/router"
	"github.com/tunesync/client/internal/session"
	"github.com/tunesync/client/internal/settings"
	"github.com/tunesync/client/internal/state"
)

type Service struct {
	store    *state.Store
	router   *router.Router
	settings settings.Store
	identity session.Identity
	logger   *slog.Logger

	now func() time.Time
}

func NewService(store *state.Store, rtr *router.Router, settingsStore settings.Store, identity session.Identity, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		router:   rtr,
		settings: settingsStore,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Register installs the snapshot handlers. All queue message types carry the
// same full-queue snapshot; listeners apply it verbatim.
func (s *Service) Register() {
	for _, t := range []domain.MessageType{
		domain.MessageTypeQueueAdd,
		domain.MessageTypeQueueRemove,
		domain.MessageTypeQueueUpdate,
		domain.MessageTypeQueueNext,
		domain.MessageTypeQueueSync,
	} {
		s.router.Handle(t, s.handleSnapshot)
	}

	s.router.Handle(domain.MessageTypeStateSaveRequest, s.handleStateSaveRequest)
}

type AddVideoParams struct {
	VideoID string
	Title   string
}

func (s *Service) AddVideo(ctx context.Context, params *AddVideoParams) (domain.VideoItem, error) {
	if !s.store.IsDJ() {
		return domain.VideoItem{}, domain.ErrNotDJ
	}

	item := domain.VideoItem{
		ID:      uuid.NewString(),
		VideoID: params.VideoID,
		Title:   params.Title,
		AddedBy: s.identity.UserID(),
		AddedAt: s.now(),
	}

	st := s.store.GetState()
	st.Queue.Items = append(st.Queue.Items, item)
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return item, s.broadcast(ctx, domain.MessageTypeQueueAdd, &st.Queue)
}

type AddPlaylistParams struct {
	PlaylistID string
	Title      string
}

// AddPlaylist appends a playlist as a single queue entry; its tracks expand
// only inside the player surface.
func (s *Service) AddPlaylist(ctx context.Context, params *AddPlaylistParams) (domain.VideoItem, error) {
	if !s.store.IsDJ() {
		return domain.VideoItem{}, domain.ErrNotDJ
	}

	item := domain.VideoItem{
		ID:         uuid.NewString(),
		VideoID:    domain.PlaylistVideoID(params.PlaylistID),
		Title:      params.Title,
		AddedBy:    s.identity.UserID(),
		AddedAt:    s.now(),
		IsPlaylist: true,
		PlaylistID: params.PlaylistID,
	}

	st := s.store.GetState()
	st.Queue.Items = append(st.Queue.Items, item)
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return item, s.broadcast(ctx, domain.MessageTypeQueueAdd, &st.Queue)
}

func (s *Service) RemoveItem(ctx context.Context, itemID string) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	index := indexOf(st.Queue.Items, itemID)
	if index < 0 {
		return domain.ErrItemNotFound
	}

	st.Queue.Items = append(st.Queue.Items[:index], st.Queue.Items[index+1:]...)
	switch {
	case st.Queue.CurrentIndex > index:
		st.Queue.CurrentIndex--
	case st.Queue.CurrentIndex == index && st.Queue.CurrentIndex >= len(st.Queue.Items):
		st.Queue.CurrentIndex = len(st.Queue.Items) - 1
	}
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return s.broadcast(ctx, domain.MessageTypeQueueRemove, &st.Queue)
}

func (s *Service) MoveItemUp(ctx context.Context, itemID string) error {
	return s.moveItem(ctx, itemID, -1)
}

func (s *Service) MoveItemDown(ctx context.Context, itemID string) error {
	return s.moveItem(ctx, itemID, 1)
}

func (s *Service) moveItem(ctx context.Context, itemID string, delta int) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	index := indexOf(st.Queue.Items, itemID)
	if index < 0 {
		return domain.ErrItemNotFound
	}

	target := index + delta
	if target < 0 || target >= len(st.Queue.Items) {
		return nil
	}

	items := st.Queue.Items
	items[index], items[target] = items[target], items[index]
	switch st.Queue.CurrentIndex {
	case index:
		st.Queue.CurrentIndex = target
	case target:
		st.Queue.CurrentIndex = index
	}
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return s.broadcast(ctx, domain.MessageTypeQueueUpdate, &st.Queue)
}

func (s *Service) SkipToIndex(ctx context.Context, index int) (domain.VideoItem, error) {
	if !s.store.IsDJ() {
		return domain.VideoItem{}, domain.ErrNotDJ
	}

	st := s.store.GetState()
	if index < 0 || index >= len(st.Queue.Items) {
		return domain.VideoItem{}, domain.ErrItemNotFound
	}

	st.Queue.CurrentIndex = index
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return st.Queue.Items[index], s.broadcast(ctx, domain.MessageTypeQueueUpdate, &st.Queue)
}

func (s *Service) ClearQueue(ctx context.Context) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	st.Queue.Items = nil
	st.Queue.CurrentIndex = -1
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return s.broadcast(ctx, domain.MessageTypeQueueUpdate, &st.Queue)
}

func (s *Service) SetLoopEnabled(ctx context.Context, enabled bool) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	st.Queue.LoopEnabled = enabled
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return s.broadcast(ctx, domain.MessageTypeQueueUpdate, &st.Queue)
}

// NextVideo advances the queue by cycling: the current item moves to the
// tail and the index stays put because its successor shifted up. At the tail
// the index wraps to the head.
func (s *Service) NextVideo(ctx context.Context) (domain.VideoItem, error) {
	if !s.store.IsDJ() {
		return domain.VideoItem{}, domain.ErrNotDJ
	}

	st := s.store.GetState()
	if len(st.Queue.Items) == 0 {
		return domain.VideoItem{}, domain.ErrQueueEmpty
	}

	index := st.Queue.CurrentIndex
	if index < 0 {
		index = 0
	}

	items := st.Queue.Items
	moved := items[index]
	items = append(items[:index], items[index+1:]...)
	items = append(items, moved)
	st.Queue.Items = items

	if index < len(items)-1 {
		st.Queue.CurrentIndex = index
	} else {
		st.Queue.CurrentIndex = 0
	}
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	current := st.Queue.Items[st.Queue.CurrentIndex]

	return current, s.broadcast(ctx, domain.MessageTypeQueueNext, &st.Queue)
}

func (s *Service) broadcast(ctx context.Context, t domain.MessageType, queue *domain.QueueState) error {
	return s.router.Send(ctx, t, &domain.QueueSnapshotPayload{
		Items:        queue.Items,
		CurrentIndex: queue.CurrentIndex,
		LoopEnabled:  queue.LoopEnabled,
	})
}

// handleSnapshot replaces the local queue with the received snapshot
// verbatim. The DJ is authoritative for its own queue and ignores inbound
// snapshots.
func (s *Service) handleSnapshot(ctx context.Context, msg *domain.Message) {
	if s.store.IsDJ() {
		return
	}

	var snapshot domain.QueueSnapshotPayload
	if err := msg.DecodeData(&snapshot); err != nil {
		s.logger.Debug("discarding malformed queue snapshot", "error", err)
		return
	}

	st := s.store.GetState()
	st.Queue.Items = append([]domain.VideoItem(nil), snapshot.Items...)
	st.Queue.CurrentIndex = snapshot.CurrentIndex
	st.Queue.LoopEnabled = snapshot.LoopEnabled
	if st.Queue.CurrentIndex >= len(st.Queue.Items) {
		st.Queue.CurrentIndex = len(st.Queue.Items) - 1
	}
	if st.Queue.CurrentIndex < -1 {
		st.Queue.CurrentIndex = -1
	}
	s.store.UpdateState(state.Partial{Queue: &st.Queue})
}

func (s *Service) handleStateSaveRequest(ctx context.Context, msg *domain.Message) {
	if !s.store.IsDJ() {
		return
	}

	if err := s.persistCatalog(ctx); err != nil {
		s.logger.InfoContext(ctx, "failed to persist saved queues", "error", err)
	}
}

func indexOf(items []domain.VideoItem, itemID string) int {
	for i := range items {
		if items[i].ID == itemID {
			return i
		}
	}

	return -1
}
