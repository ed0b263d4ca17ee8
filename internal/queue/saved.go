package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/settings"
	"github.com/tunesync/client/internal/state"
)

var ErrSavedQueueNameTaken = errors.New("saved queue name already in use")

// SaveCurrentQueue snapshots the live queue into the saved-queue catalog
// under the given name, replacing an existing entry with the same name.
func (s *Service) SaveCurrentQueue(ctx context.Context, name string) (domain.SavedQueue, error) {
	st := s.store.GetState()
	if len(st.Queue.Items) == 0 {
		return domain.SavedQueue{}, domain.ErrQueueEmpty
	}

	saved := domain.SavedQueue{
		ID:        uuid.NewString(),
		Name:      name,
		Items:     append([]domain.VideoItem(nil), st.Queue.Items...),
		CreatedBy: s.identity.UserID(),
		CreatedAt: s.now(),
	}

	replaced := false
	for i := range st.Queue.SavedQueues {
		if st.Queue.SavedQueues[i].Name == name {
			st.Queue.SavedQueues[i] = saved
			replaced = true
			break
		}
	}
	if !replaced {
		st.Queue.SavedQueues = append(st.Queue.SavedQueues, saved)
	}

	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return saved, s.persistCatalog(ctx)
}

type LoadSavedQueueParams struct {
	ID string
	// Append keeps the live queue and appends the saved items; otherwise
	// the live queue is replaced.
	Append bool
}

// LoadSavedQueue applies a saved queue to the live queue and broadcasts the
// result as a QUEUE_SYNC snapshot. DJ only.
func (s *Service) LoadSavedQueue(ctx context.Context, params *LoadSavedQueueParams) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	saved, ok := findSaved(st.Queue.SavedQueues, params.ID)
	if !ok {
		return domain.ErrSavedQueueNotFound
	}

	if params.Append {
		st.Queue.Items = append(st.Queue.Items, saved.Items...)
	} else {
		st.Queue.Items = append([]domain.VideoItem(nil), saved.Items...)
		if len(st.Queue.Items) > 0 {
			st.Queue.CurrentIndex = 0
		} else {
			st.Queue.CurrentIndex = -1
		}
	}
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return s.broadcast(ctx, domain.MessageTypeQueueSync, &st.Queue)
}

func (s *Service) DeleteSavedQueue(ctx context.Context, id string) error {
	st := s.store.GetState()
	for i := range st.Queue.SavedQueues {
		if st.Queue.SavedQueues[i].ID == id {
			st.Queue.SavedQueues = append(st.Queue.SavedQueues[:i], st.Queue.SavedQueues[i+1:]...)
			s.store.UpdateState(state.Partial{Queue: &st.Queue})

			return s.persistCatalog(ctx)
		}
	}

	return domain.ErrSavedQueueNotFound
}

func (s *Service) RenameSavedQueue(ctx context.Context, id string, name string) error {
	st := s.store.GetState()
	for _, saved := range st.Queue.SavedQueues {
		if saved.Name == name && saved.ID != id {
			return ErrSavedQueueNameTaken
		}
	}

	for i := range st.Queue.SavedQueues {
		if st.Queue.SavedQueues[i].ID == id {
			st.Queue.SavedQueues[i].Name = name
			s.store.UpdateState(state.Partial{Queue: &st.Queue})

			return s.persistCatalog(ctx)
		}
	}

	return domain.ErrSavedQueueNotFound
}

// ExportSavedQueue serializes a saved queue to JSON for sharing out of band.
func (s *Service) ExportSavedQueue(id string) (string, error) {
	st := s.store.GetState()
	saved, ok := findSaved(st.Queue.SavedQueues, id)
	if !ok {
		return "", domain.ErrSavedQueueNotFound
	}

	raw, err := json.MarshalIndent(&saved, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal saved queue: %w", err)
	}

	return string(raw), nil
}

// ImportSavedQueue adds an exported saved queue to the catalog under a newly
// generated id; the name is suffixed on collision.
func (s *Service) ImportSavedQueue(ctx context.Context, raw string) (domain.SavedQueue, error) {
	var saved domain.SavedQueue
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		return domain.SavedQueue{}, fmt.Errorf("failed to unmarshal saved queue: %w", err)
	}

	saved.ID = uuid.NewString()
	if saved.CreatedBy == "" {
		saved.CreatedBy = s.identity.UserID()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = s.now()
	}

	st := s.store.GetState()
	base := saved.Name
	for n := 2; nameTaken(st.Queue.SavedQueues, saved.Name); n++ {
		saved.Name = fmt.Sprintf("%s (%d)", base, n)
	}

	st.Queue.SavedQueues = append(st.Queue.SavedQueues, saved)
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return saved, s.persistCatalog(ctx)
}

// LoadCatalog restores the saved-queue catalog from the settings store.
func (s *Service) LoadCatalog(ctx context.Context) error {
	raw, err := s.settings.Get(ctx, settings.KeySavedQueues)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("failed to read saved queues: %w", err)
	}

	var catalog []domain.SavedQueue
	if err := json.Unmarshal([]byte(raw), &catalog); err != nil {
		return fmt.Errorf("failed to unmarshal saved queues: %w", err)
	}

	st := s.store.GetState()
	st.Queue.SavedQueues = catalog
	s.store.UpdateState(state.Partial{Queue: &st.Queue})

	return nil
}

func (s *Service) persistCatalog(ctx context.Context) error {
	st := s.store.GetState()
	raw, err := json.Marshal(st.Queue.SavedQueues)
	if err != nil {
		return fmt.Errorf("failed to marshal saved queues: %w", err)
	}

	if err := s.settings.Set(ctx, settings.KeySavedQueues, string(raw)); err != nil {
		return fmt.Errorf("failed to persist saved queues: %w", err)
	}

	return nil
}

func findSaved(catalog []domain.SavedQueue, id string) (domain.SavedQueue, bool) {
	for _, saved := range catalog {
		if saved.ID == id {
			return saved, true
		}
	}

	return domain.SavedQueue{}, false
}

func nameTaken(catalog []domain.SavedQueue, name string) bool {
	for _, saved := range catalog {
		if saved.Name == name {
			return true
		}
	}

	return false
}
