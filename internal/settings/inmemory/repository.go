package inmemory

import (
	"context"
	"sync"

	"github.com/tunesync/client/internal/settings"
)

type repo struct {
	values map[string]string
	mu     sync.RWMutex
}

func NewRepo() *repo {
	return &repo{
		values: make(map[string]string),
	}
}

func (r *repo) Get(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.values[key]
	if !ok {
		return "", settings.ErrNotFound
	}

	return value, nil
}

func (r *repo) Set(_ context.Context, key string, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values[key] = value

	return nil
}

func (r *repo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.values, key)

	return nil
}
