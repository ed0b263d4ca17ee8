// Package settings is the durable key-value boundary used for the
// saved-queue catalog and per-user player preferences. Last write wins; no
// transactional guarantees are assumed.
package settings

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("setting not found")

const (
	KeySavedQueues = "saved-queues"
	KeyVolume      = "player:volume"
	KeyMuted       = "player:muted"
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
