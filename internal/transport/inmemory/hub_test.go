package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/client/internal/transport"
)

func TestPublishFansOutToAllSubscribersIncludingSender(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	var got1, got2 [][]byte
	_, err := h.Subscribe(ctx, "party", func(payload []byte) {
		got1 = append(got1, payload)
	})
	require.NoError(t, err)
	_, err = h.Subscribe(ctx, "party", func(payload []byte) {
		got2 = append(got2, payload)
	})
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, "party", []byte("frame")))

	require.Len(t, got1, 1)
	require.Len(t, got2, 1)
	assert.Equal(t, "frame", string(got1[0]))
	assert.Equal(t, "frame", string(got2[0]))
}

func TestChannelsAreIsolated(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	received := 0
	_, err := h.Subscribe(ctx, "party", func([]byte) {
		received++
	})
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, "other", []byte("frame")))
	assert.Equal(t, 0, received)
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	received := 0
	unsubscribe, err := h.Subscribe(ctx, "party", func([]byte) {
		received++
	})
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, "party", []byte("one")))
	unsubscribe()
	require.NoError(t, h.Publish(ctx, "party", []byte("two")))

	assert.Equal(t, 1, received)
}

func TestClosedHubRejectsOperations(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	require.NoError(t, h.Close())

	_, err := h.Subscribe(ctx, "party", func([]byte) {})
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, h.Publish(ctx, "party", nil), transport.ErrClosed)
}
