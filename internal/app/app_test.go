package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/heartbeat"
	"github.com/tunesync/client/internal/playback"
	"github.com/tunesync/client/internal/queue"
	"github.com/tunesync/client/internal/session"
	settingsinmemory "github.com/tunesync/client/internal/settings/inmemory"
	"github.com/tunesync/client/internal/transport/inmemory"
)

type testMember struct {
	client  *Client
	surface *playback.SimulatedSurface
}

func startTestMember(t *testing.T, hub *inmemory.Hub, userID string, name string) *testMember {
	t.Helper()

	surface := playback.NewSimulatedSurface()
	client := NewClient(&ClientConfig{
		Channel:         "party",
		AutoplayConsent: true,
		// a long frequency keeps the periodic tick out of the scenario
		Heartbeat: heartbeat.Config{Frequency: time.Hour},
	}, &Deps{
		Transport: hub,
		Surface:   surface,
		Settings:  settingsinmemory.NewRepo(),
		Identity:  session.StaticIdentity{ID: userID, Name: name},
		Logger:    slog.Default(),
	})

	require.NoError(t, client.Start(context.Background()))
	client.Playback.OnPlayerReady()
	t.Cleanup(func() {
		client.Close(context.Background())
	})

	return &testMember{client: client, surface: surface}
}

func TestTwoClientsConverge(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	t.Log("two clients join the same channel")
	dj := startTestMember(t, hub, "user-dj", "alice")
	listener := startTestMember(t, hub, "user-listener", "bob")

	_, ok := dj.client.Store.GetState().Session.MemberByID("user-listener")
	require.True(t, ok)
	_, ok = listener.client.Store.GetState().Session.MemberByID("user-dj")
	require.True(t, ok)

	t.Log("the first client claims the dj role")
	require.NoError(t, dj.client.Session.ClaimDJRole(ctx))
	assert.Equal(t, "user-dj", dj.client.Store.GetState().Session.DJUserID)
	assert.Equal(t, "user-dj", listener.client.Store.GetState().Session.DJUserID)

	t.Log("the dj builds a queue and both sides converge on it")
	first, err := dj.client.Queue.AddVideo(ctx, &queue.AddVideoParams{VideoID: "video-1", Title: "first"})
	require.NoError(t, err)
	_, err = dj.client.Queue.AddVideo(ctx, &queue.AddVideoParams{VideoID: "video-2", Title: "second"})
	require.NoError(t, err)

	require.Len(t, listener.client.Store.GetState().Queue.Items, 2)
	assert.Equal(t, "video-1", listener.client.Store.GetState().Queue.Items[0].VideoID)

	t.Log("playback commands from the dj drive the listener's player")
	require.NoError(t, dj.client.Playback.LoadVideo(ctx, first.VideoID, first.Title, 0, true))
	require.NoError(t, dj.client.Playback.Play(ctx))

	assert.Equal(t, "video-1", listener.surface.CurrentVideoID())
	assert.True(t, listener.surface.IsPlaying())

	require.NoError(t, dj.client.Playback.SeekTo(ctx, 90))
	position, err := listener.surface.GetCurrentTime(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 90, position, 1)

	t.Log("the dj hands the role to the listener")
	require.NoError(t, dj.client.Session.HandoffDJRole(ctx, "user-listener"))
	assert.Equal(t, "user-listener", dj.client.Store.GetState().Session.DJUserID)
	assert.Equal(t, "user-listener", listener.client.Store.GetState().Session.DJUserID)

	t.Log("the new dj controls playback")
	require.NoError(t, listener.client.Playback.Pause(ctx))
	assert.False(t, dj.surface.IsPlaying())

	assert.ErrorIs(t, dj.client.Playback.Play(ctx), domain.ErrNotDJ)
}

func TestLateJoinerReceivesStateSnapshot(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	dj := startTestMember(t, hub, "user-dj", "alice")
	require.NoError(t, dj.client.Session.ClaimDJRole(ctx))
	_, err := dj.client.Queue.AddVideo(ctx, &queue.AddVideoParams{VideoID: "video-1", Title: "first"})
	require.NoError(t, err)
	require.NoError(t, dj.client.Playback.LoadVideo(ctx, "video-1", "first", 0, true))

	t.Log("a client joining an established session converges without any dj action")
	late := startTestMember(t, hub, "user-late", "carol")

	assert.Equal(t, "user-dj", late.client.Store.GetState().Session.DJUserID)
	require.Len(t, late.client.Store.GetState().Queue.Items, 1)
	assert.Equal(t, "video-1", late.client.Store.GetState().Queue.Items[0].VideoID)
}

func TestLeaveReleasesDJRole(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	dj := startTestMember(t, hub, "user-dj", "alice")
	listener := startTestMember(t, hub, "user-listener", "bob")
	require.NoError(t, dj.client.Session.ClaimDJRole(ctx))

	dj.client.Close(ctx)

	assert.Empty(t, listener.client.Store.GetState().Session.DJUserID)
	_, ok := listener.client.Store.GetState().Session.MemberByID("user-dj")
	assert.False(t, ok)
}

func TestPlayerConfigOverrides(t *testing.T) {
	hub := inmemory.NewHub()

	surface := playback.NewSimulatedSurface()
	client := NewClient(&ClientConfig{
		Channel:            "party",
		DriftTolerance:     3,
		HeartbeatFrequency: 5 * time.Second,
		AutoplayConsent:    true,
		Heartbeat:          heartbeat.Config{Frequency: time.Hour},
	}, &Deps{
		Transport: hub,
		Surface:   surface,
		Settings:  settingsinmemory.NewRepo(),
		Identity:  session.StaticIdentity{ID: "user-1", Name: "alice"},
		Logger:    slog.Default(),
	})

	require.NoError(t, client.Start(context.Background()))
	t.Cleanup(func() {
		client.Close(context.Background())
	})

	player := client.Store.GetState().Player
	assert.Equal(t, 3.0, player.DriftTolerance)
	assert.Equal(t, 5*time.Second, player.HeartbeatFrequency)
	assert.True(t, player.AutoplayConsent)
}
