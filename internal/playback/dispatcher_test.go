package playback

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/router"
	"github.com/tunesync/client/internal/settings"
	settingsinmemory "github.com/tunesync/client/internal/settings/inmemory"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/internal/transport/inmemory"
	"github.com/tunesync/client/pkg/scheduler"
)

type testClient struct {
	store    *state.Store
	surface  *SimulatedSurface
	disp     *Dispatcher
	settings settings.Store
	sched    *scheduler.Scheduler
}

func newTestClient(t *testing.T, hub *inmemory.Hub, userID string, cfg Config) *testClient {
	t.Helper()

	c := &testClient{
		store:    state.New(userID, slog.Default()),
		surface:  NewSimulatedSurface(),
		settings: settingsinmemory.NewRepo(),
		sched:    scheduler.New(slog.Default()),
	}
	t.Cleanup(c.sched.Stop)

	rtr := router.New(hub, c.store, router.Config{Channel: "party"}, slog.Default())
	require.NoError(t, rtr.Start(context.Background()))
	t.Cleanup(rtr.Close)

	c.disp = NewDispatcher(c.store, rtr, c.surface, c.settings, c.sched, cfg, slog.Default())
	c.disp.Register()

	return c
}

func (c *testClient) makeDJ() {
	st := c.store.GetState()
	st.Session.DJUserID = c.store.LocalUserID()
	c.store.UpdateState(state.Partial{Session: &st.Session})
}

func (c *testClient) ready() {
	c.disp.OnPlayerReady()
}

func (c *testClient) allowAutoplay() {
	st := c.store.GetState()
	st.Player.AutoplayConsent = true
	c.store.UpdateState(state.Partial{Player: &st.Player})
}

func TestDJCommandsRequireRole(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()
	c := newTestClient(t, hub, "listener", Config{})
	c.ready()

	assert.ErrorIs(t, c.disp.Play(ctx), domain.ErrNotDJ)
	assert.ErrorIs(t, c.disp.Pause(ctx), domain.ErrNotDJ)
	assert.ErrorIs(t, c.disp.SeekTo(ctx, 10), domain.ErrNotDJ)
	assert.ErrorIs(t, c.disp.LoadVideo(ctx, "video-1", "", 0, true), domain.ErrNotDJ)
}

func TestDJCommandsReachListeners(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()
	dj := newTestClient(t, hub, "dj", Config{})
	listener := newTestClient(t, hub, "listener", Config{})
	dj.makeDJ()
	dj.ready()
	dj.allowAutoplay()
	listener.ready()
	listener.allowAutoplay()

	require.NoError(t, dj.disp.LoadVideo(ctx, "video-1", "a title", 5, true))
	assert.Equal(t, "video-1", listener.surface.CurrentVideoID())
	require.NotNil(t, listener.store.GetState().Player.CurrentVideo)
	assert.Equal(t, "a title", listener.store.GetState().Player.CurrentVideo.Title)

	require.NoError(t, dj.disp.Pause(ctx))
	assert.False(t, listener.surface.IsPlaying())
	assert.Equal(t, domain.PlaybackStatusPaused, listener.store.GetState().Player.PlaybackState)

	require.NoError(t, dj.disp.Play(ctx))
	assert.True(t, listener.surface.IsPlaying())

	require.NoError(t, dj.disp.SeekTo(ctx, 60))
	position, err := listener.surface.GetCurrentTime(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 60, position, 0.5)
}

func TestDJIgnoresRelayedCommands(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()
	dj := newTestClient(t, hub, "dj", Config{})
	other := newTestClient(t, hub, "other", Config{})
	dj.makeDJ()
	dj.ready()
	other.ready()

	// another client broadcasting PLAY must not drive the dj's player
	st := other.store.GetState()
	st.Session.DJUserID = "other"
	other.store.UpdateState(state.Partial{Session: &st.Session})
	require.NoError(t, other.disp.Play(ctx))

	assert.False(t, dj.surface.IsPlaying())
}

func TestCommandsQueueUntilReadyAndFlushInOrder(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "listener", Config{})
	c.allowAutoplay()

	c.disp.ApplyLoad("video-1", "", 0, true)
	c.disp.ApplySeek(42)
	c.disp.ApplyPause()
	assert.Equal(t, 3, c.disp.PendingCommands())
	assert.Empty(t, c.surface.CurrentVideoID(), "nothing runs before ready")

	c.ready()

	assert.Equal(t, 0, c.disp.PendingCommands())
	assert.Equal(t, "video-1", c.surface.CurrentVideoID())
	assert.False(t, c.surface.IsPlaying(), "the trailing pause wins")
	position, err := c.surface.GetCurrentTime(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 42, position, 0.5)
}

func TestQueuedLoadsForSameVideoCollapse(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "listener", Config{})

	c.disp.ApplyLoad("video-1", "", 0, true)
	c.disp.ApplyLoad("video-1", "", 10, true)
	assert.Equal(t, 1, c.disp.PendingCommands(), "identical loads inside the window collapse")

	c.disp.ApplyLoad("video-2", "", 0, true)
	assert.Equal(t, 2, c.disp.PendingCommands())

	// the collapsed entry carries the latest parameters
	c.allowAutoplay()
	c.ready()
	assert.Equal(t, "video-2", c.surface.CurrentVideoID())
}

func TestLoadDedupWindowExpires(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "listener", Config{LoadDedupWindow: 50 * time.Millisecond})

	past := time.Now().Add(-time.Second)
	c.disp.now = func() time.Time { return past }
	c.disp.ApplyLoad("video-1", "", 0, true)

	c.disp.now = time.Now
	c.disp.ApplyLoad("video-1", "", 0, true)
	assert.Equal(t, 2, c.disp.PendingCommands(), "loads outside the window do not collapse")
}

func TestAutoplayRequiresConsent(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "listener", Config{})
	c.ready()

	c.disp.ApplyLoad("video-1", "", 0, true)
	assert.Equal(t, "video-1", c.surface.CurrentVideoID())
	assert.False(t, c.surface.IsPlaying(), "without consent the video is cued, not played")

	c.allowAutoplay()
	c.disp.ApplyLoad("video-2", "", 0, true)
	assert.True(t, c.surface.IsPlaying())
}

func TestPlaylistLoadUsesPlaylistRequest(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "listener", Config{})
	c.ready()
	c.allowAutoplay()

	c.disp.ApplyLoad(domain.PlaylistVideoID("pl-1"), "mix", 7, true)

	st := c.store.GetState()
	require.NotNil(t, st.Player.CurrentVideo)
	assert.True(t, st.Player.CurrentVideo.IsPlaylist)
	assert.Equal(t, "pl-1", st.Player.CurrentVideo.PlaylistID)
	assert.Equal(t, "pl-1", c.surface.CurrentVideoID())
}

func TestEndedAdvancesQueueForDJ(t *testing.T) {
	hub := inmemory.NewHub()
	dj := newTestClient(t, hub, "dj", Config{})
	dj.makeDJ()
	dj.ready()

	st := dj.store.GetState()
	st.Queue.Items = []domain.VideoItem{{ID: "a", VideoID: "a"}, {ID: "b", VideoID: "b"}}
	st.Queue.CurrentIndex = 0
	dj.store.UpdateState(state.Partial{Queue: &st.Queue})

	var skips atomic.Int32
	dj.disp.SetAutoSkip(func() {
		skips.Add(1)
	})

	dj.disp.OnPlayerStateChange(SurfaceStateEnded)
	assert.Equal(t, int32(1), skips.Load())
	assert.Equal(t, domain.PlaybackStatusStopped, dj.store.GetState().Player.PlaybackState)

	// a single-item queue does not advance
	st = dj.store.GetState()
	st.Queue.Items = st.Queue.Items[:1]
	dj.store.UpdateState(state.Partial{Queue: &st.Queue})
	dj.disp.OnPlayerStateChange(SurfaceStateEnded)
	assert.Equal(t, int32(1), skips.Load())
}

func TestEmbedErrorAutoSkipsPlaylistItems(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "dj", Config{AutoSkipDelay: 10 * time.Millisecond})
	c.makeDJ()
	c.ready()

	st := c.store.GetState()
	st.Queue.Items = []domain.VideoItem{
		{ID: "a", VideoID: domain.PlaylistVideoID("pl-1"), IsPlaylist: true, PlaylistID: "pl-1"},
		{ID: "b", VideoID: "b"},
	}
	st.Queue.CurrentIndex = 0
	c.store.UpdateState(state.Partial{Queue: &st.Queue})

	var skips atomic.Int32
	c.disp.SetAutoSkip(func() {
		skips.Add(1)
	})

	c.disp.OnPlayerError(ErrCodeEmbedDisabled)
	require.Eventually(t, func() bool {
		return skips.Load() == 1
	}, time.Second, 5*time.Millisecond)

	c.disp.OnPlayerError(ErrCodeNotFound)
	require.Eventually(t, func() bool {
		return skips.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestErrorOnSingleVideoDoesNotSkip(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "dj", Config{AutoSkipDelay: 10 * time.Millisecond})
	c.makeDJ()
	c.ready()

	st := c.store.GetState()
	st.Queue.Items = []domain.VideoItem{{ID: "a", VideoID: "a"}, {ID: "b", VideoID: "b"}}
	st.Queue.CurrentIndex = 0
	c.store.UpdateState(state.Partial{Queue: &st.Queue})

	var skips atomic.Int32
	c.disp.SetAutoSkip(func() {
		skips.Add(1)
	})

	// the current item is a plain video, not a playlist entry
	c.disp.OnPlayerError(ErrCodeEmbedDisabled)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), skips.Load())
}

func TestInvalidParamWithPopulatedPlaylistIsFalsePositive(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "dj", Config{})
	c.ready()
	c.surface.SetPlaylistContents([]string{"a", "b"}, 0)

	var notifications []string
	c.disp.SetNotify(func(message string) {
		notifications = append(notifications, message)
	})

	c.disp.OnPlayerError(ErrCodeInvalidParam)
	assert.Empty(t, notifications, "populated playlist means the error is spurious")

	c.surface.SetPlaylistContents(nil, -1)
	c.disp.OnPlayerError(ErrCodeInvalidParam)
	assert.Len(t, notifications, 1)
}

func TestVolumeAndMutePersistence(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()
	c := newTestClient(t, hub, "user", Config{})
	c.ready()

	c.disp.SetVolume(150)
	assert.Equal(t, 100, c.surface.GetVolume(), "volume clamps to 100")
	c.disp.SetVolume(35)
	c.disp.Mute()

	st := c.store.GetState()
	assert.Equal(t, 35, st.Player.Volume)
	assert.True(t, st.Player.IsMuted)

	// a fresh dispatcher over the same settings restores the preferences
	fresh := newTestClient(t, hub, "user-2", Config{})
	fresh.disp.settings = c.settings
	fresh.disp.LoadPreferences(ctx)

	got := fresh.store.GetState()
	assert.Equal(t, 35, got.Player.Volume)
	assert.True(t, got.Player.IsMuted)
	assert.Equal(t, 35, fresh.surface.GetVolume())
	assert.True(t, fresh.surface.IsMuted())

	c.disp.ToggleMute()
	assert.False(t, c.store.GetState().Player.IsMuted)
}

func TestLiveQueriesFallBackToStoredState(t *testing.T) {
	hub := inmemory.NewHub()
	c := newTestClient(t, hub, "user", Config{LiveQueryTimeout: 10 * time.Millisecond})
	c.ready()

	st := c.store.GetState()
	st.Player.CurrentTime = 33
	st.Player.Duration = 200
	c.store.UpdateState(state.Partial{Player: &st.Player})

	blocked := &blockingSurface{}
	c.disp.surface = blocked

	ctx := context.Background()
	assert.Equal(t, 33.0, c.disp.LiveCurrentTime(ctx))
	assert.Equal(t, 200.0, c.disp.LiveDuration(ctx))
}

// blockingSurface never answers live queries.
type blockingSurface struct {
	SimulatedSurface
}

func (b *blockingSurface) GetCurrentTime(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (b *blockingSurface) GetDuration(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
