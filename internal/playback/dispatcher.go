// Package playback translates protocol commands into player-surface calls
// and local DJ actions into broadcasts. Commands issued before the player is
// ready are queued and flushed on the ready signal.
package playback

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/router"
	"github.com/tunesync/client/internal/settings"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/pkg/scheduler"
)

const (
	autoSkipTaskKey = "playback:auto-skip"

	defaultLoadDedupWindow  = 3 * time.Second
	defaultAutoSkipDelay    = 3 * time.Second
	defaultLiveQueryTimeout = 250 * time.Millisecond
)

type Config struct {
	// LoadDedupWindow collapses repeated identical load commands queued
	// while the player is not ready.
	LoadDedupWindow time.Duration
	// AutoSkipDelay is waited before skipping past a failed playlist item.
	AutoSkipDelay time.Duration
	// LiveQueryTimeout bounds waits on the player's async queries.
	LiveQueryTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.LoadDedupWindow == 0 {
		c.LoadDedupWindow = defaultLoadDedupWindow
	}
	if c.AutoSkipDelay == 0 {
		c.AutoSkipDelay = defaultAutoSkipDelay
	}
	if c.LiveQueryTimeout == 0 {
		c.LiveQueryTimeout = defaultLiveQueryTimeout
	}
}

type pendingCommand struct {
	kind     string
	videoID  string
	issuedAt time.Time
	run      func()
}

type Dispatcher struct {
	store    *state.Store
	router   *router.Router
	surface  Surface
	settings settings.Store
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	pending []pendingCommand

	autoSkip func()
	notify   func(message string)

	now func() time.Time
}

func NewDispatcher(store *state.Store, rtr *router.Router, surface Surface, settingsStore settings.Store, sched *scheduler.Scheduler, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg.applyDefaults()

	d := Dispatcher{
		store:    store,
		router:   rtr,
		surface:  surface,
		settings: settingsStore,
		sched:    sched,
		logger:   logger,
		cfg:      cfg,
		autoSkip: func() {},
		now:      time.Now,
	}
	d.notify = func(message string) {
		logger.Info("player notification", "message", message)
	}

	return &d
}

// SetAutoSkip wires the skip-to-next signal emitted on fatal player errors
// for playlist items and on natural end of the current item.
func (d *Dispatcher) SetAutoSkip(fn func()) {
	if fn != nil {
		d.autoSkip = fn
	}
}

// SetNotify wires user-facing notifications for player-surface errors.
func (d *Dispatcher) SetNotify(fn func(message string)) {
	if fn != nil {
		d.notify = fn
	}
}

// Register installs the inbound playback command handlers. Non-DJ clients
// apply inbound commands; the DJ is the source of them and ignores echoes
// relayed back through other members.
func (d *Dispatcher) Register() {
	d.router.Handle(domain.MessageTypePlay, func(ctx context.Context, msg *domain.Message) {
		if d.store.IsDJ() {
			return
		}
		d.ApplyPlay()
	})
	d.router.Handle(domain.MessageTypePause, func(ctx context.Context, msg *domain.Message) {
		if d.store.IsDJ() {
			return
		}
		d.ApplyPause()
	})
	d.router.Handle(domain.MessageTypeSeek, func(ctx context.Context, msg *domain.Message) {
		if d.store.IsDJ() {
			return
		}

		var payload domain.SeekPayload
		if err := msg.DecodeData(&payload); err != nil {
			d.logger.Debug("discarding malformed seek payload", "error", err)
			return
		}
		d.ApplySeek(payload.Time)
	})
	d.router.Handle(domain.MessageTypeLoad, func(ctx context.Context, msg *domain.Message) {
		if d.store.IsDJ() {
			return
		}

		var payload domain.LoadPayload
		if err := msg.DecodeData(&payload); err != nil {
			d.logger.Debug("discarding malformed load payload", "error", err)
			return
		}
		d.ApplyLoad(payload.VideoID, payload.Title, payload.StartTime, payload.AutoPlay)
	})
}

// Play is the DJ-side play command: local player call plus broadcast.
func (d *Dispatcher) Play(ctx context.Context) error {
	if !d.store.IsDJ() {
		return domain.ErrNotDJ
	}

	d.ApplyPlay()

	return d.router.Send(ctx, domain.MessageTypePlay, nil)
}

func (d *Dispatcher) Pause(ctx context.Context) error {
	if !d.store.IsDJ() {
		return domain.ErrNotDJ
	}

	d.ApplyPause()

	return d.router.Send(ctx, domain.MessageTypePause, nil)
}

func (d *Dispatcher) SeekTo(ctx context.Context, seconds float64) error {
	if !d.store.IsDJ() {
		return domain.ErrNotDJ
	}

	d.ApplySeek(seconds)

	return d.router.Send(ctx, domain.MessageTypeSeek, &domain.SeekPayload{Time: seconds})
}

func (d *Dispatcher) LoadVideo(ctx context.Context, videoID string, title string, startTime float64, autoPlay bool) error {
	if !d.store.IsDJ() {
		return domain.ErrNotDJ
	}

	d.ApplyLoad(videoID, title, startTime, autoPlay)

	return d.router.Send(ctx, domain.MessageTypeLoad, &domain.LoadPayload{
		VideoID:   videoID,
		Title:     title,
		StartTime: startTime,
		AutoPlay:  autoPlay,
	})
}

// ApplyPlay issues a local play without broadcasting.
func (d *Dispatcher) ApplyPlay() {
	d.enqueueOrRun("play", "", func() {
		d.surface.PlayVideo()
		d.setPlaybackState(domain.PlaybackStatusPlaying)
	})
}

func (d *Dispatcher) ApplyPause() {
	d.enqueueOrRun("pause", "", func() {
		d.surface.PauseVideo()
		d.setPlaybackState(domain.PlaybackStatusPaused)
	})
}

func (d *Dispatcher) ApplySeek(seconds float64) {
	d.enqueueOrRun("seek", "", func() {
		d.surface.SeekTo(seconds, true)

		st := d.store.GetState()
		st.Player.CurrentTime = seconds
		d.store.UpdateState(state.Partial{Player: &st.Player})
	})
}

func (d *Dispatcher) ApplyLoad(videoID string, title string, startTime float64, autoPlay bool) {
	d.enqueueOrRun("load", videoID, func() {
		st := d.store.GetState()
		autoplay := autoPlay && st.Player.AutoplayConsent

		if domain.IsPlaylistVideoID(videoID) {
			req := PlaylistRequest{
				List:         videoID[len(domain.PlaylistVideoIDPrefix):],
				ListType:     "playlist",
				StartSeconds: startTime,
			}
			if autoplay {
				d.surface.LoadPlaylist(req)
			} else {
				d.surface.CuePlaylist(req)
			}
		} else if autoplay {
			d.surface.LoadVideoByID(videoID, startTime)
		} else {
			d.surface.CueVideoByID(videoID, startTime)
		}

		st.Player.CurrentVideo = &domain.VideoInfo{
			VideoID:    videoID,
			Title:      title,
			IsPlaylist: domain.IsPlaylistVideoID(videoID),
		}
		if st.Player.CurrentVideo.IsPlaylist {
			st.Player.CurrentVideo.PlaylistID = videoID[len(domain.PlaylistVideoIDPrefix):]
		}
		st.Player.PlaybackState = domain.PlaybackStatusLoading
		st.Player.CurrentTime = startTime
		d.store.UpdateState(state.Partial{Player: &st.Player})
	})
}

// ApplyPlayVideoAt jumps to an index within the loaded playlist.
func (d *Dispatcher) ApplyPlayVideoAt(index int) {
	d.enqueueOrRun("play-video-at", "", func() {
		d.surface.PlayVideoAt(index)
	})
}

// LiveCurrentTime queries the player's live position with a bounded wait,
// falling back to the last stored time so callers are never blocked on the
// surface answering.
func (d *Dispatcher) LiveCurrentTime(ctx context.Context) float64 {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LiveQueryTimeout)
	defer cancel()

	seconds, err := d.surface.GetCurrentTime(ctx)
	if err != nil {
		return d.store.GetState().Player.CurrentTime
	}

	return seconds
}

func (d *Dispatcher) LiveDuration(ctx context.Context) float64 {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LiveQueryTimeout)
	defer cancel()

	seconds, err := d.surface.GetDuration(ctx)
	if err != nil {
		return d.store.GetState().Player.Duration
	}

	return seconds
}

// PlaylistLoaded reports whether the surface confirms playlist contents.
func (d *Dispatcher) PlaylistLoaded(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LiveQueryTimeout)
	defer cancel()

	list, err := d.surface.GetPlaylist(ctx)

	return err == nil && len(list) > 0
}

// LivePlaylistIndex returns the local playlist index, or an error when it is
// not knowable.
func (d *Dispatcher) LivePlaylistIndex(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LiveQueryTimeout)
	defer cancel()

	return d.surface.GetPlaylistIndex(ctx)
}

func (d *Dispatcher) Mute() {
	d.surface.Mute()
	d.setMuted(true)
}

func (d *Dispatcher) Unmute() {
	d.surface.UnMute()
	d.setMuted(false)
}

func (d *Dispatcher) ToggleMute() {
	if d.store.GetState().Player.IsMuted {
		d.Unmute()
	} else {
		d.Mute()
	}
}

func (d *Dispatcher) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}

	d.surface.SetVolume(volume)

	st := d.store.GetState()
	st.Player.Volume = volume
	d.store.UpdateState(state.Partial{Player: &st.Player})

	if err := d.settings.Set(context.Background(), settings.KeyVolume, strconv.Itoa(volume)); err != nil {
		d.logger.Info("failed to persist volume", "error", err)
	}
}

// LoadPreferences restores persisted volume/mute prefs into the player.
func (d *Dispatcher) LoadPreferences(ctx context.Context) {
	st := d.store.GetState()

	if raw, err := d.settings.Get(ctx, settings.KeyVolume); err == nil {
		if volume, err := strconv.Atoi(raw); err == nil {
			st.Player.Volume = volume
			d.surface.SetVolume(volume)
		}
	}

	if raw, err := d.settings.Get(ctx, settings.KeyMuted); err == nil {
		muted := raw == "1"
		st.Player.IsMuted = muted
		if muted {
			d.surface.Mute()
		} else {
			d.surface.UnMute()
		}
	}

	d.store.UpdateState(state.Partial{Player: &st.Player})
}

// OnPlayerReady is the surface's ready callback; it flushes the pending
// command queue in order.
func (d *Dispatcher) OnPlayerReady() {
	st := d.store.GetState()
	st.Player.IsReady = true
	st.Player.IsInitializing = false
	d.store.UpdateState(state.Partial{Player: &st.Player})

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, cmd := range pending {
		cmd.run()
	}
}

// OnPlayerStateChange is the surface's state-change callback.
func (d *Dispatcher) OnPlayerStateChange(surfaceState SurfaceState) {
	switch surfaceState {
	case SurfaceStatePlaying:
		d.setPlaybackState(domain.PlaybackStatusPlaying)
	case SurfaceStatePaused:
		d.setPlaybackState(domain.PlaybackStatusPaused)
	case SurfaceStateBuffering, SurfaceStateCued:
		d.setPlaybackState(domain.PlaybackStatusLoading)
	case SurfaceStateUnstarted:
		d.setPlaybackState(domain.PlaybackStatusStopped)
	case SurfaceStateEnded:
		d.setPlaybackState(domain.PlaybackStatusStopped)
		// the DJ advances the queue on natural end
		if d.store.IsDJ() && len(d.store.GetState().Queue.Items) > 1 {
			d.autoSkip()
		}
	}
}

// OnPlayerError is the surface's error callback. An embedding/not-found
// error on a playlist item triggers an automatic skip after a short delay if
// further items exist. An invalid-parameter error with a populated playlist
// is a known false positive and treated as non-fatal.
func (d *Dispatcher) OnPlayerError(code int) {
	st := d.store.GetState()
	current, hasCurrent := st.Queue.CurrentItem()

	switch code {
	case ErrCodeInvalidParam:
		if d.PlaylistLoaded(context.Background()) {
			d.logger.Debug("ignoring invalid-parameter error, playlist is populated")
			return
		}
		d.notify("the player rejected the requested video")
	case ErrCodeNotFound:
		d.notify("video not found")
		d.scheduleAutoSkip(hasCurrent && current.IsPlaylist, len(st.Queue.Items))
	case ErrCodeEmbedDisabled, ErrCodeEmbedDisabledAlt:
		d.notify("embedding is disabled for this video")
		d.scheduleAutoSkip(hasCurrent && current.IsPlaylist, len(st.Queue.Items))
	case ErrCodeHTML5:
		d.notify("playback failed in the embedded player")
	default:
		d.notify("unknown player error")
	}
}

func (d *Dispatcher) scheduleAutoSkip(isPlaylistItem bool, queueLen int) {
	if !isPlaylistItem || queueLen <= 1 {
		return
	}

	d.sched.Schedule(autoSkipTaskKey, d.cfg.AutoSkipDelay, d.autoSkip)
}

func (d *Dispatcher) setPlaybackState(status domain.PlaybackStatus) {
	st := d.store.GetState()
	st.Player.PlaybackState = status
	d.store.UpdateState(state.Partial{Player: &st.Player})
}

func (d *Dispatcher) setMuted(muted bool) {
	st := d.store.GetState()
	st.Player.IsMuted = muted
	d.store.UpdateState(state.Partial{Player: &st.Player})

	value := "0"
	if muted {
		value = "1"
	}
	if err := d.settings.Set(context.Background(), settings.KeyMuted, value); err != nil {
		d.logger.Info("failed to persist muted", "error", err)
	}
}

// enqueueOrRun executes the command if the player is ready, otherwise it is
// queued FIFO. Load commands for the same video inside the dedup window
// collapse into the already queued entry.
func (d *Dispatcher) enqueueOrRun(kind string, videoID string, run func()) {
	if d.store.GetState().Player.IsReady {
		run()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if kind == "load" {
		for i := range d.pending {
			if d.pending[i].kind == "load" && d.pending[i].videoID == videoID &&
				d.now().Sub(d.pending[i].issuedAt) < d.cfg.LoadDedupWindow {
				d.pending[i].run = run
				return
			}
		}
	}

	d.pending = append(d.pending, pendingCommand{
		kind:     kind,
		videoID:  videoID,
		issuedAt: d.now(),
		run:      run,
	})
}

// PendingCommands reports the size of the not-ready command queue.
func (d *Dispatcher) PendingCommands() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.pending)
}
