// Package heartbeat implements the periodic authoritative playback
// broadcast from the DJ, the listener-side drift correction against it, and
// heartbeat-response liveness tracking with DJ failover.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/playback"
	"github.com/tunesync/client/internal/router"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/pkg/scheduler"
)

const (
	tickTaskKey       = "heartbeat:tick"
	responsesTaskKey  = "heartbeat:responses"
	respondTaskKey    = "heartbeat:respond"
	djLivenessTaskKey = "heartbeat:dj-liveness"
)

var (
	ErrBuildInProgress = errors.New("heartbeat build already in progress")
	ErrNoCurrentVideo  = errors.New("no current video to heartbeat")
)

type Config struct {
	// Frequency of the DJ's heartbeat broadcast.
	Frequency time.Duration
	// StaleThreshold discards heartbeats older than this; stale data must
	// not trigger corrective action. Empirically tuned in production, kept
	// as configuration.
	StaleThreshold time.Duration
	// SeekThrottle bounds corrective seeks to one per window to avoid
	// oscillation between correction and the player's own callbacks.
	SeekThrottle time.Duration
	// ResponseWindow is the DJ-side collection window; it restarts on each
	// incoming response and liveness is derived when it expires.
	ResponseWindow time.Duration
	// ResponseSettleDelay is waited before acknowledging a heartbeat, so
	// the local correction settles first.
	ResponseSettleDelay time.Duration
	// InactiveAfterMisses marks a member inactive after this many missed
	// response windows; RemoveAfterMisses removes it and broadcasts a
	// MEMBER_CLEANUP.
	InactiveAfterMisses int
	RemoveAfterMisses   int
	// DJFailoverMisses demotes the DJ locally after this many missed
	// heartbeats while it was last known playing.
	DJFailoverMisses int
}

func (c *Config) applyDefaults() {
	if c.Frequency == 0 {
		c.Frequency = 2 * time.Second
	}
	if c.StaleThreshold == 0 {
		c.StaleThreshold = 5 * time.Second
	}
	if c.SeekThrottle == 0 {
		c.SeekThrottle = time.Second
	}
	if c.ResponseWindow == 0 {
		c.ResponseWindow = time.Second
	}
	if c.ResponseSettleDelay == 0 {
		c.ResponseSettleDelay = 300 * time.Millisecond
	}
	if c.InactiveAfterMisses == 0 {
		c.InactiveAfterMisses = 3
	}
	if c.RemoveAfterMisses == 0 {
		c.RemoveAfterMisses = 5
	}
	if c.DJFailoverMisses == 0 {
		c.DJFailoverMisses = 3
	}
}

type Service struct {
	store      *state.Store
	router     *router.Router
	dispatcher *playback.Dispatcher
	sched      *scheduler.Scheduler
	logger     *slog.Logger
	cfg        Config

	building atomic.Bool

	mu         sync.Mutex
	responders map[string]struct{}
	lastSeekAt time.Time
	djMissed   int

	unsubscribe func()

	now func() time.Time
}

func NewService(store *state.Store, rtr *router.Router, dispatcher *playback.Dispatcher, sched *scheduler.Scheduler, cfg Config, logger *slog.Logger) *Service {
	cfg.applyDefaults()

	return &Service{
		store:      store,
		router:     rtr,
		dispatcher: dispatcher,
		sched:      sched,
		logger:     logger,
		cfg:        cfg,
		responders: make(map[string]struct{}),
		now:        time.Now,
	}
}

// Start registers handlers and begins the broadcast ticker. The ticker runs
// on every client; only the DJ acts on it.
func (s *Service) Start() {
	s.router.Handle(domain.MessageTypeHeartbeat, s.handleHeartbeat)
	s.router.Handle(domain.MessageTypeHeartbeatAck, s.handleHeartbeatAck)

	s.unsubscribe = s.store.Subscribe(s.onStateChange)

	s.sched.Every(tickTaskKey, s.cfg.Frequency, s.tick)
}

func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.sched.Cancel(tickTaskKey)
	s.sched.Cancel(responsesTaskKey)
	s.sched.Cancel(respondTaskKey)
	s.sched.Cancel(djLivenessTaskKey)
}

// onStateChange clears role-bound timers when playback authority moves, so
// no orphaned callback acts under a role the client no longer holds.
func (s *Service) onStateChange(update state.Update) {
	if !update.Changes.Session {
		return
	}

	local := s.store.LocalUserID()
	wasDJ := update.Previous.Session.DJUserID == local
	isDJ := update.Current.Session.DJUserID == local

	if wasDJ && !isDJ {
		s.sched.Cancel(responsesTaskKey)
		s.mu.Lock()
		s.responders = make(map[string]struct{})
		s.mu.Unlock()
	}
	if isDJ && !wasDJ {
		s.sched.Cancel(respondTaskKey)
		s.sched.Cancel(djLivenessTaskKey)
		s.mu.Lock()
		s.djMissed = 0
		s.mu.Unlock()
	}

	// a remote DJ learned from a state snapshot may already be gone; watch
	// its liveness without waiting for a first heartbeat
	current := update.Current.Session.DJUserID
	if current != "" && current != local && current != update.Previous.Session.DJUserID {
		s.mu.Lock()
		s.djMissed = 0
		s.mu.Unlock()
		s.sched.Schedule(djLivenessTaskKey, s.cfg.Frequency+s.cfg.Frequency/2, s.djLivenessTick)
	}
}

// tick broadcasts an authoritative heartbeat while the local user is the
// playing DJ.
func (s *Service) tick() {
	if !s.store.IsDJ() {
		return
	}

	st := s.store.GetState()
	if !st.Player.IsPlaying() {
		return
	}

	ctx := context.Background()
	hb, err := s.buildHeartbeat(ctx)
	if err != nil {
		if !errors.Is(err, ErrBuildInProgress) {
			s.logger.Debug("skipping heartbeat cycle", "error", err)
		}
		return
	}

	if err := s.router.Send(ctx, domain.MessageTypeHeartbeat, &hb); err != nil {
		s.logger.InfoContext(ctx, "failed to send heartbeat", "error", err)
		return
	}

	st = s.store.GetState()
	st.Player.LastHeartbeat = &hb
	st.Player.CurrentTime = hb.CurrentTime
	st.Player.Duration = hb.Duration
	s.store.UpdateState(state.Partial{Player: &st.Player})
}

// buildHeartbeat queries the player's live position with a bounded wait so
// the cadence is never blocked on the surface answering; the stored time is
// the fallback. Overlapping builds fail fast and the caller skips the cycle.
func (s *Service) buildHeartbeat(ctx context.Context) (domain.HeartbeatData, error) {
	if !s.building.CompareAndSwap(false, true) {
		return domain.HeartbeatData{}, ErrBuildInProgress
	}
	defer s.building.Store(false)

	st := s.store.GetState()
	if st.Player.CurrentVideo == nil {
		return domain.HeartbeatData{}, ErrNoCurrentVideo
	}

	now := s.now().UnixMilli()
	hb := domain.HeartbeatData{
		VideoID:       st.Player.CurrentVideo.VideoID,
		CurrentTime:   s.dispatcher.LiveCurrentTime(ctx),
		Duration:      s.dispatcher.LiveDuration(ctx),
		IsPlaying:     st.Player.IsPlaying(),
		Timestamp:     now,
		ServerTime:    now,
		PlaylistIndex: -1,
	}

	if st.Player.CurrentVideo.IsPlaylist {
		hb.PlaylistID = st.Player.CurrentVideo.PlaylistID
		if index, err := s.dispatcher.LivePlaylistIndex(ctx); err == nil {
			hb.PlaylistIndex = index
		}
	}

	return hb, nil
}

func (s *Service) handleHeartbeat(ctx context.Context, msg *domain.Message) {
	// the DJ never syncs to its own heartbeat; self-origin is already
	// suppressed by the router, so anything here is a remote authority
	if s.store.IsDJ() {
		return
	}

	var hb domain.HeartbeatData
	if err := msg.DecodeData(&hb); err != nil {
		s.logger.Debug("discarding malformed heartbeat payload", "error", err)
		return
	}

	// stale heartbeats must not trigger corrective action
	if s.now().UnixMilli()-hb.Timestamp > s.cfg.StaleThreshold.Milliseconds() {
		return
	}

	s.mu.Lock()
	s.djMissed = 0
	s.mu.Unlock()
	s.sched.Schedule(djLivenessTaskKey, s.cfg.Frequency+s.cfg.Frequency/2, s.djLivenessTick)

	s.reconcile(ctx, &hb)

	st := s.store.GetState()
	st.Player.LastHeartbeat = &hb
	st.Player.CurrentTime = hb.CurrentTime
	st.Player.Duration = hb.Duration
	s.store.UpdateState(state.Partial{Player: &st.Player})

	djUserID := msg.UserID
	s.sched.Schedule(respondTaskKey, s.cfg.ResponseSettleDelay, func() {
		if err := s.router.Send(context.Background(), domain.MessageTypeHeartbeatAck, &domain.HeartbeatAckPayload{
			DJUserID: djUserID,
		}); err != nil {
			s.logger.Info("failed to send heartbeat response", "error", err)
		}
	})
}

// reconcile applies the listener correction algorithm against a fresh
// heartbeat.
func (s *Service) reconcile(ctx context.Context, hb *domain.HeartbeatData) {
	st := s.store.GetState()
	local := st.Player

	// a video switch supersedes drift and play-state correction
	if local.CurrentVideo == nil || local.CurrentVideo.VideoID != hb.VideoID {
		s.dispatcher.ApplyLoad(hb.VideoID, "", hb.CurrentTime, hb.IsPlaying)
		return
	}

	if hb.PlaylistID != "" {
		// skip position work unless the playlist is confirmed loaded and
		// the local index is knowable
		if !s.dispatcher.PlaylistLoaded(ctx) {
			return
		}
		index, err := s.dispatcher.LivePlaylistIndex(ctx)
		if err != nil {
			return
		}
		if hb.PlaylistIndex >= 0 && index != hb.PlaylistIndex {
			s.dispatcher.ApplyPlayVideoAt(hb.PlaylistIndex)
			if hb.CurrentTime > 0 {
				s.dispatcher.ApplySeek(hb.CurrentTime)
			}
			return
		}
	}

	localTime := s.dispatcher.LiveCurrentTime(ctx)
	drift := math.Abs(localTime - hb.CurrentTime)
	if drift > local.DriftTolerance && local.IsPlaying() == hb.IsPlaying {
		s.mu.Lock()
		throttled := s.now().Sub(s.lastSeekAt) < s.cfg.SeekThrottle
		if !throttled {
			s.lastSeekAt = s.now()
		}
		s.mu.Unlock()

		if !throttled {
			s.dispatcher.ApplySeek(hb.CurrentTime)
		}
	}

	if local.IsPlaying() != hb.IsPlaying {
		if hb.IsPlaying {
			s.dispatcher.ApplyPlay()
		} else {
			s.dispatcher.ApplyPause()
		}
	}
}

// handleHeartbeatAck collects listener responses on the DJ side. The
// collection window restarts on every response; liveness is derived only
// when it expires, because responses arrive at unpredictable times from an
// unbounded set of listeners.
func (s *Service) handleHeartbeatAck(ctx context.Context, msg *domain.Message) {
	if !s.store.IsDJ() {
		return
	}

	var payload domain.HeartbeatAckPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed heartbeat response payload", "error", err)
		return
	}

	// responses addressed to a previous DJ are not ours to count
	if payload.DJUserID != s.store.LocalUserID() {
		return
	}

	s.mu.Lock()
	s.responders[msg.UserID] = struct{}{}
	s.mu.Unlock()

	s.sched.Schedule(responsesTaskKey, s.cfg.ResponseWindow, s.finishResponseWindow)
}

// finishResponseWindow treats the responders of the expired window plus the
// DJ itself as currently active and advances everyone else's missed count.
func (s *Service) finishResponseWindow() {
	if !s.store.IsDJ() {
		return
	}

	s.mu.Lock()
	active := s.responders
	s.responders = make(map[string]struct{})
	s.mu.Unlock()

	active[s.store.LocalUserID()] = struct{}{}

	st := s.store.GetState()
	removed := make(map[string]struct{})
	members := st.Session.Members[:0]
	for _, member := range st.Session.Members {
		if _, ok := active[member.UserID]; ok {
			member.IsActive = true
			member.MissedHeartbeats = 0
			member.LastActivity = s.now()
		} else {
			member.MissedHeartbeats++
			if member.MissedHeartbeats >= s.cfg.InactiveAfterMisses {
				member.IsActive = false
			}
			if member.MissedHeartbeats >= s.cfg.RemoveAfterMisses {
				removed[member.UserID] = struct{}{}
				continue
			}
		}
		members = append(members, member)
	}
	st.Session.Members = members
	s.store.UpdateState(state.Partial{Session: &st.Session})

	if len(removed) > 0 {
		userIDs := maps.Keys(removed)
		s.logger.Info("removing unresponsive members", "user_ids", userIDs)
		if err := s.router.Send(context.Background(), domain.MessageTypeMemberCleanup, &domain.MemberCleanupPayload{
			UserIDs: userIDs,
		}); err != nil {
			s.logger.Info("failed to send member cleanup", "error", err)
		}
	}
}

// djLivenessTick counts heartbeats the DJ failed to deliver while it was
// last known playing; past the limit the DJ is demoted locally, leaving the
// seat open for a new claim.
func (s *Service) djLivenessTick() {
	st := s.store.GetState()
	if st.Session.DJUserID == "" || st.Session.DJUserID == s.store.LocalUserID() {
		return
	}

	// a paused DJ legitimately stops heartbeating
	if st.Player.LastHeartbeat == nil || !st.Player.LastHeartbeat.IsPlaying {
		s.sched.Schedule(djLivenessTaskKey, s.cfg.Frequency, s.djLivenessTick)
		return
	}

	s.mu.Lock()
	s.djMissed++
	missed := s.djMissed
	s.mu.Unlock()

	for i := range st.Session.Members {
		if st.Session.Members[i].UserID == st.Session.DJUserID {
			st.Session.Members[i].MissedHeartbeats = missed
		}
	}

	if missed >= s.cfg.DJFailoverMisses {
		s.logger.Info("dj missed heartbeats, demoting locally", "dj_user_id", st.Session.DJUserID, "missed", missed)
		st.Session.DJUserID = ""
		for i := range st.Session.Members {
			st.Session.Members[i].IsDJ = false
		}
		s.mu.Lock()
		s.djMissed = 0
		s.mu.Unlock()
	} else {
		s.sched.Schedule(djLivenessTaskKey, s.cfg.Frequency, s.djLivenessTick)
	}

	s.store.UpdateState(state.Partial{Session: &st.Session})
}
