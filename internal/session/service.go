// Package session tracks membership and DJ role arbitration, and answers
// the join-time state reconciliation round.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/router"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/pkg/scheduler"
)

const (
	// stateMergeWindow keeps merging STATE_RESPONSE snapshots for a short
	// period after a request; multiple members may reply and last applied
	// wins, which is acceptable since converged members answer with
	// near-identical snapshots.
	stateMergeWindow   = 5 * time.Second
	stateWindowTaskKey = "session:state-window"
)

// Identity supplies the local user's identity and privilege, abstracting the
// host environment's user model.
type Identity interface {
	UserID() string
	UserName() string
	IsGM() bool
}

// StaticIdentity is a fixed Identity, useful for wiring and tests.
type StaticIdentity struct {
	ID   string
	Name string
	GM   bool
}

func (i StaticIdentity) UserID() string   { return i.ID }
func (i StaticIdentity) UserName() string { return i.Name }
func (i StaticIdentity) IsGM() bool       { return i.GM }

type Service struct {
	store    *state.Store
	router   *router.Router
	sched    *scheduler.Scheduler
	identity Identity
	logger   *slog.Logger

	mu            sync.Mutex
	awaitingState bool

	now func() time.Time
}

func NewService(store *state.Store, rtr *router.Router, sched *scheduler.Scheduler, identity Identity, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		router:   rtr,
		sched:    sched,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Register installs the membership, state reconciliation and DJ arbitration
// handlers.
func (s *Service) Register() {
	s.router.Handle(domain.MessageTypeUserJoin, s.handleUserJoin)
	s.router.Handle(domain.MessageTypeUserLeave, s.handleUserLeave)
	s.router.Handle(domain.MessageTypeMemberCleanup, s.handleMemberCleanup)
	s.router.Handle(domain.MessageTypeStateRequest, s.handleStateRequest)
	s.router.Handle(domain.MessageTypeStateResponse, s.handleStateResponse)

	s.router.Handle(domain.MessageTypeDJClaim, s.handleDJClaim)
	s.router.Handle(domain.MessageTypeDJRelease, s.handleDJRelease)
	s.router.Handle(domain.MessageTypeDJRequest, s.handleDJRequest)
	s.router.Handle(domain.MessageTypeDJApprove, s.handleDJApprove)
	s.router.Handle(domain.MessageTypeDJDeny, s.handleDJDeny)
	s.router.Handle(domain.MessageTypeDJHandoff, s.handleDJHandoff)
	s.router.Handle(domain.MessageTypeGMOverride, s.handleGMOverride)
}

// JoinSession announces the local user and requests a state snapshot from
// established members.
func (s *Service) JoinSession(ctx context.Context) error {
	st := s.store.GetState()
	st.Session.HasJoinedSession = true
	st.Session.IsConnected = true
	st.Session.ConnectionStatus = domain.ConnectionStatusConnected
	s.upsertMember(&st.Session, s.identity.UserID(), s.identity.UserName())
	s.store.UpdateState(state.Partial{Session: &st.Session})

	if err := s.router.Send(ctx, domain.MessageTypeUserJoin, &domain.UserJoinPayload{
		UserName: s.identity.UserName(),
	}); err != nil {
		return err
	}

	return s.RequestState(ctx)
}

// LeaveSession announces departure and resets membership state.
func (s *Service) LeaveSession(ctx context.Context) error {
	if err := s.router.Send(ctx, domain.MessageTypeUserLeave, &domain.UserLeavePayload{
		UserName: s.identity.UserName(),
	}); err != nil {
		s.logger.InfoContext(ctx, "failed to send user leave", "error", err)
	}

	st := s.store.GetState()
	if st.Session.DJUserID == s.identity.UserID() {
		s.applyDJ(&st.Session, "")
	}
	st.Session.HasJoinedSession = false
	st.Session.Members = nil
	st.Session.ActiveRequests = nil
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return nil
}

// RequestState broadcasts a STATE_REQUEST and opens the merge window for
// responses.
func (s *Service) RequestState(ctx context.Context) error {
	s.mu.Lock()
	s.awaitingState = true
	s.mu.Unlock()

	s.sched.Schedule(stateWindowTaskKey, stateMergeWindow, func() {
		s.mu.Lock()
		s.awaitingState = false
		s.mu.Unlock()
	})

	return s.router.Send(ctx, domain.MessageTypeStateRequest, nil)
}

// SetConnected reflects transport liveness into session state.
func (s *Service) SetConnected(connected bool) {
	st := s.store.GetState()
	st.Session.IsConnected = connected
	if connected {
		st.Session.ConnectionStatus = domain.ConnectionStatusConnected
	} else {
		st.Session.ConnectionStatus = domain.ConnectionStatusDisconnected
	}
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleUserJoin(ctx context.Context, msg *domain.Message) {
	var payload domain.UserJoinPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed user join payload", "error", err)
		return
	}

	st := s.store.GetState()
	s.upsertMember(&st.Session, msg.UserID, payload.UserName)
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleUserLeave(ctx context.Context, msg *domain.Message) {
	st := s.store.GetState()
	s.removeMember(&st.Session, msg.UserID)
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleMemberCleanup(ctx context.Context, msg *domain.Message) {
	var payload domain.MemberCleanupPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed member cleanup payload", "error", err)
		return
	}

	st := s.store.GetState()
	for _, userID := range payload.UserIDs {
		// the local user is never cleaned up by a remote decision
		if userID == s.identity.UserID() {
			continue
		}
		s.removeMember(&st.Session, userID)
	}
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

// handleStateRequest answers with the full local snapshot. Any established
// member replies, not only the DJ.
func (s *Service) handleStateRequest(ctx context.Context, msg *domain.Message) {
	st := s.store.GetState()
	if !st.Session.HasJoinedSession {
		return
	}

	snapshot := domain.StateSnapshotPayload{
		DJUserID:       st.Session.DJUserID,
		Members:        st.Session.Members,
		ActiveRequests: st.Session.ActiveRequests,
		Queue: domain.QueueSnapshotPayload{
			Items:        st.Queue.Items,
			CurrentIndex: st.Queue.CurrentIndex,
			LoopEnabled:  st.Queue.LoopEnabled,
		},
		Player: domain.PlayerSnapshot{
			CurrentVideo:  st.Player.CurrentVideo,
			PlaybackState: st.Player.PlaybackState,
			CurrentTime:   st.Player.CurrentTime,
			Duration:      st.Player.Duration,
		},
	}

	if err := s.router.Send(ctx, domain.MessageTypeStateResponse, &snapshot); err != nil {
		s.logger.InfoContext(ctx, "failed to send state response", "error", err)
	}
}

func (s *Service) handleStateResponse(ctx context.Context, msg *domain.Message) {
	s.mu.Lock()
	awaiting := s.awaitingState
	s.mu.Unlock()
	if !awaiting {
		return
	}

	var snapshot domain.StateSnapshotPayload
	if err := msg.DecodeData(&snapshot); err != nil {
		s.logger.Debug("discarding malformed state response payload", "error", err)
		return
	}

	st := s.store.GetState()

	st.Session.DJUserID = snapshot.DJUserID
	st.Session.ActiveRequests = append([]domain.RoleRequest(nil), snapshot.ActiveRequests...)
	st.Session.Members = append([]domain.Member(nil), snapshot.Members...)
	s.upsertMember(&st.Session, s.identity.UserID(), s.identity.UserName())
	for i := range st.Session.Members {
		st.Session.Members[i].IsDJ = st.Session.Members[i].UserID == snapshot.DJUserID
	}

	st.Queue.Items = append([]domain.VideoItem(nil), snapshot.Queue.Items...)
	st.Queue.CurrentIndex = snapshot.Queue.CurrentIndex
	st.Queue.LoopEnabled = snapshot.Queue.LoopEnabled

	st.Player.LastHeartbeat = &domain.HeartbeatData{
		CurrentTime:   snapshot.Player.CurrentTime,
		Duration:      snapshot.Player.Duration,
		IsPlaying:     snapshot.Player.PlaybackState == domain.PlaybackStatusPlaying,
		Timestamp:     msg.Timestamp,
		ServerTime:    msg.Timestamp,
		PlaylistIndex: -1,
	}
	if snapshot.Player.CurrentVideo != nil {
		st.Player.LastHeartbeat.VideoID = snapshot.Player.CurrentVideo.VideoID
	}

	s.store.UpdateState(state.Partial{
		Session: &st.Session,
		Queue:   &st.Queue,
		Player:  &st.Player,
	})
}

func (s *Service) upsertMember(session *domain.SessionState, userID string, name string) {
	for i := range session.Members {
		if session.Members[i].UserID == userID {
			if name != "" {
				session.Members[i].Name = name
			}
			session.Members[i].IsActive = true
			session.Members[i].LastActivity = s.now()
			return
		}
	}

	session.Members = append(session.Members, domain.Member{
		UserID:       userID,
		Name:         name,
		IsDJ:         session.DJUserID == userID,
		IsActive:     true,
		LastActivity: s.now(),
	})
}

func (s *Service) removeMember(session *domain.SessionState, userID string) {
	for i := range session.Members {
		if session.Members[i].UserID == userID {
			session.Members = append(session.Members[:i], session.Members[i+1:]...)
			break
		}
	}

	if session.DJUserID == userID {
		s.applyDJ(session, "")
	}

	s.removeRequest(session, userID)
}
