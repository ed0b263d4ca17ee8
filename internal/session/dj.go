package session

import (
	"context"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/state"
)

// ClaimDJRole takes playback authority when no DJ is assigned. Concurrent
// claims resolve last-message-wins per receiving client and converge on the
// next STATE_REQUEST/STATE_RESPONSE round.
func (s *Service) ClaimDJRole(ctx context.Context) error {
	st := s.store.GetState()
	if st.Session.DJUserID != "" && st.Session.DJUserID != s.identity.UserID() && !s.identity.IsGM() {
		return domain.ErrDJAlreadyAssigned
	}

	s.applyDJ(&st.Session, s.identity.UserID())
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return s.router.Send(ctx, domain.MessageTypeDJClaim, &domain.DJClaimPayload{
		UserName:   s.identity.UserName(),
		Privileged: s.identity.IsGM(),
	})
}

// ReleaseDJRole gives up playback authority; only the current DJ may do so.
func (s *Service) ReleaseDJRole(ctx context.Context) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	s.applyDJ(&st.Session, "")
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return s.router.Send(ctx, domain.MessageTypeDJRelease, nil)
}

// RequestDJRole asks the current DJ for a handoff.
func (s *Service) RequestDJRole(ctx context.Context) error {
	if s.store.IsDJ() {
		return domain.ErrDJAlreadyAssigned
	}

	st := s.store.GetState()
	s.appendRequest(&st.Session, domain.RoleRequest{
		UserID:   s.identity.UserID(),
		UserName: s.identity.UserName(),
	})
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return s.router.Send(ctx, domain.MessageTypeDJRequest, &domain.DJRequestPayload{
		UserName: s.identity.UserName(),
	})
}

// ApproveDJRequest grants a pending request; approval performs the handoff.
func (s *Service) ApproveDJRequest(ctx context.Context, userID string) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	s.removeRequest(&st.Session, userID)
	s.applyDJ(&st.Session, userID)
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return s.router.Send(ctx, domain.MessageTypeDJApprove, &domain.DJDecisionPayload{UserID: userID})
}

func (s *Service) DenyDJRequest(ctx context.Context, userID string) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	s.removeRequest(&st.Session, userID)
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return s.router.Send(ctx, domain.MessageTypeDJDeny, &domain.DJDecisionPayload{UserID: userID})
}

// HandoffDJRole transfers the role directly to a named member without a
// prior request.
func (s *Service) HandoffDJRole(ctx context.Context, targetUserID string) error {
	if !s.store.IsDJ() {
		return domain.ErrNotDJ
	}

	st := s.store.GetState()
	if _, ok := st.Session.MemberByID(targetUserID); !ok {
		return domain.ErrMemberNotFound
	}

	s.applyDJ(&st.Session, targetUserID)
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return s.router.Send(ctx, domain.MessageTypeDJHandoff, &domain.DJHandoffPayload{
		NewDJUserID: targetUserID,
	})
}

// GMOverrideDJRole force-claims the role, bypassing the request flow.
func (s *Service) GMOverrideDJRole(ctx context.Context) error {
	if !s.identity.IsGM() {
		return domain.ErrNotPrivileged
	}

	st := s.store.GetState()
	s.applyDJ(&st.Session, s.identity.UserID())
	st.Session.ActiveRequests = nil
	s.store.UpdateState(state.Partial{Session: &st.Session})

	return s.router.Send(ctx, domain.MessageTypeGMOverride, nil)
}

func (s *Service) handleDJClaim(ctx context.Context, msg *domain.Message) {
	var payload domain.DJClaimPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed dj claim payload", "error", err)
		return
	}

	st := s.store.GetState()
	if st.Session.DJUserID != "" && !payload.Privileged {
		// already claimed; per-client last-write-wins applies only to
		// claims raced against an empty seat
		return
	}

	if payload.UserName != "" {
		s.upsertMember(&st.Session, msg.UserID, payload.UserName)
	}

	s.applyDJ(&st.Session, msg.UserID)
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleDJRelease(ctx context.Context, msg *domain.Message) {
	st := s.store.GetState()
	if st.Session.DJUserID != msg.UserID {
		return
	}

	s.applyDJ(&st.Session, "")
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleDJRequest(ctx context.Context, msg *domain.Message) {
	var payload domain.DJRequestPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed dj request payload", "error", err)
		return
	}

	st := s.store.GetState()
	s.appendRequest(&st.Session, domain.RoleRequest{
		UserID:   msg.UserID,
		UserName: payload.UserName,
	})
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleDJApprove(ctx context.Context, msg *domain.Message) {
	var payload domain.DJDecisionPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed dj approve payload", "error", err)
		return
	}

	st := s.store.GetState()
	s.removeRequest(&st.Session, payload.UserID)
	if st.Session.DJUserID == msg.UserID {
		s.applyDJ(&st.Session, payload.UserID)
	}
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleDJDeny(ctx context.Context, msg *domain.Message) {
	var payload domain.DJDecisionPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed dj deny payload", "error", err)
		return
	}

	st := s.store.GetState()
	s.removeRequest(&st.Session, payload.UserID)
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleDJHandoff(ctx context.Context, msg *domain.Message) {
	var payload domain.DJHandoffPayload
	if err := msg.DecodeData(&payload); err != nil {
		s.logger.Debug("discarding malformed dj handoff payload", "error", err)
		return
	}

	st := s.store.GetState()
	if st.Session.DJUserID != msg.UserID {
		return
	}

	s.applyDJ(&st.Session, payload.NewDJUserID)
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

func (s *Service) handleGMOverride(ctx context.Context, msg *domain.Message) {
	st := s.store.GetState()
	s.applyDJ(&st.Session, msg.UserID)
	st.Session.ActiveRequests = nil
	s.store.UpdateState(state.Partial{Session: &st.Session})
}

// applyDJ sets the authoritative DJ and keeps the per-member IsDJ flags
// consistent with it, so at most one member ever carries the flag.
func (s *Service) applyDJ(session *domain.SessionState, djUserID string) {
	session.DJUserID = djUserID
	for i := range session.Members {
		session.Members[i].IsDJ = session.Members[i].UserID == djUserID
	}
}

// appendRequest is idempotent per requesting user.
func (s *Service) appendRequest(session *domain.SessionState, request domain.RoleRequest) {
	for _, r := range session.ActiveRequests {
		if r.UserID == request.UserID {
			return
		}
	}

	session.ActiveRequests = append(session.ActiveRequests, request)
}

func (s *Service) removeRequest(session *domain.SessionState, userID string) {
	for i := range session.ActiveRequests {
		if session.ActiveRequests[i].UserID == userID {
			session.ActiveRequests = append(session.ActiveRequests[:i], session.ActiveRequests[i+1:]...)
			return
		}
	}
}
