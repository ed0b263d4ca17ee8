package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/internal/transport/inmemory"
)

func makeMessage(t *testing.T, userID string, msgType domain.MessageType, payload any) *domain.Message {
	t.Helper()

	msg := &domain.Message{
		Type:      msgType,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Data = raw
	}

	return msg
}

func djCount(members []domain.Member) int {
	count := 0
	for _, m := range members {
		if m.IsDJ {
			count++
		}
	}

	return count
}

func TestClaimDJRole(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	first := newTestClient(t, hub, "user-1", "alice", false)
	second := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, first.service.JoinSession(ctx))
	require.NoError(t, second.service.JoinSession(ctx))

	require.NoError(t, first.service.ClaimDJRole(ctx))

	assert.True(t, first.store.IsDJ())
	assert.Equal(t, "user-1", second.store.GetState().Session.DJUserID)

	// at most one member carries the dj flag on every client
	assert.Equal(t, 1, djCount(first.store.GetState().Session.Members))
	assert.Equal(t, 1, djCount(second.store.GetState().Session.Members))
}

func TestClaimRejectedWhileSeatHeld(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	first := newTestClient(t, hub, "user-1", "alice", false)
	second := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, first.service.JoinSession(ctx))
	require.NoError(t, second.service.JoinSession(ctx))
	require.NoError(t, first.service.ClaimDJRole(ctx))

	err := second.service.ClaimDJRole(ctx)
	assert.ErrorIs(t, err, domain.ErrDJAlreadyAssigned)
	assert.Equal(t, "user-1", second.store.GetState().Session.DJUserID)
}

func TestGMOverrideTakesHeldSeat(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	dj := newTestClient(t, hub, "user-1", "alice", false)
	gm := newTestClient(t, hub, "user-2", "bob", true)
	require.NoError(t, dj.service.JoinSession(ctx))
	require.NoError(t, gm.service.JoinSession(ctx))
	require.NoError(t, dj.service.ClaimDJRole(ctx))

	require.NoError(t, gm.service.GMOverrideDJRole(ctx))

	assert.Equal(t, "user-2", gm.store.GetState().Session.DJUserID)
	assert.Equal(t, "user-2", dj.store.GetState().Session.DJUserID)
	assert.Equal(t, 1, djCount(dj.store.GetState().Session.Members))
}

func TestGMOverrideRequiresPrivilege(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	client := newTestClient(t, hub, "user-1", "alice", false)
	require.NoError(t, client.service.JoinSession(ctx))

	assert.ErrorIs(t, client.service.GMOverrideDJRole(ctx), domain.ErrNotPrivileged)
}

func TestReleaseDJRole(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	dj := newTestClient(t, hub, "user-1", "alice", false)
	listener := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, dj.service.JoinSession(ctx))
	require.NoError(t, listener.service.JoinSession(ctx))

	assert.ErrorIs(t, listener.service.ReleaseDJRole(ctx), domain.ErrNotDJ)

	require.NoError(t, dj.service.ClaimDJRole(ctx))
	require.NoError(t, dj.service.ReleaseDJRole(ctx))

	assert.Empty(t, dj.store.GetState().Session.DJUserID)
	assert.Empty(t, listener.store.GetState().Session.DJUserID)

	// the seat is open again
	require.NoError(t, listener.service.ClaimDJRole(ctx))
	assert.Equal(t, "user-2", dj.store.GetState().Session.DJUserID)
}

func TestRequestApproveFlow(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	dj := newTestClient(t, hub, "user-1", "alice", false)
	requester := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, dj.service.JoinSession(ctx))
	require.NoError(t, requester.service.JoinSession(ctx))
	require.NoError(t, dj.service.ClaimDJRole(ctx))

	require.NoError(t, requester.service.RequestDJRole(ctx))

	djState := dj.store.GetState()
	require.Len(t, djState.Session.ActiveRequests, 1)
	assert.Equal(t, "user-2", djState.Session.ActiveRequests[0].UserID)

	// repeated requests stay idempotent
	require.NoError(t, requester.service.RequestDJRole(ctx))
	assert.Len(t, dj.store.GetState().Session.ActiveRequests, 1)

	require.NoError(t, dj.service.ApproveDJRequest(ctx, "user-2"))

	assert.Equal(t, "user-2", dj.store.GetState().Session.DJUserID)
	assert.True(t, requester.store.IsDJ())
	assert.Empty(t, dj.store.GetState().Session.ActiveRequests)
	assert.Empty(t, requester.store.GetState().Session.ActiveRequests)
}

func TestRequestDenyFlow(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	dj := newTestClient(t, hub, "user-1", "alice", false)
	requester := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, dj.service.JoinSession(ctx))
	require.NoError(t, requester.service.JoinSession(ctx))
	require.NoError(t, dj.service.ClaimDJRole(ctx))

	require.NoError(t, requester.service.RequestDJRole(ctx))
	require.NoError(t, dj.service.DenyDJRequest(ctx, "user-2"))

	assert.Equal(t, "user-1", dj.store.GetState().Session.DJUserID)
	assert.False(t, requester.store.IsDJ())
	assert.Empty(t, dj.store.GetState().Session.ActiveRequests)
	assert.Empty(t, requester.store.GetState().Session.ActiveRequests)
}

func TestHandoffDJRole(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	dj := newTestClient(t, hub, "user-1", "alice", false)
	target := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, dj.service.JoinSession(ctx))
	require.NoError(t, target.service.JoinSession(ctx))
	require.NoError(t, dj.service.ClaimDJRole(ctx))

	assert.ErrorIs(t, dj.service.HandoffDJRole(ctx, "unknown"), domain.ErrMemberNotFound)

	require.NoError(t, dj.service.HandoffDJRole(ctx, "user-2"))
	assert.True(t, target.store.IsDJ())
	assert.False(t, dj.store.IsDJ())
}

func TestHandoffFromImpostorIgnored(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	client := newTestClient(t, hub, "user-1", "alice", false)
	require.NoError(t, client.service.JoinSession(ctx))

	st := client.store.GetState()
	st.Session.DJUserID = "user-2"
	client.store.UpdateState(state.Partial{Session: &st.Session})

	// user-3 is not the dj; its handoff carries no authority
	msg := makeMessage(t, "user-3", domain.MessageTypeDJHandoff, &domain.DJHandoffPayload{NewDJUserID: "user-3"})
	client.service.handleDJHandoff(ctx, msg)

	assert.Equal(t, "user-2", client.store.GetState().Session.DJUserID)
}

func TestPrivilegedClaimAcceptedOverHeldSeat(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	client := newTestClient(t, hub, "user-1", "alice", false)
	require.NoError(t, client.service.JoinSession(ctx))

	st := client.store.GetState()
	st.Session.DJUserID = "user-2"
	client.store.UpdateState(state.Partial{Session: &st.Session})

	plain := makeMessage(t, "user-3", domain.MessageTypeDJClaim, &domain.DJClaimPayload{UserName: "carol"})
	client.service.handleDJClaim(ctx, plain)
	assert.Equal(t, "user-2", client.store.GetState().Session.DJUserID, "unprivileged claim must not take a held seat")

	privileged := makeMessage(t, "user-3", domain.MessageTypeDJClaim, &domain.DJClaimPayload{UserName: "carol", Privileged: true})
	client.service.handleDJClaim(ctx, privileged)
	assert.Equal(t, "user-3", client.store.GetState().Session.DJUserID)
}
