package session

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/router"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/internal/transport/inmemory"
	"github.com/tunesync/client/pkg/scheduler"
)

type testClient struct {
	store   *state.Store
	router  *router.Router
	service *Service
}

func newTestClient(t *testing.T, hub *inmemory.Hub, userID string, name string, gm bool) *testClient {
	t.Helper()

	store := state.New(userID, slog.Default())
	sched := scheduler.New(slog.Default())
	t.Cleanup(sched.Stop)

	rtr := router.New(hub, store, router.Config{Channel: "party"}, slog.Default())
	require.NoError(t, rtr.Start(context.Background()))
	t.Cleanup(rtr.Close)

	service := NewService(store, rtr, sched, StaticIdentity{ID: userID, Name: name, GM: gm}, slog.Default())
	service.Register()

	return &testClient{store: store, router: rtr, service: service}
}

func TestJoinSessionAnnouncesAndConverges(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	first := newTestClient(t, hub, "user-1", "alice", false)
	require.NoError(t, first.service.JoinSession(ctx))
	require.NoError(t, first.service.ClaimDJRole(ctx))

	// an established member with a queue and a playing video
	st := first.store.GetState()
	st.Queue.Items = []domain.VideoItem{
		{ID: "item-1", VideoID: "video-1"},
		{ID: "item-2", VideoID: "video-2"},
	}
	st.Queue.CurrentIndex = 1
	st.Player.CurrentVideo = &domain.VideoInfo{VideoID: "video-2"}
	st.Player.PlaybackState = domain.PlaybackStatusPlaying
	st.Player.CurrentTime = 41.5
	first.store.UpdateState(state.Partial{Queue: &st.Queue, Player: &st.Player})

	second := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, second.service.JoinSession(ctx))

	// the first client learned about the new member
	firstState := first.store.GetState()
	member, ok := firstState.Session.MemberByID("user-2")
	require.True(t, ok)
	assert.Equal(t, "bob", member.Name)

	// the joiner converged onto the established session
	secondState := second.store.GetState()
	assert.Equal(t, "user-1", secondState.Session.DJUserID)
	assert.True(t, secondState.Session.HasJoinedSession)
	require.Len(t, secondState.Queue.Items, 2)
	assert.Equal(t, 1, secondState.Queue.CurrentIndex)
	require.NotNil(t, secondState.Player.LastHeartbeat)
	assert.Equal(t, "video-2", secondState.Player.LastHeartbeat.VideoID)
	assert.Equal(t, 41.5, secondState.Player.LastHeartbeat.CurrentTime)
	assert.True(t, secondState.Player.LastHeartbeat.IsPlaying)

	// both sides agree on the member list
	_, ok = secondState.Session.MemberByID("user-1")
	assert.True(t, ok)
	_, ok = secondState.Session.MemberByID("user-2")
	assert.True(t, ok)
}

func TestStateResponseIgnoredOutsideMergeWindow(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	client := newTestClient(t, hub, "user-1", "alice", false)
	require.NoError(t, client.service.JoinSession(ctx))

	// window closed: unsolicited snapshots must not overwrite local state
	client.service.mu.Lock()
	client.service.awaitingState = false
	client.service.mu.Unlock()

	msg := makeMessage(t, "user-2", domain.MessageTypeStateResponse, &domain.StateSnapshotPayload{
		DJUserID: "user-2",
	})
	client.service.handleStateResponse(ctx, msg)

	assert.Empty(t, client.store.GetState().Session.DJUserID)
}

func TestStateRequestUnansweredBeforeJoin(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	bystander := newTestClient(t, hub, "user-1", "alice", false)
	joiner := newTestClient(t, hub, "user-2", "bob", false)

	// the bystander never joined, so the joiner gets no snapshot
	require.NoError(t, joiner.service.JoinSession(ctx))

	st := joiner.store.GetState()
	assert.Empty(t, st.Session.DJUserID)
	_, ok := st.Session.MemberByID("user-1")
	assert.False(t, ok)
	_ = bystander
}

func TestLeaveSessionReleasesRoleAndResets(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	leaver := newTestClient(t, hub, "user-1", "alice", false)
	observer := newTestClient(t, hub, "user-2", "bob", false)
	require.NoError(t, leaver.service.JoinSession(ctx))
	require.NoError(t, observer.service.JoinSession(ctx))
	require.NoError(t, leaver.service.ClaimDJRole(ctx))

	require.NoError(t, leaver.service.LeaveSession(ctx))

	st := leaver.store.GetState()
	assert.False(t, st.Session.HasJoinedSession)
	assert.Empty(t, st.Session.Members)
	assert.Empty(t, st.Session.DJUserID)

	// the observer drops the member and clears the dj seat
	observerState := observer.store.GetState()
	_, ok := observerState.Session.MemberByID("user-1")
	assert.False(t, ok)
	assert.Empty(t, observerState.Session.DJUserID)
}

func TestMemberCleanupNeverRemovesSelf(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	client := newTestClient(t, hub, "user-1", "alice", false)
	require.NoError(t, client.service.JoinSession(ctx))

	st := client.store.GetState()
	st.Session.Members = append(st.Session.Members, domain.Member{UserID: "user-3", Name: "carol"})
	client.store.UpdateState(state.Partial{Session: &st.Session})

	msg := makeMessage(t, "user-2", domain.MessageTypeMemberCleanup, &domain.MemberCleanupPayload{
		UserIDs: []string{"user-1", "user-3"},
	})
	client.service.handleMemberCleanup(ctx, msg)

	got := client.store.GetState()
	_, ok := got.Session.MemberByID("user-1")
	assert.True(t, ok, "the local user must survive remote cleanup")
	_, ok = got.Session.MemberByID("user-3")
	assert.False(t, ok)
}

func TestSetConnected(t *testing.T) {
	hub := inmemory.NewHub()

	client := newTestClient(t, hub, "user-1", "alice", false)

	client.service.SetConnected(true)
	st := client.store.GetState()
	assert.True(t, st.Session.IsConnected)
	assert.Equal(t, domain.ConnectionStatusConnected, st.Session.ConnectionStatus)

	client.service.SetConnected(false)
	st = client.store.GetState()
	assert.False(t, st.Session.IsConnected)
	assert.Equal(t, domain.ConnectionStatusDisconnected, st.Session.ConnectionStatus)
}

func TestDuplicateJoinIsIdempotent(t *testing.T) {
	hub := inmemory.NewHub()
	ctx := context.Background()

	established := newTestClient(t, hub, "user-1", "alice", false)
	require.NoError(t, established.service.JoinSession(ctx))

	msg := makeMessage(t, "user-2", domain.MessageTypeUserJoin, &domain.UserJoinPayload{UserName: "bob"})
	established.service.handleUserJoin(ctx, msg)
	established.service.handleUserJoin(ctx, msg)

	members := established.store.GetState().Session.Members
	count := 0
	for _, m := range members {
		if m.UserID == "user-2" {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate join must not duplicate the member")
}
