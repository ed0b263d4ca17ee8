package domain

import "time"

// Member is a participant of the shared listening session.
type Member struct {
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	IsDJ             bool      `json:"is_dj"`
	IsActive         bool      `json:"is_active"`
	LastActivity     time.Time `json:"last_activity"`
	MissedHeartbeats int       `json:"missed_heartbeats"`
}

// RoleRequest is a pending DJ handoff request awaiting the current DJ's decision.
type RoleRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

type SessionState struct {
	DJUserID         string           `json:"dj_user_id"`
	Members          []Member         `json:"members"`
	HasJoinedSession bool             `json:"has_joined_session"`
	IsConnected      bool             `json:"is_connected"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	ActiveRequests   []RoleRequest    `json:"active_requests"`
}

func (s SessionState) Clone() SessionState {
	c := s
	c.Members = append([]Member(nil), s.Members...)
	c.ActiveRequests = append([]RoleRequest(nil), s.ActiveRequests...)
	return c
}

// MemberByID returns the member with the given id, if present.
func (s SessionState) MemberByID(userID string) (Member, bool) {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m, true
		}
	}

	return Member{}, false
}
