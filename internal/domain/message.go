package domain

import "encoding/json"

type MessageType string

const (
	MessageTypeStateRequest     MessageType = "STATE_REQUEST"
	MessageTypeStateResponse    MessageType = "STATE_RESPONSE"
	MessageTypeStateSaveRequest MessageType = "STATE_SAVE_REQUEST"
	MessageTypeUserJoin         MessageType = "USER_JOIN"
	MessageTypeUserLeave        MessageType = "USER_LEAVE"
	MessageTypeDJClaim          MessageType = "DJ_CLAIM"
	MessageTypeDJRelease        MessageType = "DJ_RELEASE"
	MessageTypeDJRequest        MessageType = "DJ_REQUEST"
	MessageTypeDJApprove        MessageType = "DJ_APPROVE"
	MessageTypeDJDeny           MessageType = "DJ_DENY"
	MessageTypeDJHandoff        MessageType = "DJ_HANDOFF"
	MessageTypeGMOverride       MessageType = "GM_OVERRIDE"
	MessageTypeMemberCleanup    MessageType = "MEMBER_CLEANUP"
	MessageTypePlay             MessageType = "PLAY"
	MessageTypePause            MessageType = "PAUSE"
	MessageTypeSeek             MessageType = "SEEK"
	MessageTypeLoad             MessageType = "LOAD"
	MessageTypeHeartbeat        MessageType = "HEARTBEAT"
	MessageTypeHeartbeatAck     MessageType = "HEARTBEAT_RESPONSE"
	MessageTypeQueueAdd         MessageType = "QUEUE_ADD"
	MessageTypeQueueRemove      MessageType = "QUEUE_REMOVE"
	MessageTypeQueueUpdate      MessageType = "QUEUE_UPDATE"
	MessageTypeQueueNext        MessageType = "QUEUE_NEXT"
	MessageTypeQueueSync        MessageType = "QUEUE_SYNC"
)

// Message is the transport envelope. Timestamp is milliseconds since epoch
// and is stamped by the router when absent.
type Message struct {
	Type      MessageType     `json:"type" validate:"required"`
	UserID    string          `json:"user_id" validate:"required"`
	Timestamp int64           `json:"timestamp" validate:"required,gt=0"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the message payload into v.
func (m *Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return ErrEmptyPayload
	}

	return json.Unmarshal(m.Data, v)
}

type UserJoinPayload struct {
	UserName string `json:"user_name"`
}

type UserLeavePayload struct {
	UserName string `json:"user_name,omitempty"`
}

type MemberCleanupPayload struct {
	UserIDs []string `json:"user_ids"`
}

type DJClaimPayload struct {
	UserName string `json:"user_name"`
	// Privileged claims may take the role even while it is held.
	Privileged bool `json:"privileged,omitempty"`
}

type DJRequestPayload struct {
	UserName string `json:"user_name"`
}

// DJDecisionPayload names the requester an approve/deny verdict applies to.
type DJDecisionPayload struct {
	UserID string `json:"user_id"`
}

type DJHandoffPayload struct {
	NewDJUserID string `json:"new_dj_user_id"`
}

type SeekPayload struct {
	Time float64 `json:"time"`
}

type LoadPayload struct {
	VideoID   string  `json:"video_id"`
	Title     string  `json:"title,omitempty"`
	StartTime float64 `json:"start_time"`
	AutoPlay  bool    `json:"auto_play"`
}

// HeartbeatAckPayload addresses the response to the DJ whose heartbeat was
// processed, so stale responses to a previous DJ are ignored.
type HeartbeatAckPayload struct {
	DJUserID string `json:"dj_user_id"`
}

// QueueSnapshotPayload replicates the full queue; listeners apply it verbatim.
type QueueSnapshotPayload struct {
	Items        []VideoItem `json:"items"`
	CurrentIndex int         `json:"current_index"`
	LoopEnabled  bool        `json:"loop_enabled"`
}

// PlayerSnapshot is the player portion carried in a STATE_RESPONSE.
type PlayerSnapshot struct {
	CurrentVideo  *VideoInfo     `json:"current_video"`
	PlaybackState PlaybackStatus `json:"playback_state"`
	CurrentTime   float64        `json:"current_time"`
	Duration      float64        `json:"duration"`
}

// StateSnapshotPayload is a full session/queue/player snapshot answered to a
// STATE_REQUEST by any established member.
type StateSnapshotPayload struct {
	DJUserID       string               `json:"dj_user_id"`
	Members        []Member             `json:"members"`
	ActiveRequests []RoleRequest        `json:"active_requests"`
	Queue          QueueSnapshotPayload `json:"queue"`
	Player         PlayerSnapshot       `json:"player"`
}
