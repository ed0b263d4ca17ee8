package domain

import "time"

type PlaybackStatus string

const (
	PlaybackStatusStopped PlaybackStatus = "stopped"
	PlaybackStatusLoading PlaybackStatus = "loading"
	PlaybackStatusPlaying PlaybackStatus = "playing"
	PlaybackStatusPaused  PlaybackStatus = "paused"
)

type VideoInfo struct {
	VideoID    string `json:"video_id"`
	Title      string `json:"title"`
	IsPlaylist bool   `json:"is_playlist"`
	PlaylistID string `json:"playlist_id,omitempty"`
}

// HeartbeatData is the authoritative playback position broadcast by the DJ.
type HeartbeatData struct {
	VideoID     string  `json:"video_id"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	IsPlaying   bool    `json:"is_playing"`
	Timestamp   int64   `json:"timestamp"`
	ServerTime  int64   `json:"server_time"`
	PlaylistID  string  `json:"playlist_id,omitempty"`
	// PlaylistIndex is -1 when the heartbeat is not about a playlist item.
	PlaylistIndex int `json:"playlist_index"`
}

type PlayerState struct {
	IsReady            bool           `json:"is_ready"`
	IsInitializing     bool           `json:"is_initializing"`
	CurrentVideo       *VideoInfo     `json:"current_video"`
	PlaybackState      PlaybackStatus `json:"playback_state"`
	CurrentTime        float64        `json:"current_time"`
	Duration           float64        `json:"duration"`
	DriftTolerance     float64        `json:"drift_tolerance"`
	HeartbeatFrequency time.Duration  `json:"heartbeat_frequency"`
	LastHeartbeat      *HeartbeatData `json:"last_heartbeat"`
	AutoplayConsent    bool           `json:"autoplay_consent"`
	Volume             int            `json:"volume"`
	IsMuted            bool           `json:"is_muted"`
}

func (p PlayerState) Clone() PlayerState {
	c := p
	if p.CurrentVideo != nil {
		v := *p.CurrentVideo
		c.CurrentVideo = &v
	}
	if p.LastHeartbeat != nil {
		hb := *p.LastHeartbeat
		c.LastHeartbeat = &hb
	}
	return c
}

// IsPlaying reports whether the local player intent is "playing".
func (p PlayerState) IsPlaying() bool {
	return p.PlaybackState == PlaybackStatusPlaying
}

// State is the full per-client snapshot held by the state store.
type State struct {
	Session SessionState `json:"session"`
	Queue   QueueState   `json:"queue"`
	Player  PlayerState  `json:"player"`
}

// Clone returns a deep copy of the snapshot.
func (s State) Clone() State {
	return State{
		Session: s.Session.Clone(),
		Queue:   s.Queue.Clone(),
		Player:  s.Player.Clone(),
	}
}
