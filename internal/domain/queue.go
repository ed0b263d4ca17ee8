package domain

import (
	"strings"
	"time"
)

// PlaylistVideoIDPrefix namespaces the VideoID of playlist queue entries.
// Playlist items are single queue entries and are never flattened into
// individual tracks on the queue side.
const PlaylistVideoIDPrefix = "playlist:"

type VideoItem struct {
	ID         string    `json:"id"`
	VideoID    string    `json:"video_id"`
	Title      string    `json:"title"`
	AddedBy    string    `json:"added_by"`
	AddedAt    time.Time `json:"added_at"`
	IsPlaylist bool      `json:"is_playlist"`
	PlaylistID string    `json:"playlist_id,omitempty"`
}

// PlaylistVideoID builds the namespaced VideoID for a playlist entry.
func PlaylistVideoID(playlistID string) string {
	return PlaylistVideoIDPrefix + playlistID
}

// IsPlaylistVideoID reports whether a video id carries the playlist namespace.
func IsPlaylistVideoID(videoID string) bool {
	return strings.HasPrefix(videoID, PlaylistVideoIDPrefix)
}

type SavedQueue struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Items     []VideoItem `json:"items"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
}

type QueueState struct {
	Items []VideoItem `json:"items"`
	// CurrentIndex is -1 when nothing is playing, otherwise a valid index
	// into Items.
	CurrentIndex int          `json:"current_index"`
	LoopEnabled  bool         `json:"loop_enabled"`
	SavedQueues  []SavedQueue `json:"saved_queues"`
}

func (q QueueState) Clone() QueueState {
	c := q
	c.Items = append([]VideoItem(nil), q.Items...)
	c.SavedQueues = make([]SavedQueue, 0, len(q.SavedQueues))
	for _, sq := range q.SavedQueues {
		sq.Items = append([]VideoItem(nil), sq.Items...)
		c.SavedQueues = append(c.SavedQueues, sq)
	}
	return c
}

// CurrentItem returns the currently playing item, if any.
func (q QueueState) CurrentItem() (VideoItem, bool) {
	if q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Items) {
		return VideoItem{}, false
	}

	return q.Items[q.CurrentIndex], true
}
