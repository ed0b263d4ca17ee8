package playback

import "context"

// SurfaceState mirrors the embedding player's state-change callback codes.
type SurfaceState int

const (
	SurfaceStateUnstarted SurfaceState = -1
	SurfaceStateEnded     SurfaceState = 0
	SurfaceStatePlaying   SurfaceState = 1
	SurfaceStatePaused    SurfaceState = 2
	SurfaceStateBuffering SurfaceState = 3
	SurfaceStateCued      SurfaceState = 5
)

// Player error callback codes.
const (
	ErrCodeInvalidParam  = 2
	ErrCodeHTML5         = 5
	ErrCodeNotFound      = 100
	ErrCodeEmbedDisabled = 101
	// Some embeds report embedding-disabled under a second code.
	ErrCodeEmbedDisabledAlt = 150
)

type PlaylistRequest struct {
	List         string
	ListType     string
	Index        int
	StartSeconds float64
}

// Surface is the external player control surface. Command verbs are
// fire-and-forget; the live queries answer asynchronously, so callers bound
// them with a context deadline and fall back to stored state on timeout.
type Surface interface {
	PlayVideo()
	PauseVideo()
	SeekTo(seconds float64, allowSeekAhead bool)
	LoadVideoByID(videoID string, startSeconds float64)
	CueVideoByID(videoID string, startSeconds float64)
	LoadPlaylist(req PlaylistRequest)
	CuePlaylist(req PlaylistRequest)
	NextVideo()
	PreviousVideo()
	PlayVideoAt(index int)
	Mute()
	UnMute()
	IsMuted() bool
	SetVolume(volume int)
	GetVolume() int
	GetCurrentTime(ctx context.Context) (float64, error)
	GetDuration(ctx context.Context) (float64, error)
	GetPlaylist(ctx context.Context) ([]string, error)
	GetPlaylistIndex(ctx context.Context) (int, error)
}
