package playback

import (
	"context"
	"sync"
	"time"
)

// SimulatedSurface is a headless Surface that advances playback position
// with wall-clock time. It backs the terminal client and exercises the
// dispatcher without an embedded player.
type SimulatedSurface struct {
	mu            sync.Mutex
	videoID       string
	position      float64
	duration      float64
	playing       bool
	muted         bool
	volume        int
	playlist      []string
	playlistIndex int
	lastTick      time.Time
}

func NewSimulatedSurface() *SimulatedSurface {
	return &SimulatedSurface{
		volume:        100,
		playlistIndex: -1,
		lastTick:      time.Now(),
	}
}

// SetPlaylistContents seeds the simulated playlist, as if the embed had
// expanded a playlist load.
func (s *SimulatedSurface) SetPlaylistContents(videoIDs []string, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playlist = append([]string(nil), videoIDs...)
	s.playlistIndex = index
}

func (s *SimulatedSurface) advanceLocked() {
	now := time.Now()
	if s.playing {
		s.position += now.Sub(s.lastTick).Seconds()
		if s.duration > 0 && s.position > s.duration {
			s.position = s.duration
		}
	}
	s.lastTick = now
}

func (s *SimulatedSurface) PlayVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked()
	s.playing = true
}

func (s *SimulatedSurface) PauseVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked()
	s.playing = false
}

func (s *SimulatedSurface) SeekTo(seconds float64, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked()
	s.position = seconds
}

func (s *SimulatedSurface) LoadVideoByID(videoID string, startSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.videoID = videoID
	s.position = startSeconds
	s.playing = true
	s.playlist = nil
	s.playlistIndex = -1
	s.lastTick = time.Now()
}

func (s *SimulatedSurface) CueVideoByID(videoID string, startSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.videoID = videoID
	s.position = startSeconds
	s.playing = false
	s.playlist = nil
	s.playlistIndex = -1
	s.lastTick = time.Now()
}

func (s *SimulatedSurface) LoadPlaylist(req PlaylistRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.videoID = req.List
	s.position = req.StartSeconds
	s.playlistIndex = req.Index
	s.playing = true
	s.lastTick = time.Now()
}

func (s *SimulatedSurface) CuePlaylist(req PlaylistRequest) {
	s.LoadPlaylist(req)
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

func (s *SimulatedSurface) NextVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playlistIndex >= 0 && s.playlistIndex < len(s.playlist)-1 {
		s.playlistIndex++
		s.position = 0
	}
}

func (s *SimulatedSurface) PreviousVideo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playlistIndex > 0 {
		s.playlistIndex--
		s.position = 0
	}
}

func (s *SimulatedSurface) PlayVideoAt(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= 0 && index < len(s.playlist) {
		s.playlistIndex = index
		s.position = 0
		s.playing = true
		s.lastTick = time.Now()
	}
}

func (s *SimulatedSurface) Mute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.muted = true
}

func (s *SimulatedSurface) UnMute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.muted = false
}

func (s *SimulatedSurface) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.muted
}

func (s *SimulatedSurface) SetVolume(volume int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volume = volume
}

func (s *SimulatedSurface) GetVolume() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.volume
}

func (s *SimulatedSurface) GetCurrentTime(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked()

	return s.position, nil
}

func (s *SimulatedSurface) GetDuration(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.duration, nil
}

func (s *SimulatedSurface) GetPlaylist(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.playlist...), nil
}

func (s *SimulatedSurface) GetPlaylistIndex(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playlistIndex, nil
}

// SetDuration seeds the simulated media length.
func (s *SimulatedSurface) SetDuration(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.duration = seconds
}

// CurrentVideoID reports the loaded video.
func (s *SimulatedSurface) CurrentVideoID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.videoID
}

// IsPlaying reports the simulated play state.
func (s *SimulatedSurface) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playing
}
