package render

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

// State is the playback state of a session
type State int

const (
	Stopped State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// Clock supplies wall-clock time to a session
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a clock that only moves when told to
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualClock creates a clock stopped at t
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// AudioSource is the playback device a session starts and stops
type AudioSource interface {
	Start(offset float64) error
	Stop()
}

// NopSource is an AudioSource that plays nothing
type NopSource struct{}

func (NopSource) Start(float64) error { return nil }
func (NopSource) Stop()               {}

// AvatarLoader fetches an avatar image for a reference (usually a URL)
type AvatarLoader interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// Snapshot is a point-in-time view of a session
type Snapshot struct {
	State         string  `json:"state"`
	Position      float64 `json:"position"`
	Duration      float64 `json:"duration"`
	ActiveSpeaker int     `json:"active_speaker"`
	Elapsed       string  `json:"elapsed"`
	Total         string  `json:"total"`
	Generation    uint64  `json:"generation"`
}

// SessionConfig describes what a session plays
type SessionConfig struct {
	Timeline diarize.Timeline
	Duration float64
	Handles  [diarize.NumSpeakers]string
	Scene    *Scene
	Clock    Clock
	Source   AudioSource
}

// Session is the playback state machine for one job. All state changes and
// draws happen under one mutex, so a tick never interleaves with a seek.
type Session struct {
	mu sync.Mutex

	scene    *Scene
	timeline diarize.Timeline
	duration float64
	handles  [diarize.NumSpeakers]string
	avatars  [diarize.NumSpeakers]Avatar
	clock    Clock
	source   AudioSource

	state    State
	position float64
	offset   float64
	origin   time.Time
	started  time.Time
	active   int
	gen      uint64
	frame    image.Image
	err      error
}

// NewSession creates a stopped session at position zero
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Scene == nil {
		return nil, ErrSurfaceUnavailable
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Source == nil {
		cfg.Source = NopSource{}
	}

	s := &Session{
		scene:    cfg.Scene,
		timeline: cfg.Timeline,
		duration: cfg.Duration,
		handles:  cfg.Handles,
		clock:    cfg.Clock,
		source:   cfg.Source,
		active:   diarize.NoSpeaker,
	}
	s.started = s.clock.Now()
	return s, nil
}

// Play starts playback from offset and returns the generation of the new
// tick chain. Any earlier chain is cancelled.
func (s *Session) Play(offset float64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(offset)
}

func (s *Session) startLocked(offset float64) (uint64, error) {
	if s.state == Playing {
		s.source.Stop()
	}
	offset = s.clampLocked(offset)
	s.gen++

	if err := s.source.Start(offset); err != nil {
		s.state = Stopped
		s.position = offset
		return s.gen, fmt.Errorf("start audio: %w", err)
	}

	s.state = Playing
	s.offset = offset
	s.position = offset
	s.origin = s.clock.Now()
	s.err = nil
	return s.gen, nil
}

// Seek moves the playhead. While playing it restarts the tick chain from the
// new offset; while stopped it only redraws.
func (s *Session) Seek(offset float64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Playing {
		return s.startLocked(offset)
	}

	s.position = s.clampLocked(offset)
	s.active = s.timeline.SpeakerAt(s.position)
	if _, err := s.drawLocked(); err != nil {
		return s.gen, err
	}
	return s.gen, nil
}

// Pause stops playback and keeps the current position. The speaker at that
// position stays highlighted.
func (s *Session) Pause() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		s.position = s.currentLocked()
		s.haltLocked()
		s.active = s.timeline.SpeakerAt(s.position)
	}
	return s.snapshotLocked()
}

// Stop stops playback and rewinds to the start
func (s *Session) Stop() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		s.haltLocked()
	}
	s.position = 0
	s.active = diarize.NoSpeaker
	return s.snapshotLocked()
}

func (s *Session) haltLocked() {
	s.source.Stop()
	s.state = Stopped
	s.active = diarize.NoSpeaker
	s.gen++
}

// Tick advances the chain identified by gen by one frame. It reports false
// once the chain should end: it was superseded, playback reached the end, or
// the draw failed. Snapshots from a superseded chain carry a different
// generation than gen.
func (s *Session) Tick(gen uint64) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != Playing {
		return s.snapshotLocked(), false, nil
	}

	pos := s.currentLocked()
	if pos >= s.duration {
		s.source.Stop()
		s.state = Stopped
		s.position = 0
		s.active = diarize.NoSpeaker
		if _, err := s.drawLocked(); err != nil {
			return s.snapshotLocked(), false, err
		}
		return s.snapshotLocked(), false, nil
	}

	s.position = pos
	s.active = s.timeline.SpeakerAt(pos)
	if _, err := s.drawLocked(); err != nil {
		s.source.Stop()
		s.state = Stopped
		s.active = diarize.NoSpeaker
		return s.snapshotLocked(), false, err
	}
	return s.snapshotLocked(), true, nil
}

// Run drives the tick chain gen at the given interval until it ends or ctx is
// done. emit receives every snapshot that belongs to the chain.
func (s *Session) Run(ctx context.Context, gen uint64, interval time.Duration, emit func(Snapshot)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, more, err := s.Tick(gen)
			if err != nil {
				log.WithError(err).WithField("generation", gen).Error("render tick failed")
				return err
			}
			if snap.Generation != gen {
				return nil
			}
			if emit != nil {
				emit(snap)
			}
			if !more {
				return nil
			}
		}
	}
}

// Snapshot returns the current session state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Frame returns the most recently drawn frame, drawing one if none exists
func (s *Session) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame != nil {
		return s.frame, nil
	}
	return s.drawLocked()
}

// Preview draws the frame for pos with the speaker at pos highlighted. It
// leaves the playhead and playback state untouched.
func (s *Session) Preview(pos float64) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos = s.clampLocked(pos)
	return s.scene.Draw(Frame{
		Position:      pos,
		Duration:      s.duration,
		ActiveSpeaker: s.timeline.SpeakerAt(pos),
		Pulse:         PulsePhase(s.started, s.clock.Now()),
		Handles:       s.handles,
		Avatars:       s.avatars,
	})
}

// Err returns the last draw failure, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Avatars returns the per-slot avatar state
func (s *Session) Avatars() [diarize.NumSpeakers]Avatar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatars
}

// SetAvatar records the outcome of loading a slot's avatar. It is the only
// path that changes avatar state.
func (s *Session) SetAvatar(slot int, img image.Image, err error) {
	if slot < 0 || slot >= diarize.NumSpeakers {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil || img == nil {
		s.avatars[slot] = Avatar{Status: AvatarFailed}
		log.WithError(err).WithField("slot", slot).Warn("avatar unavailable, using placeholder")
	} else {
		s.avatars[slot] = Avatar{Status: AvatarLoaded, Image: s.scene.PrepareAvatar(img)}
	}
	if s.state == Stopped {
		s.frame = nil
	}
}

// LoadAvatars fetches both avatars concurrently. The returned channel is
// closed once both slots have settled.
func (s *Session) LoadAvatars(ctx context.Context, loader AvatarLoader, refs [diarize.NumSpeakers]string) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for slot, ref := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ref == "" || loader == nil {
				s.SetAvatar(slot, nil, fmt.Errorf("no avatar for slot %d", slot))
				return
			}
			img, err := loader.Load(ctx, ref)
			s.SetAvatar(slot, img, err)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func (s *Session) currentLocked() float64 {
	return s.clock.Now().Sub(s.origin).Seconds() + s.offset
}

func (s *Session) clampLocked(offset float64) float64 {
	if offset < 0 {
		return 0
	}
	if offset > s.duration {
		return s.duration
	}
	return offset
}

func (s *Session) drawLocked() (image.Image, error) {
	img, err := s.scene.Draw(Frame{
		Position:      s.position,
		Duration:      s.duration,
		ActiveSpeaker: s.active,
		Pulse:         PulsePhase(s.started, s.clock.Now()),
		Handles:       s.handles,
		Avatars:       s.avatars,
	})
	if err != nil {
		s.err = fmt.Errorf("draw frame: %w", err)
		return nil, s.err
	}
	s.frame = img
	return img, nil
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:         s.state.String(),
		Position:      s.position,
		Duration:      s.duration,
		ActiveSpeaker: s.active,
		Elapsed:       FormatTime(s.position),
		Total:         FormatTime(s.duration),
		Generation:    s.gen,
	}
}

// FormatTime renders seconds as m:ss
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
