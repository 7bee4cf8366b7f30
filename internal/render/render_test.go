package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type recordingSource struct {
	mu      sync.Mutex
	starts  []float64
	stops   int
	failing bool
}

func (r *recordingSource) Start(offset float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("device busy")
	}
	r.starts = append(r.starts, offset)
	return nil
}

func (r *recordingSource) Stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func newTestSession(t *testing.T, timeline diarize.Timeline, duration float64) (*Session, *ManualClock, *recordingSource) {
	t.Helper()
	scene, err := NewScene(800, 450)
	require.NoError(t, err)
	clock := NewManualClock(epoch)
	src := &recordingSource{}
	s, err := NewSession(SessionConfig{
		Timeline: timeline,
		Duration: duration,
		Handles:  [2]string{"alice", "bob"},
		Scene:    scene,
		Clock:    clock,
		Source:   src,
	})
	require.NoError(t, err)
	return s, clock, src
}

func TestTickFollowsTimeline(t *testing.T) {
	s, clock, src := newTestSession(t, diarize.Timeline{0, 1, 0}, 3)

	gen, err := s.Play(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, src.starts)

	clock.Advance(1500 * time.Millisecond)
	snap, more, err := s.Tick(gen)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, "playing", snap.State)
	assert.InDelta(t, 1.5, snap.Position, 1e-9)
	assert.Equal(t, 1, snap.ActiveSpeaker)
	assert.Equal(t, "0:01", snap.Elapsed)
	assert.Equal(t, "0:03", snap.Total)
}

func TestTickClampsNearEndToLastSecond(t *testing.T) {
	tl := make(diarize.Timeline, 10)
	tl[9] = 1
	s, clock, _ := newTestSession(t, tl, 10)

	gen, err := s.Play(0)
	require.NoError(t, err)
	clock.Advance(9990 * time.Millisecond)

	snap, more, err := s.Tick(gen)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, 1, snap.ActiveSpeaker)
}

func TestTickAtEndStopsAndRewinds(t *testing.T) {
	s, clock, src := newTestSession(t, diarize.Timeline{0, 1}, 2)

	gen, err := s.Play(0)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	snap, more, err := s.Tick(gen)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, "stopped", snap.State)
	assert.Equal(t, 0.0, snap.Position)
	assert.Equal(t, diarize.NoSpeaker, snap.ActiveSpeaker)
	assert.Equal(t, gen, snap.Generation)
	assert.Equal(t, 1, src.stops)
}

func TestSeekCancelsStaleChain(t *testing.T) {
	s, clock, src := newTestSession(t, diarize.Timeline{0, 0, 1, 1, 0}, 5)

	oldGen, err := s.Play(0)
	require.NoError(t, err)
	clock.Advance(time.Second)

	newGen, err := s.Seek(3)
	require.NoError(t, err)
	assert.NotEqual(t, oldGen, newGen)
	assert.Equal(t, []float64{0, 3}, src.starts)

	snap, more, err := s.Tick(oldGen)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, newGen, snap.Generation)

	clock.Advance(500 * time.Millisecond)
	snap, more, err = s.Tick(newGen)
	require.NoError(t, err)
	assert.True(t, more)
	assert.InDelta(t, 3.5, snap.Position, 1e-9)
	assert.Equal(t, 1, snap.ActiveSpeaker)
}

func TestSeekWhileStoppedOnlyRedraws(t *testing.T) {
	s, _, src := newTestSession(t, diarize.Timeline{0, 1, 0}, 3)

	_, err := s.Seek(7)
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Equal(t, "stopped", snap.State)
	assert.Equal(t, 3.0, snap.Position)
	assert.Equal(t, 0, snap.ActiveSpeaker)
	assert.Empty(t, src.starts)

	_, err = s.Seek(1.4)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Snapshot().ActiveSpeaker)
}

func TestPauseKeepsPositionStopRewinds(t *testing.T) {
	s, clock, _ := newTestSession(t, diarize.Timeline{0, 1, 0}, 3)

	gen, err := s.Play(0)
	require.NoError(t, err)
	clock.Advance(1200 * time.Millisecond)

	snap := s.Pause()
	assert.Equal(t, "stopped", snap.State)
	assert.InDelta(t, 1.2, snap.Position, 1e-9)
	assert.Equal(t, 1, snap.ActiveSpeaker)

	_, more, err := s.Tick(gen)
	require.NoError(t, err)
	assert.False(t, more)

	snap = s.Stop()
	assert.Equal(t, 0.0, snap.Position)
	assert.Equal(t, diarize.NoSpeaker, snap.ActiveSpeaker)
}

func TestPlayFailureLeavesSessionStopped(t *testing.T) {
	s, _, src := newTestSession(t, diarize.Timeline{0}, 1)
	src.failing = true

	_, err := s.Play(0)
	assert.Error(t, err)
	assert.Equal(t, "stopped", s.Snapshot().State)
}

func TestRunEndsWhenPlaybackFinishes(t *testing.T) {
	scene, err := NewScene(320, 180)
	require.NoError(t, err)
	s, err := NewSession(SessionConfig{Timeline: diarize.Timeline{0}, Duration: 0.05, Scene: scene})
	require.NoError(t, err)

	gen, err := s.Play(0)
	require.NoError(t, err)

	var snaps []Snapshot
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx, gen, 5*time.Millisecond, func(snap Snapshot) {
		snaps = append(snaps, snap)
	}))

	require.NotEmpty(t, snaps)
	assert.Equal(t, "stopped", snaps[len(snaps)-1].State)
}

type stubLoader struct {
	images map[string]image.Image
}

func (l stubLoader) Load(_ context.Context, ref string) (image.Image, error) {
	if img, ok := l.images[ref]; ok {
		return img, nil
	}
	return nil, errors.New("not found")
}

func TestLoadAvatarsSettlesEachSlotIndependently(t *testing.T) {
	s, _, _ := newTestSession(t, diarize.Timeline{0}, 1)

	assert.Equal(t, AvatarLoading, s.Avatars()[0].Status)

	red := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		for y := 0; y < 100; y++ {
			red.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	loader := stubLoader{images: map[string]image.Image{"a.png": red}}

	<-s.LoadAvatars(context.Background(), loader, [2]string{"a.png", "missing.png"})

	avatars := s.Avatars()
	assert.Equal(t, AvatarLoaded, avatars[0].Status)
	assert.Equal(t, image.Rect(0, 0, 80, 80), avatars[0].Image.Bounds())
	assert.Equal(t, AvatarFailed, avatars[1].Status)
	assert.Nil(t, avatars[1].Image)

	img, err := s.Frame()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 450), img.Bounds())
}

func TestDrawHighlightsActiveSpeakerOnly(t *testing.T) {
	scene, err := NewScene(800, 450)
	require.NoError(t, err)

	idle, err := scene.Draw(Frame{Duration: 10, ActiveSpeaker: diarize.NoSpeaker, Handles: [2]string{"a", "b"}})
	require.NoError(t, err)
	talking, err := scene.Draw(Frame{Duration: 10, ActiveSpeaker: 0, Handles: [2]string{"a", "b"}})
	require.NoError(t, err)

	// a pixel on the highlight ring of slot 0
	x, y := scene.SlotCenter(0)
	px, py := int(x), int(y-avatarSize/2-ringGap)
	assert.NotEqual(t, idle.At(px, py), talking.At(px, py))

	// slot 1 is untouched
	x1, y1 := scene.SlotCenter(1)
	qx, qy := int(x1), int(y1-avatarSize/2-ringGap)
	assert.Equal(t, idle.At(qx, qy), talking.At(qx, qy))
}

func TestPlayheadX(t *testing.T) {
	scene, err := NewScene(800, 450)
	require.NoError(t, err)
	assert.Equal(t, 400.0, scene.PlayheadX(Frame{Position: 5, Duration: 10}))
	assert.Equal(t, 0.0, scene.PlayheadX(Frame{Position: 5}))
}

func TestNewSceneRejectsEmptySurface(t *testing.T) {
	_, err := NewScene(0, 450)
	assert.ErrorIs(t, err, ErrSurfaceUnavailable)

	var nilScene *Scene
	_, err = nilScene.Draw(Frame{})
	assert.ErrorIs(t, err, ErrSurfaceUnavailable)
}

func TestPulsePhase(t *testing.T) {
	assert.Equal(t, 0.0, PulsePhase(epoch, epoch))
	assert.InDelta(t, 0.25, PulsePhase(epoch, epoch.Add(500*time.Millisecond)), 1e-9)
	assert.InDelta(t, 0.5, PulsePhase(epoch, epoch.Add(5*time.Second)), 1e-9)
	assert.InDelta(t, 0.75, PulsePhase(epoch, epoch.Add(-500*time.Millisecond)), 1e-9)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0:00", FormatTime(0))
	assert.Equal(t, "1:05", FormatTime(65.9))
	assert.Equal(t, "12:00", FormatTime(720))
	assert.Equal(t, "0:00", FormatTime(-3))
}

func TestPreviewLeavesPlaybackStateAlone(t *testing.T) {
	s, _, _ := newTestSession(t, diarize.Timeline{0, 1, 0}, 3)

	img, err := s.Preview(1.5)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 450), img.Bounds())

	snap := s.Snapshot()
	assert.Equal(t, "stopped", snap.State)
	assert.Equal(t, 0.0, snap.Position)
	assert.Equal(t, diarize.NoSpeaker, snap.ActiveSpeaker)

	// slot 1 is highlighted in the preview, slot 0 is not
	scene, err := NewScene(800, 450)
	require.NoError(t, err)
	x1, y1 := scene.SlotCenter(1)
	x0, y0 := scene.SlotCenter(0)
	bg := color.RGBAModel.Convert(color.RGBA{R: 0xf9, G: 0xfa, B: 0xfb, A: 0xff})
	assert.NotEqual(t, bg, color.RGBAModel.Convert(img.At(int(x1), int(y1-avatarSize/2-ringGap))))
	assert.Equal(t, bg, color.RGBAModel.Convert(img.At(int(x0), int(y0-avatarSize/2-ringGap))))
}
