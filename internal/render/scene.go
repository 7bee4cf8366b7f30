// Package render draws the two-speaker scene and drives it from a playback clock.
package render

import (
	"errors"
	"image"
	"math"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
)

// ErrSurfaceUnavailable is returned when a frame cannot be drawn
var ErrSurfaceUnavailable = errors.New("drawing surface unavailable")

// PulsePeriod is the length of one pulse animation cycle
const PulsePeriod = 2 * time.Second

const (
	avatarSize   = 80.0
	ringGap      = 10.0
	waveReach    = 30.0
	waveCount    = 3
	timelineLift = 30.0
)

const (
	colorBackground = "#f9fafb"
	colorTrack      = "#e5e7eb"
	colorAccent     = "#3b82f6"
	colorCaption    = "#111827"
	colorFallbackFg = "#6b7280"
)

var regularFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
})

// AvatarStatus is the load state of one speaker slot
type AvatarStatus int

const (
	AvatarLoading AvatarStatus = iota
	AvatarLoaded
	AvatarFailed
)

func (s AvatarStatus) String() string {
	switch s {
	case AvatarLoaded:
		return "loaded"
	case AvatarFailed:
		return "failed"
	default:
		return "loading"
	}
}

// Avatar is a slot's image state; Image is set only when Status is AvatarLoaded
type Avatar struct {
	Status AvatarStatus
	Image  image.Image
}

// Frame is everything one draw needs. It carries no clock: the pulse phase
// is computed by the caller.
type Frame struct {
	Position      float64
	Duration      float64
	ActiveSpeaker int
	Pulse         float64
	Handles       [diarize.NumSpeakers]string
	Avatars       [diarize.NumSpeakers]Avatar
}

// Scene renders frames of a fixed size. A Scene is not safe for concurrent use.
type Scene struct {
	width, height int
	caption       font.Face
	placeholder   font.Face
}

// NewScene creates a scene for the given canvas size
func NewScene(width, height int) (*Scene, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrSurfaceUnavailable
	}
	f, err := regularFont()
	if err != nil {
		return nil, err
	}
	return &Scene{
		width:       width,
		height:      height,
		caption:     truetype.NewFace(f, &truetype.Options{Size: 16}),
		placeholder: truetype.NewFace(f, &truetype.Options{Size: avatarSize / 4}),
	}, nil
}

// Size returns the canvas size
func (s *Scene) Size() (int, int) { return s.width, s.height }

// PulsePhase maps the time since the session started onto [0, 1)
func PulsePhase(sessionStart, now time.Time) float64 {
	d := now.Sub(sessionStart) % PulsePeriod
	if d < 0 {
		d += PulsePeriod
	}
	return float64(d) / float64(PulsePeriod)
}

// SlotCenter returns the avatar center for a slot
func (s *Scene) SlotCenter(slot int) (float64, float64) {
	w, h := float64(s.width), float64(s.height)
	top := h/2 - avatarSize/2 - 40
	return w * float64(slot+1) / 3, top + avatarSize/2
}

// PlayheadX returns the scrubber x position for a frame
func (s *Scene) PlayheadX(f Frame) float64 {
	if f.Duration <= 0 {
		return 0
	}
	return f.Position / f.Duration * float64(s.width)
}

// PrepareAvatar center-crops and scales an image to the avatar size
func (s *Scene) PrepareAvatar(src image.Image) image.Image {
	b := src.Bounds()
	side := min(b.Dx(), b.Dy())
	sr := image.Rect(0, 0, side, side).Add(image.Pt(b.Min.X+(b.Dx()-side)/2, b.Min.Y+(b.Dy()-side)/2))
	dst := image.NewRGBA(image.Rect(0, 0, int(avatarSize), int(avatarSize)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, sr, xdraw.Over, nil)
	return dst
}

// Draw renders one frame
func (s *Scene) Draw(f Frame) (image.Image, error) {
	if s == nil || s.caption == nil {
		return nil, ErrSurfaceUnavailable
	}

	dc := gg.NewContext(s.width, s.height)
	w, h := float64(s.width), float64(s.height)

	dc.SetHexColor(colorBackground)
	dc.Clear()

	dc.SetHexColor(colorTrack)
	dc.DrawRectangle(0, h-timelineLift, w, 2)
	dc.Fill()

	dc.SetHexColor(colorAccent)
	dc.DrawRectangle(s.PlayheadX(f), h-timelineLift-5, 2, 10)
	dc.Fill()

	for slot := 0; slot < diarize.NumSpeakers; slot++ {
		x, y := s.SlotCenter(slot)
		av := f.Avatars[slot]
		if av.Status == AvatarLoaded && av.Image != nil {
			s.drawAvatar(dc, x, y, av.Image)
		} else {
			s.drawPlaceholder(dc, x, y, f.Handles[slot])
		}

		dc.SetFontFace(s.caption)
		dc.SetHexColor(colorCaption)
		dc.DrawStringAnchored("@"+f.Handles[slot], x, y+avatarSize/2+25, 0.5, 0.5)
	}

	if f.ActiveSpeaker >= 0 && f.ActiveSpeaker < diarize.NumSpeakers {
		s.drawHighlight(dc, f.ActiveSpeaker, f.Pulse)
	}

	return dc.Image(), nil
}

func (s *Scene) drawAvatar(dc *gg.Context, x, y float64, img image.Image) {
	dc.Push()
	dc.DrawCircle(x, y, avatarSize/2)
	dc.Clip()
	dc.DrawImageAnchored(img, int(math.Round(x)), int(math.Round(y)), 0.5, 0.5)
	dc.ResetClip()
	dc.Pop()
}

// drawPlaceholder is the deterministic stand-in for a missing avatar
func (s *Scene) drawPlaceholder(dc *gg.Context, x, y float64, handle string) {
	dc.SetHexColor(colorTrack)
	dc.DrawCircle(x, y, avatarSize/2)
	dc.Fill()

	dc.SetFontFace(s.placeholder)
	dc.SetHexColor(colorFallbackFg)
	dc.DrawStringAnchored("@"+handle, x, y, 0.5, 0.5)
}

func (s *Scene) drawHighlight(dc *gg.Context, slot int, pulse float64) {
	x, y := s.SlotCenter(slot)

	dc.SetHexColor(colorAccent)
	dc.SetLineWidth(4)
	dc.DrawCircle(x, y, avatarSize/2+ringGap)
	dc.Stroke()

	minRadius := avatarSize/2 + ringGap
	maxRadius := avatarSize/2 + waveReach
	dc.SetLineWidth(2)
	for i := 0; i < waveCount; i++ {
		progress := math.Mod(pulse+float64(i)/waveCount, 1)
		dc.SetRGBA(59.0/255, 130.0/255, 246.0/255, 1-progress)
		dc.DrawCircle(x, y, minRadius+(maxRadius-minRadius)*progress)
		dc.Stroke()
	}
}
