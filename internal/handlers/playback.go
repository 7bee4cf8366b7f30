package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	log "github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/podcast-animator/internal/render"
	"github.com/codebuildervaibhav/podcast-animator/internal/storage"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// PlaybackHandler drives a render session per websocket connection. The
// browser plays the audio itself; the server owns the clock and the speaker
// highlight, and pushes a snapshot (and optionally a PNG frame) per tick.
type PlaybackHandler struct {
	db       *storage.MetadataDB
	store    *storage.LocalStorage
	loader   render.AvatarLoader
	render   RenderOptions
	interval time.Duration
}

// NewPlaybackHandler creates a playback handler ticking every interval
func NewPlaybackHandler(db *storage.MetadataDB, store *storage.LocalStorage, loader render.AvatarLoader, opts RenderOptions, interval time.Duration) *PlaybackHandler {
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	return &PlaybackHandler{
		db:       db,
		store:    store,
		loader:   loader,
		render:   opts,
		interval: interval,
	}
}

// PlaybackCommand is a client message: play, pause, seek or stop
type PlaybackCommand struct {
	Action   string   `json:"action"`
	Position *float64 `json:"position,omitempty"`
}

type playbackMessage struct {
	Type string `json:"type"`
	*render.Snapshot
	Error string `json:"error,omitempty"`
}

type playbackConn struct {
	conn   *websocket.Conn
	sess   *render.Session
	frames bool

	mu sync.Mutex
}

func (p *playbackConn) send(snap render.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.conn.WriteJSON(playbackMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
		log.WithError(err).Debug("playback write failed")
		return
	}
	if !p.frames {
		return
	}
	img, err := p.sess.Frame()
	if err != nil {
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		log.WithError(err).Debug("playback frame write failed")
	}
}

func (p *playbackConn) sendError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteJSON(playbackMessage{Type: "error", Error: msg})
}

// Handle serves one playback connection
func (h *PlaybackHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Params("id")
	entry := log.WithField("job_id", jobID)

	bundle, err := h.loadBundle(jobID)
	if err != nil {
		entry.WithError(err).Warn("playback unavailable")
		_ = c.WriteJSON(playbackMessage{Type: "error", Error: err.Error()})
		return
	}

	scene, err := render.NewScene(h.render.Width, h.render.Height)
	if err != nil {
		_ = c.WriteJSON(playbackMessage{Type: "error", Error: err.Error()})
		return
	}
	sess, err := render.NewSession(render.SessionConfig{
		Timeline: bundle.Timeline,
		Duration: bundle.Duration,
		Handles:  bundle.Handles,
		Scene:    scene,
		Source:   render.NopSource{},
	})
	if err != nil {
		_ = c.WriteJSON(playbackMessage{Type: "error", Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		sess.Stop()
	}()

	pc := &playbackConn{conn: c, sess: sess, frames: c.Query("frames") == "1"}

	if h.loader != nil {
		avatarsDone := sess.LoadAvatars(ctx, h.loader, bundle.AvatarURLs)
		go func() {
			select {
			case <-avatarsDone:
				if sess.Snapshot().State == render.Stopped.String() {
					pc.send(sess.Snapshot())
				}
			case <-ctx.Done():
			}
		}()
	}

	entry.Info("playback session opened")
	pc.send(sess.Snapshot())

	run := func(gen uint64) {
		go func() {
			if err := sess.Run(ctx, gen, h.interval, pc.send); err != nil && !errors.Is(err, context.Canceled) {
				pc.sendError(err.Error())
			}
		}()
	}

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			entry.WithError(err).Debug("playback session closed")
			return
		}

		var cmd PlaybackCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			pc.sendError("invalid command")
			continue
		}

		switch cmd.Action {
		case "play":
			offset := sess.Snapshot().Position
			if cmd.Position != nil {
				offset = *cmd.Position
			}
			gen, err := sess.Play(offset)
			if err != nil {
				pc.sendError(err.Error())
				continue
			}
			run(gen)
		case "seek":
			if cmd.Position == nil {
				pc.sendError("seek requires a position")
				continue
			}
			wasPlaying := sess.Snapshot().State == render.Playing.String()
			gen, err := sess.Seek(*cmd.Position)
			if err != nil {
				pc.sendError(err.Error())
				continue
			}
			if wasPlaying {
				run(gen)
			} else {
				pc.send(sess.Snapshot())
			}
		case "pause":
			pc.send(sess.Pause())
		case "stop":
			pc.send(sess.Stop())
		default:
			pc.sendError("unknown action " + cmd.Action)
		}
	}
}

func (h *PlaybackHandler) loadBundle(jobID string) (*storage.Bundle, error) {
	rec, err := h.db.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusCompleted {
		return nil, errors.New("job is " + rec.Status + ", not " + types.StatusCompleted)
	}
	return h.store.LoadBundle(rec.BundlePath)
}
