package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	wsclient "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/podcast-animator/internal/diarize"
	"github.com/codebuildervaibhav/podcast-animator/internal/media"
	"github.com/codebuildervaibhav/podcast-animator/internal/queue"
	"github.com/codebuildervaibhav/podcast-animator/internal/storage"
	"github.com/codebuildervaibhav/podcast-animator/internal/types"
)

// listen serves app on a loopback port and returns the ws:// base URL
func listen(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string) *wsclient.Conn {
	t.Helper()
	conn, _, err := wsclient.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type streamEnv struct {
	url     string
	db      *storage.MetadataDB
	tempDir string
}

// newStreamEnv serves /ws/stream backed by a running worker pool
func newStreamEnv(t *testing.T, maxSizeMB int) *streamEnv {
	t.Helper()
	dir := t.TempDir()
	tempDir := filepath.Join(dir, "temp")
	require.NoError(t, os.MkdirAll(tempDir, 0755))

	db, err := storage.NewMetadataDB(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool := queue.NewWorkerPool(1, 4, queue.Deps{
		Decoder:      media.NewDecoder(tempDir),
		Diarizer:     diarize.New(diarize.DefaultConfig()),
		LocalStorage: storage.NewLocalStorage(filepath.Join(dir, "outputs")),
		DB:           db,
	})
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/stream", websocket.New(NewStreamHandler(pool, tempDir, maxSizeMB).Handle))

	return &streamEnv{url: listen(t, app) + "/ws/stream", db: db, tempDir: tempDir}
}

func (e *streamEnv) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func readReply(t *testing.T, conn *wsclient.Conn) streamReply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply streamReply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

// conversationWAV encodes three seconds where channel 1 talks first
func conversationWAV(t *testing.T) []byte {
	t.Helper()
	const rate = 100
	levels := [][2]float64{{0.05, 0.8}, {0.05, 0.8}, {0.8, 0.05}}
	b := &diarize.Buffer{Channels: make([][]float64, 2), SampleRate: rate}
	for _, lv := range levels {
		for i := 0; i < rate; i++ {
			b.Channels[0] = append(b.Channels[0], lv[0])
			b.Channels[1] = append(b.Channels[1], lv[1])
		}
	}

	path := filepath.Join(t.TempDir(), "conversation.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, media.EncodeWAV(f, b))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestStreamQueuesAndProcessesJob(t *testing.T) {
	e := newStreamEnv(t, 1)
	conn := dial(t, e.url)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"name": "live", "handle1": "@alice", "handle2": "bob", "ext": "wav",
	}))
	data := conversationWAV(t)
	half := len(data) / 2
	require.NoError(t, conn.WriteMessage(wsclient.BinaryMessage, data[:half]))
	require.NoError(t, conn.WriteMessage(wsclient.BinaryMessage, data[half:]))
	require.NoError(t, conn.WriteMessage(wsclient.TextMessage, []byte("END")))

	reply := readReply(t, conn)
	require.Equal(t, "queued", reply.Status, reply.Error)
	require.NotEmpty(t, reply.JobID)

	var rec *types.JobRecord
	require.Eventually(t, func() bool {
		got, err := e.db.GetJob(reply.JobID)
		if err != nil {
			return false
		}
		rec = got
		return got.Status == types.StatusCompleted || got.Status == types.StatusFailed
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, types.StatusCompleted, rec.Status, rec.Error)
	assert.Equal(t, types.SourceStream, rec.Source)
	assert.Equal(t, [2]string{"alice", "bob"}, rec.Handles)
	assert.Equal(t, 3, rec.Seconds)

	assert.Eventually(t, func() bool {
		return len(e.tempFiles(t)) == 0
	}, 2*time.Second, 20*time.Millisecond, "streamed file is removed after processing")
}

func TestStreamRejectsExtensionOutsideAllowList(t *testing.T) {
	for _, ext := range []string{"/../../escaped.mp3", `..\escaped.wav`, "txt"} {
		t.Run(ext, func(t *testing.T) {
			e := newStreamEnv(t, 1)
			conn := dial(t, e.url)

			require.NoError(t, conn.WriteJSON(map[string]string{
				"handle1": "alice", "handle2": "bob", "ext": ext,
			}))
			// a chunk after the rejection must not be written anywhere
			_ = conn.WriteMessage(wsclient.BinaryMessage, []byte("payload"))

			reply := readReply(t, conn)
			assert.Equal(t, "error", reply.Status)
			assert.Equal(t, "ERR_INVALID_FORMAT", reply.Code)

			assert.Empty(t, e.tempFiles(t))
			_, err := os.Stat(filepath.Join(filepath.Dir(e.tempDir), "escaped.mp3"))
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestStreamEnforcesSizeLimit(t *testing.T) {
	e := newStreamEnv(t, 1)
	conn := dial(t, e.url)

	require.NoError(t, conn.WriteJSON(map[string]string{"handle1": "alice", "handle2": "bob"}))
	require.NoError(t, conn.WriteMessage(wsclient.BinaryMessage, make([]byte, 1024*1024)))
	require.NoError(t, conn.WriteMessage(wsclient.BinaryMessage, []byte{1}))

	reply := readReply(t, conn)
	assert.Equal(t, "ERR_FILE_TOO_LARGE", reply.Code)
	assert.Empty(t, e.tempFiles(t))
}

func TestStreamWithoutAudio(t *testing.T) {
	e := newStreamEnv(t, 1)
	conn := dial(t, e.url)

	require.NoError(t, conn.WriteMessage(wsclient.TextMessage, []byte(`{"type":"end"}`)))
	reply := readReply(t, conn)
	assert.Equal(t, "ERR_NO_FILE", reply.Code)
}

type playbackEvent struct {
	Type          string  `json:"type"`
	State         string  `json:"state"`
	Position      float64 `json:"position"`
	ActiveSpeaker int     `json:"active_speaker"`
	Generation    uint64  `json:"generation"`
	Error         string  `json:"error"`
}

// nextEvent reads JSON messages until match accepts one. Binary frames are skipped.
func nextEvent(t *testing.T, conn *wsclient.Conn, match func(playbackEvent) bool) playbackEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind != wsclient.TextMessage {
			continue
		}
		var ev playbackEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if match(ev) {
			return ev
		}
	}
}

func newPlaybackServer(t *testing.T) (*testEnv, string) {
	t.Helper()
	e := newTestEnv(t)
	e.seedCompleted(t, "job-1")

	h := NewPlaybackHandler(e.db, e.store, nil, RenderOptions{Width: 320, Height: 180}, 5*time.Millisecond)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/playback/:id", websocket.New(h.Handle))
	return e, listen(t, app)
}

// speakerAt mirrors the seeded timeline {0, 1, 0}
func speakerAt(pos float64) int {
	timeline := diarize.Timeline{0, 1, 0}
	return timeline.SpeakerAt(pos)
}

func TestPlaybackSessionCommands(t *testing.T) {
	_, base := newPlaybackServer(t)
	conn := dial(t, base+"/ws/playback/job-1")

	initial := nextEvent(t, conn, func(ev playbackEvent) bool { return ev.Type == "snapshot" })
	assert.Equal(t, "stopped", initial.State)
	assert.Equal(t, diarize.NoSpeaker, initial.ActiveSpeaker)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "play", "position": 1.2}))
	playing := nextEvent(t, conn, func(ev playbackEvent) bool { return ev.State == "playing" })
	assert.GreaterOrEqual(t, playing.Position, 1.2)
	assert.Equal(t, speakerAt(playing.Position), playing.ActiveSpeaker)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "seek", "position": 0.25}))
	seeked := nextEvent(t, conn, func(ev playbackEvent) bool {
		return ev.State == "playing" && ev.Generation != playing.Generation
	})
	assert.Greater(t, seeked.Generation, playing.Generation)
	assert.GreaterOrEqual(t, seeked.Position, 0.25)
	assert.Less(t, seeked.Position, 1.2)
	assert.Equal(t, speakerAt(seeked.Position), seeked.ActiveSpeaker)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "pause"}))
	paused := nextEvent(t, conn, func(ev playbackEvent) bool { return ev.State == "stopped" })
	assert.Greater(t, paused.Generation, seeked.Generation)
	assert.Greater(t, paused.Position, 0.0)
	assert.Equal(t, speakerAt(paused.Position), paused.ActiveSpeaker)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "stop"}))
	stopped := nextEvent(t, conn, func(ev playbackEvent) bool {
		return ev.State == "stopped" && ev.Position == 0
	})
	assert.Equal(t, diarize.NoSpeaker, stopped.ActiveSpeaker)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "seek", "position": 1.5}))
	scrubbed := nextEvent(t, conn, func(ev playbackEvent) bool { return ev.Position == 1.5 })
	assert.Equal(t, "stopped", scrubbed.State)
	assert.Equal(t, 1, scrubbed.ActiveSpeaker)
}

func TestPlaybackRunsToEnd(t *testing.T) {
	_, base := newPlaybackServer(t)
	conn := dial(t, base+"/ws/playback/job-1")
	nextEvent(t, conn, func(ev playbackEvent) bool { return ev.Type == "snapshot" })

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "play", "position": 2.9}))
	nextEvent(t, conn, func(ev playbackEvent) bool { return ev.State == "playing" })
	end := nextEvent(t, conn, func(ev playbackEvent) bool { return ev.State == "stopped" })
	assert.Equal(t, 0.0, end.Position)
	assert.Equal(t, diarize.NoSpeaker, end.ActiveSpeaker)
}

func TestPlaybackRejectsBadCommands(t *testing.T) {
	_, base := newPlaybackServer(t)
	conn := dial(t, base+"/ws/playback/job-1")
	nextEvent(t, conn, func(ev playbackEvent) bool { return ev.Type == "snapshot" })

	for _, msg := range []string{"not json", `{"action":"rewind"}`, `{"action":"seek"}`} {
		require.NoError(t, conn.WriteMessage(wsclient.TextMessage, []byte(msg)))
		ev := nextEvent(t, conn, func(ev playbackEvent) bool { return ev.Type == "error" })
		assert.NotEmpty(t, ev.Error, msg)
	}
}

func TestPlaybackUnknownJob(t *testing.T) {
	_, base := newPlaybackServer(t)
	conn := dial(t, base+"/ws/playback/missing")

	ev := nextEvent(t, conn, func(playbackEvent) bool { return true })
	assert.Equal(t, "error", ev.Type)
}

func TestPlaybackSendsFrames(t *testing.T) {
	_, base := newPlaybackServer(t)
	conn := dial(t, base+"/ws/playback/job-1?frames=1")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, _, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wsclient.TextMessage, kind)

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, wsclient.BinaryMessage, kind)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())
}
