package tone

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-tone/internal/bus"
	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/natsserver"
	"github.com/loqalabs/loqa-tone/internal/playback"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/loqalabs/loqa-tone/internal/render"
	"github.com/loqalabs/loqa-tone/internal/renderstore"
)

type harness struct {
	svc   *Service
	conn  *nats.Conn
	store *renderstore.Store
	dir   string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHarness(t *testing.T, maxRenders int, session *playback.Session) harness {
	t.Helper()
	return newHarnessWithStore(t, func(dir string) config.RenderStoreConfig {
		return config.RenderStoreConfig{
			Path:          filepath.Join(dir, "renders.db"),
			RetentionMode: "session",
			MaxRenders:    maxRenders,
		}
	}, session)
}

func newHarnessWithStore(t *testing.T, storeCfg func(dir string) config.RenderStoreConfig, session *playback.Session) harness {
	t.Helper()
	log := discardLogger()
	ctx := context.Background()

	busCfg := config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(busCfg, log)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(ctx, busCfg, srv.ClientURL(), log)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	dir := t.TempDir()
	store, err := renderstore.Open(ctx, storeCfg(dir), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	renderCfg := config.Default().Render
	renderCfg.SampleRate = 8000
	renderCfg.DurationSeconds = 0.5
	renderer, err := render.New(renderCfg, nil, log)
	require.NoError(t, err)

	toneCfg := config.ToneConfig{Enabled: true, SubjectPrefix: "tone", RequestTimeoutMS: 5000, PublishEvents: true}
	svc := NewService(ctx, toneCfg, filepath.Join(dir, "out"), client, renderer, store, session, log)
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	require.True(t, svc.Healthy())

	return harness{svc: svc, conn: client.Conn(), store: store, dir: dir}
}

func request(t *testing.T, conn *nats.Conn, suffix string, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	msg, err := conn.Request(protocol.Subject("tone", suffix), data, 5*time.Second)
	require.NoError(t, err)
	return msg.Data
}

func TestRenderOverBus(t *testing.T) {
	h := newHarness(t, 0, nil)

	events, err := h.conn.SubscribeSync(protocol.Subject("tone", protocol.SubjectRendered))
	require.NoError(t, err)
	require.NoError(t, h.conn.Flush())

	reply := request(t, h.conn, protocol.SubjectRender, protocol.ToneRequest{
		SessionID:   "bench-1",
		FrequencyHz: 440,
		Amplitude:   0.5,
	})
	var rendered protocol.ToneRendered
	require.NoError(t, json.Unmarshal(reply, &rendered))
	require.NotEmpty(t, rendered.ID)
	require.Equal(t, "bench-1", rendered.SessionID)
	require.Equal(t, 4000, rendered.Frames)
	require.EqualValues(t, 8044, rendered.SizeBytes)

	info, err := os.Stat(rendered.Path)
	require.NoError(t, err)
	require.EqualValues(t, rendered.SizeBytes, info.Size())
	require.Equal(t, rendered.ID+"-"+rendered.Name, filepath.Base(rendered.Path))

	rec, err := h.store.Get(context.Background(), rendered.ID)
	require.NoError(t, err)
	require.Equal(t, "single", rec.Mode)
	require.Equal(t, rendered.Path, rec.Path)

	msg, err := events.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var event protocol.ToneRendered
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	require.Equal(t, rendered.ID, event.ID)
}

func TestRenderRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, 0, nil)

	reply := request(t, h.conn, protocol.SubjectRender, protocol.ToneRequest{Mode: "multi", Amplitude: 0.5})
	var toneErr protocol.ToneError
	require.NoError(t, json.Unmarshal(reply, &toneErr))
	require.Equal(t, protocol.ErrorCodeInvalidRequest, toneErr.Code)
	require.NotEmpty(t, toneErr.Error)

	msg, err := h.conn.Request(protocol.Subject("tone", protocol.SubjectRender), []byte("{"), 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, &toneErr))
	require.Equal(t, protocol.ErrorCodeInvalidRequest, toneErr.Code)

	list, err := h.store.List(context.Background(), renderstore.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPlaybackUnavailableWithoutSession(t *testing.T) {
	h := newHarness(t, 0, nil)

	reply := request(t, h.conn, protocol.SubjectPlay, protocol.ToneRequest{FrequencyHz: 440})
	var toneErr protocol.ToneError
	require.NoError(t, json.Unmarshal(reply, &toneErr))
	require.Equal(t, protocol.ErrorCodeUnavailable, toneErr.Code)
}

func TestPlayAndStopOverBus(t *testing.T) {
	session := playback.NewSession(playback.NewNullDevice(8000), 0, discardLogger())
	t.Cleanup(func() { _ = session.Close() })
	h := newHarness(t, 0, session)

	reply := request(t, h.conn, protocol.SubjectPlay, protocol.ToneRequest{SessionID: "s", FrequencyHz: 440, Waveform: "square"})
	var status protocol.PlaybackStatus
	require.NoError(t, json.Unmarshal(reply, &status))
	require.True(t, status.Playing)
	require.Equal(t, "null", status.Device)
	require.Equal(t, "square", status.Waveform)
	require.Equal(t, "s", status.SessionID)

	reply = request(t, h.conn, protocol.SubjectStop, protocol.PlaybackStop{SessionID: "s"})
	status = protocol.PlaybackStatus{}
	require.NoError(t, json.Unmarshal(reply, &status))
	require.False(t, status.Playing)
	require.False(t, session.Playing())
}

func TestPruneDeletesFiles(t *testing.T) {
	h := newHarness(t, 1, nil)
	ctx := context.Background()

	first, err := h.svc.Render(ctx, protocol.ToneRequest{FrequencyHz: 440})
	require.NoError(t, err)
	second, err := h.svc.Render(ctx, protocol.ToneRequest{FrequencyHz: 880})
	require.NoError(t, err)

	n, err := h.svc.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	remaining := 0
	for _, path := range []string{first.Path, second.Path} {
		if _, err := os.Stat(path); err == nil {
			remaining++
		}
	}
	require.Equal(t, 1, remaining)

	list, err := h.store.List(ctx, renderstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestEphemeralStoreRefusesToArchive(t *testing.T) {
	h := newHarnessWithStore(t, func(string) config.RenderStoreConfig {
		return config.RenderStoreConfig{RetentionMode: "ephemeral"}
	}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.Render(ctx, protocol.ToneRequest{FrequencyHz: 440})
		require.ErrorIs(t, err, ErrArchiveDisabled)
	}

	reply := request(t, h.conn, protocol.SubjectRender, protocol.ToneRequest{FrequencyHz: 440})
	var toneErr protocol.ToneError
	require.NoError(t, json.Unmarshal(reply, &toneErr))
	require.Equal(t, protocol.ErrorCodeUnavailable, toneErr.Code)

	_, err := os.Stat(filepath.Join(h.dir, "out"))
	require.ErrorIs(t, err, os.ErrNotExist)

	n, err := h.svc.Prune(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDisabledServiceSubscribesNothing(t *testing.T) {
	log := discardLogger()
	svc := NewService(context.Background(), config.ToneConfig{}, t.TempDir(), nil, nil, nil, nil, log)
	require.NoError(t, svc.Start())
	require.True(t, svc.Healthy())
	svc.Close()
}
