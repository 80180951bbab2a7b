package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/playback"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/loqalabs/loqa-tone/internal/render"
	"github.com/loqalabs/loqa-tone/internal/renderstore"
	"github.com/loqalabs/loqa-tone/internal/wavfile"
)

type stubArchive struct {
	got protocol.ToneRequest
}

func (s *stubArchive) Render(_ context.Context, req protocol.ToneRequest) (protocol.ToneRendered, error) {
	s.got = req
	return protocol.ToneRendered{ID: "r-1", SessionID: req.SessionID, Name: "tone.wav"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestOptions(t *testing.T) (Options, *renderstore.Store) {
	t.Helper()
	log := discardLogger()
	renderer, err := render.New(config.Default().Render, nil, log)
	require.NoError(t, err)
	store, err := renderstore.Open(context.Background(), config.RenderStoreConfig{
		Path:          filepath.Join(t.TempDir(), "renders.db"),
		RetentionMode: "session",
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return Options{Renderer: renderer, Catalog: store, Logger: log}, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) protocol.ToneError {
	t.Helper()
	var out protocol.ToneError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	opts, _ := newTestOptions(t)
	ready := false
	opts.Ready = func() bool { return ready }
	h := NewRouter(opts)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz", "").Code)
	ready = true
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)
}

func TestCreateRenderStreamsWAV(t *testing.T) {
	opts, _ := newTestOptions(t)
	h := NewRouter(opts)

	rec := do(t, h, http.MethodPost, "/v1/renders",
		`{"mode":"single","waveform":"sine","frequency_hz":440,"amplitude":0.5,"duration_seconds":1,"sample_rate":8000,"channels":1,"bit_depth":16}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	require.Equal(t, "16044", rec.Header().Get("Content-Length"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), ".wav")
	require.Equal(t, 16044, rec.Body.Len())

	hdr, err := wavfile.ReadHeader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 8000, hdr.SampleRate)
	require.EqualValues(t, 16000, hdr.DataSize)
}

func TestCreateRenderRejectsBadRequests(t *testing.T) {
	opts, _ := newTestOptions(t)
	h := NewRouter(opts)

	rec := do(t, h, http.MethodPost, "/v1/renders", `{"mode":"chirp"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, protocol.ErrorCodeInvalidRequest, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodPost, "/v1/renders", `{"frequency_hz":440,"amplitude":2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/renders", `{"volume":11}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/renders", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRenderSave(t *testing.T) {
	opts, _ := newTestOptions(t)
	h := NewRouter(opts)
	rec := do(t, h, http.MethodPost, "/v1/renders?save=true", `{"frequency_hz":440}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	archive := &stubArchive{}
	opts.Archive = archive
	h = NewRouter(opts)
	rec = do(t, h, http.MethodPost, "/v1/renders?save=true", `{"session_id":"s1","frequency_hz":440}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out protocol.ToneRendered
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "r-1", out.ID)
	require.Equal(t, "s1", archive.got.SessionID)
	require.Equal(t, 440.0, archive.got.FrequencyHz)
}

func TestListPresets(t *testing.T) {
	opts, _ := newTestOptions(t)
	rec := do(t, NewRouter(opts), http.MethodGet, "/v1/presets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Presets []struct {
			Name string `json:"name"`
		} `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	names := make([]string, 0, len(out.Presets))
	for _, p := range out.Presets {
		names = append(names, p.Name)
	}
	require.Contains(t, names, "1000hz")
	require.Contains(t, names, "sweep")
}

func TestRenderCatalog(t *testing.T) {
	opts, store := newTestOptions(t)
	h := NewRouter(opts)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF-not-really"), 0o600))
	_, err := store.Record(ctx, renderstore.Render{
		ID: "a", SessionID: "s1", Name: "a.wav", Mode: "single", Waveform: "sine",
		SampleRate: 8000, Channels: 1, BitDepth: 16, DurationSeconds: 1, Frames: 8000, SizeBytes: 15, Path: path,
	})
	require.NoError(t, err)
	_, err = store.Record(ctx, renderstore.Render{
		ID: "b", SessionID: "s2", Name: "b.wav", Mode: "sweep", Waveform: "sine",
		SampleRate: 8000, Channels: 1, BitDepth: 16, DurationSeconds: 1, Frames: 8000, SizeBytes: 16044,
	})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/v1/renders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Renders []renderstore.Render `json:"renders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Renders, 2)

	rec = do(t, h, http.MethodGet, "/v1/renders?session_id=s1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Renders, 1)
	require.Equal(t, "a", list.Renders[0].ID)

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/renders?limit=x", "").Code)

	rec = do(t, h, http.MethodGet, "/v1/renders/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one renderstore.Render
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Equal(t, "a.wav", one.Name)

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/renders/missing", "").Code)

	rec = do(t, h, http.MethodGet, "/v1/renders/a/file", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "RIFF-not-really", rec.Body.String())

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/renders/b/file", "").Code)
}

func TestPlaybackEndpoints(t *testing.T) {
	opts, _ := newTestOptions(t)
	require.Equal(t, http.StatusServiceUnavailable, do(t, NewRouter(opts), http.MethodGet, "/v1/playback", "").Code)

	session := playback.NewSession(playback.NewNullDevice(8000), 0, discardLogger())
	t.Cleanup(func() { _ = session.Close() })
	opts.Player = session
	h := NewRouter(opts)

	rec := do(t, h, http.MethodPost, "/v1/playback", `{"frequency_hz":1000,"waveform":"triangle","sample_rate":8000}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var st playback.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.True(t, st.Playing)
	require.Equal(t, "triangle", st.Waveform)

	rec = do(t, h, http.MethodGet, "/v1/playback", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/v1/playback", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st = playback.Status{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.False(t, st.Playing)

	rec = do(t, h, http.MethodPost, "/v1/playback", `{"mode":"multi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	opts, _ := newTestOptions(t)
	opts.CORSOrigins = []string{"http://bench.local"}
	h := NewRouter(opts)

	req := httptest.NewRequest(http.MethodOptions, "/v1/presets", nil)
	req.Header.Set("Origin", "http://bench.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "http://bench.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/presets", nil)
	req.Header.Set("Origin", "http://elsewhere.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsMounted(t *testing.T) {
	opts, _ := newTestOptions(t)
	require.Equal(t, http.StatusNotFound, do(t, NewRouter(opts), http.MethodGet, "/metrics", "").Code)

	opts.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	rec := do(t, NewRouter(opts), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "# metrics", rec.Body.String())
}
