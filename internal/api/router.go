// Package api serves rendering, the render catalog and live playback over
// HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/loqalabs/loqa-tone/internal/playback"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/loqalabs/loqa-tone/internal/render"
	"github.com/loqalabs/loqa-tone/internal/renderstore"
	"github.com/loqalabs/loqa-tone/internal/synth"
)

type Renderer interface {
	Resolve(protocol.ToneRequest) (synth.Request, error)
	Stream(ctx context.Context, req synth.Request, w io.Writer) (render.Result, error)
	Presets() []synth.Preset
}

// Archiver renders to disk and records the result.
type Archiver interface {
	Render(ctx context.Context, req protocol.ToneRequest) (protocol.ToneRendered, error)
}

type Catalog interface {
	Get(ctx context.Context, id string) (renderstore.Render, error)
	List(ctx context.Context, opts renderstore.ListOptions) ([]renderstore.Render, error)
}

type Player interface {
	Play(req synth.Request) error
	Stop() error
	Status() playback.Status
}

// Options wires the handlers. Archive, Player and Metrics may be nil.
type Options struct {
	Renderer    Renderer
	Archive     Archiver
	Catalog     Catalog
	Player      Player
	Metrics     http.Handler
	Ready       func() bool
	CORSOrigins []string
	Logger      *slog.Logger
}

type handlers struct {
	opts Options
	log  *slog.Logger
}

func NewRouter(opts Options) http.Handler {
	h := &handlers{opts: opts, log: opts.Logger.With(slog.String("component", "http"))}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(h.logRequests)
	r.Use(chimw.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/presets", h.listPresets)
		r.Route("/renders", func(r chi.Router) {
			r.Post("/", h.createRender)
			r.Get("/", h.listRenders)
			r.Route("/{renderID}", func(r chi.Router) {
				r.Get("/", h.getRender)
				r.Get("/file", h.getRenderFile)
			})
		})
		r.Route("/playback", func(r chi.Router) {
			r.Get("/", h.playbackStatus)
			r.Post("/", h.play)
			r.Delete("/", h.stop)
		})
	})
	return r
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) ready(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Ready == nil || h.opts.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
