// Package tone exposes rendering and live playback on the message bus.
package tone

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-tone/internal/bus"
	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/playback"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/loqalabs/loqa-tone/internal/render"
	"github.com/loqalabs/loqa-tone/internal/renderstore"
	"github.com/loqalabs/loqa-tone/internal/synth"
)

// EventStream captures rendered events when the server supports JetStream.
const EventStream = "TONE_EVENTS"

// ErrArchiveDisabled is returned by Render when the render store keeps no
// records, so an archived file could never be listed or pruned.
var ErrArchiveDisabled = errors.New("render archive disabled: render store is ephemeral")

const pruneInterval = time.Hour

type Service struct {
	cfg       config.ToneConfig
	outputDir string
	bus       *bus.Client
	renderer  *render.Renderer
	store     *renderstore.Store
	session   *playback.Session
	subs      []*nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewService wires the bus handlers. session may be nil when playback is
// disabled; play and stop requests are then answered with an error.
func NewService(parent context.Context, cfg config.ToneConfig, outputDir string, busClient *bus.Client,
	renderer *render.Renderer, store *renderstore.Store, session *playback.Session, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		outputDir: outputDir,
		bus:       busClient,
		renderer:  renderer,
		store:     store,
		session:   session,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(slog.String("component", "tone-service")),
	}
}

func (s *Service) subject(suffix string) string {
	return protocol.Subject(s.cfg.SubjectPrefix, suffix)
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectRender: s.handleRender,
		protocol.SubjectPlay:   s.handlePlay,
		protocol.SubjectStop:   s.handleStop,
	}
	for suffix, handler := range handlers {
		sub, err := s.bus.Conn().QueueSubscribe(s.subject(suffix), "loqa-tone", handler)
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.bus.Conn().Flush(); err != nil {
		s.unsubscribe()
		return err
	}
	if s.cfg.PublishEvents {
		if err := s.bus.EnsureStream(EventStream, []string{s.subject(protocol.SubjectRendered)}, 0); err != nil {
			s.logger.Warn("rendered events will not be retained", slogError(err))
		}
	}

	s.wg.Add(1)
	go s.pruneLoop()
	return nil
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

func (s *Service) handleRender(msg *nats.Msg) {
	var req protocol.ToneRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tone request", slogError(err))
		s.respond(msg, protocol.ToneError{Code: protocol.ErrorCodeInvalidRequest, Error: err.Error()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
		defer cancel()

		rendered, err := s.Render(ctx, req)
		if err != nil {
			s.logger.Warn("tone render failed", slog.String("session_id", req.SessionID), slogError(err))
			s.respond(msg, toneError(req.SessionID, err))
			return
		}
		s.respond(msg, rendered)
		if s.cfg.PublishEvents {
			s.publish(s.subject(protocol.SubjectRendered), rendered)
		}
	}()
}

// Render resolves req, writes the file to the output directory and
// records it in the catalog. Nothing is written when the catalog is
// ephemeral.
func (s *Service) Render(ctx context.Context, req protocol.ToneRequest) (protocol.ToneRendered, error) {
	if !s.store.Persistent() {
		return protocol.ToneRendered{}, ErrArchiveDisabled
	}
	resolved, err := s.renderer.Resolve(req)
	if err != nil {
		return protocol.ToneRendered{}, err
	}
	id := uuid.NewString()
	res, err := s.renderer.WriteFile(ctx, resolved, s.outputDir, id)
	if err != nil {
		return protocol.ToneRendered{}, err
	}
	params, err := json.Marshal(resolved)
	if err != nil {
		return protocol.ToneRendered{}, err
	}
	rec, err := s.store.Record(ctx, renderstore.Render{
		ID:              id,
		SessionID:       req.SessionID,
		Name:            res.Name,
		Mode:            resolved.Mode.String(),
		Waveform:        resolved.Waveform.String(),
		SampleRate:      resolved.SampleRate,
		Channels:        resolved.Channels,
		BitDepth:        int(resolved.BitDepth),
		DurationSeconds: resolved.Duration,
		Frames:          res.Frames,
		SizeBytes:       res.SizeBytes,
		Path:            res.Path,
		Params:          params,
	})
	if err != nil {
		_ = os.Remove(res.Path)
		return protocol.ToneRendered{}, err
	}
	s.logger.Info("tone rendered",
		slog.String("id", id),
		slog.String("name", res.Name),
		slog.Int64("size_bytes", res.SizeBytes),
		slog.Duration("elapsed", res.Elapsed))
	return protocol.ToneRendered{
		ID:              id,
		SessionID:       req.SessionID,
		Name:            res.Name,
		Path:            res.Path,
		SizeBytes:       res.SizeBytes,
		Frames:          res.Frames,
		DurationSeconds: resolved.Duration,
		SampleRate:      resolved.SampleRate,
		Channels:        resolved.Channels,
		BitDepth:        int(resolved.BitDepth),
		Timestamp:       rec.CreatedAt,
	}, nil
}

func (s *Service) handlePlay(msg *nats.Msg) {
	var req protocol.ToneRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, protocol.ToneError{Code: protocol.ErrorCodeInvalidRequest, Error: err.Error()})
		return
	}
	if s.session == nil {
		s.respond(msg, protocol.ToneError{SessionID: req.SessionID, Code: protocol.ErrorCodeUnavailable, Error: playback.ErrDisabled.Error()})
		return
	}
	resolved, err := s.renderer.Resolve(req)
	if err == nil {
		err = s.session.Play(resolved)
	}
	if err != nil {
		s.logger.Warn("tone playback failed", slog.String("session_id", req.SessionID), slogError(err))
		s.respond(msg, toneError(req.SessionID, err))
		return
	}
	s.respond(msg, s.status(req.SessionID))
}

func (s *Service) handleStop(msg *nats.Msg) {
	var req protocol.PlaybackStop
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.respond(msg, protocol.ToneError{Code: protocol.ErrorCodeInvalidRequest, Error: err.Error()})
			return
		}
	}
	if s.session == nil {
		s.respond(msg, protocol.ToneError{SessionID: req.SessionID, Code: protocol.ErrorCodeUnavailable, Error: playback.ErrDisabled.Error()})
		return
	}
	if err := s.session.Stop(); err != nil {
		s.respond(msg, toneError(req.SessionID, err))
		return
	}
	s.respond(msg, s.status(req.SessionID))
}

func (s *Service) status(sessionID string) protocol.PlaybackStatus {
	st := s.session.Status()
	return protocol.PlaybackStatus{
		SessionID: sessionID,
		Playing:   st.Playing,
		Device:    st.Device,
		Mode:      st.Mode,
		Waveform:  st.Waveform,
		Timestamp: time.Now().UTC(),
	}
}

func (s *Service) pruneLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(s.ctx); err != nil {
				s.logger.Warn("render prune failed", slogError(err))
			}
		}
	}
}

// Prune applies catalog retention and deletes the files of removed renders.
func (s *Service) Prune(ctx context.Context) (int, error) {
	removed, err := s.store.Prune(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range removed {
		if r.Path == "" {
			continue
		}
		if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to delete pruned render", slog.String("path", r.Path), slogError(err))
		}
	}
	if len(removed) > 0 {
		s.logger.Info("pruned renders", slog.Int("count", len(removed)))
	}
	return len(removed), nil
}

func (s *Service) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal tone reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send tone reply", slogError(err))
	}
}

func (s *Service) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal tone event", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish tone event", slogError(err))
	}
}

func toneError(sessionID string, err error) protocol.ToneError {
	code := protocol.ErrorCodeInternal
	switch {
	case synth.IsRequestError(err):
		code = protocol.ErrorCodeInvalidRequest
	case errors.Is(err, ErrArchiveDisabled):
		code = protocol.ErrorCodeUnavailable
	}
	return protocol.ToneError{SessionID: sessionID, Code: code, Error: err.Error()}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
