package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/loqalabs/loqa-tone/internal/renderstore"
	"github.com/loqalabs/loqa-tone/internal/synth"
	"github.com/loqalabs/loqa-tone/internal/wavfile"
)

const maxBodyBytes = 1 << 20

func (h *handlers) listPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": h.opts.Renderer.Presets()})
}

// createRender streams the WAV file back unless ?save=true asks for it to
// be archived, in which case the catalog entry is returned instead.
func (h *handlers) createRender(w http.ResponseWriter, r *http.Request) {
	tr, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	if save, _ := strconv.ParseBool(r.URL.Query().Get("save")); save {
		if h.opts.Archive == nil {
			writeError(w, http.StatusServiceUnavailable, protocol.ErrorCodeUnavailable, "render archive is not configured")
			return
		}
		rendered, err := h.opts.Archive.Render(r.Context(), tr)
		if err != nil {
			h.renderFailed(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rendered)
		return
	}

	req, err := h.opts.Renderer.Resolve(tr)
	if err != nil {
		h.renderFailed(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.FileName()))
	w.Header().Set("Content-Length", strconv.FormatInt(wavfile.HeaderSize+req.DataSize(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := h.opts.Renderer.Stream(r.Context(), req, w); err != nil {
		// headers are gone; the client sees a short body
		h.log.Warn("render stream aborted", slog.String("name", req.FileName()), slogError(err))
	}
}

func (h *handlers) renderFailed(w http.ResponseWriter, err error) {
	if synth.IsRequestError(err) {
		writeError(w, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, err.Error())
		return
	}
	h.log.Error("render failed", slogError(err))
	writeError(w, http.StatusInternalServerError, protocol.ErrorCodeInternal, err.Error())
}

func (h *handlers) decodeRequest(w http.ResponseWriter, r *http.Request) (protocol.ToneRequest, bool) {
	var tr protocol.ToneRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tr); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, "invalid request body: "+err.Error())
		return tr, false
	}
	return tr, true
}

func (h *handlers) listRenders(w http.ResponseWriter, r *http.Request) {
	opts := renderstore.ListOptions{SessionID: r.URL.Query().Get("session_id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}
	renders, err := h.opts.Catalog.List(r.Context(), opts)
	if err != nil {
		h.log.Error("list renders failed", slogError(err))
		writeError(w, http.StatusInternalServerError, protocol.ErrorCodeInternal, err.Error())
		return
	}
	if renders == nil {
		renders = []renderstore.Render{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"renders": renders})
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) (renderstore.Render, bool) {
	rec, err := h.opts.Catalog.Get(r.Context(), chi.URLParam(r, "renderID"))
	if errors.Is(err, renderstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, protocol.ErrorCodeInvalidRequest, err.Error())
		return rec, false
	}
	if err != nil {
		h.log.Error("get render failed", slogError(err))
		writeError(w, http.StatusInternalServerError, protocol.ErrorCodeInternal, err.Error())
		return rec, false
	}
	return rec, true
}

func (h *handlers) getRender(w http.ResponseWriter, r *http.Request) {
	if rec, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *handlers) getRenderFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if rec.Path == "" {
		writeError(w, http.StatusNotFound, protocol.ErrorCodeInvalidRequest, "render has no stored file")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	http.ServeFile(w, r, rec.Path)
}

func (h *handlers) playbackStatus(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Player == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrorCodeUnavailable, "playback is disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Player.Status())
}

func (h *handlers) play(w http.ResponseWriter, r *http.Request) {
	if h.opts.Player == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrorCodeUnavailable, "playback is disabled")
		return
	}
	tr, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	req, err := h.opts.Renderer.Resolve(tr)
	if err == nil {
		err = h.opts.Player.Play(req)
	}
	if err != nil {
		h.renderFailed(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.opts.Player.Status())
}

func (h *handlers) stop(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Player == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrorCodeUnavailable, "playback is disabled")
		return
	}
	if err := h.opts.Player.Stop(); err != nil {
		h.log.Error("stop playback failed", slogError(err))
		writeError(w, http.StatusInternalServerError, protocol.ErrorCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Player.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ToneError{Code: code, Error: strings.TrimSpace(msg)})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
