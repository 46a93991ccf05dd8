// Package handlers implements the streaming HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hisui-tv/hisui/internal/encoder"
	"github.com/hisui-tv/hisui/internal/livestream"
	"github.com/hisui-tv/hisui/internal/service"
	"github.com/hisui-tv/hisui/internal/videostream"
)

// StreamHandler serves live and recorded streams.
type StreamHandler struct {
	live   *service.LiveService
	video  *service.VideoService
	logger *slog.Logger
}

// NewStreamHandler builds the handler over both services.
func NewStreamHandler(live *service.LiveService, video *service.VideoService, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{live: live, video: video, logger: logger}
}

// Mount registers the stream routes.
func (h *StreamHandler) Mount(r chi.Router) {
	r.Route("/api/streams", func(r chi.Router) {
		r.Get("/live/{channel}/{quality}/mpegts", h.liveMPEGTS)
		r.Get("/live/{channel}/{quality}/ll-hls/*", h.liveLLHLS)

		r.Post("/video/{video}/{quality}/session", h.openVideoSession)
		r.Delete("/video/{session}", h.closeVideoSession)
		r.Get("/video/{session}/segment/{segment}", h.videoSegment)
	})
}

// resolveLive validates the channel and quality and returns the stream
// singleton plus the resolved quality profile.
func (h *StreamHandler) resolveLive(w http.ResponseWriter, r *http.Request) (*livestream.LiveStream, encoder.QualityProfile, bool) {
	channelID := chi.URLParam(r, "channel")
	quality := chi.URLParam(r, "quality")

	if _, err := h.live.Channel(channelID); err != nil {
		if errors.Is(err, service.ErrChannelNotFound) {
			http.Error(w, "channel not found", http.StatusNotFound)
		} else {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return nil, encoder.QualityProfile{}, false
	}
	profile, err := encoder.LookupProfile(quality)
	if err != nil {
		http.Error(w, "quality not found", http.StatusNotFound)
		return nil, encoder.QualityProfile{}, false
	}
	return h.live.Streams().GetOrCreate(channelID, quality), profile, true
}

// liveMPEGTS streams encoded TS chunks until the viewer goes away or
// the stream shuts down.
func (h *StreamHandler) liveMPEGTS(w http.ResponseWriter, r *http.Request) {
	ls, _, ok := h.resolveLive(w, r)
	if !ok {
		return
	}

	clientID := ls.Connect(livestream.ClientMPEGTS)
	defer ls.Disconnect(clientID)

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for {
		chunk, err := ls.ReadStreamData(r.Context(), clientID)
		if err != nil {
			return
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// liveLLHLS serves the LL-HLS subtree (playlist.m3u8, init.mp4,
// segment and part m4s) by delegating to the stream's segmenter.
// Blocking _HLS_msn/_HLS_part requests are handled inside the muxer;
// ?secondary=1 selects the second audio track's playlist.
func (h *StreamHandler) liveLLHLS(w http.ResponseWriter, r *http.Request) {
	ls, profile, ok := h.resolveLive(w, r)
	if !ok {
		return
	}

	seg := h.live.Segmenter(ls, service.GOPDurationFor(profile))
	secondary := r.URL.Query().Get("secondary") == "1"

	// The muxer routes by the file name; strip the mount prefix.
	if idx := strings.Index(r.URL.Path, "/ll-hls/"); idx >= 0 {
		r.URL.Path = r.URL.Path[idx+len("/ll-hls/"):]
		if !strings.HasPrefix(r.URL.Path, "/") {
			r.URL.Path = "/" + r.URL.Path
		}
	}
	seg.Handle(secondary, w, r)
}

// openVideoSession plans a playback session for a recording and
// returns its id.
func (h *StreamHandler) openVideoSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.video.OpenSession(chi.URLParam(r, "video"), chi.URLParam(r, "quality"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrVideoNotFound):
			http.Error(w, "recorded video not found", http.StatusNotFound)
		case errors.Is(err, encoder.ErrUnknownQuality):
			http.Error(w, "quality not found", http.StatusNotFound)
		default:
			h.logger.Error("video session open failed", slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"session_id": sess.ID})
}

// closeVideoSession cancels the session's encoder run.
func (h *StreamHandler) closeVideoSession(w http.ResponseWriter, r *http.Request) {
	h.video.CloseSession(chi.URLParam(r, "session"))
	w.WriteHeader(http.StatusNoContent)
}

// videoSegment returns one encoded segment, waiting for the encoder to
// reach it if necessary.
func (h *StreamHandler) videoSegment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.video.Session(chi.URLParam(r, "session"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	name := chi.URLParam(r, "segment")
	n, err := strconv.Atoi(strings.TrimSuffix(name, ".ts"))
	if err != nil || n < 0 {
		http.Error(w, "bad segment index", http.StatusBadRequest)
		return
	}

	data, err := sess.GetSegment(r.Context(), n)
	if err != nil {
		switch {
		case errors.Is(err, videostream.ErrSegmentOutOfRange):
			http.Error(w, "segment out of range", http.StatusNotFound)
		case errors.Is(err, videostream.ErrSessionClosed):
			http.Error(w, "session closed", http.StatusGone)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Client went away while waiting.
		default:
			h.logger.Error("segment fetch failed", slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}
