package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/experience/internal/audio"
	"github.com/giftcraft/experience/internal/platform/httpx"
)

// audioSession is implemented by editor and viewer sessions.
type audioSession interface {
	Audio() *audio.Coordinator
	AudioLog() *audio.CommandLog
}

type audioLookup func(w http.ResponseWriter, r *http.Request) (audioSession, bool)

type audioResponse struct {
	State    audio.State     `json:"state"`
	Changed  *bool           `json:"changed,omitempty"`
	Commands []audio.Command `json:"commands"`
	LastSeq  int             `json:"lastSeq"`
}

type playRequest struct {
	URL string `json:"url"`
}

type mutedRequest struct {
	Muted bool `json:"muted"`
}

type duckRequest struct {
	EffectID string `json:"effectId"`
}

// registerAudioRoutes mounts the audio endpoints under /{sid}. lookup writes its own error response.
func registerAudioRoutes(r chi.Router, lookup audioLookup) {
	r.Get("/{sid}/audio", func(w http.ResponseWriter, req *http.Request) {
		session, ok := lookup(w, req)
		if !ok {
			return
		}
		after := 0
		if raw := strings.TrimSpace(req.URL.Query().Get("after")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				httpx.WriteError(req.Context(), w, httpx.NewError("invalid_request", "after must be a non-negative integer", http.StatusBadRequest))
				return
			}
			after = parsed
		}
		writeAudio(w, session, after, nil)
	})

	r.Post("/{sid}/audio:unlock", func(w http.ResponseWriter, req *http.Request) {
		session, ok := lookup(w, req)
		if !ok {
			return
		}
		after := session.AudioLog().Last()
		changed := session.Audio().Unlock()
		writeAudio(w, session, after, &changed)
	})

	r.Post("/{sid}/audio:play", func(w http.ResponseWriter, req *http.Request) {
		session, ok := lookup(w, req)
		if !ok {
			return
		}
		var payload playRequest
		if req.ContentLength != 0 {
			if err := httpx.DecodeJSON(w, req, maxJSONBody, &payload); err != nil {
				writeInvalidBody(req.Context(), w, err)
				return
			}
		}
		after := session.AudioLog().Last()
		session.Audio().PlayBackground(strings.TrimSpace(payload.URL))
		writeAudio(w, session, after, nil)
	})

	r.Put("/{sid}/audio/muted", func(w http.ResponseWriter, req *http.Request) {
		session, ok := lookup(w, req)
		if !ok {
			return
		}
		var payload mutedRequest
		if err := httpx.DecodeJSON(w, req, maxJSONBody, &payload); err != nil {
			writeInvalidBody(req.Context(), w, err)
			return
		}
		after := session.AudioLog().Last()
		session.Audio().SetMuted(payload.Muted)
		writeAudio(w, session, after, nil)
	})

	r.Post("/{sid}/audio:duck", func(w http.ResponseWriter, req *http.Request) {
		session, ok := lookup(w, req)
		if !ok {
			return
		}
		var payload duckRequest
		if err := httpx.DecodeJSON(w, req, maxJSONBody, &payload); err != nil {
			writeInvalidBody(req.Context(), w, err)
			return
		}
		effect := strings.TrimSpace(payload.EffectID)
		if effect == "" {
			httpx.WriteError(req.Context(), w, httpx.NewError("invalid_request", "effectId is required", http.StatusBadRequest))
			return
		}
		after := session.AudioLog().Last()
		played := session.Audio().Duck(effect)
		writeAudio(w, session, after, &played)
	})
}

func writeAudio(w http.ResponseWriter, session audioSession, after int, changed *bool) {
	log := session.AudioLog()
	httpx.WriteJSON(w, http.StatusOK, audioResponse{
		State:    session.Audio().Snapshot(),
		Changed:  changed,
		Commands: log.Since(after),
		LastSeq:  log.Last(),
	})
}
