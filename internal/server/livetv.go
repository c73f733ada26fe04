package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/channelvault/channelvault/internal/models"
)

// channelView is a channel plus its optional now-playing annotation.
type channelView struct {
	models.Channel
	NowPlaying *models.Program `json:"now_playing,omitempty"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("username parameter is required"))
		return
	}

	channels, err := s.store.ListChannels(r.Context(), username)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		views = append(views, channelView{Channel: ch})
	}

	if v := r.URL.Query().Get("now"); v == "1" || v == "true" {
		airing, err := s.store.NowPlaying(r.Context(), username, time.Now().UTC())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		for i := range views {
			if p, ok := airing[views[i].ChannelID]; ok {
				prog := p
				views[i].NowPlaying = &prog
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channels": views,
		"total":    len(views),
	})
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := q.Get("username")
	channelID := q.Get("channel_id")
	if username == "" || channelID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("username and channel_id parameters are required"))
		return
	}

	programs, err := s.store.ListPrograms(r.Context(), username, channelID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if programs == nil {
		programs = []models.Program{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id": channelID,
		"programs":   programs,
		"total":      len(programs),
	})
}

// handlePlaylist regenerates a user's playlist from the stored channels with
// every stream URL rewritten through the local stream endpoint, so a player
// pointed here never learns the upstream provider URLs.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("username parameter is required"))
		return
	}

	channels, err := s.store.ListChannels(r.Context(), username)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range channels {
		b.WriteString(fmt.Sprintf("#EXTINF:%d", ch.Duration))
		if ch.TvgID != "" {
			b.WriteString(fmt.Sprintf(` tvg-id=%q`, ch.TvgID))
		}
		if ch.TvgName != "" {
			b.WriteString(fmt.Sprintf(` tvg-name=%q`, ch.TvgName))
		}
		if ch.TvgLogo != "" {
			b.WriteString(fmt.Sprintf(` tvg-logo=%q`, ch.TvgLogo))
		}
		if ch.GroupTitle != "" {
			b.WriteString(fmt.Sprintf(` group-title=%q`, ch.GroupTitle))
		}
		b.WriteString("," + ch.Name + "\n")
		b.WriteString(s.streamURL(username, ch.ChannelID) + "\n")
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename="playlist.m3u"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// streamURL builds the rewritten stream URL for one channel, carrying the
// api key as a query parameter because players cannot send headers.
func (s *Server) streamURL(username, channelID string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	u := fmt.Sprintf("%s/api/livetv/stream/%s?username=%s",
		base, url.PathEscape(channelID), url.QueryEscape(username))
	if s.cfg.APIKey != "" {
		u += "&api_key=" + url.QueryEscape(s.cfg.APIKey)
	}
	return u
}

func (s *Server) handleEPGFile(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("username parameter is required"))
		return
	}

	path, ok := s.cache.EPGPath(username)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("no cached guide for %s", username))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	http.ServeFile(w, r, path)
}

// handleStream resolves a channel to its upstream URL and redirects the
// player there. The service never proxies the media bytes itself.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("username parameter is required"))
		return
	}
	channelID, err := url.PathUnescape(chi.URLParam(r, "channelID"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid channel id"))
		return
	}

	ch, err := s.store.GetChannel(r.Context(), username, channelID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if ch == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("channel %s not found", channelID))
		return
	}
	http.Redirect(w, r, ch.URL, http.StatusFound)
}

// handleSync runs a full sync cycle inline and returns the per-user results.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("sync engine not configured"))
		return
	}
	res, err := s.syncer.SyncAllUsers(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("sync: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
