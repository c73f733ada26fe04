package models

import (
	"strings"
	"time"
)

// LiveTVConfig is a user's live-TV subscription: where to pull the playlist
// and, optionally, the programme guide from. Pointer fields distinguish an
// absent key from an empty value, which matters for corruption detection.
type LiveTVConfig struct {
	M3UURL *string `json:"m3u_url,omitempty"`
	EPGURL *string `json:"epg_url,omitempty"`
}

// User is the slice of the user record the ingestion engine reads. The rest
// of the user domain (auth, watchlists) lives outside this service.
type User struct {
	Username  string        `json:"username"`
	LiveTV    *LiveTVConfig `json:"live_tv,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

// M3UURL returns the trimmed playlist URL, or "" when not configured.
func (u *User) M3UURL() string {
	if u.LiveTV == nil || u.LiveTV.M3UURL == nil {
		return ""
	}
	return strings.TrimSpace(*u.LiveTV.M3UURL)
}

// EPGURL returns the trimmed guide URL, or "" when not configured.
func (u *User) EPGURL() string {
	if u.LiveTV == nil || u.LiveTV.EPGURL == nil {
		return ""
	}
	return strings.TrimSpace(*u.LiveTV.EPGURL)
}
