package models

import "time"

// Channel is one live channel parsed from a user's M3U playlist.
// Channels are replaced wholesale on every sync, keyed by (username, channel_id).
type Channel struct {
	Username    string    `json:"username"`
	ChannelID   string    `json:"channel_id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	TvgID       string    `json:"tvg_id,omitempty"`
	TvgName     string    `json:"tvg_name,omitempty"`
	TvgLogo     string    `json:"tvg_logo,omitempty"`
	GroupTitle  string    `json:"group_title,omitempty"`
	Duration    int       `json:"duration"` // seconds, -1 = unspecified
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}
