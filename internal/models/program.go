package models

import "time"

// Program is one programme entry parsed from a user's XMLTV guide, keyed by
// (username, channel_id, start, stop) in epoch milliseconds. Programs are
// replaced wholesale on every sync.
type Program struct {
	Username    string    `json:"username"`
	ChannelID   string    `json:"channel_id"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Title       string    `json:"title"`
	Desc        *string   `json:"desc,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Icon        *string   `json:"icon,omitempty"`
	Episode     *string   `json:"episode,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// StartMs returns the start instant in epoch milliseconds (dedup key part).
func (p *Program) StartMs() int64 { return p.Start.UnixMilli() }

// StopMs returns the stop instant in epoch milliseconds (dedup key part).
func (p *Program) StopMs() int64 { return p.Stop.UnixMilli() }
