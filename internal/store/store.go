package store

import (
	"context"
	"time"

	"github.com/channelvault/channelvault/internal/models"
)

// Store is the persistence surface the ingestion engine and the read-side
// API consume. Bulk operations carry wipe-and-replace semantics: a user's
// channel and program sets are deleted and re-inserted per sync cycle,
// never merged.
type Store interface {
	// ListLiveTVUsers returns every user whose record carries a live-TV
	// configuration object, including corrupted ones. Users without any
	// configuration are not returned (and are never touched by a sync).
	ListLiveTVUsers(ctx context.Context) ([]models.User, error)
	// GetUser returns a single user by username, or nil when absent.
	GetUser(ctx context.Context, username string) (*models.User, error)

	// DeleteChannels removes all channel rows for the given usernames.
	DeleteChannels(ctx context.Context, usernames []string) error
	// InsertChannels bulk-inserts freshly parsed channel rows.
	InsertChannels(ctx context.Context, channels []models.Channel) error
	// DeletePrograms removes all program rows for the given usernames.
	DeletePrograms(ctx context.Context, usernames []string) error
	// InsertPrograms bulk-inserts freshly parsed program rows.
	InsertPrograms(ctx context.Context, programs []models.Program) error

	// ListChannels returns a user's channels ordered by name.
	ListChannels(ctx context.Context, username string) ([]models.Channel, error)
	// ListPrograms returns programs for (user, channel) ordered by start.
	ListPrograms(ctx context.Context, username, channelID string) ([]models.Program, error)
	// GetChannel returns one channel, or nil when absent.
	GetChannel(ctx context.Context, username, channelID string) (*models.Channel, error)
	// NowPlaying maps channel id to the program airing at the given instant
	// for a user's channels.
	NowPlaying(ctx context.Context, username string, at time.Time) (map[string]models.Program, error)
}
