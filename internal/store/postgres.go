package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelvault/channelvault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// --- users (read-only for this service) ---

func (p *Postgres) ListLiveTVUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT username, live_tv, created_at FROM users WHERE live_tv IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("ListLiveTVUsers: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListLiveTVUsers rows: %w", err)
	}
	return users, nil
}

func (p *Postgres) GetUser(ctx context.Context, username string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT username, live_tv, created_at FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var liveTV []byte
	if err := row.Scan(&u.Username, &liveTV, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if len(liveTV) > 0 {
		// Unmarshalling into pointer fields preserves the absent-key vs
		// empty-value distinction the corruption check depends on.
		var cfg models.LiveTVConfig
		if err := json.Unmarshal(liveTV, &cfg); err != nil {
			return nil, fmt.Errorf("decode live_tv for %s: %w", u.Username, err)
		}
		u.LiveTV = &cfg
	}
	return &u, nil
}

// --- bulk replace ---

func (p *Postgres) DeleteChannels(ctx context.Context, usernames []string) error {
	if len(usernames) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE username = ANY($1)`, usernames)
	if err != nil {
		return fmt.Errorf("DeleteChannels: %w", err)
	}
	return nil
}

func (p *Postgres) InsertChannels(ctx context.Context, channels []models.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"channels"},
		[]string{"username", "channel_id", "name", "url", "tvg_id", "tvg_name", "tvg_logo", "group_title", "duration", "created_at", "last_updated"},
		pgx.CopyFromSlice(len(channels), func(i int) ([]any, error) {
			ch := channels[i]
			return []any{
				ch.Username, ch.ChannelID, ch.Name, ch.URL,
				ch.TvgID, ch.TvgName, ch.TvgLogo, ch.GroupTitle,
				ch.Duration, ch.CreatedAt, ch.LastUpdated,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("InsertChannels: %w", err)
	}
	return nil
}

func (p *Postgres) DeletePrograms(ctx context.Context, usernames []string) error {
	if len(usernames) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM programs WHERE username = ANY($1)`, usernames)
	if err != nil {
		return fmt.Errorf("DeletePrograms: %w", err)
	}
	return nil
}

func (p *Postgres) InsertPrograms(ctx context.Context, programs []models.Program) error {
	if len(programs) == 0 {
		return nil
	}
	// CopyFrom streams rows over the wire in protocol-level batches, which
	// absorbs full-guide inserts without building giant SQL statements.
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"programs"},
		[]string{"username", "channel_id", "start_at", "stop_at", "start_ms", "stop_ms", "title", "descr", "category", "icon", "episode", "created_at", "last_updated"},
		pgx.CopyFromSlice(len(programs), func(i int) ([]any, error) {
			pr := programs[i]
			return []any{
				pr.Username, pr.ChannelID, pr.Start, pr.Stop,
				pr.StartMs(), pr.StopMs(), pr.Title,
				pr.Desc, pr.Category, pr.Icon, pr.Episode,
				pr.CreatedAt, pr.LastUpdated,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("InsertPrograms: %w", err)
	}
	return nil
}

// --- read paths ---

func (p *Postgres) ListChannels(ctx context.Context, username string) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT username, channel_id, name, url, tvg_id, tvg_name, tvg_logo, group_title, duration, created_at, last_updated
		 FROM channels WHERE username = $1 ORDER BY name, channel_id`, username)
	if err != nil {
		return nil, fmt.Errorf("ListChannels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.Username, &ch.ChannelID, &ch.Name, &ch.URL,
			&ch.TvgID, &ch.TvgName, &ch.TvgLogo, &ch.GroupTitle,
			&ch.Duration, &ch.CreatedAt, &ch.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListChannels rows: %w", err)
	}
	return channels, nil
}

func (p *Postgres) GetChannel(ctx context.Context, username, channelID string) (*models.Channel, error) {
	var ch models.Channel
	err := p.pool.QueryRow(ctx,
		`SELECT username, channel_id, name, url, tvg_id, tvg_name, tvg_logo, group_title, duration, created_at, last_updated
		 FROM channels WHERE username = $1 AND channel_id = $2`, username, channelID).
		Scan(&ch.Username, &ch.ChannelID, &ch.Name, &ch.URL,
			&ch.TvgID, &ch.TvgName, &ch.TvgLogo, &ch.GroupTitle,
			&ch.Duration, &ch.CreatedAt, &ch.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetChannel: %w", err)
	}
	return &ch, nil
}

func (p *Postgres) ListPrograms(ctx context.Context, username, channelID string) ([]models.Program, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT username, channel_id, start_at, stop_at, title, descr, category, icon, episode, created_at, last_updated
		 FROM programs WHERE username = $1 AND channel_id = $2 ORDER BY start_at`, username, channelID)
	if err != nil {
		return nil, fmt.Errorf("ListPrograms: %w", err)
	}
	defer rows.Close()
	return collectPrograms(rows)
}

func (p *Postgres) NowPlaying(ctx context.Context, username string, at time.Time) (map[string]models.Program, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT ON (channel_id)
		        username, channel_id, start_at, stop_at, title, descr, category, icon, episode, created_at, last_updated
		 FROM programs
		 WHERE username = $1 AND start_at <= $2 AND stop_at >= $2
		 ORDER BY channel_id, start_at`, username, at)
	if err != nil {
		return nil, fmt.Errorf("NowPlaying: %w", err)
	}
	defer rows.Close()

	programs, err := collectPrograms(rows)
	if err != nil {
		return nil, err
	}
	current := make(map[string]models.Program, len(programs))
	for _, pr := range programs {
		current[pr.ChannelID] = pr
	}
	return current, nil
}

func collectPrograms(rows pgx.Rows) ([]models.Program, error) {
	var programs []models.Program
	for rows.Next() {
		var pr models.Program
		if err := rows.Scan(&pr.Username, &pr.ChannelID, &pr.Start, &pr.Stop,
			&pr.Title, &pr.Desc, &pr.Category, &pr.Icon, &pr.Episode,
			&pr.CreatedAt, &pr.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		programs = append(programs, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("programs rows: %w", err)
	}
	return programs, nil
}
