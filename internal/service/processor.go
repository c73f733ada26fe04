package service

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/channelvault/channelvault/internal/fetcher"
	"github.com/channelvault/channelvault/internal/models"
)

// User-visible error strings. These surface verbatim in sync results, so
// downstream consumers match on them.
const (
	msgCorruptConfig  = "Live TV configuration is corrupted (m3u_url property missing)"
	msgM3UFetchFailed = "Failed to fetch M3U content"
	msgM3UParseFailed = "Failed to parse M3U content"
)

// userClass is the outcome of inspecting a user's live-TV configuration.
type userClass int

const (
	// classSkip: no configuration, or an explicitly empty playlist URL.
	// Not an error; the user is left untouched.
	classSkip userClass = iota
	// classCorrupt: a liveTV object exists but the m3u_url key itself is
	// missing. Someone broke the record; report it.
	classCorrupt
	// classEligible: a non-empty playlist URL is configured.
	classEligible
)

func classify(u *models.User) userClass {
	if u.LiveTV == nil {
		return classSkip
	}
	if u.LiveTV.M3UURL == nil {
		return classCorrupt
	}
	if u.M3UURL() == "" {
		return classSkip
	}
	return classEligible
}

// processUser turns one eligible user's fetched payloads into stamped
// channel and program records. It writes the cache files but never touches
// the persistent store; records flow back to the orchestrator for the bulk
// replace.
//
// Failure policy: a failed or missing M3U payload fails the user outright.
// A failed guide (fetch or parse) only costs the programs; the channels
// still count and the user is reported successful.
func (s *Syncer) processUser(ctx context.Context, log zerolog.Logger, user *models.User, m3u, epg *urlPayload) ([]models.Channel, []models.Program, UserResult) {
	res := UserResult{Username: user.Username}
	log = log.With().Str("username", user.Username).Logger()

	if m3u == nil || m3u.err != nil {
		res.Error = msgM3UFetchFailed
		return nil, nil, res
	}

	if err := s.cache.WriteM3U(user.Username, m3u.data); err != nil {
		log.Warn().Err(err).Msg("could not cache playlist")
	}

	channels, err := fetcher.ParseM3U(bytes.NewReader(m3u.data))
	if err != nil {
		log.Warn().Err(err).Msg("playlist parse failed")
		res.Error = msgM3UParseFailed
		return nil, nil, res
	}

	now := time.Now().UTC()
	for i := range channels {
		channels[i].Username = user.Username
		channels[i].CreatedAt = now
		channels[i].LastUpdated = now
	}
	res.Channels = len(channels)
	res.Success = true

	programs := s.processGuide(ctx, log, user, epg, now)
	res.Programs = len(programs)
	return channels, programs, res
}

// processGuide caches and parses the user's guide. All guide failures are
// soft: the user keeps their channels and simply has no programme data
// until the next cycle.
func (s *Syncer) processGuide(ctx context.Context, log zerolog.Logger, user *models.User, epg *urlPayload, now time.Time) []models.Program {
	if user.EPGURL() == "" || epg == nil {
		return nil
	}
	if epg.err != nil {
		log.Warn().Err(epg.err).Msg("guide fetch failed, keeping channels without programmes")
		return nil
	}

	var err error
	if epg.sharedPath != "" {
		err = s.cache.InstallEPG(user.Username, epg.sharedPath)
	} else {
		err = s.cache.WriteEPG(user.Username, epg.data)
	}
	if err != nil {
		log.Warn().Err(err).Msg("could not cache guide")
		return nil
	}

	path, ok := s.cache.EPGPath(user.Username)
	if !ok {
		log.Warn().Msg("guide cache file missing after write")
		return nil
	}
	programs, err := s.parser.ParseFile(ctx, path)
	if err != nil {
		log.Warn().Err(err).Msg("guide parse failed, keeping channels without programmes")
		return nil
	}
	for i := range programs {
		programs[i].Username = user.Username
		programs[i].CreatedAt = now
		programs[i].LastUpdated = now
	}
	return programs
}
