// Package service contains the live-TV synchronization engine: per-user
// processing and the orchestrator that coalesces upstream URLs, fans out
// fetches, and atomically replaces persisted channel/program sets.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/channelvault/channelvault/internal/epg"
	"github.com/channelvault/channelvault/internal/fetcher"
	"github.com/channelvault/channelvault/internal/livecache"
	"github.com/channelvault/channelvault/internal/metrics"
	"github.com/channelvault/channelvault/internal/models"
	"github.com/channelvault/channelvault/internal/store"
)

// DefaultFetchConcurrency bounds parallel outbound HTTP requests so a sync
// cycle cannot hammer upstream providers.
const DefaultFetchConcurrency = 16

// urlPayload is one coalescing-map entry: the fetch outcome for a unique
// upstream URL, shared by every user configured with that URL.
type urlPayload struct {
	data       []byte // materialized body
	sharedPath string // spool file for gzipped guides, decompressed once
	err        error
	users      []string
}

// Syncer orchestrates full sync cycles across all eligible users.
type Syncer struct {
	store       store.Store
	cache       *livecache.Cache
	fetch       *fetcher.Client
	parser      *epg.Parser
	log         zerolog.Logger
	concurrency int
}

// New returns a Syncer. concurrency <= 0 selects DefaultFetchConcurrency.
func New(st store.Store, c *livecache.Cache, f *fetcher.Client, p *epg.Parser, log zerolog.Logger, concurrency int) *Syncer {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	return &Syncer{
		store:       st,
		cache:       c,
		fetch:       f,
		parser:      p,
		log:         log.With().Str("component", "sync").Logger(),
		concurrency: concurrency,
	}
}

// SyncAllUsers runs one full cycle: enumerate users, coalesce and fetch the
// unique upstream URLs, process every eligible user, then bulk-replace the
// persisted channel and program sets of the users that succeeded.
//
// Per-user failures are captured in the result and never halt the cycle;
// a bulk persistence failure aborts it and surfaces to the caller.
func (s *Syncer) SyncAllUsers(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	log := s.log.With().Str("run_id", uuid.NewString()).Logger()

	users, err := s.store.ListLiveTVUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var (
		eligible []*models.User
		results  []UserResult
	)
	for i := range users {
		u := &users[i]
		switch classify(u) {
		case classSkip:
			// Not configured: no fetch, no result record, no wipe.
		case classCorrupt:
			log.Warn().Str("username", u.Username).Msg("corrupted live-TV configuration")
			results = append(results, UserResult{Username: u.Username, Error: msgCorruptConfig})
		case classEligible:
			eligible = append(eligible, u)
		}
	}

	m3uFetches, epgFetches := coalesce(eligible)
	log.Info().
		Int("users", len(eligible)).
		Int("m3u_urls", len(m3uFetches)).
		Int("epg_urls", len(epgFetches)).
		Msg("sync cycle started")

	if err := s.fetchAll(ctx, log, m3uFetches, epgFetches); err != nil {
		return nil, err
	}

	allChannels, allPrograms, userResults, err := s.processAll(ctx, log, eligible, m3uFetches, epgFetches)
	if err != nil {
		return nil, err
	}
	results = append(results, userResults...)

	if err := s.persist(ctx, results, allChannels, allPrograms); err != nil {
		return nil, err
	}

	for _, r := range results {
		metrics.SyncUsersProcessed.Inc()
		if !r.Success {
			metrics.SyncUserFailures.Inc()
		}
	}
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Int("users_processed", len(results)).
		Int("channels", len(allChannels)).
		Int("programs", len(allPrograms)).
		Dur("elapsed", time.Since(start)).
		Msg("sync cycle complete")

	return &SyncResult{UsersProcessed: len(results), Results: results}, nil
}

// coalesce builds the per-URL maps so users sharing an upstream URL share
// one download. Keys are the trimmed URLs.
func coalesce(users []*models.User) (m3u, epgs map[string]*urlPayload) {
	m3u = make(map[string]*urlPayload)
	epgs = make(map[string]*urlPayload)
	for _, u := range users {
		murl := u.M3UURL()
		if entry, ok := m3u[murl]; ok {
			entry.users = append(entry.users, u.Username)
		} else {
			m3u[murl] = &urlPayload{users: []string{u.Username}}
		}
		eurl := u.EPGURL()
		if eurl == "" {
			continue
		}
		if entry, ok := epgs[eurl]; ok {
			entry.users = append(entry.users, u.Username)
		} else {
			epgs[eurl] = &urlPayload{users: []string{u.Username}}
		}
	}
	return m3u, epgs
}

// fetchAll downloads every unique URL with bounded parallelism. Individual
// failures land in the map entries; only cancellation aborts the phase.
func (s *Syncer) fetchAll(ctx context.Context, log zerolog.Logger, m3uFetches, epgFetches map[string]*urlPayload) error {
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for url, entry := range m3uFetches {
		g.Go(func() error {
			entry.data, entry.err = s.fetchBuffer(ctx, url)
			if entry.err != nil {
				recordFetchError(log, "m3u", url, entry.err)
			}
			return nil
		})
	}
	for url, entry := range epgFetches {
		g.Go(func() error {
			s.fetchGuide(ctx, url, entry)
			if entry.err != nil {
				recordFetchError(log, "epg", url, entry.err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// fetchBuffer fetches a URL fully materialized, decompressing if needed.
func (s *Syncer) fetchBuffer(ctx context.Context, url string) ([]byte, error) {
	payload, err := s.fetch.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if payload.Stream != nil {
		defer payload.Close()
		data, err := io.ReadAll(payload.Stream)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return data, nil
	}
	return payload.Body, nil
}

// fetchGuide fetches a guide URL. Gzipped responses are decompressed once
// into a shared spool file; every subscribing user's cache is later filled
// by copying that file, so a non-seekable response stream is never consumed
// twice.
func (s *Syncer) fetchGuide(ctx context.Context, url string, entry *urlPayload) {
	payload, err := s.fetch.Fetch(ctx, url)
	if err != nil {
		entry.err = err
		return
	}
	if payload.Gzipped {
		defer payload.Close()
		entry.sharedPath, entry.err = s.cache.SpoolShared(livecache.URLKey(url), payload.Stream)
		return
	}
	entry.data = payload.Body
}

func recordFetchError(log zerolog.Logger, side, url string, err error) {
	kind := "network"
	var se *fetcher.StatusError
	switch {
	case errors.As(err, &se):
		kind = "upstream"
	case fetcher.IsTimeout(err):
		kind = "timeout"
	}
	metrics.FetchErrors.WithLabelValues(kind).Inc()
	log.Warn().Err(err).Str("side", side).Str("url", url).Msg("upstream fetch failed")
}

// processAll fans the per-user processor out over the eligible users and
// gathers all emitted records into the global buffers used by the bulk
// replace.
func (s *Syncer) processAll(ctx context.Context, log zerolog.Logger, users []*models.User, m3uFetches, epgFetches map[string]*urlPayload) ([]models.Channel, []models.Program, []UserResult, error) {
	var (
		mu          sync.Mutex
		allChannels []models.Channel
		allPrograms []models.Program
		results     []UserResult
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, u := range users {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			channels, programs, res := s.processUser(ctx, log, u, m3uFetches[u.M3UURL()], epgFetches[u.EPGURL()])
			mu.Lock()
			allChannels = append(allChannels, channels...)
			allPrograms = append(allPrograms, programs...)
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	return allChannels, allPrograms, results, nil
}

// persist runs the bulk replace: channels and programs proceed as two
// independent delete-then-insert pipelines. Only users that succeeded are
// wiped, so a user whose fetch failed keeps their previous records.
func (s *Syncer) persist(ctx context.Context, results []UserResult, channels []models.Channel, programs []models.Program) error {
	var synced []string
	for _, r := range results {
		if r.Success {
			synced = append(synced, r.Username)
		}
	}
	if len(synced) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.store.DeleteChannels(gctx, synced); err != nil {
			return err
		}
		return s.store.InsertChannels(gctx, channels)
	})
	g.Go(func() error {
		if err := s.store.DeletePrograms(gctx, synced); err != nil {
			return err
		}
		return s.store.InsertPrograms(gctx, programs)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("bulk persist: %w", err)
	}
	metrics.ChannelsInserted.Add(float64(len(channels)))
	metrics.ProgramsInserted.Add(float64(len(programs)))
	return nil
}
