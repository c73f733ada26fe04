package service

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/channelvault/channelvault/internal/epg"
	"github.com/channelvault/channelvault/internal/fetcher"
	"github.com/channelvault/channelvault/internal/livecache"
	"github.com/channelvault/channelvault/internal/models"
)

const testPlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="news.one" tvg-name="News One",News One HD
http://upstream/news/one.m3u8
#EXTINF:-1 tvg-id="sports.plus",Sports Plus
http://upstream/sports/plus.m3u8
`

const testGuide = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="news.one"/>
  <programme channel="news.one" start="20260825060000 +0000" stop="20260825070000 +0000">
    <title>Morning Briefing</title>
  </programme>
</tv>`

// fakeStore records the bulk persistence calls made by a sync cycle.
type fakeStore struct {
	mu    sync.Mutex
	users []models.User

	deletedChannelUsers []string
	deletedProgramUsers []string
	insertedChannels    []models.Channel
	insertedPrograms    []models.Program
}

func (f *fakeStore) ListLiveTVUsers(context.Context) ([]models.User, error) {
	return f.users, nil
}

func (f *fakeStore) GetUser(context.Context, string) (*models.User, error) { return nil, nil }

func (f *fakeStore) DeleteChannels(_ context.Context, usernames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedChannelUsers = append(f.deletedChannelUsers, usernames...)
	return nil
}

func (f *fakeStore) InsertChannels(_ context.Context, channels []models.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertedChannels = append(f.insertedChannels, channels...)
	return nil
}

func (f *fakeStore) DeletePrograms(_ context.Context, usernames []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedProgramUsers = append(f.deletedProgramUsers, usernames...)
	return nil
}

func (f *fakeStore) InsertPrograms(_ context.Context, programs []models.Program) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertedPrograms = append(f.insertedPrograms, programs...)
	return nil
}

func (f *fakeStore) ListChannels(context.Context, string) ([]models.Channel, error) {
	return nil, nil
}

func (f *fakeStore) ListPrograms(context.Context, string, string) ([]models.Program, error) {
	return nil, nil
}

func (f *fakeStore) GetChannel(context.Context, string, string) (*models.Channel, error) {
	return nil, nil
}

func (f *fakeStore) NowPlaying(context.Context, string, time.Time) (map[string]models.Program, error) {
	return nil, nil
}

func strptr(s string) *string { return &s }

func liveTVUser(username, m3uURL, epgURL string) models.User {
	cfg := &models.LiveTVConfig{M3UURL: strptr(m3uURL)}
	if epgURL != "" {
		cfg.EPGURL = strptr(epgURL)
	}
	return models.User{Username: username, LiveTV: cfg}
}

func newTestSyncer(t *testing.T, st *fakeStore) (*Syncer, *livecache.Cache) {
	t.Helper()
	cache := livecache.New(t.TempDir())
	fetch := fetcher.New("test", 5*time.Second)
	parser := epg.NewParser(zerolog.Nop())
	return New(st, cache, fetch, parser, zerolog.Nop(), 4), cache
}

func resultFor(t *testing.T, res *SyncResult, username string) UserResult {
	t.Helper()
	for _, r := range res.Results {
		if r.Username == username {
			return r
		}
	}
	t.Fatalf("no result for %s in %+v", username, res.Results)
	return UserResult{}
}

func TestSyncAllUsersSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live.m3u":
			_, _ = w.Write([]byte(testPlaylist))
		case "/epg.xml":
			_, _ = w.Write([]byte(testGuide))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	st := &fakeStore{users: []models.User{
		liveTVUser("alice", upstream.URL+"/live.m3u", upstream.URL+"/epg.xml"),
	}}
	syncer, cache := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}
	if res.UsersProcessed != 1 {
		t.Fatalf("expected 1 user processed, got %d", res.UsersProcessed)
	}

	r := resultFor(t, res, "alice")
	if !r.Success || r.Error != "" {
		t.Fatalf("expected success, got %+v", r)
	}
	if r.Channels != 2 || r.Programs != 1 {
		t.Errorf("expected 2 channels and 1 program, got %d/%d", r.Channels, r.Programs)
	}

	if len(st.insertedChannels) != 2 || len(st.insertedPrograms) != 1 {
		t.Errorf("store got %d channels, %d programs", len(st.insertedChannels), len(st.insertedPrograms))
	}
	if st.insertedChannels[0].Username != "alice" {
		t.Errorf("channel not stamped with username: %+v", st.insertedChannels[0])
	}
	if st.insertedPrograms[0].Username != "alice" {
		t.Errorf("program not stamped with username: %+v", st.insertedPrograms[0])
	}
	if len(st.deletedChannelUsers) != 1 || st.deletedChannelUsers[0] != "alice" {
		t.Errorf("expected wipe for alice, got %v", st.deletedChannelUsers)
	}

	// Both raw files land in the per-user cache.
	if _, err := cache.ReadM3U("alice"); err != nil {
		t.Errorf("playlist not cached: %v", err)
	}
	if _, ok := cache.EPGPath("alice"); !ok {
		t.Error("guide not cached")
	}
}

func TestSyncAllUsersCorruptConfig(t *testing.T) {
	st := &fakeStore{users: []models.User{
		{Username: "broken", LiveTV: &models.LiveTVConfig{}},
	}}
	syncer, _ := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}
	r := resultFor(t, res, "broken")
	if r.Success {
		t.Error("corrupted config reported as success")
	}
	if r.Error != msgCorruptConfig {
		t.Errorf("expected %q, got %q", msgCorruptConfig, r.Error)
	}
	if len(st.deletedChannelUsers) != 0 {
		t.Errorf("failed user must keep existing rows, deleted %v", st.deletedChannelUsers)
	}
}

func TestSyncAllUsersFetchFailureKeepsRows(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	st := &fakeStore{users: []models.User{
		liveTVUser("alice", upstream.URL+"/live.m3u", ""),
	}}
	syncer, _ := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}
	r := resultFor(t, res, "alice")
	if r.Success {
		t.Error("expected failure on upstream 502")
	}
	if r.Error != msgM3UFetchFailed {
		t.Errorf("expected %q, got %q", msgM3UFetchFailed, r.Error)
	}
	if len(st.deletedChannelUsers) != 0 || len(st.deletedProgramUsers) != 0 {
		t.Error("failed user's rows were wiped")
	}
}

func TestSyncAllUsersPartialFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bob.m3u":
			_, _ = w.Write([]byte(testPlaylist))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	st := &fakeStore{users: []models.User{
		liveTVUser("alice", upstream.URL+"/alice.m3u", ""),
		liveTVUser("bob", upstream.URL+"/bob.m3u", ""),
	}}
	syncer, _ := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}

	alice := resultFor(t, res, "alice")
	if alice.Success || alice.Error != msgM3UFetchFailed {
		t.Errorf("unexpected result for alice: %+v", alice)
	}
	bob := resultFor(t, res, "bob")
	if !bob.Success || bob.Channels != 2 {
		t.Errorf("unexpected result for bob: %+v", bob)
	}

	// Only bob's rows get wiped and replaced.
	if len(st.deletedChannelUsers) != 1 || st.deletedChannelUsers[0] != "bob" {
		t.Errorf("expected wipe for bob only, got %v", st.deletedChannelUsers)
	}
	for _, ch := range st.insertedChannels {
		if ch.Username != "bob" {
			t.Errorf("unexpected channel row for %s", ch.Username)
		}
	}
}

func TestSyncAllUsersSkipsUnconfigured(t *testing.T) {
	st := &fakeStore{users: []models.User{
		{Username: "plain"},
		liveTVUser("emptyurl", "   ", ""),
	}}
	syncer, _ := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}
	if res.UsersProcessed != 0 {
		t.Errorf("expected no results for unconfigured users, got %+v", res.Results)
	}
}

func TestSyncAllUsersCoalescesSharedURL(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live.m3u" {
			hits.Add(1)
			_, _ = w.Write([]byte(testPlaylist))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	st := &fakeStore{users: []models.User{
		liveTVUser("alice", upstream.URL+"/live.m3u", ""),
		liveTVUser("bob", upstream.URL+"/live.m3u", ""),
	}}
	syncer, _ := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected 1 upstream fetch for a shared URL, got %d", got)
	}
	if res.UsersProcessed != 2 {
		t.Fatalf("expected 2 users processed, got %d", res.UsersProcessed)
	}
	for _, name := range []string{"alice", "bob"} {
		if r := resultFor(t, res, name); !r.Success || r.Channels != 2 {
			t.Errorf("unexpected result for %s: %+v", name, r)
		}
	}
	// Each user gets their own copy of the channel set.
	if len(st.insertedChannels) != 4 {
		t.Errorf("expected 4 channel rows, got %d", len(st.insertedChannels))
	}
}

func TestSyncAllUsersGuideFailureIsSoft(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live.m3u" {
			_, _ = w.Write([]byte(testPlaylist))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	st := &fakeStore{users: []models.User{
		liveTVUser("alice", upstream.URL+"/live.m3u", upstream.URL+"/epg.xml"),
	}}
	syncer, _ := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}
	r := resultFor(t, res, "alice")
	if !r.Success {
		t.Fatalf("guide failure must not fail the user: %+v", r)
	}
	if r.Channels != 2 || r.Programs != 0 {
		t.Errorf("expected channels without programs, got %d/%d", r.Channels, r.Programs)
	}
}

func TestSyncAllUsersGzippedSharedGuide(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live.m3u":
			_, _ = w.Write([]byte(testPlaylist))
		case "/epg.xml.gz":
			w.Header().Set("Content-Type", "application/gzip")
			gz := gzip.NewWriter(w)
			_, _ = gz.Write([]byte(testGuide))
			_ = gz.Close()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	st := &fakeStore{users: []models.User{
		liveTVUser("alice", upstream.URL+"/live.m3u", upstream.URL+"/epg.xml.gz"),
		liveTVUser("bob", upstream.URL+"/live.m3u", upstream.URL+"/epg.xml.gz"),
	}}
	syncer, cache := newTestSyncer(t, st)

	res, err := syncer.SyncAllUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncAllUsers: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		r := resultFor(t, res, name)
		if !r.Success || r.Programs != 1 {
			t.Errorf("unexpected result for %s: %+v", name, r)
		}
		if _, ok := cache.EPGPath(name); !ok {
			t.Errorf("no cached guide for %s", name)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		user models.User
		want userClass
	}{
		{"no config", models.User{Username: "u"}, classSkip},
		{"missing m3u key", models.User{Username: "u", LiveTV: &models.LiveTVConfig{}}, classCorrupt},
		{"empty url", liveTVUser("u", "", ""), classSkip},
		{"whitespace url", liveTVUser("u", "  \t ", ""), classSkip},
		{"configured", liveTVUser("u", "http://x/live.m3u", ""), classEligible},
	}
	for _, tc := range cases {
		if got := classify(&tc.user); got != tc.want {
			t.Errorf("%s: classify = %v, want %v", tc.name, got, tc.want)
		}
	}
}
