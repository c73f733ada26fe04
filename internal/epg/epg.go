// Package epg parses XMLTV programme guides. Small documents go through a
// DOM pass; anything over domSizeLimit is driven through a token-level
// streaming pass whose memory stays flat in the programme count. A DOM
// failure of any kind transparently retries with the streaming pass.
package epg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/channelvault/channelvault/internal/metrics"
	"github.com/channelvault/channelvault/internal/models"
)

const (
	// domSizeLimit is the input size above which the streaming pass is used
	// directly.
	domSizeLimit = 10 << 20
	// domBatchSize bounds how many programmes the DOM pass normalizes
	// between context checks.
	domBatchSize = 5000
	// progressLogEvery is the programme interval for progress logging.
	progressLogEvery = 50000
)

// UnknownTitle is the fallback for programmes without a title.
const UnknownTitle = "Unknown"

// Parser turns XMLTV documents into program records. Records come back
// without a username; the caller stamps ownership.
type Parser struct {
	log zerolog.Logger
}

// NewParser returns a Parser logging through log.
func NewParser(log zerolog.Logger) *Parser {
	return &Parser{log: log.With().Str("component", "epg").Logger()}
}

// Parse parses a fully materialized XMLTV document.
func (p *Parser) Parse(ctx context.Context, data []byte) ([]models.Program, error) {
	if len(data) > domSizeLimit {
		return p.parseStream(ctx, bytes.NewReader(data))
	}
	programs, err := p.parseDOM(ctx, data)
	if err == nil {
		return programs, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	// The streaming pass copes with inputs the DOM pass chokes on (depth,
	// entity edge cases), so retry before giving up.
	p.log.Warn().Err(err).Msg("DOM parse failed, retrying with streaming parser")
	return p.parseStream(ctx, bytes.NewReader(data))
}

// ParseFile parses the XMLTV document at path, choosing the strategy from
// the on-disk (already decompressed) size.
func (p *Parser) ParseFile(ctx context.Context, path string) ([]models.Program, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat epg: %w", err)
	}
	if fi.Size() <= domSizeLimit {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read epg: %w", err)
		}
		return p.Parse(ctx, data)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open epg: %w", err)
	}
	defer f.Close()
	return p.parseStream(ctx, f)
}

// xmltvTimeLayouts covers the XMLTV timestamp shapes seen in the wild:
// full precision with or without a zone, and minute precision.
var xmltvTimeLayouts = []string{
	"20060102150405 -0700",
	"20060102150405",
	"200601021504 -0700",
	"200601021504",
}

func parseXMLTVTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range xmltvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// progKey is the in-engine dedup key; the username dimension is implicit
// because one collector serves one document.
type progKey struct {
	channel string
	start   int64
	stop    int64
}

// collector applies the shared normalization and validation rules to raw
// programme fields from either parsing strategy.
type collector struct {
	known   map[string]struct{}
	seen    map[progKey]struct{}
	out     []models.Program
	dropped int
}

func newCollector() *collector {
	return &collector{
		known: make(map[string]struct{}),
		seen:  make(map[progKey]struct{}),
	}
}

func (c *collector) know(channelID string) {
	if channelID = strings.TrimSpace(channelID); channelID != "" {
		c.known[channelID] = struct{}{}
	}
}

type rawProgramme struct {
	channel  string
	start    string
	stop     string
	title    string
	desc     string
	category string
	icon     string
	episode  string
}

func (c *collector) add(r rawProgramme) {
	channel := strings.TrimSpace(r.channel)
	if channel == "" {
		c.drop("unknown_channel")
		return
	}
	if _, ok := c.known[channel]; !ok {
		c.drop("unknown_channel")
		return
	}
	start, ok := parseXMLTVTime(r.start)
	if !ok {
		c.drop("bad_time")
		return
	}
	stop, ok := parseXMLTVTime(r.stop)
	if !ok {
		c.drop("bad_time")
		return
	}
	if !start.Before(stop) {
		c.drop("bad_time")
		return
	}
	key := progKey{channel: channel, start: start.UnixMilli(), stop: stop.UnixMilli()}
	if _, dup := c.seen[key]; dup {
		c.drop("duplicate")
		return
	}
	c.seen[key] = struct{}{}

	title := strings.TrimSpace(r.title)
	if title == "" {
		title = UnknownTitle
	}
	c.out = append(c.out, models.Program{
		ChannelID: channel,
		Start:     start,
		Stop:      stop,
		Title:     title,
		Desc:      optional(r.desc),
		Category:  optional(r.category),
		Icon:      optional(r.icon),
		Episode:   optional(r.episode),
	})
}

func (c *collector) drop(reason string) {
	c.dropped++
	metrics.ProgrammesDropped.WithLabelValues(reason).Inc()
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
