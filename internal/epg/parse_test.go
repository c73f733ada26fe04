package epg

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleGuide = `<?xml version="1.0" encoding="UTF-8"?>
<tv generator-info-name="test">
  <channel id="news.one">
    <display-name>News One</display-name>
  </channel>
  <channel id="sports.plus">
    <display-name>Sports Plus</display-name>
  </channel>
  <programme channel="news.one" start="20260825060000 +0000" stop="20260825070000 +0000">
    <title lang="en">Morning Briefing</title>
    <title lang="de">Morgenbriefing</title>
    <desc lang="en">The day's headlines.</desc>
    <category lang="en">News</category>
    <icon src="http://img/briefing.png"/>
    <episode-num system="onscreen">S01E04</episode-num>
  </programme>
  <programme channel="news.one" start="20260825060000 +0000" stop="20260825070000 +0000">
    <title>Duplicate Briefing</title>
  </programme>
  <programme channel="sports.plus" start="20260825070000 +0000" stop="20260825083000 +0000">
    <desc>Untitled slot.</desc>
  </programme>
  <programme channel="ghost.channel" start="20260825060000 +0000" stop="20260825070000 +0000">
    <title>Orphan</title>
  </programme>
  <programme channel="news.one" start="garbage" stop="20260825070000 +0000">
    <title>Bad Start</title>
  </programme>
  <programme channel="news.one" start="20260825090000 +0000" stop="20260825090000 +0000">
    <title>Zero Length</title>
  </programme>
</tv>`

func testParser() *Parser {
	return NewParser(zerolog.Nop())
}

func TestParseDOM(t *testing.T) {
	programs, err := testParser().parseDOM(context.Background(), []byte(sampleGuide))
	if err != nil {
		t.Fatalf("parseDOM: %v", err)
	}
	// 6 programmes in the document: 1 valid, 1 duplicate, 1 untitled valid,
	// 1 unknown channel, 1 bad start, 1 zero length.
	if len(programs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(programs))
	}

	p := programs[0]
	if p.ChannelID != "news.one" {
		t.Errorf("expected news.one, got %q", p.ChannelID)
	}
	if p.Title != "Morning Briefing" {
		t.Errorf("expected first language title, got %q", p.Title)
	}
	if p.Desc == nil || *p.Desc != "The day's headlines." {
		t.Errorf("desc not parsed: %v", p.Desc)
	}
	if p.Category == nil || *p.Category != "News" {
		t.Errorf("category not parsed: %v", p.Category)
	}
	if p.Icon == nil || *p.Icon != "http://img/briefing.png" {
		t.Errorf("icon not parsed: %v", p.Icon)
	}
	if p.Episode == nil || *p.Episode != "S01E04" {
		t.Errorf("episode not parsed: %v", p.Episode)
	}
	want := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)
	if !p.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, p.Start)
	}
}

func TestParseTitleFallback(t *testing.T) {
	programs, err := testParser().parseDOM(context.Background(), []byte(sampleGuide))
	if err != nil {
		t.Fatalf("parseDOM: %v", err)
	}
	if programs[1].Title != UnknownTitle {
		t.Errorf("expected %q for untitled programme, got %q", UnknownTitle, programs[1].Title)
	}
}

func TestStreamMatchesDOM(t *testing.T) {
	p := testParser()
	fromDOM, err := p.parseDOM(context.Background(), []byte(sampleGuide))
	if err != nil {
		t.Fatalf("parseDOM: %v", err)
	}
	fromStream, err := p.parseStream(context.Background(), strings.NewReader(sampleGuide))
	if err != nil {
		t.Fatalf("parseStream: %v", err)
	}

	if len(fromStream) != len(fromDOM) {
		t.Fatalf("stream produced %d programs, DOM produced %d", len(fromStream), len(fromDOM))
	}
	for i := range fromDOM {
		d, s := fromDOM[i], fromStream[i]
		if d.ChannelID != s.ChannelID || d.Title != s.Title || !d.Start.Equal(s.Start) || !d.Stop.Equal(s.Stop) {
			t.Errorf("program %d differs: dom=%+v stream=%+v", i, d, s)
		}
		if !optionalEqual(d.Desc, s.Desc) || !optionalEqual(d.Category, s.Category) ||
			!optionalEqual(d.Icon, s.Icon) || !optionalEqual(d.Episode, s.Episode) {
			t.Errorf("program %d optional fields differ: dom=%+v stream=%+v", i, d, s)
		}
	}
}

func optionalEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func TestParseFallsBackToStream(t *testing.T) {
	// A non-standard root element breaks strict DOM unmarshalling; the
	// streaming pass only looks at channel and programme elements and
	// still recovers the document.
	renamed := strings.Replace(sampleGuide, "<tv generator-info-name=\"test\">", "<guide>", 1)
	renamed = strings.Replace(renamed, "</tv>", "</guide>", 1)
	programs, err := testParser().Parse(context.Background(), []byte(renamed))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(programs) != 2 {
		t.Errorf("expected 2 programs after fallback, got %d", len(programs))
	}
}

func TestParseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testParser().parseDOM(ctx, []byte(sampleGuide)); err == nil {
		t.Error("expected error from cancelled DOM parse")
	}
}

func TestParseXMLTVTime(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"20260825060000 +0000", true},
		{"20260825060000 +0200", true},
		{"20260825060000", true},
		{"202608250600 +0000", true},
		{"202608250600", true},
		{"", false},
		{"yesterday", false},
		{"2026-08-25T06:00:00Z", false},
	}
	for _, tc := range cases {
		if _, ok := parseXMLTVTime(tc.in); ok != tc.ok {
			t.Errorf("parseXMLTVTime(%q) ok=%v, want %v", tc.in, ok, tc.ok)
		}
	}
	got, ok := parseXMLTVTime("20260825060000 +0200")
	if !ok {
		t.Fatal("parse failed")
	}
	want := time.Date(2026, 8, 25, 4, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
