package fetcher

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/channelvault/channelvault/internal/models"
)

var (
	reTvgID     = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgName   = regexp.MustCompile(`tvg-name="([^"]*)"`)
	reTvgLogo   = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup     = regexp.MustCompile(`group-title="([^"]*)"`)
	reDuration  = regexp.MustCompile(`^#EXTINF:\s*(-?\d+)`)
	reCommaName = regexp.MustCompile(`,([^\n\r\t]*)$`)
)

// UnknownChannelName is the display-name fallback for entries whose EXTINF
// carries no name at all.
const UnknownChannelName = "Unknown Channel"

// ParseM3U reads an extended M3U playlist and returns its channels in order.
// Malformed entries are skipped, never fatal; a buffer without an #EXTM3U
// header yields an empty result. Entries lacking a tvg-id get a synthetic
// channel id of the form "channel_<n>" with n the 0-based output position.
func ParseM3U(r io.Reader) ([]models.Channel, error) {
	scanner := bufio.NewScanner(r)
	// Some providers emit very long EXTINF lines.
	const maxSize = 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxSize)

	var channels []models.Channel
	var extinf string
	sawHeader := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if strings.HasPrefix(strings.ToUpper(line), "#EXTM3U") {
				sawHeader = true
				continue
			}
			// No header means this isn't an extended M3U; nothing to parse.
			return nil, nil
		}
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "#EXTINF"):
			extinf = line
		case strings.HasPrefix(line, "#"):
			// Other directives (EXTVLCOPT etc.) are ignored.
		default:
			if extinf == "" {
				continue
			}
			channels = append(channels, channelFromEXTINF(extinf, line, len(channels)))
			extinf = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan m3u: %w", err)
	}
	return channels, nil
}

func channelFromEXTINF(extinf, streamURL string, ordinal int) models.Channel {
	tvgID := matchFirst(reTvgID, extinf)
	chID := tvgID
	if chID == "" {
		chID = "channel_" + strconv.Itoa(ordinal)
	}
	name := displayName(extinf)
	if name == "" {
		name = UnknownChannelName
	}
	return models.Channel{
		ChannelID:  chID,
		Name:       name,
		URL:        streamURL,
		TvgID:      tvgID,
		TvgName:    matchFirst(reTvgName, extinf),
		TvgLogo:    matchFirst(reTvgLogo, extinf),
		GroupTitle: matchFirst(reGroup, extinf),
		Duration:   durationFromEXTINF(extinf),
	}
}

// displayName extracts the trailing ",Display Name" portion of an EXTINF
// line, falling back to tvg-name when the comma part is empty.
func displayName(extinf string) string {
	if m := reCommaName.FindStringSubmatch(extinf); len(m) == 2 {
		if n := strings.TrimSpace(m[1]); n != "" {
			return n
		}
	}
	return matchFirst(reTvgName, extinf)
}

// durationFromEXTINF parses the leading duration of "#EXTINF:<secs> ...".
// -1 (unspecified) is returned when the prefix is absent or unparseable.
func durationFromEXTINF(extinf string) int {
	m := reDuration.FindStringSubmatch(extinf)
	if len(m) != 2 {
		return -1
	}
	d, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return d
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
