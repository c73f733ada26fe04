package epg

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/channelvault/channelvault/internal/models"
)

// parseStream drives an event parser over r with a small explicit state
// machine. Channel declarations populate the advertised-id set; each
// <programme> accumulates its child text into a buffer that resets on every
// child-element boundary, so whitespace between siblings never leaks into a
// field. Memory use is bounded by one programme plus the id/dedup sets.
func (p *Parser) parseStream(ctx context.Context, r io.Reader) ([]models.Program, error) {
	dec := xml.NewDecoder(r)
	c := newCollector()

	var (
		inProgramme bool
		cur         rawProgramme
		field       string // open text-bearing child: title/desc/category/episode-num
		buf         strings.Builder
	)
	tokens := 0

	for {
		// The decoder suspends per chunk; observe cancellation alongside it.
		tokens++
		if tokens%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xmltv: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "channel":
				if !inProgramme {
					c.know(attr(t, "id"))
				}
			case "programme":
				inProgramme = true
				cur = rawProgramme{
					channel: attr(t, "channel"),
					start:   attr(t, "start"),
					stop:    attr(t, "stop"),
				}
				field = ""
				buf.Reset()
			case "icon":
				if inProgramme && cur.icon == "" {
					cur.icon = attr(t, "src")
				}
			case "title", "desc", "category", "episode-num":
				if inProgramme && field == "" {
					field = t.Name.Local
					buf.Reset()
				}
			default:
				if inProgramme && field == "" {
					buf.Reset()
				}
			}

		case xml.CharData:
			if inProgramme && field != "" {
				buf.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "programme":
				inProgramme = false
				field = ""
				c.add(cur)
				if len(c.out) > 0 && len(c.out)%progressLogEvery == 0 {
					p.log.Debug().Int("programs", len(c.out)).Msg("streaming parse progress")
				}
			case "title", "desc", "category", "episode-num":
				if inProgramme && field == t.Name.Local {
					assignField(&cur, field, strings.TrimSpace(buf.String()))
					field = ""
					buf.Reset()
				}
			}
		}
	}

	p.log.Debug().
		Int("channels", len(c.known)).
		Int("programs", len(c.out)).
		Int("dropped", c.dropped).
		Msg("streaming parse complete")
	return c.out, nil
}

// assignField keeps the first occurrence of each textual child, mirroring
// the DOM pass which takes the first element of language-tagged lists.
func assignField(cur *rawProgramme, field, value string) {
	switch field {
	case "title":
		if cur.title == "" {
			cur.title = value
		}
	case "desc":
		if cur.desc == "" {
			cur.desc = value
		}
	case "category":
		if cur.category == "" {
			cur.category = value
		}
	case "episode-num":
		if cur.episode == "" {
			cur.episode = value
		}
	}
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
