package epg

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/channelvault/channelvault/internal/models"
)

// DOM representation of an XMLTV document. Textual children are modelled as
// element lists because language-tagged guides repeat <title>, <desc> and
// <category> per language; normalization takes the first of each.
type xmltvDoc struct {
	XMLName    xml.Name        `xml:"tv"`
	Channels   []xmltvChannel  `xml:"channel"`
	Programmes []xmltvProgItem `xml:"programme"`
}

type xmltvChannel struct {
	ID string `xml:"id,attr"`
}

type xmltvProgItem struct {
	Channel     string      `xml:"channel,attr"`
	Start       string      `xml:"start,attr"`
	Stop        string      `xml:"stop,attr"`
	Titles      []xmltvText `xml:"title"`
	Descs       []xmltvText `xml:"desc"`
	Categories  []xmltvText `xml:"category"`
	Icons       []xmltvIcon `xml:"icon"`
	EpisodeNums []xmltvText `xml:"episode-num"`
}

type xmltvText struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type xmltvIcon struct {
	Src string `xml:"src,attr"`
}

func firstText(list []xmltvText) string {
	if len(list) == 0 {
		return ""
	}
	return list[0].Value
}

// parseDOM materializes the whole document and walks the programme list in
// batches so cancellation is observed and progress can be logged on very
// large (but under-threshold) guides.
func (p *Parser) parseDOM(ctx context.Context, data []byte) ([]models.Program, error) {
	var doc xmltvDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal xmltv: %w", err)
	}

	c := newCollector()
	for _, ch := range doc.Channels {
		c.know(ch.ID)
	}

	total := len(doc.Programmes)
	for offset := 0; offset < total; offset += domBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := offset + domBatchSize
		if end > total {
			end = total
		}
		for _, prog := range doc.Programmes[offset:end] {
			icon := ""
			if len(prog.Icons) > 0 {
				icon = prog.Icons[0].Src
			}
			c.add(rawProgramme{
				channel:  prog.Channel,
				start:    prog.Start,
				stop:     prog.Stop,
				title:    firstText(prog.Titles),
				desc:     firstText(prog.Descs),
				category: firstText(prog.Categories),
				icon:     icon,
				episode:  firstText(prog.EpisodeNums),
			})
		}
		if end%progressLogEvery < domBatchSize && end >= progressLogEvery {
			p.log.Debug().Int("programmes", end).Int("total", total).Msg("DOM parse progress")
		}
	}

	p.log.Debug().
		Int("channels", len(c.known)).
		Int("programs", len(c.out)).
		Int("dropped", c.dropped).
		Msg("DOM parse complete")
	return c.out, nil
}
