package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// ParseMeta collects the name/content pairs of every <meta> tag carrying
// both attributes. Names are lower-cased and the first occurrence of a name
// wins. Malformed markup is tolerated; ParseMeta never fails.
func ParseMeta(html string) map[string]string {
	metas := make(map[string]string)
	if html == "" {
		return metas
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Debug().Err(err).Msg("Could not parse HTML for meta tags")
		return metas
	}

	doc.Find("meta[name][content]").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		if name == "" {
			return
		}
		if _, seen := metas[name]; seen {
			return
		}
		metas[name] = s.AttrOr("content", "")
	})

	return metas
}
