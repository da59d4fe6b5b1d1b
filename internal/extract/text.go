package extract

import (
	"fmt"
	"regexp"
	"strings"

	"kufarwatch/internal/model"
)

// Last-resort cap: without structure there is no reliable card boundary,
// so the text pass never reports more than this many entries.
const textStrategyCap = 50

var (
	tagRe       = regexp.MustCompile(`<[^>]*>`)
	scriptRe    = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleRe     = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	textPriceRe = regexp.MustCompile(`\d[\d\s]*\s*р\.`)
)

// TextStrategy scrapes prices straight out of the page text. Entries get
// ordinal placeholder titles and no stable identifier, so they are only
// useful as a signal that the page held something when the structured
// passes failed.
type TextStrategy struct{}

func (TextStrategy) Name() string { return "text" }

func (TextStrategy) Extract(page []byte) []model.Listing {
	text := pageText(page)

	matches := textPriceRe.FindAllString(text, textStrategyCap)
	var out []model.Listing
	for i, m := range matches {
		price := ParsePrice(m)
		if price == 0 {
			continue
		}
		out = append(out, model.Listing{
			Title:    fmt.Sprintf("Объявление %d", i+1),
			Price:    price,
			Currency: "BYN",
		})
	}
	return out
}

func pageText(page []byte) string {
	s := scriptRe.ReplaceAllString(string(page), " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
