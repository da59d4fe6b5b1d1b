package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"kufarwatch/internal/model"
)

// How far above an /item/ anchor to look for card-level fields.
const cardAncestorDepth = 5

// DOMStrategy walks the rendered markup: every /item/ anchor is treated
// as a listing card, with price, location and images resolved from the
// nearest enclosing container.
type DOMStrategy struct{}

func (DOMStrategy) Name() string { return "dom" }

func (DOMStrategy) Extract(page []byte) []model.Listing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}

	var out []model.Listing
	seen := make(map[string]struct{})

	doc.Find(`a[href*="/item/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		id := ListingID(href)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}

		card := cardFor(a)
		title := cardTitle(a, card)
		if title == "" {
			return
		}

		seen[id] = struct{}{}
		cardText := card.Text()
		out = append(out, model.Listing{
			KufarID:  id,
			Title:    title,
			Price:    ParsePrice(cardText),
			Currency: "BYN",
			Location: ExtractLocation(cardText),
			Size:     ExtractSize(title + " " + cardText),
			URL:      absoluteItemURL(href),
			Images:   FilterImages(cardImages(card)),
		})
	})
	return out
}

// cardFor climbs from the anchor to the smallest ancestor that carries a
// price, falling back to the anchor itself.
func cardFor(a *goquery.Selection) *goquery.Selection {
	node := a
	for i := 0; i < cardAncestorDepth; i++ {
		parent := node.Parent()
		if parent.Length() == 0 {
			break
		}
		node = parent
		if ParsePrice(node.Text()) > 0 {
			return node
		}
	}
	return node
}

func cardTitle(a, card *goquery.Selection) string {
	for _, sel := range []string{"h3", "h2", "h4", `[class*="title"]`} {
		if t := CleanTitle(card.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	if t := CleanTitle(a.Text()); t != "" && !strings.HasPrefix(t, "http") {
		return t
	}
	// No heading and an image-only anchor: take the longest text node
	// that is plausibly a title rather than price, city or date noise.
	var best string
	for _, text := range cardTextNodes(card) {
		if !PlausibleTitle(text) {
			continue
		}
		if len([]rune(text)) > len([]rune(best)) {
			best = text
		}
	}
	return CleanTitle(best)
}

func cardTextNodes(card *goquery.Selection) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				out = append(out, t)
			}
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range card.Nodes {
		walk(n)
	}
	return out
}

func cardImages(card *goquery.Selection) []string {
	var urls []string
	card.Find("img").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "srcset"} {
			v, ok := img.Attr(attr)
			if !ok || v == "" {
				continue
			}
			if attr == "srcset" {
				fields := strings.Fields(strings.SplitN(v, ",", 2)[0])
				if len(fields) == 0 {
					continue
				}
				v = fields[0]
			}
			urls = append(urls, v)
			break
		}
	})
	return urls
}

func absoluteItemURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return "https://www.kufar.by" + href
}
