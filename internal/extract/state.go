package extract

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"kufarwatch/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key paths under which listing pages embed their ad arrays. Checked in
// order, first array wins.
var statePaths = [][]interface{}{
	{"ads", "list"},
	{"search", "results"},
	{"listing", "ads"},
	{"data", "ads"},
	{"props", "pageProps", "ads"},
}

const stateMarker = "window.__INITIAL_STATE__"

// StateStrategy reads listings out of the embedded bootstrap JSON blob.
// This is the richest source: it carries ids, exact prices and image
// paths that the rendered markup may omit.
type StateStrategy struct{}

func (StateStrategy) Name() string { return "state" }

func (StateStrategy) Extract(page []byte) []model.Listing {
	blob := stateBlob(page)
	if blob == nil {
		return nil
	}

	for _, path := range statePaths {
		arr := jsoniter.Get(blob, path...)
		if arr.ValueType() != jsoniter.ArrayValue || arr.Size() == 0 {
			continue
		}
		var out []model.Listing
		for i := 0; i < arr.Size(); i++ {
			if l, ok := listingFromAd(arr.Get(i)); ok {
				out = append(out, l)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// stateBlob locates the bootstrap assignment and returns the balanced
// JSON object that follows it.
func stateBlob(page []byte) []byte {
	idx := strings.Index(string(page), stateMarker)
	if idx < 0 {
		return nil
	}
	rest := page[idx+len(stateMarker):]

	start := -1
	for i, b := range rest {
		if b == '{' {
			start = i
			break
		}
		if b != ' ' && b != '=' && b != '\t' && b != '\n' {
			return nil
		}
	}
	if start < 0 {
		return nil
	}

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(rest); i++ {
		b := rest[i]
		switch {
		case escaped:
			escaped = false
		case inStr && b == '\\':
			escaped = true
		case b == '"':
			inStr = !inStr
		case inStr:
		case b == '{':
			depth++
		case b == '}':
			depth--
			if depth == 0 {
				return rest[start : i+1]
			}
		}
	}
	return nil
}

func listingFromAd(ad jsoniter.Any) (model.Listing, bool) {
	id := anyString(ad, "ad_id", "id", "list_id")
	link := anyString(ad, "ad_link", "url", "link")
	if id == "" {
		id = ListingID(link)
	}
	if id == "" {
		return model.Listing{}, false
	}
	if link == "" {
		link = "https://www.kufar.by/item/" + id
	}

	title := CleanTitle(anyString(ad, "subject", "title", "name"))
	if title == "" {
		return model.Listing{}, false
	}

	desc := anyString(ad, "body", "description")
	l := model.Listing{
		KufarID:     id,
		Title:       title,
		Price:       adPrice(ad),
		Currency:    "BYN",
		Description: desc,
		Location:    CleanLocation(anyString(ad, "location", "region_name", "area_name")),
		Size:        ExtractSize(title + " " + desc),
		SellerName:  anyString(ad, "company_name", "seller_name"),
		URL:         link,
		Images:      FilterImages(adImages(ad)),
	}
	if raw, err := json.Marshal(ad.GetInterface()); err == nil {
		l.RawData = string(raw)
	}
	return l, true
}

// anyString returns the first non-empty of the given top-level keys,
// rendering numbers as decimal strings.
func anyString(ad jsoniter.Any, keys ...string) string {
	for _, k := range keys {
		v := ad.Get(k)
		switch v.ValueType() {
		case jsoniter.StringValue:
			if s := strings.TrimSpace(v.ToString()); s != "" {
				return s
			}
		case jsoniter.NumberValue:
			return strconv.FormatInt(v.ToInt64(), 10)
		}
	}
	return ""
}

// adPrice reads a price in kopecks. price_byn arrives as a string of
// kopecks; a plain price field is treated the same way.
func adPrice(ad jsoniter.Any) int {
	for _, k := range []string{"price_byn", "price"} {
		v := ad.Get(k)
		switch v.ValueType() {
		case jsoniter.NumberValue:
			if n := int(v.ToInt64()); n > 0 {
				return n
			}
		case jsoniter.StringValue:
			if n, err := strconv.Atoi(strings.TrimSpace(v.ToString())); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

const galleryBase = "https://rms.kufar.by/v1/gallery/"

func adImages(ad jsoniter.Any) []string {
	imgs := ad.Get("images")
	if imgs.ValueType() != jsoniter.ArrayValue {
		return nil
	}
	var out []string
	for i := 0; i < imgs.Size(); i++ {
		el := imgs.Get(i)
		var u string
		switch el.ValueType() {
		case jsoniter.StringValue:
			u = el.ToString()
		case jsoniter.ObjectValue:
			u = anyString(el, "url", "src", "path")
		}
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http") && !strings.HasPrefix(u, "//") {
			u = galleryBase + strings.TrimPrefix(u, "/")
		}
		out = append(out, u)
	}
	return out
}
