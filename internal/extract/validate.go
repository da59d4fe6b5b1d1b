package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Clothing sizes accepted as-is when they appear as letter codes.
var letterSizes = map[string]struct{}{
	"XS": {}, "S": {}, "M": {}, "L": {}, "XL": {}, "XXL": {}, "XXXL": {},
}

var (
	sizeLabeledRe = regexp.MustCompile(`(?i)(?:размер|разм\.?|р-р|р\.)\s*:?\s*(\d{2})(?:\s*[-–/]\s*(\d{2}))?`)
	sizeLetterRe  = regexp.MustCompile(`(?i)\b(XS|S|M|L|XL|XXL|XXXL)\b`)
	sizeBareRe    = regexp.MustCompile(`\b(\d{2})\s*\(\s*(XS|S|M|L|XL|XXL|XXXL)\s*\)`)
	yearRe        = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	bareNumRe     = regexp.MustCompile(`\b\d{2,4}\b`)
	pureNumRe     = regexp.MustCompile(`^\d+[.,]?\d*$`)
	dateRe        = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

	priceRe    = regexp.MustCompile(`(\d+(?:\s\d{3})*)(?:[.,](\d{1,2}))?\s*(?:р\.|руб\.?|BYN)`)
	cityRe     = regexp.MustCompile(`(?i)(Минск|Гомель|Брест|Витебск|Гродно|Могил[её]в)`)
	timeRe     = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
	relDayRe   = regexp.MustCompile(`(?i)(вчера|сегодня)`)
	wsRe       = regexp.MustCompile(`\s+`)
	itemLinkRe = regexp.MustCompile(`/item/(\d+)`)
)

// ValidNumericSize reports whether n is a plausible clothing size.
// Years and other large numbers are not sizes.
func ValidNumericSize(n int) bool {
	return n >= 20 && n <= 70
}

// ExtractSize pulls a clothing size out of free text. Labeled forms
// ("размер 48", "р. 48-50") win over a bare "48 (M)" pair, which wins
// over a lone letter code. Returns "" when nothing plausible is found.
func ExtractSize(text string) string {
	if m := sizeLabeledRe.FindStringSubmatch(text); m != nil {
		lo, err := strconv.Atoi(m[1])
		if err == nil && ValidNumericSize(lo) {
			if m[2] != "" {
				if hi, err := strconv.Atoi(m[2]); err == nil && ValidNumericSize(hi) {
					return m[1] + "-" + m[2]
				}
			}
			return m[1]
		}
	}
	if m := sizeBareRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && ValidNumericSize(n) {
			return m[1] + " (" + strings.ToUpper(m[2]) + ")"
		}
	}
	if m := sizeLetterRe.FindStringSubmatch(text); m != nil {
		s := strings.ToUpper(m[1])
		if _, ok := letterSizes[s]; ok {
			return s
		}
	}
	for _, m := range bareNumRe.FindAllString(text, -1) {
		if yearRe.MatchString(m) {
			continue
		}
		n, err := strconv.Atoi(m)
		if err != nil || n >= 500 {
			continue
		}
		if ValidNumericSize(n) {
			return m
		}
	}
	return ""
}

// ParsePrice converts a price fragment like "1 500 р." or "150,50 руб"
// into kopecks. Returns 0 when no price can be read.
func ParsePrice(text string) int {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	whole := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m[1])
	rub, err := strconv.Atoi(whole)
	if err != nil {
		return 0
	}
	kop := 0
	if m[2] != "" {
		frac := m[2]
		if len(frac) == 1 {
			frac += "0"
		}
		kop, _ = strconv.Atoi(frac)
	}
	return rub*100 + kop
}

// CleanLocation strips timestamps, relative day words and price noise
// from a location fragment. Returns "" when nothing useful remains.
func CleanLocation(text string) string {
	s := priceRe.ReplaceAllString(text, "")
	s = timeRe.ReplaceAllString(s, "")
	s = relDayRe.ReplaceAllString(s, "")
	s = strings.Trim(wsRe.ReplaceAllString(s, " "), " ,.")
	if s == "" || len([]rune(s)) > 80 {
		return ""
	}
	return s
}

// ExtractLocation finds a known Belarusian city in free text and returns
// the cleaned fragment around it.
func ExtractLocation(text string) string {
	loc := cityRe.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	// Take up to the end of the line containing the match.
	start := strings.LastIndexByte(text[:loc[0]], '\n') + 1
	end := strings.IndexByte(text[loc[1]:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += loc[1]
	}
	return CleanLocation(text[start:end])
}

// PlausibleTitle reports whether a text fragment could serve as a card
// title: long enough and free of price, city, date and time noise.
func PlausibleTitle(text string) bool {
	if len([]rune(text)) <= 10 {
		return false
	}
	if strings.Contains(text, "р.") || strings.Contains(text, "BYN") || strings.Contains(text, "USD") {
		return false
	}
	if pureNumRe.MatchString(text) {
		return false
	}
	if cityRe.MatchString(text) {
		return false
	}
	if dateRe.MatchString(text) || timeRe.MatchString(text) {
		return false
	}
	return true
}

// CleanTitle collapses whitespace and trims trivia from a title.
func CleanTitle(text string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
}

var imageNoiseMarkers = []string{"icon", "logo", "avatar", "placeholder", "sprite", ".svg"}

const maxImages = 3

// FilterImages drops non-photo assets, normalizes protocol-relative
// URLs and caps the result at three entries.
func FilterImages(urls []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		lower := strings.ToLower(u)
		noisy := false
		for _, marker := range imageNoiseMarkers {
			if strings.Contains(lower, marker) {
				noisy = true
				break
			}
		}
		if noisy {
			continue
		}
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == maxImages {
			break
		}
	}
	return out
}

// ListingID pulls the numeric ad identifier out of an /item/ URL.
func ListingID(rawURL string) string {
	if m := itemLinkRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}
