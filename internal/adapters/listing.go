package adapters

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	wsRe         = regexp.MustCompile(`\s+`)
	numberRe     = regexp.MustCompile(`\d+`)
	priceRe      = regexp.MustCompile(`\d+(?:\.\d+)*`)
	milRe        = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	slugStripRe  = regexp.MustCompile(`[^a-z0-9\-]`)
	slugDashRe   = regexp.MustCompile(`-+`)
	idSuffixRe   = regexp.MustCompile(`(?:^|[-/])id-(\d+)`)
	listingIDRe  = regexp.MustCompile(`/(?:listing|property)/(\d+)`)
	onRequestRes = []string{"sob consulta", "consulte", "negociar"}
	notPlaceRes  = []string{"são paulo", "rio de janeiro", "brasil", "brazil"}

	neighborhoodRes = []*regexp.Regexp{
		regexp.MustCompile(`-\s*([^,\d]+?)\s*,`),
		regexp.MustCompile(`,\s*([^,\d]+?)\s*,`),
		regexp.MustCompile(`-\s*([^-,\d]+?)\s*(?:-|$)`),
		regexp.MustCompile(`,\s*([^,\d]+?)\s*$`),
	}
)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

// ParsePrice extracts a BRL amount from listing text such as "R$ 450.000",
// "R$ 1.250.000,00" or "450 mil". Prices on request report false.
func ParsePrice(text string) (float64, bool) {
	lower := strings.ToLower(CleanText(text))
	if lower == "" {
		return 0, false
	}
	for _, phrase := range onRequestRes {
		if strings.Contains(lower, phrase) {
			return 0, false
		}
	}

	// drop cents
	if i := strings.LastIndex(lower, ","); i >= 0 && i == len(lower)-3 {
		lower = lower[:i]
	}

	if strings.Contains(lower, "mil") {
		m := milRe.FindString(lower)
		if m == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
		if err != nil || v <= 0 {
			return 0, false
		}
		return v * 1000, true
	}

	m := priceRe.FindString(lower)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ".", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ExtractNumber returns the first integer in text.
func ExtractNumber(text string) (int, bool) {
	m := numberRe.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// CitySlug turns a city name into its URL form: "São Paulo" -> "sao-paulo".
func CitySlug(city string) string {
	s := strings.ToLower(foldAccents(strings.TrimSpace(city)))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugStripRe.ReplaceAllString(s, "")
	return strings.Trim(slugDashRe.ReplaceAllString(s, "-"), "-")
}

// FoldText returns an accent- and case-insensitive comparison key.
func FoldText(s string) string {
	return cases.Fold().String(foldAccents(CleanText(s)))
}

// ExtractNeighborhood picks the neighborhood out of a free-form address.
func ExtractNeighborhood(address string) string {
	if address == "" {
		return ""
	}
	for _, re := range neighborhoodRes {
		m := re.FindStringSubmatch(address)
		if m == nil {
			continue
		}
		candidate := CleanText(m[1])
		if len(candidate) <= 2 || isPlaceName(candidate) {
			continue
		}
		return candidate
	}
	return ""
}

func isPlaceName(s string) bool {
	lower := strings.ToLower(s)
	for _, term := range notPlaceRes {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// ListingID derives a stable "<prefix>_<id>" identifier from a listing href.
// Without a numeric id in the path the href is hashed.
func ListingID(prefix, href string) string {
	if m := idSuffixRe.FindStringSubmatch(href); m != nil {
		return prefix + "_" + m[1]
	}
	if m := listingIDRe.FindStringSubmatch(href); m != nil {
		return prefix + "_" + m[1]
	}
	if u, err := url.Parse(href); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if nums := numberRe.FindAllString(parts[len(parts)-1], -1); len(nums) > 0 {
			return prefix + "_" + nums[len(nums)-1]
		}
	}
	return HashID(prefix, href)
}

// HashID builds "<prefix>_<hex>" from a digest of parts.
func HashID(prefix string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return prefix + "_" + hex.EncodeToString(sum[:8])
}

// AbsoluteURL resolves href against base.
func AbsoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
