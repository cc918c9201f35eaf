// Package useragent classifies raw User-Agent strings into device
// category, bot flag, and browser/OS name+version. Detection is
// deliberately heuristic: a fixed substring list for bots, substring
// checks for the device category, and ordered regex checks for
// browser and OS (Edge before Chrome before Safari, since later UA
// strings embed the earlier tokens).
package useragent

import (
	"strings"

	"go.elara.ws/pcre"
)

// Device categories.
const (
	CategoryDesktop = "desktop"
	CategoryMobile  = "mobile"
	CategoryTablet  = "tablet"
	CategoryBot     = "bot"
	CategoryUnknown = "unknown"
)

// UserAgent is the parsed classification of a raw User-Agent string.
type UserAgent struct {
	UserAgent      string
	Category       string
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string
	IsBot          bool
}

// Known bot signatures, matched case-insensitively by substring.
var botSignatures = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"facebookexternalhit",
	"twitterbot",
	"linkedinbot",
	"slackbot",
	"whatsapp",
	"telegrambot",
	"pingdom",
	"lighthouse",
	"headlesschrome",
}

type matcher struct {
	name  string
	regex *pcre.Regexp
}

// Browser checks are ordered: Edge and Opera UA strings contain
// "Chrome", and Chrome UA strings contain "Safari", so the more
// specific tokens must win.
var browserMatchers = []matcher{
	{"Edge", pcre.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{"Opera", pcre.MustCompile(`(?:Opera|OPR)[/ ]([\d.]+)`)},
	{"Samsung Internet", pcre.MustCompile(`SamsungBrowser/([\d.]+)`)},
	{"Firefox", pcre.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`)},
	{"Chrome", pcre.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`)},
	{"Safari", pcre.MustCompile(`Version/([\d.]+).*Safari`)},
	{"Internet Explorer", pcre.MustCompile(`(?:MSIE |rv:)([\d.]+)`)},
}

// OS checks are ordered: iOS devices report "like Mac OS X", so iPhone
// and iPad must be tested before Mac OS X; Android before Linux.
var osMatchers = []matcher{
	{"Windows", pcre.MustCompile(`Windows NT ([\d.]+)`)},
	{"iOS", pcre.MustCompile(`(?:iPhone|iPad|iPod).*? OS ([\d_]+)`)},
	{"macOS", pcre.MustCompile(`Mac OS X ([\d_.]+)`)},
	{"Android", pcre.MustCompile(`Android ([\d.]+)`)},
	{"Chrome OS", pcre.MustCompile(`CrOS \S+ ([\d.]+)`)},
	{"Linux", pcre.MustCompile(`Linux`)},
}

// Parse classifies a raw User-Agent string. It is a pure function and
// never fails; unrecognized input yields CategoryUnknown with empty
// browser/OS fields.
func Parse(userAgent string) UserAgent {
	ua := UserAgent{
		UserAgent: userAgent,
		Category:  CategoryUnknown,
	}
	if strings.TrimSpace(userAgent) == "" {
		return ua
	}

	if IsBot(userAgent) {
		ua.Category = CategoryBot
		ua.IsBot = true
		return ua
	}

	ua.BrowserName, ua.BrowserVersion = matchFirst(browserMatchers, userAgent)
	ua.OSName, ua.OSVersion = matchFirst(osMatchers, userAgent)
	// Apple version strings use underscores (e.g. "10_15_7")
	ua.OSVersion = strings.ReplaceAll(ua.OSVersion, "_", ".")
	ua.Category = deviceCategory(userAgent)

	return ua
}

// IsBot reports whether the User-Agent matches a known bot signature.
func IsBot(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	for _, sig := range botSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func matchFirst(matchers []matcher, userAgent string) (string, string) {
	for _, m := range matchers {
		// pcre returns an empty (non-nil) slice on no match.
		groups := m.regex.FindStringSubmatch(userAgent)
		if len(groups) == 0 {
			continue
		}
		version := ""
		if len(groups) > 1 {
			version = groups[1]
		}
		return m.name, version
	}
	return "", ""
}

func deviceCategory(userAgent string) string {
	lower := strings.ToLower(userAgent)

	// Tablets often advertise "Mobile" too, so test them first.
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")) {
		return CategoryTablet
	}

	if strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") ||
		strings.Contains(lower, "ipod") || strings.Contains(lower, "android") ||
		strings.Contains(lower, "windows phone") || strings.Contains(lower, "blackberry") {
		return CategoryMobile
	}

	if strings.Contains(lower, "windows") || strings.Contains(lower, "macintosh") ||
		strings.Contains(lower, "x11") || strings.Contains(lower, "linux") ||
		strings.Contains(lower, "cros") {
		return CategoryDesktop
	}

	return CategoryUnknown
}
