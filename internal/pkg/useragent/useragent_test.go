package useragent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"revivalmetrics/internal/pkg/useragent"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name             string
		userAgent        string
		expectedCategory string
		expectedBrowser  string
		expectedOS       string
		expectedBot      bool
	}{
		{
			name:             "Chrome on Windows",
			userAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			expectedCategory: useragent.CategoryDesktop,
			expectedBrowser:  "Chrome",
			expectedOS:       "Windows",
		},
		{
			name:             "Safari on iPhone",
			userAgent:        "Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
			expectedCategory: useragent.CategoryMobile,
			expectedBrowser:  "Safari",
			expectedOS:       "iOS",
		},
		{
			name:             "Chrome on Android phone",
			userAgent:        "Mozilla/5.0 (Linux; Android 11; SM-G998B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.120 Mobile Safari/537.36",
			expectedCategory: useragent.CategoryMobile,
			expectedBrowser:  "Chrome",
			expectedOS:       "Android",
		},
		{
			name:             "Safari on iPad",
			userAgent:        "Mozilla/5.0 (iPad; CPU OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
			expectedCategory: useragent.CategoryTablet,
			expectedBrowser:  "Safari",
			expectedOS:       "iOS",
		},
		{
			name:             "Edge on Windows",
			userAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91",
			expectedCategory: useragent.CategoryDesktop,
			expectedBrowser:  "Edge",
			expectedOS:       "Windows",
		},
		{
			name:             "Firefox on macOS",
			userAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
			expectedCategory: useragent.CategoryDesktop,
			expectedBrowser:  "Firefox",
			expectedOS:       "macOS",
		},
		{
			name:             "Safari on macOS",
			userAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			expectedCategory: useragent.CategoryDesktop,
			expectedBrowser:  "Safari",
			expectedOS:       "macOS",
		},
		{
			name:             "Googlebot",
			userAgent:        "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			expectedCategory: useragent.CategoryBot,
			expectedBot:      true,
		},
		{
			name:             "Facebook preview crawler",
			userAgent:        "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)",
			expectedCategory: useragent.CategoryBot,
			expectedBot:      true,
		},
		{
			name:             "empty string",
			userAgent:        "",
			expectedCategory: useragent.CategoryUnknown,
		},
		{
			name:             "unrecognized client",
			userAgent:        "curl/8.4.0",
			expectedCategory: useragent.CategoryUnknown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := useragent.Parse(tc.userAgent)
			assert.Equal(t, tc.expectedCategory, result.Category)
			assert.Equal(t, tc.expectedBrowser, result.BrowserName)
			assert.Equal(t, tc.expectedOS, result.OSName)
			assert.Equal(t, tc.expectedBot, result.IsBot)
		})
	}
}

func TestParseVersions(t *testing.T) {
	result := useragent.Parse("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	assert.Equal(t, "91.0.4472.124", result.BrowserVersion)
	assert.Equal(t, "10.0", result.OSVersion)

	result = useragent.Parse("Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "14.6", result.OSVersion)
}

func TestIsBot(t *testing.T) {
	assert.True(t, useragent.IsBot("Mozilla/5.0 (compatible; AhrefsBot/7.0)"))
	assert.True(t, useragent.IsBot("Screaming Frog SEO Spider/19.0"))
	assert.True(t, useragent.IsBot("Twitterbot/1.0"))
	assert.False(t, useragent.IsBot("Mozilla/5.0 (Windows NT 10.0) Chrome/91.0 Safari/537.36"))
}
