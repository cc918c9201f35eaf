package referrers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"revivalmetrics/internal/pkg/referrers"
)

func TestFriendlyNameKnownHosts(t *testing.T) {
	assert.Equal(t, "Google", referrers.FriendlyName("google.com"))
	assert.Equal(t, "Google", referrers.FriendlyName("www.google.com"))
	assert.Equal(t, "X/Twitter", referrers.FriendlyName("t.co"))
	assert.Equal(t, "Hacker News", referrers.FriendlyName("news.ycombinator.com"))
	assert.Equal(t, "Gmail", referrers.FriendlyName("mail.google.com"))
}

func TestFriendlyNameSubdomains(t *testing.T) {
	assert.Equal(t, "Reddit", referrers.FriendlyName("out.reddit.com"))
	assert.Equal(t, "Substack", referrers.FriendlyName("myblog.substack.com"))
}

func TestFriendlyNameUnknownHosts(t *testing.T) {
	assert.Equal(t, "Example.org", referrers.FriendlyName("example.org"))
	assert.Equal(t, "Example.org", referrers.FriendlyName("www.example.org"))
	assert.Equal(t, "", referrers.FriendlyName(""))
	assert.Equal(t, "", referrers.FriendlyName("   "))
}
