package probe

import (
	"net/url"
	"regexp"
)

var urlPattern = regexp.MustCompile(`^https?://[A-Za-z0-9](?:[A-Za-z0-9.-]*[A-Za-z0-9])?(?::[0-9]{1,5})?(?:/[^\s]*)?$`)

// ValidURL accepts only scheme://host[:port][/path] with an http or https
// scheme.
func ValidURL(raw string) bool {
	if !urlPattern.MatchString(raw) {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Hostname() != ""
}

// InvalidGuard limits invalid-format notifications to one per run of invalid
// values. A valid value re-arms it.
type InvalidGuard struct {
	notified bool
}

// Observe reports whether a notification should be raised now.
func (g *InvalidGuard) Observe(valid bool) bool {
	if valid {
		g.notified = false
		return false
	}
	if g.notified {
		return false
	}
	g.notified = true
	return true
}

func (g *InvalidGuard) Notified() bool { return g.notified }
