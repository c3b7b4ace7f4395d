package config

import (
	"regexp"
	"strings"
)

// absoluteURL matches scheme-prefixed ("http://...") and protocol-relative
// ("//host/...") URLs.
var absoluteURL = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*:)?//`)

// RelativeURL resolves url against base. The url is returned unchanged when
// base is empty, when url is host-absolute (leading slash), or when url is
// already absolute; otherwise the two are joined with a single slash.
func RelativeURL(base, url string) string {
	if base == "" || strings.HasPrefix(url, "/") || absoluteURL.MatchString(url) {
		return url
	}
	return base + "/" + url
}
