package resolver

import "regexp"

var (
	dashboardPathPattern  = regexp.MustCompile(`/d/([a-zA-Z0-9\-_:]{5,})`)
	dashboardFieldPattern = regexp.MustCompile(`dashboardUid"\s*[:=]\s*"([a-zA-Z0-9\-_:]+)"`)
	locationPathPattern   = regexp.MustCompile(`/d/([^/?#]+)`)
)

// ExtractUID looks for a canonical dashboard uid embedded in an HTML page.
// A /d/<uid> path wins over a dashboardUid field; only the first match counts.
func ExtractUID(html string) (string, bool) {
	if m := dashboardPathPattern.FindStringSubmatch(html); m != nil {
		return m[1], true
	}
	if m := dashboardFieldPattern.FindStringSubmatch(html); m != nil {
		return m[1], true
	}
	return "", false
}

// uidFromLocation extracts the uid from a redirect target such as /d/<uid>/<slug>.
func uidFromLocation(location string) (string, bool) {
	m := locationPathPattern.FindStringSubmatch(location)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}
