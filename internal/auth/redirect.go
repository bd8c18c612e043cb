package auth

import (
	"net/url"
	"strings"
)

// sensitiveParams never survive a redirect
var sensitiveParams = []string{"token", "access_token", "refresh_token", "api_key", "apikey", "key", "code", "csrf", "password", "secret"}

// SanitizeRedirect returns a same-site path safe to redirect to after login
// or logout. Absolute URLs, protocol-relative paths and unparseable input
// yield "/". Fragments and credential-bearing query parameters are dropped.
func SanitizeRedirect(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}

	q := u.Query()
	for name := range q {
		lower := strings.ToLower(name)
		for _, s := range sensitiveParams {
			if lower == s || strings.Contains(lower, "token") {
				q.Del(name)
				break
			}
		}
	}

	out := url.URL{Path: u.Path, RawQuery: q.Encode()}
	if out.Path == "" {
		out.Path = "/"
	}
	return out.String()
}
