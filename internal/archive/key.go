package archive

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// RootKey is the storage key used when a URL normalizes to an empty path.
const RootKey = "_root"

var collapsible = regexp.MustCompile(`\.{2,}|/{2,}`)

// NormalizeKey turns a resolved URL into a storage key: host, path, query and
// fragment, percent-encoded per path segment, with every run of two or more
// dots or slashes removed and the result cleaned as a path.
// A missing scheme is treated as https.
func NormalizeKey(resolvedURL string) (string, error) {
	raw := strings.TrimSpace(resolvedURL)
	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "//") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse resolved url: %w", err)
	}
	return CleanKey(escapeSegments(withoutScheme(u))), nil
}

// CleanKey applies the collapsing and path normalization steps of NormalizeKey
// to an already encoded key. It is idempotent.
func CleanKey(key string) string {
	for {
		next := collapsible.ReplaceAllString(key, "")
		if next == key {
			break
		}
		key = next
	}
	key = strings.TrimLeft(path.Clean(key), "/")
	if key == "" || key == "." {
		return RootKey
	}
	return key
}

// withoutScheme rebuilds u from its raw components, leaving out "scheme:" and
// the authority marker.
func withoutScheme(u *url.URL) string {
	var b strings.Builder
	if u.Opaque != "" {
		b.WriteString(u.Opaque)
	} else {
		if u.User != nil {
			b.WriteString(u.User.String())
			b.WriteByte('@')
		}
		b.WriteString(u.Host)
		b.WriteString(u.EscapedPath())
	}
	if u.ForceQuery || u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return strings.TrimPrefix(b.String(), "//")
}

// escapeSegments query-escapes everything except the "/" separators.
func escapeSegments(s string) string {
	segments := strings.Split(s, "/")
	for i, segment := range segments {
		segments[i] = url.QueryEscape(segment)
	}
	return strings.Join(segments, "/")
}
