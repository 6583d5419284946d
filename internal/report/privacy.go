package report

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// PrivacyFilter decides which pages may be tracked and strips optional
// metadata from reports before they leave the agent. The zero value is a
// no-op filter.
//
// Page patterns are path.Match globs over host+path with any leading "www."
// removed, e.g. "x.com/messages/*" or "youtube.com".
type PrivacyFilter struct {
	OmitTitles   bool
	OmitURLs     bool
	OmitTags     bool
	HashUserID   bool
	AllowedPages []string
	BlockedPages []string
}

// IsAllowed reports whether the page at rawURL may be tracked. When
// AllowedPages is non-empty the page must match one of them; it must then
// match none of BlockedPages. A pattern matches a page or any of its parent
// paths.
func (f *PrivacyFilter) IsAllowed(rawURL string) bool {
	if f == nil || (len(f.AllowedPages) == 0 && len(f.BlockedPages) == 0) {
		return true
	}
	key, ok := pageKey(rawURL)
	if !ok {
		return len(f.AllowedPages) == 0
	}

	if len(f.AllowedPages) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPages {
			if matchPageOrParent(pattern, key) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedPages {
		if matchPageOrParent(pattern, key) {
			return false
		}
	}
	return true
}

// Apply returns r with the configured fields removed.
func (f *PrivacyFilter) Apply(r EngagementReport) EngagementReport {
	if f == nil {
		return r
	}
	if f.OmitTitles {
		r.ContentTitle = ""
	}
	if f.OmitURLs {
		r.ContentURL = ""
	}
	if f.OmitTags {
		r.Tags = nil
	}
	if f.HashUserID && r.UserID != "" {
		r.UserID = shortHash(r.UserID)
	}
	return r
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return f == nil || (!f.OmitTitles && !f.OmitURLs && !f.OmitTags && !f.HashUserID &&
		len(f.AllowedPages) == 0 && len(f.BlockedPages) == 0)
}

func pageKey(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host + strings.TrimSuffix(u.EscapedPath(), "/"), true
}

// matchPageOrParent checks pattern against key and each parent path, so
// "x.com/messages/*" also covers "x.com/messages/123/info".
func matchPageOrParent(pattern, key string) bool {
	for p := key; p != "." && p != ""; p = path.Dir(p) {
		if matched, _ := path.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
