package content

import (
	"regexp"
	"strings"
)

// videoIDLength is the exact length of a valid player video identifier.
const videoIDLength = 11

// PostIDAttr is the element attribute that carries an explicit post ID.
const PostIDAttr = "data-tweet-id"

var (
	// Group 7 holds the candidate token for every known URL shape:
	// watch?v=ID, embed/ID, youtu.be/ID, v/ID and u/<ch>/ID.
	videoURLPattern = regexp.MustCompile(`^.*((youtu\.be/)|(v/)|(/u/\w/)|(embed/)|(watch\?))\??v?=?([^#&?]*).*`)
	statusPattern   = regexp.MustCompile(`status/(\d+)`)
	hashtagPattern  = regexp.MustCompile(`#\w+`)
)

// VideoID extracts the 11-character video identifier from a player URL.
// Any other token length, or a URL of an unknown shape, yields false.
func VideoID(rawURL string) (string, bool) {
	m := videoURLPattern.FindStringSubmatch(rawURL)
	if m == nil || len(m) < 8 {
		return "", false
	}
	id := m[7]
	if len(id) != videoIDLength {
		return "", false
	}
	return id, true
}

// PostID returns the post identifier for a feed element. A non-empty
// explicit attribute wins; otherwise the first status/<digits> link found in
// the element content is used.
func PostID(attr, html string) (string, bool) {
	if attr = strings.TrimSpace(attr); attr != "" {
		return attr, true
	}
	m := statusPattern.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Hashtags returns the distinct #tags in text, in order of first appearance.
func Hashtags(text string) []string {
	found := hashtagPattern.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(found))
	tags := make([]string, 0, len(found))
	for _, tag := range found {
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
	}
	return tags
}
