package content

import (
	"encoding/json"
	"fmt"
)

// Source identifies the kind of content a Ref points at.
type Source int

const (
	Unknown     Source = iota
	StreamVideo        // player-style video pages
	SocialPost         // feed-style social posts
)

// Wire names match the collector's "platform" values.
var sourceNames = map[Source]string{
	StreamVideo: "youtube",
	SocialPost:  "twitter",
}

var sourceFromName = map[string]Source{
	"youtube": StreamVideo,
	"twitter": SocialPost,
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseSource maps a wire name back to a Source. Unknown names return
// Unknown and false.
func ParseSource(name string) (Source, bool) {
	s, ok := sourceFromName[name]
	return s, ok
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s, _ = ParseSource(name)
	return nil
}

// Ref is the identity of a single piece of content. Two refs are equal iff
// both Source and ID match, so Ref is usable directly as a map key.
type Ref struct {
	Source Source `json:"source"`
	ID     string `json:"id"`
}

// NewRef returns a Ref for id, or false when id is empty.
func NewRef(source Source, id string) (Ref, bool) {
	if id == "" {
		return Ref{}, false
	}
	return Ref{Source: source, ID: id}, true
}

func (r Ref) IsZero() bool {
	return r.ID == ""
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Source, r.ID)
}
