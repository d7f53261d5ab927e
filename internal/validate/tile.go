// Package validate holds the pure input predicates for user-supplied
// tile values and image URLs. They are injected into the dispatcher so
// policy can change without touching it.
package validate

import (
	"encoding/json"
	"strings"
)

const maxTileIdentifier = 32

// TileOK reports whether a tile value is acceptable: either a short
// tileset identifier string, or a descriptor object carrying a "pic"
// 3-tuple. A string that itself contains a JSON object is unwrapped
// first (some clients double-encode descriptors).
func TileOK(raw json.RawMessage) (bool, string) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, "Invalid type"
	}
	if s, ok := v.(string); ok && strings.HasPrefix(s, "{") {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			v = inner
		}
	}
	switch t := v.(type) {
	case string:
		if len(t) > maxTileIdentifier {
			return false, "Identifier too long"
		}
		return true, ""
	case map[string]any:
		pic, ok := t["pic"].([]any)
		if !ok || len(pic) != 3 {
			return false, "No/invalid picture"
		}
		return true, ""
	default:
		return false, "Invalid type"
	}
}

// URLAllowlist answers image-URL acceptability by prefix match.
type URLAllowlist []string

func (a URLAllowlist) ImageURLOK(url string) bool {
	for _, prefix := range a {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
