package cache

import (
	"strings"
)

// emptyPart stands in for an empty part. Escaping guarantees no escaped
// part is a lone "%".
const emptyPart = "%"

var partEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Key builds a cache key by joining a prefix and parts with colons.
//
// Example:
//
//	key := cache.Key("player", playerID)         // "player:123"
//	key := cache.Key("map_template", id, "full") // "map_template:abc123:full"
//
// Parts keep their position: an empty part becomes "%" and colons inside a
// part are escaped, so distinct part lists never share a key.
func Key(prefix string, parts ...string) string {
	out := make([]string, 0, len(parts)+1)

	if prefix != "" {
		out = append(out, prefix)
	}

	for _, part := range parts {
		if part == "" {
			out = append(out, emptyPart)
			continue
		}
		out = append(out, partEscaper.Replace(part))
	}

	return strings.Join(out, ":")
}
