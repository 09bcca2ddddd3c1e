package httpx

import "strings"

// IsSafePath reports whether resolving the ".." segments of the
// slash-separated path p stays at or below the root. Every segment
// descends one level and ".." climbs one; climbing from depth zero means
// the path escapes. Empty and "." segments are ignored.
func IsSafePath(p string) bool {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if depth == 0 {
				return false
			}
			depth--
		default:
			depth++
		}
	}
	return true
}
