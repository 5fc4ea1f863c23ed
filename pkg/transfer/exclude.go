package transfer

import (
	"path"
	"strings"
)

// Excluded reports whether rel, a slash separated path relative to the
// transfer root, matches one of patterns. Patterns support:
//   - basename globs: *.tmp
//   - directory patterns with a trailing slash: .git/
//   - rooted path globs: build/*
//   - any-depth prefixes: **/cache
func Excluded(rel string, patterns []string) bool {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return false
	}
	base := path.Base(rel)

	for _, pattern := range patterns {
		switch {
		case pattern == "":
			continue

		case strings.HasSuffix(pattern, "/"):
			dir := strings.TrimSuffix(pattern, "/")
			for _, part := range strings.Split(rel, "/") {
				if match(dir, part) {
					return true
				}
			}

		case strings.HasPrefix(pattern, "**/"):
			suffix := strings.TrimPrefix(pattern, "**/")
			parts := strings.Split(rel, "/")
			for i := range parts {
				if match(suffix, strings.Join(parts[i:], "/")) {
					return true
				}
			}

		case strings.Contains(pattern, "/"):
			if match(strings.TrimPrefix(pattern, "/"), rel) {
				return true
			}

		default:
			if match(pattern, base) {
				return true
			}
		}
	}
	return false
}

func match(pattern, name string) bool {
	ok, _ := path.Match(pattern, name)
	return ok
}
