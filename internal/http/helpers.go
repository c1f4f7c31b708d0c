package http

import (
	"strings"

	"splithappens/internal/router"
)

// sanitizeInput removes control characters except tab and newlines, and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// parseRoute accepts either a route name or a path. Anything unknown is
// the dashboard.
func parseRoute(raw string) router.Route {
	raw = strings.TrimSpace(raw)
	for _, r := range router.All {
		if string(r) == raw {
			return r
		}
	}
	return router.FromPath(raw)
}
