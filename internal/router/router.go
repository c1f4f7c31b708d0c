// Package router maps browser paths to the fixed set of views.
package router

import (
	"strings"
	"sync"
)

type Route string

const (
	Dashboard     Route = "dashboard"
	Analyses      Route = "analyses"
	Notifications Route = "notifications"
	Expenses      Route = "expenses"
)

// All lists the routes in navigation order.
var All = []Route{Dashboard, Analyses, Notifications, Expenses}

// FromPath resolves a URL path to a route. Trailing slashes are ignored and
// unknown paths fall back to the dashboard.
func FromPath(path string) Route {
	p := strings.TrimRight(path, "/")
	if p == "" {
		p = "/"
	}
	switch p {
	case "/analyses":
		return Analyses
	case "/notifications":
		return Notifications
	case "/expenses":
		return Expenses
	default:
		return Dashboard
	}
}

func (r Route) Path() string {
	switch r {
	case Analyses:
		return "/analyses"
	case Notifications:
		return "/notifications"
	case Expenses:
		return "/expenses"
	default:
		return "/"
	}
}

func (r Route) Title() string {
	switch r {
	case Analyses:
		return "Analyses"
	case Notifications:
		return "Notifications"
	case Expenses:
		return "Expenses"
	default:
		return "Dashboard"
	}
}

// Navigator tracks the active route of one browser session.
type Navigator struct {
	mu      sync.Mutex
	current Route
}

func NewNavigator() *Navigator {
	return &Navigator{current: Dashboard}
}

func (n *Navigator) Current() Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Navigate switches to r. When the path changes it is returned so the
// caller can push it to the browser history.
func (n *Navigator) Navigate(r Route) (path string, pushed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	path = r.Path()
	pushed = n.current.Path() != path
	n.current = r
	return path, pushed
}

// Sync adopts the route of a path the browser already shows, as happens
// on a reload or back/forward navigation. Nothing is pushed.
func (n *Navigator) Sync(path string) Route {
	r := FromPath(path)
	n.mu.Lock()
	n.current = r
	n.mu.Unlock()
	return r
}
