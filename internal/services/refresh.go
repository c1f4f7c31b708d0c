package services

import (
	"context"

	"splithappens/internal/core"
	"splithappens/internal/log"
	"splithappens/internal/router"
	"splithappens/internal/session"
)

// Snapshot kinds, also used as cache key suffixes and metric labels.
const (
	kindDashboard = "dashboard"
	kindAnalyses  = "analyses"
	kindOverview  = "expenses_overview"
)

// snapshotKey scopes a cached snapshot to one member of one household.
// Invalidation drops the whole household.
func snapshotKey(id core.SessionIdentity, kind string) string {
	return householdPrefix(id) + string(id.User) + ":" + kind
}

func householdPrefix(id core.SessionIdentity) string {
	return id.HouseholdCode + ":"
}

// invalidate forgets every snapshot of the workspace's household after a
// mutation the backend accepted.
func (f *Frontend) invalidate(ws *session.Workspace) {
	id := ws.Identity()
	if id.HouseholdCode == "" {
		return
	}
	prefix := householdPrefix(id)
	f.dashboards.Invalidate(prefix)
	f.analyses.Invalidate(prefix)
	f.overviews.Invalidate(prefix)
}

func (f *Frontend) stale(ctx context.Context, ws *session.Workspace, op string) {
	f.metrics.StaleDropped(op)
	fields := log.NewFields()
	fields[log.FieldWorkspaceID] = ws.ID
	f.events.LogStaleResponse(ctx, op, fields)
}

// refresh reloads the dashboard and the data of the active route.
func (f *Frontend) refresh(ctx context.Context, ws *session.Workspace) {
	f.refreshDashboard(ctx, ws)
	f.refreshRoute(ctx, ws)
}

func (f *Frontend) refreshRoute(ctx context.Context, ws *session.Workspace) {
	if !ws.SignedIn() {
		return
	}
	switch ws.Nav.Current() {
	case router.Analyses:
		f.loadAnalyses(ctx, ws)
	case router.Expenses:
		f.loadOverview(ctx, ws)
	}
}

// Each load captures the epoch before the call; a response that lands
// after a login or logout is dropped.

func (f *Frontend) refreshDashboard(ctx context.Context, ws *session.Workspace) {
	id := ws.Identity()
	if !id.SignedIn() {
		return
	}
	epoch := ws.Epoch()
	dash, hit, err := f.dashboards.Get(ctx, snapshotKey(id, kindDashboard), f.gateway(ws).FetchDashboard)
	f.metrics.CacheLookup(kindDashboard, hit)
	if ws.Epoch() != epoch {
		f.stale(ctx, ws, kindDashboard)
		return
	}
	if err != nil {
		f.fail(ctx, ws, log.OpLoad, err, "Failed to load dashboard.")
		return
	}
	if !ws.SetDashboard(epoch, dash) {
		f.stale(ctx, ws, kindDashboard)
	}
}

func (f *Frontend) loadAnalyses(ctx context.Context, ws *session.Workspace) {
	id := ws.Identity()
	epoch := ws.Epoch()
	list, hit, err := f.analyses.Get(ctx, snapshotKey(id, kindAnalyses), f.gateway(ws).ListAnalyses)
	f.metrics.CacheLookup(kindAnalyses, hit)
	if ws.Epoch() != epoch {
		f.stale(ctx, ws, kindAnalyses)
		return
	}
	if err != nil {
		f.fail(ctx, ws, log.OpLoad, err, "Failed to load analyses.")
		return
	}
	if list == nil {
		list = []core.Receipt{}
	}
	if !ws.SetAnalyses(epoch, list) {
		f.stale(ctx, ws, kindAnalyses)
	}
}

func (f *Frontend) loadOverview(ctx context.Context, ws *session.Workspace) {
	id := ws.Identity()
	epoch := ws.Epoch()
	ov, hit, err := f.overviews.Get(ctx, snapshotKey(id, kindOverview), f.gateway(ws).FetchExpensesOverview)
	f.metrics.CacheLookup(kindOverview, hit)
	if ws.Epoch() != epoch {
		f.stale(ctx, ws, kindOverview)
		return
	}
	if err != nil {
		f.fail(ctx, ws, log.OpLoad, err, "Failed to load expenses overview.")
		return
	}
	if !ws.SetOverview(epoch, ov) {
		f.stale(ctx, ws, kindOverview)
	}
}
