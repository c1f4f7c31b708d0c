// Package services runs the member-facing operations of the frontend.
//
// Every operation works on one session.Workspace. Failures never escape:
// they are normalized and written to the workspace banner, and the
// handlers render the page as usual.
package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"splithappens/internal/amqp"
	"splithappens/internal/api"
	"splithappens/internal/apperr"
	"splithappens/internal/cache"
	"splithappens/internal/core"
	"splithappens/internal/draft"
	"splithappens/internal/log"
	"splithappens/internal/metrics"
	"splithappens/internal/router"
	"splithappens/internal/session"
)

// Busy markers, one per kind of in-flight request.
const (
	BusyAuth   = "auth"
	BusyUpload = "upload"
	BusyManual = "manual"
	BusySave   = "save"
	BusySettle = "settle"
	BusyDelete = "delete"
)

const (
	NoticeAnalyzed = "Receipt analysis finished. Review item split below and save to update totals."
	NoticeUpdated  = "Receipt updated and totals recalculated."
	NoticeSaved    = "Receipt saved and monthly totals refreshed."
	NoticeDeleted  = "Receipt deleted and totals updated."
	NoticeManual   = "Manual expense saved and totals updated."
	NoticeSettled  = "Settlement completed and notifications sent."
)

const (
	MsgFillCreate    = "Fill all Create Household fields."
	MsgFillJoin      = "Fill all Join Household fields."
	MsgManualTotal   = "Enter a valid manual expense total."
	MsgSelectImage   = "Select a receipt image first."
	MsgSignInFirst   = "Sign in first."
	MsgUnknownRecord = "Receipt not found. Refresh and try again."
	MsgCurrency      = "Select one of the supported currencies."
)

// Publisher sends domain events. A nil Publisher disables events.
type Publisher interface {
	Publish(ctx context.Context, ev amqp.Event) error
}

type Options struct {
	Logger    *log.Logger
	Metrics   *metrics.Metrics
	Publisher Publisher
	// SnapshotTTL keeps backend snapshots per household member. Zero only
	// collapses concurrent loads.
	SnapshotTTL time.Duration
	// CacheSize bounds each snapshot cache.
	CacheSize int
}

type Frontend struct {
	api       *api.Client
	logger    *log.Logger
	events    *log.StructuredLogger
	metrics   *metrics.Metrics
	publisher Publisher

	dashboards *cache.Loader[core.DashboardSnapshot]
	analyses   *cache.Loader[[]core.Receipt]
	overviews  *cache.Loader[core.ExpensesOverview]
}

func NewFrontend(client *api.Client, opts Options) *Frontend {
	logger := opts.Logger
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentFrontend)
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 500
	}
	return &Frontend{
		api:        client,
		logger:     logger,
		events:     log.NewStructuredLogger(logger),
		metrics:    opts.Metrics,
		publisher:  opts.Publisher,
		dashboards: cache.NewLoader[core.DashboardSnapshot](size, opts.SnapshotTTL),
		analyses:   cache.NewLoader[[]core.Receipt](size, opts.SnapshotTTL),
		overviews:  cache.NewLoader[core.ExpensesOverview](size, opts.SnapshotTTL),
	}
}

// Caches exposes the snapshot caches so a cache.Manager can sweep them.
func (f *Frontend) Caches() []cache.Cleaner {
	return []cache.Cleaner{f.dashboards, f.analyses, f.overviews}
}

// detach keeps a mutation running when the browser request that started
// it goes away. Each backend call stays bounded by the client timeout.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (f *Frontend) gateway(ws *session.Workspace) *api.Gateway {
	return f.api.For(ws)
}

// fail writes the normalized error to the banner. A 401 while signed in
// means the backend dropped the session, so the workspace is reset.
func (f *Frontend) fail(ctx context.Context, ws *session.Workspace, op string, err error, fallback string) {
	kind := apperr.KindOf(err)
	fields := log.NewFields().WithHousehold(ws.Identity().HouseholdCode, ws.Identity().UserName)
	fields[log.FieldWorkspaceID] = ws.ID
	fields[log.FieldErrorKind] = kind.String()

	if kind == apperr.KindAuthExpired && ws.SignedIn() {
		ws.Reset()
	}
	switch kind {
	case apperr.KindServer, apperr.KindAuthExpired, apperr.KindValidation:
		f.logger.InfoContext(ctx, "Operation rejected", fields.WithError(err).WithOperation(op).ToSlice()...)
	default:
		f.events.LogError(ctx, "Operation failed", err, op, fields)
	}
	ws.SetError(apperr.UserMessage(err, fallback))
}

// Initialize mirrors the backend session the first time a workspace is
// seen, and loads the dashboard when someone is signed in.
func (f *Frontend) Initialize(ctx context.Context, ws *session.Workspace) {
	if ws.Initialized() {
		return
	}
	epoch := ws.Epoch()
	id, err := f.gateway(ws).FetchSession(ctx)
	if err != nil {
		if ws.Epoch() != epoch {
			f.stale(ctx, ws, "session_me")
			return
		}
		f.fail(ctx, ws, log.OpLoad, err, "Failed to check session.")
		return
	}
	if ws.Epoch() != epoch {
		f.stale(ctx, ws, "session_me")
		return
	}
	ws.ApplyIdentity(id)
	if id.SignedIn() {
		f.refreshDashboard(ctx, ws)
	}
}

// Visit handles a full page load of path: the route is synced from the
// address bar and everything the page shows is loaded.
func (f *Frontend) Visit(ctx context.Context, ws *session.Workspace, path string) {
	before := ws.Nav.Current()
	if ws.Nav.Sync(path) != before {
		ws.MarkDirty()
	}
	if !ws.Initialized() {
		f.Initialize(ctx, ws)
		f.refreshRoute(ctx, ws)
		return
	}
	f.refresh(ctx, ws)
}

func (f *Frontend) CreateHousehold(ctx context.Context, ws *session.Workspace, in core.CreateHouseholdInput) {
	ctx = detach(ctx)
	if err := in.Validate(); err != nil {
		ws.SetError(MsgFillCreate)
		return
	}
	if !ws.Begin(BusyAuth) {
		return
	}
	defer ws.End(BusyAuth)
	ws.ClearBanner()

	id, err := f.gateway(ws).CreateHousehold(ctx, in.Trimmed())
	if err != nil {
		f.fail(ctx, ws, log.OpCreate, err, "Failed to create household.")
		return
	}
	ws.SignIn(id)
	f.logger.InfoContext(ctx, "Household created",
		log.FieldWorkspaceID, ws.ID,
		log.FieldHousehold, id.HouseholdCode,
		log.FieldMember, id.UserName)
	f.refreshDashboard(ctx, ws)
}

func (f *Frontend) Login(ctx context.Context, ws *session.Workspace, in core.LoginInput) {
	ctx = detach(ctx)
	if err := in.Validate(); err != nil {
		ws.SetError(MsgFillJoin)
		return
	}
	if !ws.Begin(BusyAuth) {
		return
	}
	defer ws.End(BusyAuth)
	ws.ClearBanner()

	id, err := f.gateway(ws).Login(ctx, in.Trimmed())
	if err != nil {
		f.fail(ctx, ws, log.OpLogin, err, "Failed to join household.")
		return
	}
	ws.SignIn(id)
	f.logger.InfoContext(ctx, "Member signed in",
		log.FieldWorkspaceID, ws.ID,
		log.FieldHousehold, id.HouseholdCode,
		log.FieldMember, id.UserName)
	f.refreshDashboard(ctx, ws)
}

// Logout ends the backend session first. The workspace is only reset once
// the backend confirmed it.
func (f *Frontend) Logout(ctx context.Context, ws *session.Workspace) {
	ctx = detach(ctx)
	if !ws.Begin(BusyAuth) {
		return
	}
	defer ws.End(BusyAuth)
	ws.ClearBanner()

	if err := f.gateway(ws).Logout(ctx); err != nil {
		f.fail(ctx, ws, log.OpLogout, err, "Failed to logout.")
		return
	}
	ws.Reset()
	f.logger.InfoContext(ctx, "Member signed out", log.FieldWorkspaceID, ws.ID)
}

// Upload is a receipt image posted by the browser.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// AnalyzeReceipt sends the image for OCR and loads the result as the
// draft. A draft with unsaved edits is replaced.
func (f *Frontend) AnalyzeReceipt(ctx context.Context, ws *session.Workspace, up Upload) {
	ctx = detach(ctx)
	if !ws.SignedIn() {
		ws.SetError(MsgSignInFirst)
		return
	}
	if up.Body == nil {
		ws.SetError(MsgSelectImage)
		return
	}
	if !ws.Begin(BusyUpload) {
		return
	}
	defer ws.End(BusyUpload)
	ws.ClearBanner()

	epoch := ws.Epoch()
	rec, err := f.gateway(ws).AnalyzeReceipt(ctx, up.Filename, up.ContentType, up.Body)
	if ws.Epoch() != epoch {
		f.stale(ctx, ws, log.OpAnalyze)
		return
	}
	if err != nil {
		f.fail(ctx, ws, log.OpAnalyze, err, "Unable to process receipt.")
		return
	}

	_, replaced := ws.Draft.Load(rec)
	if replaced {
		f.logger.InfoContext(ctx, "Unsaved draft replaced by new analysis",
			log.FieldWorkspaceID, ws.ID,
			log.FieldReceiptID, rec.ID)
	}
	f.invalidate(ws)
	f.navigate(ws, router.Dashboard)
	ws.SetNotice(NoticeAnalyzed)
	f.logger.InfoContext(ctx, "Receipt analyzed",
		log.NewFields().WithReceipt(rec.ID, rec.Vendor, len(rec.Items)).WithOperation(log.OpAnalyze).ToSlice()...)
}

// EditReceipt loads a listed receipt into the draft.
func (f *Frontend) EditReceipt(ctx context.Context, ws *session.Workspace, id int64) bool {
	rec, ok := ws.FindReceipt(id)
	if !ok {
		ws.SetError(MsgUnknownRecord)
		return false
	}
	if _, replaced := ws.Draft.Load(rec); replaced {
		f.logger.InfoContext(ctx, "Unsaved draft replaced", log.FieldWorkspaceID, ws.ID, log.FieldReceiptID, id)
	}
	return true
}

// AssignItem retags one draft item. Stray input is ignored.
func (f *Frontend) AssignItem(ws *session.Workspace, index int, raw string) bool {
	a, err := core.ParseAssignment(raw)
	if err != nil {
		return false
	}
	_, ok := ws.Draft.SetItemAssignment(index, a)
	return ok
}

func (f *Frontend) SetCategory(ws *session.Workspace, raw string) bool {
	c, err := core.ParseCategory(raw)
	if err != nil {
		return false
	}
	_, ok := ws.Draft.SetCategory(c)
	return ok
}

// SaveDraft sends the positional split of the draft. The slot is cleared
// only when the response belongs to the draft that was sent. Leaving the
// page does not cancel the save.
func (f *Frontend) SaveDraft(ctx context.Context, ws *session.Workspace) {
	ctx = detach(ctx)
	current, ok := ws.Draft.Current()
	if !ok {
		return
	}
	if !ws.Begin(BusySave) {
		return
	}
	defer ws.End(BusySave)

	ticket, req, err := ws.Draft.BeginSave()
	if errors.Is(err, draft.ErrNoDraft) || errors.Is(err, draft.ErrSaveInFlight) {
		return
	}
	ws.ClearBanner()

	saved, err := f.gateway(ws).UpdateItemAssignments(ctx, req)
	if err != nil {
		if ws.Draft.FailSave(ticket) {
			f.metrics.DraftSave("failed")
		} else {
			f.metrics.DraftSave("stale")
		}
		f.fail(ctx, ws, log.OpSave, err, "Failed to save item assignments.")
		return
	}

	if ws.Draft.CompleteSave(ticket) {
		f.metrics.DraftSave("ok")
	} else {
		f.metrics.DraftSave("stale")
		f.metrics.StaleDropped(log.OpSave)
		f.events.LogStaleResponse(ctx, log.OpSave, log.NewFields().WithReceipt(ticket.ReceiptID, "", len(req.Assignments)))
	}
	if current.IsSaved {
		ws.SetNotice(NoticeUpdated)
	} else {
		ws.SetNotice(NoticeSaved)
	}

	id := ws.Identity()
	f.events.LogDraftSaved(ctx, id.HouseholdCode, saved.ID, len(req.Assignments), string(req.Category))
	f.invalidate(ws)
	f.publish(ctx, ws, receiptEvent(amqp.EventReceiptSaved, saved))
	f.refresh(ctx, ws)
}

func (f *Frontend) DiscardDraft(ws *session.Workspace) {
	ws.Draft.Discard()
}

func (f *Frontend) DeleteReceipt(ctx context.Context, ws *session.Workspace, id int64) {
	ctx = detach(ctx)
	if !ws.SignedIn() {
		ws.SetError(MsgSignInFirst)
		return
	}
	if !ws.Begin(BusyDelete) {
		return
	}
	defer ws.End(BusyDelete)
	ws.ClearBanner()

	rec, known := ws.FindReceipt(id)
	if err := f.gateway(ws).DeleteReceipt(ctx, id); err != nil {
		f.fail(ctx, ws, log.OpDelete, err, "Failed to delete receipt.")
		return
	}
	ws.Draft.Forget(id)
	ws.SetNotice(NoticeDeleted)

	if !known {
		rec = core.Receipt{ID: id}
	}
	f.invalidate(ws)
	f.publish(ctx, ws, receiptEvent(amqp.EventReceiptDeleted, rec))
	f.refresh(ctx, ws)
}

// ManualInput is the manual expense form as typed.
type ManualInput struct {
	Vendor      string
	Total       string
	ExpenseDate string
	Currency    string
	Category    string
	Notes       string
}

func (f *Frontend) CreateManualExpense(ctx context.Context, ws *session.Workspace, in ManualInput) {
	ctx = detach(ctx)
	if !ws.SignedIn() {
		ws.SetError(MsgSignInFirst)
		return
	}
	total, err := core.ParseAmount(in.Total)
	if err != nil {
		ws.SetError(MsgManualTotal)
		return
	}
	category, err := core.ParseCategory(in.Category)
	if err != nil {
		category = core.CategoryOther
	}
	exp := core.ManualExpense{
		Vendor:      strings.TrimSpace(in.Vendor),
		ExpenseDate: strings.TrimSpace(in.ExpenseDate),
		Currency:    core.NormalizeCurrency(in.Currency),
		Total:       total,
		Category:    category,
		Notes:       strings.TrimSpace(in.Notes),
	}
	if err := exp.Validate(); err != nil {
		if errors.Is(err, core.ErrInvalidCurrency) {
			ws.SetError(MsgCurrency)
		} else {
			ws.SetError(apperr.UserMessage(err, MsgManualTotal))
		}
		return
	}
	if !ws.Begin(BusyManual) {
		return
	}
	defer ws.End(BusyManual)
	ws.ClearBanner()

	rec, err := f.gateway(ws).CreateManualExpense(ctx, exp)
	if err != nil {
		f.fail(ctx, ws, log.OpCreate, err, "Failed to save manual expense.")
		return
	}
	_ = ws.SetCurrency(exp.Currency)
	ws.SetNotice(NoticeManual)

	ev := receiptEvent(amqp.EventManualExpense, rec)
	ev.Message = exp.Notes
	f.invalidate(ws)
	f.publish(ctx, ws, ev)
	f.refresh(ctx, ws)
}

// Settle asks the backend to settle the household. It needs a loaded
// dashboard, as the settlement shown there is what the member confirms.
func (f *Frontend) Settle(ctx context.Context, ws *session.Workspace) {
	ctx = detach(ctx)
	if _, ok := ws.Dashboard(); !ok {
		return
	}
	if !ws.Begin(BusySettle) {
		return
	}
	defer ws.End(BusySettle)
	ws.ClearBanner()

	res, err := f.gateway(ws).Settle(ctx)
	if err != nil {
		f.fail(ctx, ws, log.OpSettle, err, "Failed to settle household.")
		return
	}
	ws.SetNotice(NoticeSettled)

	ev := amqp.NewEvent(amqp.EventSettled)
	ev.Total = res.Settlement.Amount
	ev.Message = res.Settlement.Message
	if ev.Message == "" {
		ev.Message = res.Detail
	}
	f.invalidate(ws)
	f.publish(ctx, ws, ev)
	f.refresh(ctx, ws)
}

// SetCurrencyPreference stores the sticky manual expense currency.
func (f *Frontend) SetCurrencyPreference(ws *session.Workspace, code string) bool {
	if err := ws.SetCurrency(code); err != nil {
		ws.SetError(MsgCurrency)
		return false
	}
	return true
}

// Navigate switches the route and loads what the new view needs. It
// returns the path to push when it changed.
func (f *Frontend) Navigate(ctx context.Context, ws *session.Workspace, r router.Route) (string, bool) {
	path, pushed := f.navigate(ws, r)
	f.refreshRoute(ctx, ws)
	return path, pushed
}

func (f *Frontend) navigate(ws *session.Workspace, r router.Route) (string, bool) {
	path, pushed := ws.Nav.Navigate(r)
	if pushed {
		ws.MarkDirty()
	}
	return path, pushed
}

func (f *Frontend) DismissBanner(ws *session.Workspace) {
	ws.ClearBanner()
}
