package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"splithappens/internal/log"
	"splithappens/internal/services"
	"splithappens/internal/session"
)

const (
	msgImageTooLarge = "Receipt image is too large. Try a smaller photo."
	msgRenderFailed  = "The page could not be rendered. Please reload."
	msgDraftChanged  = "This receipt changed since the page was loaded. Review the draft below and try again."
)

// Every draft form carries the identity of the draft it was rendered for.
const (
	fieldReceiptID       = "receipt_id"
	fieldDraftGeneration = "draft_generation"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)
	notReady := func(name, reason string) {
		checks[name] = reason
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if s.templates == nil {
		notReady("templates", "failed: templates not loaded")
	} else {
		checks["templates"] = "ok"
	}

	switch {
	case s.store == nil:
		notReady("store", "not_configured")
	default:
		if err := s.store.Ping(ctx); err != nil {
			notReady("store", "failed: "+err.Error())
		} else {
			checks["store"] = "ok"
		}
	}

	if s.sessions != nil {
		checks["workspaces"] = map[string]any{"live": s.sessions.Live()}
	}
	rl := s.limiter.GetMetrics()
	checks["rate_limiter"] = map[string]any{
		"active_clients": rl.ClientCount,
		"limited_total":  rl.TotalHits,
	}
	sec := s.detector.GetMetrics()
	checks["security"] = map[string]any{
		"suspicious_total": sec.SuspiciousRequests,
		"blocked_total":    sec.BlockedRequests,
	}
	checks["requests_total"] = s.tracer.GetMetrics().TotalRequests

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (s *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/static/favicon.svg", http.StatusMovedPermanently)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handlePage serves a full page load or reload of any route.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.Visit(r.Context(), ws, r.URL.Path)
	s.persist(r.Context(), ws)

	body, err := s.renderPage(ws)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Page render failed",
			log.FieldComponent, log.ComponentTemplate,
			log.FieldRoute, string(ws.Nav.Current()),
			log.FieldError, err)
		InternalServerError(msgRenderFailed).Write(w)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

// finish ends an action. Plain form posts are redirected to the current
// route; htmx requests get the page back with the route pushed to history
// and the banner raised as a notification.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, ws *session.Workspace, b *HTMXResponseBuilder) {
	s.persist(context.WithoutCancel(r.Context()), ws)
	path := ws.Nav.Current().Path()

	if !isHTMX(r) {
		http.Redirect(w, r, path, http.StatusSeeOther)
		return
	}

	banner := ws.Banner()
	switch {
	case banner.Error != "":
		b.TriggerErrorNotification(banner.Error)
	case banner.Notice != "":
		b.TriggerSuccessNotification(banner.Notice)
	}

	body, err := s.renderPage(ws)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Action render failed",
			log.FieldComponent, log.ComponentTemplate,
			log.FieldError, err)
		b.Redirect(path).Write(w)
		return
	}
	b.PushURL(path).BodyHTML(body).Write(w)
}

func (s *Server) persist(ctx context.Context, ws *session.Workspace) {
	if err := s.sessions.Persist(ctx, ws); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Failed to persist workspace", log.FieldError, err)
	}
}

func draftID(ws *session.Workspace) int64 {
	if d, ok := ws.Draft.Current(); ok {
		return d.ID
	}
	return 0
}

// resetOnSuccess clears the submitted form unless the action failed.
func resetOnSuccess(b *HTMXResponseBuilder, ws *session.Workspace) *HTMXResponseBuilder {
	if ws.Banner().Error == "" {
		b.TriggerFormReset()
	}
	return b
}

func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.CreateHousehold(r.Context(), ws, ParseCreateHousehold(ParseActionForm(r)))
	s.finish(w, r, ws, NewHTMXResponse().TriggerSessionChanged(ws.SignedIn()))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.Login(r.Context(), ws, ParseLogin(ParseActionForm(r)))
	s.finish(w, r, ws, NewHTMXResponse().TriggerSessionChanged(ws.SignedIn()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.Logout(r.Context(), ws)
	s.finish(w, r, ws, NewHTMXResponse().TriggerSessionChanged(ws.SignedIn()))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	up, file, err := ParseUpload(w, r, s.maxUpload)
	if file != nil {
		defer file.Close()
	}
	switch {
	case errors.Is(err, errUploadTooLarge):
		ws.SetError(msgImageTooLarge)
	case err != nil:
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rejected receipt upload", log.FieldError, err)
		ws.SetError(services.MsgSelectImage)
	default:
		s.frontend.AnalyzeReceipt(r.Context(), ws, up)
	}
	b := NewHTMXResponse().TriggerDraftChanged(draftID(ws))
	s.finish(w, r, ws, resetOnSuccess(b, ws))
}

func (s *Server) handleManualExpense(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.CreateManualExpense(r.Context(), ws, ParseManualExpense(ParseActionForm(r)))
	b := NewHTMXResponse().TriggerTotalsChanged(string(ws.Nav.Current()))
	s.finish(w, r, ws, resetOnSuccess(b, ws))
}

func (s *Server) handleEditReceipt(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	if id, err := ParsePathInt(r, "id"); err != nil {
		ws.SetError(services.MsgUnknownRecord)
	} else {
		s.frontend.EditReceipt(r.Context(), ws, id)
	}
	s.finish(w, r, ws, NewHTMXResponse().TriggerDraftChanged(draftID(ws)))
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	if id, err := ParsePathInt(r, "id"); err != nil {
		ws.SetError(services.MsgUnknownRecord)
	} else {
		s.frontend.DeleteReceipt(r.Context(), ws, id)
	}
	b := NewHTMXResponse().
		TriggerTotalsChanged(string(ws.Nav.Current())).
		TriggerDraftChanged(draftID(ws))
	s.finish(w, r, ws, b)
}

// sameDraft reports whether the form was rendered for the draft the
// workspace holds now. Another tab or a finished analysis may have
// replaced it since.
func (s *Server) sameDraft(r *http.Request, ws *session.Workspace, p *RequestBodyParser) bool {
	id, idErr := strconv.ParseInt(p.Get(fieldReceiptID), 10, 64)
	gen, genErr := strconv.ParseUint(p.Get(fieldDraftGeneration), 10, 64)
	if idErr == nil && genErr == nil && ws.Draft.Holds(id, gen) {
		return true
	}
	ctx := r.Context()
	log.FromContext(ctx).InfoContext(ctx, "Dropped edit for a replaced draft",
		log.FieldWorkspaceID, ws.ID,
		log.FieldReceiptID, p.Get(fieldReceiptID),
		log.FieldGeneration, p.Get(fieldDraftGeneration))
	s.metrics.StaleDropped("draft_form")
	if ws.Draft.HasDraft() {
		ws.SetError(msgDraftChanged)
	}
	return false
}

// handleAssignItem retags one item. Unknown values and indexes are
// ignored, as are edits while a save is in flight.
func (s *Server) handleAssignItem(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	p := ParseActionForm(r)
	if !s.sameDraft(r, ws, p) {
		s.finish(w, r, ws, NewHTMXResponse().TriggerDraftChanged(draftID(ws)))
		return
	}
	if index, err := ParsePathInt(r, "index"); err == nil {
		v := p.Get("assigned_to")
		if v == "" {
			v = p.Get(itemField(int(index)))
		}
		s.frontend.AssignItem(ws, int(index), v)
	}
	s.finish(w, r, ws, NewHTMXResponse().TriggerDraftChanged(draftID(ws)))
}

func (s *Server) handleDraftCategory(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	p := ParseActionForm(r)
	if s.sameDraft(r, ws, p) {
		s.frontend.SetCategory(ws, p.Get("category"))
	}
	s.finish(w, r, ws, NewHTMXResponse().TriggerDraftChanged(draftID(ws)))
}

// handleSaveDraft applies the assignments posted with the save before
// sending it, so a plain form submit carries the whole split at once.
func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	p := ParseActionForm(r)
	if !s.sameDraft(r, ws, p) {
		s.finish(w, r, ws, NewHTMXResponse().TriggerDraftChanged(draftID(ws)))
		return
	}
	if d, ok := ws.Draft.Current(); ok {
		for i := range d.Items {
			if v := p.Get(itemField(i)); v != "" {
				s.frontend.AssignItem(ws, i, v)
			}
		}
	}
	if c := p.Get("category"); c != "" {
		s.frontend.SetCategory(ws, c)
	}
	s.frontend.SaveDraft(r.Context(), ws)
	b := NewHTMXResponse().
		TriggerTotalsChanged(string(ws.Nav.Current())).
		TriggerDraftChanged(draftID(ws))
	s.finish(w, r, ws, b)
}

func itemField(i int) string {
	return "item_" + strconv.Itoa(i)
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	if s.sameDraft(r, ws, ParseActionForm(r)) {
		s.frontend.DiscardDraft(ws)
	}
	s.finish(w, r, ws, NewHTMXResponse().TriggerDraftChanged(draftID(ws)))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.Settle(r.Context(), ws)
	s.finish(w, r, ws, NewHTMXResponse().TriggerTotalsChanged(string(ws.Nav.Current())))
}

func (s *Server) handleCurrency(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.SetCurrencyPreference(ws, ParseActionForm(r).Get("currency"))
	s.finish(w, r, ws, NewHTMXResponse())
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.Navigate(r.Context(), ws, parseRoute(ParseActionForm(r).Get("route")))
	s.finish(w, r, ws, NewHTMXResponse())
}

func (s *Server) handleDismissBanner(w http.ResponseWriter, r *http.Request, ws *session.Workspace) {
	s.frontend.DismissBanner(ws)
	s.finish(w, r, ws, NewHTMXResponse())
}
