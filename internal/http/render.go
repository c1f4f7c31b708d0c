package http

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"splithappens/internal/core"
	"splithappens/internal/draft"
	"splithappens/internal/router"
	"splithappens/internal/session"
	"splithappens/internal/viewmodel"
)

var templateFuncs = template.FuncMap{
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
	"initial": func(name string) string {
		name = strings.TrimSpace(name)
		if name == "" {
			return "?"
		}
		return strings.ToUpper(string([]rune(name)[0]))
	},
}

type navItem struct {
	Path   string
	Title  string
	Active bool
	Badge  int
}

type option struct {
	Value    string
	Label    string
	Selected bool
}

type notificationRow struct {
	To      string
	Message string
	Read    bool
}

type draftItemView struct {
	viewmodel.DraftItem
	Options []option
}

type draftView struct {
	viewmodel.DraftCard
	Items      []draftItemView
	Categories []option
	Locked     bool
	Generation uint64
}

// pageData is everything the layout template renders. It is built from one
// consistent workspace view per request.
type pageData struct {
	Title       string
	Route       string
	Nav         []navItem
	Initialized bool
	SignedIn    bool
	Identity    core.SessionIdentity
	Members     core.MemberNames
	Banner      session.Banner
	Today       viewmodel.DateLabel
	TodayISO    string
	Currency    string
	Busy        map[string]bool

	ManualCurrency []option
	Categories     []option

	CurrentMonth  *viewmodel.MonthCard
	LastMonth     *viewmodel.MonthCard
	Settlement    *viewmodel.SettlementCard
	Recent        []viewmodel.ReceiptRow
	Draft         *draftView
	Analyses      []viewmodel.ReceiptRow
	Notifications []notificationRow
	Expenses      *viewmodel.ExpensesPage
}

func buildPage(v session.View, now time.Time) pageData {
	members := viewmodel.ResolveMembers(v.Dashboard, v.Identity.Members)
	currency := viewmodel.DisplayCurrency(v.Draft, v.Dashboard, v.Analyses)
	unread := viewmodel.UnreadNotificationCount(v.Dashboard)

	serverDate := ""
	if v.Dashboard != nil {
		serverDate = v.Dashboard.CurrentDate
	}

	p := pageData{
		Title:       v.Route.Title(),
		Route:       string(v.Route),
		Initialized: v.Initialized,
		SignedIn:    v.Identity.SignedIn(),
		Identity:    v.Identity,
		Members:     members,
		Banner:      v.Banner,
		Today:       viewmodel.CurrentDateLabel(serverDate, now),
		TodayISO:    now.Format("2006-01-02"),
		Currency:    currency,
		Busy:        v.Busy,
	}
	for _, r := range router.All {
		item := navItem{Path: r.Path(), Title: r.Title(), Active: r == v.Route}
		if r == router.Notifications {
			item.Badge = unread
		}
		p.Nav = append(p.Nav, item)
	}
	for _, c := range core.CurrencyOptions() {
		p.ManualCurrency = append(p.ManualCurrency, option{Value: c.Code, Label: c.Label, Selected: c.Code == v.Currency})
	}
	p.Categories = categoryOptions(core.CategoryOther)

	if d := v.Dashboard; d != nil {
		cur := viewmodel.BuildMonthCard("Current month", d.CurrentMonth, members, currency)
		last := viewmodel.BuildMonthCard("Last month", d.LastMonth, members, currency)
		settle := viewmodel.BuildSettlementCard(d.Settlement, currency)
		p.CurrentMonth, p.LastMonth, p.Settlement = &cur, &last, &settle
		p.Recent = viewmodel.BuildReceiptRows(d.RecentReceipts, currency)
		for _, n := range d.Notifications {
			p.Notifications = append(p.Notifications, notificationRow{
				To:      members.Name(n.User),
				Message: n.Message,
				Read:    n.Read,
			})
		}
	}
	if v.Draft != nil {
		p.Draft = buildDraftView(*v.Draft, v.DraftPhase, v.DraftGeneration, members)
	}
	if v.Analyses != nil {
		p.Analyses = viewmodel.BuildReceiptRows(v.Analyses, currency)
	}
	if v.Overview != nil {
		page := viewmodel.BuildExpensesPage(*v.Overview, currency)
		p.Expenses = &page
	}
	return p
}

func buildDraftView(r core.Receipt, phase draft.Phase, generation uint64, members core.MemberNames) *draftView {
	saving := phase == draft.PhaseSaving
	card := viewmodel.BuildDraftCard(r, saving)
	dv := &draftView{
		DraftCard:  card,
		Categories: categoryOptions(card.Category),
		Locked:     saving,
		Generation: generation,
	}
	choices := []struct {
		value core.Assignment
		label string
	}{
		{core.AssignShared, "Shared"},
		{core.AssignMemberA, members.User1},
		{core.AssignMemberB, members.User2},
	}
	for _, item := range card.Items {
		iv := draftItemView{DraftItem: item}
		for _, c := range choices {
			iv.Options = append(iv.Options, option{Value: string(c.value), Label: c.label, Selected: c.value == item.AssignedTo})
		}
		dv.Items = append(dv.Items, iv)
	}
	return dv
}

func categoryOptions(selected core.Category) []option {
	out := make([]option, 0, len(core.Categories))
	for _, c := range core.Categories {
		out = append(out, option{Value: string(c), Label: c.Label(), Selected: c == selected})
	}
	return out
}

// renderPage executes the layout into a buffer so a template failure never
// leaves a half-written page.
func (s *Server) renderPage(ws *session.Workspace) ([]byte, error) {
	if s.templates == nil {
		return nil, fmt.Errorf("templates not loaded")
	}
	data := buildPage(ws.View(), s.now())

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return nil, fmt.Errorf("render %s: %w", data.Route, err)
	}
	return buf.Bytes(), nil
}
