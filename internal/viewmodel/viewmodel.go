// Package viewmodel derives display values from server snapshots. Every
// function is a pure read: nothing here fetches, mutates or sums totals.
package viewmodel

import (
	"time"

	"splithappens/internal/core"
)

const (
	DefaultMemberOne = "Member One"
	DefaultMemberTwo = "Member Two"
)

// DisplayCurrency picks the currency used for every amount on screen:
// the draft first, then the newest dashboard receipt, then the newest
// analysis, then USD.
func DisplayCurrency(draft *core.Receipt, dash *core.DashboardSnapshot, analyses []core.Receipt) string {
	if draft != nil && draft.Currency != "" {
		return draft.Currency
	}
	if dash != nil && len(dash.RecentReceipts) > 0 && dash.RecentReceipts[0].Currency != "" {
		return dash.RecentReceipts[0].Currency
	}
	if len(analyses) > 0 && analyses[0].Currency != "" {
		return analyses[0].Currency
	}
	return core.DefaultCurrency
}

func UnreadNotificationCount(dash *core.DashboardSnapshot) int {
	if dash == nil {
		return 0
	}
	n := 0
	for _, note := range dash.Notifications {
		if !note.Read {
			n++
		}
	}
	return n
}

// DateLabel is the "today" shown in the top bar. FromServer is false when
// the label fell back to the local clock.
type DateLabel struct {
	Text       string
	FromServer bool
}

func CurrentDateLabel(serverDate string, now time.Time) DateLabel {
	if serverDate != "" {
		return DateLabel{Text: core.FormatDate(serverDate), FromServer: true}
	}
	return DateLabel{Text: now.Format(core.DisplayDateLayout)}
}

// ResolveMembers prefers the dashboard names, then the session names.
func ResolveMembers(dash *core.DashboardSnapshot, session *core.MemberNames) core.MemberNames {
	var m core.MemberNames
	switch {
	case dash != nil && !dash.Members.IsZero():
		m = dash.Members
	case session != nil:
		m = *session
	}
	if m.User1 == "" {
		m.User1 = DefaultMemberOne
	}
	if m.User2 == "" {
		m.User2 = DefaultMemberTwo
	}
	return m
}
