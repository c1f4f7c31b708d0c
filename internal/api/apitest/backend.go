// Package apitest provides an in-memory receipts backend for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"splithappens/internal/core"
)

// Recorded is one request seen by the fake backend.
type Recorded struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
}

type failure struct {
	status int
	detail string
}

type household struct {
	code     string
	name     string
	members  core.MemberNames
	passcode string
}

// Backend mimics the receipts API closely enough for handler and service
// tests. The zero household "Home" with members Ana and Bo and passcode
// "1234" exists from the start.
type Backend struct {
	Server *httptest.Server

	mu            sync.Mutex
	households    []household
	tokens        map[string]tokenOwner
	receipts      map[int64]core.Receipt
	order         []int64
	nextID        int64
	nextToken     int
	notifications []core.Notification
	failures      map[string]failure
	requests      []Recorded
	gate          map[string]chan struct{}
	currentDate   string
}

type tokenOwner struct {
	household int
	user      core.UserCode
}

func NewBackend() *Backend {
	b := &Backend{
		households: []household{{
			code:     "HH-1",
			name:     "Home",
			members:  core.MemberNames{User1: "Ana", User2: "Bo"},
			passcode: "1234",
		}},
		tokens:      make(map[string]tokenOwner),
		receipts:    make(map[int64]core.Receipt),
		nextID:      1,
		failures:    make(map[string]failure),
		gate:        make(map[string]chan struct{}),
		currentDate: "2024-03-15",
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) Close() { b.Server.Close() }

// Fail makes the next request whose path ends with suffix answer with
// status and detail.
func (b *Backend) Fail(suffix string, status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[suffix] = failure{status: status, detail: detail}
}

// Hold blocks requests whose path ends with suffix until the returned
// function is called.
func (b *Backend) Hold(suffix string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.gate[suffix] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.gate, suffix)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Backend) Requests() []Recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Recorded, len(b.requests))
	copy(out, b.requests)
	return out
}

// LastRequest returns the most recent request to a path suffix.
func (b *Backend) LastRequest(suffix string) (Recorded, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if strings.HasSuffix(b.requests[i].Path, suffix) {
			return b.requests[i], true
		}
	}
	return Recorded{}, false
}

// AddReceipt stores a receipt and returns its id.
func (b *Backend) AddReceipt(r core.Receipt) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(r)
}

func (b *Backend) Receipt(id int64) (core.Receipt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[id]
	return r, ok
}

func (b *Backend) addLocked(r core.Receipt) int64 {
	r.ID = b.nextID
	b.nextID++
	b.receipts[r.ID] = r
	b.order = append([]int64{r.ID}, b.order...)
	return r.ID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func detail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/api/receipts/")

	b.mu.Lock()
	b.requests = append(b.requests, Recorded{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body})
	var gate chan struct{}
	for suffix, ch := range b.gate {
		if strings.HasSuffix(r.URL.Path, suffix) {
			gate = ch
		}
	}
	var fail *failure
	for suffix, f := range b.failures {
		if strings.HasSuffix(r.URL.Path, suffix) {
			f := f
			fail = &f
			delete(b.failures, suffix)
			break
		}
	}
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		if fail.detail == "" {
			w.WriteHeader(fail.status)
			return
		}
		detail(w, fail.status, fail.detail)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	owner, authed := b.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]

	switch {
	case path == "households/create/" && r.Method == http.MethodPost:
		b.createHousehold(w, body)
	case path == "session/login/" && r.Method == http.MethodPost:
		b.login(w, body)
	case path == "session/me/" && r.Method == http.MethodGet:
		if !authed {
			writeJSON(w, http.StatusOK, core.SessionIdentity{})
			return
		}
		writeJSON(w, http.StatusOK, b.identity(owner, ""))
	case path == "session/logout/" && r.Method == http.MethodPost:
		delete(b.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		detail(w, http.StatusOK, "Logged out.")
	case !authed:
		detail(w, http.StatusUnauthorized, "Authentication required. Login first.")
	case path == "analyze/" && r.Method == http.MethodPost:
		b.analyze(w, r, body, owner)
	case path == "manual/" && r.Method == http.MethodPost:
		b.manual(w, body, owner)
	case path == "analyses/" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"analyses": b.listLocked()})
	case path == "dashboard/" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, b.dashboard(owner))
	case path == "expenses/" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, b.overview(owner))
	case path == "settle/" && r.Method == http.MethodPost:
		b.settle(w, owner)
	case strings.HasSuffix(path, "/items/") && r.Method == http.MethodPatch:
		b.patchItems(w, strings.TrimSuffix(path, "/items/"), body)
	case r.Method == http.MethodDelete:
		b.deleteReceipt(w, strings.TrimSuffix(path, "/"))
	default:
		detail(w, http.StatusNotFound, "Not found.")
	}
}

func (b *Backend) issueToken(hh int, user core.UserCode) string {
	b.nextToken++
	tok := fmt.Sprintf("tok-%d", b.nextToken)
	b.tokens[tok] = tokenOwner{household: hh, user: user}
	return tok
}

func (b *Backend) identity(o tokenOwner, token string) core.SessionIdentity {
	hh := b.households[o.household]
	members := hh.members
	return core.SessionIdentity{
		User:          o.user,
		UserName:      members.Name(o.user),
		HouseholdCode: hh.code,
		HouseholdName: hh.name,
		Members:       &members,
		SessionToken:  token,
	}
}

func (b *Backend) createHousehold(w http.ResponseWriter, body []byte) {
	var in core.CreateHouseholdInput
	if err := json.Unmarshal(body, &in); err != nil {
		detail(w, http.StatusBadRequest, "Invalid payload.")
		return
	}
	for _, hh := range b.households {
		if strings.EqualFold(hh.name, in.HouseholdName) {
			detail(w, http.StatusBadRequest, "Household name already taken.")
			return
		}
	}
	b.households = append(b.households, household{
		code:     fmt.Sprintf("HH-%d", len(b.households)+1),
		name:     in.HouseholdName,
		members:  core.MemberNames{User1: in.Member1Name, User2: in.Member2Name},
		passcode: in.Passcode,
	})
	idx := len(b.households) - 1
	owner := tokenOwner{household: idx, user: core.MemberA}
	writeJSON(w, http.StatusCreated, b.identity(owner, b.issueToken(idx, core.MemberA)))
}

func (b *Backend) login(w http.ResponseWriter, body []byte) {
	var in core.LoginInput
	if err := json.Unmarshal(body, &in); err != nil {
		detail(w, http.StatusBadRequest, "Invalid payload.")
		return
	}
	for i, hh := range b.households {
		if !strings.EqualFold(hh.name, in.HouseholdName) {
			continue
		}
		if hh.passcode != in.Passcode {
			detail(w, http.StatusUnauthorized, "Invalid passcode.")
			return
		}
		var user core.UserCode
		switch {
		case strings.EqualFold(in.Name, hh.members.User1):
			user = core.MemberA
		case strings.EqualFold(in.Name, hh.members.User2):
			user = core.MemberB
		default:
			detail(w, http.StatusBadRequest, fmt.Sprintf("Name not recognized. Use %s or %s.", hh.members.User1, hh.members.User2))
			return
		}
		owner := tokenOwner{household: i, user: user}
		writeJSON(w, http.StatusOK, b.identity(owner, b.issueToken(i, user)))
		return
	}
	detail(w, http.StatusNotFound, "Household name not found.")
}

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func (b *Backend) analyze(w http.ResponseWriter, r *http.Request, body []byte, o tokenOwner) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") || !strings.Contains(string(body), `name="image"`) {
		detail(w, http.StatusBadRequest, "Image is required.")
		return
	}
	hh := b.households[o.household]
	rec := core.Receipt{
		UploadedBy:     o.user,
		UploadedByName: hh.members.Name(o.user),
		ExpenseDate:    b.currentDate,
		Vendor:         "Corner Market",
		Currency:       "EUR",
		Subtotal:       money("9.00"),
		Tax:            money("1.00"),
		Total:          money("10.00"),
		Category:       core.CategorySupermarket,
		Items: []core.LineItem{
			{Name: "Milk", TotalPrice: money("2.00")},
			{Name: "Bread", TotalPrice: money("3.00")},
			{Name: "Coffee", TotalPrice: money("4.00")},
		},
		UploadedAt: b.currentDate + "T10:00:00Z",
	}
	rec.ID = b.addLocked(rec)
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": rec})
}

func (b *Backend) manual(w http.ResponseWriter, body []byte, o tokenOwner) {
	var in core.ManualExpense
	if err := json.Unmarshal(body, &in); err != nil {
		detail(w, http.StatusBadRequest, "Invalid payload.")
		return
	}
	date := in.ExpenseDate
	if date == "" {
		date = b.currentDate
	}
	hh := b.households[o.household]
	rec := core.Receipt{
		UploadedBy:     o.user,
		UploadedByName: hh.members.Name(o.user),
		ExpenseDate:    date,
		Vendor:         in.Vendor,
		Currency:       in.Currency,
		Total:          decimal.NewNullDecimal(in.Total),
		Category:       in.Category,
		Items:          []core.LineItem{{Name: in.Vendor, TotalPrice: decimal.NewNullDecimal(in.Total), AssignedTo: core.AssignShared}},
		IsSaved:        true,
	}
	rec.ID = b.addLocked(rec)
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": rec})
}

type patchBody struct {
	Assignments []core.ItemAssignment `json:"assignments"`
	Category    core.Category         `json:"category"`
}

func (b *Backend) patchItems(w http.ResponseWriter, rawID string, body []byte) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		detail(w, http.StatusBadRequest, "Receipt id is missing.")
		return
	}
	rec, ok := b.receipts[id]
	if !ok {
		detail(w, http.StatusNotFound, "Receipt not found.")
		return
	}
	var in patchBody
	if err := json.Unmarshal(body, &in); err != nil {
		detail(w, http.StatusBadRequest, "Invalid payload.")
		return
	}
	items := make([]core.LineItem, len(rec.Items))
	copy(items, rec.Items)
	for _, a := range in.Assignments {
		if a.Index < 0 || a.Index >= len(items) {
			detail(w, http.StatusBadRequest, "Assignment index out of range.")
			return
		}
		items[a.Index].AssignedTo = a.AssignedTo
	}
	rec.Items = items
	rec.Category = in.Category
	rec.IsSaved = true
	b.receipts[id] = rec
	writeJSON(w, http.StatusOK, map[string]any{"receipt": rec})
}

func (b *Backend) deleteReceipt(w http.ResponseWriter, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		detail(w, http.StatusBadRequest, "Receipt id is missing.")
		return
	}
	if _, ok := b.receipts[id]; !ok {
		detail(w, http.StatusNotFound, "Receipt not found.")
		return
	}
	delete(b.receipts, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	detail(w, http.StatusOK, "Receipt deleted.")
}

func (b *Backend) listLocked() []core.Receipt {
	out := make([]core.Receipt, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.receipts[id])
	}
	return out
}

// totals splits saved receipts the way the real backend reports them:
// shared items count half for each member.
func (b *Backend) totals() core.MonthTotals {
	var t core.MonthTotals
	half := decimal.NewFromFloat(0.5)
	for _, id := range b.order {
		r := b.receipts[id]
		if !r.IsSaved {
			continue
		}
		for _, item := range r.Items {
			v := item.TotalPrice.Decimal
			switch item.AssignedTo.OrShared() {
			case core.AssignMemberA:
				t.User1 = t.User1.Add(v)
			case core.AssignMemberB:
				t.User2 = t.User2.Add(v)
			default:
				t.User1 = t.User1.Add(v.Mul(half))
				t.User2 = t.User2.Add(v.Mul(half))
			}
		}
	}
	t.Combined = t.User1.Add(t.User2)
	return t
}

func (b *Backend) month() core.MonthSummary {
	return core.MonthSummary{
		MonthLabel:   "March 2024",
		StartDate:    "2024-03-01",
		EndDate:      "2024-03-31",
		Totals:       b.totals(),
		ReceiptCount: len(b.order),
	}
}

func (b *Backend) dashboard(o tokenOwner) core.DashboardSnapshot {
	hh := b.households[o.household]
	recent := b.listLocked()
	if len(recent) > 5 {
		recent = recent[:5]
	}
	notes := make([]core.Notification, len(b.notifications))
	copy(notes, b.notifications)
	return core.DashboardSnapshot{
		HouseholdCode:   hh.code,
		HouseholdName:   hh.name,
		CurrentUser:     o.user,
		CurrentUserName: hh.members.Name(o.user),
		Members:         hh.members,
		CurrentDate:     b.currentDate,
		CurrentMonth:    b.month(),
		LastMonth: core.MonthSummary{
			MonthLabel: "February 2024",
			StartDate:  "2024-02-01",
			EndDate:    "2024-02-29",
		},
		Settlement: core.Settlement{
			Payer:     core.MemberB,
			PayerName: hh.members.User2,
			Payee:     core.MemberA,
			PayeeName: hh.members.User1,
			Amount:    decimal.RequireFromString("12.50"),
			Message:   hh.members.User2 + " owes " + hh.members.User1,
		},
		Notifications:  notes,
		RecentReceipts: recent,
	}
}

func (b *Backend) overview(o tokenOwner) core.ExpensesOverview {
	hh := b.households[o.household]
	m := b.month()
	return core.ExpensesOverview{
		HouseholdCode: hh.code,
		HouseholdName: hh.name,
		CurrentDate:   b.currentDate,
		Members:       hh.members,
		CurrentMonth:  m,
		LastMonth:     core.MonthSummary{MonthLabel: "February 2024", StartDate: "2024-02-01", EndDate: "2024-02-29"},
		SixMonthTrend: []core.MonthSummary{m},
		CurrentMonthCategories: core.CategoryTotals{
			Supermarket: m.Totals.Combined,
			Combined:    m.Totals.Combined,
		},
		SixMonthCategoryTrend: []core.CategoryTrendEntry{{
			MonthLabel: m.MonthLabel,
			StartDate:  m.StartDate,
			EndDate:    m.EndDate,
			Categories: core.CategoryTotals{Supermarket: m.Totals.Combined, Combined: m.Totals.Combined},
		}},
	}
}

func (b *Backend) settle(w http.ResponseWriter, o tokenOwner) {
	hh := b.households[o.household]
	s := core.Settlement{
		Payer:     core.MemberB,
		PayerName: hh.members.User2,
		Payee:     core.MemberA,
		PayeeName: hh.members.User1,
		Amount:    decimal.RequireFromString("12.50"),
		Message:   "Settled.",
	}
	b.notifications = append(b.notifications,
		core.Notification{User: core.MemberA, Message: "Settlement recorded."},
		core.Notification{User: core.MemberB, Message: "Settlement recorded."},
	)
	writeJSON(w, http.StatusOK, core.SettleResult{Detail: "Settlement completed.", Settlement: s, Notifications: b.notifications})
}
