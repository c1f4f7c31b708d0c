package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splithappens/internal/amqp"
	"splithappens/internal/api"
	"splithappens/internal/api/apitest"
	"splithappens/internal/core"
	"splithappens/internal/draft"
	"splithappens/internal/log"
	"splithappens/internal/metrics"
	"splithappens/internal/router"
	"splithappens/internal/session"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev amqp.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []amqp.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.Event, len(p.events))
	copy(out, p.events)
	return out
}

type fixture struct {
	backend *apitest.Backend
	front   *Frontend
	pub     *recordingPublisher
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	b := apitest.NewBackend()
	t.Cleanup(b.Close)

	pub := &recordingPublisher{}
	m := metrics.New()
	client := api.New(b.URL(), api.Options{Timeout: 5 * time.Second, Logger: log.Discard()})
	front := NewFrontend(client, Options{
		Logger:      log.Discard(),
		Metrics:     m,
		Publisher:   pub,
		SnapshotTTL: ttl,
	})
	return &fixture{backend: b, front: front, pub: pub, metrics: m}
}

func (fx *fixture) signedIn(t *testing.T) *session.Workspace {
	t.Helper()
	ws := session.NewWorkspace("ws-" + t.Name())
	fx.front.Login(context.Background(), ws, core.LoginInput{HouseholdName: "Home", Name: "Ana", Passcode: "1234"})
	require.True(t, ws.SignedIn(), "login failed: %q", ws.Banner().Error)
	return ws
}

func (fx *fixture) count(suffix string) int {
	n := 0
	for _, r := range fx.backend.Requests() {
		if strings.HasSuffix(r.Path, suffix) {
			n++
		}
	}
	return n
}

func analyzed(t *testing.T, fx *fixture, ws *session.Workspace) core.Receipt {
	t.Helper()
	fx.front.AnalyzeReceipt(context.Background(), ws, Upload{Filename: "r.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpeg")})
	rec, ok := ws.Draft.Current()
	require.True(t, ok, "no draft after analysis: %q", ws.Banner().Error)
	return rec
}

func TestInitialize_Anonymous(t *testing.T) {
	fx := newFixture(t, 0)
	ws := session.NewWorkspace("ws")

	fx.front.Initialize(context.Background(), ws)
	fx.front.Initialize(context.Background(), ws)

	assert.True(t, ws.Initialized())
	assert.False(t, ws.SignedIn())
	assert.Empty(t, ws.Banner().Error)
	assert.Equal(t, 1, fx.count("session/me/"))
}

func TestInitialize_RestoredTokenSignsIn(t *testing.T) {
	fx := newFixture(t, 0)
	first := fx.signedIn(t)

	restored := session.NewWorkspace("restored")
	restored.SetToken(first.Token())
	fx.front.Visit(context.Background(), restored, "/")

	require.True(t, restored.SignedIn())
	assert.Equal(t, "Ana", restored.Identity().UserName)
	_, ok := restored.Dashboard()
	assert.True(t, ok)
}

func TestInitialize_Failure(t *testing.T) {
	fx := newFixture(t, 0)
	fx.backend.Fail("session/me/", 500, "")
	ws := session.NewWorkspace("ws")

	fx.front.Initialize(context.Background(), ws)

	assert.False(t, ws.Initialized(), "a failed check is retried on the next visit")
	assert.Equal(t, "Server error. Please try again in a moment.", ws.Banner().Error)
}

func TestLogin(t *testing.T) {
	t.Run("loads dashboard", func(t *testing.T) {
		fx := newFixture(t, 0)
		ws := fx.signedIn(t)

		assert.Equal(t, "tok-1", ws.Token())
		d, ok := ws.Dashboard()
		require.True(t, ok)
		assert.Equal(t, "Home", d.HouseholdName)
		assert.Equal(t, core.MemberA, ws.Identity().User)
	})

	t.Run("validates before calling", func(t *testing.T) {
		fx := newFixture(t, 0)
		ws := session.NewWorkspace("ws")

		fx.front.Login(context.Background(), ws, core.LoginInput{HouseholdName: "Home", Name: "  "})

		assert.Equal(t, MsgFillJoin, ws.Banner().Error)
		assert.Empty(t, fx.backend.Requests())
	})

	t.Run("wrong passcode", func(t *testing.T) {
		fx := newFixture(t, 0)
		ws := session.NewWorkspace("ws")

		fx.front.Login(context.Background(), ws, core.LoginInput{HouseholdName: "Home", Name: "Ana", Passcode: "0000"})

		assert.False(t, ws.SignedIn())
		assert.Equal(t, "Incorrect passcode. Please try again.", ws.Banner().Error)
		assert.Empty(t, ws.Token())
	})

	t.Run("unknown member", func(t *testing.T) {
		fx := newFixture(t, 0)
		ws := session.NewWorkspace("ws")

		fx.front.Login(context.Background(), ws, core.LoginInput{HouseholdName: "Home", Name: "Zed", Passcode: "1234"})

		assert.Equal(t, "Member name not recognized for this household.", ws.Banner().Error)
	})
}

func TestCreateHousehold(t *testing.T) {
	fx := newFixture(t, 0)
	ws := session.NewWorkspace("ws")
	ctx := context.Background()

	fx.front.CreateHousehold(ctx, ws, core.CreateHouseholdInput{HouseholdName: "Home", Member1Name: "A", Member2Name: "B", Passcode: "x"})
	assert.Equal(t, "Household name already taken. Please choose another one.", ws.Banner().Error)

	fx.front.CreateHousehold(ctx, ws, core.CreateHouseholdInput{HouseholdName: " Flat ", Member1Name: "Cy", Member2Name: "Di"})
	assert.Equal(t, MsgFillCreate, ws.Banner().Error)

	fx.front.CreateHousehold(ctx, ws, core.CreateHouseholdInput{HouseholdName: " Flat ", Member1Name: "Cy", Member2Name: "Di", Passcode: "p"})
	require.True(t, ws.SignedIn())
	assert.Empty(t, ws.Banner().Error)
	assert.Equal(t, "Flat", ws.Identity().HouseholdName)
	assert.Equal(t, "Cy", ws.Identity().UserName)
}

func TestLogout(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	analyzed(t, fx, ws)
	require.NoError(t, ws.SetCurrency("EUR"))
	fx.front.Navigate(context.Background(), ws, router.Expenses)

	fx.front.Logout(context.Background(), ws)

	assert.False(t, ws.SignedIn())
	assert.Empty(t, ws.Token())
	assert.False(t, ws.Draft.HasDraft())
	assert.Equal(t, router.Dashboard, ws.Nav.Current())
	assert.Equal(t, "EUR", ws.Currency())
	_, ok := ws.Dashboard()
	assert.False(t, ok)
}

func TestLogout_FailureKeepsSession(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	fx.backend.Fail("session/logout/", 503, "Service unavailable.")

	fx.front.Logout(context.Background(), ws)

	assert.True(t, ws.SignedIn())
	assert.Equal(t, "tok-1", ws.Token())
	assert.Equal(t, "Service unavailable.", ws.Banner().Error)
}

func TestAnalyzeReceipt_Guards(t *testing.T) {
	fx := newFixture(t, 0)
	ws := session.NewWorkspace("ws")
	ctx := context.Background()

	fx.front.AnalyzeReceipt(ctx, ws, Upload{Body: strings.NewReader("x")})
	assert.Equal(t, MsgSignInFirst, ws.Banner().Error)

	ws = fx.signedIn(t)
	fx.front.AnalyzeReceipt(ctx, ws, Upload{})
	assert.Equal(t, MsgSelectImage, ws.Banner().Error)
	assert.Zero(t, fx.count("analyze/"))
}

func TestAnalyzeReceipt_LoadsDraftAndRoutesHome(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	fx.front.Navigate(context.Background(), ws, router.Analyses)

	rec := analyzed(t, fx, ws)

	assert.Len(t, rec.Items, 3)
	assert.False(t, rec.IsSaved)
	assert.Equal(t, NoticeAnalyzed, ws.Banner().Notice)
	assert.Equal(t, router.Dashboard, ws.Nav.Current())
	assert.Empty(t, fx.pub.Events(), "analysis alone is not a ledger event")
}

func TestSaveDraft_SendsSplitAndRefreshes(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	rec := analyzed(t, fx, ws)

	assert.True(t, fx.front.AssignItem(ws, 0, "user_1"))
	assert.False(t, fx.front.AssignItem(ws, 7, "user_1"))
	assert.False(t, fx.front.AssignItem(ws, 1, "everyone"))
	assert.True(t, fx.front.SetCategory(ws, "bills"))

	fx.front.SaveDraft(context.Background(), ws)

	assert.Empty(t, ws.Banner().Error)
	assert.Equal(t, NoticeSaved, ws.Banner().Notice)
	assert.False(t, ws.Draft.HasDraft())

	stored, ok := fx.backend.Receipt(rec.ID)
	require.True(t, ok)
	assert.True(t, stored.IsSaved)
	assert.Equal(t, core.CategoryBills, stored.Category)
	assert.Equal(t, core.AssignMemberA, stored.Items[0].AssignedTo)
	assert.Equal(t, core.AssignShared, stored.Items[1].AssignedTo)

	d, ok := ws.Dashboard()
	require.True(t, ok)
	assert.Equal(t, "5.5", d.CurrentMonth.Totals.User1.String())

	events := fx.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, amqp.EventReceiptSaved, events[0].Type)
	assert.Equal(t, "HH-1", events[0].HouseholdCode)
	assert.Equal(t, "Ana", events[0].Actor)
	assert.Equal(t, rec.ID, events[0].ReceiptID)
	assert.Equal(t, "10", events[0].Total.String())
}

func TestSaveDraft_EditOfSavedReceipt(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	rec := analyzed(t, fx, ws)
	fx.front.SaveDraft(context.Background(), ws)

	require.True(t, fx.front.EditReceipt(context.Background(), ws, rec.ID))
	fx.front.SaveDraft(context.Background(), ws)

	assert.Equal(t, NoticeUpdated, ws.Banner().Notice)
}

func TestEditReceipt_Unknown(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)

	assert.False(t, fx.front.EditReceipt(context.Background(), ws, 404))
	assert.Equal(t, MsgUnknownRecord, ws.Banner().Error)
}

func TestSaveDraft_FailureKeepsEdits(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	analyzed(t, fx, ws)
	fx.front.AssignItem(ws, 2, "user_2")
	fx.backend.Fail("/items/", 500, "")

	fx.front.SaveDraft(context.Background(), ws)

	assert.Equal(t, "Server error. Please try again in a moment.", ws.Banner().Error)
	cur, ok := ws.Draft.Current()
	require.True(t, ok)
	assert.Equal(t, draft.PhaseEditing, ws.Draft.Phase())
	assert.Equal(t, core.AssignMemberB, cur.Items[2].AssignedTo)
	assert.Empty(t, fx.pub.Events())
}

func TestSaveDraft_ReplacedDraftSurvivesLateResponse(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	first := analyzed(t, fx, ws)
	release := fx.backend.Hold("/items/")

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.front.SaveDraft(context.Background(), ws)
	}()
	require.Eventually(t, func() bool {
		_, ok := fx.backend.LastRequest("/items/")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	next := core.Receipt{ID: first.ID + 100, Vendor: "Other", Items: []core.LineItem{{Name: "Tea"}}}
	ws.Draft.Load(next)
	release()
	<-done

	cur, ok := ws.Draft.Current()
	require.True(t, ok, "late save must not clear the replacement")
	assert.Equal(t, next.ID, cur.ID)
	assert.Equal(t, NoticeSaved, ws.Banner().Notice)
}

func TestSaveDraft_SurvivesCancelledRequest(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	rec := analyzed(t, fx, ws)
	release := fx.backend.Hold("/items/")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.front.SaveDraft(ctx, ws)
	}()
	require.Eventually(t, func() bool {
		_, ok := fx.backend.LastRequest("/items/")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	release()
	<-done

	assert.Empty(t, ws.Banner().Error)
	assert.Equal(t, NoticeSaved, ws.Banner().Notice)
	assert.False(t, ws.Draft.HasDraft())
	stored, ok := fx.backend.Receipt(rec.ID)
	require.True(t, ok)
	assert.True(t, stored.IsSaved)
	events := fx.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, amqp.EventReceiptSaved, events[0].Type)
}

func TestSaveDraft_NoDraftIsNoop(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	before := len(fx.backend.Requests())

	fx.front.SaveDraft(context.Background(), ws)

	assert.Len(t, fx.backend.Requests(), before)
	assert.Empty(t, ws.Banner().Error)
}

func TestDiscardDraft(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	analyzed(t, fx, ws)

	fx.front.DiscardDraft(ws)

	assert.False(t, ws.Draft.HasDraft())
}

func TestDeleteReceipt(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	rec := analyzed(t, fx, ws)
	fx.front.Navigate(context.Background(), ws, router.Analyses)

	fx.front.DeleteReceipt(context.Background(), ws, rec.ID)

	assert.Equal(t, NoticeDeleted, ws.Banner().Notice)
	assert.False(t, ws.Draft.HasDraft(), "draft of the deleted receipt is dropped")
	assert.Empty(t, ws.View().Analyses)
	events := fx.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, amqp.EventReceiptDeleted, events[0].Type)
	assert.Equal(t, "Corner Market", events[0].Vendor)

	fx.front.DeleteReceipt(context.Background(), ws, rec.ID)
	assert.Equal(t, "Receipt not found.", ws.Banner().Error)
}

func TestDeleteReceipt_KeepsUnrelatedDraft(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	other := fx.backend.AddReceipt(core.Receipt{Vendor: "Old", Currency: "USD", IsSaved: true})
	analyzed(t, fx, ws)

	fx.front.DeleteReceipt(context.Background(), ws, other)

	assert.True(t, ws.Draft.HasDraft())
}

func TestCreateManualExpense(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	ctx := context.Background()

	fx.front.CreateManualExpense(ctx, ws, ManualInput{Vendor: "Rent", Total: "abc"})
	assert.Equal(t, MsgManualTotal, ws.Banner().Error)

	fx.front.CreateManualExpense(ctx, ws, ManualInput{Vendor: "Rent", Total: "0"})
	assert.Equal(t, MsgManualTotal, ws.Banner().Error)

	fx.front.CreateManualExpense(ctx, ws, ManualInput{Vendor: "Rent", Total: "5", Currency: "XYZ"})
	assert.Equal(t, MsgCurrency, ws.Banner().Error)
	assert.Zero(t, fx.count("manual/"))

	fx.front.CreateManualExpense(ctx, ws, ManualInput{Vendor: " Rent ", Total: "12,50", Currency: "eur", Category: "bills", Notes: " march "})

	assert.Empty(t, ws.Banner().Error)
	assert.Equal(t, NoticeManual, ws.Banner().Notice)
	assert.Equal(t, "EUR", ws.Currency(), "submitted currency becomes the preference")

	req, ok := fx.backend.LastRequest("manual/")
	require.True(t, ok)
	assert.Contains(t, string(req.Body), `"currency":"EUR"`)
	assert.Contains(t, string(req.Body), `"vendor":"Rent"`)
	assert.Contains(t, string(req.Body), `"total":"12.5"`)

	events := fx.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, amqp.EventManualExpense, events[0].Type)
	assert.Equal(t, "march", events[0].Message)
}

func TestCreateManualExpense_DefaultsCurrency(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)

	fx.front.CreateManualExpense(context.Background(), ws, ManualInput{Total: "3"})

	req, ok := fx.backend.LastRequest("manual/")
	require.True(t, ok)
	assert.Contains(t, string(req.Body), `"currency":"USD"`)
	assert.Contains(t, string(req.Body), `"category":"other"`)
}

func TestSettle(t *testing.T) {
	fx := newFixture(t, 0)
	ws := session.NewWorkspace("anon")
	fx.front.Settle(context.Background(), ws)
	assert.Zero(t, fx.count("settle/"), "settling needs a loaded dashboard")
	assert.Equal(t, session.Banner{}, ws.Banner())

	ws = fx.signedIn(t)
	fx.front.Settle(context.Background(), ws)

	assert.Equal(t, NoticeSettled, ws.Banner().Notice)
	d, ok := ws.Dashboard()
	require.True(t, ok)
	assert.Len(t, d.Notifications, 2)

	events := fx.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, amqp.EventSettled, events[0].Type)
	assert.Equal(t, "12.5", events[0].Total.String())
}

func TestPublishFailureIsNotShown(t *testing.T) {
	fx := newFixture(t, 0)
	fx.pub.err = errors.New("broker down")
	ws := fx.signedIn(t)

	fx.front.Settle(context.Background(), ws)

	assert.Equal(t, NoticeSettled, ws.Banner().Notice)
	assert.Empty(t, ws.Banner().Error)
}

func TestNavigate_LoadsRouteData(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	ctx := context.Background()

	path, pushed := fx.front.Navigate(ctx, ws, router.Analyses)
	assert.Equal(t, "/analyses", path)
	assert.True(t, pushed)
	assert.NotNil(t, ws.View().Analyses)

	_, pushed = fx.front.Navigate(ctx, ws, router.Analyses)
	assert.False(t, pushed)

	fx.front.Navigate(ctx, ws, router.Expenses)
	assert.NotNil(t, ws.View().Overview)
	assert.True(t, ws.Dirty(), "route change is persisted")
}

func TestVisit_SyncsRouteFromPath(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)

	fx.front.Visit(context.Background(), ws, "/expenses/")

	assert.Equal(t, router.Expenses, ws.Nav.Current())
	assert.NotNil(t, ws.View().Overview)
}

func TestAuthExpired_ResetsWorkspace(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	fx.backend.Fail("dashboard/", 401, "Authentication required. Login first.")

	fx.front.Visit(context.Background(), ws, "/")

	assert.False(t, ws.SignedIn())
	assert.Empty(t, ws.Token())
	assert.Equal(t, "Your session expired. Please sign in again.", ws.Banner().Error)
}

func TestLogoutDropsInflightSnapshot(t *testing.T) {
	fx := newFixture(t, 0)
	ws := fx.signedIn(t)
	release := fx.backend.Hold("dashboard/")
	before := fx.count("dashboard/")

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.front.Visit(context.Background(), ws, "/")
	}()
	require.Eventually(t, func() bool { return fx.count("dashboard/") > before }, 2*time.Second, 5*time.Millisecond)

	fx.front.Logout(context.Background(), ws)
	release()
	<-done

	assert.False(t, ws.SignedIn())
	_, ok := ws.Dashboard()
	assert.False(t, ok)
	assert.Empty(t, ws.Banner().Error, "the late failure belongs to the old session")
}

func TestSnapshotCache(t *testing.T) {
	fx := newFixture(t, time.Minute)
	ws := fx.signedIn(t)
	ctx := context.Background()
	base := fx.count("dashboard/")

	fx.front.Visit(ctx, ws, "/")
	fx.front.Visit(ctx, ws, "/")
	assert.Equal(t, base, fx.count("dashboard/"), "dashboard served from cache")

	fx.front.Settle(ctx, ws)
	assert.Equal(t, base+1, fx.count("dashboard/"), "mutation invalidates the household")
}

func TestCurrencyPreference(t *testing.T) {
	fx := newFixture(t, 0)
	ws := session.NewWorkspace("ws")

	assert.Equal(t, core.DefaultCurrency, ws.Currency())
	assert.True(t, fx.front.SetCurrencyPreference(ws, "gbp"))
	assert.Equal(t, "GBP", ws.Currency())

	assert.False(t, fx.front.SetCurrencyPreference(ws, "DOGE"))
	assert.Equal(t, "GBP", ws.Currency())
	assert.Equal(t, MsgCurrency, ws.Banner().Error)

	fx.front.DismissBanner(ws)
	assert.Equal(t, session.Banner{}, ws.Banner())
}

func TestCaches(t *testing.T) {
	fx := newFixture(t, time.Minute)
	assert.Len(t, fx.front.Caches(), 3)
}
