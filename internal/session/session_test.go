package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splithappens/internal/core"
	"splithappens/internal/log"
	"splithappens/internal/router"
	"splithappens/internal/storage"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestCookieCodec_RoundTrip(t *testing.T) {
	codec := NewCookieCodec(secret, time.Hour)

	value, err := codec.Encode("ws-1")
	require.NoError(t, err)

	id, err := codec.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", id)
}

func TestCookieCodec_Rejects(t *testing.T) {
	codec := NewCookieCodec(secret, time.Hour)
	value, err := codec.Encode("ws-1")
	require.NoError(t, err)

	t.Run("other secret", func(t *testing.T) {
		_, err := NewCookieCodec(strings.Repeat("x", 32), time.Hour).Decode(value)
		assert.ErrorIs(t, err, ErrInvalidCookie)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewCookieCodec(secret, time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Decode(value)
		assert.ErrorIs(t, err, ErrInvalidCookie)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := codec.Decode("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidCookie)
	})
}

func TestWorkspace_EpochDropsStaleSnapshots(t *testing.T) {
	ws := NewWorkspace("ws")
	epoch := ws.Epoch()

	ws.SignIn(core.SessionIdentity{User: core.MemberA, UserName: "Ana"})

	assert.False(t, ws.SetDashboard(epoch, core.DashboardSnapshot{HouseholdName: "old"}))
	_, ok := ws.Dashboard()
	assert.False(t, ok)

	assert.True(t, ws.SetDashboard(ws.Epoch(), core.DashboardSnapshot{HouseholdName: "Home"}))
	d, ok := ws.Dashboard()
	require.True(t, ok)
	assert.Equal(t, "Home", d.HouseholdName)
}

func TestWorkspace_ResetClearsEverything(t *testing.T) {
	ws := NewWorkspace("ws")
	ws.SetToken("tok")
	ws.SignIn(core.SessionIdentity{UserName: "Ana"})
	require.NoError(t, ws.SetCurrency("eur"))
	ws.SetDashboard(ws.Epoch(), core.DashboardSnapshot{})
	ws.SetAnalyses(ws.Epoch(), []core.Receipt{{ID: 1}})
	ws.Draft.Load(core.Receipt{ID: 1})
	ws.Nav.Navigate(router.Analyses)

	ws.Reset()

	v := ws.View()
	assert.Empty(t, ws.Token())
	assert.False(t, v.Identity.SignedIn())
	assert.Nil(t, v.Dashboard)
	assert.Nil(t, v.Analyses)
	assert.Nil(t, v.Draft)
	assert.Equal(t, router.Dashboard, v.Route)
	assert.Equal(t, "EUR", v.Currency)
}

func TestWorkspace_ApplyIdentityDropsToken(t *testing.T) {
	ws := NewWorkspace("ws")
	ws.ApplyIdentity(core.SessionIdentity{UserName: "Bo", SessionToken: "secret"})
	assert.Empty(t, ws.Identity().SessionToken)
	assert.True(t, ws.Initialized())
	assert.True(t, ws.SignedIn())
}

func TestWorkspace_Currency(t *testing.T) {
	ws := NewWorkspace("ws")
	assert.Equal(t, core.DefaultCurrency, ws.Currency())
	assert.ErrorIs(t, ws.SetCurrency("XYZ"), core.ErrInvalidCurrency)
	require.NoError(t, ws.SetCurrency(" gbp "))
	assert.Equal(t, "GBP", ws.Currency())
}

func TestWorkspace_BusyAndBanner(t *testing.T) {
	ws := NewWorkspace("ws")
	assert.True(t, ws.Begin("save"))
	assert.False(t, ws.Begin("save"))
	assert.True(t, ws.View().Busy["save"])
	ws.End("save")
	assert.False(t, ws.Busy("save"))

	ws.SetError("boom")
	ws.SetNotice("done")
	assert.Equal(t, Banner{Error: "boom", Notice: "done"}, ws.Banner())
	ws.ClearBanner()
	assert.Equal(t, Banner{}, ws.Banner())
}

func TestWorkspace_FindReceipt(t *testing.T) {
	ws := NewWorkspace("ws")
	ws.SetAnalyses(ws.Epoch(), []core.Receipt{{ID: 1, Vendor: "A"}})
	ws.SetDashboard(ws.Epoch(), core.DashboardSnapshot{RecentReceipts: []core.Receipt{{ID: 2, Vendor: "B"}}})

	r, ok := ws.FindReceipt(2)
	require.True(t, ok)
	assert.Equal(t, "B", r.Vendor)
	_, ok = ws.FindReceipt(3)
	assert.False(t, ok)
}

func newManager(t *testing.T, store storage.SessionStore, idle time.Duration) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Secret:     secret,
		CookieName: "sid",
		IdleTTL:    idle,
		MaxAge:     24 * time.Hour,
		MaxLive:    10,
	}, store, log.Discard(), nil)
}

func resolve(t *testing.T, m *Manager, cookie *http.Cookie) (*Workspace, *http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ws, err := m.Resolve(rec, req)
	require.NoError(t, err)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			return ws, c
		}
	}
	return ws, nil
}

func TestManager_ResolveCreatesAndReuses(t *testing.T) {
	m := newManager(t, storage.NewMemoryStore(), time.Hour)

	ws, cookie := resolve(t, m, nil)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	again, newCookie := resolve(t, m, cookie)
	assert.Same(t, ws, again)
	assert.Nil(t, newCookie, "a valid cookie is not reissued")
}

func TestManager_InvalidCookieStartsFresh(t *testing.T) {
	m := newManager(t, storage.NewMemoryStore(), time.Hour)
	first, _ := resolve(t, m, nil)

	ws, cookie := resolve(t, m, &http.Cookie{Name: "sid", Value: "forged"})
	require.NotNil(t, cookie)
	assert.NotEqual(t, first.ID, ws.ID)
}

func TestManager_RestoresEvictedWorkspace(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newManager(t, store, 20*time.Millisecond)

	ws, cookie := resolve(t, m, nil)
	ws.SetToken("tok-9")
	require.NoError(t, ws.SetCurrency("EUR"))
	ws.Nav.Navigate(router.Expenses)
	ws.MarkDirty()
	require.NoError(t, m.Persist(context.Background(), ws))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, m.Cache().CleanExpired())
	assert.Equal(t, 0, m.Live())

	back, _ := resolve(t, m, cookie)
	assert.NotSame(t, ws, back)
	assert.Equal(t, ws.ID, back.ID)
	assert.Equal(t, "tok-9", back.Token())
	assert.Equal(t, "EUR", back.Currency())
	assert.Equal(t, router.Expenses, back.Nav.Current())
	assert.False(t, back.Initialized(), "identity must be fetched again")
}

func TestManager_ConcurrentRestoreYieldsOneWorkspace(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveSession(context.Background(), storage.SessionRecord{ID: "ws-1", Token: "tok"}))
	m := newManager(t, store, time.Hour)

	var wg sync.WaitGroup
	got := make([]*Workspace, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := m.Lookup(context.Background(), "ws-1")
			assert.NoError(t, err)
			got[i] = ws
		}(i)
	}
	wg.Wait()

	for _, ws := range got[1:] {
		assert.Same(t, got[0], ws)
	}
}

func TestManager_ForgetAndPurge(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newManager(t, store, time.Hour)
	ws, _ := resolve(t, m, nil)

	require.NoError(t, m.Forget(context.Background(), ws.ID))
	_, err := store.LoadSession(context.Background(), ws.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SaveSession(context.Background(), storage.SessionRecord{ID: "old", LastSeen: time.Now().Add(-48 * time.Hour)}))
	n, err := m.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
