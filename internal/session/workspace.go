// Package session keeps the per-browser state of the frontend.
//
// Each browser is bound to a Workspace through a signed cookie. The
// workspace mirrors the backend identity, holds the bearer token and the
// last fetched snapshots, and owns the receipt draft. Snapshot fetches are
// tagged with the workspace epoch so a response that lands after a login
// or logout is dropped instead of overwriting fresher state.
package session

import (
	"strings"
	"sync"
	"time"

	"splithappens/internal/core"
	"splithappens/internal/draft"
	"splithappens/internal/router"
	"splithappens/internal/storage"
)

// Banner is the single error and notice line shown above every page.
type Banner struct {
	Error  string
	Notice string
}

type Workspace struct {
	ID    string
	Draft *draft.Store
	Nav   *router.Navigator

	mu          sync.RWMutex
	token       string
	identity    core.SessionIdentity
	initialized bool
	currency    string
	dashboard   *core.DashboardSnapshot
	analyses    []core.Receipt
	overview    *core.ExpensesOverview
	banner      Banner
	epoch       uint64
	busy        map[string]bool
	createdAt   time.Time
	dirty       bool
}

func NewWorkspace(id string) *Workspace {
	return &Workspace{
		ID:        id,
		Draft:     draft.New(),
		Nav:       router.NewNavigator(),
		currency:  core.DefaultCurrency,
		busy:      make(map[string]bool),
		createdAt: time.Now().UTC(),
		dirty:     true,
	}
}

// restore rebuilds a workspace from its persisted record. The identity is
// not stored and must be fetched again.
func restore(rec storage.SessionRecord) *Workspace {
	ws := NewWorkspace(rec.ID)
	ws.token = rec.Token
	if core.IsSupportedCurrency(rec.Currency) {
		ws.currency = rec.Currency
	}
	if rec.Route != "" {
		ws.Nav.Sync(router.Route(rec.Route).Path())
	}
	if !rec.CreatedAt.IsZero() {
		ws.createdAt = rec.CreatedAt
	}
	ws.dirty = false
	return ws
}

func (w *Workspace) Record() storage.SessionRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return storage.SessionRecord{
		ID:        w.ID,
		Token:     w.token,
		Currency:  w.currency,
		Route:     string(w.Nav.Current()),
		CreatedAt: w.createdAt,
		LastSeen:  time.Now().UTC(),
	}
}

// Dirty reports whether persisted fields changed since the last call and
// resets the flag.
func (w *Workspace) Dirty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := w.dirty
	w.dirty = false
	return d
}

func (w *Workspace) MarkDirty() {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
}

func (w *Workspace) Token() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.token
}

func (w *Workspace) SetToken(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.token != token {
		w.token = token
		w.dirty = true
	}
}

func (w *Workspace) Identity() core.SessionIdentity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.identity
}

func (w *Workspace) SignedIn() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.identity.SignedIn()
}

// Initialized reports whether the identity was fetched at least once.
func (w *Workspace) Initialized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.initialized
}

// ApplyIdentity mirrors a session response. The token is handled by the
// gateway and is not copied here.
func (w *Workspace) ApplyIdentity(id core.SessionIdentity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id.SessionToken = ""
	w.identity = id
	w.initialized = true
}

// SignIn adopts a fresh identity and starts a new epoch, so snapshots
// fetched for a previous member are dropped.
func (w *Workspace) SignIn(id core.SessionIdentity) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	id.SessionToken = ""
	w.identity = id
	w.initialized = true
	w.dashboard = nil
	w.analyses = nil
	w.overview = nil
	w.epoch++
	return w.epoch
}

// Reset forgets identity, token, snapshots and the draft, and routes back
// to the dashboard. The currency preference belongs to the browser and
// survives.
func (w *Workspace) Reset() {
	w.mu.Lock()
	w.identity = core.SessionIdentity{}
	w.initialized = true
	w.token = ""
	w.dashboard = nil
	w.analyses = nil
	w.overview = nil
	w.epoch++
	w.dirty = true
	w.mu.Unlock()

	w.Draft.Commit()
	w.Nav.Navigate(router.Dashboard)
}

func (w *Workspace) Epoch() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.epoch
}

// SetDashboard stores a snapshot fetched during epoch and refreshes the
// identity from it. It returns false and stores nothing when the epoch
// moved on.
func (w *Workspace) SetDashboard(epoch uint64, d core.DashboardSnapshot) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if epoch != w.epoch {
		return false
	}
	w.dashboard = &d
	if d.CurrentUserName != "" {
		members := d.Members
		w.identity.User = d.CurrentUser
		w.identity.UserName = d.CurrentUserName
		w.identity.HouseholdCode = d.HouseholdCode
		w.identity.HouseholdName = d.HouseholdName
		w.identity.Members = &members
	}
	return true
}

func (w *Workspace) SetAnalyses(epoch uint64, a []core.Receipt) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if epoch != w.epoch {
		return false
	}
	w.analyses = a
	return true
}

func (w *Workspace) SetOverview(epoch uint64, ov core.ExpensesOverview) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if epoch != w.epoch {
		return false
	}
	w.overview = &ov
	return true
}

func (w *Workspace) Dashboard() (core.DashboardSnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.dashboard == nil {
		return core.DashboardSnapshot{}, false
	}
	return *w.dashboard, true
}

// FindReceipt looks a receipt up in the analyses list first and then in the
// dashboard's recent receipts.
func (w *Workspace) FindReceipt(id int64) (core.Receipt, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, r := range w.analyses {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	if w.dashboard != nil {
		for _, r := range w.dashboard.RecentReceipts {
			if r.ID == id {
				return r.Clone(), true
			}
		}
	}
	return core.Receipt{}, false
}

func (w *Workspace) Currency() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currency
}

// SetCurrency stores the manual expense currency preference.
func (w *Workspace) SetCurrency(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !core.IsSupportedCurrency(code) {
		return core.ErrInvalidCurrency
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currency != code {
		w.currency = code
		w.dirty = true
	}
	return nil
}

func (w *Workspace) SetError(msg string) {
	w.mu.Lock()
	w.banner.Error = msg
	w.mu.Unlock()
}

func (w *Workspace) SetNotice(msg string) {
	w.mu.Lock()
	w.banner.Notice = msg
	w.mu.Unlock()
}

func (w *Workspace) ClearBanner() {
	w.mu.Lock()
	w.banner = Banner{}
	w.mu.Unlock()
}

func (w *Workspace) Banner() Banner {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.banner
}

// Begin marks op as running. It returns false when op is already running,
// which callers treat as a duplicate submit.
func (w *Workspace) Begin(op string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy[op] {
		return false
	}
	w.busy[op] = true
	return true
}

func (w *Workspace) End(op string) {
	w.mu.Lock()
	delete(w.busy, op)
	w.mu.Unlock()
}

func (w *Workspace) Busy(op string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.busy[op]
}

// View is a consistent copy of everything a page renders.
type View struct {
	WorkspaceID     string
	Identity        core.SessionIdentity
	Initialized     bool
	Route           router.Route
	Currency        string
	Dashboard       *core.DashboardSnapshot
	Analyses        []core.Receipt
	Overview        *core.ExpensesOverview
	Banner          Banner
	Draft           *core.Receipt
	DraftPhase      draft.Phase
	DraftGeneration uint64
	Busy            map[string]bool
}

func (w *Workspace) View() View {
	v := View{
		WorkspaceID: w.ID,
		Route:       w.Nav.Current(),
		DraftPhase:  w.Draft.Phase(),
	}
	if d, ok := w.Draft.Current(); ok {
		v.Draft = &d
		v.DraftGeneration = w.Draft.Generation()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	v.Identity = w.identity
	v.Initialized = w.initialized
	v.Currency = w.currency
	v.Banner = w.banner
	if w.dashboard != nil {
		d := *w.dashboard
		v.Dashboard = &d
	}
	if w.analyses != nil {
		v.Analyses = make([]core.Receipt, len(w.analyses))
		copy(v.Analyses, w.analyses)
	}
	if w.overview != nil {
		ov := *w.overview
		v.Overview = &ov
	}
	v.Busy = make(map[string]bool, len(w.busy))
	for k, b := range w.busy {
		v.Busy[k] = b
	}
	return v
}
