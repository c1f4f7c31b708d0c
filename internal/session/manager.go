package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"splithappens/internal/cache"
	"splithappens/internal/log"
	"splithappens/internal/metrics"
	"splithappens/internal/storage"
)

type ManagerConfig struct {
	Secret       string
	CookieName   string
	CookieSecure bool
	IdleTTL      time.Duration
	MaxAge       time.Duration
	MaxLive      int
}

// Manager binds browsers to workspaces. Live workspaces are kept in an
// LRU with a sliding idle timeout; evicted ones are persisted and come
// back from the store on the next visit.
type Manager struct {
	cfg     ManagerConfig
	codec   *CookieCodec
	store   storage.SessionStore
	live    *cache.LRUCache[*Workspace]
	logger  *log.Logger
	metrics *metrics.Metrics

	// mu serializes get-or-restore so one id never maps to two workspaces.
	mu sync.Mutex
}

func NewManager(cfg ManagerConfig, store storage.SessionStore, logger *log.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentSession)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "splithappens_session"
	}
	if cfg.MaxLive <= 0 {
		cfg.MaxLive = 1000
	}
	mgr := &Manager{
		cfg:     cfg,
		codec:   NewCookieCodec(cfg.Secret, cfg.MaxAge),
		store:   store,
		logger:  logger,
		metrics: m,
	}
	mgr.live = cache.NewLRUCache[*Workspace](cfg.MaxLive, cfg.IdleTTL,
		cache.WithSlidingTTL[*Workspace](),
		cache.WithEvictFunc(mgr.onEvict),
	)
	return mgr
}

// Cache exposes the live set so a cache.Manager can sweep it.
func (m *Manager) Cache() cache.Cleaner { return m.live }

func (m *Manager) Live() int { return m.live.Size() }

func (m *Manager) onEvict(id string, ws *Workspace) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveSession(ctx, ws.Record()); err != nil {
		m.logger.Warn("Failed to persist evicted workspace", log.FieldWorkspaceID, id, log.FieldError, err)
	}
	m.logger.Debug("Workspace evicted", log.FieldWorkspaceID, id)
	m.metrics.SetWorkspaces(m.live.Size())
}

// Resolve returns the workspace of the requesting browser, creating one
// and setting the cookie when the request carries none or an invalid one.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) (*Workspace, error) {
	ctx := r.Context()

	if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
		id, err := m.codec.Decode(c.Value)
		if err == nil {
			ws, err := m.lookup(ctx, id)
			if err != nil {
				return nil, err
			}
			if ws != nil {
				return ws, nil
			}
		} else {
			log.FromContext(ctx).DebugContext(ctx, "Rejected session cookie", log.FieldError, err)
		}
	}

	ws := NewWorkspace(uuid.NewString())
	if err := m.setCookie(w, ws.ID); err != nil {
		return nil, err
	}
	m.live.Set(ws.ID, ws)
	m.metrics.SetWorkspaces(m.live.Size())
	if err := m.Persist(ctx, ws); err != nil {
		// The workspace still works for this visit.
		log.FromContext(ctx).WarnContext(ctx, "Failed to persist new workspace", log.FieldWorkspaceID, ws.ID, log.FieldError, err)
	}
	return ws, nil
}

// Lookup returns a live or persisted workspace without touching cookies.
func (m *Manager) Lookup(ctx context.Context, id string) (*Workspace, error) {
	return m.lookup(ctx, id)
}

func (m *Manager) lookup(ctx context.Context, id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.live.Get(id); ok {
		return ws, nil
	}

	rec, err := m.store.LoadSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", id, err)
	}
	if time.Since(rec.LastSeen) > m.cfg.MaxAge && m.cfg.MaxAge > 0 {
		_ = m.store.DeleteSession(ctx, id)
		return nil, nil
	}

	ws := restore(rec)
	m.live.Set(id, ws)
	m.metrics.SetWorkspaces(m.live.Size())
	log.FromContext(ctx).DebugContext(ctx, "Workspace restored from store", log.FieldWorkspaceID, id)
	return ws, nil
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) error {
	value, err := m.codec.Encode(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Persist writes the workspace record when it changed.
func (m *Manager) Persist(ctx context.Context, ws *Workspace) error {
	if !ws.Dirty() {
		return nil
	}
	if err := m.store.SaveSession(ctx, ws.Record()); err != nil {
		ws.MarkDirty()
		return fmt.Errorf("persist workspace: %w", err)
	}
	return nil
}

// Forget drops a workspace from memory and the store.
func (m *Manager) Forget(ctx context.Context, id string) error {
	m.live.Delete(id)
	m.metrics.SetWorkspaces(m.live.Size())
	return m.store.DeleteSession(ctx, id)
}

// PurgeExpired removes persisted workspaces older than the cookie max age.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	if m.cfg.MaxAge <= 0 {
		return 0, nil
	}
	return m.store.PurgeSessions(ctx, time.Now().Add(-m.cfg.MaxAge))
}
