package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. State is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
	exports  map[string]ExportRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]SessionRecord),
		exports:  make(map[string]ExportRecord),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SaveSession(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := m.sessions[rec.ID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}
	m.sessions[rec.ID] = rec
	return nil
}

func (m *MemoryStore) LoadSession(_ context.Context, id string) (SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) PurgeSessions(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.sessions {
		if rec.LastSeen.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) MarkExported(_ context.Context, rec ExportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exports[rec.EventID]; ok {
		return nil
	}
	if rec.ExportedAt.IsZero() {
		rec.ExportedAt = time.Now().UTC()
	}
	m.exports[rec.EventID] = rec
	return nil
}

func (m *MemoryStore) IsExported(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.exports[eventID]
	return ok, nil
}

func (m *MemoryStore) ListExports(_ context.Context, limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	out := make([]ExportRecord, 0, len(m.exports))
	for _, rec := range m.exports {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExportedAt.Equal(out[j].ExportedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].ExportedAt.After(out[j].ExportedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
