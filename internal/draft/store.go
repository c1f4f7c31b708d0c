// Package draft holds the single receipt a member is currently editing.
//
// A Store owns at most one draft. Every mutation on an absent draft is a
// no-op so that late UI events cannot corrupt state, and a save in flight
// is identified by a Ticket so that its response is only applied to the
// draft it was issued for.
package draft

import (
	"errors"
	"sync"

	"splithappens/internal/core"
)

type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseEditing
	PhaseSaving
)

func (p Phase) String() string {
	switch p {
	case PhaseEditing:
		return "editing"
	case PhaseSaving:
		return "saving"
	default:
		return "empty"
	}
}

var (
	ErrNoDraft      = errors.New("no receipt draft loaded")
	ErrSaveInFlight = errors.New("a save is already in progress")
)

// Ticket identifies one save attempt.
type Ticket struct {
	Generation uint64
	ReceiptID  int64
}

type Store struct {
	mu         sync.Mutex
	draft      *core.Receipt
	phase      Phase
	generation uint64
}

func New() *Store {
	return &Store{}
}

// Load replaces the current draft with a deep copy of r. Unsaved edits of
// a previous draft are dropped; replaced reports whether one existed.
func (s *Store) Load(r core.Receipt) (snapshot core.Receipt, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced = s.draft != nil
	cp := r.Clone()
	s.draft = &cp
	s.phase = PhaseEditing
	s.generation++
	return cp.Clone(), replaced
}

// Current returns a copy of the draft.
func (s *Store) Current() (core.Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return core.Receipt{}, false
	}
	return s.draft.Clone(), true
}

func (s *Store) HasDraft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft != nil
}

func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Generation counts loads and clears of the slot. Pages carry it with the
// receipt id so that edits made on a page rendered for an earlier draft
// can be told apart.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Holds reports whether the slot still holds receipt id as loaded at
// generation.
func (s *Store) Holds(id int64, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft != nil && s.draft.ID == id && s.generation == generation
}

// SetItemAssignment retags the item at index. It does nothing and returns
// false when there is no draft, the index is out of range or a save is in
// flight.
func (s *Store) SetItemAssignment(index int, a core.Assignment) (core.Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.editable() || index < 0 || index >= len(s.draft.Items) {
		return core.Receipt{}, false
	}
	items := make([]core.LineItem, len(s.draft.Items))
	copy(items, s.draft.Items)
	items[index].AssignedTo = a
	s.draft.Items = items
	return s.draft.Clone(), true
}

// SetCategory replaces the draft category and leaves the items alone.
func (s *Store) SetCategory(c core.Category) (core.Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.editable() {
		return core.Receipt{}, false
	}
	s.draft.Category = c
	return s.draft.Clone(), true
}

// BuildSaveRequest projects the draft into the positional patch sent to
// the backend.
func (s *Store) BuildSaveRequest() (core.SaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return core.SaveRequest{}, ErrNoDraft
	}
	return buildRequest(s.draft), nil
}

// BeginSave moves the draft into the saving phase.
func (s *Store) BeginSave() (Ticket, core.SaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.draft == nil:
		return Ticket{}, core.SaveRequest{}, ErrNoDraft
	case s.phase == PhaseSaving:
		return Ticket{}, core.SaveRequest{}, ErrSaveInFlight
	}
	s.phase = PhaseSaving
	t := Ticket{Generation: s.generation, ReceiptID: s.draft.ID}
	return t, buildRequest(s.draft), nil
}

// CompleteSave clears the slot after the backend accepted the save. A
// ticket issued for a draft that has since been replaced is ignored and
// false is returned.
func (s *Store) CompleteSave(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.matches(t) {
		return false
	}
	s.clear()
	return true
}

// FailSave returns the draft to editing with every staged edit intact.
func (s *Store) FailSave(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.matches(t) {
		return false
	}
	s.phase = PhaseEditing
	return true
}

// Commit clears the slot unconditionally.
func (s *Store) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *Store) Discard() {
	s.Commit()
}

// Forget clears the draft only when it holds receipt id.
func (s *Store) Forget(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil || s.draft.ID != id {
		return false
	}
	s.clear()
	return true
}

func (s *Store) editable() bool {
	return s.draft != nil && s.phase == PhaseEditing
}

func (s *Store) matches(t Ticket) bool {
	return s.draft != nil &&
		s.phase == PhaseSaving &&
		s.generation == t.Generation &&
		s.draft.ID == t.ReceiptID
}

func (s *Store) clear() {
	s.draft = nil
	s.phase = PhaseEmpty
	s.generation++
}

func buildRequest(r *core.Receipt) core.SaveRequest {
	req := core.SaveRequest{
		ReceiptID:   r.ID,
		Assignments: make([]core.ItemAssignment, len(r.Items)),
		Category:    r.Category,
	}
	if req.Category == "" {
		req.Category = core.CategoryOther
	}
	for i, item := range r.Items {
		req.Assignments[i] = core.ItemAssignment{Index: i, AssignedTo: item.AssignedTo.OrShared()}
	}
	return req
}
