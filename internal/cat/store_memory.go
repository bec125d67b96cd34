package cat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests, simulation and offline runs.
type MemoryStore struct {
	mu          sync.RWMutex
	items       map[string][]Item // by assignment
	choices     map[string][]Choice
	abilities   map[string]Ability
	administers []AdministeredRecord
	results     []SubmissionResult
	now         func() time.Time
}

func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     map[string][]Item{},
		choices:   map[string][]Choice{},
		abilities: map[string]Ability{},
		now:       time.Now,
	}
}

// PutItem adds or replaces an item and its choices.
func (m *MemoryStore) PutItem(it Item, choices []Choice) error {
	if it.ID == "" || it.AssignmentID == "" {
		return errors.New("item id and assignment id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(it, choices)
	return nil
}

func (m *MemoryStore) putLocked(it Item, choices []Choice) {
	m.choices[it.ID] = append([]Choice(nil), choices...)
	list := m.items[it.AssignmentID]
	for i := range list {
		if list[i].ID == it.ID {
			list[i] = it
			return
		}
	}
	m.items[it.AssignmentID] = append(list, it)
}

func (m *MemoryStore) GetItemsForAssignment(_ context.Context, assignmentID string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items[assignmentID]))
	for _, it := range m.items[assignmentID] {
		if it.Valid() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetChoicesForItem(_ context.Context, itemID string) ([]Choice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Choice(nil), m.choices[itemID]...), nil
}

func (m *MemoryStore) GetTheta(_ context.Context, examineeID, courseID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.abilities[abilityKey(examineeID, courseID)]
	return a.Theta, ok, nil
}

func (m *MemoryStore) UpsertTheta(_ context.Context, examineeID, courseID string, theta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abilities[abilityKey(examineeID, courseID)] = Ability{
		ExamineeID: examineeID,
		CourseID:   courseID,
		Theta:      theta,
		LastUpdate: m.now(),
	}
	return nil
}

func (m *MemoryStore) GetAbility(_ context.Context, examineeID, courseID string) (Ability, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.abilities[abilityKey(examineeID, courseID)]
	return a, ok, nil
}

func (m *MemoryStore) AppendAdministered(_ context.Context, rec AdministeredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.administers = append(m.administers, rec)
	return nil
}

func (m *MemoryStore) AppendSubmissionResult(_ context.Context, res SubmissionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

// Administered returns the trace of one attempt in append order.
func (m *MemoryStore) Administered(examineeID, courseID, assignmentID string) []AdministeredRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AdministeredRecord
	for _, r := range m.administers {
		if r.ExamineeID == examineeID && r.CourseID == courseID && r.AssignmentID == assignmentID {
			out = append(out, r)
		}
	}
	return out
}

// Results returns every submission recorded for (examinee, course).
func (m *MemoryStore) Results(examineeID, courseID string) []SubmissionResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SubmissionResult
	for _, r := range m.results {
		if r.ExamineeID == examineeID && r.CourseID == courseID {
			out = append(out, r)
		}
	}
	return out
}

// ImportItems applies entries atomically with respect to other readers.
func (m *MemoryStore) ImportItems(_ context.Context, entries []BankEntry) error {
	for _, e := range entries {
		if e.Item.ID == "" || e.Item.AssignmentID == "" {
			return errors.New("item id and assignment id are required")
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		choices := make([]Choice, len(e.Choices))
		for i, c := range e.Choices {
			choices[i] = c.Choice
			if choices[i].ID == "" {
				choices[i].ID = uuid.NewString()
			}
		}
		m.putLocked(e.Item, choices)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
