// Package conversation keeps the partially filled registration of every phone
// number that is still talking to the operator.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"driver_intake/internal/registration"
)

// Store tracks in-progress registrations keyed by phone number.
type Store interface {
	// Merge folds the non-empty fields of update into the entry for phone,
	// creating it if needed, and returns the merged record. An empty phone is
	// rejected with registration.ErrValidation and leaves the store untouched.
	Merge(ctx context.Context, phone string, update registration.Record) (registration.Record, error)
	// Get returns the entry for phone, if any.
	Get(ctx context.Context, phone string) (registration.Record, bool, error)
	// Remove deletes the entry for phone. Removing an absent phone is a no-op.
	Remove(ctx context.Context, phone string) error
	// List returns every entry ordered by phone.
	List(ctx context.Context) ([]registration.Record, error)
}

func validatePhone(phone string) error {
	if phone == "" {
		return fmt.Errorf("conversation: phone number is required: %w", registration.ErrValidation)
	}
	return nil
}

// Memory is the in-process Store. Entries live until removed.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]registration.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]registration.Record)}
}

func (m *Memory) Merge(_ context.Context, phone string, update registration.Record) (registration.Record, error) {
	if err := validatePhone(phone); err != nil {
		return registration.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	merged := m.entries[phone].Merge(update)
	merged.Phone = phone
	m.entries[phone] = merged
	return merged, nil
}

func (m *Memory) Get(_ context.Context, phone string) (registration.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.entries[phone]
	return rec, ok, nil
}

func (m *Memory) Remove(_ context.Context, phone string) error {
	m.mu.Lock()
	delete(m.entries, phone)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context) ([]registration.Record, error) {
	m.mu.RLock()
	records := make([]registration.Record, 0, len(m.entries))
	for _, rec := range m.entries {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	sortByPhone(records)
	return records, nil
}

func sortByPhone(records []registration.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Phone < records[j].Phone
	})
}
