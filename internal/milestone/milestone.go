// Package milestone counts completed registrations and celebrates configured
// thresholds.
package milestone

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// CounterStore persists the completed-registration count.
type CounterStore interface {
	Load(ctx context.Context) (int, error)
	Save(ctx context.Context, count int) error
}

// Table maps a count threshold to its celebratory message.
type Table map[int]string

// DefaultTable is the reference threshold set.
func DefaultTable() Table {
	return Table{
		3:  "🔥 What a machine! 3 registrations already!",
		5:  "🚀 Flying high! 5 registrations on the board!",
		10: "👑 The registration king is online! Ten registrations!",
		20: "📈 HR is going to hire you just for registrations!",
		30: "🏆 Is this a registration marathon? 30 already!",
		50: "💥 Stop showing off! 50 drivers?!",
	}
}

// Progress describes the distance to the next milestone.
type Progress struct {
	Count     int    `json:"count"`
	Next      int    `json:"next,omitempty"`
	Remaining int    `json:"remaining,omitempty"`
	Message   string `json:"message,omitempty"`
	AllDone   bool   `json:"all_done"`
}

// Tracker increments the counter and looks up milestones.
type Tracker struct {
	mu     sync.Mutex
	store  CounterStore
	table  Table
	logger *zap.Logger
}

// NewTracker creates a tracker. A nil table uses DefaultTable.
func NewTracker(store CounterStore, table Table, logger *zap.Logger) *Tracker {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, table: table, logger: logger}
}

// SetTable swaps the threshold table, e.g. after a config reload.
func (t *Tracker) SetTable(table Table) {
	t.mu.Lock()
	t.table = table
	t.mu.Unlock()
}

// Increment reads the current count, adds one and writes it back. The
// read-modify-write runs under the tracker's lock.
func (t *Tracker) Increment(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count, err := t.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("milestone: load counter: %w", err)
	}
	count++
	if err := t.store.Save(ctx, count); err != nil {
		return 0, fmt.Errorf("milestone: save counter: %w", err)
	}

	t.logger.Debug("Registration counter incremented", zap.Int("count", count))
	return count, nil
}

// Count returns the persisted count.
func (t *Tracker) Count(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Load(ctx)
}

// Check returns the celebratory message for count, if count is a threshold.
func (t *Tracker) Check(count int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.table[count]
	return msg, ok
}

// Next returns the progress from count to the next threshold above it.
func (t *Tracker) Next(count int) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	thresholds := make([]int, 0, len(t.table))
	for threshold := range t.table {
		thresholds = append(thresholds, threshold)
	}
	sort.Ints(thresholds)

	for _, threshold := range thresholds {
		if threshold > count {
			return Progress{
				Count:     count,
				Next:      threshold,
				Remaining: threshold - count,
				Message:   t.table[threshold],
			}
		}
	}
	return Progress{Count: count, AllDone: true}
}
