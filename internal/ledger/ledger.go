// Package ledger keeps an in-memory, append-only log of per-request token
// usage and derived cost. It is process-lifetime only: records are lost on
// restart, which is acceptable because this is not a billing system of record.
package ledger

import (
	"sync"
	"time"
)

// Record is one immutable usage entry.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	Cost             float64   `json:"cost"`
}

// ModelCost aggregates ledger records for a single model.
type ModelCost struct {
	Cost      float64 `json:"cost"`
	Tokens    int     `json:"tokens"`
	CallCount int     `json:"callCount"`
}

// Ledger is an injectable append-only cost log. All methods are safe for
// concurrent use; aggregate reads see a consistent snapshot.
type Ledger struct {
	mu      sync.RWMutex
	records []Record
	total   float64
	rates   RateTable
	now     func() time.Time
}

// New creates a ledger priced by the given rate table.
func New(rates RateTable) *Ledger {
	return &Ledger{rates: rates, now: time.Now}
}

// RecordUsage appends an entry for one completed request and returns the cost
// of this call plus the running total across all records.
func (l *Ledger) RecordUsage(model string, promptTokens, completionTokens int) (cost, runningTotal float64) {
	rate := l.rates.Lookup(model)
	cost = float64(promptTokens)*rate.Input + float64(completionTokens)*rate.Output

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, Record{
		Timestamp:        l.now(),
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Cost:             cost,
	})
	l.total += cost
	return cost, l.total
}

// TotalCost returns the sum of all recorded costs.
func (l *Ledger) TotalCost() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// History returns all records in insertion order.
func (l *Ledger) History() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// CostByModel returns per-model aggregates.
func (l *Ledger) CostByModel() map[string]ModelCost {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]ModelCost)
	for _, r := range l.records {
		mc := out[r.Model]
		mc.Cost += r.Cost
		mc.Tokens += r.TotalTokens
		mc.CallCount++
		out[r.Model] = mc
	}
	return out
}
