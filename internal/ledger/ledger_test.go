package ledger

import (
	"math"
	"sync"
	"testing"
)

func testRates() RateTable {
	return RateTable{
		DefaultModel: "base",
		Models: map[string]Rate{
			"base":  {Input: 1e-6, Output: 2e-6},
			"fancy": {Input: 5e-6, Output: 10e-6},
		},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestRecordUsage_Cost(t *testing.T) {
	l := New(testRates())

	cost, total := l.RecordUsage("fancy", 1000, 500)
	want := 1000*5e-6 + 500*10e-6
	if !almostEqual(cost, want) {
		t.Errorf("RecordUsage() cost = %v, want %v", cost, want)
	}
	if !almostEqual(total, want) {
		t.Errorf("RecordUsage() running total = %v, want %v", total, want)
	}
}

func TestRecordUsage_UnknownModelFallsBack(t *testing.T) {
	l := New(testRates())

	cost, _ := l.RecordUsage("mystery-model", 100, 100)
	want := 100*1e-6 + 100*2e-6
	if !almostEqual(cost, want) {
		t.Errorf("RecordUsage() cost = %v, want default-rate %v", cost, want)
	}
}

func TestRateTable_ProviderPrefix(t *testing.T) {
	rates := testRates()
	r := rates.Lookup("somevendor/fancy")
	if !almostEqual(r.Input, 5e-6) {
		t.Errorf("Lookup() should strip the provider prefix, got input rate %v", r.Input)
	}
}

func TestRunningTotal_MonotonicNonDecreasing(t *testing.T) {
	l := New(testRates())

	var prev float64
	for i := 0; i < 5; i++ {
		cost, total := l.RecordUsage("base", 100*i, 50*i)
		if cost < 0 {
			t.Fatalf("cost %d = %v, want >= 0", i, cost)
		}
		if total < prev {
			t.Fatalf("running total decreased: %v -> %v", prev, total)
		}
		prev = total
	}

	if !almostEqual(l.TotalCost(), prev) {
		t.Errorf("TotalCost() = %v, want %v", l.TotalCost(), prev)
	}
}

func TestHistory_InsertionOrder(t *testing.T) {
	l := New(testRates())
	l.RecordUsage("base", 1, 1)
	l.RecordUsage("fancy", 2, 2)

	hist := l.History()
	if len(hist) != 2 {
		t.Fatalf("History() len = %d, want 2", len(hist))
	}
	if hist[0].Model != "base" || hist[1].Model != "fancy" {
		t.Errorf("History() order = %q, %q; want base, fancy", hist[0].Model, hist[1].Model)
	}
	if hist[0].TotalTokens != 2 {
		t.Errorf("History()[0].TotalTokens = %d, want 2", hist[0].TotalTokens)
	}
}

func TestCostByModel(t *testing.T) {
	l := New(testRates())
	l.RecordUsage("base", 100, 100)
	l.RecordUsage("base", 100, 100)
	l.RecordUsage("fancy", 10, 10)

	byModel := l.CostByModel()
	if byModel["base"].CallCount != 2 {
		t.Errorf("CostByModel()[base].CallCount = %d, want 2", byModel["base"].CallCount)
	}
	if byModel["base"].Tokens != 400 {
		t.Errorf("CostByModel()[base].Tokens = %d, want 400", byModel["base"].Tokens)
	}
	if byModel["fancy"].CallCount != 1 {
		t.Errorf("CostByModel()[fancy].CallCount = %d, want 1", byModel["fancy"].CallCount)
	}
}

func TestConcurrentAppends(t *testing.T) {
	l := New(testRates())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordUsage("base", 10, 10)
		}()
	}
	wg.Wait()

	if got := len(l.History()); got != 50 {
		t.Errorf("History() len = %d, want 50", got)
	}
	want := 50 * (10*1e-6 + 10*2e-6)
	if !almostEqual(l.TotalCost(), want) {
		t.Errorf("TotalCost() = %v, want %v", l.TotalCost(), want)
	}
}
