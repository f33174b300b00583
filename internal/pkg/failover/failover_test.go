package failover

import (
	"context"
	"sync"
	"testing"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// The circuit breaker: healthy → degraded at 3 consecutive failures,
// degraded → failed at 5, failed → healthy on a single success.
func TestNextHealthStateTransitions(t *testing.T) {
	cases := []struct {
		name      string
		current   model.ExitHealthState
		success   bool
		failures  int
		successes int
		want      model.ExitHealthState
	}{
		{"healthy stays below threshold", model.HealthHealthy, false, 2, 0, model.HealthHealthy},
		{"healthy degrades at 3", model.HealthHealthy, false, 3, 0, model.HealthDegraded},
		{"degraded holds at 4", model.HealthDegraded, false, 4, 0, model.HealthDegraded},
		{"degraded fails at 5", model.HealthDegraded, false, 5, 0, model.HealthFailed},
		{"failed recovers on one success", model.HealthFailed, true, 0, 1, model.HealthHealthy},
		{"healthy success is a no-op", model.HealthHealthy, true, 0, 4, model.HealthHealthy},
		{"degraded success holds state", model.HealthDegraded, true, 0, 1, model.HealthDegraded},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NextHealthState(c.current, c.success, c.failures, c.successes)
			if got != c.want {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}
}

// End to end at the state machine level: three failures degrade,
// two more fail, one success recovers.
func TestCircuitBreakerSequence(t *testing.T) {
	state := model.HealthHealthy
	failures := 0
	for i := 1; i <= 5; i++ {
		failures++
		state = NextHealthState(state, false, failures, 0)
	}
	if state != model.HealthFailed {
		t.Fatalf("after 5 failures state = %s, want failed", state)
	}
	state = NextHealthState(state, true, 0, 1)
	if state != model.HealthHealthy {
		t.Fatalf("after recovery state = %s, want healthy", state)
	}
}

func members() []Member {
	return []Member{
		{ExitNodeID: "E1", StaticPriority: 1, Weight: 1, Enabled: true, Health: model.HealthHealthy},
		{ExitNodeID: "E2", StaticPriority: 2, Weight: 2, Enabled: true, Health: model.HealthHealthy},
		{ExitNodeID: "E3", StaticPriority: 3, Weight: 1, Enabled: true, Health: model.HealthHealthy},
	}
}

func TestSelectPriority(t *testing.T) {
	ms := members()
	if got := Select(model.StrategyPriority, ms, 0); got != "E1" {
		t.Fatalf("selected %s, want E1", got)
	}

	ms[0].Health = model.HealthFailed
	if got := Select(model.StrategyPriority, ms, 0); got != "E2" {
		t.Fatalf("with E1 failed selected %s, want E2", got)
	}

	// Degraded is still eligible; only failed is excluded.
	ms[0].Health = model.HealthDegraded
	if got := Select(model.StrategyPriority, ms, 0); got != "E1" {
		t.Fatalf("degraded member skipped, selected %s", got)
	}
}

func TestSelectPriorityTieBreaksByID(t *testing.T) {
	ms := []Member{
		{ExitNodeID: "Eb", StaticPriority: 1, Enabled: true, Health: model.HealthHealthy},
		{ExitNodeID: "Ea", StaticPriority: 1, Enabled: true, Health: model.HealthHealthy},
	}
	if got := Select(model.StrategyPriority, ms, 0); got != "Ea" {
		t.Fatalf("tie broke to %s, want Ea", got)
	}
}

func TestSelectPriorityAdjustment(t *testing.T) {
	ms := members()
	ms[0].PriorityAdjustment = 10
	if got := Select(model.StrategyPriority, ms, 0); got != "E2" {
		t.Fatalf("adjusted priority ignored, selected %s", got)
	}
}

func TestSelectRoundRobinWeighted(t *testing.T) {
	ms := members() // E1 w1, E2 w2, E3 w1 → cycle of 4 slots
	var picks []string
	for rr := 0; rr < 4; rr++ {
		picks = append(picks, Select(model.StrategyRoundRobin, ms, rr))
	}
	want := []string{"E1", "E2", "E2", "E3"}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("slot %d picked %s, want %s (%v)", i, picks[i], want[i], picks)
		}
	}
	// The cycle wraps.
	if got := Select(model.StrategyRoundRobin, ms, 4); got != "E1" {
		t.Fatalf("wrap picked %s, want E1", got)
	}
}

func TestSelectLatency(t *testing.T) {
	ms := members()
	ms[0].LatencyMS = []float64{40, 50, 60}
	ms[1].LatencyMS = []float64{10, 20, 300} // median 20, best
	ms[2].LatencyMS = []float64{25, 25}
	if got := Select(model.StrategyLatency, ms, 0); got != "E2" {
		t.Fatalf("latency selected %s, want E2", got)
	}
}

func TestSelectLatencyFallsBackToPriority(t *testing.T) {
	ms := members() // no latency samples anywhere
	if got := Select(model.StrategyLatency, ms, 0); got != "E1" {
		t.Fatalf("null-latency fallback selected %s, want E1 by priority", got)
	}
}

func TestSelectNoEligibleMember(t *testing.T) {
	ms := members()
	for i := range ms {
		ms[i].Health = model.HealthFailed
	}
	if got := Select(model.StrategyPriority, ms, 0); got != "" {
		t.Fatalf("all-failed group selected %s, want empty sentinel", got)
	}

	ms = members()
	for i := range ms {
		ms[i].Enabled = false
	}
	if got := Select(model.StrategyPriority, ms, 0); got != "" {
		t.Fatalf("all-disabled group selected %s, want empty sentinel", got)
	}
}

// Property: given the same inputs and strategy, selection is
// deterministic.
func TestSelectDeterminism(t *testing.T) {
	ms := members()
	ms[1].LatencyMS = []float64{5}
	for _, strategy := range []model.ExitStrategy{model.StrategyPriority, model.StrategyRoundRobin, model.StrategyLatency} {
		first := Select(strategy, ms, 7)
		for i := 0; i < 20; i++ {
			if got := Select(strategy, ms, 7); got != first {
				t.Fatalf("strategy %s not deterministic: %s vs %s", strategy, first, got)
			}
		}
	}
}

func TestMedian(t *testing.T) {
	if m := median([]float64{3, 1, 2}); m != 2 {
		t.Fatalf("odd median = %v", m)
	}
	if m := median([]float64{4, 1, 2, 3}); m != 2.5 {
		t.Fatalf("even median = %v", m)
	}
}

// The worker drains events strictly in arrival order.
func TestWorkerOrdering(t *testing.T) {
	w := NewWorker(8)
	var mu sync.Mutex
	var seen []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		w.Enqueue(Event{
			GroupID: "g",
			Apply: func(ctx context.Context) error {
				mu.Lock()
				seen = append(seen, i)
				mu.Unlock()
				wg.Done()
				return nil
			},
		})
	}
	wg.Wait()
	w.Stop()
	for i := 0; i < 10; i++ {
		if seen[i] != i {
			t.Fatalf("events processed out of order: %v", seen)
		}
	}
}

func TestParsePingTime(t *testing.T) {
	out := "64 bytes from 203.0.113.7: icmp_seq=1 ttl=52 time=23.4 ms"
	ms, ok := parsePingTime(out)
	if !ok || ms != 23.4 {
		t.Fatalf("parsed %v %v", ms, ok)
	}
	if _, ok := parsePingTime("no latency here"); ok {
		t.Fatalf("garbage parsed as latency")
	}
}
