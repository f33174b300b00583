// Package failover is the Exit Failover Controller:
// a circuit-breaker health state machine per exit node, three selection
// strategies, and a sequential single-worker reassignment protocol that
// makes two remotes sharing a failing exit land on the same new target.
//
// This package is pure decision logic plus the sequential worker loop;
// it never touches SQL directly. internal/service wires a Store
// implementation (reads/writes model rows) and a Deployer trigger
// (fire-and-report regeneration/redeploy) around it.
package failover

import (
	"context"
	"sort"

	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// NextHealthState applies the circuit-breaker transition rules:
// healthy->degraded at >=3 consecutive failures, degraded->failed at
// >=5, failed->healthy on a single success (intentional asymmetric
// hysteresis).
func NextHealthState(current model.ExitHealthState, success bool, consecutiveFailures, consecutiveSuccesses int) model.ExitHealthState {
	if success {
		if current == model.HealthFailed && consecutiveSuccesses >= 1 {
			return model.HealthHealthy
		}
		return current
	}
	switch current {
	case model.HealthHealthy:
		if consecutiveFailures >= 3 {
			return model.HealthDegraded
		}
	case model.HealthDegraded:
		if consecutiveFailures >= 5 {
			return model.HealthFailed
		}
	}
	return current
}

// Member is the selection-time view of one exit group member, joined
// with its current health.
type Member struct {
	ExitNodeID         string
	StaticPriority     int
	PriorityAdjustment int
	Weight             int
	Enabled            bool
	Health             model.ExitHealthState
	LatencyMS          []float64 // recent rolling window, for the latency strategy
}

func eligible(m Member) bool {
	return m.Enabled && m.Health != model.HealthFailed
}

// Select runs the group's configured strategy over members and returns
// the chosen exit node id, or "" if no eligible member exists.
// rrCounter is an external, persisted cursor for round_robin continuity
// across invocations; Select does not mutate it.
func Select(strategy model.ExitStrategy, members []Member, rrCounter int) string {
	var pool []Member
	for _, m := range members {
		if eligible(m) {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		return ""
	}

	switch strategy {
	case model.StrategyPriority:
		return selectByPriority(pool)
	case model.StrategyRoundRobin:
		return selectRoundRobin(pool, rrCounter)
	case model.StrategyLatency:
		if id, ok := selectByLatency(pool); ok {
			return id
		}
		return selectByPriority(pool) // all latencies null: fall back to priority
	default:
		return selectByPriority(pool)
	}
}

func selectByPriority(pool []Member) string {
	sort.SliceStable(pool, func(i, j int) bool {
		pi := pool[i].StaticPriority + pool[i].PriorityAdjustment
		pj := pool[j].StaticPriority + pool[j].PriorityAdjustment
		if pi != pj {
			return pi < pj
		}
		return pool[i].ExitNodeID < pool[j].ExitNodeID
	})
	return pool[0].ExitNodeID
}

func selectRoundRobin(pool []Member, rrCounter int) string {
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].ExitNodeID < pool[j].ExitNodeID })
	totalWeight := 0
	for _, m := range pool {
		w := m.Weight
		if w <= 0 {
			w = 1
		}
		totalWeight += w
	}
	if totalWeight == 0 {
		return pool[0].ExitNodeID
	}
	idx := rrCounter % totalWeight
	for _, m := range pool {
		w := m.Weight
		if w <= 0 {
			w = 1
		}
		if idx < w {
			return m.ExitNodeID
		}
		idx -= w
	}
	return pool[0].ExitNodeID
}

// selectByLatency picks the eligible member with the lowest median
// recent latency. Members
// with no samples are skipped; if none have samples, ok is false.
func selectByLatency(pool []Member) (string, bool) {
	best := ""
	bestMedian := 0.0
	found := false
	for _, m := range pool {
		if len(m.LatencyMS) == 0 {
			continue
		}
		med := median(m.LatencyMS)
		if !found || med < bestMedian || (med == bestMedian && m.ExitNodeID < best) {
			best, bestMedian, found = m.ExitNodeID, med, true
		}
	}
	return best, found
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// ReassignDecision is the outcome of evaluating one group after a
// health-check event.
type ReassignDecision struct {
	GroupID       string
	ChosenExitID  string // "" means no_healthy_member
	TriggerReason string
}

// Decide re-evaluates a group's target exit. It is pure: the caller
// (internal/service) wraps this in a single transaction and persists
// the FailoverHistory rows and remote updates.
func Decide(groupID string, strategy model.ExitStrategy, members []Member, rrCounter int, reason string) ReassignDecision {
	chosen := Select(strategy, members, rrCounter)
	return ReassignDecision{GroupID: groupID, ChosenExitID: chosen, TriggerReason: reason}
}

// Event is one unit of work the sequential worker processes: either a
// scheduled health check sweep or an operator-forced failover.
type Event struct {
	GroupID string
	Reason  string
	Apply   func(ctx context.Context) error // closure capturing the transactional body
}

// Worker drains Events strictly in arrival order onto a single
// goroutine, guaranteeing that two remotes sharing a failing exit
// cannot be split across inconsistent targets, and that concurrent
// triggers serialize rather than race.
type Worker struct {
	queue chan Event
	done  chan struct{}
}

// NewWorker starts the worker goroutine with the given queue depth.
func NewWorker(queueDepth int) *Worker {
	w := &Worker{queue: make(chan Event, queueDepth), done: make(chan struct{})}
	go w.run()
	return w
}

func (w *Worker) run() {
	for ev := range w.queue {
		if err := ev.Apply(context.Background()); err != nil {
			// Scheduled sweeps have no caller waiting on the result;
			// an error here must still land somewhere visible.
			klog.ErrorS(err, "failover event failed", "group", ev.GroupID, "reason", ev.Reason)
		}
	}
	close(w.done)
}

// Enqueue submits an event for serial processing. It blocks if the
// queue is full, applying natural backpressure.
func (w *Worker) Enqueue(ev Event) {
	w.queue <- ev
}

// Stop closes the queue and waits for the worker to drain it.
func (w *Worker) Stop() {
	close(w.queue)
	<-w.done
}
