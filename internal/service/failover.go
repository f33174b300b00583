package service

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/audit"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/failover"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// latencyWindow bounds the rolling latency sample set per exit node.
const latencyWindow = 16

// FailoverSrv drives the exit failover controller: health sweeps,
// operator-forced failover, and history reads. All reassignment work
// drains through one sequential worker so two remotes sharing a
// failing exit always land on the same new target.
type FailoverSrv interface {
	// Run starts periodic health sweeps over every exit group and
	// blocks until ctx is cancelled.
	Run(ctx context.Context, defaultInterval, defaultTimeout time.Duration)
	// TriggerCheck enqueues one health-check-and-reassign pass for a
	// group; it returns once the pass has been processed.
	TriggerCheck(ctx context.Context, groupID string) error
	// ForceFailover enqueues an operator-forced reassignment away from
	// fromExitID, regardless of its health state.
	ForceFailover(ctx context.Context, groupID, fromExitID string) error
	History(ctx context.Context, groupID string, limit int) ([]*model.FailoverHistory, error)
}

type failoverSrv struct{ *service }

var _ FailoverSrv = (*failoverSrv)(nil)

// foState is the per-service singleton failover state: one sequential
// worker, one prober, and the in-memory round-robin cursors.
type foState struct {
	once   sync.Once
	worker *failover.Worker
	prober failover.Prober

	mu        sync.Mutex
	rrCounter map[string]int
}

func (f *failoverSrv) state() *foState {
	f.fo.once.Do(func() {
		f.fo.worker = failover.NewWorker(64)
		if f.fo.prober == nil {
			f.fo.prober = failover.NewPingProber()
		}
		f.fo.rrCounter = map[string]int{}
	})
	return &f.fo
}

func (f *failoverSrv) Run(ctx context.Context, defaultInterval, defaultTimeout time.Duration) {
	st := f.state()
	ticker := time.NewTicker(defaultInterval)
	defer ticker.Stop()
	defer st.worker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			groups, err := f.store.ExitGroups().List(ctx)
			if err != nil {
				klog.ErrorS(err, "failed to list exit groups for health sweep")
				continue
			}
			for _, g := range groups {
				timeout := g.HealthCheckTimeout
				if timeout <= 0 {
					timeout = defaultTimeout
				}
				gid := g.ID
				st.worker.Enqueue(failover.Event{
					GroupID: gid,
					Reason:  "health_check_failed",
					Apply: func(ctx context.Context) error {
						return f.evaluateGroup(ctx, gid, "health_check_failed", "", timeout)
					},
				})
			}
		}
	}
}

func (f *failoverSrv) TriggerCheck(ctx context.Context, groupID string) error {
	return f.runSerial(ctx, groupID, "health_check_failed", "")
}

func (f *failoverSrv) ForceFailover(ctx context.Context, groupID, fromExitID string) error {
	return f.runSerial(ctx, groupID, "operator_forced", fromExitID)
}

// runSerial enqueues one event and waits for the sequential worker to
// process it, so CLI-triggered failovers observe their own result.
func (f *failoverSrv) runSerial(ctx context.Context, groupID, reason, forcedFrom string) error {
	st := f.state()
	done := make(chan error, 1)
	st.worker.Enqueue(failover.Event{
		GroupID: groupID,
		Reason:  reason,
		Apply: func(workerCtx context.Context) error {
			err := f.evaluateGroup(ctx, groupID, reason, forcedFrom, 5*time.Second)
			done <- err
			return err
		},
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evaluateGroup is one reassignment event: probe members, apply the circuit
// breaker, choose a target, and reassign every affected remote inside
// one writer transaction. Afterwards each affected remote's config is
// regenerated; the rendered text is not deployed or written anywhere.
func (f *failoverSrv) evaluateGroup(ctx context.Context, groupID, reason, forcedFrom string, timeout time.Duration) error {
	g, err := f.store.ExitGroups().Get(ctx, groupID)
	if err != nil {
		return errors.WithCode(code.ErrFailoverGroupNotFound, "exit group %s: %s", groupID, err.Error())
	}
	memberRows, err := f.store.ExitGroups().Members(ctx, groupID)
	if err != nil {
		return err
	}

	// Probing is network I/O: do it before, never inside, the transaction.
	type probeResult struct {
		exitID  string
		success bool
		latency float64
		reason  string
	}
	results := make([]probeResult, 0, len(memberRows))
	for _, m := range memberRows {
		if !m.Enabled {
			continue
		}
		e, err := f.store.ExitNodes().Get(ctx, m.ExitNodeID)
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		lat, perr := f.state().prober.Probe(pctx, e.PublicEndpoint)
		cancel()
		pr := probeResult{exitID: m.ExitNodeID, success: perr == nil, latency: lat}
		if perr != nil {
			pr.reason = perr.Error()
		}
		results = append(results, pr)
	}

	st := f.state()
	st.mu.Lock()
	rr := st.rrCounter[groupID]
	st.rrCounter[groupID] = rr + 1
	st.mu.Unlock()

	var affected []string
	err = f.mutate(ctx, audit.EntryInput{
		EventType: model.EventFailover,
		Category:  "failover",
		Severity:  "warning",
		EntityID:  groupID,
		Details:   map[string]string{"group": g.Name, "reason": reason},
	}, func(ctx context.Context) error {
		now := time.Now().UTC()

		// Recompute health under the lock the writer provides.
		healthByExit := map[string]*model.ExitHealth{}
		for _, pr := range results {
			h, err := f.store.ExitNodes().GetHealth(ctx, pr.exitID)
			if err != nil {
				h = &model.ExitHealth{ExitNodeID: pr.exitID, State: model.HealthHealthy}
			}
			if pr.success {
				h.ConsecutiveFailures = 0
				h.ConsecutiveSuccesses++
				h.LastSuccessAt = &now
				lat := pr.latency
				h.LatencyMS = &lat
				h.RecentLatenciesMS = append(h.RecentLatenciesMS, lat)
				if len(h.RecentLatenciesMS) > latencyWindow {
					h.RecentLatenciesMS = h.RecentLatenciesMS[len(h.RecentLatenciesMS)-latencyWindow:]
				}
				h.FailureReason = ""
			} else {
				h.ConsecutiveSuccesses = 0
				h.ConsecutiveFailures++
				h.LastFailureAt = &now
				h.FailureReason = pr.reason
			}
			h.State = failover.NextHealthState(h.State, pr.success, h.ConsecutiveFailures, h.ConsecutiveSuccesses)
			h.LastCheckAt = &now
			if err := f.store.ExitNodes().UpsertHealth(ctx, h); err != nil {
				return err
			}
			healthByExit[pr.exitID] = h
		}

		members := make([]failover.Member, 0, len(memberRows))
		for _, m := range memberRows {
			fm := failover.Member{
				ExitNodeID:         m.ExitNodeID,
				StaticPriority:     m.StaticPriority,
				PriorityAdjustment: m.PriorityAdjustment,
				Weight:             m.Weight,
				Enabled:            m.Enabled,
				Health:             model.HealthHealthy,
			}
			if h, ok := healthByExit[m.ExitNodeID]; ok {
				fm.Health = h.State
				fm.LatencyMS = h.RecentLatenciesMS
			} else if h, err := f.store.ExitNodes().GetHealth(ctx, m.ExitNodeID); err == nil {
				fm.Health = h.State
				fm.LatencyMS = h.RecentLatenciesMS
			}
			if forcedFrom != "" && m.ExitNodeID == forcedFrom {
				// An operator-forced failover treats the source as
				// ineligible for this decision.
				fm.Health = model.HealthFailed
			}
			members = append(members, fm)
		}

		decision := failover.Decide(groupID, g.Strategy, members, rr, reason)

		failed := map[string]bool{}
		for _, m := range members {
			if m.Health == model.HealthFailed {
				failed[m.ExitNodeID] = true
			}
		}

		remotes, err := f.store.Remotes().ListByExitGroup(ctx, groupID)
		if err != nil {
			return err
		}
		for _, r := range remotes {
			current := ""
			if r.ActiveExitID != nil {
				current = *r.ActiveExitID
			}
			// Manual failback only: a healthy assignment stays put.
			if current != "" && !failed[current] && current != forcedFrom {
				continue
			}
			if current == decision.ChosenExitID {
				continue
			}

			hist := &model.FailoverHistory{
				RemoteID:      r.ID,
				GroupID:       groupID,
				TriggerReason: decision.TriggerReason,
				Timestamp:     now,
			}
			if current != "" {
				from := current
				hist.FromExitID = &from
			}
			if decision.ChosenExitID == "" {
				hist.TriggerReason = "no_healthy_member"
				hist.Success = false
				r.ActiveExitID = nil
			} else {
				hist.ToExitID = decision.ChosenExitID
				hist.Success = true
				chosen := decision.ChosenExitID
				r.ActiveExitID = &chosen
			}
			if err := f.store.Remotes().Update(ctx, r); err != nil {
				return err
			}
			if err := f.store.ExitGroups().AppendFailoverHistory(ctx, hist); err != nil {
				return err
			}
			affected = append(affected, r.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Fire-and-report: regeneration failures log but never undo the
	// database assignment. No deployment is started from here.
	for _, remoteID := range affected {
		if _, err := f.Generator().RemoteConf(ctx, remoteID); err != nil {
			klog.ErrorS(err, "post-failover regeneration failed", "remote", remoteID)
		}
	}
	if len(affected) > 0 {
		klog.V(1).InfoS("failover reassigned remotes", "group", g.Name, "count", len(affected))
	}
	return nil
}

func (f *failoverSrv) History(ctx context.Context, groupID string, limit int) ([]*model.FailoverHistory, error) {
	return f.store.ExitGroups().FailoverHistory(ctx, groupID, limit)
}
