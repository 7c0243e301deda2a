// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/vmupdater/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/vmupdater/internal/pkg/util/fsm"
	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/internal/updater/orchestrator"
	"github.com/autopeer-io/vmupdater/internal/updater/progress"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

var (
	// ErrRunInProgress is returned when a run is started while another is active.
	ErrRunInProgress = errors.New("an update run is already in progress")

	// ErrCheckRequired is returned when an apply is started before a check completed.
	ErrCheckRequired = errors.New("a check run must complete before updates can be applied")

	// ErrNothingToApply is returned when an apply run has no VMs to update.
	ErrNothingToApply = errors.New("no VMs to apply updates to")

	// ErrUnknownVM is returned when a run names a VM outside Config.VMs.
	ErrUnknownVM = errors.New("unknown VM")

	// ErrRunAbandoned is carried by the final message of a cancelled run.
	// Nothing was persisted for such a run.
	ErrRunAbandoned = errors.New("update run abandoned before completion")
)

// Sequencer produces the per-VM progress of a pass.
type Sequencer interface {
	CheckAll(ctx context.Context, vms []string) iter.Seq[orchestrator.Progress]
	ApplyAll(ctx context.Context, vms []string) iter.Seq[orchestrator.Progress]
}

var _ Sequencer = (*orchestrator.Orchestrator)(nil)

// Config holds the collaborators of a Runner.
type Config struct {
	Sequencer Sequencer
	Store     flagstore.Store
	Observers []Observer
	Logger    logr.Logger
	Clock     clock.PassiveClock

	// VMs, when set, are the only names a run may include.
	VMs []string

	// RequireCheck makes StartApply fail with ErrCheckRequired until a check
	// run has completed in this session.
	RequireCheck bool
}

// Runner executes check and apply runs on a worker goroutine and persists
// their aggregate when they complete.
type Runner struct {
	seq      Sequencer
	store    flagstore.Store
	observer Observer
	logger   logr.Logger
	clock    clock.PassiveClock
	known    []string

	mu      sync.Mutex
	session *fsm.FSM
	last    *Message
	pending []string
}

// New returns a Runner in the idle state.
func New(cfg Config) (*Runner, error) {
	if cfg.Sequencer == nil {
		return nil, errors.New("runner requires a sequencer")
	}
	if cfg.Store == nil {
		return nil, errors.New("runner requires a flag store")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Runner{
		seq:      cfg.Sequencer,
		store:    cfg.Store,
		observer: Observers(cfg.Observers),
		logger:   cfg.Logger.WithName("runner"),
		clock:    cfg.Clock,
		known:    slices.Clone(cfg.VMs),
		session:  newSession(cfg.RequireCheck),
	}, nil
}

// StartCheck checks vms on a new goroutine. The returned channel receives
// exactly one Message and is then closed.
func (r *Runner) StartCheck(ctx context.Context, vms []string) (<-chan Message, error) {
	if err := r.transition(ctx, eventCheck, func() error {
		return r.checkKnown(vms)
	}); err != nil {
		return nil, err
	}
	return r.start(ctx, KindCheck, dedupe(vms)), nil
}

// StartApply applies updates to vms on a new goroutine. When vms is empty the
// VMs that needed updates in the last check are used.
func (r *Runner) StartApply(ctx context.Context, vms []string) (<-chan Message, error) {
	if err := r.transition(ctx, eventApply, func() error {
		if len(vms) == 0 {
			vms = r.pending
		}
		if len(vms) == 0 {
			return ErrNothingToApply
		}
		return r.checkKnown(vms)
	}); err != nil {
		return nil, err
	}
	return r.start(ctx, KindApply, dedupe(vms)), nil
}

// State returns the current session state.
func (r *Runner) State() string {
	return r.session.Current()
}

// Last returns the message of the most recently finished run.
func (r *Runner) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Message{}, false
	}
	return *r.last, true
}

// checkKnown rejects names outside the configured VMs.
func (r *Runner) checkKnown(vms []string) error {
	if len(r.known) == 0 {
		return nil
	}
	var unknown []string
	for _, vm := range vms {
		if !slices.Contains(r.known, vm) {
			unknown = append(unknown, vm)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w %q, configured VMs are %v", ErrUnknownVM, unknown, r.known)
	}
	return nil
}

// transition fires event if the session allows it and guard, called under
// the lock, succeeds.
func (r *Runner) transition(ctx context.Context, event string, guard func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.session.Can(event) {
		switch r.session.Current() {
		case StateChecking, StateUpgrading:
			return ErrRunInProgress
		default:
			return ErrCheckRequired
		}
	}
	if guard != nil {
		if err := guard(); err != nil {
			return err
		}
	}
	if err := r.session.Event(context.WithoutCancel(ctx), event); fsmutil.IsRealError(err) {
		return fmt.Errorf("failed to start %s run: %w", event, err)
	}
	return nil
}

func (r *Runner) start(ctx context.Context, kind Kind, vms []string) <-chan Message {
	done := make(chan Message, 1)
	go func() {
		defer close(done)
		msg := r.run(ctx, kind, vms)
		r.finish(ctx, msg)
		done <- msg
	}()
	return done
}

func (r *Runner) run(ctx context.Context, kind Kind, vms []string) Message {
	logger := r.logger.WithValues("kind", kind)
	msg := Message{Kind: kind, StartedAt: r.clock.Now()}

	var tracker progress.Tracker
	seq := r.seq.CheckAll(ctx, vms)
	start := progress.CheckStart
	if kind == KindApply {
		seq = r.seq.ApplyAll(ctx, vms)
		start = progress.ApplyStart
	}

	logger.Info("Run started", "vms", vms)
	r.observer.RunStarted(kind, vms, tracker.Reset(start))

	results := make(status.Results, len(vms))
	for p := range seq {
		results[p.VM] = p.Status
		r.observer.VMFinished(kind, p.VM, tracker.Update(p.Percent), p.Status, p.Err)
	}
	msg.Results = results

	if ctx.Err() != nil || len(results) != len(vms) {
		msg.RecommendedAction = status.Aggregate(results)
		msg.Percent = tracker.Current()
		msg.Err = ErrRunAbandoned
		msg.FinishedAt = r.clock.Now()
		logger.Info("Run abandoned, nothing persisted", "processed", len(results), "total", len(vms))
		return msg
	}

	msg.RecommendedAction = status.Aggregate(results)
	msg.Percent = tracker.Complete()
	msg.Err = r.persist(context.WithoutCancel(ctx), msg.RecommendedAction)
	msg.FinishedAt = r.clock.Now()

	logger.Info("Run finished",
		"recommendedAction", msg.RecommendedAction,
		"needingUpdates", msg.VMsNeedingUpdates(),
		"duration", msg.Duration())
	return msg
}

// persist writes the status flag once and, only for UpdatesOK, the
// last-updated timestamp. The timestamp is skipped when the flag failed.
func (r *Runner) persist(ctx context.Context, agg status.UpdateStatus) error {
	if err := r.store.WriteStatusFlag(ctx, agg); err != nil {
		metrics.PersistenceFailuresTotal.Inc()
		r.logger.Error(err, "Failed to persist status flag", "status", agg)
		return err
	}
	if agg != status.UpdatesOK {
		return nil
	}
	if err := r.store.WriteLastUpdated(ctx); err != nil {
		metrics.PersistenceFailuresTotal.Inc()
		r.logger.Error(err, "Failed to persist last-updated timestamp")
		return err
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, msg Message) {
	result := msg.RecommendedAction.String()
	if errors.Is(msg.Err, ErrRunAbandoned) {
		result = "ABANDONED"
	} else {
		metrics.LastRecommendation.Set(float64(msg.RecommendedAction))
	}
	metrics.RunsTotal.WithLabelValues(string(msg.Kind), result).Inc()

	event := eventApplyDone
	if msg.Kind == KindCheck {
		event = eventCheckDone
		if errors.Is(msg.Err, ErrRunAbandoned) {
			event = eventCheckAbort
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &msg
	if msg.Kind == KindCheck {
		r.pending = msg.VMsNeedingUpdates()
	} else {
		r.pending = nil
	}
	if err := r.session.Event(context.WithoutCancel(ctx), event); fsmutil.IsRealError(err) {
		r.logger.Error(err, "Failed to close session transition", "event", event)
	}

	// The session is closed before observers hear of it; the lock keeps the
	// next run's RunStarted behind this call.
	r.observer.RunFinished(msg)
}

func dedupe(vms []string) []string {
	seen := make(map[string]struct{}, len(vms))
	out := make([]string, 0, len(vms))
	for _, vm := range vms {
		if _, ok := seen[vm]; ok {
			continue
		}
		seen[vm] = struct{}{}
		out = append(out, vm)
	}
	return out
}
