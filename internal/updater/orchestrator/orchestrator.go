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

package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync/atomic"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/vmupdater/internal/pkg/metrics"
	"github.com/autopeer-io/vmupdater/internal/updater/gateway"
	"github.com/autopeer-io/vmupdater/internal/updater/progress"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

// Progress is emitted once per processed VM.
type Progress struct {
	VM string
	// Percent is processed*100/total, before clamping.
	Percent int
	Status  status.UpdateStatus
	// Err is set when the gateway failed for this VM. Status is then UpdatesFailed.
	Err error
}

// Orchestrator drives gateway operations over a list of VMs, one VM at a time.
type Orchestrator struct {
	gateway gateway.Gateway
	logger  logr.Logger
	clock   clock.PassiveClock
}

// New returns an Orchestrator. A nil clock means the real clock.
func New(gw gateway.Gateway, logger logr.Logger, clk clock.PassiveClock) *Orchestrator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Orchestrator{
		gateway: gw,
		logger:  logger.WithName("orchestrator"),
		clock:   clk,
	}
}

// CheckAll returns a sequence that checks every VM in order.
func (o *Orchestrator) CheckAll(ctx context.Context, vms []string) iter.Seq[Progress] {
	return o.sequence(ctx, gateway.OpCheck, vms, o.gateway.Check)
}

// ApplyAll returns a sequence that applies updates to every VM in order.
func (o *Orchestrator) ApplyAll(ctx context.Context, vms []string) iter.Seq[Progress] {
	return o.sequence(ctx, gateway.OpApply, vms, o.gateway.Apply)
}

type operation func(ctx context.Context, vm string) (status.UpdateStatus, error)

// sequence is lazy: nothing runs until it is ranged over. It can be consumed
// once; later iterations yield nothing. It stops early when ctx is done or
// the consumer breaks.
func (o *Orchestrator) sequence(ctx context.Context, op gateway.Op, vms []string, call operation) iter.Seq[Progress] {
	vms = slices.Clone(vms)
	var consumed atomic.Bool

	return func(yield func(Progress) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}

		for i, vm := range vms {
			if ctx.Err() != nil {
				o.logger.V(1).Info("Sequence stopped", "op", op, "remaining", len(vms)-i)
				return
			}

			p := o.process(ctx, op, vm, call)
			p.Percent = progress.Percent(i+1, len(vms))
			if !yield(p) {
				return
			}
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, op gateway.Op, vm string, call operation) Progress {
	start := o.clock.Now()
	st, err := call(ctx, vm)
	metrics.VMOperationDuration.WithLabelValues(string(op)).Observe(o.clock.Since(start).Seconds())

	if err == nil && !st.Valid() {
		err = &gateway.OperationError{VM: vm, Op: op, Err: fmt.Errorf("unknown status %d", int(st))}
	}
	if err != nil {
		o.logger.Error(err, "Operation failed, continuing with remaining VMs", "vm", vm, "op", op)
		st = status.UpdatesFailed
	}

	metrics.VMOutcomesTotal.WithLabelValues(string(op), st.String()).Inc()
	return Progress{VM: vm, Status: st, Err: err}
}
