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
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/vmupdater/internal/pkg/metrics"
	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/internal/updater/orchestrator"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

type outcome struct {
	status status.UpdateStatus
	err    error
}

// fakeGateway answers from fixed tables. When gate is set every call waits
// for a value on it first.
type fakeGateway struct {
	check map[string]outcome
	apply map[string]outcome
	gate  chan struct{}
}

func (f *fakeGateway) Check(ctx context.Context, vm string) (status.UpdateStatus, error) {
	f.wait(ctx)
	o := f.check[vm]
	return o.status, o.err
}

func (f *fakeGateway) Apply(ctx context.Context, vm string) (status.UpdateStatus, error) {
	f.wait(ctx)
	o := f.apply[vm]
	return o.status, o.err
}

func (f *fakeGateway) wait(ctx context.Context) {
	if f.gate == nil {
		return
	}
	select {
	case <-f.gate:
	case <-ctx.Done():
	}
}

type fakeStore struct {
	mu          sync.Mutex
	flags       []status.UpdateStatus
	lastUpdated int
	flagErr     error
}

func (f *fakeStore) WriteStatusFlag(_ context.Context, s status.UpdateStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flagErr != nil {
		return f.flagErr
	}
	f.flags = append(f.flags, s)
	return nil
}

func (f *fakeStore) WriteLastUpdated(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdated++
	return nil
}

type recordingObserver struct {
	started  []int
	vms      []string
	percents []int
	finished []Message
}

func (o *recordingObserver) RunStarted(_ Kind, _ []string, percent int) {
	o.started = append(o.started, percent)
}

func (o *recordingObserver) VMFinished(_ Kind, vm string, percent int, _ status.UpdateStatus, _ error) {
	o.vms = append(o.vms, vm)
	o.percents = append(o.percents, percent)
}

func (o *recordingObserver) RunFinished(msg Message) {
	o.finished = append(o.finished, msg)
}

var testNow = time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestRunner(t *testing.T, gw *fakeGateway, store flagstore.Store, requireCheck bool) (*Runner, *recordingObserver) {
	t.Helper()
	clk := clocktesting.NewFakePassiveClock(testNow)
	obs := &recordingObserver{}
	r, err := New(Config{
		Sequencer:    orchestrator.New(gw, logr.Discard(), clk),
		Store:        store,
		Observers:    []Observer{obs},
		Logger:       logr.Discard(),
		Clock:        clk,
		RequireCheck: requireCheck,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, obs
}

func await(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without a message")
		}
		if _, more := <-ch; more {
			t.Fatal("more than one message delivered")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the run")
	}
	return Message{}
}

func TestCheckRun(t *testing.T) {
	unreachable := errors.New("domain c is not running")

	tests := []struct {
		name            string
		check           map[string]outcome
		wantAction      status.UpdateStatus
		wantFlags       []status.UpdateStatus
		wantLastUpdated int
		wantNeeding     []string
		wantFollowUp    FollowUp
	}{
		{
			name: "one vm requires updates",
			check: map[string]outcome{
				"a": {status: status.UpdatesOK},
				"b": {status: status.UpdatesRequired},
				"c": {status: status.UpdatesOK},
			},
			wantAction:   status.UpdatesRequired,
			wantFlags:    []status.UpdateStatus{status.UpdatesRequired},
			wantNeeding:  []string{"b"},
			wantFollowUp: FollowUpApply,
		},
		{
			name: "all current",
			check: map[string]outcome{
				"a": {status: status.UpdatesOK},
				"b": {status: status.UpdatesOK},
				"c": {status: status.UpdatesOK},
			},
			wantAction:      status.UpdatesOK,
			wantFlags:       []status.UpdateStatus{status.UpdatesOK},
			wantLastUpdated: 1,
			wantFollowUp:    FollowUpLaunch,
		},
		{
			name: "failure mid run",
			check: map[string]outcome{
				"a": {status: status.UpdatesOK},
				"b": {status: status.UpdatesRequired},
				"c": {err: unreachable},
			},
			wantAction:   status.UpdatesFailed,
			wantFlags:    []status.UpdateStatus{status.UpdatesFailed},
			wantNeeding:  []string{"b"},
			wantFollowUp: FollowUpNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			r, obs := newTestRunner(t, &fakeGateway{check: tt.check}, store, true)

			ch, err := r.StartCheck(context.Background(), []string{"a", "b", "c"})
			if err != nil {
				t.Fatalf("StartCheck: %v", err)
			}
			msg := await(t, ch)

			if msg.Err != nil {
				t.Fatalf("unexpected error %v", msg.Err)
			}
			if msg.RecommendedAction != tt.wantAction {
				t.Errorf("recommended = %s, want %s", msg.RecommendedAction, tt.wantAction)
			}
			if len(msg.Results) != 3 {
				t.Errorf("results = %v", msg.Results)
			}
			if !reflect.DeepEqual(store.flags, tt.wantFlags) {
				t.Errorf("status flag writes = %v, want %v", store.flags, tt.wantFlags)
			}
			if store.lastUpdated != tt.wantLastUpdated {
				t.Errorf("last-updated writes = %d, want %d", store.lastUpdated, tt.wantLastUpdated)
			}
			if got := msg.VMsNeedingUpdates(); !reflect.DeepEqual(got, tt.wantNeeding) && len(got)+len(tt.wantNeeding) > 0 {
				t.Errorf("needing updates = %v, want %v", got, tt.wantNeeding)
			}
			if msg.FollowUp() != tt.wantFollowUp {
				t.Errorf("follow-up = %s, want %s", msg.FollowUp(), tt.wantFollowUp)
			}
			if !reflect.DeepEqual(obs.vms, []string{"a", "b", "c"}) {
				t.Errorf("observed order = %v", obs.vms)
			}
			if !reflect.DeepEqual(obs.started, []int{1}) || !reflect.DeepEqual(obs.percents, []int{33, 66, 100}) {
				t.Errorf("observed progress start=%v items=%v", obs.started, obs.percents)
			}
			if len(obs.finished) != 1 {
				t.Errorf("RunFinished called %d times", len(obs.finished))
			}
			if r.State() != StateChecked {
				t.Errorf("state = %s, want %s", r.State(), StateChecked)
			}
		})
	}
}

func TestApplyAfterCheck(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{
		check: map[string]outcome{"a": {status: status.UpdatesOK}, "b": {status: status.UpdatesRequired}},
		apply: map[string]outcome{"b": {status: status.RebootRequired}},
	}
	r, obs := newTestRunner(t, gw, store, true)

	if _, err := r.StartApply(context.Background(), []string{"b"}); !errors.Is(err, ErrCheckRequired) {
		t.Fatalf("apply before check: err = %v, want ErrCheckRequired", err)
	}

	ch, err := r.StartCheck(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	await(t, ch)

	ch, err = r.StartApply(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartApply: %v", err)
	}
	msg := await(t, ch)

	if msg.Kind != KindApply || msg.RecommendedAction != status.RebootRequired {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !reflect.DeepEqual(msg.Results, status.Results{"b": status.RebootRequired}) {
		t.Errorf("results = %v", msg.Results)
	}
	if msg.FollowUp() != FollowUpReboot {
		t.Errorf("follow-up = %s", msg.FollowUp())
	}
	if !reflect.DeepEqual(store.flags, []status.UpdateStatus{status.UpdatesRequired, status.RebootRequired}) {
		t.Errorf("status flag writes = %v", store.flags)
	}
	if store.lastUpdated != 0 {
		t.Errorf("last-updated written %d times, want 0", store.lastUpdated)
	}
	if !reflect.DeepEqual(obs.started, []int{1, 5}) {
		t.Errorf("start percents = %v", obs.started)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %s, want idle", r.State())
	}
	if last, ok := r.Last(); !ok || last.Kind != KindApply {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestApplyWithoutCheckGate(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{apply: map[string]outcome{"b": {status: status.UpdatesOK}}}
	r, _ := newTestRunner(t, gw, store, false)

	ch, err := r.StartApply(context.Background(), []string{"b", "b"})
	if err != nil {
		t.Fatalf("StartApply: %v", err)
	}
	msg := await(t, ch)
	if msg.RecommendedAction != status.UpdatesOK || len(msg.Results) != 1 {
		t.Errorf("unexpected message %+v", msg)
	}
	if store.lastUpdated != 1 {
		t.Errorf("last-updated written %d times, want 1", store.lastUpdated)
	}
}

func TestNothingToApply(t *testing.T) {
	gw := &fakeGateway{check: map[string]outcome{"a": {status: status.UpdatesOK}}}
	r, _ := newTestRunner(t, gw, &fakeStore{}, true)

	ch, _ := r.StartCheck(context.Background(), []string{"a"})
	await(t, ch)

	if _, err := r.StartApply(context.Background(), nil); !errors.Is(err, ErrNothingToApply) {
		t.Errorf("err = %v, want ErrNothingToApply", err)
	}
	if r.State() != StateChecked {
		t.Errorf("state = %s, want checked", r.State())
	}
}

func TestOneRunAtATime(t *testing.T) {
	gw := &fakeGateway{
		check: map[string]outcome{"a": {status: status.UpdatesOK}},
		gate:  make(chan struct{}),
	}
	r, _ := newTestRunner(t, gw, &fakeStore{}, true)

	ch, err := r.StartCheck(context.Background(), []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if r.State() != StateChecking {
		t.Errorf("state = %s, want checking", r.State())
	}
	if testutil.ToFloat64(metrics.RunInProgress) != 1 {
		t.Error("run-in-progress gauge not set")
	}
	if _, err := r.StartCheck(context.Background(), []string{"a"}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second check: err = %v, want ErrRunInProgress", err)
	}
	if _, err := r.StartApply(context.Background(), []string{"a"}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("apply during check: err = %v, want ErrRunInProgress", err)
	}

	gw.gate <- struct{}{}
	await(t, ch)

	if testutil.ToFloat64(metrics.RunInProgress) != 0 {
		t.Error("run-in-progress gauge not cleared")
	}
}

func TestCancelledRunWritesNothing(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{
		check: map[string]outcome{"a": {status: status.UpdatesOK}, "b": {status: status.UpdatesOK}},
		gate:  make(chan struct{}),
	}
	r, obs := newTestRunner(t, gw, store, true)
	before := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(string(KindCheck), "ABANDONED"))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.StartCheck(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	gw.gate <- struct{}{}
	cancel()
	msg := await(t, ch)

	if !errors.Is(msg.Err, ErrRunAbandoned) {
		t.Fatalf("err = %v, want ErrRunAbandoned", msg.Err)
	}
	if len(store.flags) != 0 || store.lastUpdated != 0 {
		t.Errorf("abandoned run persisted flags=%v lastUpdated=%d", store.flags, store.lastUpdated)
	}
	if len(obs.finished) != 1 {
		t.Errorf("RunFinished called %d times", len(obs.finished))
	}
	if msg.Percent < 1 || msg.Percent >= 100 {
		t.Errorf("abandoned run percent = %d, want the last shown value", msg.Percent)
	}
	if r.State() != StateIdle {
		t.Errorf("state = %s, want idle", r.State())
	}
	after := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(string(KindCheck), "ABANDONED"))
	if after != before+1 {
		t.Errorf("abandoned counter = %v, want %v", after, before+1)
	}
}

func TestPersistenceFailureIsReported(t *testing.T) {
	denied := &flagstore.PersistenceError{Key: flagstore.StatusKey, Backend: "file", Err: errors.New("read-only file system")}
	store := &fakeStore{flagErr: denied}
	gw := &fakeGateway{check: map[string]outcome{"a": {status: status.UpdatesOK}}}
	r, _ := newTestRunner(t, gw, store, true)

	ch, _ := r.StartCheck(context.Background(), []string{"a"})
	msg := await(t, ch)

	var perr *flagstore.PersistenceError
	if !errors.As(msg.Err, &perr) {
		t.Fatalf("err = %v, want PersistenceError", msg.Err)
	}
	if msg.RecommendedAction != status.UpdatesOK {
		t.Errorf("aggregate must still be reported, got %s", msg.RecommendedAction)
	}
	if store.lastUpdated != 0 {
		t.Errorf("timestamp written after a failed flag write")
	}
	if msg.FollowUp() != FollowUpNone {
		t.Errorf("follow-up = %s", msg.FollowUp())
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Store: &fakeStore{}}); err == nil {
		t.Error("missing sequencer accepted")
	}
	if _, err := New(Config{Sequencer: orchestrator.New(&fakeGateway{}, logr.Discard(), nil)}); err == nil {
		t.Error("missing store accepted")
	}
}

func TestUnknownVMsRejected(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{check: map[string]outcome{"a": {status: status.UpdatesRequired}}}
	clk := clocktesting.NewFakePassiveClock(testNow)
	r, err := New(Config{
		Sequencer:    orchestrator.New(gw, logr.Discard(), clk),
		Store:        store,
		Logger:       logr.Discard(),
		Clock:        clk,
		VMs:          []string{"a"},
		RequireCheck: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.StartCheck(context.Background(), []string{"a", "ghost"}); !errors.Is(err, ErrUnknownVM) {
		t.Fatalf("check with unknown VM: err = %v, want ErrUnknownVM", err)
	}
	if r.State() != StateIdle {
		t.Errorf("state after rejected check = %s, want idle", r.State())
	}

	ch, err := r.StartCheck(context.Background(), []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	await(t, ch)

	tests := []struct {
		name string
		vms  []string
	}{
		{"unknown only", []string{"ghost"}},
		{"known and unknown", []string{"a", "ghost"}},
		{"empty name", []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.StartApply(context.Background(), tt.vms); !errors.Is(err, ErrUnknownVM) {
				t.Fatalf("err = %v, want ErrUnknownVM", err)
			}
			if r.State() != StateChecked {
				t.Errorf("state = %s, want checked", r.State())
			}
		})
	}

	if !reflect.DeepEqual(store.flags, []status.UpdateStatus{status.UpdatesRequired}) {
		t.Errorf("status flag writes = %v, want only the check result", store.flags)
	}
}

// stateObserver records the session state seen when a run finishes.
type stateObserver struct {
	runner *Runner
	states []string
	msgs   []Message
}

func (o *stateObserver) RunStarted(Kind, []string, int)                           {}
func (o *stateObserver) VMFinished(Kind, string, int, status.UpdateStatus, error) {}

func (o *stateObserver) RunFinished(msg Message) {
	o.states = append(o.states, o.runner.State())
	o.msgs = append(o.msgs, msg)
}

func TestRunFinishedAfterSessionCloses(t *testing.T) {
	gw := &fakeGateway{
		check: map[string]outcome{"a": {status: status.UpdatesRequired}, "b": {status: status.UpdatesOK}},
		apply: map[string]outcome{"a": {status: status.UpdatesOK}},
	}
	clk := clocktesting.NewFakePassiveClock(testNow)
	obs := &stateObserver{}
	r, err := New(Config{
		Sequencer:    orchestrator.New(gw, logr.Discard(), clk),
		Store:        &fakeStore{},
		Observers:    []Observer{obs},
		Logger:       logr.Discard(),
		Clock:        clk,
		RequireCheck: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	obs.runner = r

	ch, err := r.StartCheck(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	await(t, ch)
	ch, err = r.StartApply(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	await(t, ch)

	if !reflect.DeepEqual(obs.states, []string{StateChecked, StateIdle}) {
		t.Errorf("states seen by RunFinished = %v, want [checked idle]", obs.states)
	}
	for _, msg := range obs.msgs {
		if msg.Percent != 100 {
			t.Errorf("%s run finished at %d%%, want 100", msg.Kind, msg.Percent)
		}
	}
}
