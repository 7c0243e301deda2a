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

package gateway

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

type scriptedResult struct {
	out  string
	code int
	err  error
}

// testExecuter replays results in order and records every command it was given.
type testExecuter struct {
	results []scriptedResult
	calls   [][]string
}

func (fake *testExecuter) Run(_ context.Context, argv []string) ([]byte, int, error) {
	fake.calls = append(fake.calls, argv)
	if len(fake.results) == 0 {
		return nil, 0, nil
	}
	r := fake.results[0]
	fake.results = fake.results[1:]
	return []byte(r.out), r.code, r.err
}

func testQubes(t *testing.T, vms []VM, results ...scriptedResult) (*Qubes, *testExecuter) {
	t.Helper()
	fake := &testExecuter{results: results}
	q, err := NewQubes(fake, vms)
	if err != nil {
		t.Fatalf("NewQubes: %v", err)
	}
	return q, fake
}

func TestQubesCheck(t *testing.T) {
	vms := []VM{
		{Name: "dom0", Kind: KindDom0},
		{Name: "fedora-30", Kind: KindFedora},
		{Name: "sd-app", Kind: KindDebian},
	}

	tests := []struct {
		name    string
		vm      string
		result  scriptedResult
		want    status.UpdateStatus
		wantErr bool
	}{
		{"dom0 current", "dom0", scriptedResult{code: 0}, status.UpdatesOK, false},
		{"dom0 updates", "dom0", scriptedResult{code: 100}, status.UpdatesRequired, false},
		{"fedora error", "fedora-30", scriptedResult{code: 1, out: "Error: failed to download metadata"}, status.UpdatesFailed, true},
		{"debian current", "sd-app", scriptedResult{out: "Listing... Done"}, status.UpdatesOK, false},
		{"debian updates", "sd-app", scriptedResult{out: "Listing...\nlibc6/stable 2.28-10+deb10u2 amd64 [upgradable from: 2.28-10]"}, status.UpdatesRequired, false},
		{"debian unreachable", "sd-app", scriptedResult{err: errors.New("qrexec: connection refused")}, status.UpdatesFailed, true},
		{"unknown vm", "sd-unknown", scriptedResult{}, status.UpdatesFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := testQubes(t, vms, tt.result)
			got, err := q.Check(context.Background(), tt.vm)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Check = %s, want %s", got, tt.want)
			}

			var opErr *OperationError
			if err != nil && !errors.As(err, &opErr) {
				t.Errorf("error %v is not an OperationError", err)
			}
		})
	}
}

func TestQubesCommandExpansion(t *testing.T) {
	q, fake := testQubes(t, []VM{{Name: "sd-app", Kind: KindDebian}})

	if _, err := q.Apply(context.Background(), "sd-app"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []string{"sudo", "qubesctl", "--skip-dom0", "--targets", "sd-app", "state.sls", "update.qubes-vm"}
	if !reflect.DeepEqual(fake.calls[0], want) {
		t.Errorf("command = %v, want %v", fake.calls[0], want)
	}
}

func TestQubesApply(t *testing.T) {
	vms := []VM{{Name: "dom0", Kind: KindDom0}, {Name: "sd-app", Kind: KindDebian}}

	tests := []struct {
		name    string
		vm      string
		result  scriptedResult
		want    status.UpdateStatus
		wantErr bool
	}{
		{"dom0 needs reboot", "dom0", scriptedResult{}, status.RebootRequired, false},
		{"template ok", "sd-app", scriptedResult{}, status.UpdatesOK, false},
		{"template salt failure", "sd-app", scriptedResult{code: 20, out: "Result: False"}, status.UpdatesFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := testQubes(t, vms, tt.result)
			got, err := q.Apply(context.Background(), tt.vm)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Apply = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewQubesRejectsInvalidVMs(t *testing.T) {
	tests := []struct {
		name string
		vms  []VM
	}{
		{"missing name", []VM{{Kind: KindDebian}}},
		{"unknown kind", []VM{{Name: "x", Kind: "arch"}}},
		{"duplicate", []VM{{Name: "x", Kind: KindDebian}, {Name: "x", Kind: KindFedora}}},
		{"no kind no commands", []VM{{Name: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewQubes(&testExecuter{}, tt.vms); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestWithApplyRetries(t *testing.T) {
	fake := &testExecuter{results: []scriptedResult{
		{code: 1, out: "lock held"},
		{code: 1, out: "lock held"},
		{code: 0},
	}}
	q, err := NewQubes(fake, []VM{{Name: "sd-app", Kind: KindDebian}})
	if err != nil {
		t.Fatalf("NewQubes: %v", err)
	}

	g := WithApplyRetries(q, RetryPolicy{Retries: 2, Backoff: time.Millisecond}, logr.Discard())
	got, err := g.Apply(context.Background(), "sd-app")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != status.UpdatesOK {
		t.Errorf("Apply = %s, want %s", got, status.UpdatesOK)
	}
	if len(fake.calls) != 3 {
		t.Errorf("attempts = %d, want 3", len(fake.calls))
	}
}

func TestWithApplyRetriesExhausted(t *testing.T) {
	fake := &testExecuter{results: []scriptedResult{{code: 1}, {code: 1}}}
	q, _ := NewQubes(fake, []VM{{Name: "sd-app", Kind: KindDebian}})

	g := WithApplyRetries(q, RetryPolicy{Retries: 1, Backoff: time.Millisecond}, logr.Discard())
	got, err := g.Apply(context.Background(), "sd-app")
	if err == nil {
		t.Fatal("expected the last failure to be returned")
	}
	if got != status.UpdatesFailed {
		t.Errorf("Apply = %s, want %s", got, status.UpdatesFailed)
	}

	// Checks are not retried.
	fake.results = []scriptedResult{{code: 1}}
	fake.calls = nil
	if _, err := g.Check(context.Background(), "sd-app"); err == nil {
		t.Fatal("expected check failure")
	}
	if len(fake.calls) != 1 {
		t.Errorf("check attempts = %d, want 1", len(fake.calls))
	}
}

func TestWithApplyRetriesDisabled(t *testing.T) {
	q, _ := NewQubes(&testExecuter{}, []VM{{Name: "sd-app", Kind: KindDebian}})
	if g := WithApplyRetries(q, RetryPolicy{}, logr.Discard()); g != Gateway(q) {
		t.Errorf("zero policy should return the gateway unchanged")
	}
}
