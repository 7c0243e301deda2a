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

package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/internal/updater/orchestrator"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
	"github.com/autopeer-io/vmupdater/pkg/options"
)

type fakeEngine struct {
	state    string
	startErr error
	last     *runner.Message
	applied  []string
}

func (f *fakeEngine) StartCheck(context.Context, []string) (<-chan runner.Message, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.state = runner.StateChecking
	return make(chan runner.Message, 1), nil
}

func (f *fakeEngine) StartApply(_ context.Context, vms []string) (<-chan runner.Message, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.applied = vms
	f.state = runner.StateUpgrading
	return make(chan runner.Message, 1), nil
}

func (f *fakeEngine) State() string { return f.state }

func (f *fakeEngine) Last() (runner.Message, bool) {
	if f.last == nil {
		return runner.Message{}, false
	}
	return *f.last, true
}

type fakeFlags struct {
	flag *flagstore.Flag
}

func (f *fakeFlags) ReadStatusFlag() (flagstore.Flag, error) {
	if f.flag == nil {
		return flagstore.Flag{}, os.ErrNotExist
	}
	return *f.flag, nil
}

func (f *fakeFlags) ReadLastUpdated() (time.Time, error) {
	return time.Time{}, os.ErrNotExist
}

func serve(t *testing.T, engine Engine, flags FlagReader, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(options.NewHttpOptions(), engine, flags, []string{"dom0", "fedora-30"})
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRunEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		startErr error
		wantCode int
	}{
		{"check accepted", http.MethodPost, "/api/v1/check", "", nil, http.StatusAccepted},
		{"check busy", http.MethodPost, "/api/v1/check", "", runner.ErrRunInProgress, http.StatusConflict},
		{"apply accepted", http.MethodPost, "/api/v1/apply", `{"vms":["fedora-30"]}`, nil, http.StatusAccepted},
		{"apply empty body", http.MethodPost, "/api/v1/apply", "", nil, http.StatusAccepted},
		{"apply before check", http.MethodPost, "/api/v1/apply", "", runner.ErrCheckRequired, http.StatusConflict},
		{"apply nothing", http.MethodPost, "/api/v1/apply", "", runner.ErrNothingToApply, http.StatusUnprocessableEntity},
		{"apply unknown VM", http.MethodPost, "/api/v1/apply", `{"vms":["ghost"]}`, fmt.Errorf("%w %q", runner.ErrUnknownVM, "ghost"), http.StatusUnprocessableEntity},
		{"apply malformed", http.MethodPost, "/api/v1/apply", "{", nil, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/api/v1/check", "", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{state: runner.StateIdle, startErr: tt.startErr}
			rec := serve(t, engine, &fakeFlags{}, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestApplyPassesVMs(t *testing.T) {
	engine := &fakeEngine{state: runner.StateChecked}
	serve(t, engine, &fakeFlags{}, http.MethodPost, "/api/v1/apply", `{"vms":["fedora-30"]}`)
	if len(engine.applied) != 1 || engine.applied[0] != "fedora-30" {
		t.Errorf("applied = %v", engine.applied)
	}
}

func TestGetStatus(t *testing.T) {
	engine := &fakeEngine{
		state: runner.StateChecked,
		last: &runner.Message{
			Kind:              runner.KindCheck,
			Results:           status.Results{"dom0": status.UpdatesOK, "fedora-30": status.UpdatesRequired},
			RecommendedAction: status.UpdatesRequired,
		},
	}
	flags := &fakeFlags{flag: &flagstore.Flag{LastStatusUpdate: "2024-03-14 09:26:53", Status: "1"}}

	rec := serve(t, engine, flags, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["state"] != runner.StateChecked {
		t.Errorf("state = %v", got["state"])
	}
	persisted, _ := got["persisted"].(map[string]any)
	if persisted["status"] != "1" {
		t.Errorf("persisted = %v", got["persisted"])
	}
	lastRun, _ := got["lastRun"].(map[string]any)
	if lastRun["recommendedAction"] != "UPDATES_REQUIRED" || lastRun["followUp"] != "apply" {
		t.Errorf("lastRun = %v", lastRun)
	}
	if needing, _ := lastRun["needingUpdates"].([]any); len(needing) != 1 || needing[0] != "fedora-30" {
		t.Errorf("needingUpdates = %v", lastRun["needingUpdates"])
	}
}

func TestProbesAndMetrics(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := serve(t, &fakeEngine{}, &fakeFlags{}, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

// upToDate reports every VM as current.
type upToDate struct{}

func (upToDate) Check(context.Context, string) (status.UpdateStatus, error) {
	return status.UpdatesOK, nil
}

func (upToDate) Apply(context.Context, string) (status.UpdateStatus, error) {
	return status.UpdatesOK, nil
}

func TestApplyRejectsUnconfiguredVMs(t *testing.T) {
	vms := []string{"dom0", "fedora-30"}
	store, err := flagstore.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := runner.New(runner.Config{
		Sequencer:    orchestrator.New(upToDate{}, logr.Discard(), nil),
		Store:        store,
		Logger:       logr.Discard(),
		VMs:          vms,
		RequireCheck: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	ch, err := r.StartCheck(context.Background(), vms)
	if err != nil {
		t.Fatal(err)
	}
	<-ch
	before, err := store.ReadStatusFlag()
	if err != nil || before.Status != "0" {
		t.Fatalf("flag after check = %+v, %v", before, err)
	}

	tests := []struct {
		name string
		body string
	}{
		{"unknown VM", `{"vms":["no-such-vm"]}`},
		{"known and unknown", `{"vms":["dom0","no-such-vm"]}`},
		{"duplicated unknown", `{"vms":["no-such-vm","no-such-vm"]}`},
		{"empty name", `{"vms":[""]}`},
		{"nothing pending", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, r, store, http.MethodPost, "/api/v1/apply", tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422: %s", rec.Code, rec.Body.String())
			}
			if r.State() != runner.StateChecked {
				t.Errorf("state = %s, want checked", r.State())
			}
			after, err := store.ReadStatusFlag()
			if err != nil || after != before {
				t.Errorf("flag changed from %+v to %+v (%v)", before, after, err)
			}
		})
	}

	rec := serve(t, r, store, http.MethodPost, "/api/v1/apply", `{"vms":["fedora-30"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("configured VM: status = %d: %s", rec.Code, rec.Body.String())
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if last, ok := r.Last(); ok && last.Kind == runner.KindApply {
			if last.RecommendedAction != status.UpdatesOK || last.Err != nil {
				t.Errorf("apply result = %+v", last)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("apply run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
