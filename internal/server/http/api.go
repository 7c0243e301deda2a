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
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
	"github.com/autopeer-io/vmupdater/pkg/log"
)

// Engine is the run gate served by the API.
type Engine interface {
	StartCheck(ctx context.Context, vms []string) (<-chan runner.Message, error)
	StartApply(ctx context.Context, vms []string) (<-chan runner.Message, error)
	State() string
	Last() (runner.Message, bool)
}

// FlagReader reads back the persisted records.
type FlagReader interface {
	ReadStatusFlag() (flagstore.Flag, error)
	ReadLastUpdated() (time.Time, error)
}

var (
	_ Engine     = (*runner.Runner)(nil)
	_ FlagReader = (*flagstore.FileStore)(nil)
)

type api struct {
	engine Engine
	flags  FlagReader
	vms    []string
	ctx    context.Context
}

// RunView is the JSON form of a finished run.
type RunView struct {
	Kind              runner.Kind     `json:"kind"`
	Results           status.Results  `json:"results"`
	RecommendedAction string          `json:"recommendedAction"`
	Percent           int             `json:"percent"`
	FollowUp          runner.FollowUp `json:"followUp"`
	NeedingUpdates    []string        `json:"needingUpdates,omitempty"`
	StartedAt         time.Time       `json:"startedAt"`
	FinishedAt        time.Time       `json:"finishedAt"`
	Error             string          `json:"error,omitempty"`
}

// StatusView is returned by GET /api/v1/status.
type StatusView struct {
	State       string          `json:"state"`
	VMs         []string        `json:"vms"`
	Persisted   *flagstore.Flag `json:"persisted,omitempty"`
	LastUpdated string          `json:"lastUpdated,omitempty"`
	LastRun     *RunView        `json:"lastRun,omitempty"`
}

type applyRequest struct {
	VMs []string `json:"vms"`
}

type errorView struct {
	Error string `json:"error"`
}

func newRunView(msg runner.Message) *RunView {
	v := &RunView{
		Kind:              msg.Kind,
		Results:           msg.Results,
		RecommendedAction: msg.RecommendedAction.String(),
		Percent:           msg.Percent,
		FollowUp:          msg.FollowUp(),
		NeedingUpdates:    msg.VMsNeedingUpdates(),
		StartedAt:         msg.StartedAt,
		FinishedAt:        msg.FinishedAt,
	}
	if msg.Err != nil {
		v.Error = msg.Err.Error()
	}
	return v
}

func (a *api) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := a.flags.ReadStatusFlag(); err != nil && !errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusServiceUnavailable, errorView{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) getStatus(w http.ResponseWriter, _ *http.Request) {
	view := StatusView{State: a.engine.State(), VMs: a.vms}

	if flag, err := a.flags.ReadStatusFlag(); err == nil {
		view.Persisted = &flag
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to read status flag", "error", err)
	}
	if last, err := a.flags.ReadLastUpdated(); err == nil {
		view.LastUpdated = last.Format(flagstore.TimeLayout)
	}
	if msg, ok := a.engine.Last(); ok {
		view.LastRun = newRunView(msg)
	}

	writeJSON(w, http.StatusOK, view)
}

func (a *api) postCheck(w http.ResponseWriter, _ *http.Request) {
	if _, err := a.engine.StartCheck(a.ctx, a.vms); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": a.engine.State()})
}

func (a *api) postApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "malformed request body: " + err.Error()})
		return
	}

	if _, err := a.engine.StartApply(a.ctx, req.VMs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": a.engine.State()})
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, runner.ErrRunInProgress), errors.Is(err, runner.ErrCheckRequired):
		code = http.StatusConflict
	case errors.Is(err, runner.ErrNothingToApply), errors.Is(err, runner.ErrUnknownVM):
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, errorView{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "error", err)
	}
}
