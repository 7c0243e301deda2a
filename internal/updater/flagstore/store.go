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

package flagstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

const (
	// StatusKey names the last aggregate status record.
	StatusKey = "sdw-update-status"
	// LastUpdatedKey names the last fully-updated timestamp record.
	LastUpdatedKey = "sdw-last-updated"

	// TimeLayout is the timestamp layout used in both records.
	TimeLayout = "2006-01-02 15:04:05"
)

// Store persists the outcome of a run. The updater never reads from it.
type Store interface {
	// WriteStatusFlag records the aggregate status of the last run.
	WriteStatusFlag(ctx context.Context, s status.UpdateStatus) error

	// WriteLastUpdated records the current time as the last moment all VMs
	// were up to date.
	WriteLastUpdated(ctx context.Context) error
}

// PersistenceError reports a failed write of one record.
type PersistenceError struct {
	Key     string
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s to %s: %v", e.Key, e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Flag is the on-disk form of the status record.
type Flag struct {
	LastStatusUpdate string `json:"last_status_update"`
	Status           string `json:"status"`
}

// UpdateStatus decodes the stored status code.
func (f Flag) UpdateStatus() (status.UpdateStatus, error) {
	return status.Parse(f.Status)
}

// Time parses the stored timestamp in local time.
func (f Flag) Time() (time.Time, error) {
	return time.ParseInLocation(TimeLayout, f.LastStatusUpdate, time.Local)
}

func encodeFlag(s status.UpdateStatus, now time.Time) ([]byte, error) {
	return json.Marshal(Flag{
		LastStatusUpdate: now.Format(TimeLayout),
		Status:           s.Code(),
	})
}

func encodeTimestamp(now time.Time) []byte {
	return []byte(now.Format(TimeLayout))
}

// Multi fans every write out to all stores. All stores are attempted; the
// failures are joined.
type Multi []Store

var _ Store = Multi(nil)

func (m Multi) WriteStatusFlag(ctx context.Context, s status.UpdateStatus) error {
	var errs []error
	for _, st := range m {
		if err := st.WriteStatusFlag(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) WriteLastUpdated(ctx context.Context) error {
	var errs []error
	for _, st := range m {
		if err := st.WriteLastUpdated(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
