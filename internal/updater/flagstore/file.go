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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

const backendFile = "file"

var _ Store = (*FileStore)(nil)

// FileStore keeps both records as files in one directory. Each file is
// replaced atomically so a reader never observes a half-written record.
type FileStore struct {
	dir   string
	clock clock.PassiveClock
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string, clk clock.PassiveClock) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &FileStore{dir: dir, clock: clk}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// WriteStatusFlag implements Store.
func (s *FileStore) WriteStatusFlag(ctx context.Context, st status.UpdateStatus) error {
	data, err := encodeFlag(st, s.clock.Now())
	if err != nil {
		return &PersistenceError{Key: StatusKey, Backend: backendFile, Err: err}
	}
	return s.write(StatusKey, data)
}

// WriteLastUpdated implements Store.
func (s *FileStore) WriteLastUpdated(ctx context.Context) error {
	return s.write(LastUpdatedKey, encodeTimestamp(s.clock.Now()))
}

// ReadStatusFlag returns the last persisted status record.
func (s *FileStore) ReadStatusFlag() (Flag, error) {
	var f Flag
	data, err := os.ReadFile(filepath.Join(s.dir, StatusKey))
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("malformed status flag: %w", err)
	}
	return f, nil
}

// ReadLastUpdated returns the last fully-updated time.
func (s *FileStore) ReadLastUpdated() (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, LastUpdatedKey))
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(TimeLayout, strings.TrimSpace(string(data)), time.Local)
}

func (s *FileStore) write(key string, data []byte) error {
	if err := writeAtomic(filepath.Join(s.dir, key), data); err != nil {
		return &PersistenceError{Key: key, Backend: backendFile, Err: err}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		return err
	}
	return os.Rename(name, path)
}
