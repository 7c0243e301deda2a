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

package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/vmupdater/cmd/vmupdater/app/options"
	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/pkg/app"
	"github.com/autopeer-io/vmupdater/pkg/log"
)

func newStatusCommand(opts *options.UpdaterOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted update status",
		Long: `Show the last recorded aggregate status and the last time every VM was up
to date. The exit status is the recorded status code, or 3 when none exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			files, err := flagstore.NewFileStore(opts.StateOptions.Dir, nil)
			if err != nil {
				return err
			}

			if watch {
				return watchStatus(genericapiserver.SetupSignalContext(), cmd.OutOrStdout(), files)
			}

			if err := printStatus(cmd.OutOrStdout(), files); err != nil {
				return err
			}
			if code := statusExitCode(files); code != 0 {
				return app.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print the status again every time it is recorded, until interrupted.")
	return cmd
}

// watchStatus prints the status, then again on every change to either record.
// Records are replaced by rename, so the directory is watched, not the files.
func watchStatus(ctx context.Context, w io.Writer, files *flagstore.FileStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(files.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", files.Dir(), err)
	}

	if err := printStatus(w, files); err != nil {
		log.Warn("Failed to read status", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isRecordChange(ev) {
				continue
			}
			fmt.Fprintln(w)
			if err := printStatus(w, files); err != nil {
				log.Warn("Failed to read status", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watch error", "error", err)
		}
	}
}

func isRecordChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return name == flagstore.StatusKey || name == flagstore.LastUpdatedKey
}
