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
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

const maxColWidth = 60

// printMessage writes one row per VM followed by the aggregate.
func printMessage(w io.Writer, msg runner.Message) {
	vms := make([]string, 0, len(msg.Results))
	for vm := range msg.Results {
		vms = append(vms, vm)
	}
	slices.Sort(vms)

	table := uitable.New()
	table.MaxColWidth = maxColWidth
	table.AddRow("VM", "STATUS")
	for _, vm := range vms {
		table.AddRow(vm, msg.Results[vm])
	}
	fmt.Fprintln(w, table)

	summary := uitable.New()
	summary.MaxColWidth = maxColWidth
	summary.Wrap = true
	summary.AddRow(strings.ToUpper(string(msg.Kind))+":", msg.RecommendedAction)
	summary.AddRow("Follow-up:", msg.FollowUp())
	if pending := msg.VMsNeedingUpdates(); msg.Kind == runner.KindCheck && len(pending) > 0 {
		summary.AddRow("Needing updates:", strings.Join(pending, ", "))
	}
	summary.AddRow("Duration:", msg.Duration().Round(time.Millisecond))
	if msg.Err != nil {
		summary.AddRow("Error:", msg.Err)
	}
	fmt.Fprintln(w, summary)
}

// printStatus writes the persisted records. Missing records are shown as
// "never"; unreadable ones are returned as errors.
func printStatus(w io.Writer, files *flagstore.FileStore) error {
	table := uitable.New()
	table.MaxColWidth = maxColWidth

	flag, err := files.ReadStatusFlag()
	switch {
	case errors.Is(err, os.ErrNotExist):
		table.AddRow("Status:", "unknown")
		table.AddRow("Status recorded:", "never")
	case err != nil:
		return err
	default:
		st, perr := flag.UpdateStatus()
		if perr != nil {
			return fmt.Errorf("malformed status flag: %w", perr)
		}
		table.AddRow("Status:", fmt.Sprintf("%s (%s)", st, st.Code()))
		table.AddRow("Status recorded:", flag.LastStatusUpdate)
	}

	last, err := files.ReadLastUpdated()
	switch {
	case errors.Is(err, os.ErrNotExist):
		table.AddRow("Last updated:", "never")
	case err != nil:
		return fmt.Errorf("malformed last-updated record: %w", err)
	default:
		table.AddRow("Last updated:", last.Format(flagstore.TimeLayout))
	}

	fmt.Fprintln(w, table)
	return nil
}

// statusExitCode is the persisted status code, or FAILED when nothing is recorded.
func statusExitCode(files *flagstore.FileStore) int {
	flag, err := files.ReadStatusFlag()
	if err != nil {
		return int(status.UpdatesFailed)
	}
	st, err := flag.UpdateStatus()
	if err != nil {
		return int(status.UpdatesFailed)
	}
	return int(st)
}
