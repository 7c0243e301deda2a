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

package status

// Aggregate derives the single recommendation for a run.
//
// Precedence is failure, then reboot, then pending updates. An empty mapping
// is vacuously up to date. Unknown values are treated as failures so a new
// variant can never be reported as UpdatesOK.
func Aggregate(results Results) UpdateStatus {
	var reboot, required bool

	for _, s := range results {
		switch s {
		case UpdatesOK:
		case UpdatesRequired:
			required = true
		case RebootRequired:
			reboot = true
		case UpdatesFailed:
			return UpdatesFailed
		default:
			return UpdatesFailed
		}
	}

	switch {
	case reboot:
		return RebootRequired
	case required:
		return UpdatesRequired
	default:
		return UpdatesOK
	}
}
