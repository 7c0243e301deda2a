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

package progress

const (
	// Min is the smallest value shown to an observer; zero reads as stalled.
	Min = 5
	// Max is the completed value.
	Max = 100

	// CheckStart is shown when a check run is started.
	CheckStart = 1
	// ApplyStart is shown when an apply run is started.
	ApplyStart = 5
)

// Clamp bounds a raw percentage for display: values <= 0 become Min and
// values > 100 become Max.
func Clamp(raw int) int {
	switch {
	case raw <= 0:
		return Min
	case raw > Max:
		return Max
	default:
		return raw
	}
}

// Percent returns the share of processed items as an integer percentage.
// An empty run is complete.
func Percent(processed, total int) int {
	if total <= 0 {
		return Max
	}
	return processed * 100 / total
}

// Tracker keeps the value an observer displays and guarantees it never moves
// backwards within a run.
type Tracker struct {
	current int
}

// Reset starts a new run at the given value.
func (t *Tracker) Reset(start int) int {
	t.current = start
	return t.current
}

// Update applies the clamp policy and returns the value to display.
func (t *Tracker) Update(raw int) int {
	v := Clamp(raw)
	if v > t.current {
		t.current = v
	}
	return t.current
}

// Complete marks the run as finished.
func (t *Tracker) Complete() int {
	t.current = Max
	return t.current
}

// Current returns the last displayed value.
func (t *Tracker) Current() int {
	return t.current
}
