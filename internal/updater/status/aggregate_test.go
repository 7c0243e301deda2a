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

import (
	"encoding/json"
	"testing"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results Results
		want    UpdateStatus
	}{
		{"empty mapping", Results{}, UpdatesOK},
		{"nil mapping", nil, UpdatesOK},
		{"all ok", Results{"a": UpdatesOK, "b": UpdatesOK, "c": UpdatesOK}, UpdatesOK},
		{"one required", Results{"a": UpdatesOK, "b": UpdatesRequired, "c": UpdatesOK}, UpdatesRequired},
		{"reboot beats required", Results{"a": UpdatesRequired, "b": RebootRequired}, RebootRequired},
		{"reboot alone", Results{"b": RebootRequired}, RebootRequired},
		{"failure beats reboot", Results{"a": RebootRequired, "b": UpdatesFailed}, UpdatesFailed},
		{"failure beats everything", Results{"a": UpdatesOK, "b": UpdatesRequired, "c": RebootRequired, "d": UpdatesFailed}, UpdatesFailed},
		{"unknown value is a failure", Results{"a": UpdatesOK, "b": UpdateStatus(42)}, UpdatesFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(tt.results); got != tt.want {
				t.Errorf("Aggregate(%v) = %s, want %s", tt.results, got, tt.want)
			}
		})
	}
}

// Every mapping over the known variants must honour the precedence rules.
func TestAggregatePrecedenceExhaustive(t *testing.T) {
	for _, a := range All {
		for _, b := range All {
			for _, c := range All {
				results := Results{"a": a, "b": b, "c": c}
				got := Aggregate(results)

				var want UpdateStatus
				switch {
				case contains(results, UpdatesFailed):
					want = UpdatesFailed
				case contains(results, RebootRequired):
					want = RebootRequired
				case contains(results, UpdatesRequired):
					want = UpdatesRequired
				default:
					want = UpdatesOK
				}

				if got != want {
					t.Fatalf("Aggregate(%v) = %s, want %s", results, got, want)
				}
				if got == UpdatesOK && len(results.WithStatus(UpdatesOK)) != len(results) {
					t.Fatalf("Aggregate(%v) claimed UPDATES_OK with non-ok entries", results)
				}
			}
		}
	}
}

func contains(r Results, s UpdateStatus) bool {
	return len(r.WithStatus(s)) > 0
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    UpdateStatus
		wantErr bool
	}{
		{"0", UpdatesOK, false},
		{"1", UpdatesRequired, false},
		{"2", RebootRequired, false},
		{"3", UpdatesFailed, false},
		{"REBOOT_REQUIRED", RebootRequired, false},
		{"4", UpdatesFailed, true},
		{"", UpdatesFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestResultsJSON(t *testing.T) {
	data, err := json.Marshal(Results{"sd-app": UpdatesRequired})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"sd-app":"UPDATES_REQUIRED"}` {
		t.Errorf("unexpected payload %s", data)
	}
}
