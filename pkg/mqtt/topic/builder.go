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

package topic

import (
	"fmt"
)

// Topic suffixes shared with consumers of the updater's messages.
// Changing these values breaks existing dashboards.
const (
	// SuffixProgress carries one message per processed VM.
	// Structure: {root}/progress/{workstation}
	SuffixProgress = "progress"

	// SuffixStatus carries the final aggregate of a run, retained.
	// Structure: {root}/status/{workstation}
	SuffixStatus = "status"

	// SuffixOnline carries the updater's availability, retained.
	// Structure: {root}/online/{workstation}
	SuffixOnline = "online"

	// Wildcard is the single-level wildcard "+".
	Wildcard = "+"
)

// Builder constructs topic strings under one root namespace.
type Builder struct {
	root string
}

// NewBuilder creates a Builder for the given root (e.g. "sdw/v1").
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Progress returns the per-VM progress topic of a workstation.
func (b *Builder) Progress(workstation string) string {
	return b.build(SuffixProgress, workstation)
}

// Status returns the aggregate status topic of a workstation.
func (b *Builder) Status(workstation string) string {
	return b.build(SuffixStatus, workstation)
}

// StatusWildcard subscribes to the status of every workstation.
func (b *Builder) StatusWildcard() string {
	return b.build(SuffixStatus, Wildcard)
}

// Online returns the availability topic of a workstation.
func (b *Builder) Online(workstation string) string {
	return b.build(SuffixOnline, workstation)
}

// build follows the pattern {root}/{suffix}/{identifier}.
func (b *Builder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
