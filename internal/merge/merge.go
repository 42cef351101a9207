// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package merge

import (
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/stream"
)

// =============================================================================
// TOOL FIELD ALLOW-LIST
// =============================================================================

// ToolFields is the fixed set of top-level payload keys that carry tool
// results. Matching values accumulate into the message's ordered tool-data
// array; any key not listed here is never treated as a tool payload.
//
// The list is checked in order so multiple tool keys inside one event
// produce entries in a deterministic sequence.
var ToolFields = []string{
	"calendar_options",
	"email_draft",
	"search_results",
	"task_list",
	"file_summary",
}

// toolCategories maps tool field names to their capability category.
var toolCategories = map[string]string{
	"calendar_options": "calendar",
	"email_draft":      "email",
	"search_results":   "search",
	"task_list":        "tasks",
	"file_summary":     "files",
}

// IsToolField reports whether name is a designated tool field.
func IsToolField(name string) bool {
	for _, f := range ToolFields {
		if f == name {
			return true
		}
	}
	return false
}

// CategoryFor returns the capability category for a tool field name.
func CategoryFor(name string) string {
	return toolCategories[name]
}

// =============================================================================
// PATCH TYPE
// =============================================================================

// Patch is the coherent change a single event makes to a message.
//
// Nil fields mean "leave the target untouched": an event that does not
// define a field must never null that field on the message. Tool data is
// carried as the full accumulated array so applying a patch is a plain
// assignment, never an in-place overwrite of an existing entry.
type Patch struct {
	ToolData     []model.ToolDataEntry
	ImageData    *string
	ImagePending *bool
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.ToolData == nil && p.ImageData == nil && p.ImagePending == nil
}

// Apply writes the patch onto a message. Unset patch fields leave the
// message untouched.
func (p Patch) Apply(m *model.Message) {
	if p.ToolData != nil {
		m.ToolData = p.ToolData
	}
	if p.ImageData != nil {
		m.ImageData = *p.ImageData
	}
	if p.ImagePending != nil {
		m.ImagePending = *p.ImagePending
	}
}

// =============================================================================
// MERGE
// =============================================================================

// Merge folds one inbound event into a patch against the message's last
// known snapshot. Incremental response text is not handled here: the
// session controller owns the running text accumulator and writes the
// running total itself.
func Merge(ev *stream.Event, existing *model.Message) Patch {
	return MergeAt(ev, existing, time.Now())
}

// MergeAt is Merge with an explicit timestamp for the tool entries it
// creates. It has no side effects and is deterministic given its inputs.
func MergeAt(ev *stream.Event, existing *model.Message, now time.Time) Patch {
	var patch Patch

	additions := toolAdditions(ev, now)
	if len(additions) > 0 {
		merged := make([]model.ToolDataEntry, 0, len(existing.ToolData)+len(additions))
		merged = append(merged, existing.ToolData...)
		merged = append(merged, additions...)
		patch.ToolData = merged
	}

	if ev.ImageData != "" {
		data := ev.ImageData
		pending := false
		patch.ImageData = &data
		patch.ImagePending = &pending
	} else if ev.Status == stream.StatusGeneratingImage && existing.ImageData == "" {
		pending := true
		patch.ImagePending = &pending
	}

	return patch
}

// toolAdditions extracts the tool entries one event contributes, in a
// deterministic order: the explicit tool envelope first, then allow-listed
// payload fields.
func toolAdditions(ev *stream.Event, now time.Time) []model.ToolDataEntry {
	var additions []model.ToolDataEntry

	if ev.ToolName != "" && len(ev.Data) > 0 {
		category := ev.ToolCategory
		if category == "" {
			category = CategoryFor(ev.ToolName)
		}
		additions = append(additions, model.ToolDataEntry{
			ToolName:     ev.ToolName,
			ToolCategory: category,
			Data:         ev.Data,
			Timestamp:    now,
		})
	}

	for _, name := range ToolFields {
		value, ok := ev.Field(name)
		if !ok || len(value) == 0 || string(value) == "null" {
			continue
		}
		additions = append(additions, model.ToolDataEntry{
			ToolName:     name,
			ToolCategory: CategoryFor(name),
			Data:         value,
			Timestamp:    now,
		})
	}

	return additions
}
