// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncclient

import (
	"sort"
	"time"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// Reconciler merges snapshots and change events into LocalState.
//
// # Description
//
// Merge rules:
//   - ApplySnapshot replaces the whole state.
//   - created inserts or overwrites.
//   - updated inserts when absent and otherwise overwrites unconditionally.
//   - deleted removes the id and is a no-op when it is absent.
//
// With the default rules the last applied event wins. A late update for an
// older state can overwrite newer data, and an update arriving after a
// delete re-inserts the task. The next snapshot repairs both.
//
// With VersionGuard enabled, an event whose payload is older than the stored
// task (by updated_at) is discarded, and deleted ids are remembered as
// tombstones until the next snapshot so late updates cannot resurrect them.
// Task ids are never reused, so any payload for a tombstoned id is stale.
//
// # Thread Safety
//
// None. The Client's event loop is the only caller.
type Reconciler struct {
	versionGuard bool
	maxRecent    int

	tasks      map[int64]datatypes.Task
	tombstones map[int64]time.Time

	// recent maps id -> mark token. A token lets a highlight timer expire
	// only the mark it created.
	recent    map[int64]uint64
	nextToken uint64
}

// NewReconciler returns an empty Reconciler.
//
// # Inputs
//
//   - versionGuard: Discard stale payloads and keep delete tombstones.
//   - maxRecent: Bound on the recently-applied set. Values < 1 mean 64.
func NewReconciler(versionGuard bool, maxRecent int) *Reconciler {
	if maxRecent < 1 {
		maxRecent = 64
	}
	return &Reconciler{
		versionGuard: versionGuard,
		maxRecent:    maxRecent,
		tasks:        make(map[int64]datatypes.Task),
		tombstones:   make(map[int64]time.Time),
		recent:       make(map[int64]uint64),
	}
}

// ApplySnapshot replaces LocalState with tasks.
//
// Tombstones are cleared: the snapshot is authoritative. The recently
// applied set is kept so in-flight highlights finish naturally.
func (r *Reconciler) ApplySnapshot(tasks []datatypes.Task) {
	r.tasks = make(map[int64]datatypes.Task, len(tasks))
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	r.tombstones = make(map[int64]time.Time)
}

// Apply merges one event.
//
// # Outputs
//
//   - bool: False when VersionGuard discarded the event or a delete found
//     nothing to remove.
func (r *Reconciler) Apply(event datatypes.ChangeEvent) bool {
	switch event.Kind {
	case datatypes.KindCreated, datatypes.KindUpdated:
		if event.Payload == nil {
			return false
		}
		return r.upsert(*event.Payload)
	case datatypes.KindDeleted:
		return r.remove(event.ID, event.EmittedAt)
	default:
		return false
	}
}

func (r *Reconciler) upsert(task datatypes.Task) bool {
	if r.versionGuard {
		if _, dead := r.tombstones[task.ID]; dead {
			return false
		}
		if cur, ok := r.tasks[task.ID]; ok && cur.NewerThan(task) {
			return false
		}
	}
	r.tasks[task.ID] = task
	return true
}

func (r *Reconciler) remove(id int64, at time.Time) bool {
	if r.versionGuard {
		r.tombstones[id] = at
	}
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	return true
}

// Get returns the task with id.
func (r *Reconciler) Get(id int64) (datatypes.Task, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// Len returns the number of tasks held.
func (r *Reconciler) Len() int { return len(r.tasks) }

// Tasks returns a copy of LocalState ordered by id.
func (r *Reconciler) Tasks() []datatypes.Task {
	out := make([]datatypes.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// Recently Applied
// =============================================================================

// MarkRecent records id as recently applied and returns the mark's token.
//
// When the set is full the oldest mark is evicted.
func (r *Reconciler) MarkRecent(id int64) uint64 {
	r.nextToken++
	token := r.nextToken
	if _, ok := r.recent[id]; !ok && len(r.recent) >= r.maxRecent {
		r.evictOldestRecent()
	}
	r.recent[id] = token
	return token
}

// ExpireRecent clears id if it still carries token.
func (r *Reconciler) ExpireRecent(id int64, token uint64) bool {
	if r.recent[id] != token {
		return false
	}
	delete(r.recent, id)
	return true
}

// Recent returns a copy of the recently applied set.
func (r *Reconciler) Recent() map[int64]bool {
	out := make(map[int64]bool, len(r.recent))
	for id := range r.recent {
		out[id] = true
	}
	return out
}

func (r *Reconciler) evictOldestRecent() {
	var (
		oldestID    int64
		oldestToken uint64
		found       bool
	)
	for id, tok := range r.recent {
		if !found || tok < oldestToken {
			oldestID, oldestToken, found = id, tok, true
		}
	}
	if found {
		delete(r.recent, oldestID)
	}
}
