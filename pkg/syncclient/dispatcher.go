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
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// localApplier takes a mutation result into LocalState.
type localApplier interface {
	applyLocal(event datatypes.ChangeEvent)
}

// Dispatcher issues task mutations and reports their outcome.
//
// # Description
//
// A successful mutation is applied to LocalState right away when optimistic
// application is on, using the same merge rules as a broadcast event. The
// broadcast for the same mutation arrives later and is a no-op in effect.
// A failed mutation applies nothing and returns the error, typically an
// *APIError.
//
// Mutations run on the caller's goroutine with the caller's context. A
// dropped sync connection does not cancel them.
//
// # Thread Safety
//
// Safe for concurrent use.
type Dispatcher struct {
	api        *TaskAPI
	sink       localApplier
	optimistic bool
	logger     *slog.Logger
}

func newDispatcher(api *TaskAPI, sink localApplier, optimistic bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{api: api, sink: sink, optimistic: optimistic, logger: logger}
}

// Create adds a task.
func (d *Dispatcher) Create(ctx context.Context, in datatypes.TaskInput) (datatypes.Task, error) {
	task, err := d.api.Create(ctx, in)
	if err != nil {
		d.logger.Debug("create task failed", "error", err)
		return datatypes.Task{}, err
	}
	d.apply(datatypes.NewCreated(task))
	return task, nil
}

// Update replaces a task's title, description and optionally status.
func (d *Dispatcher) Update(ctx context.Context, id int64, in datatypes.TaskInput) (datatypes.Task, error) {
	task, err := d.api.Update(ctx, id, in)
	if err != nil {
		d.logger.Debug("update task failed", "task_id", id, "error", err)
		return datatypes.Task{}, err
	}
	d.apply(datatypes.NewUpdated(task))
	return task, nil
}

// SetStatus changes a task's status.
func (d *Dispatcher) SetStatus(ctx context.Context, id int64, status datatypes.Status) (datatypes.Task, error) {
	task, err := d.api.SetStatus(ctx, id, status)
	if err != nil {
		d.logger.Debug("set task status failed", "task_id", id, "error", err)
		return datatypes.Task{}, err
	}
	d.apply(datatypes.NewUpdated(task))
	return task, nil
}

// Delete removes a task and reports whether the server had it.
//
// Either way the id is absent on the server afterwards, so LocalState
// drops it too.
func (d *Dispatcher) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := d.api.Delete(ctx, id)
	if err != nil {
		d.logger.Debug("delete task failed", "task_id", id, "error", err)
		return false, err
	}
	d.apply(datatypes.NewDeleted(id))
	return deleted, nil
}

func (d *Dispatcher) apply(event datatypes.ChangeEvent) {
	if !d.optimistic || d.sink == nil {
		return
	}
	d.sink.applyLocal(event)
}
