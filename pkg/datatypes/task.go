// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the types shared by the sync server and its clients.
//
// # Description
//
// This package contains the task record, the request bodies accepted by the
// CRUD API, the ChangeEvent broadcast after each committed mutation, and the
// websocket frames that carry those events. Validation uses
// go-playground/validator tags plus a few invariants that tags cannot express
// (for example "deleted events carry no payload").
//
// # Thread Safety
//
// All types are plain values. The package-level validator is safe for
// concurrent use.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every Validate method in this package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// Task Status
// =============================================================================

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending is the initial state of a new task.
	StatusPending Status = "pending"

	// StatusInProgress marks a task somebody is working on.
	StatusInProgress Status = "in_progress"

	// StatusCompleted marks a finished task.
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// =============================================================================
// Task Record
// =============================================================================

// Task is the record kept in sync across every connected client.
//
// # Description
//
// The storage collaborator owns the authoritative copy. Clients hold an
// advisory copy rebuilt from snapshots and ChangeEvents. UpdatedAt acts as an
// implicit version: the store never lets it move backwards for a given ID.
//
// # Fields
//
//   - ID: Store-assigned identifier, unique and never reused.
//   - Title: Short summary, 1-200 characters.
//   - Description: Optional free text, up to 2000 characters.
//   - Status: One of pending, in_progress, completed.
//   - CreatedAt: Commit time of the create mutation.
//   - UpdatedAt: Commit time of the latest mutation.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewerThan reports whether t carries a later version than other.
func (t Task) NewerThan(other Task) bool {
	return t.UpdatedAt.After(other.UpdatedAt)
}

// =============================================================================
// Mutation Inputs
// =============================================================================

// TaskInput is the body of create and full-update requests.
//
// # Validation
//
//   - Title: required, at most 200 characters
//   - Description: at most 2000 characters
//   - Status: optional; when set must be a known status. Create defaults it to
//     pending, update keeps the current status when empty.
type TaskInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	Status      Status `json:"status,omitempty" validate:"omitempty,oneof=pending in_progress completed"`
}

// Validate checks the input against its validator tags.
func (in *TaskInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("invalid task input: %w", err)
	}
	return nil
}

// StatusChange is the body of a status-only update.
type StatusChange struct {
	Status Status `json:"status" validate:"required,oneof=pending in_progress completed"`
}

// Validate checks the status change against its validator tags.
func (sc *StatusChange) Validate() error {
	if err := validate.Struct(sc); err != nil {
		return fmt.Errorf("invalid status change: %w", err)
	}
	return nil
}

// DeleteResult is the response body of a delete request.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}
