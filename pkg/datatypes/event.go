// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidEvent is returned when a ChangeEvent violates its invariants.
var ErrInvalidEvent = errors.New("invalid change event")

// =============================================================================
// Event Kind
// =============================================================================

// Kind discriminates the three mutation types a ChangeEvent can describe.
type Kind string

const (
	// KindCreated is emitted after a task was inserted.
	KindCreated Kind = "created"

	// KindUpdated is emitted after a task was modified.
	KindUpdated Kind = "updated"

	// KindDeleted is emitted after a task was removed.
	KindDeleted Kind = "deleted"
)

// =============================================================================
// ChangeEvent
// =============================================================================

// ChangeEvent describes one committed mutation.
//
// # Description
//
// A ChangeEvent is built once per successful commit, broadcast at-least-once
// (best effort) to every connected session and never modified afterwards.
// The hub does not retain it after fan-out.
//
// # Invariants
//
//   - Kind deleted: Payload is nil.
//   - Kind created/updated: Payload is the full post-mutation task and
//     Payload.ID equals ID.
//
// # Fields
//
//   - Kind: created, updated or deleted.
//   - ID: The affected task ID.
//   - Payload: Full task for created/updated, nil for deleted.
//   - EmittedAt: Server time at which the event was built.
//   - EventID: ULID for log correlation. Not used for merging.
type ChangeEvent struct {
	Kind      Kind      `json:"kind" validate:"required,oneof=created updated deleted"`
	ID        int64     `json:"id" validate:"required,gt=0"`
	Payload   *Task     `json:"payload,omitempty"`
	EmittedAt time.Time `json:"emitted_at" validate:"required"`
	EventID   string    `json:"event_id,omitempty"`
}

// NewCreated builds the event announcing a new task.
func NewCreated(task Task) ChangeEvent {
	return newPayloadEvent(KindCreated, task)
}

// NewUpdated builds the event announcing a modified task.
func NewUpdated(task Task) ChangeEvent {
	return newPayloadEvent(KindUpdated, task)
}

// NewDeleted builds the event announcing a removed task.
func NewDeleted(id int64) ChangeEvent {
	now := time.Now().UTC()
	return ChangeEvent{
		Kind:      KindDeleted,
		ID:        id,
		EmittedAt: now,
		EventID:   NewEventID(now),
	}
}

func newPayloadEvent(kind Kind, task Task) ChangeEvent {
	now := time.Now().UTC()
	payload := task
	return ChangeEvent{
		Kind:      kind,
		ID:        task.ID,
		Payload:   &payload,
		EmittedAt: now,
		EventID:   NewEventID(now),
	}
}

// NewEventID returns a ULID whose timestamp component is at.
func NewEventID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// Validate checks the tag rules and the kind/payload invariants.
//
// # Outputs
//
//   - error: wraps ErrInvalidEvent when any rule is broken.
func (e *ChangeEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch e.Kind {
	case KindDeleted:
		if e.Payload != nil {
			return fmt.Errorf("%w: deleted event for %d carries a payload", ErrInvalidEvent, e.ID)
		}
	case KindCreated, KindUpdated:
		if e.Payload == nil {
			return fmt.Errorf("%w: %s event for %d has no payload", ErrInvalidEvent, e.Kind, e.ID)
		}
		if e.Payload.ID != e.ID {
			return fmt.Errorf("%w: payload id %d does not match event id %d",
				ErrInvalidEvent, e.Payload.ID, e.ID)
		}
	}
	return nil
}
