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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTask(id int64) Task {
	now := time.Now().UTC()
	return Task{
		ID:        id,
		Title:     "Buy milk",
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// Input Validation
// =============================================================================

func TestTaskInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   TaskInput
		wantErr bool
	}{
		{"title only", TaskInput{Title: "A"}, false},
		{"all fields", TaskInput{Title: "A", Description: "d", Status: StatusCompleted}, false},
		{"missing title", TaskInput{Description: "d"}, true},
		{"title too long", TaskInput{Title: strings.Repeat("x", 201)}, true},
		{"description too long", TaskInput{Title: "A", Description: strings.Repeat("x", 2001)}, true},
		{"unknown status", TaskInput{Title: "A", Status: "archived"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusChange_Validate(t *testing.T) {
	assert.NoError(t, (&StatusChange{Status: StatusInProgress}).Validate())
	assert.Error(t, (&StatusChange{}).Validate())
	assert.Error(t, (&StatusChange{Status: "done"}).Validate())
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusInProgress.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, Status("").Valid())
	assert.False(t, Status("blocked").Valid())
}

// =============================================================================
// ChangeEvent
// =============================================================================

func TestNewCreated_CarriesPayloadCopy(t *testing.T) {
	task := sampleTask(7)
	ev := NewCreated(task)

	require.NotNil(t, ev.Payload)
	assert.Equal(t, KindCreated, ev.Kind)
	assert.Equal(t, int64(7), ev.ID)
	assert.Equal(t, task, *ev.Payload)
	assert.False(t, ev.EmittedAt.IsZero())
	assert.NoError(t, ev.Validate())

	// The event must not alias the caller's task.
	task.Title = "changed"
	assert.Equal(t, "Buy milk", ev.Payload.Title)
}

func TestNewDeleted_HasNoPayload(t *testing.T) {
	ev := NewDeleted(3)
	assert.Equal(t, KindDeleted, ev.Kind)
	assert.Nil(t, ev.Payload)
	assert.NoError(t, ev.Validate())
}

func TestNewEventID_IsULID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewEventID(at)

	parsed, err := ulid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), parsed.Time())
}

func TestChangeEvent_Validate_Invariants(t *testing.T) {
	task := sampleTask(1)
	other := sampleTask(2)

	tests := []struct {
		name  string
		event ChangeEvent
	}{
		{"deleted with payload", ChangeEvent{Kind: KindDeleted, ID: 1, Payload: &task, EmittedAt: time.Now()}},
		{"created without payload", ChangeEvent{Kind: KindCreated, ID: 1, EmittedAt: time.Now()}},
		{"updated without payload", ChangeEvent{Kind: KindUpdated, ID: 1, EmittedAt: time.Now()}},
		{"payload id mismatch", ChangeEvent{Kind: KindUpdated, ID: 1, Payload: &other, EmittedAt: time.Now()}},
		{"unknown kind", ChangeEvent{Kind: "renamed", ID: 1, Payload: &task, EmittedAt: time.Now()}},
		{"zero id", ChangeEvent{Kind: KindDeleted, EmittedAt: time.Now()}},
		{"missing emitted_at", ChangeEvent{Kind: KindDeleted, ID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEvent), "error should wrap ErrInvalidEvent: %v", err)
		})
	}
}

// =============================================================================
// Frames
// =============================================================================

func TestDecodeFrame_Change(t *testing.T) {
	ev := NewUpdated(sampleTask(9))
	data, err := EncodeFrame(ChangeFrame(ev))
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameChange, f.Type)
	require.NotNil(t, f.Event)
	assert.Equal(t, KindUpdated, f.Event.Kind)
	assert.Equal(t, int64(9), f.Event.ID)
	assert.Equal(t, ev.EventID, f.Event.EventID)
}

func TestDecodeFrame_Welcome(t *testing.T) {
	data, err := EncodeFrame(WelcomeFrame("conn-1"))
	require.NoError(t, err)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameWelcome, f.Type)
	assert.Equal(t, "conn-1", f.ConnectionID)
}

func TestDecodeFrame_Rejects(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`{"type":`))
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`{"type":"gossip"}`))
		assert.ErrorIs(t, err, ErrUnknownFrame)
	})

	t.Run("change without event", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`{"type":"change"}`))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("deleted with payload", func(t *testing.T) {
		raw := `{"type":"change","event":{"kind":"deleted","id":4,"payload":{"id":4,"title":"x","status":"pending"},"emitted_at":"2026-01-01T00:00:00Z"}}`
		_, err := DecodeFrame([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("welcome without id", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`{"type":"welcome"}`))
		assert.Error(t, err)
	})
}
