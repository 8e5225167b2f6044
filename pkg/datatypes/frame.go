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
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownFrame is returned by DecodeFrame for an unrecognised frame type.
var ErrUnknownFrame = errors.New("unknown frame type")

// FrameType tags every message sent over the sync websocket.
type FrameType string

const (
	// FrameWelcome is sent once, right after the upgrade.
	FrameWelcome FrameType = "welcome"

	// FrameChange carries a single ChangeEvent.
	FrameChange FrameType = "change"
)

// Frame is the server-to-client websocket envelope.
//
// Exactly one of ConnectionID (welcome) or Event (change) is set.
type Frame struct {
	Type         FrameType    `json:"type"`
	ConnectionID string       `json:"connection_id,omitempty"`
	Event        *ChangeEvent `json:"event,omitempty"`
}

// WelcomeFrame builds the frame that tells a client its connection ID.
func WelcomeFrame(connectionID string) Frame {
	return Frame{Type: FrameWelcome, ConnectionID: connectionID}
}

// ChangeFrame wraps an event for transmission.
func ChangeFrame(event ChangeEvent) Frame {
	return Frame{Type: FrameChange, Event: &event}
}

// EncodeFrame marshals a frame to its JSON wire form.
func EncodeFrame(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return b, nil
}

// DecodeFrame parses and validates a frame received from the server.
//
// # Description
//
// This is the transport boundary: anything returned without error is safe to
// hand to the reconciler. Change frames must carry an event that passes
// ChangeEvent.Validate. Welcome frames must carry a connection ID.
//
// # Outputs
//
//   - Frame: the decoded frame.
//   - error: JSON errors, ErrUnknownFrame, or an ErrInvalidEvent wrap.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FrameWelcome:
		if f.ConnectionID == "" {
			return Frame{}, fmt.Errorf("decode frame: welcome without connection id")
		}
	case FrameChange:
		if f.Event == nil {
			return Frame{}, fmt.Errorf("%w: change frame without event", ErrInvalidEvent)
		}
		if err := f.Event.Validate(); err != nil {
			return Frame{}, err
		}
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
	return f, nil
}
