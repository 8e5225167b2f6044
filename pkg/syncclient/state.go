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

// ConnectionState is the lifecycle state of the sync connection.
//
// # Transitions
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting -> ...
//
// Stop moves any state to Disconnected, which is then terminal.
type ConnectionState int

const (
	// StateDisconnected is the initial state and the terminal state after Stop.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial is in flight or the welcome frame is pending.
	StateConnecting

	// StateConnected means the server registered this session. Live events
	// flow, possibly buffered behind a catch-up fetch.
	StateConnected

	// StateReconnecting means the connection dropped and a retry is scheduled.
	StateReconnecting
)

// String returns the state name used in logs and the CLI indicator.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
