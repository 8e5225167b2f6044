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
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryBackoff yields reconnect delays.
//
// # Description
//
// The first delay after a reset is zero, so a dropped connection is retried
// immediately. Later delays grow exponentially with jitter and never exceed
// max. After a mass disconnect the jitter spreads clients out.
//
// # Thread Safety
//
// Not safe for concurrent use. Each retry loop owns its own instance.
type retryBackoff struct {
	exp     *backoff.ExponentialBackOff
	max     time.Duration
	retried bool
}

func newRetryBackoff(initial, max time.Duration, multiplier float64) *retryBackoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = max
	exp.Multiplier = multiplier
	exp.Reset()
	return &retryBackoff{exp: exp, max: max}
}

// Next returns how long to wait before the next attempt.
func (b *retryBackoff) Next() time.Duration {
	if !b.retried {
		b.retried = true
		return 0
	}
	d := b.exp.NextBackOff()
	if d == backoff.Stop || d > b.max {
		return b.max
	}
	return d
}

// Reset restarts the sequence. Called after a successful connection.
func (b *retryBackoff) Reset() {
	b.retried = false
	b.exp.Reset()
}
