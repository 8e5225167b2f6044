// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SYNC_TEST_INT", "42")
	t.Setenv("SYNC_TEST_BAD_INT", "forty")
	t.Setenv("SYNC_TEST_FLOAT", "2.5")
	t.Setenv("SYNC_TEST_BOOL", "true")
	t.Setenv("SYNC_TEST_DURATION", "15s")
	t.Setenv("SYNC_TEST_STRING", "value")

	assert.Equal(t, 42, getEnvInt("SYNC_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("SYNC_TEST_BAD_INT", 1))
	assert.Equal(t, 7, getEnvInt("SYNC_TEST_UNSET", 7))
	assert.Equal(t, 2.5, getEnvFloat("SYNC_TEST_FLOAT", 1))
	assert.True(t, getEnvBool("SYNC_TEST_BOOL", false))
	assert.Equal(t, 15*time.Second, getEnvDuration("SYNC_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("SYNC_TEST_UNSET", time.Second))
	assert.Equal(t, "value", getEnvString("SYNC_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnvString("SYNC_TEST_UNSET", "default"))
}
