// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tasksync is a terminal client for the task sync server.
//
// # Usage
//
//	tasksync list
//	tasksync add "Buy milk" -d "2 litres"
//	tasksync status 3 in_progress
//	tasksync done 3
//	tasksync watch
//
// Configuration lives in ~/.tasksync/tasksync.yaml and is created on first
// run. --server overrides the configured server URL.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
