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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// APIError is a non-2xx response from the task API.
//
// Status 400 means validation failed, 404 that the task does not exist and
// 5xx a storage or server failure. Use errors.As to inspect it.
type APIError struct {
	// Status is the HTTP status code.
	Status int

	// Message is the server's error text, or the status text when the body
	// carried none.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("task api: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// TaskAPI is a typed client for the CRUD endpoints under /v1/tasks.
//
// # Thread Safety
//
// Safe for concurrent use.
type TaskAPI struct {
	baseURL    string
	httpClient *http.Client
}

// NewTaskAPI returns a client for the server at baseURL.
// A nil httpClient gets a client with a 15s timeout.
func NewTaskAPI(baseURL string, httpClient *http.Client) *TaskAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TaskAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// List fetches every task. This is the catch-up snapshot.
func (a *TaskAPI) List(ctx context.Context) ([]datatypes.Task, error) {
	var tasks []datatypes.Task
	if err := a.do(ctx, http.MethodGet, "/v1/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Get fetches one task.
func (a *TaskAPI) Get(ctx context.Context, id int64) (datatypes.Task, error) {
	var task datatypes.Task
	err := a.do(ctx, http.MethodGet, taskPath(id), nil, &task)
	return task, err
}

// Create inserts a task and returns the committed record.
func (a *TaskAPI) Create(ctx context.Context, in datatypes.TaskInput) (datatypes.Task, error) {
	var task datatypes.Task
	err := a.do(ctx, http.MethodPost, "/v1/tasks", in, &task)
	return task, err
}

// Update replaces a task's editable fields.
func (a *TaskAPI) Update(ctx context.Context, id int64, in datatypes.TaskInput) (datatypes.Task, error) {
	var task datatypes.Task
	err := a.do(ctx, http.MethodPut, taskPath(id), in, &task)
	return task, err
}

// SetStatus changes only the status.
func (a *TaskAPI) SetStatus(ctx context.Context, id int64, status datatypes.Status) (datatypes.Task, error) {
	var task datatypes.Task
	err := a.do(ctx, http.MethodPatch, taskPath(id)+"/status", datatypes.StatusChange{Status: status}, &task)
	return task, err
}

// Delete removes a task, reporting whether it existed.
func (a *TaskAPI) Delete(ctx context.Context, id int64) (bool, error) {
	var res datatypes.DeleteResult
	if err := a.do(ctx, http.MethodDelete, taskPath(id), nil, &res); err != nil {
		return false, err
	}
	return res.Deleted, nil
}

func taskPath(id int64) string {
	return fmt.Sprintf("/v1/tasks/%d", id)
}

func (a *TaskAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
