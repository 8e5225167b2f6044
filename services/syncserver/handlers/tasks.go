// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the sync server's HTTP endpoints.
//
// Task mutation handlers follow one rule: the change notification is sent
// exactly once, after the store commits, and never when the mutation fails.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
	"github.com/AleutianAI/AleutianSync/pkg/telemetry"
	"github.com/AleutianAI/AleutianSync/services/syncserver/observability"
	"github.com/AleutianAI/AleutianSync/services/syncserver/store"
)

// Notifier receives committed mutations. *hub.Hub implements it.
type Notifier interface {
	NotifyCreated(ctx context.Context, task datatypes.Task)
	NotifyUpdated(ctx context.Context, task datatypes.Task)
	NotifyDeleted(ctx context.Context, id int64)
}

// TaskDeps bundles what the task handlers need.
type TaskDeps struct {
	Store    store.TaskStore
	Notifier Notifier
	Metrics  *observability.SyncMetrics
	Logger   *slog.Logger
}

func (d TaskDeps) logger(c *gin.Context) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return telemetry.LoggerWithTrace(c.Request.Context(), l)
}

func parseTaskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return id, true
}

// writeStoreError maps a store error to a response.
func writeStoreError(c *gin.Context, logger *slog.Logger, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	logger.Error("task store failure", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op + " task"})
}

// HandleCreateTask handles POST /v1/tasks.
//
// # Description
//
// Validates the body, inserts the task and announces a created event.
// Responds 201 with the committed task.
func HandleCreateTask(deps TaskDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := deps.logger(c)

		var in datatypes.TaskInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := in.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		task, err := deps.Store.Create(c.Request.Context(), in)
		deps.Metrics.RecordMutation("create", err == nil)
		if err != nil {
			writeStoreError(c, logger, "create", err)
			return
		}

		deps.Notifier.NotifyCreated(c.Request.Context(), task)
		logger.Info("task created", "task_id", task.ID)
		c.JSON(http.StatusCreated, task)
	}
}

// HandleListTasks handles GET /v1/tasks. This is the catch-up snapshot.
func HandleListTasks(deps TaskDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := deps.Store.List(c.Request.Context())
		if err != nil {
			writeStoreError(c, deps.logger(c), "list", err)
			return
		}
		c.JSON(http.StatusOK, tasks)
	}
}

// HandleGetTask handles GET /v1/tasks/:id.
func HandleGetTask(deps TaskDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseTaskID(c)
		if !ok {
			return
		}
		task, err := deps.Store.Get(c.Request.Context(), id)
		if err != nil {
			writeStoreError(c, deps.logger(c), "get", err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// HandleUpdateTask handles PUT /v1/tasks/:id.
func HandleUpdateTask(deps TaskDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := deps.logger(c)
		id, ok := parseTaskID(c)
		if !ok {
			return
		}

		var in datatypes.TaskInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := in.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		task, err := deps.Store.Update(c.Request.Context(), id, in)
		deps.Metrics.RecordMutation("update", err == nil)
		if err != nil {
			writeStoreError(c, logger, "update", err)
			return
		}

		deps.Notifier.NotifyUpdated(c.Request.Context(), task)
		logger.Info("task updated", "task_id", task.ID)
		c.JSON(http.StatusOK, task)
	}
}

// HandleSetTaskStatus handles PATCH /v1/tasks/:id/status.
func HandleSetTaskStatus(deps TaskDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := deps.logger(c)
		id, ok := parseTaskID(c)
		if !ok {
			return
		}

		var req datatypes.StatusChange
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		task, err := deps.Store.SetStatus(c.Request.Context(), id, req.Status)
		deps.Metrics.RecordMutation("status", err == nil)
		if err != nil {
			writeStoreError(c, logger, "update", err)
			return
		}

		deps.Notifier.NotifyUpdated(c.Request.Context(), task)
		logger.Info("task status changed", "task_id", task.ID, "status", task.Status)
		c.JSON(http.StatusOK, task)
	}
}

// HandleDeleteTask handles DELETE /v1/tasks/:id.
//
// # Description
//
// Responds 200 with {"deleted": bool}. A deleted event is announced only
// when a row was actually removed.
func HandleDeleteTask(deps TaskDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := deps.logger(c)
		id, ok := parseTaskID(c)
		if !ok {
			return
		}

		deleted, err := deps.Store.Delete(c.Request.Context(), id)
		deps.Metrics.RecordMutation("delete", err == nil)
		if err != nil {
			writeStoreError(c, logger, "delete", err)
			return
		}

		if deleted {
			deps.Notifier.NotifyDeleted(c.Request.Context(), id)
			logger.Info("task deleted", "task_id", id)
		}
		c.JSON(http.StatusOK, datatypes.DeleteResult{Deleted: deleted})
	}
}
