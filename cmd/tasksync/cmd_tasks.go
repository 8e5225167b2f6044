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
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

func (a *app) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func parseStatus(arg string) (datatypes.Status, error) {
	s := datatypes.Status(strings.ToLower(strings.ReplaceAll(arg, "-", "_")))
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q (want pending, in_progress or completed)", arg)
	}
	return s, nil
}

// =============================================================================
// list
// =============================================================================

func newListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List all tasks",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter datatypes.Status
			if status != "" {
				s, err := parseStatus(status)
				if err != nil {
					return err
				}
				filter = s
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			tasks, err := a.api.List(ctx)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			if filter != "" {
				kept := tasks[:0]
				for _, t := range tasks {
					if t.Status == filter {
						kept = append(kept, t)
					}
				}
				tasks = kept
			}
			a.out.Tasks(tasks)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show tasks with this status")
	return cmd
}

// =============================================================================
// add
// =============================================================================

func newAddCmd(a *app) *cobra.Command {
	var (
		description string
		status      string
	)
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := datatypes.TaskInput{
				Title:       strings.Join(args, " "),
				Description: description,
			}
			if status != "" {
				s, err := parseStatus(status)
				if err != nil {
					return err
				}
				in.Status = s
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			task, err := a.api.Create(ctx, in)
			if err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			a.logger.Debug("task created", "task_id", task.ID)
			a.out.Success(fmt.Sprintf("created #%d", task.ID))
			a.out.Task(task)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Initial status (default pending)")
	return cmd
}

// =============================================================================
// edit
// =============================================================================

func newEditCmd(a *app) *cobra.Command {
	var (
		title       string
		description string
		status      string
	)
	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Change a task's title, description or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("title") && !flags.Changed("description") && !flags.Changed("status") {
				return fmt.Errorf("nothing to change: pass --title, --description or --status")
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			current, err := a.api.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("get task %d: %w", id, err)
			}

			in := datatypes.TaskInput{
				Title:       current.Title,
				Description: current.Description,
				Status:      current.Status,
			}
			if flags.Changed("title") {
				in.Title = title
			}
			if flags.Changed("description") {
				in.Description = description
			}
			if flags.Changed("status") {
				if in.Status, err = parseStatus(status); err != nil {
					return err
				}
			}

			task, err := a.api.Update(ctx, id, in)
			if err != nil {
				return fmt.Errorf("update task %d: %w", id, err)
			}
			a.out.Success(fmt.Sprintf("updated #%d", task.ID))
			a.out.Task(task)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	cmd.Flags().StringVarP(&status, "status", "s", "", "New status")
	return cmd
}

// =============================================================================
// status / done
// =============================================================================

func (a *app) setStatus(cmd *cobra.Command, idArg string, status datatypes.Status) error {
	id, err := parseID(idArg)
	if err != nil {
		return err
	}
	ctx, cancel := a.requestContext(cmd)
	defer cancel()
	task, err := a.api.SetStatus(ctx, id, status)
	if err != nil {
		return fmt.Errorf("set status of task %d: %w", id, err)
	}
	a.out.Success(fmt.Sprintf("#%d is %s", task.ID, task.Status))
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id] [pending|in_progress|completed]",
		Short: "Set a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			return a.setStatus(cmd, args[0], status)
		},
	}
}

func newDoneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "done [id]",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.setStatus(cmd, args[0], datatypes.StatusCompleted)
		},
	}
}

// =============================================================================
// rm
// =============================================================================

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm [id]",
		Short:   "Delete a task",
		Aliases: []string{"delete"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := a.requestContext(cmd)
			defer cancel()
			deleted, err := a.api.Delete(ctx, id)
			if err != nil {
				return fmt.Errorf("delete task %d: %w", id, err)
			}
			if !deleted {
				a.out.Warning(fmt.Sprintf("task #%d did not exist", id))
				return nil
			}
			a.out.Success(fmt.Sprintf("deleted #%d", id))
			return nil
		},
	}
}
