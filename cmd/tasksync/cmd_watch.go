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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSync/cmd/tasksync/internal/tui"
	"github.com/AleutianAI/AleutianSync/pkg/syncclient"
	"github.com/AleutianAI/AleutianSync/pkg/ux"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show the task list and follow changes live",
		Long: `watch connects to the sync server and keeps the task list current.

In a terminal it opens an interactive view:
  j/k, arrows   move
  space, enter  cycle status
  c             mark completed
  d             delete
  q             quit

With --output plain it prints the full list each time it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.out.Mode() == ux.ModeRich {
				a.silenceConsoleLog()
			}

			client, err := syncclient.New(a.clientConfig())
			if err != nil {
				return err
			}
			defer client.Stop()

			views, unsubscribe := client.Subscribe()
			defer unsubscribe()

			g, gctx := errgroup.WithContext(ctx)
			runCtx, cancelRun := context.WithCancel(gctx)
			defer cancelRun()

			g.Go(func() error {
				err := client.Run(runCtx)
				if errors.Is(err, syncclient.ErrStopped) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				defer cancelRun()
				if a.out.Mode() == ux.ModeRich {
					return runInteractive(runCtx, cmd, views, client)
				}
				return followPlain(runCtx, a.out, views)
			})
			return g.Wait()
		},
	}
}

func runInteractive(ctx context.Context, cmd *cobra.Command, views <-chan syncclient.View, client *syncclient.Client) error {
	program := tea.NewProgram(
		tui.NewModel(views, client),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run interactive view: %w", err)
	}
	return nil
}

// followPlain prints a state line on every connectivity change and the full
// list whenever its content changes.
func followPlain(ctx context.Context, out *ux.Printer, views <-chan syncclient.View) error {
	var (
		lastState   syncclient.ConnectionState = -1
		lastSyncing bool
		lastList    = "\x00"
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if v.State != lastState || v.Syncing != lastSyncing {
				lastState, lastSyncing = v.State, v.Syncing
				line := "state: " + v.State.String()
				if v.ConnectionID != "" {
					line += " " + v.ConnectionID
				}
				if v.Syncing {
					line += " (syncing)"
				}
				out.Info(line)
			}
			if v.Syncing {
				continue
			}
			lines := make([]string, len(v.Tasks))
			for i, t := range v.Tasks {
				lines[i] = out.TaskLine(t, false)
			}
			list := strings.Join(lines, "\n")
			if list == lastList {
				continue
			}
			lastList = list
			out.Info(fmt.Sprintf("--- %d tasks ---", len(v.Tasks)))
			if list != "" {
				out.Info(list)
			}
		}
	}
}
