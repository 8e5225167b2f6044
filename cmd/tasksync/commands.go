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
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSync/cmd/tasksync/config"
	"github.com/AleutianAI/AleutianSync/pkg/logging"
	"github.com/AleutianAI/AleutianSync/pkg/syncclient"
	"github.com/AleutianAI/AleutianSync/pkg/ux"
)

// app holds what every subcommand needs. Built by the root PersistentPreRunE.
type app struct {
	cfg       config.TasksyncConfig
	logConfig logging.Config
	logger    *logging.Logger
	api       *syncclient.TaskAPI
	out       *ux.Printer
	timeout   time.Duration

	// httpClient is shared by api and the watch client. Its timeout is
	// the --timeout flag.
	httpClient *http.Client
}

// silenceConsoleLog keeps log lines off the terminal while a full-screen
// view owns it. File logging continues.
func (a *app) silenceConsoleLog() {
	a.logger.Close()
	cfg := a.logConfig
	cfg.Quiet = true
	a.logger = logging.New(cfg)
}

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	server     string
	output     string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		a     = &app{}
	)

	rootCmd := &cobra.Command{
		Use:           "tasksync",
		Short:         "A live, shared task list",
		Long:          "tasksync manages tasks on a sync server and shows changes from every client as they happen.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Close()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file (default ~/.tasksync/tasksync.yaml)")
	pf.StringVar(&flags.server, "server", "", "Sync server URL, overrides the config file")
	pf.StringVar(&flags.output, "output", "", "Output style: rich or plain (default: detect from terminal)")
	pf.DurationVar(&flags.timeout, "timeout", 15*time.Second, "Timeout for each API request")

	rootCmd.AddCommand(
		newListCmd(a),
		newAddCmd(a),
		newEditCmd(a),
		newStatusCmd(a),
		newDoneCmd(a),
		newRemoveCmd(a),
		newWatchCmd(a),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command, flags rootFlags) error {
	cfg, err := config.LoadFrom(flags.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if flags.server != "" {
		cfg.Server.URL = flags.server
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("config logging.level: %w", err)
	}
	a.logConfig = logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "tasksync",
		Output:  cmd.ErrOrStderr(),
	}
	a.logger = logging.New(a.logConfig)

	mode := ux.DetectMode(cmd.OutOrStdout())
	if flags.output != "" {
		mode = ux.ParseMode(flags.output)
	}

	a.cfg = cfg
	a.out = ux.NewPrinter(cmd.OutOrStdout(), mode)
	a.timeout = flags.timeout
	a.httpClient = &http.Client{Timeout: flags.timeout}
	a.api = syncclient.NewTaskAPI(cfg.Server.URL, a.httpClient)
	return nil
}

// clientConfig maps the CLI config onto a syncclient.Config.
func (a *app) clientConfig() syncclient.Config {
	cfg := syncclient.DefaultConfig(a.cfg.Server.URL)
	cfg.HTTPClient = a.httpClient
	cfg.Optimistic = a.cfg.Sync.Optimistic
	cfg.VersionGuard = a.cfg.Sync.VersionGuard
	cfg.MaxBackoff = a.cfg.Sync.MaxBackoff
	cfg.HighlightDuration = a.cfg.Sync.Highlight
	cfg.Logger = a.logger.Slog()
	return cfg
}
