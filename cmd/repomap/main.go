// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command repomap prints a token-budgeted relevance map of a repository.
//
// Usage:
//
//	repomap [root]
//	repomap --focus internal/server.go --budget 4096 .
//	repomap --config repomap.yaml --force-refresh /path/to/repo
//
// The map lists the most relevant files and definitions, ranked by how
// heavily the rest of the repository references them, trimmed to fit
// the token budget.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/repomap/services/repomap"
)

// Flag values for the root command.
var (
	flagFocus        []string
	flagBudget       int
	flagConfig       string
	flagForceRefresh bool
	flagLogLevel     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "repomap [root]",
		Short: "Print a relevance-ranked map of a repository",
		Long: "repomap scans a repository, ranks files and definitions by how\n" +
			"heavily the rest of the code references them, and prints the most\n" +
			"relevant excerpts that fit within a token budget.",
		Args: cobra.MaximumNArgs(1),
		RunE: runMap,

		SilenceUsage: true,
	}

	rootCmd.Flags().StringSliceVar(&flagFocus, "focus", nil,
		"repo-relative file to prioritize in the ranking (repeatable)")
	rootCmd.Flags().IntVar(&flagBudget, "budget", repomap.DefaultTokenBudget,
		"target maximum token count for the map")
	rootCmd.Flags().StringVar(&flagConfig, "config", "",
		"path to a YAML config file")
	rootCmd.Flags().BoolVar(&flagForceRefresh, "force-refresh", false,
		"re-extract every file, bypassing the cache")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "warn",
		"log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMap(cmd *cobra.Command, args []string) error {
	setupLogging(flagLogLevel)

	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	cfg := repomap.DefaultConfig()
	if flagConfig != "" {
		loaded, err := repomap.LoadConfig(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	engine, err := repomap.NewEngine(root, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.BuildMap(cmd.Context(), repomap.MapRequest{
		FocusFiles:   flagFocus,
		TokenBudget:  flagBudget,
		ForceRefresh: flagForceRefresh,
	})
	if err != nil {
		return err
	}

	if result.Rendered == "" {
		fmt.Fprintln(os.Stderr, "No repository content fits within the token budget.")
		return nil
	}
	fmt.Print(result.Rendered)

	slog.Info("map built",
		slog.Int("files", result.Report.FileCount),
		slog.Int("tokens", result.TokenCount),
		slog.Bool("complete", result.Complete),
		slog.Float64("cache_hit_rate", result.Report.CacheHitRate()),
		slog.Int64("total_milli", result.Report.TotalMilli))
	return nil
}

// setupLogging installs a text slog handler at the requested level on
// stderr, keeping stdout clean for the map itself.
func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
