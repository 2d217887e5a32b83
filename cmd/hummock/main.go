// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// The hummock command inspects hummock stores and traces and benchmarks the
// store.
package main

import (
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/tool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	optionsPath string
	verbose     bool
)

// opts is shared by every command. It is filled in from the command line
// before a command runs.
var opts = &hummock.Options{}

var rootCmd = &cobra.Command{
	Use:   "hummock [command] (flags)",
	Short: "hummock benchmarking/introspection tool",
	Long:  ``,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadOptions()
	},
}

// loadOptions reads the options file, if any, and installs a zap logger.
func loadOptions() error {
	o := &hummock.Options{}
	if optionsPath != "" {
		data, err := os.ReadFile(optionsPath)
		if err != nil {
			return err
		}
		if o, err = hummock.ParseOptionsYAML(data); err != nil {
			return errors.Wrapf(err, "parsing %s", optionsPath)
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	o.Logger = base.NewZapLogger(logger)
	*opts = *o
	return nil
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	t := tool.New(opts)
	rootCmd.AddCommand(t.Commands...)
	rootCmd.AddCommand(benchCmd)

	rootCmd.PersistentFlags().StringVar(
		&optionsPath, "options", "", "YAML file of store options")
	rootCmd.PersistentFlags().BoolVar(
		&verbose, "log-info", false, "log at info level rather than warning")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
