// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd provides the tusk CLI commands.
package cmd

import (
	"os"

	"github.com/uploadkit/tusk/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "tusk",
	Short: "Tusk - a resumable upload server",
	Long: `Tusk is a standalone server implementing the tus v1.0.0 resumable
upload protocol: clients upload a file's bytes across multiple HTTP
requests, interrupted and resumed at exact byte offsets, with
concatenation, expiration, checksums and termination on top.`,
	PersistentPreRun: loadConfiguration,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level (trace, debug, info, warn, error)")
}

func loadConfiguration(cmd *cobra.Command, args []string) {
	viper.SetConfigName("tusk")
	viper.AddConfigPath(configDir)
	viper.SetEnvPrefix("TUSK")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			logger.Warn().Err(err).Msg("failed to read configuration file")
		}
	}

	level, _ := cmd.Flags().GetString("log_level")
	if lvl, err := zerolog.ParseLevel(level); err != nil {
		logger.Warn().Err(err).Str("level", level).Msg("invalid log level, keeping default")
	} else {
		logger.SetLevel(lvl)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
