// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package cmd implements the richard CLI: train, eval and gen
// subcommands over the classify/network/loader stack, wired through
// cobra and logrus per the project's ambient command-line idiom.
package cmd

import (
	"bufio"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nnetkit/richard/network"
)

var (
	samplesPath string
	networkPath string
	configPath  string
	logPath     string
	useGPU      bool
)

var rootCmd = &cobra.Command{
	Use:   "richard",
	Short: "Train and evaluate small neural networks from the command line",
}

// Execute runs the root command, exiting the process with status 1
// on any failure per spec.md §6.5.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setUpLogging opens logPath (if given) as the destination for
// structured logging; an unset --log logs to stderr.
func setUpLogging() (*logrus.Logger, func()) {
	log := logrus.New()
	if logPath == "" {
		return log, func() {}
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Errorf("opening log file %s: %v, logging to stderr", logPath, err)
		return log, func() {}
	}
	log.SetOutput(f)
	return log, func() { f.Close() }
}

// watchAbort starts a goroutine that reads single bytes from stdin
// and calls net.Abort() the moment it sees 'q', per spec.md §6.5 and
// §5's graceful-abort checkpoint. It returns immediately; the
// goroutine exits when stdin is closed.
func watchAbort(net *network.Network) {
	go func() {
		r := bufio.NewReader(os.Stdin)
		for {
			b, err := r.ReadByte()
			if err != nil {
				return
			}
			if b == 'q' {
				net.Abort()
				return
			}
		}
	}()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Write logs to this file instead of stderr")
	rootCmd.AddCommand(trainCmd, evalCmd, genCmd)
}
