// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nnetkit/richard/classify"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a trained network against labelled samples",
	RunE:  runEval,
}

func runEval(cmd *cobra.Command, args []string) error {
	log, closeLog := setUpLogging()
	defer closeLog()

	f, err := os.Open(networkPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", networkPath, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	root, rawConfig, err := readArtifactHeader(r)
	if err != nil {
		return err
	}
	dsConfig, err := parseDataSetConfig(root)
	if err != nil {
		return err
	}

	net, rt, err := buildNetwork(dsConfig.topology, r, useGPU)
	if err != nil {
		return err
	}
	if rt != nil {
		defer rt.Close()
	}

	data, closeData, err := openDataSet(samplesPath, dsConfig.details)
	if err != nil {
		return err
	}
	defer closeData()

	c := classify.New(net, rawConfig)
	results, err := c.Test(data, dsConfig.fetchSize)
	if err != nil {
		return fmt.Errorf("evaluating: %w", err)
	}

	log.Infof("good=%d bad=%d cost=%.6f", results.Good, results.Bad, results.Cost)
	return nil
}

func init() {
	evalCmd.Flags().StringVar(&samplesPath, "samples", "", "Path to the evaluation samples (CSV file or image directory)")
	evalCmd.Flags().StringVar(&networkPath, "network", "", "Path to the trained network to evaluate")
	evalCmd.Flags().BoolVar(&useGPU, "gpu", false, "Evaluate on the GPU back-end")
	_ = evalCmd.MarkFlagRequired("samples")
	_ = evalCmd.MarkFlagRequired("network")
}
