// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nnetkit/richard/classify"
	"github.com/nnetkit/richard/event"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a network from labelled samples and write it to disk",
	RunE:  runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	log, closeLog := setUpLogging()
	defer closeLog()

	root, rawConfig, err := readConfigFile(configPath)
	if err != nil {
		return err
	}
	dsConfig, err := parseDataSetConfig(root)
	if err != nil {
		return err
	}

	data, closeData, err := openDataSet(samplesPath, dsConfig.details)
	if err != nil {
		return err
	}
	defer closeData()

	net, rt, err := buildNetwork(dsConfig.topology, nil, useGPU)
	if err != nil {
		return err
	}
	if rt != nil {
		defer rt.Close()
	}

	watchAbort(net)

	var bus event.Bus
	logProgress(&bus, log)

	c := classify.New(net, rawConfig)
	if err := c.Train(data, &bus, dsConfig.fetchSize); err != nil {
		return fmt.Errorf("training: %w", err)
	}

	out, err := os.Create(networkPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", networkPath, err)
	}
	defer out.Close()

	if err := c.WriteToStream(out); err != nil {
		return fmt.Errorf("writing %s: %w", networkPath, err)
	}
	log.Infof("wrote trained network to %s", networkPath)
	return nil
}

func init() {
	trainCmd.Flags().StringVar(&configPath, "config", "", "Path to the JSON training configuration")
	trainCmd.Flags().StringVar(&samplesPath, "samples", "", "Path to the training samples (CSV file or image directory)")
	trainCmd.Flags().StringVar(&networkPath, "network", "", "Path to write the trained network to")
	trainCmd.Flags().BoolVar(&useGPU, "gpu", false, "Train on the GPU back-end")
	_ = trainCmd.MarkFlagRequired("config")
	_ = trainCmd.MarkFlagRequired("samples")
	_ = trainCmd.MarkFlagRequired("network")
}
