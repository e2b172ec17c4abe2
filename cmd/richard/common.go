// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package cmd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/nnetkit/richard/config"
	_ "github.com/nnetkit/richard/driver/vk"
	"github.com/nnetkit/richard/event"
	"github.com/nnetkit/richard/gpu"
	"github.com/nnetkit/richard/loader"
	"github.com/nnetkit/richard/network"
)

// shaderDir is where the GPU back-end expects to find compiled
// SPIR-V modules for the layer engine's shader set.
const shaderDir = "shaders"

// readConfigFile parses a JSON configuration file into both a typed
// config.Config tree and the raw bytes (the latter persisted verbatim
// inside the trained artifact, per spec.md §6.1).
func readConfigFile(path string) (config.Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("reading config: %w", err)
	}
	c, err := config.Parse(data)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("parsing config: %w", err)
	}
	return c, data, nil
}

// dataSetConfig collects the pieces of the configuration tree needed
// to build a data set and a network topology.
type dataSetConfig struct {
	details   loader.DataDetails
	fetchSize int
	topology  network.Topology
}

func parseDataSetConfig(root config.Config) (dataSetConfig, error) {
	dataConfig, err := root.Child("data")
	if err != nil {
		return dataSetConfig{}, err
	}
	details, err := loader.ParseDataDetails(dataConfig)
	if err != nil {
		return dataSetConfig{}, err
	}

	loaderConfig, err := root.Child("dataLoader")
	if err != nil {
		return dataSetConfig{}, err
	}
	fetchSize, err := loaderConfig.Int("fetchSize")
	if err != nil {
		return dataSetConfig{}, err
	}

	classifierConfig, err := root.Child("classifier")
	if err != nil {
		return dataSetConfig{}, err
	}
	netConfig, err := classifierConfig.Child("network")
	if err != nil {
		return dataSetConfig{}, err
	}
	topology, err := network.ParseTopology(netConfig, details.Shape)
	if err != nil {
		return dataSetConfig{}, err
	}

	return dataSetConfig{details: details, fetchSize: fetchSize, topology: topology}, nil
}

// openDataSet builds a loader.LabelledDataSet over path: a directory
// is treated as a per-class image tree, anything else as a CSV file.
func openDataSet(path string, details loader.DataDetails) (loader.LabelledDataSet, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening samples: %w", err)
	}
	if info.IsDir() {
		ds, err := loader.NewImageDirectory(path, details)
		if err != nil {
			return nil, nil, err
		}
		return ds, func() {}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening samples: %w", err)
	}
	return loader.NewCSV(f, details), func() { f.Close() }, nil
}

// readArtifactHeader reads the configByteLength prefix and the raw
// JSON configuration it names, leaving r positioned at the first
// parameter byte.
func readArtifactHeader(r *bufio.Reader) (config.Config, []byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return config.Config{}, nil, fmt.Errorf("reading artifact header: %w", err)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return config.Config{}, nil, fmt.Errorf("reading artifact config: %w", err)
	}
	c, err := config.Parse(raw)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("parsing artifact config: %w", err)
	}
	return c, raw, nil
}

// buildNetwork constructs a network either fresh (params == nil) or
// restored from params, on the CPU or on a freshly opened GPU runtime
// depending on useGPU.
func buildNetwork(top network.Topology, params io.Reader, gpuFlag bool) (*network.Network, *gpu.Runtime, error) {
	if !gpuFlag {
		n, err := network.New(top, params)
		return n, nil, err
	}
	rt, err := gpu.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening gpu runtime: %w", err)
	}
	n, err := network.NewGPU(top, params, rt, shaderDir)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return n, rt, nil
}

// logProgress wires logrus-backed progress reporting onto bus, in the
// density the training loop's events allow: one line per epoch
// boundary, nothing per-sample.
func logProgress(bus *event.Bus, log *logrus.Logger) {
	bus.Listen(event.EpochStartedID, func(e event.Event) {
		ev := e.(event.EpochStarted)
		log.Infof("epoch %d/%d started", ev.Epoch+1, ev.Total)
	})
	bus.Listen(event.EpochCompletedID, func(e event.Event) {
		ev := e.(event.EpochCompleted)
		log.Infof("epoch %d/%d complete, cost=%.6f", ev.Epoch+1, ev.Total, ev.Cost)
	})
}
