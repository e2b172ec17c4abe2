// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package cmd

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nnetkit/richard/loader"
)

const genSampleCount = 10000

var genCmd = &cobra.Command{
	Use:   "gen APPTYPE",
	Short: "Generate synthetic labelled samples for a known application type",
	Args:  cobra.ExactArgs(1),
	RunE:  runGen,
}

func runGen(cmd *cobra.Command, args []string) error {
	log, closeLog := setUpLogging()
	defer closeLog()

	appType := args[0]

	f, err := os.Open(networkPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", networkPath, err)
	}
	r := bufio.NewReader(f)
	root, _, err := readArtifactHeader(r)
	f.Close()
	if err != nil {
		return err
	}
	dataConfig, err := root.Child("data")
	if err != nil {
		return err
	}
	details, err := loader.ParseDataDetails(dataConfig)
	if err != nil {
		return err
	}

	out, err := os.Create(samplesPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", samplesPath, err)
	}
	defer out.Close()

	count := genSampleCount
	switch appType {
	case "gender":
		err = genGender(out)
		count = 2 * genSampleCount
	default:
		err = genGeneric(out, details)
	}
	if err != nil {
		return fmt.Errorf("generating %s samples: %w", appType, err)
	}

	log.Infof("wrote %d synthetic samples to %s", count, samplesPath)
	return nil
}

// genGender replicates the original reference data generator: paired
// height (m) and weight (kg) samples for two classes, each drawn from
// its own Gaussian.
func genGender(w *os.File) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	maleHeight := distuv.Normal{Mu: 1.75, Sigma: 0.10}
	maleWeight := distuv.Normal{Mu: 80.1, Sigma: 11.2}
	femaleHeight := distuv.Normal{Mu: 1.56, Sigma: 0.08}
	femaleWeight := distuv.Normal{Mu: 67.5, Sigma: 9.3}

	for i := 0; i < genSampleCount; i++ {
		if err := cw.Write([]string{"M", fstr(maleHeight.Rand()), fstr(maleWeight.Rand())}); err != nil {
			return err
		}
		if err := cw.Write([]string{"F", fstr(femaleHeight.Rand()), fstr(femaleWeight.Rand())}); err != nil {
			return err
		}
	}
	return nil
}

// genGeneric generates samples of the shape and class list named by
// details, uniformly over the declared classes, each scalar drawn
// from a Gaussian centered in the configured normalization range.
func genGeneric(w *os.File, details loader.DataDetails) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	n := details.Shape.Size()
	mid := (details.Normalization.Min + details.Normalization.Max) / 2
	spread := (details.Normalization.Max - details.Normalization.Min) / 6
	dist := distuv.Normal{Mu: float64(mid), Sigma: float64(spread)}

	classes := details.ClassLabels
	if len(classes) == 0 {
		classes = []string{"_"}
	}

	for i := 0; i < genSampleCount; i++ {
		row := make([]string, n+1)
		row[0] = classes[rand.IntN(len(classes))]
		for j := 0; j < n; j++ {
			row[j+1] = fstr(dist.Rand())
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func fstr(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func init() {
	genCmd.Flags().StringVar(&samplesPath, "samples", "", "Path to write generated samples to")
	genCmd.Flags().StringVar(&networkPath, "network", "", "Path to a trained network artifact whose data config describes the sample shape")
	_ = genCmd.MarkFlagRequired("samples")
	_ = genCmd.MarkFlagRequired("network")
}
