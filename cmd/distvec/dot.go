package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/distvec/partition"
	"github.com/unixpickle/essentials"
)

var dotSize int

var dotCmd = &cobra.Command{
	Use:   "dot",
	Short: "Compare a distributed dot product against a serial one",
	Args:  cobra.NoArgs,
	RunE:  runDot,
}

func init() {
	dotCmd.Flags().IntVar(&dotSize, "size", 1000000, "vector length")
}

func runDot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := newPool(cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	x := linalg.NewVector(dotSize)
	y := linalg.NewVector(dotSize)
	for i := range x.Data {
		x.Data[i] = rand.NormFloat64()
		y.Data[i] = rand.NormFloat64()
	}

	start := time.Now()
	expected := linalg.Dot(x.Data, y.Data)
	serialTime := time.Since(start)

	start = time.Now()
	actual, err := pool.Dot(cmd.Context(), x, y)
	if err != nil {
		return err
	}
	distTime := time.Since(start)

	var largest int
	for _, r := range partition.All(dotSize, cfg.Workers) {
		largest = essentials.MaxInt(largest, r.Len())
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "workers:     %d (largest partition %d)\n", cfg.Workers, largest)
	fmt.Fprintf(out, "serial:      %.10g (%v)\n", expected, serialTime)
	fmt.Fprintf(out, "distributed: %.10g (%v)\n", actual, distTime)
	fmt.Fprintf(out, "difference:  %g\n", math.Abs(expected-actual))
	return nil
}
