package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"github.com/unixpickle/distvec/batch"
	"github.com/unixpickle/distvec/config"
	"github.com/unixpickle/distvec/coord"
	"github.com/unixpickle/distvec/linalg"
	"github.com/unixpickle/essentials"
	"go.uber.org/zap"
)

var benchTrials int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare primitive and batch operations as a markdown table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		base, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := base.Logger()
		if err != nil {
			return err
		}
		defer logger.Sync()
		runBench(cmd.Context(), cmd.OutOrStdout(), logger, essentials.MaxInt(1, benchTrials))
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchTrials, "trials", 3, "round trips averaged per cell")
}

// RunInfo describes a specific pool configuration.
type RunInfo struct {
	NumWorkers int
	Latency    time.Duration
	Rate       float64
}

// Config creates a goroutine pool configuration for the
// run.
func (r *RunInfo) Config() *config.Config {
	cfg := config.Default()
	cfg.Workers = r.NumWorkers
	cfg.Network.MaxLatency = r.Latency
	cfg.Network.Rate = r.Rate
	return cfg
}

// A benchmark computes alpha*A*B + beta*C on a pool.
type benchmark func(ctx context.Context, pool *coord.Coordinator, a, b, c *linalg.Matrix) error

func runBench(ctx context.Context, w io.Writer, logger *zap.Logger, trials int) {
	benchmarks := []benchmark{primitiveGemm, batchGemm}
	benchNames := []string{"Primitive", "Batch"}
	runs := []RunInfo{
		{
			NumWorkers: 2,
			Latency:    0,
			Rate:       0,
		},
		{
			NumWorkers: 4,
			Latency:    time.Millisecond,
			Rate:       1e9,
		},
		{
			NumWorkers: 8,
			Latency:    time.Millisecond,
			Rate:       1e8,
		},
	}
	matSizes := []int{10, 100, 300}

	// Markdown table header.
	fmt.Fprint(w, "| Workers | Latency | Rate | Size ")
	for _, benchName := range benchNames {
		fmt.Fprintf(w, "| %s ", benchName)
	}
	fmt.Fprintln(w, "|")
	for i := 0; i < 4+len(benchmarks); i++ {
		fmt.Fprint(w, "|:--")
	}
	fmt.Fprintln(w, "|")

	// Markdown table body.
	for _, runInfo := range runs {
		pool, err := newPool(runInfo.Config(), logger)
		essentials.Must(err)
		for _, size := range matSizes {
			fmt.Fprintf(w, "| %d | %v | %s | %d ", runInfo.NumWorkers, runInfo.Latency,
				formatRate(runInfo.Rate), size)
			a, b, c := randomMatrix(size), randomMatrix(size), randomMatrix(size)
			for _, bench := range benchmarks {
				start := time.Now()
				for i := 0; i < trials; i++ {
					essentials.Must(bench(ctx, pool, a, b, c))
				}
				fmt.Fprintf(w, "| %v ", time.Since(start)/time.Duration(trials))
			}
			fmt.Fprintln(w, "|")
		}
		pool.Close()
	}
}

// primitiveGemm uses one round trip for the product and
// another for the linear combination.
func primitiveGemm(ctx context.Context, pool *coord.Coordinator, a, b, c *linalg.Matrix) error {
	prod, err := pool.MatMul(ctx, a, b)
	if err != nil {
		return err
	}
	_, err = batch.LinCombMatrix(ctx, pool, []float64{2, 1}, prod, c)
	return err
}

func batchGemm(ctx context.Context, pool *coord.Coordinator, a, b, c *linalg.Matrix) error {
	_, err := batch.Gemm(ctx, pool, 2, a, b, 1, c)
	return err
}

func formatRate(rate float64) string {
	if rate == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%.0E", rate)
}

func randomMatrix(size int) *linalg.Matrix {
	res := linalg.NewMatrix(size, size)
	for i := range res.Data {
		res.Data[i] = rand.NormFloat64()
	}
	return res
}
