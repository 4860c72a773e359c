package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/konceiver/dockv/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dockv stores",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is a single perf test. prefill stores all keys before the timer starts.
type benchmark struct {
	name    string
	prefill bool
	op      func(ctx context.Context, key string, i int)
}

func benchmarks() []benchmark {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	return []benchmark{
		{name: "put", op: func(ctx context.Context, key string, _ int) {
			kvStore.Put(ctx, key, value)
		}},
		{name: "put-large", op: func(ctx context.Context, key string, _ int) {
			kvStore.Put(ctx, key, largeValue)
		}},
		{name: "get", prefill: true, op: func(ctx context.Context, key string, _ int) {
			kvStore.Get(ctx, key)
		}},
		{name: "has", prefill: true, op: func(ctx context.Context, key string, _ int) {
			kvStore.Has(ctx, key)
		}},
		{name: "has-not", op: func(ctx context.Context, key string, _ int) {
			kvStore.Has(ctx, key+"-absent")
		}},
		{name: "forget", prefill: true, op: func(ctx context.Context, key string, _ int) {
			kvStore.Forget(ctx, key)
		}},
		{name: "pull", prefill: true, op: func(ctx context.Context, key string, _ int) {
			kvStore.Pull(ctx, key)
		}},
		{name: "mixed", prefill: true, op: func(ctx context.Context, key string, i int) {
			switch i % 4 {
			case 0:
				kvStore.Put(ctx, key, value)
			case 1:
				kvStore.Get(ctx, key)
			case 2:
				kvStore.Forget(ctx, key)
			case 3:
				kvStore.Has(ctx, key)
			}
		}},
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Performance testing tool for dockv stores")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Connection: %s\n", viper.GetString("connection"))
	fmt.Fprintf(out, "Threads: %d\n", perfNumThreads)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "starting tests...")

	var names []string
	results := make(map[string]testing.BenchmarkResult)

	for _, bm := range benchmarks() {
		result := testing.Benchmark(func(b *testing.B) {
			if slices.Contains(perfSkip, bm.name) {
				return
			}

			keys := perfKeys(bm.name)
			if bm.prefill {
				for _, k := range keys {
					kvStore.Put(ctx, k, []byte("test"))
				}
			}
			b.Cleanup(func() { kvStore.ForgetMany(ctx, keys) })

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for i := 0; pb.Next(); i++ {
					bm.op(ctx, keys[i%len(keys)], i)
				}
			})
		})

		names = append(names, bm.name)
		results[bm.name] = result
		printResult(out, bm.name, result)
	}

	if err := kvStore.LastError(); err != nil {
		fmt.Fprintf(os.Stderr, "\nlast error: %v\n", err)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Fprintf(out, "\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, names, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Fprintln(out, "Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// perfKeys returns the keys of one test
func perfKeys(test string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, test, i)
	}
	return keys
}

// opsPerSec returns ns/op and op/s of a result, zero for skipped tests
func opsPerSec(result testing.BenchmarkResult) (float64, float64) {
	if result.NsPerOp() == 0 {
		return 0, 0
	}
	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	return nsPerOp, 1.0 / (nsPerOp / 1e9)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(w io.Writer, test string, result testing.BenchmarkResult) {
	nsPerOp, ops := opsPerSec(result)
	if nsPerOp == 0 {
		fmt.Fprintf(w, "%-20sskipped\n", test)
		return
	}
	fmt.Fprintf(w, "%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), ops)
}

// writeResultsToCSV writes benchmark results to a CSV file in test order
func writeResultsToCSV(csvPath string, names []string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Connection", "Retries", "Concurrency",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range names {
		nsPerOp, ops := opsPerSec(results[test])

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", ops),
			strconv.FormatBool(nsPerOp == 0),
			viper.GetString("connection"),
			strconv.Itoa(viper.GetInt("retries")),
			strconv.Itoa(viper.GetInt("concurrency")),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
