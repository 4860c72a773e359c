package util

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHashString(t *testing.T) {
	if HashString("key", 1) != HashString("key", 1) {
		t.Error("HashString must be deterministic")
	}
	if HashString("key", 1) == HashString("key", 2) {
		t.Error("HashString should depend on the seed")
	}
	if HashString("key-a", 1) == HashString("key-b", 1) {
		t.Error("HashString should depend on the input")
	}
}

func TestShardIndexDistribution(t *testing.T) {
	const (
		numShards = 8
		numKeys   = 80000
	)

	seed := GenerateSeed()
	sizes := make([]float64, numShards)
	for i := 0; i < numKeys; i++ {
		idx := ShardIndex(HashString(fmt.Sprintf("key-%d", i), seed), numShards)
		if idx < 0 || idx >= numShards {
			t.Fatalf("shard index %d out of range", idx)
		}
		sizes[idx]++
	}

	stats := NewDistributionStats(sizes)
	if stats.DistributionQuality < 0.9 {
		t.Errorf("expected an even distribution, got quality %.3f (%v)", stats.DistributionQuality, sizes)
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]int{"b": 2, "c": 3, "a": 1})
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("unexpected keys (-want +got):\n%s", diff)
	}
}

func TestCopyBytes(t *testing.T) {
	src := []byte("value")
	dst := CopyBytes(src)
	dst[0] = 'X'
	if string(src) != "value" {
		t.Error("CopyBytes must not share memory with its input")
	}
	if c := CopyBytes(nil); c == nil || len(c) != 0 {
		t.Errorf("CopyBytes(nil) should return an empty non-nil slice, got %#v", c)
	}
}

func TestNewStats(t *testing.T) {
	stats := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	want := Stats{StdDeviation: 2, Min: 2, Max: 9, Mean: 5, MinMaxRatio: 2.0 / 9.0}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("unexpected stats (-want +got):\n%s", diff)
	}

	if (NewStats(nil) != Stats{}) {
		t.Error("stats of no values should be zero")
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()

	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Error("empty histogram should report zero sizes")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(10) // first bucket
	}
	for i := 0; i < 10; i++ {
		h.AddSample(2000) // (1024, 4096]
	}

	if h.Count() != 100 {
		t.Errorf("expected 100 samples, got %d", h.Count())
	}
	if got := h.MedianEstimate(); got != 8 {
		t.Errorf("expected median estimate 8, got %d", got)
	}
	if got := h.PercentileEstimate(100); got != (1024+4096)/2 {
		t.Errorf("expected max estimate %d, got %d", (1024+4096)/2, got)
	}
	if got := h.AverageSize(); got != (90*10+10*2000)/100 {
		t.Errorf("unexpected average %d", got)
	}

	h.Reset()
	if h.Count() != 0 {
		t.Error("Reset should clear all samples")
	}
}
