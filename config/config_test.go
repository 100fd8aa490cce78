package config

import (
	"runtime"
	"testing"
)

func TestWorkersBounds(t *testing.T) {
	c := Default()
	c.MaxProcessorFraction = 0.0001
	if c.Workers() != 1 {
		t.Fatalf("workers = %d, want 1", c.Workers())
	}
	c.MaxProcessorFraction = 1
	if c.Workers() != runtime.NumCPU() {
		t.Fatalf("workers = %d, want %d", c.Workers(), runtime.NumCPU())
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("IMAGECORE_MAX_CPU_FRACTION", "0.5")
	t.Setenv("IMAGECORE_MEMORY_BUDGET", "4096")
	t.Setenv("IMAGECORE_MIN_ROWS", "bogus")

	c := FromEnv()
	if c.MaxProcessorFraction != 0.5 {
		t.Fatalf("fraction = %v", c.MaxProcessorFraction)
	}
	if c.MemoryBudget != 4096 {
		t.Fatalf("budget = %v", c.MemoryBudget)
	}
	if c.MinRowsPerTask != DefaultMinRowsPerTask {
		t.Fatalf("invalid env value was not ignored: %d", c.MinRowsPerTask)
	}
}

func TestRowsPerTask(t *testing.T) {
	c := Config{MaxProcessorFraction: 1, MinRowsPerTask: 8}
	if n := c.RowsPerTask(4); n != 8 {
		t.Fatalf("rows per task = %d, want 8", n)
	}
}
