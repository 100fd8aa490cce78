// Package config holds the runtime tunables of the pixel pipeline and the
// buffer allocator.
package config

import (
	"os"
	"runtime"
	"strconv"
)

const (
	// DefaultMemoryBudget bounds the bytes held by live bitmap buffers.
	DefaultMemoryBudget = 1 << 30

	// DefaultMinRowsPerTask is the smallest row range given to one worker.
	DefaultMinRowsPerTask = 16
)

type Config struct {
	// MaxProcessorFraction is the share of runtime.NumCPU() a single filter
	// invocation may occupy, in (0, 1].
	MaxProcessorFraction float64

	// MemoryBudget is the allocator limit in bytes; <= 0 means unlimited.
	MemoryBudget int64

	MinRowsPerTask int
}

// Default returns the platform-tuned configuration.
func Default() Config {
	return Config{
		MaxProcessorFraction: defaultProcessorFraction,
		MemoryBudget:         DefaultMemoryBudget,
		MinRowsPerTask:       DefaultMinRowsPerTask,
	}
}

// FromEnv returns Default overlaid with IMAGECORE_MAX_CPU_FRACTION,
// IMAGECORE_MEMORY_BUDGET and IMAGECORE_MIN_ROWS. Unparsable values are
// ignored.
func FromEnv() Config {
	c := Default()
	if s := os.Getenv("IMAGECORE_MAX_CPU_FRACTION"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
			c.MaxProcessorFraction = f
		}
	}
	if s := os.Getenv("IMAGECORE_MEMORY_BUDGET"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			c.MemoryBudget = n
		}
	}
	if s := os.Getenv("IMAGECORE_MIN_ROWS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			c.MinRowsPerTask = n
		}
	}
	return c
}

// Workers returns how many goroutines one filter invocation may use.
// It is never less than one.
func (c Config) Workers() int {
	f := c.MaxProcessorFraction
	if f <= 0 || f > 1 {
		f = defaultProcessorFraction
	}
	n := int(float64(runtime.NumCPU()) * f)
	if n < 1 {
		n = 1
	}
	return n
}

// RowsPerTask returns the row range size for a buffer of the given height.
func (c Config) RowsPerTask(height int) int {
	lo := c.MinRowsPerTask
	if lo < 1 {
		lo = 1
	}
	n := (height + c.Workers() - 1) / c.Workers()
	if n < lo {
		n = lo
	}
	return n
}
