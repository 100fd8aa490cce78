//go:build !darwin

package config

// leave headroom for the rendering thread
const defaultProcessorFraction = 0.75
