package config

// the unified-memory machines keep up with every core busy
const defaultProcessorFraction = 1.0
