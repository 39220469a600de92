// Package config holds the concurrency configuration for exercising a queue.
// It lives outside internal/ so other programs can import the configuration
// without pulling in the entire testbench package.
package config

// Config describes one producer/consumer concurrency setting.
type Config struct {
	NumProducers int
	NumConsumers int
}
