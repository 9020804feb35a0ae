// Ember is a single-host inference gateway. It multiplexes OpenAI-compatible
// HTTP requests across a pool of locally-spawned backend model processes,
// starting and stopping them on demand so that many more models can be
// configured than could ever run concurrently on one machine.
//
// Usage:
//
//	# Start the gateway with default configuration
//	ember run
//
//	# Start with a custom configuration file
//	ember run --config /path/to/config.yaml
//
//	# Show version information
//	ember version
//
//	# Validate configuration without starting the gateway
//	ember run --dry-run
package main

func main() {
	Execute()
}
