// Package main is the boot binary of the hosted exokernel.
//
// It loads the configuration, boots the kernel with its physical memory
// and environment table, attaches the e1000 network card, starts the
// programs named in the configuration and serves the debug API. The
// kernel monitor reads commands from standard input.
//
// Configuration:
//   - Environment variables (KERNEL_NENV, NIC_BRIDGE_LISTEN, SERVER_ADDR, ...)
//   - An optional YAML file (-config) overlaid on the environment
//   - CLI flags (override both)
//
// Usage:
//
//	# Boot and run the echo server on a UDP wire
//	NIC_BRIDGE_LISTEN=127.0.0.1:9000 ./kernel -run netecho
//
//	# Development mode (colored logs, debug level), no monitor
//	./kernel -dev -monitor=false -run hello,primes
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
