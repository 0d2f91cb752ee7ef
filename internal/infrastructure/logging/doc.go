// Package logging provides structured logging using uber/zap.
//
// This package offers two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Logs are written to stderr by default because stdout carries the kernel
// console, which is user output and not a log.
//
// Log Levels:
//   - Debug: individual syscalls and scheduling decisions
//   - Info: boot progress, environment creation and exit
//   - Warn: user faults and bad user pointers
//   - Error: device attach failures and kernel invariant breaks
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Kernel booting", zap.Int("npages", 4096))
//	logger.Warn("User fault", logging.Hex("env", uint32(id)), logging.Hex("va", va))
package logging
