// Package http exposes the kernel over a debug HTTP API.
//
// Endpoints:
//
//	GET    /health                       health and boot identity
//	GET    /api/v1/envs                  environment table
//	GET    /api/v1/envs/:id              one environment (hex id)
//	GET    /api/v1/envs/:id/mappings     page mappings, ?start=&end= in hex
//	DELETE /api/v1/envs/:id              destroy an environment
//	GET    /api/v1/mem                   physical memory usage
//	GET    /api/v1/net                   ring and device counters
//	POST   /api/v1/net/inject            deliver a hex-encoded frame to the NIC
//	GET    /api/v1/metrics               metric counters as JSON
//	GET    /metrics                      Prometheus exposition
//	GET    /ws/console                   console stream; text sent is keyboard input
//
// Every JSON response carries "success"; failures add "error".
package http
