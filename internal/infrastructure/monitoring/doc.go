/*
Package monitoring provides Prometheus metrics for the kernel.

# Overview

Every kernel boundary that user code or the device crosses is counted:
system calls by name and result, page faults by outcome, IPC send
attempts, environment lifecycle, ring traffic and the steady-state
full/empty conditions pollers spin on.

# Features

- Per-instance registry (tests may create many kernels)
- Syscall and page-fault counters labelled by result
- Physical memory and environment gauges
- NIC packet/byte counters and queue-event counters
- Introspection API request metrics via Gin middleware
- Uptime gauge computed on scrape

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	metrics.RecordSyscall("sys_page_alloc", "ok")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
